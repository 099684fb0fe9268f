// Package capability maps the named capabilities a company can enable on a
// support agent to the LLM tool declarations that implement them, and renders
// the agent system prompt from those capabilities.
package capability
