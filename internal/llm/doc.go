// Package llm defines the chat-completion contract shared by the agent
// runtime and the provider adapters: messages, tool declarations, tool calls
// and the Client interface.
package llm
