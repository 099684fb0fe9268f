// Package config loads the AgentHub management server configuration from a
// JSON file, fills defaults relative to the file location and lets a small set
// of environment variables override deployment specific values.
package config
