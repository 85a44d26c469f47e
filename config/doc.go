// Package config handles loading and parsing of configuration from YAML files
// and environment variables. It defines the application configuration
// structure: server settings, the backend registry with its initial A/B
// weights, invocation timeouts, circuit breaking, health probing and rate
// limiting.
package config
