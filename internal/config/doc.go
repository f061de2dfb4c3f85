// Package config provides centralized configuration management for the
// ChatGate runtime, loading a JSON file from disk and filling in sensible
// defaults for every subsystem. Secrets may be supplied inline or resolved
// from environment variables at startup.
package config
