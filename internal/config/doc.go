// Package config loads the service configuration from a YAML file, applies
// environment overrides and validates every section.
package config
