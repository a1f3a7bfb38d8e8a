// Package config loads runtime configuration from a JSON or YAML file with
// RIFT_* environment overrides, and converts it into the option structs of
// the individual subsystems.
package config
