// Package config loads application configuration from an optional YAML file
// and GATEHOUSE_* environment variables. Environment variables always win
// over file values.
package config
