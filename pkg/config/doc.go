// Package config loads application configuration from GATEHOUSE_* environment
// variables and validates it before startup.
package config
