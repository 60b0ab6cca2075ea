// Package config loads and validates process configuration from the
// environment
package config
