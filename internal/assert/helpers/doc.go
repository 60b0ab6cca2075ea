// Package helpers provides shared fixtures for tests across the module
package helpers
