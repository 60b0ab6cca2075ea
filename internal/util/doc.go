// Package util holds small generic containers used across the module
package util
