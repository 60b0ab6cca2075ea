// Package trigger provides the triggers that start flow runs
package trigger
