// Package archive copies finished runs to blob storage and optionally
// evicts them from the trace store
package archive
