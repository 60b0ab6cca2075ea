// Package conduit runs webhook-triggered flows of isolated steps and
// records every run in a Redis-backed trace store
package conduit

const (
	Name    = "conduit"
	Version = "0.1.0"
)
