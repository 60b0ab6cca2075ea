// Package api defines the data exchanged between the engine, isolated steps,
// the trace store, and HTTP clients
//
// This package contains the running context threaded through a flow, the
// persisted run and step traces, trigger metadata, and the request and
// response messages served by the API
package api
