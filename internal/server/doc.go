// Package server exposes the HTTP API: trigger endpoints, read access to
// run traces, and a WebSocket feed of run activity
package server
