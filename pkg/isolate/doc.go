// Package isolate runs step handlers behind a JSON-only message protocol
//
// The orchestrator never shares memory with a handler. It spawns a Unit,
// sends a "ping" frame, waits for "pong" (or a ready message), then sends
// the serialized RunContext. The unit answers with any number of console
// messages followed by exactly one terminal message: success, failure, or
// cancelled. Units may be goroutines (GoUnit, LuaUnit) or child processes
// (ProcessUnit); all of them speak the same frames
package isolate
