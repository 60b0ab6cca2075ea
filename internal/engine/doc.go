// Package engine executes flows step by step, recording every transition
// through the trace store
package engine
