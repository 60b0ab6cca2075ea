// Package watch turns trace store polling into a stream of run events
// that any number of consumers can follow
package watch
