// Package flow composes named flows out of triggers and ordered steps
//
// Flows are declared with Define and the copy-on-write Builder, added to an
// explicit Registry, and activated once at process start. Activation binds
// every trigger to the HTTP router and to the Invoker that runs the flow
package flow
