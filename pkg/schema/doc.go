// Package schema validates trigger payloads before a flow is invoked
package schema
