// Package trace persists flow run and step traces in Redis
//
// Entities are stored as JSON under namespaced keys of the form
// "<namespace...>:<id>". A Store lists only the entities directly inside its
// own namespace, so step traces stored under "flow:<run>:script" never appear
// as runs of "flow". New entities are discovered by polling, which works
// with any Redis deployment and needs no keyspace notifications
package trace
