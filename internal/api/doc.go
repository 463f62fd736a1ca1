// Package api defines the wire types served by the daemon's HTTP API and
// an HTTP client used by the CLI to talk to a running daemon.
//
// The daemon side lives in internal/daemon; this package holds the JSON
// payload shapes shared by both ends plus converters from the internal
// status structs so handlers and the client stay in lockstep.
package api
