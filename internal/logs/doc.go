// Package logs tails the daemon's log file for the CLI.
//
// The daemon writes a timestamped log per run and repoints medley.log in
// the log directory at the current one. Tail follows that pointer, so a
// follower keeps streaming across daemon restarts.
package logs
