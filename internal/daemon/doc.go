// Package daemon coordinates the long-running medley process and system
// integration points.
//
// It wires the engine pool, the supply feeder, the built-in player, and the
// root monitors into a single lifecycle with flock-based locking to prevent
// multiple instances. The daemon serves the HTTP API the CLI and external
// players talk to, reconciles media roots against filesystem reality, and
// prunes the play history on a daily schedule.
//
// Keep orchestration logic here: supply and playback mechanics live in their
// respective packages while the daemon focuses on startup, shutdown, and
// high level coordination.
package daemon
