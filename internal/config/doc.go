// Package config loads, normalizes, and validates the TOML configuration
// for the medley daemon and CLI.
//
// Load resolves the config path (explicit flag, then
// ~/.config/medley/config.toml, then ./medley.toml), merges the file over
// repository defaults, expands ~ in every path field, and validates the
// result. A commented sample file is embedded for `medley config init`.
package config
