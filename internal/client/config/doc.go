// Package config loads runtime configuration for the dropbin CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional YAML file selected with --config, or
//     $XDG_CONFIG_HOME/dropbin/config.yaml when it exists.
//  3. Command-line flags bound by the cli package, which override earlier
//     values.
//
// # YAML schema
//
// Intervals use timex.Duration, so values can be strings like "30s" or
// integer nanoseconds:
//
//	server_url: https://dropbin.example
//	public_base_url: https://dropb.in
//	access_token: eyJhbGciOi...
//	retention: 24h
//	pow_difficulty: 16
//	download_parallelism: 4
//	request_timeout: 30s
//	stagger: 50ms
//	verbose: false
package config
