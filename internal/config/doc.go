// Package config loads the nix-relay configuration file.
//
// The file is HCL. Expressions are evaluated with an `env` object holding
// the process environment, so values such as
//
//	server_url = env.NIX_RELAY_SERVER
//
// are resolved at load time. Every setting except server_url has a
// default; command-line flags may override the file after loading.
package config
