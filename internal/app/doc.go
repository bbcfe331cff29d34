// Package app wires configuration, logging and the build components into
// the two runnable programs: the client, which orchestrates a build and
// optionally hands off to a nix tool, and the worker, which serves builds
// for the relay.
package app
