// Package worker runs the build side of the relay protocol: it connects,
// registers, builds each dispatched derivation with the local store,
// uploads the result to the shared cache and reports the outcome. Any
// connection failure restarts the whole cycle after a fixed backoff.
package worker
