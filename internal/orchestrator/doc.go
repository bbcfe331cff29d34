// Package orchestrator drives one client build invocation.
//
// The graph is resolved top-down from the requested reference and built
// bottom-up: for each node the orchestrator first looks for the output in
// the local store, then in the remote cache, then builds every dependency
// concurrently, and only then submits the node itself to the relay. A node
// the relay fails to build, or cannot be reached for, is built locally.
//
// Every key is handled at most once per invocation. A task that reaches a
// key already owned by another task waits for that task's outcome.
package orchestrator
