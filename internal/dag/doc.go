// Package dag holds the Node Set for one build invocation: an arena of
// derivations keyed by store path, shared by every concurrent build task.
//
// A key is claimed at most once. The task that claims it owns the build
// for that key and eventually finishes the node; every other task that
// reaches the same key links to it and waits for that outcome. Edges are
// recorded as they are discovered so a wait that would close a dependency
// cycle fails instead of deadlocking.
package dag
