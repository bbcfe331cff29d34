// Package derivation is the graph model of the build system. A Derivation is
// one buildable node: a content-addressed key, its declared outputs, the keys
// of the derivations it depends on, and the verbatim bytes the resolver
// produced for it. Those bytes are what gets shipped to remote workers, so
// they are never re-serialized from the parsed form.
package derivation
