// Package store wraps the external tools that own local content storage and
// artifact transfer: existence checks, adding derivations, realising them,
// and copying artifacts to and from the relay's binary cache.
package store
