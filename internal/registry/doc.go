// Package registry provides a tenant-keyed cache of lazily constructed
// values, used where a bare process-global client singleton would otherwise
// creep in. Entries are built on first use, shared until explicitly
// invalidated, and reconstructed after invalidation. Failed constructions are
// never cached.
package registry
