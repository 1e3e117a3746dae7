// Package storage holds the content-addressed document store used by homes
// for profile documents, plus the shared storage errors.
//
// Backends live in subpackages (localfs) or in this package (MemoryCAS), and
// are selected at runtime through storage/registry.
package storage
