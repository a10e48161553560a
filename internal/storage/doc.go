// Package storage holds cross-backend helpers for artifact persistence. The
// concrete stores live in the local, gcs and memory subpackages.
package storage
