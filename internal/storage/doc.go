// Package storage persists finished transcripts. The postgres subpackage
// provides the durable implementation; MemoryStore serves tests and local
// development.
package storage
