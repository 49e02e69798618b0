// Package redis keeps bot configuration records in Redis. Each record is a
// hash holding the fixed binary layout; updates are serialized by a
// per-address lock and committed only while the lock is still held.
package redis
