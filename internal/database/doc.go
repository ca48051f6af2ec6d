// Package database stores the outcome of every fetch in a SQLite transfer
// log (modernc.org/sqlite, no cgo). One row per fetch records the slot,
// status, size, flags, latency, error kind and a SHA3-256 digest of the
// body, so repeated crawls can be compared without keeping bodies.
package database
