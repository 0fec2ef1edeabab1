// Package cursor holds open scanner cursors.
//
// A cursor is created when a client opens a scan and removed when the scan
// is exhausted or the cursor has been idle for longer than the configured
// window. Every successful Get or Advance restarts the idle window.
//
// Two Store implementations are provided: MemoryStore, a concurrent map with
// lazy expiry on access plus a background sweeper, and RedisStore, which
// keeps cursors in Redis so several server instances can share them.
package cursor
