// Package dblock serializes tests that share one external Postgres database
// across test binaries.
package dblock

import (
	"net"
	"testing"
	"time"
)

const lockAddr = "127.0.0.1:45433"

// Acquire blocks until the lock is free and releases it when tb finishes.
func Acquire(tb testing.TB) {
	tb.Helper()
	for {
		ln, err := net.Listen("tcp", lockAddr)
		if err == nil {
			tb.Cleanup(func() { ln.Close() })
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}
