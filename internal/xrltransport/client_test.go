package xrltransport

import (
	"context"
	"testing"
	"time"
)

// Dial never errors at construction time, even against an address
// nothing is listening on: it attempts the connection once, records a
// failure instead of returning it, and retries the dial on first use,
// matching the "constructors don't fail" shape the rest of
// this module follows (resolvers and clients are built before their
// transports are known to be reachable).
func TestDialDoesNotBlockOrPanic(t *testing.T) {
	c := Dial("127.0.0.1:1")
	if c == nil {
		t.Fatal("Dial returned nil")
	}
	defer c.Close()
}

func TestPingFailsFastAgainstUnreachableAddress(t *testing.T) {
	c := Dial("127.0.0.1:1")
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.Ping(ctx); err == nil {
		t.Fatal("expected Ping against an unreachable address to fail")
	}
}

func TestStartTransactionReportsDialFailure(t *testing.T) {
	c := Dial("127.0.0.1:1")
	defer c.Close()

	done := make(chan error, 1)
	c.StartTransaction(context.Background(), "fea", func(_ uint32, err error) {
		done <- err
	})

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected StartTransaction against an unreachable address to report an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for StartTransaction reply")
	}
}
