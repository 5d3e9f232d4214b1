package redis

import (
	"context"
	"net"
	"testing"
	"time"

	"crypto-alerts/internal/retry"
)

// deadAddr returns a loopback address with nothing listening on it.
func deadAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestNewWithRetry_ExhaustsBootBudget(t *testing.T) {
	policy := retry.Policy{Base: time.Millisecond, Cap: 5 * time.Millisecond, MaxAttempts: 3}

	w, err := NewWithRetry(context.Background(), WriterConfig{Addr: deadAddr(t)}, policy)
	if err == nil {
		t.Fatal("expected an error for an unreachable server")
	}
	if w != nil {
		t.Error("writer should be nil after exhausted retries")
	}
}

func TestNewWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := retry.Policy{Base: time.Minute, Cap: time.Minute}
	start := time.Now()
	if _, err := NewWithRetry(ctx, WriterConfig{Addr: deadAddr(t)}, policy); err == nil {
		t.Fatal("expected an error with a cancelled context")
	}
	if time.Since(start) > 10*time.Second {
		t.Error("cancelled boot should not wait out the backoff")
	}
}
