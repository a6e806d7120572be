package resource

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"picomasterd/internal/wire"
)

func TestRunReturnsImmediatelyWithZeroInterval(t *testing.T) {
	s := New(0, log.New(io.Discard, "", 0), nil)
	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run with a zero interval should return immediately")
	}
}

func TestEnforceLogsWithoutKillingWhenNotEnforced(t *testing.T) {
	killed := false
	s := New(time.Second, log.New(io.Discard, "", 0), nil)
	target := Target{Label: "x", Policy: Policy{MaxRSSBytes: 1}, Kill: func() { killed = true }}
	s.enforce(target, wire.ResourceSample{RSSBytes: 2})
	if killed {
		t.Fatal("soft policy must not kill")
	}
}

func TestEnforceKillsWhenEnforced(t *testing.T) {
	killed := false
	s := New(time.Second, log.New(io.Discard, "", 0), nil)
	target := Target{Label: "x", Policy: Policy{MaxRSSBytes: 1, Enforce: true}, Kill: func() { killed = true }}
	s.enforce(target, wire.ResourceSample{RSSBytes: 2})
	if !killed {
		t.Fatal("hard policy must kill when over limit")
	}
}
