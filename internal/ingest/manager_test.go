package ingest

import (
	"context"
	"testing"
	"time"

	"gemwatch/internal/domain"
)

func TestManager_FansInMultipleSources(t *testing.T) {
	m := NewManager(testLogger(), SessionConfig{ReconnectDelay: 10 * time.Millisecond, MaxReconnectDelay: 50 * time.Millisecond, BufferSize: 8})

	m.AddSource("s1", &fakeSource{messages: []domain.RawMessage{rawMsg("s1", "from s1")}})
	m.AddSource("s2", &fakeSource{messages: []domain.RawMessage{rawMsg("s2", "from s2")}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case msg := <-m.Messages():
			seen[msg.SourceID] = true
		case <-time.After(time.Second):
			t.Fatalf("timed out, saw %v", seen)
		}
	}
	if !seen["s1"] || !seen["s2"] {
		t.Errorf("expected messages from both sources, got %v", seen)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after cancellation")
	}
}

func TestManager_RunReturnsOnCancelWithNoSources(t *testing.T) {
	m := NewManager(testLogger(), DefaultSessionConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not return")
	}
}
