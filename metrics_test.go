package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"huddle/internal/core"
	"huddle/internal/protocol"
	"huddle/internal/relay"
)

// syncBuffer guards a bytes.Buffer shared with the metrics goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureLogs(t *testing.T) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return buf
}

func TestRunMetricsLogsWhenActive(t *testing.T) {
	rl := relay.New(core.NewRegistry(), core.NewSessions())
	sess := rl.Open(4)
	rl.Join(sess.ConnID, protocol.JoinRoom{RoomID: "r1", Name: "alice"})

	buf := captureLogs(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunMetrics(ctx, rl, 20*time.Millisecond)
		close(done)
	}()

	time.Sleep(80 * time.Millisecond)
	cancel()
	<-done

	out := buf.String()
	for _, want := range []string{"msg=metrics", "connections=1", "rooms=1", "participants=1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics output missing %q: %q", want, out)
		}
	}
}

func TestRunMetricsQuietWhenIdle(t *testing.T) {
	rl := relay.New(core.NewRegistry(), core.NewSessions())
	buf := captureLogs(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunMetrics(ctx, rl, 20*time.Millisecond)
		close(done)
	}()

	time.Sleep(80 * time.Millisecond)
	cancel()
	<-done

	if strings.Contains(buf.String(), "metrics") {
		t.Fatalf("idle relay should not log metrics: %q", buf.String())
	}
}

func TestRunMetricsStopsOnCancel(t *testing.T) {
	rl := relay.New(core.NewRegistry(), core.NewSessions())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		RunMetrics(ctx, rl, time.Hour)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunMetrics did not return after cancel")
	}
}
