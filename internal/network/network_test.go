package network

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func newTestServer(t *testing.T, queue int) *Server {
	t.Helper()
	s, err := NewServer(testPort, 8, queue, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

const testPort = 50499

func TestNewServerRejectsBadPort(t *testing.T) {
	for _, port := range []int{0, -1, 70000} {
		if _, err := NewServer(port, 8, 0, nil); err == nil {
			t.Errorf("NewServer(%d) accepted an invalid port", port)
		}
	}
}

func TestSendDropsWhenQueueFull(t *testing.T) {
	s := newTestServer(t, 2)

	if !s.Send(1, []byte{0x04}, false) || !s.Send(1, []byte{0x04}, false) {
		t.Fatalf("send failed with room in the queue")
	}
	if s.Send(1, []byte{0x04}, false) {
		t.Fatalf("send succeeded on a full queue")
	}
	s.Disconnect(1, 0)
	if got := s.Dropped(); got != 2 {
		t.Fatalf("dropped = %d, want 2", got)
	}
}

func TestFlushWithoutRunReturns(t *testing.T) {
	s := newTestServer(t, 4)
	s.Send(1, []byte{0x01}, true)
	s.Flush()
}

func TestRunRequiresStart(t *testing.T) {
	s := newTestServer(t, 4)
	if err := s.Run(context.Background(), nil); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Run = %v, want ErrNotStarted", err)
	}
}

func TestHostOnly(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"10.0.0.1:50403", "10.0.0.1"},
		{"10.0.0.1", "10.0.0.1"},
		{"[::1]:9000", "::1"},
	}
	for _, tt := range tests {
		if got := hostOnly(tt.in); got != tt.want {
			t.Errorf("hostOnly(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
