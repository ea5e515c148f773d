package ping

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"
)

func startHandler(t *testing.T, info ServerInfo) *Handler {
	t.Helper()
	h := NewHandler("127.0.0.1:0", InfoFunc(func() ServerInfo { return info }), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := h.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(h.Stop)
	return h
}

func query(t *testing.T, h *Handler, msg string) []byte {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, h.Addr().(*net.UDPAddr))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(msg)); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("no reply to %q: %v", msg, err)
	}
	return buf[:n]
}

func TestHello(t *testing.T) {
	h := startHandler(t, ServerInfo{})
	if got := string(query(t, h, "HELLO")); got != "HI" {
		t.Fatalf("reply = %q, want HI", got)
	}
}

func TestStatus(t *testing.T) {
	want := ServerInfo{
		Name:           "arena",
		PlayersCurrent: 3,
		PlayersMax:     50,
		Bots:           2,
		Width:          200,
		Height:         200,
		TicksPerSecond: 10,
		FoodRate:       10,
		GameMode:       "classic",
		GameVersion:    "0.1.0",
	}
	h := startHandler(t, want)

	var got ServerInfo
	if err := json.Unmarshal(query(t, h, "STATUS"), &got); err != nil {
		t.Fatalf("status is not JSON: %v", err)
	}
	if got != want {
		t.Fatalf("status = %+v, want %+v", got, want)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := NewHandler("127.0.0.1:0", InfoFunc(func() ServerInfo { return ServerInfo{} }), nil)
	if err := h.Start(); err != nil {
		t.Fatal(err)
	}
	h.Stop()
	h.Stop()
}
