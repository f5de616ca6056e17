package eventsock

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordedEvent struct {
	name string
	args []string
}

type fakeHandler struct {
	mu     sync.Mutex
	events []recordedEvent
	reject error
}

func (h *fakeHandler) HandleEvent(name string, args []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reject != nil {
		return h.reject
	}
	h.events = append(h.events, recordedEvent{name: name, args: args})
	return nil
}

func (h *fakeHandler) all() []recordedEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]recordedEvent{}, h.events...)
}

func startTestServer(t *testing.T, handler Handler) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.sock")
	srv := NewServer(path, handler)

	ctx, cancel := context.WithCancel(context.Background())
	if err := srv.Start(ctx); err != nil {
		cancel()
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return path
}

func sendLine(t *testing.T, path, line string) string {
	t.Helper()
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(time.Second))

	if _, err := fmt.Fprintln(conn, line); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	return strings.TrimSpace(reply)
}

func TestEventRoundTrip(t *testing.T) {
	h := &fakeHandler{}
	path := startTestServer(t, h)

	reply := sendLine(t, path, "game-start\tnes\tretroarch\t./Super Mario Bros.rom")
	if reply != "OK" {
		t.Fatalf("expected OK, got %q", reply)
	}

	events := h.all()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].name != "game-start" {
		t.Errorf("unexpected event name %q", events[0].name)
	}
	// Tab separation keeps spaces inside the rom path intact.
	want := []string{"nes", "retroarch", "./Super Mario Bros.rom"}
	if len(events[0].args) != 3 || events[0].args[2] != want[2] {
		t.Errorf("args mangled: %v", events[0].args)
	}
}

func TestPingBypassesHandler(t *testing.T) {
	h := &fakeHandler{reject: errors.New("handler must not be called")}
	path := startTestServer(t, h)

	if reply := sendLine(t, path, "ping"); reply != "OK" {
		t.Errorf("expected OK for ping, got %q", reply)
	}
}

func TestRejectedEventGetsErrReply(t *testing.T) {
	h := &fakeHandler{reject: errors.New("unknown event")}
	path := startTestServer(t, h)

	reply := sendLine(t, path, "reboot")
	if !strings.HasPrefix(reply, "ERR") {
		t.Errorf("expected ERR reply, got %q", reply)
	}
}

func TestMultipleLinesPerConnection(t *testing.T) {
	h := &fakeHandler{}
	path := startTestServer(t, h)

	conn, err := net.DialTimeout("unix", path, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	r := bufio.NewReader(conn)
	for _, line := range []string{"system-select\tnes\tinput", "game-select\tnes\t./mario.rom\tMario\tinput"} {
		fmt.Fprintln(conn, line)
		reply, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read reply: %v", err)
		}
		if strings.TrimSpace(reply) != "OK" {
			t.Fatalf("expected OK, got %q", reply)
		}
	}
	if got := len(h.all()); got != 2 {
		t.Errorf("expected 2 events over one connection, got %d", got)
	}
}

func TestStaleSocketRemovedOnStart(t *testing.T) {
	h := &fakeHandler{}
	path := filepath.Join(t.TempDir(), "stale.sock")

	// A killed daemon leaves the socket file behind.
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	srv := NewServer(path, h)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("start over stale socket failed: %v", err)
	}
	defer srv.Close()

	if reply := sendLine(t, path, "ping"); reply != "OK" {
		t.Errorf("server not reachable after stale socket cleanup: %q", reply)
	}
}
