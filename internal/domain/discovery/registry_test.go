package discovery

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

type fakePublisher struct {
	mu       sync.Mutex
	messages map[string][]byte
	retained map[string]bool
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{
		messages: make(map[string][]byte),
		retained: make(map[string]bool),
	}
}

func (p *fakePublisher) Publish(topic string, payload []byte, retained bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages[topic] = payload
	p.retained[topic] = retained
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

func testTopic(parts ...string) string {
	return "retropie/" + strings.Join(parts, "/")
}

func newTestRegistry() *Registry {
	id := Identity{UUID: "f81d4fae-7dec-11d0-a765-00a0c91e6bf6", Name: "arcade-1"}
	return NewRegistry("homeassistant", id, "retropie/status/available", Entities(testTopic))
}

func TestPublishAllOncePerEntity(t *testing.T) {
	r := newTestRegistry()
	pub := newFakePublisher()

	first := r.PublishAll(pub)
	if first != len(Entities(testTopic)) {
		t.Fatalf("first PublishAll registered %d entities", first)
	}

	// Reconnects and telemetry cycles re-invoke PublishAll; nothing new
	// may go out.
	for i := 0; i < 100; i++ {
		if n := r.PublishAll(pub); n != 0 {
			t.Fatalf("repeat PublishAll published %d entities", n)
		}
	}
	if pub.count() != first {
		t.Errorf("expected %d distinct config topics, got %d", first, pub.count())
	}
}

func TestResetReArmsRegistry(t *testing.T) {
	r := newTestRegistry()
	pub := newFakePublisher()

	first := r.PublishAll(pub)
	r.Reset()
	if n := r.PublishAll(pub); n != first {
		t.Errorf("expected %d republished after Reset, got %d", first, n)
	}
}

func TestConfigPayloadShape(t *testing.T) {
	r := newTestRegistry()
	pub := newFakePublisher()
	r.PublishAll(pub)

	topic := "homeassistant/sensor/" + r.Node() + "/cpu_temp/config"
	raw, ok := pub.messages[topic]
	if !ok {
		t.Fatalf("no config published on %s; topics: %v", topic, keys(pub.messages))
	}
	if !pub.retained[topic] {
		t.Error("discovery config not retained")
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("config payload is not JSON: %v", err)
	}
	if payload["unique_id"] != r.Node()+"_cpu_temp" {
		t.Errorf("unexpected unique_id: %v", payload["unique_id"])
	}
	if payload["state_topic"] != "retropie/telemetry/cpu_temp" {
		t.Errorf("unexpected state_topic: %v", payload["state_topic"])
	}
	if payload["device_class"] != "temperature" {
		t.Errorf("unexpected device_class: %v", payload["device_class"])
	}
	device, ok := payload["device"].(map[string]any)
	if !ok || device["name"] != "RetroPie arcade-1" {
		t.Errorf("unexpected device block: %v", payload["device"])
	}
	avail, ok := payload["availability"].([]any)
	if !ok || len(avail) != 1 {
		t.Fatalf("unexpected availability block: %v", payload["availability"])
	}
	if entry := avail[0].(map[string]any); entry["topic"] != "retropie/status/available" {
		t.Errorf("unexpected availability topic: %v", entry["topic"])
	}
}

func TestSafeName(t *testing.T) {
	for in, want := range map[string]string{
		"arcade-1":     "arcade_1",
		"Living Room!": "Living_Room_",
		"plain":        "plain",
	} {
		if got := SafeName(in); got != want {
			t.Errorf("SafeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIdentityStorePersistsUUID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.json")

	first, err := NewIdentityStore(path, "arcade-1")
	if err != nil {
		t.Fatalf("create identity: %v", err)
	}
	if first.Identity().UUID == "" || first.Identity().Name != "arcade-1" {
		t.Fatalf("bad fresh identity: %+v", first.Identity())
	}

	second, err := NewIdentityStore(path, "different-default")
	if err != nil {
		t.Fatalf("reload identity: %v", err)
	}
	if second.Identity() != first.Identity() {
		t.Errorf("identity not stable across restarts: %+v vs %+v",
			first.Identity(), second.Identity())
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
