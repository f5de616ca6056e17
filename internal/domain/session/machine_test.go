package session

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type pubEntry struct {
	kind    string // "status", "session", "event"
	status  Status
	snap    *Snapshot
	event   string
	payload map[string]any
}

// recordingPublisher captures every publish in order.
type recordingPublisher struct {
	mu      sync.Mutex
	entries []pubEntry
}

func (p *recordingPublisher) PublishStatus(status Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, pubEntry{kind: "status", status: status})
}

func (p *recordingPublisher) PublishSession(snap *Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, pubEntry{kind: "session", snap: snap})
}

func (p *recordingPublisher) PublishEvent(event string, payload map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, pubEntry{kind: "event", event: event, payload: payload})
}

func (p *recordingPublisher) all() []pubEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pubEntry{}, p.entries...)
}

type staticMeta struct {
	meta Metadata
	ok   bool
}

func (s staticMeta) Lookup(system, romPath string) (Metadata, bool) {
	return s.meta, s.ok
}

func newTestMachine(t *testing.T, meta MetadataSource, opts Options) (*Machine, *recordingPublisher, *time.Time) {
	t.Helper()
	now := time.Unix(1700000000, 0)
	m := NewMachine(meta, opts)
	m.now = func() time.Time { return now }
	pub := &recordingPublisher{}
	m.SetPublisher(pub)
	return m, pub, &now
}

func TestGameStartCreatesSingleSession(t *testing.T) {
	m, _, _ := newTestMachine(t, staticMeta{}, Options{})

	if err := m.HandleEvent(EventGameStart, []string{"nes", "retroarch", "./mario.rom"}); err != nil {
		t.Fatalf("game-start failed: %v", err)
	}

	status, snap := m.Snapshot()
	if status != StatusPlaying {
		t.Errorf("expected playing, got %s", status)
	}
	if snap == nil {
		t.Fatal("expected active session")
	}
	if snap.RomName != "mario.rom" || snap.System != "nes" || snap.Emulator != "retroarch" {
		t.Errorf("unexpected session identity: %+v", snap)
	}
	if snap.Meta.Name != "mario" {
		t.Errorf("expected rom-derived name 'mario', got %q", snap.Meta.Name)
	}
}

func TestGameStartSupersedesExistingSession(t *testing.T) {
	m, _, _ := newTestMachine(t, staticMeta{}, Options{})

	m.HandleEvent(EventGameStart, []string{"nes", "retroarch", "./mario.rom"})
	m.HandleEvent(EventGameStart, []string{"snes", "retroarch", "./zelda.rom"})

	status, snap := m.Snapshot()
	if status != StatusPlaying {
		t.Errorf("expected playing, got %s", status)
	}
	if snap == nil || snap.RomName != "zelda.rom" {
		t.Fatalf("expected zelda.rom session, got %+v", snap)
	}
}

func TestStaleGameEndIsIgnored(t *testing.T) {
	m, _, _ := newTestMachine(t, staticMeta{}, Options{})

	m.HandleEvent(EventGameStart, []string{"nes", "retroarch", "./mario.rom"})
	// A late end for a different rom must not corrupt the current session.
	if err := m.HandleEvent(EventGameEnd, []string{"nes", "retroarch", "./other.rom"}); err != nil {
		t.Fatalf("stale game-end errored: %v", err)
	}

	status, snap := m.Snapshot()
	if status != StatusPlaying {
		t.Errorf("stale game-end changed status to %s", status)
	}
	if snap == nil || snap.RomName != "mario.rom" {
		t.Errorf("stale game-end disturbed session: %+v", snap)
	}
}

func TestDuplicateGameEndIsNoOp(t *testing.T) {
	m, pub, _ := newTestMachine(t, staticMeta{}, Options{})

	m.HandleEvent(EventGameStart, []string{"nes", "retroarch", "./mario.rom"})
	m.HandleEvent(EventGameEnd, nil)
	before := len(pub.all())
	m.HandleEvent(EventGameEnd, nil)

	if got := len(pub.all()); got != before {
		t.Errorf("duplicate game-end published %d extra messages", got-before)
	}
	if status, snap := m.Snapshot(); status != StatusIdle || snap != nil {
		t.Errorf("expected idle with no session, got %s %+v", status, snap)
	}
}

func TestGameEndPublishesDuration(t *testing.T) {
	m, pub, now := newTestMachine(t, staticMeta{}, Options{})

	m.HandleEvent(EventGameStart, []string{"nes", "retroarch", "./mario.rom"})
	*now = now.Add(120 * time.Second)
	m.HandleEvent(EventGameEnd, []string{"nes", "retroarch", "./mario.rom"})

	var endPayload map[string]any
	for _, e := range pub.all() {
		if e.kind == "event" && e.event == EventGameEnd {
			endPayload = e.payload
		}
	}
	if endPayload == nil {
		t.Fatal("no game-end event published")
	}
	if got := endPayload["duration_seconds"]; got != 120 {
		t.Errorf("expected duration 120s, got %v", got)
	}
	if status, _ := m.Snapshot(); status != StatusIdle {
		t.Errorf("expected idle after game-end, got %s", status)
	}
}

func TestQuitWhilePlayingPublishesDurationBeforeShutdown(t *testing.T) {
	m, pub, now := newTestMachine(t, staticMeta{}, Options{})

	m.HandleEvent(EventGameStart, []string{"nes", "retroarch", "./mario.rom"})
	*now = now.Add(45 * time.Second)
	m.HandleEvent(EventQuit, []string{"shutdown"})

	endIdx, shutdownIdx := -1, -1
	for i, e := range pub.all() {
		if e.kind == "event" && e.event == EventGameEnd {
			endIdx = i
			if got := e.payload["duration_seconds"]; got != 45 {
				t.Errorf("expected final duration 45s, got %v", got)
			}
		}
		if e.kind == "status" && e.status == StatusShutdown {
			shutdownIdx = i
		}
	}
	if endIdx < 0 {
		t.Fatal("quit while playing published no game-end")
	}
	if shutdownIdx < 0 {
		t.Fatal("quit published no shutdown status")
	}
	if endIdx > shutdownIdx {
		t.Errorf("game-end (%d) published after shutdown status (%d)", endIdx, shutdownIdx)
	}
}

func TestQuitFiresOnQuitOnce(t *testing.T) {
	m, _, _ := newTestMachine(t, staticMeta{}, Options{})

	quits := make(chan struct{}, 4)
	m.OnQuit(func() { quits <- struct{}{} })

	m.HandleEvent(EventQuit, nil)
	m.HandleEvent(EventQuit, nil)

	select {
	case <-quits:
	case <-time.After(time.Second):
		t.Fatal("OnQuit never fired")
	}
	select {
	case <-quits:
		t.Error("OnQuit fired more than once")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestGameSelectDoesNotCreateSession(t *testing.T) {
	m, pub, _ := newTestMachine(t, staticMeta{}, Options{})

	m.HandleEvent(EventGameSelect, []string{"nes", "./mario.rom", "Mario", "input"})
	time.Sleep(50 * time.Millisecond)

	if status, snap := m.Snapshot(); status != StatusIdle || snap != nil {
		t.Errorf("game-select changed machine state: %s %+v", status, snap)
	}
	found := false
	for _, e := range pub.all() {
		if e.kind == "event" && e.event == EventGameSelect {
			found = true
		}
	}
	if !found {
		t.Error("game-select event not published")
	}
}

func TestLenientModeSubstitutesPlaceholders(t *testing.T) {
	m, _, _ := newTestMachine(t, staticMeta{}, Options{})

	if err := m.HandleEvent(EventGameStart, []string{"nes"}); err != nil {
		t.Fatalf("lenient mode rejected short args: %v", err)
	}
	_, snap := m.Snapshot()
	if snap == nil {
		t.Fatal("expected session")
	}
	if snap.Emulator != Placeholder || snap.RomPath != Placeholder {
		t.Errorf("expected placeholders, got %+v", snap)
	}
}

func TestStrictModeRejectsShortArguments(t *testing.T) {
	m, _, _ := newTestMachine(t, staticMeta{}, Options{Strict: true})

	err := m.HandleEvent(EventGameStart, []string{"nes"})
	if !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("expected ErrMalformedEvent, got %v", err)
	}
	if status, snap := m.Snapshot(); status != StatusIdle || snap != nil {
		t.Errorf("rejected event mutated state: %s %+v", status, snap)
	}
}

func TestUnknownEventRejected(t *testing.T) {
	m, _, _ := newTestMachine(t, staticMeta{}, Options{})

	if err := m.HandleEvent("reboot", nil); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}

func TestEnrichmentRepublishesCurrentSession(t *testing.T) {
	meta := staticMeta{
		meta: Metadata{Name: "Super Mario Bros.", Genre: "Platformer"},
		ok:   true,
	}
	m, pub, _ := newTestMachine(t, meta, Options{})

	m.HandleEvent(EventGameStart, []string{"nes", "retroarch", "./mario.rom"})
	time.Sleep(50 * time.Millisecond)

	var sessions []*Snapshot
	for _, e := range pub.all() {
		if e.kind == "session" && e.snap != nil {
			sessions = append(sessions, e.snap)
		}
	}
	if len(sessions) < 2 {
		t.Fatalf("expected immediate + enriched session publishes, got %d", len(sessions))
	}
	last := sessions[len(sessions)-1]
	if last.Meta.Name != "Super Mario Bros." || last.Meta.Genre != "Platformer" {
		t.Errorf("enrichment not applied: %+v", last.Meta)
	}
}

// blockingMeta holds enrichment lookups until released.
type blockingMeta struct {
	release chan struct{}
	meta    Metadata
}

func (b *blockingMeta) Lookup(system, romPath string) (Metadata, bool) {
	<-b.release
	return b.meta, true
}

func TestStaleEnrichmentIsDiscarded(t *testing.T) {
	meta := &blockingMeta{
		release: make(chan struct{}),
		meta:    Metadata{Name: "Old Game"},
	}
	m, pub, _ := newTestMachine(t, meta, Options{})

	m.HandleEvent(EventGameStart, []string{"nes", "retroarch", "./old.rom"})
	m.HandleEvent(EventGameStart, []string{"snes", "retroarch", "./new.rom"})
	close(meta.release)
	time.Sleep(50 * time.Millisecond)

	// The superseded session's enrichment may complete, but only the
	// current session's enrichment may be published.
	for _, e := range pub.all() {
		if e.kind == "session" && e.snap != nil && e.snap.RomName == "old.rom" && e.snap.Meta.Name == "Old Game" {
			t.Error("stale enrichment result was published")
		}
	}
}
