// Package session tracks the console's machine status and the active game
// session, driven by loosely-ordered event notifications from the
// front-end's event hooks.
package session

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Status is the coarse lifecycle state of the console.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusPlaying  Status = "playing"
	StatusShutdown Status = "shutdown"
)

// Event names accepted from the front-end hooks.
const (
	EventGameStart    = "game-start"
	EventGameEnd      = "game-end"
	EventGameSelect   = "game-select"
	EventSystemSelect = "system-select"
	EventQuit         = "quit"
)

// Placeholder fills missing event arguments in lenient mode. The upstream
// front-end's argument contract is not stable across its versions, so
// missing fields are tolerated by default rather than rejected. This is a
// deliberate compatibility policy, switchable via Options.Strict.
const Placeholder = "unknown"

var (
	// ErrUnknownEvent is returned for event names outside the contract.
	ErrUnknownEvent = errors.New("session: unknown event")

	// ErrMalformedEvent is returned in strict mode when an event carries
	// fewer arguments than its contract declares.
	ErrMalformedEvent = errors.New("session: malformed event arguments")
)

// Metadata is the game metadata attached to a session by library
// enrichment.
type Metadata struct {
	Name        string
	Description string
	Genre       string
	Developer   string
	Publisher   string
	ReleaseDate string
	Rating      string
	Thumbnail   string
}

// MetadataSource looks up game metadata for enrichment. Implemented by the
// library scanner.
type MetadataSource interface {
	Lookup(system, romPath string) (Metadata, bool)
}

// Publisher receives state-machine output. Implemented by the telemetry
// sampler, which owns the status topics.
type Publisher interface {
	PublishStatus(status Status)
	PublishSession(snap *Snapshot)
	PublishEvent(event string, payload map[string]any)
}

// Snapshot is an immutable copy of the active session handed to readers.
type Snapshot struct {
	System    string
	Emulator  string
	RomPath   string
	RomName   string
	Meta      Metadata
	ImageData string
	StartedAt time.Time
	Duration  time.Duration
}

// gameSession is the mutable session record owned by the machine.
type gameSession struct {
	gen       uint64
	system    string
	emulator  string
	romPath   string
	romName   string
	meta      Metadata
	imageData string
	startedAt time.Time
}

// Options tunes machine behavior.
type Options struct {
	// Strict rejects short argument lists instead of substituting
	// placeholders.
	Strict bool

	// PublishThumbnails inlines the enriched thumbnail as base64 when the
	// file fits ThumbnailMaxBytes.
	PublishThumbnails bool
	ThumbnailMaxBytes int64
}

// Machine is the session and machine-status state machine. All mutations
// go through its mutex; readers only ever see a complete session snapshot.
type Machine struct {
	mu     sync.Mutex
	status Status
	sess   *gameSession
	gen    uint64

	pub    Publisher
	meta   MetadataSource
	opts   Options
	onQuit func()

	now func() time.Time
}

// NewMachine creates the state machine in the idle state.
func NewMachine(meta MetadataSource, opts Options) *Machine {
	return &Machine{
		status: StatusIdle,
		meta:   meta,
		opts:   opts,
		now:    time.Now,
	}
}

// SetPublisher wires the publisher. Must be called before the first event.
func (m *Machine) SetPublisher(pub Publisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pub = pub
}

// OnQuit registers a callback fired (on its own goroutine) after the quit
// transition completes, so the daemon can begin cooperative shutdown.
func (m *Machine) OnQuit(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onQuit = fn
}

// Snapshot returns the current status and session, if any.
func (m *Machine) Snapshot() (Status, *Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.snapshotLocked()
}

// HandleEvent ingests one front-end event. It is safe against overlapping
// invocations; events serialize on the machine's mutex.
func (m *Machine) HandleEvent(name string, args []string) error {
	log.Debug().Str("event", name).Strs("args", args).Msg("Ingesting event")

	switch name {
	case EventGameStart:
		return m.gameStart(args)
	case EventGameEnd:
		return m.gameEnd(args)
	case EventGameSelect:
		return m.gameSelect(args)
	case EventSystemSelect:
		return m.systemSelect(args)
	case EventQuit:
		return m.quit(args)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
}

// gameStart moves to playing and replaces any existing session. The session
// is published immediately with the rom-derived name; enrichment follows
// asynchronously and republishes if it completes while the session is still
// current.
func (m *Machine) gameStart(args []string) error {
	args, err := m.pad(args, 3, EventGameStart)
	if err != nil {
		return err
	}
	system, emulator, romPath := args[0], args[1], args[2]

	m.mu.Lock()
	if m.status == StatusShutdown {
		m.mu.Unlock()
		log.Warn().Msg("Ignoring game-start during shutdown")
		return nil
	}
	if m.sess != nil {
		log.Warn().
			Str("rom", m.sess.romName).
			Msg("New game started with session still active, superseding it")
	}
	m.gen++
	m.sess = &gameSession{
		gen:       m.gen,
		system:    system,
		emulator:  emulator,
		romPath:   romPath,
		romName:   filepath.Base(strings.TrimPrefix(romPath, "./")),
		startedAt: m.now(),
	}
	m.sess.meta.Name = strings.TrimSuffix(m.sess.romName, filepath.Ext(m.sess.romName))
	m.status = StatusPlaying
	gen := m.sess.gen
	snap := m.snapshotLocked()
	pub := m.pub
	m.mu.Unlock()

	log.Info().
		Str("system", system).
		Str("emulator", emulator).
		Str("rom", snap.RomName).
		Msg("Game started")

	if pub != nil {
		pub.PublishStatus(StatusPlaying)
		pub.PublishSession(snap)
		pub.PublishEvent(EventGameStart, snap.eventPayload())
	}

	go m.enrich(gen, system, romPath)
	return nil
}

// gameEnd ends the current session if the event's identity matches it. A
// late or duplicate game-end for a session that is not current is a no-op.
func (m *Machine) gameEnd(args []string) error {
	m.mu.Lock()
	if m.sess == nil {
		m.mu.Unlock()
		log.Debug().Msg("game-end with no active session, ignoring")
		return nil
	}
	if !m.matchesLocked(args) {
		rom := m.sess.romName
		m.mu.Unlock()
		log.Warn().
			Str("current_rom", rom).
			Strs("args", args).
			Msg("Stale game-end does not match active session, ignoring")
		return nil
	}
	m.endLocked()
	pub := m.pub
	m.mu.Unlock()

	if pub != nil {
		pub.PublishStatus(StatusIdle)
	}
	return nil
}

// endLocked finalizes the session: duration computed, final publishes
// issued, session cleared, status back to idle. Caller holds the mutex.
func (m *Machine) endLocked() {
	snap := m.snapshotLocked()
	snap.Duration = m.now().Sub(m.sess.startedAt)

	log.Info().
		Str("rom", snap.RomName).
		Dur("duration", snap.Duration).
		Msg("Game ended")

	if m.pub != nil {
		payload := snap.eventPayload()
		payload["duration_seconds"] = int(snap.Duration.Seconds())
		m.pub.PublishEvent(EventGameEnd, payload)
		m.pub.PublishSession(nil)
	}

	m.sess = nil
	m.status = StatusIdle
}

// gameSelect is advisory (fires on menu highlight). It pre-warms the
// metadata lookup and publishes the event, but never creates a session.
func (m *Machine) gameSelect(args []string) error {
	args, err := m.pad(args, 4, EventGameSelect)
	if err != nil {
		return err
	}
	system, romPath, name, accessType := args[0], args[1], args[2], args[3]

	go func() {
		payload := map[string]any{
			"system_name": system,
			"rom_path":    romPath,
			"game_name":   name,
			"access_type": accessType,
		}
		if meta, ok := m.lookup(system, romPath); ok {
			payload["game_name"] = meta.Name
			addMetadata(payload, meta)
		}
		m.mu.Lock()
		pub := m.pub
		m.mu.Unlock()
		if pub != nil {
			pub.PublishEvent(EventGameSelect, payload)
		}
	}()
	return nil
}

// systemSelect is advisory and does not affect machine status.
func (m *Machine) systemSelect(args []string) error {
	args, err := m.pad(args, 2, EventSystemSelect)
	if err != nil {
		return err
	}

	m.mu.Lock()
	pub := m.pub
	m.mu.Unlock()
	if pub != nil {
		pub.PublishEvent(EventSystemSelect, map[string]any{
			"system_name": args[0],
			"access_type": args[1],
		})
	}
	return nil
}

// quit transitions to shutdown. A session still playing is treated as an
// implicit abnormal game-end first, so its final duration publish precedes
// the shutdown status publish.
func (m *Machine) quit(args []string) error {
	m.mu.Lock()
	if m.status == StatusShutdown {
		m.mu.Unlock()
		return nil
	}
	if m.sess != nil {
		m.endLocked()
	}
	m.status = StatusShutdown
	pub := m.pub
	onQuit := m.onQuit
	m.mu.Unlock()

	payload := map[string]any{}
	if len(args) > 0 {
		payload["quit_mode"] = args[0]
	}

	log.Info().Msg("Front-end quit, machine shutting down")

	if pub != nil {
		pub.PublishEvent(EventQuit, payload)
		pub.PublishStatus(StatusShutdown)
	}
	if onQuit != nil {
		go onQuit()
	}
	return nil
}

// enrich asks the library index for metadata and republishes the session
// iff it is still the current one. The generation check (rather than rom
// equality) means a restart of the same rom rejects a stale result.
func (m *Machine) enrich(gen uint64, system, romPath string) {
	meta, ok := m.lookup(system, romPath)
	if !ok {
		log.Debug().Str("system", system).Str("rom", romPath).Msg("No library metadata for session")
		return
	}

	var imageData string
	if m.opts.PublishThumbnails && meta.Thumbnail != "" {
		imageData = m.encodeThumbnail(meta.Thumbnail)
	}

	m.mu.Lock()
	if m.sess == nil || m.sess.gen != gen {
		m.mu.Unlock()
		log.Debug().Str("rom", romPath).Msg("Session gone before enrichment completed")
		return
	}
	m.sess.meta = meta
	m.sess.imageData = imageData
	snap := m.snapshotLocked()
	pub := m.pub
	m.mu.Unlock()

	if pub != nil {
		pub.PublishSession(snap)
	}
}

func (m *Machine) lookup(system, romPath string) (Metadata, bool) {
	if m.meta == nil {
		return Metadata{}, false
	}
	return m.meta.Lookup(system, romPath)
}

func (m *Machine) encodeThumbnail(path string) string {
	info, err := os.Stat(path)
	if err != nil || info.Size() > m.opts.ThumbnailMaxBytes {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("Cannot read thumbnail")
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

// matchesLocked checks a game-end's identity arguments against the current
// session. Events without identity arguments (the front-end's game-end
// carries none) match the current session.
func (m *Machine) matchesLocked(args []string) bool {
	if len(args) >= 2 && args[1] != Placeholder && args[1] != m.sess.emulator {
		return false
	}
	if len(args) >= 3 && args[2] != Placeholder {
		if filepath.Base(strings.TrimPrefix(args[2], "./")) != m.sess.romName {
			return false
		}
	}
	return true
}

// pad fills missing arguments with placeholders (lenient mode) or rejects
// the event (strict mode).
func (m *Machine) pad(args []string, want int, event string) ([]string, error) {
	if len(args) >= want {
		return args, nil
	}
	if m.opts.Strict {
		return nil, fmt.Errorf("%w: %s wants %d args, got %d", ErrMalformedEvent, event, want, len(args))
	}
	padded := make([]string, want)
	copy(padded, args)
	for i := len(args); i < want; i++ {
		padded[i] = Placeholder
	}
	log.Debug().
		Str("event", event).
		Int("got", len(args)).
		Int("want", want).
		Msg("Short argument list, substituting placeholders")
	return padded, nil
}

// snapshotLocked copies the session for readers. Caller holds the mutex.
func (m *Machine) snapshotLocked() *Snapshot {
	if m.sess == nil {
		return nil
	}
	return &Snapshot{
		System:    m.sess.system,
		Emulator:  m.sess.emulator,
		RomPath:   m.sess.romPath,
		RomName:   m.sess.romName,
		Meta:      m.sess.meta,
		ImageData: m.sess.imageData,
		StartedAt: m.sess.startedAt,
		Duration:  m.now().Sub(m.sess.startedAt),
	}
}

// eventPayload builds the event-topic payload for a session snapshot.
func (s *Snapshot) eventPayload() map[string]any {
	payload := map[string]any{
		"system":    s.System,
		"emulator":  s.Emulator,
		"rom_path":  s.RomPath,
		"rom_name":  s.RomName,
		"game_name": s.Meta.Name,
	}
	addMetadata(payload, s.Meta)
	if s.ImageData != "" {
		payload["image_data"] = s.ImageData
	}
	return payload
}

func addMetadata(payload map[string]any, meta Metadata) {
	if meta.Description != "" {
		payload["description"] = meta.Description
	}
	if meta.Genre != "" {
		payload["genre"] = meta.Genre
	}
	if meta.Developer != "" {
		payload["developer"] = meta.Developer
	}
	if meta.Publisher != "" {
		payload["publisher"] = meta.Publisher
	}
	if meta.Rating != "" {
		payload["rating"] = meta.Rating
	}
	if meta.ReleaseDate != "" {
		payload["releasedate"] = meta.ReleaseDate
	}
	if meta.Thumbnail != "" {
		payload["image_path"] = meta.Thumbnail
	}
}
