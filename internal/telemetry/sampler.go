// Package telemetry periodically samples host metrics and owns the status
// topics: machine status and the active session are published on every
// sample and immediately on every state-machine transition.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/retropie-ha/retroha/internal/domain/session"
)

// Bus is the outbound message surface the sampler needs.
type Bus interface {
	Publish(topic string, payload []byte, retained bool)
	Topic(parts ...string) string
}

// StateSource provides the machine status and session snapshot for
// periodic publication.
type StateSource interface {
	Snapshot() (session.Status, *session.Snapshot)
}

// Sampler publishes telemetry on a fixed interval. It also implements
// session.Publisher so state-machine transitions publish through the same
// topics immediately, not just on the next poll.
type Sampler struct {
	bus      Bus
	source   StateSource
	device   string
	interval time.Duration
}

// NewSampler creates a sampler publishing under the bus's topic prefix.
func NewSampler(bus Bus, device string, interval time.Duration) *Sampler {
	return &Sampler{
		bus:      bus,
		device:   device,
		interval: interval,
	}
}

// SetSource wires the state machine. Must be called before Run.
func (s *Sampler) SetSource(source StateSource) {
	s.source = source
}

// Run samples immediately and then on every interval tick until the
// context is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Msg("Telemetry sampler started")

	s.sample()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Sampler) sample() {
	info := collectSystemInfo()

	s.bus.Publish(s.bus.Topic("telemetry", "cpu_temp"), []byte(formatFloat(info.CPUTemp, 1)), true)
	s.bus.Publish(s.bus.Topic("telemetry", "gpu_temp"), []byte(formatFloat(info.GPUTemp, 1)), true)
	s.bus.Publish(s.bus.Topic("telemetry", "cpu_load"), []byte(formatFloat(info.Load[0], 2)), true)
	s.bus.Publish(s.bus.Topic("telemetry", "memory"), []byte(formatFloat(info.Memory.UsedPercent, 1)), true)

	status := map[string]any{
		"timestamp":   time.Now().Unix(),
		"device":      s.device,
		"system_info": info,
	}
	if payload, err := json.Marshal(status); err == nil {
		s.bus.Publish(s.bus.Topic("status"), payload, true)
	}

	if s.source != nil {
		st, snap := s.source.Snapshot()
		s.PublishStatus(st)
		s.PublishSession(snap)
	}
}

// PublishStatus publishes the retained machine status.
func (s *Sampler) PublishStatus(status session.Status) {
	s.bus.Publish(s.bus.Topic("machine-status"), []byte(status), true)
}

// PublishSession publishes the retained game-status document. A nil
// snapshot clears it to an empty object, which consumers render as "None".
func (s *Sampler) PublishSession(snap *session.Snapshot) {
	payload := []byte("{}")
	if snap != nil {
		doc := sessionDocument(snap)
		if data, err := json.Marshal(doc); err == nil {
			payload = data
		} else {
			log.Error().Err(err).Msg("Failed to encode session document")
			return
		}
	}
	s.bus.Publish(s.bus.Topic("game-status"), payload, true)
}

// PublishEvent publishes a non-retained event document, enriched with the
// timestamp and device name every event carries.
func (s *Sampler) PublishEvent(event string, payload map[string]any) {
	doc := map[string]any{
		"event":     event,
		"timestamp": time.Now().Unix(),
		"device":    s.device,
	}
	for k, v := range payload {
		doc[k] = v
	}
	data, err := json.Marshal(doc)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("Failed to encode event payload")
		return
	}
	s.bus.Publish(s.bus.Topic("event", event), data, false)
}

func sessionDocument(snap *session.Snapshot) map[string]any {
	doc := map[string]any{
		"game_name":        snap.Meta.Name,
		"system":           snap.System,
		"emulator":         snap.Emulator,
		"rom_name":         snap.RomName,
		"rom_path":         snap.RomPath,
		"started_at":       snap.StartedAt.Unix(),
		"duration_seconds": int(snap.Duration.Seconds()),
	}
	if snap.Meta.Genre != "" {
		doc["genre"] = snap.Meta.Genre
	}
	if snap.Meta.Developer != "" {
		doc["developer"] = snap.Meta.Developer
	}
	if snap.Meta.Publisher != "" {
		doc["publisher"] = snap.Meta.Publisher
	}
	if snap.Meta.Rating != "" {
		doc["rating"] = snap.Meta.Rating
	}
	if snap.Meta.ReleaseDate != "" {
		doc["releasedate"] = snap.Meta.ReleaseDate
	}
	if snap.Meta.Description != "" {
		doc["description"] = snap.Meta.Description
	}
	if snap.Meta.Thumbnail != "" {
		doc["image_path"] = snap.Meta.Thumbnail
	}
	if snap.ImageData != "" {
		doc["image_data"] = snap.ImageData
	}
	return doc
}

func formatFloat(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}

// PublishLibraryStats publishes the retained library-stats topics after a
// completed scan.
func (s *Sampler) PublishLibraryStats(total, favorites, kidFriendly int) {
	s.bus.Publish(s.bus.Topic("library-stats", "total"), []byte(fmt.Sprint(total)), true)
	s.bus.Publish(s.bus.Topic("library-stats", "favorites"), []byte(fmt.Sprint(favorites)), true)
	s.bus.Publish(s.bus.Topic("library-stats", "kid_friendly"), []byte(fmt.Sprint(kidFriendly)), true)
}
