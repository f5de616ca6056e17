package discovery

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/retropie-ha/retroha/internal/version"
)

// Publisher is the minimal bus surface the registry needs.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool)
}

// Entity describes one sensor registration.
type Entity struct {
	ID                 string
	Name               string
	Icon               string
	DeviceClass        string
	StateClass         string
	Unit               string
	StateTopic         string
	ValueTemplate      string
	AttributesTopic    string
	AttributesTemplate string
}

// Registry holds the process-wide, write-once-per-entity set of discovery
// descriptors. PublishAll is idempotent per entity id: repeated calls (on
// reconnect, or hundreds of telemetry cycles) publish nothing new unless
// Reset re-arms the registry.
type Registry struct {
	mu        sync.Mutex
	published map[string]bool

	discoveryPrefix   string
	node              string
	availabilityTopic string
	device            map[string]any
	origin            map[string]any
	entities          []Entity
}

// NewRegistry builds the registry for a device. node is the sanitized
// device name used in discovery topics and unique ids.
func NewRegistry(discoveryPrefix string, id Identity, availabilityTopic string, entities []Entity) *Registry {
	node := "retropie_" + SafeName(id.Name)
	info := version.GetInfo()

	return &Registry{
		published:         make(map[string]bool),
		discoveryPrefix:   discoveryPrefix,
		node:              node,
		availabilityTopic: availabilityTopic,
		device: map[string]any{
			"identifiers":  []string{node, id.UUID},
			"name":         "RetroPie " + id.Name,
			"model":        "RetroPie Arcade",
			"manufacturer": "RetroPie",
			"sw_version":   info.Version,
		},
		origin: map[string]any{
			"name": info.Name,
			"sw":   info.Version,
			"url":  "https://github.com/retropie-ha/retroha",
		},
		entities: entities,
	}
}

// Node returns the sanitized device node used in entity ids.
func (r *Registry) Node() string {
	return r.node
}

// PublishAll publishes the retained discovery config for every entity not
// yet registered this process lifetime. Returns the number published.
func (r *Registry) PublishAll(pub Publisher) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, e := range r.entities {
		if r.published[e.ID] {
			continue
		}
		payload, err := json.Marshal(r.configPayload(e))
		if err != nil {
			log.Error().Err(err).Str("entity", e.ID).Msg("Failed to encode discovery config")
			continue
		}
		topic := fmt.Sprintf("%s/sensor/%s/%s/config", r.discoveryPrefix, r.node, e.ID)
		pub.Publish(topic, payload, true)
		r.published[e.ID] = true
		count++
	}
	if count > 0 {
		log.Info().Int("entities", count).Msg("Published discovery registrations")
	}
	return count
}

// Reset re-arms the registry so the next PublishAll republishes every
// entity. Used by the explicit re-register command to recover from
// broker-side config loss.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = make(map[string]bool)
}

func (r *Registry) configPayload(e Entity) map[string]any {
	uniqueID := r.node + "_" + e.ID
	payload := map[string]any{
		"device":    r.device,
		"origin":    r.origin,
		"name":      e.Name,
		"unique_id": uniqueID,
		"object_id": uniqueID,
		"state_topic": e.StateTopic,
		"availability": []map[string]any{
			{"topic": r.availabilityTopic},
		},
		"availability_mode":  "all",
		"enabled_by_default": true,
	}
	if e.Icon != "" {
		payload["icon"] = e.Icon
	}
	if e.DeviceClass != "" {
		payload["device_class"] = e.DeviceClass
	}
	if e.StateClass != "" {
		payload["state_class"] = e.StateClass
	}
	if e.Unit != "" {
		payload["unit_of_measurement"] = e.Unit
	}
	if e.ValueTemplate != "" {
		payload["value_template"] = e.ValueTemplate
	}
	if e.AttributesTopic != "" {
		payload["json_attributes_topic"] = e.AttributesTopic
		if e.AttributesTemplate != "" {
			payload["json_attributes_template"] = e.AttributesTemplate
		}
	}
	return payload
}

// Entities builds the default sensor set for a topic prefix.
func Entities(topic func(parts ...string) string) []Entity {
	return []Entity{
		{
			ID:          "cpu_temp",
			Name:        "CPU Temperature",
			Icon:        "mdi:chip",
			DeviceClass: "temperature",
			StateClass:  "measurement",
			Unit:        "°C",
			StateTopic:  topic("telemetry", "cpu_temp"),
		},
		{
			ID:          "gpu_temp",
			Name:        "GPU Temperature",
			Icon:        "mdi:expansion-card",
			DeviceClass: "temperature",
			StateClass:  "measurement",
			Unit:        "°C",
			StateTopic:  topic("telemetry", "gpu_temp"),
		},
		{
			ID:         "cpu_load",
			Name:       "CPU Load",
			Icon:       "mdi:chip",
			StateClass: "measurement",
			StateTopic: topic("telemetry", "cpu_load"),
		},
		{
			ID:         "memory_usage",
			Name:       "Memory Usage",
			Icon:       "mdi:memory",
			StateClass: "measurement",
			Unit:       "%",
			StateTopic: topic("telemetry", "memory"),
		},
		{
			ID:         "machine_status",
			Name:       "Machine Status",
			Icon:       "mdi:power",
			StateTopic: topic("machine-status"),
		},
		{
			ID:              "game_status",
			Name:            "Game Status",
			Icon:            "mdi:gamepad-variant",
			StateTopic:      topic("game-status"),
			ValueTemplate:   "{{ value_json.game_name if value_json.game_name is defined else 'None' }}",
			AttributesTopic: topic("game-status"),
		},
		{
			ID:         "library_total",
			Name:       "Library Total Games",
			Icon:       "mdi:controller-classic",
			StateClass: "measurement",
			StateTopic: topic("library-stats", "total"),
		},
		{
			ID:         "library_favorites",
			Name:       "Library Favorites",
			Icon:       "mdi:star",
			StateClass: "measurement",
			StateTopic: topic("library-stats", "favorites"),
		},
		{
			ID:         "library_kid_friendly",
			Name:       "Library Kid-Friendly",
			Icon:       "mdi:human-child",
			StateClass: "measurement",
			StateTopic: topic("library-stats", "kid_friendly"),
		},
	}
}
