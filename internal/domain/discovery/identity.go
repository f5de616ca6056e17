// Package discovery manages the device identity and the Home Assistant
// MQTT discovery registry: one retained registration message per exposed
// entity, published at most once per process lifetime.
package discovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Identity is the persistent device identity presented to the
// home-automation platform.
type Identity struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}

// IdentityStore loads or creates the device identity in the state dir.
type IdentityStore struct {
	mu   sync.RWMutex
	path string
	id   Identity
}

// NewIdentityStore loads the identity from path, generating and persisting
// a new one if none exists.
func NewIdentityStore(path, defaultName string) (*IdentityStore, error) {
	s := &IdentityStore{path: path}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	if err := s.load(); err != nil {
		log.Debug().Err(err).Msg("No existing device identity, generating new one")
		s.id = Identity{
			UUID: uuid.New().String(),
			Name: defaultName,
		}
		if err := s.save(); err != nil {
			return nil, fmt.Errorf("failed to save device identity: %w", err)
		}
	}

	log.Info().
		Str("uuid", s.id.UUID).
		Str("name", s.id.Name).
		Msg("Device identity initialized")
	return s, nil
}

func (s *IdentityStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return fmt.Errorf("invalid identity file: %w", err)
	}
	if id.UUID == "" {
		return fmt.Errorf("identity file missing uuid")
	}
	s.id = id
	return nil
}

func (s *IdentityStore) save() error {
	data, err := json.MarshalIndent(s.id, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

// Identity returns the current device identity.
func (s *IdentityStore) Identity() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// SafeName returns the identity name sanitized for use in MQTT topic
// segments and entity ids.
func (s *IdentityStore) SafeName() string {
	return SafeName(s.Identity().Name)
}

// SafeName replaces characters that are unsafe in topic segments.
func SafeName(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}
