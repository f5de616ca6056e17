// Package esconfig reads and updates the EmulationStation settings store
// (es_settings.cfg). The file is a flat list of XML setting elements with
// no root node, so it is edited line-wise and written atomically.
package esconfig

import (
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// UI modes EmulationStation supports.
var ValidUIModes = []string{"Full", "Kid", "Kiosk"}

var uiModeLine = regexp.MustCompile(`<string\s+name="UIMode"\s+value="([^"]*)"\s*/>`)

// Store manages es_settings.cfg and front-end restarts.
type Store struct {
	mu         sync.Mutex
	path       string
	restartCmd []string
}

// NewStore creates a store for the settings file at path. restartCmd is the
// command that restarts the front-end (RetroPie relaunches EmulationStation
// when its process exits).
func NewStore(path string, restartCmd []string) *Store {
	return &Store{path: path, restartCmd: restartCmd}
}

// ValidUIMode reports whether mode is one EmulationStation accepts.
func ValidUIMode(mode string) bool {
	for _, m := range ValidUIModes {
		if m == mode {
			return true
		}
	}
	return false
}

// UIMode returns the currently persisted UI mode, defaulting to Full when
// the setting is absent.
func (s *Store) UIMode() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("read settings: %w", err)
	}
	if m := uiModeLine.FindSubmatch(data); m != nil {
		return string(m[1]), nil
	}
	return "Full", nil
}

// SetUIMode persists the UI mode, preserving every other setting. The file
// is replaced via rename so the front-end never sees a partial write.
func (s *Store) SetUIMode(mode string) error {
	if !ValidUIMode(mode) {
		return fmt.Errorf("invalid UI mode %q (want one of %s)", mode, strings.Join(ValidUIModes, ", "))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}

	line := fmt.Sprintf(`<string name="UIMode" value="%s" />`, mode)
	var out string
	if uiModeLine.Match(data) {
		out = uiModeLine.ReplaceAllString(string(data), line)
	} else {
		out = strings.TrimRight(string(data), "\n") + "\n" + line + "\n"
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(out), 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace settings: %w", err)
	}

	log.Info().Str("mode", mode).Msg("Persisted UI mode")
	return nil
}

// ScheduleRestart spawns the front-end restart command, detached. The
// restart is fire-and-forget; failure to spawn is logged, not returned,
// since the mode change itself already succeeded.
func (s *Store) ScheduleRestart() {
	if len(s.restartCmd) == 0 {
		log.Warn().Msg("No restart command configured, UI mode change takes effect on next front-end start")
		return
	}

	cmd := exec.Command(s.restartCmd[0], s.restartCmd[1:]...)
	if err := cmd.Start(); err != nil {
		log.Error().Err(err).Strs("command", s.restartCmd).Msg("Failed to schedule front-end restart")
		return
	}
	go cmd.Wait()
	log.Info().Strs("command", s.restartCmd).Msg("Scheduled front-end restart")
}
