package library

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// Scanner rebuilds the library stats and lookup index from the per-system
// gamelist.xml files under the roms directory.
type Scanner struct {
	romsDir string

	mu    sync.RWMutex
	stats Stats
	index map[string]map[string]Game // system -> rom basename -> game

	onScan func(Stats)
}

// NewScanner creates a scanner rooted at romsDir.
func NewScanner(romsDir string) *Scanner {
	return &Scanner{
		romsDir: romsDir,
		index:   make(map[string]map[string]Game),
	}
}

// OnScan registers a callback invoked with the new stats after each
// completed scan. Used to publish library-stats topics.
func (s *Scanner) OnScan(fn func(Stats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onScan = fn
}

// Scan walks every system's gamelist.xml and atomically replaces the stats
// snapshot and the lookup index. A malformed file contributes zero records
// and is logged; the scan continues with the remaining files.
func (s *Scanner) Scan() Stats {
	entries, err := os.ReadDir(s.romsDir)
	if err != nil {
		log.Warn().Err(err).Str("dir", s.romsDir).Msg("Cannot read roms directory, library stats unchanged")
		return s.Stats()
	}

	stats := Stats{}
	index := make(map[string]map[string]Game)
	parseErrors := 0

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		system := entry.Name()
		gamelist := filepath.Join(s.romsDir, system, GamelistName)
		if _, err := os.Stat(gamelist); err != nil {
			continue
		}

		games, err := parseGamelist(gamelist, system)
		if err != nil {
			parseErrors++
			log.Error().Err(err).Str("system", system).Msg("Failed to parse gamelist, skipping file")
			continue
		}

		byRom := make(map[string]Game, len(games))
		for _, g := range games {
			if g.Hidden {
				continue
			}
			byRom[filepath.Base(g.Path)] = g
			stats.Total++
			if g.Favorite {
				stats.Favorites++
			}
			if g.KidGame {
				stats.KidFriendly++
			}
		}
		index[system] = byRom
	}

	s.mu.Lock()
	s.stats = stats
	s.index = index
	onScan := s.onScan
	s.mu.Unlock()

	log.Info().
		Int("total", stats.Total).
		Int("favorites", stats.Favorites).
		Int("kid_friendly", stats.KidFriendly).
		Int("parse_errors", parseErrors).
		Msg("Library scan completed")

	if onScan != nil {
		onScan(stats)
	}
	return stats
}

// Stats returns the snapshot from the last completed scan.
func (s *Scanner) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Lookup finds a game by system and rom path. Matching is by rom basename,
// since the front-end reports paths with varying prefixes.
func (s *Scanner) Lookup(system, romPath string) (Game, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byRom, ok := s.index[system]
	if !ok {
		return Game{}, false
	}
	game, ok := byRom[filepath.Base(cleanRelPath(romPath))]
	return game, ok
}
