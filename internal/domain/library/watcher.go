package library

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher observes the per-system gamelist.xml files and schedules a
// debounced rescan on change. If file watching is unavailable the scanner
// degrades to scan-on-demand; startup does not fail.
type Watcher struct {
	scanner   *Scanner
	debouncer *ScanDebouncer
	fw        *fsnotify.Watcher
}

// NewWatcher creates a watcher that triggers scanner.Scan after window of
// quiescence following the last gamelist change.
func NewWatcher(scanner *Scanner, window time.Duration) *Watcher {
	w := &Watcher{scanner: scanner}
	w.debouncer = NewScanDebouncer(window, func() {
		log.Info().Msg("Gamelist changes settled, rescanning library")
		scanner.Scan()
	})
	return w
}

// Start begins watching. System directories are watched (not the files
// themselves) because EmulationStation rewrites gamelist.xml via rename,
// which drops per-file watches.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	dirs, err := w.systemDirs()
	if err != nil {
		fw.Close()
		return err
	}
	for _, dir := range dirs {
		if err := fw.Add(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("Cannot watch system directory")
		}
	}
	w.fw = fw

	log.Info().Int("dirs", len(dirs)).Msg("Watching gamelists for changes")

	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.fw.Close()
	defer w.debouncer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != GamelistName {
				continue
			}
			if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Rename) {
				log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Gamelist changed")
				w.debouncer.Trigger()
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Gamelist watcher error")
		}
	}
}

func (w *Watcher) systemDirs() ([]string, error) {
	entries, err := os.ReadDir(w.scanner.romsDir)
	if err != nil {
		return nil, fmt.Errorf("read roms directory: %w", err)
	}

	dirs := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, filepath.Join(w.scanner.romsDir, entry.Name()))
		}
	}
	return dirs, nil
}
