package command

import (
	"fmt"
	"os/exec"

	"github.com/rs/zerolog/log"
)

// ExecAnnouncer speaks announcements by spawning a TTS command (espeak by
// default) with the text appended as the final argument.
type ExecAnnouncer struct {
	command []string
}

// NewExecAnnouncer creates an announcer for the given command line.
func NewExecAnnouncer(command []string) *ExecAnnouncer {
	return &ExecAnnouncer{command: command}
}

// Announce spawns the TTS process, detached. Spawn failure is returned so
// the command response reflects it; the speech itself is fire-and-forget.
func (a *ExecAnnouncer) Announce(text string) error {
	if len(a.command) == 0 {
		return fmt.Errorf("no tts command configured")
	}

	args := append(append([]string{}, a.command[1:]...), text)
	cmd := exec.Command(a.command[0], args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn tts command: %w", err)
	}
	go cmd.Wait()

	log.Info().Str("text", text).Msg("Speech announcement scheduled")
	return nil
}
