package voice

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"homelink/pkg"
	"homelink/src/logger"
)

// DefaultPlayerCommand plays a file and exits; the file path is appended
var DefaultPlayerCommand = []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet"}

// Player plays audio files with an external command, one at a time
type Player struct {
	command []string
	mu      sync.Mutex
}

func NewPlayer(command []string) *Player {
	if len(command) == 0 {
		command = DefaultPlayerCommand
	}
	return &Player{command: append([]string(nil), command...)}
}

// Play blocks until the file finished playing. Concurrent calls queue up.
func (p *Player) Play(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: could not play audio file %s", pkg.ErrResourceMissing, path)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	args := append(append([]string(nil), p.command[1:]...), path)
	cmd := exec.CommandContext(ctx, p.command[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.Debug().Str("file", path).Msg("Playing audio")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to play audio segment: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}

// PlayBytes writes audio to a temporary file, plays it and removes it
func (p *Player) PlayBytes(ctx context.Context, audio []byte, suffix string) error {
	f, err := os.CreateTemp("", "homelink-*"+suffix)
	if err != nil {
		return fmt.Errorf("failed to create audio file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(audio); err != nil {
		f.Close()
		return fmt.Errorf("failed to write audio file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write audio file: %w", err)
	}
	return p.Play(ctx, f.Name())
}
