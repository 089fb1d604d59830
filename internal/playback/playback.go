// Package playback plays synthesized audio through a local system player.
// Playback always runs on its own goroutine so callers never block on audio
// output, and every playback exposes an explicit cancellation hook.
package playback

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/book-expert/logger"

	"github.com/voicetable/table-service/internal/audioformat"
	"github.com/voicetable/table-service/internal/fileutil"
)

// Error and log format constants.
const (
	tempFilePattern = "playback-*."

	errFmtCreateTemp    = "failed to create temp file for playback: %w"
	errFmtWriteTemp     = "failed to write playback temp file: %w"
	warnFmtRemoveTemp   = "Failed to remove playback temp file '%s': %v"
	warnFmtPlayerFailed = "Player %q failed: %v - output: %s"
	logFmtPlaybackStart = "Playing %s of audio via %q"
)

// Player launches a configured player binary for audio payloads.
type Player struct {
	playerPath string
	log        *logger.Logger
}

// NewPlayer creates a player around a system binary such as aplay or mpv.
func NewPlayer(playerPath string, log *logger.Logger) *Player {
	return &Player{
		playerPath: playerPath,
		log:        log,
	}
}

// Playback is one in-flight playback. Stop cancels it; Done closes when the
// player exits and the scratch file is gone; Err reports a player failure
// (nil when playback finished or was stopped).
type Playback struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Stop cancels the playback process. Safe to call more than once and after
// completion.
func (p *Playback) Stop() {
	p.cancel()
}

// Done returns a channel closed when playback has fully finished.
func (p *Playback) Done() <-chan struct{} {
	return p.done
}

// Err reports why playback failed. It must only be read after Done closes.
func (p *Playback) Err() error {
	return p.err
}

// Start writes the audio to a per-request temp file and launches the player
// on a separate goroutine. The temp file is removed when playback ends on
// any path. Overlapping playbacks are allowed; no ordering is guaranteed.
func (p *Player) Start(audio []byte) (*Playback, error) {
	tempFile, err := os.CreateTemp(
		"", tempFilePattern+audioformat.Extension(audio),
	)
	if err != nil {
		return nil, fmt.Errorf(errFmtCreateTemp, err)
	}

	tempPath := tempFile.Name()

	err = writeAndClose(tempFile, audio)
	if err != nil {
		removeErr := os.Remove(tempPath)
		if removeErr != nil {
			p.log.Warn(warnFmtRemoveTemp, tempPath, removeErr)
		}

		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	playback := &Playback{
		cancel: cancel,
		done:   make(chan struct{}),
		err:    nil,
	}

	p.log.Info(
		logFmtPlaybackStart,
		fileutil.FormatFileSize(int64(len(audio))),
		p.playerPath,
	)

	go p.run(ctx, cancel, playback, tempPath)

	return playback, nil
}

func (p *Player) run(
	ctx context.Context,
	cancel context.CancelFunc,
	playback *Playback,
	tempPath string,
) {
	defer close(playback.done)
	defer cancel()

	defer func() {
		removeErr := os.Remove(tempPath)
		if removeErr != nil {
			p.log.Warn(warnFmtRemoveTemp, tempPath, removeErr)
		}
	}()

	// #nosec G204 -- the player path comes from validated configuration
	cmd := exec.CommandContext(ctx, p.playerPath, tempPath)

	output, err := cmd.CombinedOutput()
	if err != nil && ctx.Err() == nil {
		p.log.Warn(warnFmtPlayerFailed, p.playerPath, err, string(output))
		playback.err = err
	}
}

func writeAndClose(tempFile *os.File, audio []byte) error {
	_, err := tempFile.Write(audio)
	if err != nil {
		_ = tempFile.Close()

		return fmt.Errorf(errFmtWriteTemp, err)
	}

	err = tempFile.Close()
	if err != nil {
		return fmt.Errorf(errFmtWriteTemp, err)
	}

	return nil
}
