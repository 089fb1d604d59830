// Package feedback speaks confirmations after table operations. Every
// announcement is fire-and-forget: synthesis and playback run on their own
// goroutine, and any audio failure degrades to a logged textual notice so
// the announced operation itself never fails or blocks.
package feedback

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"

	"github.com/voicetable/table-service/internal/playback"
)

// Announcement phrases.
const (
	phraseTableCreatedFmt = "Table created successfully with %d columns: %s. Added %d sample rows."
	phraseTableEdited     = "Table updated successfully."
	phraseHeardFmt        = "I heard: %s. Processing your request now."
	phraseFailedFmt       = "Sorry, the operation failed. %s"

	warnFmtVoiceNotice = "Voice notice (audio unavailable): %q (%v)"

	announceTimeout = 60 * time.Second
)

// Synthesizer renders announcement text to audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Announcer speaks operation feedback through a synthesizer and player.
// A disabled announcer drops every announcement silently. Announcements are
// serialized so the feedback voice never talks over itself.
type Announcer struct {
	synth   Synthesizer
	player  *playback.Player
	enabled bool
	log     *logger.Logger
	wg      sync.WaitGroup
	speakMu sync.Mutex
}

// NewAnnouncer creates an announcer. When enabled is false all announcements
// become no-ops.
func NewAnnouncer(
	synth Synthesizer,
	player *playback.Player,
	enabled bool,
	log *logger.Logger,
) *Announcer {
	return &Announcer{
		synth:   synth,
		player:  player,
		enabled: enabled,
		log:     log,
		wg:      sync.WaitGroup{},
		speakMu: sync.Mutex{},
	}
}

// TableCreated announces a freshly created table.
func (a *Announcer) TableCreated(headers []string, rowCount int) {
	a.announce(fmt.Sprintf(
		phraseTableCreatedFmt,
		len(headers),
		strings.Join(headers, ", "),
		rowCount,
	))
}

// TableEdited announces a completed edit.
func (a *Announcer) TableEdited() {
	a.announce(phraseTableEdited)
}

// Heard echoes a transcript back to the user before processing continues.
func (a *Announcer) Heard(transcript string) {
	a.announce(fmt.Sprintf(phraseHeardFmt, transcript))
}

// OperationFailed announces a failure with its reason.
func (a *Announcer) OperationFailed(reason string) {
	a.announce(fmt.Sprintf(phraseFailedFmt, reason))
}

// Wait blocks until every in-flight announcement has finished. Intended for
// shutdown and tests.
func (a *Announcer) Wait() {
	a.wg.Wait()
}

func (a *Announcer) announce(phrase string) {
	if !a.enabled {
		return
	}

	a.wg.Add(1)

	go func() {
		defer a.wg.Done()
		a.speak(phrase)
	}()
}

// speak runs one announcement end to end. Failures never propagate: the
// phrase is logged as a textual notice instead.
func (a *Announcer) speak(phrase string) {
	a.speakMu.Lock()
	defer a.speakMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), announceTimeout)
	defer cancel()

	audio, err := a.synth.Synthesize(ctx, phrase)
	if err != nil {
		a.log.Warn(warnFmtVoiceNotice, phrase, err)

		return
	}

	pb, err := a.player.Start(audio)
	if err != nil {
		a.log.Warn(warnFmtVoiceNotice, phrase, err)

		return
	}

	<-pb.Done()

	if pb.Err() != nil {
		a.log.Warn(warnFmtVoiceNotice, phrase, pb.Err())
	}
}
