// Package worker consumes speak requests from NATS, renders them through the
// synthesis selector, and stores the audio in the shared object store so
// consumers receive a small key instead of the clip itself.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/voicetable/table-service/internal/audioformat"
	"github.com/voicetable/table-service/internal/config"
	"github.com/voicetable/table-service/internal/core"
	"github.com/voicetable/table-service/internal/fileutil"
	"github.com/voicetable/table-service/internal/synthesis"
)

// speakTimeout bounds one job end to end: a single upstream synthesis call
// plus the object store round trip.
const speakTimeout = 90 * time.Second

// Static validation errors for worker construction and event payloads.
var (
	ErrNilConnection = errors.New("NATS connection cannot be nil")
	ErrNilStore      = errors.New("audio store cannot be nil")
	ErrNilSpeaker    = errors.New("speech synthesizer cannot be nil")
	ErrNilLogger     = errors.New("logger cannot be nil")
	ErrEmptySubject  = errors.New("speak subject cannot be empty")
	ErrMissingText   = errors.New("speak request needs text or a text_key")
)

// Error and log format constants.
const (
	errFmtSubscribe  = "subscribe to %q: %w"
	errFmtDrain      = "drain subscription: %w"
	errFmtUnmarshal  = "unmarshal speak request: %w"
	errFmtFetchText  = "fetch text object %q: %w"
	errFmtEmptyText  = "%w: text object %q is empty"
	logFmtListening  = "Listening for speak requests on %q with %d workers"
	logFmtDiscarding = "Discarding malformed speak request: %v"
	logFmtJobFailed  = "Speak request %s failed: %v"
	logFmtStored     = "Stored %s of audio at key %q for workflow %q"
	logFmtDraining   = "Speak worker draining subscription"
	warnFmtPublish   = "Failed to publish %s event: %v"
	warnFmtRespond   = "Failed to respond on inbox %q: %v"
	warnFmtDelete    = "Failed to delete consumed text object %q: %v"
)

// SpeakRequestedEvent asks the worker to render text to speech. Text carries
// the content inline; TextKey instead names an object in the audio bucket
// holding the text, for producers that already staged it there. Voice and
// Backend are optional per-request overrides.
type SpeakRequestedEvent struct {
	Header  events.EventHeader `json:"header"`
	Text    string             `json:"text,omitempty"`
	TextKey string             `json:"text_key,omitempty"`
	Voice   string             `json:"voice,omitempty"`
	Backend string             `json:"backend,omitempty"`
}

// AudioReadyEvent reports a stored clip. AudioKey addresses the object store
// bucket the worker was configured with.
type AudioReadyEvent struct {
	Header   events.EventHeader `json:"header"`
	AudioKey string             `json:"audio_key"`
	Backend  string             `json:"backend"`
	Bytes    int                `json:"bytes"`
}

// SpeakFailedEvent reports a request that could not be rendered or stored.
type SpeakFailedEvent struct {
	Header events.EventHeader `json:"header"`
	Reason string             `json:"reason"`
}

// Speaker renders speech audio with optional per-call overrides. It is
// satisfied by *synthesis.Selector.
type Speaker interface {
	SynthesizeWith(
		ctx context.Context,
		text string,
		overrides synthesis.Overrides,
	) ([]byte, error)
	DefaultBackend() string
}

// Worker subscribes to the speak subject and processes requests through a
// bounded pool. Pool pressure blocks the subscription's delivery goroutine,
// so excess messages queue in the NATS client rather than in memory here.
type Worker struct {
	natsConnection *nats.Conn
	subject        string
	readySubject   string
	failedSubject  string
	store          core.AudioStore
	speaker        Speaker
	semaphore      chan struct{}
	wg             sync.WaitGroup
	log            *logger.Logger
}

// New validates the collaborators and builds a Worker from the NATS
// configuration. Concurrency values below one are raised to one.
func New(
	natsConnection *nats.Conn,
	cfg config.NATSConfig,
	store core.AudioStore,
	speaker Speaker,
	log *logger.Logger,
) (*Worker, error) {
	if natsConnection == nil {
		return nil, ErrNilConnection
	}

	if cfg.SpeakSubject == "" {
		return nil, ErrEmptySubject
	}

	if store == nil {
		return nil, ErrNilStore
	}

	if speaker == nil {
		return nil, ErrNilSpeaker
	}

	if log == nil {
		return nil, ErrNilLogger
	}

	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	return &Worker{
		natsConnection: natsConnection,
		subject:        cfg.SpeakSubject,
		readySubject:   cfg.AudioReadySubject,
		failedSubject:  cfg.FailedSubject,
		store:          store,
		speaker:        speaker,
		semaphore:      make(chan struct{}, concurrency),
		wg:             sync.WaitGroup{},
		log:            log,
	}, nil
}

// Run subscribes and blocks until the context is canceled, then drains the
// subscription and waits for in-flight jobs to finish.
func (w *Worker) Run(ctx context.Context) error {
	subscription, err := w.natsConnection.Subscribe(w.subject, func(msg *nats.Msg) {
		w.dispatch(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf(errFmtSubscribe, w.subject, err)
	}

	w.log.Info(logFmtListening, w.subject, cap(w.semaphore))

	<-ctx.Done()

	w.log.Info(logFmtDraining)

	drainErr := subscription.Drain()

	w.wg.Wait()

	if drainErr != nil {
		return fmt.Errorf(errFmtDrain, drainErr)
	}

	return nil
}

func (w *Worker) dispatch(ctx context.Context, msg *nats.Msg) {
	select {
	case w.semaphore <- struct{}{}:
	case <-ctx.Done():
		return
	}

	w.wg.Add(1)

	go func() {
		defer w.wg.Done()
		defer func() { <-w.semaphore }()

		w.handleMessage(ctx, msg)
	}()
}

func (w *Worker) handleMessage(ctx context.Context, msg *nats.Msg) {
	jobCtx, cancel := context.WithTimeout(ctx, speakTimeout)
	defer cancel()

	event, err := parseSpeakEvent(msg.Data)
	if err != nil {
		w.log.Error(logFmtDiscarding, err)
		w.publishFailure(msg, events.EventHeader{
			Timestamp:  time.Time{},
			WorkflowID: "",
			EventID:    "",
			UserID:     "",
			TenantID:   "",
		}, err)

		return
	}

	audioKey, size, err := w.synthesizeAndStore(jobCtx, event)
	if err != nil {
		w.log.Error(logFmtJobFailed, event.Header.EventID, err)
		w.publishFailure(msg, event.Header, err)

		return
	}

	w.log.Info(
		logFmtStored,
		fileutil.FormatFileSize(int64(size)),
		audioKey,
		event.Header.WorkflowID,
	)
	w.publishReady(msg, event, audioKey, size)
}

func parseSpeakEvent(data []byte) (*SpeakRequestedEvent, error) {
	var event SpeakRequestedEvent

	err := json.Unmarshal(data, &event)
	if err != nil {
		return nil, fmt.Errorf(errFmtUnmarshal, err)
	}

	if event.Text == "" && event.TextKey == "" {
		return nil, ErrMissingText
	}

	return &event, nil
}

// resolveText returns the text to render. Inline text wins; otherwise the
// text object is fetched from the store and its key is returned so it can be
// deleted once the clip is safely uploaded.
func (w *Worker) resolveText(
	ctx context.Context,
	event *SpeakRequestedEvent,
) (string, string, error) {
	if event.Text != "" {
		return event.Text, "", nil
	}

	data, err := w.store.Download(ctx, event.TextKey)
	if err != nil {
		return "", "", fmt.Errorf(errFmtFetchText, event.TextKey, err)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", "", fmt.Errorf(errFmtEmptyText, ErrMissingText, event.TextKey)
	}

	return text, event.TextKey, nil
}

func (w *Worker) synthesizeAndStore(
	ctx context.Context,
	event *SpeakRequestedEvent,
) (string, int, error) {
	text, consumedKey, err := w.resolveText(ctx, event)
	if err != nil {
		return "", 0, err
	}

	audio, err := w.speaker.SynthesizeWith(ctx, text, synthesis.Overrides{
		Backend: event.Backend,
		Voice:   event.Voice,
	})
	if err != nil {
		return "", 0, fmt.Errorf("synthesize speech: %w", err)
	}

	key := uuid.NewString() + "." + audioformat.Extension(audio)

	err = w.store.Upload(ctx, key, audio)
	if err != nil {
		return "", 0, fmt.Errorf("upload audio: %w", err)
	}

	// A staged text object is consumed by the render. Failed jobs keep
	// theirs so the payload can still be inspected.
	if consumedKey != "" {
		deleteErr := w.store.Delete(ctx, consumedKey)
		if deleteErr != nil {
			w.log.Warn(warnFmtDelete, consumedKey, deleteErr)
		}
	}

	return key, len(audio), nil
}

func (w *Worker) publishReady(
	msg *nats.Msg,
	event *SpeakRequestedEvent,
	audioKey string,
	size int,
) {
	backend := event.Backend
	if backend == "" {
		backend = w.speaker.DefaultBackend()
	}

	ready := AudioReadyEvent{
		Header:   childHeader(event.Header),
		AudioKey: audioKey,
		Backend:  backend,
		Bytes:    size,
	}

	data, err := json.Marshal(ready)
	if err != nil {
		w.log.Error(warnFmtPublish, "audio ready", err)

		return
	}

	w.deliver(msg, w.readySubject, "audio ready", data)
}

func (w *Worker) publishFailure(msg *nats.Msg, parent events.EventHeader, cause error) {
	failed := SpeakFailedEvent{
		Header: childHeader(parent),
		Reason: cause.Error(),
	}

	data, err := json.Marshal(failed)
	if err != nil {
		w.log.Error(warnFmtPublish, "speak failed", err)

		return
	}

	w.deliver(msg, w.failedSubject, "speak failed", data)
}

// deliver publishes to the configured subject when one is set and answers the
// request inbox when the sender expects a reply.
func (w *Worker) deliver(msg *nats.Msg, subject, kind string, data []byte) {
	if subject != "" {
		err := w.natsConnection.Publish(subject, data)
		if err != nil {
			w.log.Warn(warnFmtPublish, kind, err)
		}
	}

	if msg.Reply != "" {
		err := msg.Respond(data)
		if err != nil {
			w.log.Warn(warnFmtRespond, msg.Reply, err)
		}
	}
}

func childHeader(parent events.EventHeader) events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now().UTC(),
		WorkflowID: parent.WorkflowID,
		EventID:    uuid.NewString(),
		UserID:     parent.UserID,
		TenantID:   parent.TenantID,
	}
}
