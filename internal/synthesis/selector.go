// Package synthesis turns text into audio through interchangeable backends:
// a streaming online voice service and a local offline engine. The Selector
// owns backend choice and the session voice parameters; backends only render.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/book-expert/logger"

	"github.com/voicetable/table-service/internal/core"
	"github.com/voicetable/table-service/internal/fileutil"
)

// Session parameter bounds. Out-of-range values are clamped, never rejected.
const (
	minRate   = 0.5
	maxRate   = 2.0
	minVolume = 0.0
	maxVolume = 1.0
)

// Static errors.
var (
	ErrNoBackends        = errors.New("selector needs at least one backend")
	ErrVoicesUnavailable = errors.New("no configured backend serves a voice catalog")
)

// Error and log format constants.
const (
	errFmtUnknownBackend  = "%w: unknown synthesis backend %q"
	errFmtUnknownDefault  = "default synthesis backend %q is not registered"
	errFmtNothingToSpeak  = "%w: no speakable content in text"
	errFmtEmptyAudio      = "%w: backend %q returned an empty buffer"
	logFmtSynthesized     = "Synthesized %s of audio via %q backend"
	logFmtSettingsChanged = "Voice settings now voice=%q rate=%.2f volume=%.2f"
)

// Settings are the session voice parameters applied to every synthesis call.
type Settings struct {
	Voice  string  `json:"voice"`
	Rate   float64 `json:"rate"`
	Volume float64 `json:"volume"`
}

// Overrides adjust a single synthesis call without touching the session
// settings. Empty fields keep the session value.
type Overrides struct {
	Backend string
	Voice   string
}

// Selector routes synthesis calls to the configured backend and applies the
// session voice, rate, and volume. It is safe for concurrent use.
type Selector struct {
	mu          sync.RWMutex
	settings    Settings
	defaultName string
	backends    map[string]core.Backend
	log         *logger.Logger
}

// NewSelector registers the given backends and validates that the default
// exists. Initial settings are clamped the same way later updates are.
func NewSelector(
	defaultBackend string,
	initial Settings,
	backends []core.Backend,
	log *logger.Logger,
) (*Selector, error) {
	if len(backends) == 0 {
		return nil, ErrNoBackends
	}

	registry := make(map[string]core.Backend, len(backends))
	for _, backend := range backends {
		registry[backend.Name()] = backend
	}

	_, ok := registry[defaultBackend]
	if !ok {
		return nil, fmt.Errorf(errFmtUnknownDefault, defaultBackend)
	}

	return &Selector{
		mu: sync.RWMutex{},
		settings: Settings{
			Voice:  initial.Voice,
			Rate:   clampRate(initial.Rate),
			Volume: clampVolume(initial.Volume),
		},
		defaultName: defaultBackend,
		backends:    registry,
		log:         log,
	}, nil
}

// Synthesize renders text with the default backend and session settings.
func (s *Selector) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return s.SynthesizeWith(ctx, text, Overrides{Backend: "", Voice: ""})
}

// SynthesizeWith renders text with per-call overrides applied on top of the
// session settings. Text is normalized for speech first; a request whose
// prepared text is empty is invalid. A backend that renders zero bytes
// yields core.ErrSynthesisFailed.
func (s *Selector) SynthesizeWith(
	ctx context.Context,
	text string,
	overrides Overrides,
) ([]byte, error) {
	prepared := PrepareSpeechText(text)
	if prepared == "" {
		return nil, fmt.Errorf(errFmtNothingToSpeak, core.ErrInvalidInput)
	}

	backend, err := s.pick(overrides.Backend)
	if err != nil {
		return nil, err
	}

	settings := s.CurrentSettings()
	if overrides.Voice != "" {
		settings.Voice = overrides.Voice
	}

	audio, err := backend.Synthesize(ctx, core.SynthesisRequest{
		Text:   prepared,
		Voice:  settings.Voice,
		Rate:   settings.Rate,
		Volume: settings.Volume,
	})
	if err != nil {
		return nil, err
	}

	if len(audio) == 0 {
		return nil, fmt.Errorf(
			errFmtEmptyAudio, core.ErrSynthesisFailed, backend.Name(),
		)
	}

	s.log.Info(logFmtSynthesized, fileutil.FormatFileSize(int64(len(audio))), backend.Name())

	return audio, nil
}

// Voices returns the catalog from the first backend that serves one.
func (s *Selector) Voices(ctx context.Context) ([]core.Voice, error) {
	type voiceLister interface {
		Voices(ctx context.Context) ([]core.Voice, error)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, backend := range s.backends {
		lister, ok := backend.(voiceLister)
		if ok {
			return lister.Voices(ctx)
		}
	}

	return nil, ErrVoicesUnavailable
}

// SetVoice updates the session voice. Empty input keeps the current voice.
func (s *Selector) SetVoice(voice string) {
	if voice == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings.Voice = voice
	s.logSettingsLocked()
}

// SetRate updates the session rate, silently clamped to [0.5, 2.0].
func (s *Selector) SetRate(rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings.Rate = clampRate(rate)
	s.logSettingsLocked()
}

// SetVolume updates the session volume, silently clamped to [0.0, 1.0].
func (s *Selector) SetVolume(volume float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings.Volume = clampVolume(volume)
	s.logSettingsLocked()
}

// CurrentSettings returns a snapshot of the effective session settings.
func (s *Selector) CurrentSettings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.settings
}

// DefaultBackend returns the name used when no per-call override is given.
func (s *Selector) DefaultBackend() string {
	return s.defaultName
}

func (s *Selector) pick(backendName string) (core.Backend, error) {
	name := backendName
	if name == "" {
		name = s.defaultName
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	backend, ok := s.backends[name]
	if !ok {
		return nil, fmt.Errorf(errFmtUnknownBackend, core.ErrInvalidInput, name)
	}

	return backend, nil
}

func (s *Selector) logSettingsLocked() {
	s.log.Info(
		logFmtSettingsChanged,
		s.settings.Voice,
		s.settings.Rate,
		s.settings.Volume,
	)
}

func clampRate(rate float64) float64 {
	switch {
	case rate < minRate:
		return minRate
	case rate > maxRate:
		return maxRate
	default:
		return rate
	}
}

func clampVolume(volume float64) float64 {
	switch {
	case volume < minVolume:
		return minVolume
	case volume > maxVolume:
		return maxVolume
	default:
		return volume
	}
}
