// Package core defines the domain types, collaborator interfaces, and error
// taxonomy shared by every layer of the table service.
package core

import (
	"context"
	"errors"
)

// Table is the single table representation used across the service. Every
// header and every cell is a string, regardless of how the upstream model
// typed the value.
type Table struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// ColumnCount returns the number of header columns.
func (t Table) ColumnCount() int {
	return len(t.Headers)
}

// RowCount returns the number of data rows.
func (t Table) RowCount() int {
	return len(t.Rows)
}

// Voice describes one selectable synthesis voice.
type Voice struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Locale string `json:"locale"`
	Gender string `json:"gender"`
}

// Completer produces a raw chat-completion envelope for a prepared request.
// The envelope is returned undecoded; interpreting it is the caller's job.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) ([]byte, error)
}

// CompletionRequest carries everything one completion call needs. ImageData,
// when set, is attached to the prompt as a base64 data URL for vision models.
type CompletionRequest struct {
	Model       string
	Prompt      string
	ImageData   []byte
	ImageFormat string
	MaxTokens   int
	Temperature float64
}

// Transcriber converts spoken audio into plain text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// SynthesisRequest carries the effective parameters for one synthesis call.
// Rate and Volume arrive already clamped by the selector.
type SynthesisRequest struct {
	Text   string
	Voice  string
	Rate   float64
	Volume float64
}

// Backend renders text to audio bytes. Implementations are selected by
// configuration, not by flags scattered through call sites.
type Backend interface {
	Name() string
	Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, error)
}

// AudioStore is the ephemeral hand-off store for asynchronously synthesized
// audio.
type AudioStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// Sentinel errors forming the service-wide failure vocabulary. Callers branch
// with errors.Is; producers wrap these with the offending detail.
var (
	// ErrInvalidInput marks a request rejected by local validation before
	// any external call was spent.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUpstream marks any failure of an external service: connection,
	// timeout, non-2xx status, or an unreadable transport payload.
	ErrUpstream = errors.New("upstream service failure")

	// ErrMalformedEnvelope marks a completion envelope missing its first
	// choice, message, or content.
	ErrMalformedEnvelope = errors.New("malformed completion envelope")

	// ErrTableParse marks candidate text that is not valid JSON.
	ErrTableParse = errors.New("table candidate is not valid JSON")

	// ErrTableShape marks valid JSON that is not a headers/rows table.
	ErrTableShape = errors.New("table candidate has wrong shape")

	// ErrSynthesisFailed marks a synthesis call that produced no audio.
	ErrSynthesisFailed = errors.New("synthesis produced no audio")
)
