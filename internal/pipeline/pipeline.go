// Package pipeline turns uploaded images and spoken requests into tables.
// It chains upstream completion calls with envelope extraction, fence
// stripping, and normalization so every handler receives either a clean
// table or a classified error.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/logger"

	"github.com/voicetable/table-service/internal/core"
	"github.com/voicetable/table-service/internal/fileutil"
	"github.com/voicetable/table-service/internal/tabular"
)

// Static validation errors for pipeline construction.
var (
	ErrNilVision      = errors.New("vision completer cannot be nil")
	ErrNilTableGen    = errors.New("table generation completer cannot be nil")
	ErrNilTranscriber = errors.New("transcriber cannot be nil")
	ErrNilLogger      = errors.New("logger cannot be nil")
)

const (
	errFmtEmptyTranscript = "%w: transcription produced no text"
	errFmtEditNoHeaders   = "%w: current table has no headers to edit"

	logFmtImageAccepted = "Accepted %s image (%s) for table extraction"
	logFmtTranscript    = "Transcribed %s of audio into %d characters"
	logFmtTableResult   = "Normalized table with %d columns and %d rows"
)

// Params carries the completion tuning for one upstream call site.
type Params struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// VoiceResult pairs a generated table with the transcript that produced it,
// so callers can tell the user what was understood.
type VoiceResult struct {
	Table      core.Table
	Transcript string
}

// Pipeline orchestrates the image and voice table flows.
type Pipeline struct {
	vision         core.Completer
	visionParams   Params
	tablegen       core.Completer
	tablegenParams Params
	transcriber    core.Transcriber
	normalizer     tabular.Normalizer
	log            *logger.Logger
}

// New creates a Pipeline from its collaborators. The vision and table
// generation completers may be the same client configured with different
// parameters.
func New(
	vision core.Completer,
	visionParams Params,
	tablegen core.Completer,
	tablegenParams Params,
	transcriber core.Transcriber,
	normalizer tabular.Normalizer,
	log *logger.Logger,
) (*Pipeline, error) {
	if vision == nil {
		return nil, ErrNilVision
	}

	if tablegen == nil {
		return nil, ErrNilTableGen
	}

	if transcriber == nil {
		return nil, ErrNilTranscriber
	}

	if log == nil {
		return nil, ErrNilLogger
	}

	return &Pipeline{
		vision:         vision,
		visionParams:   visionParams,
		tablegen:       tablegen,
		tablegenParams: tablegenParams,
		transcriber:    transcriber,
		normalizer:     normalizer,
		log:            log,
	}, nil
}

// TableFromImage extracts a table from image data. The image is decoded and
// size-checked locally before any upstream call is made.
func (p *Pipeline) TableFromImage(ctx context.Context, imageData []byte) (core.Table, error) {
	format, err := validateImage(imageData)
	if err != nil {
		return core.Table{Headers: nil, Rows: nil}, err
	}

	p.log.Info(logFmtImageAccepted, format, fileutil.FormatFileSize(int64(len(imageData))))

	request := core.CompletionRequest{
		Model:       p.visionParams.Model,
		Prompt:      visionPrompt,
		ImageData:   imageData,
		ImageFormat: format,
		MaxTokens:   p.visionParams.MaxTokens,
		Temperature: p.visionParams.Temperature,
	}

	return p.completeTable(ctx, p.vision, request)
}

// TableFromVoice transcribes the audio and asks the table generator to build
// a new table from the spoken request.
func (p *Pipeline) TableFromVoice(
	ctx context.Context,
	audio []byte,
	filename string,
) (VoiceResult, error) {
	transcript, err := p.transcribe(ctx, audio, filename)
	if err != nil {
		return VoiceResult{Table: core.Table{Headers: nil, Rows: nil}, Transcript: ""}, err
	}

	request := core.CompletionRequest{
		Model:       p.tablegenParams.Model,
		Prompt:      buildCreateTablePrompt(transcript),
		ImageData:   nil,
		ImageFormat: "",
		MaxTokens:   p.tablegenParams.MaxTokens,
		Temperature: p.tablegenParams.Temperature,
	}

	table, err := p.completeTable(ctx, p.tablegen, request)
	if err != nil {
		return VoiceResult{Table: core.Table{Headers: nil, Rows: nil}, Transcript: ""}, err
	}

	return VoiceResult{Table: table, Transcript: transcript}, nil
}

// EditTableFromVoice applies a spoken instruction to an existing table. The
// current table is embedded in the prompt and the response replaces it
// entirely; no edit state is kept between calls.
func (p *Pipeline) EditTableFromVoice(
	ctx context.Context,
	audio []byte,
	filename string,
	current core.Table,
) (VoiceResult, error) {
	empty := VoiceResult{Table: core.Table{Headers: nil, Rows: nil}, Transcript: ""}

	if len(current.Headers) == 0 {
		return empty, fmt.Errorf(errFmtEditNoHeaders, core.ErrInvalidInput)
	}

	transcript, err := p.transcribe(ctx, audio, filename)
	if err != nil {
		return empty, err
	}

	prompt, err := buildEditTablePrompt(current, transcript)
	if err != nil {
		return empty, err
	}

	request := core.CompletionRequest{
		Model:       p.tablegenParams.Model,
		Prompt:      prompt,
		ImageData:   nil,
		ImageFormat: "",
		MaxTokens:   p.tablegenParams.MaxTokens,
		Temperature: p.tablegenParams.Temperature,
	}

	table, err := p.completeTable(ctx, p.tablegen, request)
	if err != nil {
		return empty, err
	}

	return VoiceResult{Table: table, Transcript: transcript}, nil
}

func (p *Pipeline) transcribe(
	ctx context.Context,
	audio []byte,
	filename string,
) (string, error) {
	transcript, err := p.transcriber.Transcribe(ctx, audio, filename)
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}

	if strings.TrimSpace(transcript) == "" {
		return "", fmt.Errorf(errFmtEmptyTranscript, core.ErrInvalidInput)
	}

	p.log.Info(logFmtTranscript, fileutil.FormatFileSize(int64(len(audio))), len(transcript))

	return transcript, nil
}

func (p *Pipeline) completeTable(
	ctx context.Context,
	completer core.Completer,
	request core.CompletionRequest,
) (core.Table, error) {
	empty := core.Table{Headers: nil, Rows: nil}

	envelope, err := completer.Complete(ctx, request)
	if err != nil {
		return empty, fmt.Errorf("completion failed: %w", err)
	}

	content, err := tabular.ExtractMessageContent(envelope)
	if err != nil {
		return empty, err
	}

	table, err := p.normalizer.Normalize(tabular.StripFences(content))
	if err != nil {
		return empty, err
	}

	p.log.Info(logFmtTableResult, table.ColumnCount(), table.RowCount())

	return table, nil
}
