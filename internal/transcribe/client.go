// Package transcribe provides the speech-to-text client for voice table
// operations.
//
// The client posts audio as multipart form data to an OpenAI-compatible
// transcription endpoint and requests the plain-text response format, so the
// response body IS the transcript rather than a JSON envelope.
package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/logger"

	"github.com/voicetable/table-service/internal/core"
)

// API constants.
const (
	apiTranscriptions = "/audio/transcriptions"

	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
	bearerPrefix        = "Bearer "

	formFieldFile           = "file"
	formFieldModel          = "model"
	formFieldLanguage       = "language"
	formFieldResponseFormat = "response_format"
	responseFormatText      = "text"

	defaultUploadName = "audio.wav"

	// All outbound calls share one hard deadline and never retry.
	requestTimeout = 60 * time.Second

	maxBodyExcerpt = 200
)

// Error format constants.
const (
	errFmtEmptyAudio       = "%w: audio payload is empty"
	errFmtCreateFormFile   = "failed to create form file: %w"
	errFmtCopyAudio        = "failed to copy audio data: %w"
	errFmtWriteModelField  = "failed to write model field: %w"
	errFmtWriteLangField   = "failed to write language field: %w"
	errFmtWriteRespFormat  = "failed to write response format field: %w"
	errFmtCloseWriter      = "failed to close multipart writer: %w"
	errFmtCreateRequest    = "failed to create transcription request: %w"
	errFmtExecuteRequest   = "%w: executing transcription request: %v"
	errFmtReadBody         = "%w: reading transcription response: %v"
	errFmtBadStatus        = "%w: transcription status %d: %s"
	warnFmtCloseRespBody   = "Failed to close transcription response body: %v"
	logFmtTranscriptLength = "Transcribed %d audio bytes into %d characters"
)

// Client provides transcription against one endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	language   string
	httpClient *http.Client
	log        *logger.Logger
}

// New creates a transcription client. Language may be empty to let the
// service auto-detect.
func New(baseURL, apiKey, model, language string, log *logger.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		language:   language,
		httpClient: &http.Client{Timeout: requestTimeout},
		log:        log,
	}
}

// Transcribe converts spoken audio into trimmed plain text. Empty audio is
// rejected locally before any network call.
func (c *Client) Transcribe(
	ctx context.Context,
	audio []byte,
	filename string,
) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf(errFmtEmptyAudio, core.ErrInvalidInput)
	}

	body, contentType, err := c.buildForm(audio, filename)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiTranscriptions,
		body,
	)
	if err != nil {
		return "", fmt.Errorf(errFmtCreateRequest, err)
	}

	if c.apiKey != "" {
		req.Header.Set(headerAuthorization, bearerPrefix+c.apiKey)
	}

	req.Header.Set(headerContentType, contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf(errFmtExecuteRequest, core.ErrUpstream, err)
	}

	defer func() {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			c.log.Warn(warnFmtCloseRespBody, closeErr)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf(errFmtReadBody, core.ErrUpstream, err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf(
			errFmtBadStatus,
			core.ErrUpstream,
			resp.StatusCode,
			excerpt(raw),
		)
	}

	transcript := strings.TrimSpace(string(raw))
	c.log.Info(logFmtTranscriptLength, len(audio), len(transcript))

	return transcript, nil
}

// buildForm assembles the multipart body: the audio part plus the model,
// language, and response format fields.
func (c *Client) buildForm(
	audio []byte,
	filename string,
) (*bytes.Buffer, string, error) {
	if filename == "" {
		filename = defaultUploadName
	}

	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile(formFieldFile, filename)
	if err != nil {
		return nil, "", fmt.Errorf(errFmtCreateFormFile, err)
	}

	_, err = io.Copy(part, bytes.NewReader(audio))
	if err != nil {
		return nil, "", fmt.Errorf(errFmtCopyAudio, err)
	}

	err = writer.WriteField(formFieldModel, c.model)
	if err != nil {
		return nil, "", fmt.Errorf(errFmtWriteModelField, err)
	}

	if c.language != "" {
		err = writer.WriteField(formFieldLanguage, c.language)
		if err != nil {
			return nil, "", fmt.Errorf(errFmtWriteLangField, err)
		}
	}

	err = writer.WriteField(formFieldResponseFormat, responseFormatText)
	if err != nil {
		return nil, "", fmt.Errorf(errFmtWriteRespFormat, err)
	}

	err = writer.Close()
	if err != nil {
		return nil, "", fmt.Errorf(errFmtCloseWriter, err)
	}

	return &buf, writer.FormDataContentType(), nil
}

func excerpt(body []byte) string {
	if len(body) <= maxBodyExcerpt {
		return string(body)
	}

	return string(body[:maxBodyExcerpt]) + "..."
}
