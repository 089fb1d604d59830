package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/gorilla/websocket"

	"github.com/voicetable/table-service/internal/core"
)

// Streaming protocol constants. The voice service streams JSON frames typed
// by a "type" field; only audio frames carry payload data.
const (
	onlineBackendName = "online"

	chunkTypeAudio = "audio"
	chunkTypeEnd   = "end"

	headerAuthorization = "Authorization"
	bearerPrefix        = "Bearer "

	// All outbound calls share one hard deadline and never retry.
	requestTimeout = 60 * time.Second

	maxBodyExcerpt = 200
)

// Error and log format constants.
const (
	errFmtDialStream     = "%w: dialing voice stream: %v"
	errFmtStreamDeadline = "%w: arming stream deadline: %v"
	errFmtSendStart      = "%w: sending synthesis start frame: %v"
	errFmtReadChunk      = "%w: reading synthesis stream: %v"
	errFmtVoicesRequest  = "failed to create voice catalog request: %w"
	errFmtVoicesExecute  = "%w: fetching voice catalog: %v"
	errFmtVoicesStatus   = "%w: voice catalog status %d: %s"
	errFmtVoicesDecode   = "%w: decoding voice catalog: %v"
	warnFmtCloseStream   = "Failed to close voice stream: %v"
	warnFmtCloseBody     = "Failed to close voice catalog response body: %v"
	logFmtStreamComplete = "Voice stream delivered %d audio chunks (%d bytes)"
)

// Online streams synthesis from a remote voice service over WebSocket and
// serves the voice catalog over HTTP.
type Online struct {
	streamURL    string
	voicesURL    string
	apiKey       string
	localePrefix string
	dialer       *websocket.Dialer
	httpClient   *http.Client
	log          *logger.Logger
}

// NewOnline creates the online backend. localePrefix filters the voice
// catalog (for example "en" keeps en-US, en-GB, ...).
func NewOnline(streamURL, voicesURL, apiKey, localePrefix string, log *logger.Logger) *Online {
	return &Online{
		streamURL:    streamURL,
		voicesURL:    voicesURL,
		apiKey:       apiKey,
		localePrefix: localePrefix,
		dialer:       websocket.DefaultDialer,
		httpClient:   &http.Client{Timeout: requestTimeout},
		log:          log,
	}
}

// Name identifies this backend in configuration and per-call overrides.
func (o *Online) Name() string {
	return onlineBackendName
}

// startFrame opens a synthesis stream. Rate travels as a signed percentage
// offset ("+0%" is normal speed).
type startFrame struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
	Rate  string `json:"rate"`
}

// streamChunk is one typed frame of the stream. Data is base64 in transit
// and decoded by encoding/json.
type streamChunk struct {
	Type string `json:"type"`
	Data []byte `json:"data"`
}

// Synthesize streams req.Text and returns the concatenated audio chunks.
// Frames with a type other than "audio" are skipped; a frame typed "end" or
// a normal close finishes the stream. An empty stream yields empty bytes,
// not an error.
func (o *Online) Synthesize(
	ctx context.Context,
	req core.SynthesisRequest,
) ([]byte, error) {
	conn, err := o.dial(ctx)
	if err != nil {
		return nil, err
	}

	defer func() {
		closeErr := conn.Close()
		if closeErr != nil {
			o.log.Warn(warnFmtCloseStream, closeErr)
		}
	}()

	// One deadline bounds the whole stream exchange, start frame included.
	deadline := time.Now().Add(requestTimeout)

	err = conn.SetWriteDeadline(deadline)
	if err != nil {
		return nil, fmt.Errorf(errFmtStreamDeadline, core.ErrUpstream, err)
	}

	err = conn.SetReadDeadline(deadline)
	if err != nil {
		return nil, fmt.Errorf(errFmtStreamDeadline, core.ErrUpstream, err)
	}

	start := startFrame{
		Text:  req.Text,
		Voice: req.Voice,
		Rate:  formatRateOffset(req.Rate),
	}

	err = conn.WriteJSON(start)
	if err != nil {
		return nil, fmt.Errorf(errFmtSendStart, core.ErrUpstream, err)
	}

	return o.collectAudio(conn)
}

func (o *Online) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if o.apiKey != "" {
		header.Set(headerAuthorization, bearerPrefix+o.apiKey)
	}

	conn, resp, err := o.dialer.DialContext(ctx, o.streamURL, header)
	if err != nil {
		return nil, fmt.Errorf(errFmtDialStream, core.ErrUpstream, err)
	}

	if resp != nil && resp.Body != nil {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			o.log.Warn(warnFmtCloseBody, closeErr)
		}
	}

	return conn, nil
}

func (o *Online) collectAudio(conn *websocket.Conn) ([]byte, error) {
	var (
		buffer bytes.Buffer
		chunks int
	)

	for {
		var chunk streamChunk

		err := conn.ReadJSON(&chunk)
		if err != nil {
			if isStreamEnd(err) {
				break
			}

			return nil, fmt.Errorf(errFmtReadChunk, core.ErrUpstream, err)
		}

		if chunk.Type == chunkTypeEnd {
			break
		}

		if chunk.Type != chunkTypeAudio {
			continue
		}

		buffer.Write(chunk.Data)
		chunks++
	}

	o.log.Info(logFmtStreamComplete, chunks, buffer.Len())

	return buffer.Bytes(), nil
}

// isStreamEnd reports whether a read error is a clean end of stream rather
// than a transport failure.
func isStreamEnd(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure) ||
		errors.Is(err, io.EOF)
}

// edge-style voice catalog entry.
type voiceEntry struct {
	Name      string `json:"Name"`
	ShortName string `json:"ShortName"`
	Gender    string `json:"Gender"`
	Locale    string `json:"Locale"`
}

// Voices fetches the catalog and keeps only voices whose locale starts with
// the configured prefix.
func (o *Online) Voices(ctx context.Context) ([]core.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.voicesURL, nil)
	if err != nil {
		return nil, fmt.Errorf(errFmtVoicesRequest, err)
	}

	if o.apiKey != "" {
		req.Header.Set(headerAuthorization, bearerPrefix+o.apiKey)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf(errFmtVoicesExecute, core.ErrUpstream, err)
	}

	defer func() {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			o.log.Warn(warnFmtCloseBody, closeErr)
		}
	}()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)

		return nil, fmt.Errorf(
			errFmtVoicesStatus, core.ErrUpstream, resp.StatusCode, excerpt(body),
		)
	}

	var entries []voiceEntry

	err = json.NewDecoder(resp.Body).Decode(&entries)
	if err != nil {
		return nil, fmt.Errorf(errFmtVoicesDecode, core.ErrUpstream, err)
	}

	voices := make([]core.Voice, 0, len(entries))

	for _, entry := range entries {
		if !strings.HasPrefix(entry.Locale, o.localePrefix) {
			continue
		}

		voices = append(voices, core.Voice{
			ID:     entry.ShortName,
			Name:   entry.Name,
			Locale: entry.Locale,
			Gender: entry.Gender,
		})
	}

	return voices, nil
}

// formatRateOffset renders a rate multiplier as the signed percentage offset
// the streaming protocol expects: 1.0 -> "+0%", 1.5 -> "+50%", 0.5 -> "-50%".
func formatRateOffset(rate float64) string {
	offset := int(math.Round((rate - 1.0) * 100))

	return fmt.Sprintf("%+d%%", offset)
}

func excerpt(body []byte) string {
	if len(body) <= maxBodyExcerpt {
		return string(body)
	}

	return string(body[:maxBodyExcerpt]) + "..."
}
