// Package chatapi implements the HTTP client for OpenAI-compatible chat
// completion services. The client owns transport concerns only: request
// shaping, authentication, timeouts, and status handling. Envelope
// interpretation belongs to the tabular package.
package chatapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/logger"

	"github.com/voicetable/table-service/internal/core"
)

// API constants.
const (
	apiChatCompletions = "/chat/completions"
	headerContentType  = "Content-Type"
	headerAuth         = "Authorization"
	contentTypeJSON    = "application/json"
	bearerPrefix       = "Bearer "

	roleUser         = "user"
	partTypeText     = "text"
	partTypeImageURL = "image_url"
	dataURLFmt       = "data:image/%s;base64,%s"
	defaultImageKind = "png"

	// All outbound calls share one hard deadline and never retry.
	requestTimeout = 60 * time.Second

	maxBodyExcerpt = 200
)

// Error format constants.
const (
	errFmtMarshalRequest = "failed to marshal completion request: %w"
	errFmtCreateRequest  = "failed to create completion request: %w"
	errFmtExecuteRequest = "%w: executing completion request: %v"
	errFmtReadBody       = "%w: reading completion response: %v"
	errFmtBadStatus      = "%w: completion status %d: %s"
	errFmtEmptyPrompt    = "%w: completion prompt is empty"
)

// Client calls one chat-completion endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *logger.Logger
}

// New creates a chat-completion client for the given base URL. The API key
// may be empty for unauthenticated local endpoints.
func New(baseURL, apiKey string, log *logger.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
		log:        log,
	}
}

// Wire types for the chat completions API. Message content is either a plain
// string or a slice of typed parts when an image rides along.
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type completionPayload struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

// Complete executes one completion call and returns the raw envelope bytes.
// Transport failures and any status of 300 or above surface as
// core.ErrUpstream with a body excerpt.
func (c *Client) Complete(
	ctx context.Context,
	req core.CompletionRequest,
) ([]byte, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf(errFmtEmptyPrompt, core.ErrInvalidInput)
	}

	body, err := json.Marshal(buildPayload(req))
	if err != nil {
		return nil, fmt.Errorf(errFmtMarshalRequest, err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiChatCompletions,
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf(errFmtCreateRequest, err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)

	if c.apiKey != "" {
		httpReq.Header.Set(headerAuth, bearerPrefix+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf(errFmtExecuteRequest, core.ErrUpstream, err)
	}

	defer func() {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			c.log.Warn("Failed to close completion response body: %v", closeErr)
		}
	}()

	envelope, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf(errFmtReadBody, core.ErrUpstream, err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf(
			errFmtBadStatus,
			core.ErrUpstream,
			resp.StatusCode,
			excerpt(envelope),
		)
	}

	return envelope, nil
}

// buildPayload shapes the outbound message list. An attached image becomes a
// base64 data URL part alongside the prompt text.
func buildPayload(req core.CompletionRequest) completionPayload {
	var content any = req.Prompt

	if len(req.ImageData) > 0 {
		kind := req.ImageFormat
		if kind == "" {
			kind = defaultImageKind
		}

		encoded := base64.StdEncoding.EncodeToString(req.ImageData)
		content = []contentPart{
			{Type: partTypeText, Text: req.Prompt, ImageURL: nil},
			{
				Type: partTypeImageURL,
				Text: "",
				ImageURL: &imageURL{
					URL: fmt.Sprintf(dataURLFmt, kind, encoded),
				},
			},
		}
	}

	return completionPayload{
		Model:       req.Model,
		Messages:    []chatMessage{{Role: roleUser, Content: content}},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
}

func excerpt(body []byte) string {
	if len(body) <= maxBodyExcerpt {
		return string(body)
	}

	return string(body[:maxBodyExcerpt]) + "..."
}
