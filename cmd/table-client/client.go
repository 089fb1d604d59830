package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"

	"github.com/voicetable/table-service/internal/core"
)

// Service routes.
const (
	routeHealth    = "/health"
	routeFromImage = "/api/table/from-image"
	routeFromVoice = "/api/table/from-voice"
	routeEdit      = "/api/table/edit"
	routeSpeak     = "/api/speak"
	routeVoices    = "/api/voices"
)

// Multipart field names the service expects.
const (
	uploadField = "file"
	tableField  = "table"
)

const (
	errFmtBuildRequest = "build %s request: %w"
	errFmtDoRequest    = "call %s: %w"
	errFmtReadResponse = "read %s response: %w"
	errFmtDecodeBody   = "decode %s response: %w"
	errFmtStatus       = "service returned status %d"
	errFmtServiceError = "service rejected the request (%s): %s"
	errFmtReadFile     = "read %s: %w"
)

// apiClient talks to a running table service over HTTP.
type apiClient struct {
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger
}

func newAPIClient(baseURL string, timeout time.Duration, log *logger.Logger) *apiClient {
	return &apiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// tableResult mirrors the image endpoint's response body.
type tableResult struct {
	Table core.Table `json:"table"`
}

// voiceTableResult mirrors the voice endpoints' response body.
type voiceTableResult struct {
	Table      core.Table `json:"table"`
	Transcript string     `json:"transcript"`
}

type serviceError struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code"`
}

type speakPayload struct {
	Text    string `json:"text"`
	Voice   string `json:"voice,omitempty"`
	Backend string `json:"backend,omitempty"`
}

func (c *apiClient) health(ctx context.Context) error {
	resp, err := c.get(ctx, routeHealth)
	if err != nil {
		return err
	}
	defer c.closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf(errFmtStatus, resp.StatusCode)
	}

	return nil
}

func (c *apiClient) tableFromImage(
	ctx context.Context,
	imagePath string,
) (core.Table, error) {
	var result tableResult

	err := c.uploadFile(ctx, routeFromImage, imagePath, nil, &result)
	if err != nil {
		return core.Table{Headers: nil, Rows: nil}, err
	}

	return result.Table, nil
}

func (c *apiClient) tableFromVoice(
	ctx context.Context,
	audioPath string,
) (voiceTableResult, error) {
	var result voiceTableResult

	err := c.uploadFile(ctx, routeFromVoice, audioPath, nil, &result)
	if err != nil {
		return emptyVoiceResult(), err
	}

	return result, nil
}

func (c *apiClient) editTable(
	ctx context.Context,
	audioPath, tablePath string,
) (voiceTableResult, error) {
	tableJSON, err := os.ReadFile(tablePath)
	if err != nil {
		return emptyVoiceResult(), fmt.Errorf(errFmtReadFile, tablePath, err)
	}

	var result voiceTableResult

	fields := map[string]string{tableField: string(tableJSON)}

	err = c.uploadFile(ctx, routeEdit, audioPath, fields, &result)
	if err != nil {
		return emptyVoiceResult(), err
	}

	return result, nil
}

func (c *apiClient) speak(
	ctx context.Context,
	text, voice, backend string,
) ([]byte, error) {
	payload, err := json.Marshal(speakPayload{
		Text:    text,
		Voice:   voice,
		Backend: backend,
	})
	if err != nil {
		return nil, fmt.Errorf(errFmtBuildRequest, routeSpeak, err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+routeSpeak, bytes.NewReader(payload),
	)
	if err != nil {
		return nil, fmt.Errorf(errFmtBuildRequest, routeSpeak, err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf(errFmtDoRequest, routeSpeak, err)
	}
	defer c.closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, c.decodeAPIError(resp)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf(errFmtReadResponse, routeSpeak, err)
	}

	return audio, nil
}

func (c *apiClient) voices(ctx context.Context) ([]core.Voice, error) {
	resp, err := c.get(ctx, routeVoices)
	if err != nil {
		return nil, err
	}
	defer c.closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, c.decodeAPIError(resp)
	}

	var body struct {
		Voices []core.Voice `json:"voices"`
	}

	err = json.NewDecoder(resp.Body).Decode(&body)
	if err != nil {
		return nil, fmt.Errorf(errFmtDecodeBody, routeVoices, err)
	}

	return body.Voices, nil
}

func (c *apiClient) get(ctx context.Context, route string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, c.baseURL+route, nil,
	)
	if err != nil {
		return nil, fmt.Errorf(errFmtBuildRequest, route, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf(errFmtDoRequest, route, err)
	}

	return resp, nil
}

// uploadFile posts a local file plus optional form fields as multipart data
// and decodes a successful JSON response into target.
func (c *apiClient) uploadFile(
	ctx context.Context,
	route, filePath string,
	fields map[string]string,
	target any,
) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf(errFmtReadFile, filePath, err)
	}

	body, contentType, err := buildMultipartBody(
		filepath.Base(filePath), data, fields,
	)
	if err != nil {
		return fmt.Errorf(errFmtBuildRequest, route, err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+route, body,
	)
	if err != nil {
		return fmt.Errorf(errFmtBuildRequest, route, err)
	}

	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf(errFmtDoRequest, route, err)
	}
	defer c.closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return c.decodeAPIError(resp)
	}

	err = json.NewDecoder(resp.Body).Decode(target)
	if err != nil {
		return fmt.Errorf(errFmtDecodeBody, route, err)
	}

	return nil
}

func buildMultipartBody(
	filename string,
	data []byte,
	fields map[string]string,
) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	for key, value := range fields {
		err := writer.WriteField(key, value)
		if err != nil {
			return nil, "", fmt.Errorf("write form field %q: %w", key, err)
		}
	}

	part, err := writer.CreateFormFile(uploadField, filename)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}

	_, err = part.Write(data)
	if err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}

	err = writer.Close()
	if err != nil {
		return nil, "", fmt.Errorf("finish multipart body: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// decodeAPIError turns a non-200 response into an error, preferring the
// service's own detail message when the body carries one.
func (c *apiClient) decodeAPIError(resp *http.Response) error {
	var body serviceError

	err := json.NewDecoder(resp.Body).Decode(&body)
	if err != nil || body.Detail == "" {
		return fmt.Errorf(errFmtStatus, resp.StatusCode)
	}

	return fmt.Errorf(errFmtServiceError, body.ErrorCode, body.Detail)
}

func (c *apiClient) closeBody(resp *http.Response) {
	closeErr := resp.Body.Close()
	if closeErr != nil {
		c.log.Warn("Failed to close response body: %v", closeErr)
	}
}

func emptyVoiceResult() voiceTableResult {
	return voiceTableResult{
		Table:      core.Table{Headers: nil, Rows: nil},
		Transcript: "",
	}
}
