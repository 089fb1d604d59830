package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/voicetable/table-service/internal/audioformat"
	"github.com/voicetable/table-service/internal/core"
	"github.com/voicetable/table-service/internal/fileutil"
	"github.com/voicetable/table-service/internal/synthesis"
)

// Multipart field names shared with the CLI client.
const (
	uploadFieldName = "file"
	tableFieldName  = "table"
)

const (
	errFmtUploadTooLarge  = "%w: upload exceeds the %d byte limit"
	errFmtMissingUpload   = "%w: multipart field %q is required: %v"
	errFmtReadUpload      = "read upload: %w"
	errFmtTableFieldEmpty = "%w: form field %q must carry the current table JSON"
	errFmtTableDecode     = "%w: current table JSON is invalid: %v"
	errFmtBodyDecode      = "%w: request body must be JSON: %v"
	errFmtTextRequired    = "%w: text is required"
	errFmtNotAudio        = "%w: %q is not a supported audio upload"

	logFmtUpload       = "Received upload %q (%s) content_id=%s"
	warnFmtCloseUpload = "Failed to close upload part: %v"
	warnFmtWriteAudio  = "Failed to write audio response: %v"
)

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

type tableResponse struct {
	Table core.Table `json:"table"`
}

type voiceTableResponse struct {
	Table      core.Table `json:"table"`
	Transcript string     `json:"transcript"`
}

type voicesResponse struct {
	Voices []core.Voice `json:"voices"`
}

type speakRequest struct {
	Text    string `json:"text"`
	Voice   string `json:"voice"`
	Backend string `json:"backend"`
}

// voiceSettingsRequest uses pointers so an omitted field keeps the current
// session value.
type voiceSettingsRequest struct {
	Voice  *string  `json:"voice"`
	Rate   *float64 `json:"rate"`
	Volume *float64 `json:"volume"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Service: s.service,
		Version: s.version,
	})
}

func (s *Server) handleTableFromImage(w http.ResponseWriter, r *http.Request) {
	imageData, _, err := s.readUpload(w, r)
	if err != nil {
		s.respondError(w, r, err)

		return
	}

	table, err := s.tables.TableFromImage(r.Context(), imageData)
	if err != nil {
		s.announcer.OperationFailed(err.Error())
		s.respondError(w, r, err)

		return
	}

	s.announcer.TableCreated(table.Headers, table.RowCount())
	s.writeJSON(w, http.StatusOK, tableResponse{Table: table})
}

func (s *Server) handleTableFromVoice(w http.ResponseWriter, r *http.Request) {
	audio, filename, err := s.readUpload(w, r)
	if err != nil {
		s.respondError(w, r, err)

		return
	}

	err = requireAudioUpload(filename)
	if err != nil {
		s.respondError(w, r, err)

		return
	}

	result, err := s.tables.TableFromVoice(r.Context(), audio, filename)
	if err != nil {
		s.announcer.OperationFailed(err.Error())
		s.respondError(w, r, err)

		return
	}

	s.announcer.Heard(result.Transcript)
	s.announcer.TableCreated(result.Table.Headers, result.Table.RowCount())
	s.writeJSON(w, http.StatusOK, voiceTableResponse{
		Table:      result.Table,
		Transcript: result.Transcript,
	})
}

func (s *Server) handleTableEdit(w http.ResponseWriter, r *http.Request) {
	audio, filename, err := s.readUpload(w, r)
	if err != nil {
		s.respondError(w, r, err)

		return
	}

	err = requireAudioUpload(filename)
	if err != nil {
		s.respondError(w, r, err)

		return
	}

	current, err := parseTableField(r)
	if err != nil {
		s.respondError(w, r, err)

		return
	}

	result, err := s.tables.EditTableFromVoice(r.Context(), audio, filename, current)
	if err != nil {
		s.announcer.OperationFailed(err.Error())
		s.respondError(w, r, err)

		return
	}

	s.announcer.Heard(result.Transcript)
	s.announcer.TableEdited()
	s.writeJSON(w, http.StatusOK, voiceTableResponse{
		Table:      result.Table,
		Transcript: result.Transcript,
	})
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	var request speakRequest

	err := json.NewDecoder(r.Body).Decode(&request)
	if err != nil {
		s.respondError(w, r, fmt.Errorf(errFmtBodyDecode, core.ErrInvalidInput, err))

		return
	}

	if strings.TrimSpace(request.Text) == "" {
		s.respondError(w, r, fmt.Errorf(errFmtTextRequired, core.ErrInvalidInput))

		return
	}

	audio, err := s.speech.SynthesizeWith(r.Context(), request.Text, synthesis.Overrides{
		Backend: request.Backend,
		Voice:   request.Voice,
	})
	if err != nil {
		s.respondError(w, r, err)

		return
	}

	w.Header().Set("Content-Type", audioformat.ContentType(audio))
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	w.WriteHeader(http.StatusOK)

	_, err = w.Write(audio)
	if err != nil {
		s.log.Warn(warnFmtWriteAudio, err)
	}
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := s.speech.Voices(r.Context())
	if err != nil {
		s.respondError(w, r, err)

		return
	}

	if voices == nil {
		voices = []core.Voice{}
	}

	s.writeJSON(w, http.StatusOK, voicesResponse{Voices: voices})
}

func (s *Server) handleVoiceSettings(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	var request voiceSettingsRequest

	err := json.NewDecoder(r.Body).Decode(&request)
	if err != nil {
		s.respondError(w, r, fmt.Errorf(errFmtBodyDecode, core.ErrInvalidInput, err))

		return
	}

	if request.Voice != nil {
		s.speech.SetVoice(*request.Voice)
	}

	if request.Rate != nil {
		s.speech.SetRate(*request.Rate)
	}

	if request.Volume != nil {
		s.speech.SetVolume(*request.Volume)
	}

	s.writeJSON(w, http.StatusOK, s.speech.CurrentSettings())
}

// readUpload bounds the request body, pulls the file part, and logs a short
// content digest for correlation.
func (s *Server) readUpload(
	w http.ResponseWriter,
	r *http.Request,
) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	file, header, err := r.FormFile(uploadFieldName)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", fmt.Errorf(
				errFmtUploadTooLarge, core.ErrInvalidInput, tooLarge.Limit,
			)
		}

		return nil, "", fmt.Errorf(
			errFmtMissingUpload, core.ErrInvalidInput, uploadFieldName, err,
		)
	}

	defer func() {
		closeErr := file.Close()
		if closeErr != nil {
			s.log.Warn(warnFmtCloseUpload, closeErr)
		}
	}()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", fmt.Errorf(errFmtReadUpload, err)
	}

	s.log.Info(
		logFmtUpload,
		header.Filename,
		fileutil.FormatFileSize(int64(len(data))),
		contentID(data),
	)

	return data, header.Filename, nil
}

// requireAudioUpload rejects voice uploads whose filename does not carry a
// transcribable audio extension, before any upstream call is spent.
func requireAudioUpload(filename string) error {
	if !fileutil.IsSupportedAudio(filename) {
		return fmt.Errorf(errFmtNotAudio, core.ErrInvalidInput, filename)
	}

	return nil
}

func parseTableField(r *http.Request) (core.Table, error) {
	empty := core.Table{Headers: nil, Rows: nil}

	raw := r.FormValue(tableFieldName)
	if raw == "" {
		return empty, fmt.Errorf(errFmtTableFieldEmpty, core.ErrInvalidInput, tableFieldName)
	}

	var current core.Table

	err := json.Unmarshal([]byte(raw), &current)
	if err != nil {
		return empty, fmt.Errorf(errFmtTableDecode, core.ErrInvalidInput, err)
	}

	return current, nil
}
