// Package httpapi exposes the table extraction, voice, and speech operations
// over HTTP. Handlers translate between multipart/JSON requests and the
// pipeline, selector, and announcer collaborators; the sentinel error
// taxonomy maps onto stable status codes and machine-readable error codes.
package httpapi

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"lukechampine.com/blake3"

	"github.com/voicetable/table-service/internal/core"
	"github.com/voicetable/table-service/internal/pipeline"
	"github.com/voicetable/table-service/internal/synthesis"
)

// Machine-readable error codes returned in response bodies. Clients branch
// on these, not on the human-readable detail.
const (
	codeInvalidInput    = "INVALID_INPUT"
	codeUpstreamFailure = "UPSTREAM_FAILURE"
	codeTableParse      = "TABLE_PARSE"
	codeTableShape      = "TABLE_SHAPE"
	codeSynthesisFailed = "SYNTHESIS_FAILED"
	codeInternal        = "INTERNAL"
)

// Static validation errors for server construction.
var (
	ErrNilTables    = errors.New("table pipeline cannot be nil")
	ErrNilSpeech    = errors.New("speech selector cannot be nil")
	ErrNilAnnouncer = errors.New("feedback announcer cannot be nil")
	ErrNilLogger    = errors.New("logger cannot be nil")
)

// Log format constants.
const (
	logFmtRequest     = "%s %s -> %d (%s) request_id=%s"
	warnFmtEncodeBody = "Failed to encode response body: %v"
	warnFmtHandler    = "%s %s failed: %v"
)

// Tables is the pipeline surface the handlers need. *pipeline.Pipeline
// satisfies it.
type Tables interface {
	TableFromImage(ctx context.Context, imageData []byte) (core.Table, error)
	TableFromVoice(
		ctx context.Context,
		audio []byte,
		filename string,
	) (pipeline.VoiceResult, error)
	EditTableFromVoice(
		ctx context.Context,
		audio []byte,
		filename string,
		current core.Table,
	) (pipeline.VoiceResult, error)
}

// Speech is the synthesis surface the handlers need. *synthesis.Selector
// satisfies it.
type Speech interface {
	SynthesizeWith(
		ctx context.Context,
		text string,
		overrides synthesis.Overrides,
	) ([]byte, error)
	Voices(ctx context.Context) ([]core.Voice, error)
	SetVoice(voice string)
	SetRate(rate float64)
	SetVolume(volume float64)
	CurrentSettings() synthesis.Settings
}

// Announcer speaks operation feedback. *feedback.Announcer satisfies it.
type Announcer interface {
	TableCreated(headers []string, rowCount int)
	TableEdited()
	Heard(transcript string)
	OperationFailed(reason string)
}

// Server holds the wired collaborators behind the HTTP handlers.
type Server struct {
	tables    Tables
	speech    Speech
	announcer Announcer
	service   string
	version   string
	maxUpload int64
	log       *logger.Logger
}

// New validates the collaborators and builds a Server. maxUpload bounds
// request bodies in bytes.
func New(
	tables Tables,
	speech Speech,
	announcer Announcer,
	service string,
	version string,
	maxUpload int64,
	log *logger.Logger,
) (*Server, error) {
	if tables == nil {
		return nil, ErrNilTables
	}

	if speech == nil {
		return nil, ErrNilSpeech
	}

	if announcer == nil {
		return nil, ErrNilAnnouncer
	}

	if log == nil {
		return nil, ErrNilLogger
	}

	return &Server{
		tables:    tables,
		speech:    speech,
		announcer: announcer,
		service:   service,
		version:   version,
		maxUpload: maxUpload,
		log:       log,
	}, nil
}

// Router assembles the route tree with request identification, panic
// recovery, and request logging applied to every endpoint.
func (s *Server) Router() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(s.logRequests)
	router.Use(middleware.Recoverer)

	router.Get("/health", s.handleHealth)

	router.Route("/api", func(api chi.Router) {
		api.Post("/table/from-image", s.handleTableFromImage)
		api.Post("/table/from-voice", s.handleTableFromVoice)
		api.Post("/table/edit", s.handleTableEdit)
		api.Post("/speak", s.handleSpeak)
		api.Get("/voices", s.handleVoices)
		api.Put("/voice-settings", s.handleVoiceSettings)
	})

	return router
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(wrapped, r)

		s.log.Info(
			logFmtRequest,
			r.Method,
			r.URL.Path,
			wrapped.Status(),
			time.Since(start).Round(time.Millisecond),
			middleware.GetReqID(r.Context()),
		)
	})
}

type errorBody struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code"`
}

// classify maps the sentinel taxonomy to HTTP status and error code. Local
// validation is the caller's fault; everything the upstream ruined is a bad
// gateway; the rest is internal.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		return http.StatusBadRequest, codeInvalidInput
	case errors.Is(err, core.ErrTableParse):
		return http.StatusBadGateway, codeTableParse
	case errors.Is(err, core.ErrTableShape):
		return http.StatusBadGateway, codeTableShape
	case errors.Is(err, core.ErrMalformedEnvelope), errors.Is(err, core.ErrUpstream):
		return http.StatusBadGateway, codeUpstreamFailure
	case errors.Is(err, core.ErrSynthesisFailed):
		return http.StatusBadGateway, codeSynthesisFailed
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)

	s.log.Warn(warnFmtHandler, r.Method, r.URL.Path, err)
	s.writeJSON(w, status, errorBody{
		Detail:    err.Error(),
		ErrorCode: code,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(payload)
	if err != nil {
		s.log.Warn(warnFmtEncodeBody, err)
	}
}

// contentID is a short blake3 digest correlating log lines about one upload
// without logging the payload itself.
func contentID(data []byte) string {
	sum := blake3.Sum256(data)

	return hex.EncodeToString(sum[:6])
}
