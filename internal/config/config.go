// Package config provides the configuration structure for the table service.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Configuration defaults applied after loading.
const (
	defaultHost          = "0.0.0.0"
	defaultPort          = 8080
	defaultMaxUploadMB   = 8
	defaultVisionModel   = "gpt-4o"
	defaultTableGenModel = "gpt-4o"
	defaultWhisperModel  = "whisper-1"
	defaultLanguage      = "en"
	defaultVisionTokens  = 4096
	defaultVisionTemp    = 0.1
	defaultTableTokens   = 2048
	defaultTableTemp     = 0.3
	defaultBackendName   = "online"
	defaultVoice         = "en-US-AriaNeural"
	defaultRate          = 1.0
	defaultVolume        = 0.9
	defaultLocalePrefix  = "en"
	defaultEnginePath    = "espeak-ng"
	defaultPlayerPath    = "aplay"
	defaultConcurrency   = 4
)

// Backend names accepted for synthesis selection.
const (
	BackendOnline  = "online"
	BackendOffline = "offline"
)

// Static validation errors.
var (
	ErrLogsDirRequired       = errors.New("paths.base_logs_dir is required")
	ErrVisionURLRequired     = errors.New("vision.base_url is required")
	ErrTableGenURLRequired   = errors.New("tablegen.base_url is required")
	ErrWhisperURLRequired    = errors.New("transcription.base_url is required")
	ErrUnknownBackend        = errors.New("synthesis.default_backend must be online or offline")
	ErrNATSURLRequired       = errors.New("nats.url is required when nats is enabled")
	ErrSpeakSubjectRequired  = errors.New("nats.speak_subject is required when nats is enabled")
	ErrAudioBucketRequired   = errors.New("nats.audio_bucket is required when nats is enabled")
	ErrStreamURLRequired     = errors.New("synthesis.online.stream_url is required for the online backend")
	ErrEnginePathRequired    = errors.New("synthesis.offline.engine_path is required for the offline backend")
	ErrReplySubjectsRequired = errors.New("nats.audio_ready_subject and nats.failed_subject are required when nats is enabled")
)

// ProjectConfig identifies the service in health responses and logs.
type ProjectConfig struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// HTTPConfig holds the listener settings for the API surface.
type HTTPConfig struct {
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	MaxUploadMB int64  `toml:"max_upload_mb"`
}

// Addr renders the listen address for http.Server.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}

// MaxUploadBytes returns the upload cap in bytes.
func (h HTTPConfig) MaxUploadBytes() int64 {
	return h.MaxUploadMB * 1024 * 1024
}

// CompletionConfig configures one chat-completion collaborator. APIKeyEnv
// names the environment variable holding the key; the key itself never lives
// in TOML.
type CompletionConfig struct {
	BaseURL     string  `toml:"base_url"`
	Model       string  `toml:"model"`
	APIKeyEnv   string  `toml:"api_key_env"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float64 `toml:"temperature"`
}

// APIKey resolves the configured key from the environment.
func (c CompletionConfig) APIKey() string {
	return os.Getenv(c.APIKeyEnv)
}

// TranscriptionConfig configures the speech-to-text collaborator.
type TranscriptionConfig struct {
	BaseURL   string `toml:"base_url"`
	Model     string `toml:"model"`
	Language  string `toml:"language"`
	APIKeyEnv string `toml:"api_key_env"`
}

// APIKey resolves the configured key from the environment.
func (t TranscriptionConfig) APIKey() string {
	return os.Getenv(t.APIKeyEnv)
}

// OnlineSynthesisConfig configures the streaming voice service.
type OnlineSynthesisConfig struct {
	StreamURL string `toml:"stream_url"`
	VoicesURL string `toml:"voices_url"`
	APIKeyEnv string `toml:"api_key_env"`
}

// APIKey resolves the configured key from the environment.
func (o OnlineSynthesisConfig) APIKey() string {
	return os.Getenv(o.APIKeyEnv)
}

// OfflineSynthesisConfig configures the local engine binary. TempDir names
// the scratch directory for rendered WAV files; empty means the system
// default.
type OfflineSynthesisConfig struct {
	EnginePath string `toml:"engine_path"`
	TempDir    string `toml:"temp_dir"`
}

// SynthesisConfig holds voice output settings shared by both backends.
type SynthesisConfig struct {
	DefaultBackend  string                 `toml:"default_backend"`
	Voice           string                 `toml:"voice"`
	Rate            float64                `toml:"rate"`
	Volume          float64                `toml:"volume"`
	LocalePrefix    string                 `toml:"locale_prefix"`
	FeedbackEnabled bool                   `toml:"feedback_enabled"`
	Online          OnlineSynthesisConfig  `toml:"online"`
	Offline         OfflineSynthesisConfig `toml:"offline"`
}

// PlaybackConfig configures local audio playback of voice feedback.
type PlaybackConfig struct {
	PlayerPath string `toml:"player_path"`
	Enabled    bool   `toml:"enabled"`
}

// NATSConfig holds the configuration for the asynchronous speak worker.
type NATSConfig struct {
	URL               string `toml:"url"`
	SpeakSubject      string `toml:"speak_subject"`
	AudioReadySubject string `toml:"audio_ready_subject"`
	FailedSubject     string `toml:"failed_subject"`
	AudioBucket       string `toml:"audio_bucket"`
	Concurrency       int    `toml:"concurrency"`
	Enabled           bool   `toml:"enabled"`
}

// Config is the root configuration structure.
type Config struct {
	Project       ProjectConfig       `toml:"project"`
	Paths         PathsConfig         `toml:"paths"`
	HTTP          HTTPConfig          `toml:"http"`
	Vision        CompletionConfig    `toml:"vision"`
	TableGen      CompletionConfig    `toml:"tablegen"`
	Transcription TranscriptionConfig `toml:"transcription"`
	Synthesis     SynthesisConfig     `toml:"synthesis"`
	Playback      PlaybackConfig      `toml:"playback"`
	NATS          NATSConfig          `toml:"nats"`
}

// Load loads the configuration for the table service, applies defaults, and
// validates the sections the enabled surfaces depend on.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyDefaults fills unset fields with service defaults. A zero rate or
// volume is treated as unset.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Host == "" {
		c.HTTP.Host = defaultHost
	}

	if c.HTTP.Port == 0 {
		c.HTTP.Port = defaultPort
	}

	if c.HTTP.MaxUploadMB == 0 {
		c.HTTP.MaxUploadMB = defaultMaxUploadMB
	}

	applyCompletionDefaults(&c.Vision, defaultVisionModel, defaultVisionTokens, defaultVisionTemp)
	applyCompletionDefaults(&c.TableGen, defaultTableGenModel, defaultTableTokens, defaultTableTemp)

	if c.Transcription.Model == "" {
		c.Transcription.Model = defaultWhisperModel
	}

	if c.Transcription.Language == "" {
		c.Transcription.Language = defaultLanguage
	}

	if c.Synthesis.DefaultBackend == "" {
		c.Synthesis.DefaultBackend = defaultBackendName
	}

	if c.Synthesis.Voice == "" {
		c.Synthesis.Voice = defaultVoice
	}

	if c.Synthesis.Rate == 0 {
		c.Synthesis.Rate = defaultRate
	}

	if c.Synthesis.Volume == 0 {
		c.Synthesis.Volume = defaultVolume
	}

	if c.Synthesis.LocalePrefix == "" {
		c.Synthesis.LocalePrefix = defaultLocalePrefix
	}

	if c.Synthesis.Offline.EnginePath == "" {
		c.Synthesis.Offline.EnginePath = defaultEnginePath
	}

	if c.Playback.PlayerPath == "" {
		c.Playback.PlayerPath = defaultPlayerPath
	}

	if c.NATS.Concurrency == 0 {
		c.NATS.Concurrency = defaultConcurrency
	}
}

func applyCompletionDefaults(
	section *CompletionConfig,
	model string,
	maxTokens int,
	temperature float64,
) {
	if section.Model == "" {
		section.Model = model
	}

	if section.MaxTokens == 0 {
		section.MaxTokens = maxTokens
	}

	if section.Temperature == 0 {
		section.Temperature = temperature
	}
}

// Validate checks the invariants the service cannot start without.
func (c *Config) Validate() error {
	if c.Paths.BaseLogsDir == "" {
		return ErrLogsDirRequired
	}

	err := c.validateUpstreams()
	if err != nil {
		return err
	}

	err = c.validateSynthesis()
	if err != nil {
		return err
	}

	return c.validateNATS()
}

func (c *Config) validateUpstreams() error {
	if c.Vision.BaseURL == "" {
		return ErrVisionURLRequired
	}

	if c.TableGen.BaseURL == "" {
		return ErrTableGenURLRequired
	}

	if c.Transcription.BaseURL == "" {
		return ErrWhisperURLRequired
	}

	return nil
}

func (c *Config) validateSynthesis() error {
	switch c.Synthesis.DefaultBackend {
	case BackendOnline:
		if c.Synthesis.Online.StreamURL == "" {
			return ErrStreamURLRequired
		}
	case BackendOffline:
		if c.Synthesis.Offline.EnginePath == "" {
			return ErrEnginePathRequired
		}
	default:
		return ErrUnknownBackend
	}

	return nil
}

func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}

	if c.NATS.URL == "" {
		return ErrNATSURLRequired
	}

	if c.NATS.SpeakSubject == "" {
		return ErrSpeakSubjectRequired
	}

	if c.NATS.AudioReadySubject == "" || c.NATS.FailedSubject == "" {
		return ErrReplySubjectsRequired
	}

	if c.NATS.AudioBucket == "" {
		return ErrAudioBucketRequired
	}

	return nil
}
