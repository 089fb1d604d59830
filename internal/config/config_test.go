// Package config_test tests the configuration loading for the table service.
package config_test

import (
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicetable/table-service/internal/config"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	tomlData := `
[project]
name = "table-service"
version = "1.0.0"

[paths]
base_logs_dir = "/var/log/table-service"

[http]
host = "127.0.0.1"
port = 9090
max_upload_mb = 16

[vision]
base_url = "https://api.openai.com/v1"
model = "gpt-4o"
api_key_env = "OPENAI_API_KEY"
max_tokens = 4096
temperature = 0.1

[tablegen]
base_url = "https://api.openai.com/v1"
model = "gpt-4o"
api_key_env = "OPENAI_API_KEY"
max_tokens = 2048
temperature = 0.3

[transcription]
base_url = "https://api.openai.com/v1"
model = "whisper-1"
language = "en"
api_key_env = "OPENAI_API_KEY"

[synthesis]
default_backend = "online"
voice = "en-US-JennyNeural"
rate = 1.25
volume = 0.8
locale_prefix = "en"
feedback_enabled = true

[synthesis.online]
stream_url = "wss://voice.example.com/stream"
voices_url = "https://voice.example.com/voices"

[synthesis.offline]
engine_path = "/usr/bin/espeak-ng"
temp_dir = "/tmp/table-service"

[playback]
player_path = "aplay"
enabled = true

[nats]
url = "nats://127.0.0.1:4222"
speak_subject = "table.speak.requested"
audio_ready_subject = "table.speak.ready"
failed_subject = "table.speak.failed"
audio_bucket = "SPOKEN_AUDIO"
concurrency = 2
enabled = true
`

	var cfg config.Config

	err := toml.Unmarshal([]byte(tomlData), &cfg)
	require.NoError(t, err)

	assert.Equal(t, "table-service", cfg.Project.Name)
	assert.Equal(t, "/var/log/table-service", cfg.Paths.BaseLogsDir)
	assert.Equal(t, "127.0.0.1:9090", cfg.HTTP.Addr())
	assert.Equal(t, int64(16*1024*1024), cfg.HTTP.MaxUploadBytes())
	assert.Equal(t, "gpt-4o", cfg.Vision.Model)
	assert.Equal(t, 4096, cfg.Vision.MaxTokens)
	assert.InEpsilon(t, 0.1, cfg.Vision.Temperature, 0.001)
	assert.Equal(t, 2048, cfg.TableGen.MaxTokens)
	assert.InEpsilon(t, 0.3, cfg.TableGen.Temperature, 0.001)
	assert.Equal(t, "whisper-1", cfg.Transcription.Model)
	assert.Equal(t, "en", cfg.Transcription.Language)
	assert.Equal(t, "online", cfg.Synthesis.DefaultBackend)
	assert.Equal(t, "en-US-JennyNeural", cfg.Synthesis.Voice)
	assert.InEpsilon(t, 1.25, cfg.Synthesis.Rate, 0.001)
	assert.Equal(t, "wss://voice.example.com/stream", cfg.Synthesis.Online.StreamURL)
	assert.Equal(t, "/usr/bin/espeak-ng", cfg.Synthesis.Offline.EnginePath)
	assert.True(t, cfg.Synthesis.FeedbackEnabled)
	assert.Equal(t, "table.speak.requested", cfg.NATS.SpeakSubject)
	assert.Equal(t, "SPOKEN_AUDIO", cfg.NATS.AudioBucket)
	assert.Equal(t, 2, cfg.NATS.Concurrency)
	assert.True(t, cfg.NATS.Enabled)

	require.NoError(t, cfg.Validate())
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	cfg.ApplyDefaults()

	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
	assert.Equal(t, int64(8*1024*1024), cfg.HTTP.MaxUploadBytes())
	assert.Equal(t, "gpt-4o", cfg.Vision.Model)
	assert.Equal(t, 4096, cfg.Vision.MaxTokens)
	assert.InEpsilon(t, 0.1, cfg.Vision.Temperature, 0.001)
	assert.Equal(t, 2048, cfg.TableGen.MaxTokens)
	assert.Equal(t, "whisper-1", cfg.Transcription.Model)
	assert.Equal(t, "online", cfg.Synthesis.DefaultBackend)
	assert.Equal(t, "en-US-AriaNeural", cfg.Synthesis.Voice)
	assert.InEpsilon(t, 1.0, cfg.Synthesis.Rate, 0.001)
	assert.InEpsilon(t, 0.9, cfg.Synthesis.Volume, 0.001)
	assert.Equal(t, "en", cfg.Synthesis.LocalePrefix)
	assert.Equal(t, "espeak-ng", cfg.Synthesis.Offline.EnginePath)
	assert.Equal(t, 4, cfg.NATS.Concurrency)
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	base := func() config.Config {
		var cfg config.Config

		cfg.Paths.BaseLogsDir = "/tmp/logs"
		cfg.Vision.BaseURL = "https://v.example.com"
		cfg.TableGen.BaseURL = "https://t.example.com"
		cfg.Transcription.BaseURL = "https://w.example.com"
		cfg.ApplyDefaults()
		cfg.Synthesis.Online.StreamURL = "wss://voice.example.com/stream"

		return cfg
	}

	tests := []struct {
		mutate  func(*config.Config)
		wantErr error
		name    string
	}{
		{
			name:    "missing logs dir",
			mutate:  func(c *config.Config) { c.Paths.BaseLogsDir = "" },
			wantErr: config.ErrLogsDirRequired,
		},
		{
			name:    "missing vision url",
			mutate:  func(c *config.Config) { c.Vision.BaseURL = "" },
			wantErr: config.ErrVisionURLRequired,
		},
		{
			name:    "missing tablegen url",
			mutate:  func(c *config.Config) { c.TableGen.BaseURL = "" },
			wantErr: config.ErrTableGenURLRequired,
		},
		{
			name:    "missing transcription url",
			mutate:  func(c *config.Config) { c.Transcription.BaseURL = "" },
			wantErr: config.ErrWhisperURLRequired,
		},
		{
			name:    "unknown backend",
			mutate:  func(c *config.Config) { c.Synthesis.DefaultBackend = "cloud" },
			wantErr: config.ErrUnknownBackend,
		},
		{
			name:    "online backend without stream url",
			mutate:  func(c *config.Config) { c.Synthesis.Online.StreamURL = "" },
			wantErr: config.ErrStreamURLRequired,
		},
		{
			name: "nats enabled without url",
			mutate: func(c *config.Config) {
				c.NATS.Enabled = true
				c.NATS.SpeakSubject = "table.speak.requested"
				c.NATS.AudioBucket = "SPOKEN_AUDIO"
			},
			wantErr: config.ErrNATSURLRequired,
		},
		{
			name: "nats enabled without reply subjects",
			mutate: func(c *config.Config) {
				c.NATS.Enabled = true
				c.NATS.URL = "nats://127.0.0.1:4222"
				c.NATS.SpeakSubject = "table.speak.requested"
				c.NATS.AudioBucket = "SPOKEN_AUDIO"
			},
			wantErr: config.ErrReplySubjectsRequired,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			cfg := base()
			testCase.mutate(&cfg)

			err := cfg.Validate()
			require.ErrorIs(t, err, testCase.wantErr)
		})
	}
}
