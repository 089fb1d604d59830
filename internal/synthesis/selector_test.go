package synthesis_test

import (
	"context"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicetable/table-service/internal/core"
	"github.com/voicetable/table-service/internal/synthesis"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "synthesis-test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		closeErr := log.Close()
		if closeErr != nil {
			t.Logf("failed to close logger: %v", closeErr)
		}
	})

	return log
}

// mockBackend records the last request and plays back canned audio.
type mockBackend struct {
	name    string
	audio   []byte
	err     error
	calls   int
	lastReq core.SynthesisRequest
}

func (m *mockBackend) Name() string { return m.name }

func (m *mockBackend) Synthesize(
	_ context.Context,
	req core.SynthesisRequest,
) ([]byte, error) {
	m.calls++
	m.lastReq = req

	return m.audio, m.err
}

func newTestSelector(
	t *testing.T,
	initial synthesis.Settings,
	backends ...core.Backend,
) *synthesis.Selector {
	t.Helper()

	selector, err := synthesis.NewSelector(
		backends[0].Name(), initial, backends, newTestLogger(t),
	)
	require.NoError(t, err)

	return selector
}

func defaultSettings() synthesis.Settings {
	return synthesis.Settings{Voice: "en-US-AriaNeural", Rate: 1.0, Volume: 0.9}
}

func TestSelectorAppliesSessionSettings(t *testing.T) {
	t.Parallel()

	backend := &mockBackend{
		name:    "online",
		audio:   []byte("mp3-bytes"),
		err:     nil,
		calls:   0,
		lastReq: core.SynthesisRequest{Text: "", Voice: "", Rate: 0, Volume: 0},
	}
	selector := newTestSelector(t, defaultSettings(), backend)

	audio, err := selector.Synthesize(context.Background(), "Read me a table")
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3-bytes"), audio)

	assert.Equal(t, "Read me a table", backend.lastReq.Text)
	assert.Equal(t, "en-US-AriaNeural", backend.lastReq.Voice)
	assert.InEpsilon(t, 1.0, backend.lastReq.Rate, 0.001)
	assert.InEpsilon(t, 0.9, backend.lastReq.Volume, 0.001)
}

func TestSelectorClampsRate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		set  float64
		want float64
	}{
		{name: "above maximum", set: 3.0, want: 2.0},
		{name: "below minimum", set: -1.0, want: 0.5},
		{name: "in range", set: 1.25, want: 1.25},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			backend := &mockBackend{
				name:    "online",
				audio:   []byte("x"),
				err:     nil,
				calls:   0,
				lastReq: core.SynthesisRequest{Text: "", Voice: "", Rate: 0, Volume: 0},
			}
			selector := newTestSelector(t, defaultSettings(), backend)

			selector.SetRate(testCase.set)

			_, err := selector.Synthesize(context.Background(), "hello")
			require.NoError(t, err)
			assert.InEpsilon(t, testCase.want, backend.lastReq.Rate, 0.001)
		})
	}
}

func TestSelectorClampsVolume(t *testing.T) {
	t.Parallel()

	backend := &mockBackend{
		name:    "online",
		audio:   []byte("x"),
		err:     nil,
		calls:   0,
		lastReq: core.SynthesisRequest{Text: "", Voice: "", Rate: 0, Volume: 0},
	}
	selector := newTestSelector(t, defaultSettings(), backend)

	selector.SetVolume(1.5)
	assert.InEpsilon(t, 1.0, selector.CurrentSettings().Volume, 0.001)

	selector.SetVolume(-0.2)
	// Zero volume is a valid clamped value, so compare exactly.
	assert.InDelta(t, 0.0, selector.CurrentSettings().Volume, 0.0001)
}

func TestSelectorClampsInitialSettings(t *testing.T) {
	t.Parallel()

	backend := &mockBackend{
		name:    "online",
		audio:   []byte("x"),
		err:     nil,
		calls:   0,
		lastReq: core.SynthesisRequest{Text: "", Voice: "", Rate: 0, Volume: 0},
	}
	selector := newTestSelector(
		t,
		synthesis.Settings{Voice: "v", Rate: 9.0, Volume: 7.0},
		backend,
	)

	settings := selector.CurrentSettings()
	assert.InEpsilon(t, 2.0, settings.Rate, 0.001)
	assert.InEpsilon(t, 1.0, settings.Volume, 0.001)
}

func TestSynthesizeEmptyBufferIsSynthesisFailed(t *testing.T) {
	t.Parallel()

	backend := &mockBackend{
		name:    "online",
		audio:   nil,
		err:     nil,
		calls:   0,
		lastReq: core.SynthesisRequest{Text: "", Voice: "", Rate: 0, Volume: 0},
	}
	selector := newTestSelector(t, defaultSettings(), backend)

	_, err := selector.Synthesize(context.Background(), "hello")
	require.ErrorIs(t, err, core.ErrSynthesisFailed)
	assert.Equal(t, 1, backend.calls)
}

func TestSynthesizeWithUnknownBackend(t *testing.T) {
	t.Parallel()

	backend := &mockBackend{
		name:    "online",
		audio:   []byte("x"),
		err:     nil,
		calls:   0,
		lastReq: core.SynthesisRequest{Text: "", Voice: "", Rate: 0, Volume: 0},
	}
	selector := newTestSelector(t, defaultSettings(), backend)

	_, err := selector.SynthesizeWith(
		context.Background(),
		"hello",
		synthesis.Overrides{Backend: "cloud", Voice: ""},
	)
	require.ErrorIs(t, err, core.ErrInvalidInput)
	assert.Zero(t, backend.calls)
}

func TestSynthesizeWithOverridePicksNamedBackend(t *testing.T) {
	t.Parallel()

	online := &mockBackend{
		name:    "online",
		audio:   []byte("mp3"),
		err:     nil,
		calls:   0,
		lastReq: core.SynthesisRequest{Text: "", Voice: "", Rate: 0, Volume: 0},
	}
	offline := &mockBackend{
		name:    "offline",
		audio:   []byte("wav"),
		err:     nil,
		calls:   0,
		lastReq: core.SynthesisRequest{Text: "", Voice: "", Rate: 0, Volume: 0},
	}
	selector := newTestSelector(t, defaultSettings(), online, offline)

	audio, err := selector.SynthesizeWith(
		context.Background(),
		"hello",
		synthesis.Overrides{Backend: "offline", Voice: ""},
	)
	require.NoError(t, err)
	assert.Equal(t, []byte("wav"), audio)
	assert.Zero(t, online.calls)
	assert.Equal(t, 1, offline.calls)
}

func TestSynthesizeWithVoiceOverride(t *testing.T) {
	t.Parallel()

	backend := &mockBackend{
		name:    "online",
		audio:   []byte("mp3"),
		err:     nil,
		calls:   0,
		lastReq: core.SynthesisRequest{Text: "", Voice: "", Rate: 0, Volume: 0},
	}
	selector := newTestSelector(t, defaultSettings(), backend)

	_, err := selector.SynthesizeWith(
		context.Background(),
		"hello",
		synthesis.Overrides{Backend: "", Voice: "en-GB-RyanNeural"},
	)
	require.NoError(t, err)

	assert.Equal(t, "en-GB-RyanNeural", backend.lastReq.Voice)

	settings := selector.CurrentSettings()
	assert.Equal(
		t, defaultSettings().Voice, settings.Voice,
		"a per-call voice must not change the session voice",
	)
}

func TestSynthesizeRejectsUnspeakableText(t *testing.T) {
	t.Parallel()

	backend := &mockBackend{
		name:    "online",
		audio:   []byte("x"),
		err:     nil,
		calls:   0,
		lastReq: core.SynthesisRequest{Text: "", Voice: "", Rate: 0, Volume: 0},
	}
	selector := newTestSelector(t, defaultSettings(), backend)

	_, err := selector.Synthesize(context.Background(), "```code only```")
	require.ErrorIs(t, err, core.ErrInvalidInput)
	assert.Zero(t, backend.calls)
}

func TestSynthesizePassesPreparedText(t *testing.T) {
	t.Parallel()

	backend := &mockBackend{
		name:    "online",
		audio:   []byte("x"),
		err:     nil,
		calls:   0,
		lastReq: core.SynthesisRequest{Text: "", Voice: "", Rate: 0, Volume: 0},
	}
	selector := newTestSelector(t, defaultSettings(), backend)

	_, err := selector.Synthesize(context.Background(), "Hello **world**")
	require.NoError(t, err)
	assert.Equal(t, "Hello world", backend.lastReq.Text)
}

func TestNewSelectorRejectsUnknownDefault(t *testing.T) {
	t.Parallel()

	backend := &mockBackend{
		name:    "online",
		audio:   nil,
		err:     nil,
		calls:   0,
		lastReq: core.SynthesisRequest{Text: "", Voice: "", Rate: 0, Volume: 0},
	}

	_, err := synthesis.NewSelector(
		"offline",
		defaultSettings(),
		[]core.Backend{backend},
		newTestLogger(t),
	)
	require.Error(t, err)
}

func TestVoicesUnavailableWithoutCatalogBackend(t *testing.T) {
	t.Parallel()

	backend := &mockBackend{
		name:    "offline",
		audio:   nil,
		err:     nil,
		calls:   0,
		lastReq: core.SynthesisRequest{Text: "", Voice: "", Rate: 0, Volume: 0},
	}
	selector := newTestSelector(t, defaultSettings(), backend)

	_, err := selector.Voices(context.Background())
	require.ErrorIs(t, err, synthesis.ErrVoicesUnavailable)
}
