package synthesis_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicetable/table-service/internal/core"
	"github.com/voicetable/table-service/internal/synthesis"
)

type testChunk struct {
	Type string `json:"type"`
	Data []byte `json:"data"`
}

type testStartFrame struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
	Rate  string `json:"rate"`
}

// newStreamServer fakes the voice stream: it reads the start frame, hands it
// to verify, and plays back the given chunks.
func newStreamServer(
	t *testing.T,
	verify func(testStartFrame),
	chunks []testChunk,
) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{} //nolint:exhaustruct // defaults are fine for tests

	return httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			require.NoError(t, err)

			defer func() { _ = conn.Close() }()

			var start testStartFrame

			err = conn.ReadJSON(&start)
			require.NoError(t, err)

			if verify != nil {
				verify(start)
			}

			for _, chunk := range chunks {
				err = conn.WriteJSON(chunk)
				require.NoError(t, err)
			}
		},
	))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func onlineRequest() core.SynthesisRequest {
	return core.SynthesisRequest{
		Text:   "hello there",
		Voice:  "en-US-AriaNeural",
		Rate:   1.5,
		Volume: 0.9,
	}
}

func TestOnlineSynthesizeCollectsAudioChunksOnly(t *testing.T) {
	t.Parallel()

	chunks := []testChunk{
		{Type: "metadata", Data: []byte("ignored")},
		{Type: "audio", Data: []byte("first-")},
		{Type: "word_boundary", Data: []byte("ignored too")},
		{Type: "audio", Data: []byte("second")},
		{Type: "end", Data: nil},
	}

	server := newStreamServer(t, func(start testStartFrame) {
		assert.Equal(t, "hello there", start.Text)
		assert.Equal(t, "en-US-AriaNeural", start.Voice)
		assert.Equal(t, "+50%", start.Rate)
	}, chunks)
	defer server.Close()

	backend := synthesis.NewOnline(wsURL(server), "", "", "en", newTestLogger(t))
	assert.Equal(t, "online", backend.Name())

	audio, err := backend.Synthesize(context.Background(), onlineRequest())
	require.NoError(t, err)
	assert.Equal(t, "first-second", string(audio))
}

func TestOnlineSynthesizeEmptyStreamYieldsEmptyBuffer(t *testing.T) {
	t.Parallel()

	server := newStreamServer(t, nil, []testChunk{{Type: "end", Data: nil}})
	defer server.Close()

	backend := synthesis.NewOnline(wsURL(server), "", "", "en", newTestLogger(t))

	audio, err := backend.Synthesize(context.Background(), onlineRequest())
	require.NoError(t, err)
	assert.Empty(t, audio)
}

func TestOnlineSynthesizeNormalCloseEndsStream(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{} //nolint:exhaustruct // defaults are fine for tests

	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			require.NoError(t, err)

			defer func() { _ = conn.Close() }()

			var start testStartFrame

			err = conn.ReadJSON(&start)
			require.NoError(t, err)

			err = conn.WriteJSON(testChunk{Type: "audio", Data: []byte("solo")})
			require.NoError(t, err)

			// Close without an explicit end frame.
			err = conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			)
			require.NoError(t, err)
		},
	))
	defer server.Close()

	backend := synthesis.NewOnline(wsURL(server), "", "", "en", newTestLogger(t))

	audio, err := backend.Synthesize(context.Background(), onlineRequest())
	require.NoError(t, err)
	assert.Equal(t, "solo", string(audio))
}

func TestOnlineSynthesizeDialFailureIsUpstream(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(
		func(_ http.ResponseWriter, _ *http.Request) {},
	))
	server.Close()

	backend := synthesis.NewOnline(wsURL(server), "", "", "en", newTestLogger(t))

	_, err := backend.Synthesize(context.Background(), onlineRequest())
	require.ErrorIs(t, err, core.ErrUpstream)
}

func TestOnlineVoicesFiltersByLocalePrefix(t *testing.T) {
	t.Parallel()

	const catalog = `[
		{"Name":"Microsoft Aria","ShortName":"en-US-AriaNeural","Gender":"Female","Locale":"en-US"},
		{"Name":"Microsoft Ryan","ShortName":"en-GB-RyanNeural","Gender":"Male","Locale":"en-GB"},
		{"Name":"Microsoft Denise","ShortName":"fr-FR-DeniseNeural","Gender":"Female","Locale":"fr-FR"}
	]`

	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(catalog))
		},
	))
	defer server.Close()

	backend := synthesis.NewOnline(
		"ws://unused.invalid", server.URL, "", "en", newTestLogger(t),
	)

	voices, err := backend.Voices(context.Background())
	require.NoError(t, err)
	require.Len(t, voices, 2)

	assert.Equal(t, "en-US-AriaNeural", voices[0].ID)
	assert.Equal(t, "Microsoft Aria", voices[0].Name)
	assert.Equal(t, "en-US", voices[0].Locale)
	assert.Equal(t, "Female", voices[0].Gender)
	assert.Equal(t, "en-GB-RyanNeural", voices[1].ID)
}

func TestOnlineVoicesBadStatusIsUpstream(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "catalog offline", http.StatusBadGateway)
		},
	))
	defer server.Close()

	backend := synthesis.NewOnline(
		"ws://unused.invalid", server.URL, "", "en", newTestLogger(t),
	)

	_, err := backend.Voices(context.Background())
	require.ErrorIs(t, err, core.ErrUpstream)
}
