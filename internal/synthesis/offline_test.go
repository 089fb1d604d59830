package synthesis_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicetable/table-service/internal/core"
	"github.com/voicetable/table-service/internal/synthesis"
)

// writeFakeEngine installs an executable shell script standing in for the
// speech engine binary.
func writeFakeEngine(t *testing.T, script string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fake-engine")

	err := os.WriteFile(path, []byte(script), 0o700)
	require.NoError(t, err)

	return path
}

// renderingEngineScript writes the engine arguments to argsPath and renders a
// minimal WAV payload to the file named by the -w flag.
func renderingEngineScript(argsPath string) string {
	return fmt.Sprintf(`#!/bin/sh
echo "$@" > %q
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-w" ]; then out="$a"; fi
  prev="$a"
done
printf 'RIFF0000WAVEdata' > "$out"
`, argsPath)
}

const failingEngineScript = `#!/bin/sh
echo "no audio device" >&2
exit 2
`

func offlineRequest(text string) core.SynthesisRequest {
	return core.SynthesisRequest{
		Text:   text,
		Voice:  "en-US-AriaNeural",
		Rate:   1.5,
		Volume: 0.9,
	}
}

func TestOfflineSynthesizeRendersAndCleansUp(t *testing.T) {
	t.Parallel()

	argsPath := filepath.Join(t.TempDir(), "args.txt")
	enginePath := writeFakeEngine(t, renderingEngineScript(argsPath))
	tempDir := t.TempDir()

	backend := synthesis.NewOffline(enginePath, tempDir, newTestLogger(t))
	assert.Equal(t, "offline", backend.Name())

	audio, err := backend.Synthesize(
		context.Background(), offlineRequest("read this aloud"),
	)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(audio), "RIFF"))

	// Rate 1.5 maps to 225 words/min, volume 0.9 to amplitude 180, and the
	// text rides as the final argument.
	argsRaw, err := os.ReadFile(argsPath)
	require.NoError(t, err)

	args := string(argsRaw)
	assert.Contains(t, args, "-s 225")
	assert.Contains(t, args, "-a 180")
	assert.Contains(t, args, "read this aloud")

	// The scratch WAV file must not outlive the call.
	leftover, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, leftover)
}

func TestOfflineSynthesizeEngineFailure(t *testing.T) {
	t.Parallel()

	enginePath := writeFakeEngine(t, failingEngineScript)
	tempDir := t.TempDir()

	backend := synthesis.NewOffline(enginePath, tempDir, newTestLogger(t))

	_, err := backend.Synthesize(
		context.Background(), offlineRequest("anything"),
	)
	require.ErrorIs(t, err, core.ErrSynthesisFailed)
	assert.Contains(t, err.Error(), "no audio device")

	// Cleanup happens on the failure path too.
	leftover, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, leftover)
}

func TestOfflineSynthesizeMissingEngine(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	backend := synthesis.NewOffline(
		filepath.Join(t.TempDir(), "no-such-engine"), tempDir, newTestLogger(t),
	)

	_, err := backend.Synthesize(
		context.Background(), offlineRequest("anything"),
	)
	require.ErrorIs(t, err, core.ErrSynthesisFailed)

	leftover, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, leftover)
}
