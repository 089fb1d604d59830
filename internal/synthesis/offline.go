package synthesis

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"

	"github.com/book-expert/logger"

	"github.com/voicetable/table-service/internal/core"
)

// Offline engine parameters. Rate is a multiplier on the engine's base
// words-per-minute; volume maps onto the engine's 0-200 amplitude scale.
const (
	offlineBackendName = "offline"

	baseWordsPerMinute = 150
	amplitudeScale     = 200

	tempFilePattern = "speech-*.wav"

	flagWriteWAV  = "-w"
	flagSpeed     = "-s"
	flagAmplitude = "-a"
)

// Error and log format constants.
const (
	errFmtCreateTempWAV  = "failed to create temp file for rendered speech: %w"
	errFmtEngineFailed   = "%w: engine execution failed: %v - output: %s"
	errFmtReadRendered   = "failed to read rendered audio from temp file: %w"
	warnFmtRemoveTemp    = "Failed to remove temp file '%s': %v"
	warnFmtCloseTemp     = "Failed to close temp file '%s': %v"
	logFmtRenderedSpeech = "Rendered %d characters to %d bytes of WAV audio"
)

// Offline renders speech by invoking a local espeak-ng compatible engine
// binary. Rendering is synchronous: the engine writes a per-request temp WAV
// file which is read back and removed on every exit path.
type Offline struct {
	enginePath string
	tempDir    string
	log        *logger.Logger
}

// NewOffline creates the offline backend. tempDir may be empty to use the
// system temp directory.
func NewOffline(enginePath, tempDir string, log *logger.Logger) *Offline {
	return &Offline{
		enginePath: enginePath,
		tempDir:    tempDir,
		log:        log,
	}
}

// Name identifies this backend in configuration and per-call overrides.
func (o *Offline) Name() string {
	return offlineBackendName
}

// Synthesize renders req.Text to WAV bytes. Engine failures surface as
// core.ErrSynthesisFailed; the temp file never outlives the call.
func (o *Offline) Synthesize(
	ctx context.Context,
	req core.SynthesisRequest,
) ([]byte, error) {
	tempFile, err := os.CreateTemp(o.tempDir, tempFilePattern)
	if err != nil {
		return nil, fmt.Errorf(errFmtCreateTempWAV, err)
	}

	tempPath := tempFile.Name()

	defer func() {
		removeErr := os.Remove(tempPath)
		if removeErr != nil {
			o.log.Warn(warnFmtRemoveTemp, tempPath, removeErr)
		}
	}()

	closeErr := tempFile.Close()
	if closeErr != nil {
		o.log.Warn(warnFmtCloseTemp, tempPath, closeErr)
	}

	// #nosec G204 -- the engine path comes from validated configuration
	cmd := exec.CommandContext(ctx, o.enginePath, o.buildArgs(tempPath, req)...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf(
			errFmtEngineFailed, core.ErrSynthesisFailed, err, string(output),
		)
	}

	audio, err := os.ReadFile(tempPath)
	if err != nil {
		return nil, fmt.Errorf(errFmtReadRendered, err)
	}

	o.log.Info(logFmtRenderedSpeech, len(req.Text), len(audio))

	return audio, nil
}

// buildArgs maps the request onto engine flags. Session voice names belong
// to the online catalog, so the engine keeps its own default voice.
func (o *Offline) buildArgs(tempPath string, req core.SynthesisRequest) []string {
	wordsPerMinute := int(math.Round(baseWordsPerMinute * req.Rate))
	amplitude := int(math.Round(amplitudeScale * req.Volume))

	args := []string{
		flagWriteWAV, tempPath,
		flagSpeed, strconv.Itoa(wordsPerMinute),
		flagAmplitude, strconv.Itoa(amplitude),
	}

	return append(args, req.Text)
}
