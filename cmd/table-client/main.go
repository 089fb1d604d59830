// main package for the table-client
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/book-expert/logger"

	"github.com/voicetable/table-service/internal/audioformat"
	"github.com/voicetable/table-service/internal/core"
	"github.com/voicetable/table-service/internal/fileutil"
)

// Flag names.
const (
	flagServer     = "server"
	flagImage      = "image"
	flagAudio      = "audio"
	flagTable      = "table"
	flagSpeak      = "speak"
	flagSpeakBatch = "speak-batch"
	flagVoices     = "voices"
	flagHealth     = "health"
	flagVoice      = "voice"
	flagBackend    = "backend"
	flagOut        = "out"
	flagOutDir     = "out-dir"
)

// Flag descriptions.
const (
	flagServerDesc     = "Base URL of the table service"
	flagImageDesc      = "Image file to extract a table from"
	flagAudioDesc      = "Audio file with a spoken table request"
	flagTableDesc      = "JSON file holding the current table (turns --audio into an edit)"
	flagSpeakDesc      = "Text to synthesize into an audio file"
	flagSpeakBatchDesc = "JSON file with an array of texts to synthesize"
	flagVoicesDesc     = "List available voices and exit"
	flagHealthDesc     = "Check service health and exit"
	flagVoiceDesc      = "Voice for synthesis (empty keeps the service default)"
	flagBackendDesc    = "Synthesis backend override: online or offline"
	flagOutDesc        = "Output file for --speak (extension is added when omitted)"
	flagOutDirDesc     = "Output directory for --speak-batch"
)

// Error and log messages.
const (
	errExactlyOneMode = "exactly one of --image, --audio, --speak, " +
		"--speak-batch, --voices, or --health must be provided"
	errTableNeedsAudio    = "--table only applies together with --audio"
	errUnsupportedAudio   = "unsupported audio file extension: %s"
	errBatchFileEmpty     = "batch file contains no texts"
	errFmtBatchFile       = "batch file must be a JSON array of strings: %w"
	errFmtWriteAudio      = "write audio file %s: %w"
	logClientReady        = "Table client ready, talking to %s"
	logFmtWroteAudio      = "Wrote %s (%s)"
	logFmtBatchDone       = "Synthesized %d texts in %s"
	msgServiceHealthy     = "Service is healthy"
	msgFmtHeard           = "Heard: %q\n\n"
	msgFmtGenerated       = "Generated: %s\n"
	msgFmtBatchGenerated  = "Generated %d audio files in: %s\n"
	msgFmtVoicesAvailable = "%d voices available:\n"
)

const (
	defaultServerURL = "http://localhost:8080"
	defaultOutDir    = "speech-batch"
	defaultSpeakBase = "speech"

	requestTimeout   = 60 * time.Second
	batchConcurrency = 4

	logFileName       = "table-client.log"
	audioFilePerms    = 0o600
	batchIndexPadding = "%s-%03d.%s"
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	server     string
	image      string
	audio      string
	table      string
	speak      string
	speakBatch string
	voice      string
	backend    string
	out        string
	outDir     string
	voices     bool
	health     bool
}

func main() {
	err := run()
	if err != nil {
		// A logger might not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags := parseFlags()

	err := validateFlags(flags)
	if err != nil {
		flag.Usage()

		return err
	}

	clientLog, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defer func() {
		closeErr := clientLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	client := newAPIClient(flags.server, requestTimeout, clientLog)

	clientLog.Info(logClientReady, flags.server)

	return dispatch(context.Background(), client, clientLog, flags)
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags() appFlags {
	var flags appFlags

	flag.StringVar(&flags.server, flagServer, defaultServerURL, flagServerDesc)
	flag.StringVar(&flags.image, flagImage, "", flagImageDesc)
	flag.StringVar(&flags.audio, flagAudio, "", flagAudioDesc)
	flag.StringVar(&flags.table, flagTable, "", flagTableDesc)
	flag.StringVar(&flags.speak, flagSpeak, "", flagSpeakDesc)
	flag.StringVar(&flags.speakBatch, flagSpeakBatch, "", flagSpeakBatchDesc)
	flag.StringVar(&flags.voice, flagVoice, "", flagVoiceDesc)
	flag.StringVar(&flags.backend, flagBackend, "", flagBackendDesc)
	flag.StringVar(&flags.out, flagOut, "", flagOutDesc)
	flag.StringVar(&flags.outDir, flagOutDir, defaultOutDir, flagOutDirDesc)
	flag.BoolVar(&flags.voices, flagVoices, false, flagVoicesDesc)
	flag.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)
	flag.Parse()

	return flags
}

// validateFlags enforces that exactly one mode is selected and that modifier
// flags are paired with the mode they belong to.
func validateFlags(flags appFlags) error {
	modes := 0

	for _, selected := range []bool{
		flags.image != "",
		flags.audio != "",
		flags.speak != "",
		flags.speakBatch != "",
		flags.voices,
		flags.health,
	} {
		if selected {
			modes++
		}
	}

	if modes != 1 {
		return errors.New(errExactlyOneMode)
	}

	if flags.table != "" && flags.audio == "" {
		return errors.New(errTableNeedsAudio)
	}

	if flags.audio != "" && !fileutil.IsSupportedAudio(flags.audio) {
		return fmt.Errorf(errUnsupportedAudio, filepath.Ext(flags.audio))
	}

	return nil
}

func dispatch(
	ctx context.Context,
	client *apiClient,
	clientLog *logger.Logger,
	flags appFlags,
) error {
	switch {
	case flags.health:
		return runHealth(ctx, client)
	case flags.voices:
		return runVoices(ctx, client)
	case flags.image != "":
		return runImage(ctx, client, flags.image)
	case flags.audio != "":
		return runVoice(ctx, client, flags)
	case flags.speak != "":
		return runSpeak(ctx, client, clientLog, flags)
	default:
		return runSpeakBatch(ctx, client, clientLog, flags)
	}
}

func runHealth(ctx context.Context, client *apiClient) error {
	err := client.health(ctx)
	if err != nil {
		return err
	}

	fmt.Println(msgServiceHealthy)

	return nil
}

func runVoices(ctx context.Context, client *apiClient) error {
	voices, err := client.voices(ctx)
	if err != nil {
		return err
	}

	fmt.Printf(msgFmtVoicesAvailable, len(voices))

	return renderVoices(os.Stdout, voices)
}

func runImage(ctx context.Context, client *apiClient, imagePath string) error {
	table, err := client.tableFromImage(ctx, imagePath)
	if err != nil {
		return err
	}

	return renderTable(os.Stdout, table)
}

func runVoice(ctx context.Context, client *apiClient, flags appFlags) error {
	var (
		result voiceTableResult
		err    error
	)

	if flags.table != "" {
		result, err = client.editTable(ctx, flags.audio, flags.table)
	} else {
		result, err = client.tableFromVoice(ctx, flags.audio)
	}

	if err != nil {
		return err
	}

	fmt.Printf(msgFmtHeard, result.Transcript)

	return renderTable(os.Stdout, result.Table)
}

func runSpeak(
	ctx context.Context,
	client *apiClient,
	clientLog *logger.Logger,
	flags appFlags,
) error {
	audio, err := client.speak(ctx, flags.speak, flags.voice, flags.backend)
	if err != nil {
		return err
	}

	outputPath := flags.out
	if outputPath == "" {
		outputPath = defaultSpeakBase + "." + audioformat.Extension(audio)
	}

	err = os.WriteFile(outputPath, audio, audioFilePerms)
	if err != nil {
		return fmt.Errorf(errFmtWriteAudio, outputPath, err)
	}

	clientLog.Info(
		logFmtWroteAudio,
		outputPath,
		fileutil.FormatFileSize(int64(len(audio))),
	)
	fmt.Printf(msgFmtGenerated, outputPath)

	return nil
}

func runSpeakBatch(
	ctx context.Context,
	client *apiClient,
	clientLog *logger.Logger,
	flags appFlags,
) error {
	texts, err := readBatchFile(flags.speakBatch)
	if err != nil {
		return err
	}

	err = fileutil.EnsureDir(flags.outDir)
	if err != nil {
		return err
	}

	start := time.Now()

	err = synthesizeBatch(ctx, client, texts, flags)
	if err != nil {
		return err
	}

	clientLog.Info(
		logFmtBatchDone,
		len(texts),
		fileutil.FormatDuration(time.Since(start).Seconds()),
	)
	fmt.Printf(msgFmtBatchGenerated, len(texts), flags.outDir)

	return nil
}

func readBatchFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf(errFmtReadFile, path, err)
	}

	var texts []string

	err = json.Unmarshal(data, &texts)
	if err != nil {
		return nil, fmt.Errorf(errFmtBatchFile, err)
	}

	if len(texts) == 0 {
		return nil, errors.New(errBatchFileEmpty)
	}

	return texts, nil
}

// synthesizeBatch renders every text through the service with a bounded
// number of in-flight requests, writing numbered files to the output
// directory. All failures are collected rather than stopping at the first.
func synthesizeBatch(
	ctx context.Context,
	client *apiClient,
	texts []string,
	flags appFlags,
) error {
	semaphore := make(chan struct{}, batchConcurrency)
	results := make([]error, len(texts))

	var wg sync.WaitGroup

	for index, text := range texts {
		wg.Add(1)

		go func(index int, text string) {
			defer wg.Done()

			semaphore <- struct{}{}

			defer func() { <-semaphore }()

			results[index] = synthesizeOne(ctx, client, text, index, flags)
		}(index, text)
	}

	wg.Wait()

	return errors.Join(results...)
}

func synthesizeOne(
	ctx context.Context,
	client *apiClient,
	text string,
	index int,
	flags appFlags,
) error {
	audio, err := client.speak(ctx, text, flags.voice, flags.backend)
	if err != nil {
		return fmt.Errorf("text %d: %w", index+1, err)
	}

	name := fmt.Sprintf(
		batchIndexPadding, defaultSpeakBase, index+1, audioformat.Extension(audio),
	)
	outputPath := filepath.Join(flags.outDir, name)

	err = os.WriteFile(outputPath, audio, audioFilePerms)
	if err != nil {
		return fmt.Errorf(errFmtWriteAudio, outputPath, err)
	}

	return nil
}

// renderTable prints a table with aligned columns and a header separator.
func renderTable(w io.Writer, table core.Table) error {
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintln(writer, strings.Join(table.Headers, "\t"))

	separators := make([]string, len(table.Headers))
	for i, header := range table.Headers {
		separators[i] = strings.Repeat("-", len(header))
	}

	fmt.Fprintln(writer, strings.Join(separators, "\t"))

	for _, row := range table.Rows {
		fmt.Fprintln(writer, strings.Join(row, "\t"))
	}

	err := writer.Flush()
	if err != nil {
		return fmt.Errorf("render table: %w", err)
	}

	return nil
}

func renderVoices(w io.Writer, voices []core.Voice) error {
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintln(writer, "ID\tNAME\tLOCALE\tGENDER")

	for _, voice := range voices {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\n",
			voice.ID,
			voice.Name,
			voice.Locale,
			voice.Gender,
		)
	}

	err := writer.Flush()
	if err != nil {
		return fmt.Errorf("render voices: %w", err)
	}

	return nil
}
