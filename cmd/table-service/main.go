// main package for the table-service
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/voicetable/table-service/internal/chatapi"
	"github.com/voicetable/table-service/internal/config"
	"github.com/voicetable/table-service/internal/core"
	"github.com/voicetable/table-service/internal/feedback"
	"github.com/voicetable/table-service/internal/fileutil"
	"github.com/voicetable/table-service/internal/httpapi"
	"github.com/voicetable/table-service/internal/objectstore"
	"github.com/voicetable/table-service/internal/pipeline"
	"github.com/voicetable/table-service/internal/playback"
	"github.com/voicetable/table-service/internal/synthesis"
	"github.com/voicetable/table-service/internal/tabular"
	"github.com/voicetable/table-service/internal/transcribe"
	"github.com/voicetable/table-service/internal/worker"
)

const (
	bootstrapLogName = "table-service-bootstrap.log"
	serviceLogName   = "table-service.log"

	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func buildTables(cfg *config.Config, log *logger.Logger) (*pipeline.Pipeline, error) {
	vision := chatapi.New(cfg.Vision.BaseURL, cfg.Vision.APIKey(), log)
	tableGen := chatapi.New(cfg.TableGen.BaseURL, cfg.TableGen.APIKey(), log)
	transcriber := transcribe.New(
		cfg.Transcription.BaseURL,
		cfg.Transcription.APIKey(),
		cfg.Transcription.Model,
		cfg.Transcription.Language,
		log,
	)

	tables, err := pipeline.New(
		vision,
		pipeline.Params{
			Model:       cfg.Vision.Model,
			MaxTokens:   cfg.Vision.MaxTokens,
			Temperature: cfg.Vision.Temperature,
		},
		tableGen,
		pipeline.Params{
			Model:       cfg.TableGen.Model,
			MaxTokens:   cfg.TableGen.MaxTokens,
			Temperature: cfg.TableGen.Temperature,
		},
		transcriber,
		tabular.Normalizer{StrictRowWidth: false},
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("assemble table pipeline: %w", err)
	}

	return tables, nil
}

func buildSpeech(cfg *config.Config, log *logger.Logger) (*synthesis.Selector, error) {
	online := synthesis.NewOnline(
		cfg.Synthesis.Online.StreamURL,
		cfg.Synthesis.Online.VoicesURL,
		cfg.Synthesis.Online.APIKey(),
		cfg.Synthesis.LocalePrefix,
		log,
	)
	offline := synthesis.NewOffline(
		cfg.Synthesis.Offline.EnginePath,
		cfg.Synthesis.Offline.TempDir,
		log,
	)

	speech, err := synthesis.NewSelector(
		cfg.Synthesis.DefaultBackend,
		synthesis.Settings{
			Voice:  cfg.Synthesis.Voice,
			Rate:   cfg.Synthesis.Rate,
			Volume: cfg.Synthesis.Volume,
		},
		[]core.Backend{online, offline},
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("assemble synthesis selector: %w", err)
	}

	return speech, nil
}

// serveHTTP runs the API listener until the context is canceled, then drains
// in-flight requests within the shutdown timeout.
func serveHTTP(ctx context.Context, httpServer *http.Server, log *logger.Logger) error {
	listenErr := make(chan error, 1)

	go func() {
		listenErr <- httpServer.ListenAndServe()
	}()

	log.Info("HTTP API listening on %s", httpServer.Addr)

	select {
	case err := <-listenErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}

		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("shut down http server: %w", err)
	}

	<-listenErr

	return nil
}

// runSpeakWorker connects to NATS and consumes speak requests until the
// context is canceled.
func runSpeakWorker(
	ctx context.Context,
	cfg *config.Config,
	speaker *synthesis.Selector,
	log *logger.Logger,
) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("connect to NATS at %q: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("open JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.NATS.AudioBucket)
	if err != nil {
		return fmt.Errorf("open audio object store: %w", err)
	}

	speakWorker, err := worker.New(natsConnection, cfg.NATS, store, speaker, log)
	if err != nil {
		return fmt.Errorf("assemble speak worker: %w", err)
	}

	err = speakWorker.Run(ctx)
	if err != nil {
		return fmt.Errorf("speak worker: %w", err)
	}

	return nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogName)
	if err != nil {
		// If bootstrap logger fails, we can only print to stderr
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 3. Initialize the final logger based on the loaded configuration
	err = fileutil.EnsureDir(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to prepare log directory: %v", err)

		return fmt.Errorf("failed to prepare log directory: %w", err)
	}

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogName)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	// 4. Wire the collaborators behind the API surface
	tables, err := buildTables(cfg, finalLog)
	if err != nil {
		return err
	}

	speech, err := buildSpeech(cfg, finalLog)
	if err != nil {
		return err
	}

	player := playback.NewPlayer(cfg.Playback.PlayerPath, finalLog)
	announcer := feedback.NewAnnouncer(
		speech,
		player,
		cfg.Synthesis.FeedbackEnabled && cfg.Playback.Enabled,
		finalLog,
	)
	defer announcer.Wait()

	server, err := httpapi.New(
		tables,
		speech,
		announcer,
		cfg.Project.Name,
		cfg.Project.Version,
		cfg.HTTP.MaxUploadBytes(),
		finalLog,
	)
	if err != nil {
		return err
	}

	finalLog.System(
		"Table service initialized. HTTP on %s, speak worker enabled: %v",
		cfg.HTTP.Addr(),
		cfg.NATS.Enabled,
	)

	// 5. Serve until interrupted; the first failing surface stops the rest
	return serve(cfg, server, speech, finalLog)
}

func serve(
	cfg *config.Config,
	server *httpapi.Server,
	speech *synthesis.Selector,
	log *logger.Logger,
) error {
	signalCtx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	ctx, cancel := context.WithCancel(signalCtx)
	defer cancel()

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           server.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 2)
	pending := 1

	go func() {
		errCh <- serveHTTP(ctx, httpServer, log)
	}()

	if cfg.NATS.Enabled {
		pending++

		go func() {
			errCh <- runSpeakWorker(ctx, cfg, speech, log)
		}()
	}

	var firstErr error

	for range pending {
		err := <-errCh
		if err != nil && firstErr == nil {
			firstErr = err

			cancel()
		}
	}

	return firstErr
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
