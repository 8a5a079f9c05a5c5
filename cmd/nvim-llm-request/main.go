// SPDX-License-Identifier: AGPL-3.0-only
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/TenzinPlatter/nvim-llm-request/internal/broker"
	"github.com/TenzinPlatter/nvim-llm-request/internal/config"
	"github.com/TenzinPlatter/nvim-llm-request/internal/logging"
	"github.com/TenzinPlatter/nvim-llm-request/internal/singleton"
	"github.com/TenzinPlatter/nvim-llm-request/internal/store"
)

const (
	appName    = "nvim-llm-request"
	appVersion = "0.1.0"
)

func versionString() string {
	return fmt.Sprintf("%s version %s", appName, appVersion)
}

var (
	configPath     = flag.String("config", "", "Path to YAML configuration file")
	logLevel       = flag.String("log-level", "", "Logging level: debug, info, warn, error")
	logFile        = flag.String("log-file", "", "Log file path (default: stderr)")
	version        = flag.Bool("version", false, "Show version information and exit")
	aiProvider     = flag.String("ai-provider", "", "AI provider: anthropic, openai or local (default: anthropic)")
	aiModel        = flag.String("ai-model", "", "AI model to use for completions")
	aiBaseURL      = flag.String("ai-base-url", "", "Custom base URL for OpenAI-compatible endpoints (e.g. Ollama, vLLM, Groq, LiteLLM)")
	aiTimeout      = flag.Int("ai-timeout", 0, "Per-request provider timeout in seconds (default: 30)")
	aiMaxToolCalls = flag.Int("ai-max-tool-calls", 0, "Maximum resumable tool calls per request (default: 3)")
	dbPath         = flag.String("db-path", "", "Path to SQLite database for request transcripts (default: disabled)")
)

func main() {
	flag.Parse()

	// Show version and exit if requested, before any config can fatal
	if *version {
		log.Print(versionString())
		os.Exit(0)
	}

	// Load configuration
	cfg := loadConfig()

	// Logging goes to stderr or a file; stdout is reserved for events.
	logger := logging.New(logging.Options{
		Level:    cfg.Logging.Level,
		FilePath: cfg.Logging.FilePath,
	})
	logging.SetDefaultLogger(logger)
	defer func() { _ = logger.Close() }()

	// Create a context that will be cancelled on interrupt signal
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the broker and its optional transcript store
	b, transcripts, err := createBroker(cfg)
	if err != nil {
		log.Fatalf("Failed to create broker: %v", err)
	}
	if transcripts != nil {
		defer func() { _ = transcripts.Close() }()
	}

	logger.Infof("%s %s started, reading requests from stdin", appName, appVersion)

	// Serve the stdio request loop until stdin closes or a signal arrives
	done := make(chan error, 1)
	go func() {
		done <- b.Run(ctx, os.Stdin, os.Stdout)
	}()

	waitForShutdown(cancel, done, logger)
}

// loadConfig loads configuration from defaults, the optional config file,
// environment variables and command line flags, in that order
func loadConfig() *config.Config {
	// Start with defaults
	cfg := config.DefaultConfig()

	// Override with the config file, when one is given or present
	path := *configPath
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = home + "/.nvim-llm-request/config.yaml"
		}
	}
	if path != "" {
		if err := config.LoadFile(cfg, path); err != nil {
			log.Fatalf("Invalid configuration file: %v", err)
		}
	}

	// Override with environment variables
	config.FromEnv(cfg)

	// Override with command-line flags
	applyCommandLineFlagsToConfig(cfg)

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	return cfg
}

// applyCommandLineFlagsToConfig applies command line flags to the configuration
func applyCommandLineFlagsToConfig(cfg *config.Config) {
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFile != "" {
		cfg.Logging.FilePath = *logFile
	}
	if *aiProvider != "" {
		cfg.AI.Provider = *aiProvider
	}
	if *aiModel != "" {
		cfg.AI.Model = *aiModel
	}
	if *aiBaseURL != "" {
		cfg.AI.BaseURL = *aiBaseURL
	}
	if *aiTimeout > 0 {
		cfg.AI.Timeout = *aiTimeout
	}
	if *aiMaxToolCalls > 0 {
		cfg.AI.MaxToolCalls = *aiMaxToolCalls
	}
	if *dbPath != "" {
		cfg.Store.DBPath = *dbPath
	}
}

// createBroker creates the broker and, when configured, its transcript
// store. Each editor instance spawns its own broker process, so the store is
// only attached when this process wins the writer lock for the database.
func createBroker(cfg *config.Config) (*broker.Broker, store.TranscriptStore, error) {
	var transcripts store.TranscriptStore
	if cfg.Store.DBPath != "" {
		lock, primary, err := singleton.TryAcquire(cfg.Store.DBPath)
		if err != nil {
			return nil, nil, err
		}
		if primary {
			s, err := store.NewSQLiteStore(cfg.Store.DBPath)
			if err != nil {
				_ = lock.Release()
				return nil, nil, err
			}
			transcripts = &lockedStore{SQLiteStore: s, lock: lock}
		} else {
			logging.GetDefaultLogger().Warnf("Transcript database %s is in use by another instance, persistence disabled", cfg.Store.DBPath)
		}
	}
	return broker.New(cfg, transcripts), transcripts, nil
}

// lockedStore couples a transcript store with the writer lock guarding it.
type lockedStore struct {
	*store.SQLiteStore
	lock *singleton.Lock
}

func (s *lockedStore) Close() error {
	err := s.SQLiteStore.Close()
	if lerr := s.lock.Release(); err == nil {
		err = lerr
	}
	return err
}

// waitForShutdown waits for a termination signal or the request loop to exit
func waitForShutdown(cancel context.CancelFunc, done <-chan error, logger *logging.Logger) {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-signalCh:
		logger.Infof("Received termination signal, shutting down...")
		cancel()
		<-done
	case err := <-done:
		if err != nil && err != context.Canceled {
			logger.Errorf("Request loop exited with error: %v", err)
		} else {
			logger.Infof("Input stream closed, shutting down...")
		}
		cancel()
	}
}
