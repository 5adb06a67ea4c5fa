package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	charmlog "github.com/charmbracelet/log"
	"github.com/loqalabs/loqa-mic/internal/audio"
	"github.com/loqalabs/loqa-mic/internal/audio/portaudio"
	"github.com/loqalabs/loqa-mic/internal/audio/wavfile"
	"github.com/loqalabs/loqa-mic/internal/config"
	"github.com/loqalabs/loqa-mic/internal/runtime"
	"github.com/loqalabs/loqa-mic/internal/stt"
	"github.com/loqalabs/loqa-mic/internal/stt/vosk"
	"github.com/loqalabs/loqa-mic/internal/terminal"
)

var version = "0.1.0-dev"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file (optional)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return 0
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.Telemetry)
	slog.SetDefault(logger)

	backend, err := openBackend(cfg.Audio, logger)
	if err != nil {
		logger.Error("failed to open audio backend", slog.String("error", err.Error()))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt := runtime.New(cfg, logger, backend, engineLoader(cfg.STT, logger), terminal.New(os.Stderr))
	if err := rt.Start(ctx); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("shutdown complete")
	return 0
}

func newLogger(cfg config.TelemetryConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	handler := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		Level:           charmlog.Level(level),
	})
	return slog.New(handler)
}

func openBackend(cfg config.AudioConfig, logger *slog.Logger) (audio.Backend, error) {
	switch cfg.Backend {
	case "file":
		return wavfile.Open(cfg, logger)
	default:
		return portaudio.Open(cfg, logger)
	}
}

func engineLoader(cfg config.STTConfig, logger *slog.Logger) stt.EngineLoader {
	return func() (stt.Engine, error) {
		switch cfg.Mode {
		case "exec":
			return stt.NewExecEngine(cfg)
		case "mock":
			logger.Warn("using mock recognizer", slog.String("phrase", cfg.MockPhrase))
			return stt.NewMockEngine(cfg.MockPhrase), nil
		default:
			return vosk.Load(cfg, logger.With(slog.String("component", "vosk")))
		}
	}
}
