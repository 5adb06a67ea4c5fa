package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-mic/internal/audio"
	"github.com/loqalabs/loqa-mic/internal/bus"
	"github.com/loqalabs/loqa-mic/internal/config"
	"github.com/loqalabs/loqa-mic/internal/eventstore"
	"github.com/loqalabs/loqa-mic/internal/natsserver"
	"github.com/loqalabs/loqa-mic/internal/stt"
)

// Startup stages reported by StartupError.
const (
	StageDevice     = "device"
	StageConfig     = "config"
	StageModel      = "model"
	StageRecognizer = "recognizer"
	StageStream     = "stream"
)

// StartupError is returned when the pipeline cannot be brought up. Nothing is
// retried.
type StartupError struct {
	Stage string
	Err   error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup failed at %s: %v", e.Stage, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	backend    audio.Backend
	loadEngine stt.EngineLoader
	sink       stt.Sink
	sessionID  string

	httpServer     *http.Server
	metricsHandler http.Handler
	telemetryClose func(context.Context) error
	embedded       *natsserver.EmbeddedServer
	bus            *bus.Client
	journal        *eventstore.Store
	source         atomic.Pointer[audio.Source]
	ready          atomic.Bool
	wg             sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger, backend audio.Backend, loadEngine stt.EngineLoader, sink stt.Sink) *Runtime {
	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		backend:    backend,
		loadEngine: loadEngine,
		sink:       sink,
		sessionID:  uuid.NewString(),
	}
}

func (r *Runtime) SessionID() string { return r.sessionID }

// Start brings up the supporting services and runs the capture pipeline until
// ctx is cancelled or the input ends. Cancellation is not an error.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryClose = shutdownTelemetry
	r.metricsHandler = metricsHandler
	if err := r.registerSourceMetrics(); err != nil {
		r.logger.Warn("failed to register capture metrics", slog.String("error", err.Error()))
	}
	defer r.shutdown()

	if r.cfg.HTTP.Enabled {
		r.startHTTP()
	}

	if r.cfg.Bus.Enabled {
		if err := r.startBus(ctx); err != nil {
			return err
		}
	}

	journal, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "journal")))
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	r.journal = journal

	return r.runPipeline(ctx)
}

func (r *Runtime) runPipeline(ctx context.Context) error {
	dev, err := r.backend.DefaultInputDevice()
	if err != nil {
		return &StartupError{Stage: StageDevice, Err: err}
	}
	streamCfg, err := audio.ResolveDeviceConfig(dev)
	if err != nil {
		return &StartupError{Stage: StageConfig, Err: err}
	}
	r.logger.Info("input device selected",
		slog.String("device", dev.Name()),
		slog.Int("sample_rate", streamCfg.SampleRate),
		slog.String("format", streamCfg.Format.String()),
	)

	engine, err := r.loadEngine()
	if err != nil {
		return &StartupError{Stage: StageModel, Err: err}
	}
	defer engine.Close()

	rec, err := engine.NewRecognizer(streamCfg.SampleRate)
	if err != nil {
		return &StartupError{Stage: StageRecognizer, Err: err}
	}
	defer rec.Close()

	queue := audio.NewQueue()
	src := audio.NewSource(queue, streamCfg)
	r.source.Store(src)

	stream, err := r.backend.OpenInput(dev, streamCfg, r.cfg.Audio.FramesPerBuffer, src)
	if err != nil {
		return &StartupError{Stage: StageStream, Err: err}
	}
	defer stream.Close()

	loop := stt.NewLoop(queue, rec, r.sink, r.cfg.STT, r.logger)
	if r.bus != nil {
		loop.AddListener(bus.NewTranscriptPublisher(r.bus, r.sessionID))
	}

	if err := r.journal.StartSession(ctx, r.sessionID, r.cfg.RuntimeName, eventstore.SessionStarted{
		Device:     dev.Name(),
		SampleRate: streamCfg.SampleRate,
		Format:     streamCfg.Format.String(),
		Engine:     r.cfg.STT.Mode,
	}); err != nil {
		r.logger.Warn("failed to journal session start", slog.String("error", err.Error()))
	}

	if err := stream.Start(); err != nil {
		return &StartupError{Stage: StageStream, Err: err}
	}

	faultsDone := make(chan struct{})
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		r.watchFaults(src, faultsDone)
	}()

	r.ready.Store(true)
	r.logger.Info("listening", slog.String("session", r.sessionID))

	runErr := loop.Run(ctx)

	r.ready.Store(false)
	if err := stream.Stop(); err != nil {
		r.logger.Warn("failed to stop stream", slog.String("error", err.Error()))
	}
	src.Close()
	close(faultsDone)
	<-watcherDone
	if err := r.sink.ClearCurrentLine(); err != nil {
		r.logger.Debug("failed to clear partial line", slog.String("error", err.Error()))
	}

	captured := src.Stats()
	decoded := loop.Stats()
	summary := eventstore.SessionStopped{
		Captured:   captured.Captured,
		Dropped:    captured.Dropped,
		Decoded:    decoded.Decoded,
		Failed:     decoded.Failed,
		Finals:     decoded.Finals,
		Suppressed: decoded.Suppressed,
	}
	if runErr != nil {
		summary.Error = runErr.Error()
	}
	// ctx may already be cancelled at this point.
	journalCtx, cancelJournal := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelJournal()
	if err := r.journal.StopSession(journalCtx, r.sessionID, summary); err != nil {
		r.logger.Warn("failed to journal session stop", slog.String("error", err.Error()))
	}

	r.logger.Info("session finished",
		slog.Uint64("captured", summary.Captured),
		slog.Uint64("decoded", summary.Decoded),
		slog.Uint64("finals", summary.Finals),
	)
	return runErr
}

// watchFaults logs and journals stream runtime errors. The stream keeps running.
func (r *Runtime) watchFaults(src *audio.Source, done <-chan struct{}) {
	report := func(err error) {
		r.logger.Warn("audio stream error", slog.String("error", err.Error()))
		jctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if jerr := r.journal.RecordFault(jctx, r.sessionID, err); jerr != nil {
			r.logger.Debug("failed to journal stream fault", slog.String("error", jerr.Error()))
		}
	}
	for {
		select {
		case err := <-src.Faults():
			report(err)
		case <-done:
			for {
				select {
				case err := <-src.Faults():
					report(err)
				default:
					return
				}
			}
		}
	}
}

func (r *Runtime) startBus(ctx context.Context) error {
	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		srv, err := natsserver.Start(busCfg, r.logger.With(slog.String("component", "nats")))
		if err != nil {
			return fmt.Errorf("failed to start embedded NATS server: %w", err)
		}
		r.embedded = srv
		busCfg.Servers = []string{srv.ClientURL()}
	}
	client, err := bus.Connect(ctx, r.cfg.RuntimeName, busCfg, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.bus = client
	return nil
}

func (r *Runtime) startHTTP() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if r.metricsHandler != nil {
		mux.Handle("/metrics", r.metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()
	r.logger.Info("http server started", slog.String("addr", addr))
}

func (r *Runtime) shutdown() {
	r.logger.Debug("runtime stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
		r.wg.Wait()
	}
	if r.journal != nil {
		if err := r.journal.Close(); err != nil {
			r.logger.Error("journal close error", slog.String("error", err.Error()))
		}
	}
	if r.bus != nil {
		r.bus.Close()
	}
	if r.embedded != nil {
		r.embedded.Shutdown()
	}
	if err := r.backend.Close(); err != nil {
		r.logger.Error("audio backend close error", slog.String("error", err.Error()))
	}
	if r.telemetryClose != nil {
		if err := r.telemetryClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
