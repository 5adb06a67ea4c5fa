package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-mic/internal/audio"
	"github.com/loqalabs/loqa-mic/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const backlogWarnInterval = 10 * time.Second

// LoopStats counts what the loop has done so far.
type LoopStats struct {
	Decoded    uint64
	Failed     uint64
	Partials   uint64
	Finals     uint64
	Suppressed uint64
}

// Loop is the consumer side of the pipeline: it feeds every chunk to the
// recognizer in arrival order and turns the resulting states into events.
type Loop struct {
	queue     *audio.Queue
	rec       Recognizer
	sink      Sink
	listeners []Listener
	cfg       config.STTConfig
	logger    *slog.Logger
	clock     func() time.Time

	tracer    trace.Tracer
	utterance trace.Span
	meter     metric.Meter
	chunks    metric.Int64Counter
	latency   metric.Float64Histogram

	lastBacklogWarn time.Time

	decoded    atomic.Uint64
	failed     atomic.Uint64
	partials   atomic.Uint64
	finals     atomic.Uint64
	suppressed atomic.Uint64
}

func NewLoop(queue *audio.Queue, rec Recognizer, sink Sink, cfg config.STTConfig, logger *slog.Logger) *Loop {
	l := &Loop{
		queue:  queue,
		rec:    rec,
		sink:   sink,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "transcription-loop")),
		clock:  time.Now,
		tracer: otel.Tracer("github.com/loqalabs/loqa-mic/stt"),
		meter:  otel.Meter("github.com/loqalabs/loqa-mic/stt"),
	}
	if err := l.initMetrics(); err != nil {
		l.logger.Warn("failed to initialize metrics", slogError(err))
	}
	return l
}

func (l *Loop) AddListener(listener Listener) {
	l.listeners = append(l.listeners, listener)
}

// Run blocks until the queue is closed and drained, ctx is done, or a chunk is
// rejected. Only the last case returns an error.
func (l *Loop) Run(ctx context.Context) error {
	defer l.endUtterance("")
	for {
		chunk, err := l.queue.Receive(ctx)
		if errors.Is(err, audio.ErrQueueClosed) {
			l.logger.Info("audio stream ended")
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		l.checkBacklog()
		if err := l.Process(ctx, chunk); err != nil {
			return err
		}
	}
}

// Process handles a single chunk.
func (l *Loop) Process(ctx context.Context, chunk audio.Chunk) error {
	if chunk.SampleRate != l.rec.SampleRate() {
		return &RecognitionError{
			Seq: chunk.Seq,
			Err: fmt.Errorf("chunk sample rate %d does not match recognizer rate %d", chunk.SampleRate, l.rec.SampleRate()),
		}
	}
	l.startUtterance(ctx, chunk.Seq)

	started := l.clock()
	state, err := l.rec.AcceptWaveform(chunk.Samples)
	if l.latency != nil {
		l.latency.Record(ctx, float64(l.clock().Sub(started))/float64(time.Millisecond))
	}
	if err != nil {
		return &RecognitionError{Seq: chunk.Seq, Err: err}
	}
	l.decoded.Add(1)
	if l.chunks != nil {
		l.chunks.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state.String())))
	}

	if err := l.sink.ClearCurrentLine(); err != nil {
		return fmt.Errorf("clear line: %w", err)
	}

	switch state {
	case StateRunning:
		partial, err := l.rec.PartialResult()
		if err != nil {
			l.logger.Warn("failed to read partial result", slogError(err), slog.Uint64("chunk", chunk.Seq))
			return nil
		}
		if err := l.sink.WritePartial(partial.Partial); err != nil {
			return fmt.Errorf("write partial: %w", err)
		}
		l.partials.Add(1)
		l.emit(ctx, Event{Kind: EventPartial, Text: partial.Partial, ChunkSeq: chunk.Seq, Time: l.clock()})

	case StateFinalized:
		result, err := l.rec.Result()
		if err != nil {
			l.logger.Warn("failed to read final result", slogError(err), slog.Uint64("chunk", chunk.Seq))
			l.endUtterance("")
			return nil
		}
		text := BestText(result)
		l.endUtterance(text)
		if text == "" {
			l.suppressed.Add(1)
			return nil
		}
		if err := l.sink.WriteFinal(text); err != nil {
			return fmt.Errorf("write final: %w", err)
		}
		l.finals.Add(1)
		l.emit(ctx, Event{Kind: EventFinal, Text: text, ChunkSeq: chunk.Seq, Time: l.clock()})

	case StateFailed:
		l.failed.Add(1)
		l.logger.Debug("recognizer could not decode chunk", slog.Uint64("chunk", chunk.Seq))
	}
	return nil
}

func (l *Loop) emit(ctx context.Context, evt Event) {
	for _, listener := range l.listeners {
		listener.HandleEvent(ctx, evt)
	}
}

func (l *Loop) Stats() LoopStats {
	return LoopStats{
		Decoded:    l.decoded.Load(),
		Failed:     l.failed.Load(),
		Partials:   l.partials.Load(),
		Finals:     l.finals.Load(),
		Suppressed: l.suppressed.Load(),
	}
}

func (l *Loop) checkBacklog() {
	limit := l.cfg.BacklogWarnChunks
	if limit <= 0 {
		return
	}
	depth := l.queue.Len()
	if depth <= limit {
		return
	}
	now := l.clock()
	if now.Sub(l.lastBacklogWarn) < backlogWarnInterval {
		return
	}
	l.lastBacklogWarn = now
	l.logger.Warn("recognition is falling behind capture", slog.Int("queued_chunks", depth))
}

func (l *Loop) startUtterance(ctx context.Context, seq uint64) {
	if l.utterance != nil {
		return
	}
	_, l.utterance = l.tracer.Start(ctx, "stt.utterance",
		trace.WithAttributes(attribute.Int64("stt.first_chunk", int64(seq))))
}

func (l *Loop) endUtterance(text string) {
	if l.utterance == nil {
		return
	}
	l.utterance.SetAttributes(attribute.Int("stt.text_length", len(text)))
	l.utterance.End()
	l.utterance = nil
}

func (l *Loop) initMetrics() error {
	chunks, err := l.meter.Int64Counter("loqa.stt.chunks", metric.WithDescription("Chunks fed to the recognizer by resulting state"))
	if err != nil {
		return err
	}
	latency, err := l.meter.Float64Histogram("loqa.stt.accept.duration", metric.WithUnit("ms"), metric.WithDescription("Time spent in the recognizer per chunk"))
	if err != nil {
		return err
	}
	depth, err := l.meter.Int64ObservableGauge("loqa.stt.queue.depth", metric.WithDescription("Chunks waiting for recognition"))
	if err != nil {
		return err
	}
	finals, err := l.meter.Int64ObservableCounter("loqa.stt.utterances", metric.WithDescription("Finalized non-empty utterances"))
	if err != nil {
		return err
	}
	l.chunks = chunks
	l.latency = latency
	_, err = l.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		obs.ObserveInt64(depth, int64(l.queue.Len()))
		obs.ObserveInt64(finals, int64(l.finals.Load()))
		return nil
	}, depth, finals)
	return err
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
