package stt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-mic/internal/audio"
	"github.com/loqalabs/loqa-mic/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type step struct {
	state   DecodingState
	partial string
	result  CompleteResult
	err     error
}

type scriptedRecognizer struct {
	rate       int
	steps      []step
	current    step
	fed        int
	partialErr error
}

func (r *scriptedRecognizer) SampleRate() int { return r.rate }

func (r *scriptedRecognizer) AcceptWaveform([]int16) (DecodingState, error) {
	r.current = r.steps[r.fed]
	r.fed++
	return r.current.state, r.current.err
}

func (r *scriptedRecognizer) PartialResult() (PartialResult, error) {
	if r.partialErr != nil {
		return PartialResult{}, r.partialErr
	}
	return PartialResult{Partial: r.current.partial}, nil
}

func (r *scriptedRecognizer) Result() (CompleteResult, error) {
	if r.current.result == nil {
		return SingleResult{}, nil
	}
	return r.current.result, nil
}

func (r *scriptedRecognizer) Close() error { return nil }

type recordingSink struct {
	ops []string
}

func (s *recordingSink) ClearCurrentLine() error {
	s.ops = append(s.ops, "clear")
	return nil
}

func (s *recordingSink) WritePartial(text string) error {
	s.ops = append(s.ops, "partial:"+text)
	return nil
}

func (s *recordingSink) WriteFinal(text string) error {
	s.ops = append(s.ops, "final:"+text)
	return nil
}

type recordingListener struct {
	events []Event
}

func (l *recordingListener) HandleEvent(_ context.Context, evt Event) {
	l.events = append(l.events, evt)
}

func runScript(t *testing.T, steps []step) ([]Event, *recordingSink, *Loop) {
	t.Helper()
	queue := audio.NewQueue()
	for i := range steps {
		if err := queue.Send(audio.Chunk{Seq: uint64(i), SampleRate: 16000, Samples: []int16{1}}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	queue.Close()

	rec := &scriptedRecognizer{rate: 16000, steps: steps}
	sink := &recordingSink{}
	listener := &recordingListener{}
	loop := NewLoop(queue, rec, sink, config.STTConfig{}, newLogger())
	loop.AddListener(listener)
	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if rec.fed != len(steps) {
		t.Fatalf("expected %d chunks fed, got %d", len(steps), rec.fed)
	}
	return listener.events, sink, loop
}

func TestLoopInterpretsStates(t *testing.T) {
	events, sink, loop := runScript(t, []step{
		{state: StateRunning, partial: ""},
		{state: StateRunning, partial: "hello"},
		{state: StateFinalized, result: SingleResult{Text: "hello there"}},
	})

	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(events), events)
	}
	if events[0].Kind != EventPartial || events[0].Text != "" {
		t.Fatalf("expected empty partial, got %+v", events[0])
	}
	if events[1].Kind != EventPartial || events[1].Text != "hello" {
		t.Fatalf("expected partial hello, got %+v", events[1])
	}
	if events[2].Kind != EventFinal || events[2].Text != "hello there" {
		t.Fatalf("expected final, got %+v", events[2])
	}

	want := []string{"clear", "partial:", "clear", "partial:hello", "clear", "final:hello there"}
	if strings.Join(sink.ops, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected sink ops %v", sink.ops)
	}
	stats := loop.Stats()
	if stats.Decoded != 3 || stats.Partials != 2 || stats.Finals != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestLoopSuppressesEmptyFinal(t *testing.T) {
	events, sink, loop := runScript(t, []step{
		{state: StateFinalized, result: SingleResult{Text: ""}},
		{state: StateFinalized, result: MultipleResult{}},
	})
	if len(events) != 0 {
		t.Fatalf("expected no events for silence, got %+v", events)
	}
	for _, op := range sink.ops {
		if strings.HasPrefix(op, "final:") {
			t.Fatalf("unexpected final write %q", op)
		}
	}
	if loop.Stats().Suppressed != 2 {
		t.Fatalf("expected 2 suppressed finals, got %d", loop.Stats().Suppressed)
	}
}

func TestLoopUsesFirstAlternative(t *testing.T) {
	events, _, _ := runScript(t, []step{
		{state: StateFinalized, result: MultipleResult{Alternatives: []Alternative{
			{Text: "hello world", Confidence: 0.91},
			{Text: "yellow world", Confidence: 0.42},
		}}},
	})
	if len(events) != 1 || events[0].Text != "hello world" {
		t.Fatalf("expected first alternative, got %+v", events)
	}
}

func TestLoopRecoversFromFailedChunk(t *testing.T) {
	events, sink, loop := runScript(t, []step{
		{state: StateRunning, partial: "good"},
		{state: StateFailed},
		{state: StateRunning, partial: "good morning"},
		{state: StateFinalized, result: SingleResult{Text: "good morning"}},
	})
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %+v", events)
	}
	for _, evt := range events {
		if evt.ChunkSeq == 1 {
			t.Fatalf("failed chunk produced an event: %+v", evt)
		}
	}
	if events[1].Text != "good morning" || events[2].Kind != EventFinal {
		t.Fatalf("loop did not resume after failure: %+v", events)
	}
	// the failed chunk still clears the partial line, and writes nothing else
	if sink.ops[2] != "clear" || sink.ops[3] != "clear" {
		t.Fatalf("unexpected ops around failure: %v", sink.ops)
	}
	if loop.Stats().Failed != 1 {
		t.Fatalf("expected one failed chunk, got %d", loop.Stats().Failed)
	}
}

func TestLoopSkipsUnreadablePartial(t *testing.T) {
	queue := audio.NewQueue()
	_ = queue.Send(audio.Chunk{SampleRate: 16000, Samples: []int16{1}})
	queue.Close()
	rec := &scriptedRecognizer{rate: 16000, steps: []step{{state: StateRunning}}, partialErr: errors.New("bad json")}
	sink := &recordingSink{}
	listener := &recordingListener{}
	loop := NewLoop(queue, rec, sink, config.STTConfig{}, newLogger())
	loop.AddListener(listener)

	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(listener.events) != 0 {
		t.Fatalf("expected no events, got %+v", listener.events)
	}
	if strings.Join(sink.ops, "|") != "clear" {
		t.Fatalf("expected only a line clear, got %v", sink.ops)
	}
	if stats := loop.Stats(); stats.Partials != 0 || stats.Decoded != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestLoopEventsFollowChunkOrder(t *testing.T) {
	steps := make([]step, 0, 40)
	for i := 0; i < 40; i++ {
		switch {
		case i%10 == 9:
			steps = append(steps, step{state: StateFinalized, result: SingleResult{Text: "utterance"}})
		case i%7 == 3:
			steps = append(steps, step{state: StateFailed})
		default:
			steps = append(steps, step{state: StateRunning, partial: "u"})
		}
	}
	events, _, _ := runScript(t, steps)

	var last int64 = -1
	for _, evt := range events {
		if int64(evt.ChunkSeq) <= last {
			t.Fatalf("event for chunk %d after chunk %d", evt.ChunkSeq, last)
		}
		last = int64(evt.ChunkSeq)
	}
}

func TestLoopRejectsSampleRateMismatch(t *testing.T) {
	queue := audio.NewQueue()
	_ = queue.Send(audio.Chunk{Seq: 5, SampleRate: 44100, Samples: []int16{0}})
	rec := &scriptedRecognizer{rate: 16000, steps: []step{{state: StateRunning}}}
	loop := NewLoop(queue, rec, &recordingSink{}, config.STTConfig{}, newLogger())

	err := loop.Run(context.Background())
	var recErr *RecognitionError
	if !errors.As(err, &recErr) {
		t.Fatalf("expected RecognitionError, got %v", err)
	}
	if recErr.Seq != 5 {
		t.Fatalf("expected seq 5, got %d", recErr.Seq)
	}
	if rec.fed != 0 {
		t.Fatal("mismatched chunk must not reach the recognizer")
	}
}

func TestLoopStopsOnRecognizerError(t *testing.T) {
	boom := errors.New("model rejected waveform")
	queue := audio.NewQueue()
	_ = queue.Send(audio.Chunk{SampleRate: 16000, Samples: []int16{0}})
	_ = queue.Send(audio.Chunk{Seq: 1, SampleRate: 16000, Samples: []int16{0}})
	rec := &scriptedRecognizer{rate: 16000, steps: []step{{err: boom}, {state: StateRunning}}}
	loop := NewLoop(queue, rec, &recordingSink{}, config.STTConfig{}, newLogger())

	err := loop.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped recognizer error, got %v", err)
	}
	if rec.fed != 1 {
		t.Fatalf("expected loop to stop after the first chunk, fed %d", rec.fed)
	}
}

func TestLoopReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	loop := NewLoop(audio.NewQueue(), &scriptedRecognizer{rate: 16000}, &recordingSink{}, config.STTConfig{}, newLogger())
	if err := loop.Run(ctx); err != nil {
		t.Fatalf("expected nil on cancellation, got %v", err)
	}
}

func sine(n, sampleRate int, amplitude float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amplitude * math.Sin(2*math.Pi*220*float64(i)/float64(sampleRate)))
	}
	return out
}

func TestLoopEndToEndWithMockEngine(t *testing.T) {
	const rate = 16000
	const chunk = rate / 10

	queue := audio.NewQueue()
	src := audio.NewSource(queue, audio.StreamConfig{Channels: 1, SampleRate: rate, Format: audio.FormatInt16})
	silence := make([]int16, chunk)
	speech := sine(chunk, rate, 8000)

	for i := 0; i < 10; i++ {
		src.WriteInt16(silence)
	}
	for i := 0; i < 10; i++ {
		src.WriteInt16(speech)
	}
	for i := 0; i < 10; i++ {
		src.WriteInt16(silence)
	}
	src.Close()

	rec, err := NewMockEngine("hello world").NewRecognizer(rate)
	if err != nil {
		t.Fatalf("new recognizer: %v", err)
	}
	listener := &recordingListener{}
	loop := NewLoop(queue, rec, &recordingSink{}, config.STTConfig{}, newLogger())
	loop.AddListener(listener)
	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	var finals []Event
	var spoken []string
	for _, evt := range listener.events {
		if evt.Kind == EventFinal {
			if evt.ChunkSeq < 10 {
				t.Fatalf("final during leading silence: %+v", evt)
			}
			finals = append(finals, evt)
			continue
		}
		if evt.ChunkSeq < 10 && evt.Text != "" {
			t.Fatalf("non-empty partial during leading silence: %+v", evt)
		}
		if len(finals) == 0 && evt.Text != "" {
			spoken = append(spoken, evt.Text)
		}
	}

	if len(spoken) == 0 {
		t.Fatal("expected partial results while speaking")
	}
	prev := 0
	for _, p := range spoken {
		if !strings.HasPrefix("hello world", p) {
			t.Fatalf("partial %q is not a prefix of the phrase", p)
		}
		if len(p) < prev {
			t.Fatalf("partial %q shrank", p)
		}
		prev = len(p)
	}
	if len(finals) != 1 || finals[0].Text != "hello world" {
		t.Fatalf("expected exactly one final \"hello world\", got %+v", finals)
	}
}
