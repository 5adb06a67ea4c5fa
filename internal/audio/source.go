package audio

import "sync/atomic"

const faultBuffer = 16

// SourceStats is a snapshot of the capture counters.
type SourceStats struct {
	Captured      uint64
	Dropped       uint64
	FaultsDropped uint64
}

// Source converts native callback buffers into chunks and hands them to the
// queue. Its Write methods and Fault run on the audio callback thread: they
// never block, take no locks and do no I/O.
type Source struct {
	queue *Queue
	cfg   StreamConfig

	seq           atomic.Uint64
	captured      atomic.Uint64
	dropped       atomic.Uint64
	faultsDropped atomic.Uint64
	faults        chan error
}

func NewSource(queue *Queue, cfg StreamConfig) *Source {
	return &Source{
		queue:  queue,
		cfg:    cfg,
		faults: make(chan error, faultBuffer),
	}
}

func (s *Source) Config() StreamConfig { return s.cfg }

func (s *Source) WriteFloat32(in []float32) {
	out := make([]int16, len(in))
	Float32ToInt16(out, in)
	s.push(out)
}

func (s *Source) WriteInt32(in []int32) {
	out := make([]int16, len(in))
	Int32ToInt16(out, in)
	s.push(out)
}

func (s *Source) WriteInt16(in []int16) {
	out := make([]int16, len(in))
	copy(out, in)
	s.push(out)
}

func (s *Source) WriteInt8(in []int8) {
	out := make([]int16, len(in))
	Int8ToInt16(out, in)
	s.push(out)
}

func (s *Source) WriteUint8(in []uint8) {
	out := make([]int16, len(in))
	Uint8ToInt16(out, in)
	s.push(out)
}

func (s *Source) push(samples []int16) {
	c := Chunk{
		Seq:        s.seq.Add(1) - 1,
		SampleRate: s.cfg.SampleRate,
		Samples:    samples,
	}
	s.captured.Add(1)
	// The consumer may already be gone; losing the chunk is preferable to
	// surfacing an error on the callback thread.
	if err := s.queue.Send(c); err != nil {
		s.dropped.Add(1)
	}
}

// Fault reports a stream-level error. Faults that arrive while the buffer is
// full are counted and discarded.
func (s *Source) Fault(err error) {
	if err == nil {
		return
	}
	select {
	case s.faults <- &StreamRuntimeError{Err: err}:
	default:
		s.faultsDropped.Add(1)
	}
}

// Faults delivers errors passed to Fault, wrapped in StreamRuntimeError.
func (s *Source) Faults() <-chan error { return s.faults }

func (s *Source) Stats() SourceStats {
	return SourceStats{
		Captured:      s.captured.Load(),
		Dropped:       s.dropped.Load(),
		FaultsDropped: s.faultsDropped.Load(),
	}
}

// Close ends the stream from the producer side; the consumer sees
// ErrQueueClosed after draining what was already captured.
func (s *Source) Close() {
	s.queue.Close()
}
