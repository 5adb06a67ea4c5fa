package stt

import (
	"errors"
	"fmt"
)

// DecodingState is the recognizer's status after accepting one chunk.
type DecodingState int

const (
	// StateRunning means audio has accumulated for an utterance that is not
	// yet finished.
	StateRunning DecodingState = iota
	// StateFinalized means an utterance boundary was detected and Result holds
	// its transcription.
	StateFinalized
	// StateFailed means the chunk produced no usable output. Accumulated
	// state is kept.
	StateFailed
)

func (s DecodingState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateFinalized:
		return "finalized"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PartialResult is the in-progress text of the current utterance.
type PartialResult struct {
	Partial string `json:"partial"`
}

// CompleteResult is either a SingleResult or a MultipleResult.
type CompleteResult interface {
	completeResult()
}

type SingleResult struct {
	Text string `json:"text"`
}

type Alternative struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// MultipleResult lists alternatives ranked best first.
type MultipleResult struct {
	Alternatives []Alternative `json:"alternatives"`
}

func (SingleResult) completeResult()   {}
func (MultipleResult) completeResult() {}

// BestText returns the text of the single result, or of the first-ranked
// alternative.
func BestText(r CompleteResult) string {
	switch v := r.(type) {
	case SingleResult:
		return v.Text
	case MultipleResult:
		if len(v.Alternatives) == 0 {
			return ""
		}
		return v.Alternatives[0].Text
	default:
		return ""
	}
}

// Recognizer is an incremental decoder bound to one sample rate.
type Recognizer interface {
	SampleRate() int
	AcceptWaveform(samples []int16) (DecodingState, error)
	PartialResult() (PartialResult, error)
	Result() (CompleteResult, error)
	Close() error
}

// Engine is a loaded model that recognizers are created from.
type Engine interface {
	NewRecognizer(sampleRate int) (Recognizer, error)
	Close() error
}

// EngineLoader loads an engine. It is called before the audio stream is
// opened so a slow or failing load never causes underruns.
type EngineLoader func() (Engine, error)

var ErrInvalidSampleRate = errors.New("sample rate must be positive")

// RecognitionError is a fatal rejection of a chunk by the recognizer.
type RecognitionError struct {
	Seq uint64
	Err error
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("recognition failed at chunk %d: %v", e.Seq, e.Err)
}

func (e *RecognitionError) Unwrap() error { return e.Err }
