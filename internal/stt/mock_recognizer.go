package stt

import (
	"math"
	"strings"
	"time"
)

const (
	mockVoiceThreshold  = 500.0 // RMS in int16 units
	mockWordDuration    = 300 * time.Millisecond
	mockEndpointSilence = 500 * time.Millisecond
)

type mockEngine struct {
	words []string
}

// NewMockEngine returns an engine that "recognizes" phrase in any audio: one
// more word appears per 300ms of voiced input, and the utterance finalizes
// after 500ms of silence. Useful without a model on disk.
func NewMockEngine(phrase string) Engine {
	return &mockEngine{words: strings.Fields(phrase)}
}

func (e *mockEngine) NewRecognizer(sampleRate int) (Recognizer, error) {
	if sampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}
	return &mockRecognizer{
		sampleRate:      sampleRate,
		words:           e.words,
		wordSamples:     samplesFor(sampleRate, mockWordDuration),
		endpointSamples: samplesFor(sampleRate, mockEndpointSilence),
	}, nil
}

func (e *mockEngine) Close() error { return nil }

type mockRecognizer struct {
	sampleRate      int
	words           []string
	wordSamples     int
	endpointSamples int

	heard   bool
	voiced  int
	silence int
	last    string
}

func samplesFor(sampleRate int, d time.Duration) int {
	n := int(time.Duration(sampleRate) * d / time.Second)
	if n < 1 {
		n = 1
	}
	return n
}

func (m *mockRecognizer) SampleRate() int { return m.sampleRate }

func (m *mockRecognizer) AcceptWaveform(samples []int16) (DecodingState, error) {
	if len(samples) == 0 {
		return StateFailed, nil
	}
	if rms(samples) >= mockVoiceThreshold {
		m.heard = true
		m.voiced += len(samples)
		m.silence = 0
	} else if m.heard {
		m.silence += len(samples)
	}

	if m.heard && m.silence >= m.endpointSamples {
		m.last = strings.Join(m.words, " ")
		m.heard, m.voiced, m.silence = false, 0, 0
		return StateFinalized, nil
	}
	return StateRunning, nil
}

func (m *mockRecognizer) PartialResult() (PartialResult, error) {
	if !m.heard {
		return PartialResult{}, nil
	}
	n := m.voiced/m.wordSamples + 1
	if n > len(m.words) {
		n = len(m.words)
	}
	return PartialResult{Partial: strings.Join(m.words[:n], " ")}, nil
}

func (m *mockRecognizer) Result() (CompleteResult, error) {
	return SingleResult{Text: m.last}, nil
}

func (m *mockRecognizer) Close() error { return nil }

func rms(samples []int16) float64 {
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
