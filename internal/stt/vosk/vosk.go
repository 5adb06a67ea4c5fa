// Package vosk adapts the Vosk offline recognizer to stt.Engine.
package vosk

import (
	"fmt"
	"log/slog"
	"os"

	voskapi "github.com/alphacep/vosk-api/go"
	"github.com/loqalabs/loqa-mic/internal/config"
	"github.com/loqalabs/loqa-mic/internal/stt"
)

// Engine holds a loaded Vosk model.
type Engine struct {
	model *voskapi.VoskModel
	cfg   config.STTConfig
}

// Load reads the model directory at cfg.ModelPath. Large models take seconds
// to load.
func Load(cfg config.STTConfig, log *slog.Logger) (*Engine, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("vosk model: %w", err)
	}
	voskapi.SetLogLevel(cfg.EngineLogLevel)

	log.Info("loading vosk model", slog.String("path", cfg.ModelPath))
	model, err := voskapi.NewModel(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load vosk model %s: %w", cfg.ModelPath, err)
	}
	return &Engine{model: model, cfg: cfg}, nil
}

func (e *Engine) NewRecognizer(sampleRate int) (stt.Recognizer, error) {
	if sampleRate <= 0 {
		return nil, stt.ErrInvalidSampleRate
	}
	rec, err := voskapi.NewRecognizer(e.model, float64(sampleRate))
	if err != nil {
		return nil, fmt.Errorf("create vosk recognizer: %w", err)
	}
	if e.cfg.MaxAlternatives > 0 {
		rec.SetMaxAlternatives(e.cfg.MaxAlternatives)
	}
	if e.cfg.Words {
		rec.SetWords(1)
	}
	return &recognizer{rec: rec, sampleRate: sampleRate}, nil
}

func (e *Engine) Close() error {
	e.model.Free()
	return nil
}

type recognizer struct {
	rec        *voskapi.VoskRecognizer
	sampleRate int
}

func (r *recognizer) SampleRate() int { return r.sampleRate }

func (r *recognizer) AcceptWaveform(samples []int16) (stt.DecodingState, error) {
	switch r.rec.AcceptWaveform(stt.PCMBytes(samples)) {
	case 1:
		return stt.StateFinalized, nil
	case 0:
		return stt.StateRunning, nil
	default:
		return stt.StateFailed, nil
	}
}

func (r *recognizer) PartialResult() (stt.PartialResult, error) {
	return stt.DecodePartialResult([]byte(r.rec.PartialResult()))
}

func (r *recognizer) Result() (stt.CompleteResult, error) {
	return stt.DecodeCompleteResult([]byte(r.rec.Result()))
}

func (r *recognizer) Close() error {
	r.rec.Free()
	return nil
}
