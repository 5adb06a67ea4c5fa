// Package wavfile replays a WAV recording through the capture pipeline as if
// it were a microphone.
package wavfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-mic/internal/audio"
	"github.com/loqalabs/loqa-mic/internal/config"
)

// DefaultChunkDuration is used when no frames-per-buffer is configured.
const DefaultChunkDuration = 100 * time.Millisecond

type Backend struct {
	path     string
	realtime bool
	log      *slog.Logger
}

func Open(cfg config.AudioConfig, log *slog.Logger) (*Backend, error) {
	if cfg.File == "" {
		return nil, errors.New("audio.file is empty")
	}
	return &Backend{
		path:     cfg.File,
		realtime: cfg.FileRealtime,
		log:      log.With(slog.String("component", "wavfile")),
	}, nil
}

func (b *Backend) Close() error { return nil }

func (b *Backend) DefaultInputDevice() (audio.Device, error) {
	f, err := os.Open(b.path)
	if err != nil {
		return nil, fmt.Errorf("open wav file: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s is not a valid wav file", b.path)
	}
	return &device{
		path:       b.path,
		sampleRate: int(dec.SampleRate),
		channels:   int(dec.NumChans),
		bitDepth:   int(dec.BitDepth),
	}, nil
}

func (b *Backend) OpenInput(dev audio.Device, cfg audio.StreamConfig, framesPerBuffer int, src *audio.Source) (audio.Stream, error) {
	d, ok := dev.(*device)
	if !ok {
		return nil, fmt.Errorf("device %q was not created by the wavfile backend", dev.Name())
	}
	if cfg.SampleRate != d.sampleRate || cfg.Channels != d.channels {
		return nil, fmt.Errorf("wav file is %d Hz/%d ch, stream wants %d Hz/%d ch", d.sampleRate, d.channels, cfg.SampleRate, cfg.Channels)
	}
	if framesPerBuffer <= 0 {
		framesPerBuffer = int(time.Duration(cfg.SampleRate) * DefaultChunkDuration / time.Second)
	}
	f, err := os.Open(d.path)
	if err != nil {
		return nil, fmt.Errorf("open wav file: %w", err)
	}
	dec := wav.NewDecoder(f)
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek to pcm data: %w", err)
	}
	return &stream{
		file:     f,
		dec:      dec,
		dev:      d,
		frames:   framesPerBuffer,
		realtime: b.realtime,
		src:      src,
		log:      b.log,
	}, nil
}

type device struct {
	path       string
	sampleRate int
	channels   int
	bitDepth   int
}

func (d *device) Name() string { return d.path }

// SupportedConfigs reports the file's own layout; replay never resamples or
// mixes down.
func (d *device) SupportedConfigs() ([]audio.ConfigRange, error) {
	switch d.bitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("unsupported wav bit depth %d", d.bitDepth)
	}
	return []audio.ConfigRange{{
		Channels:      d.channels,
		MinSampleRate: d.sampleRate,
		MaxSampleRate: d.sampleRate,
		Format:        audio.FormatInt16,
	}}, nil
}

type stream struct {
	file     *os.File
	dec      *wav.Decoder
	dev      *device
	frames   int
	realtime bool
	src      *audio.Source
	log      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("stream already started")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
	return nil
}

// run plays the callback role: one Write per buffer, paced at the file's
// sample rate when realtime is set. End of file closes the source.
func (s *stream) run(ctx context.Context) {
	defer close(s.done)
	defer s.src.Close()

	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: s.dev.channels, SampleRate: s.dev.sampleRate},
		Data:   make([]int, s.frames*s.dev.channels),
	}
	samples := make([]int16, len(buf.Data))

	var ticker *time.Ticker
	if s.realtime {
		period := time.Duration(s.frames) * time.Second / time.Duration(s.dev.sampleRate)
		ticker = time.NewTicker(period)
		defer ticker.Stop()
	}

	for {
		n, err := s.dec.PCMBuffer(buf)
		if n > 0 {
			ToInt16(samples[:n], buf.Data[:n], s.dev.bitDepth)
			s.src.WriteInt16(samples[:n])
		}
		if err != nil && !errors.Is(err, io.EOF) {
			s.src.Fault(fmt.Errorf("read wav: %w", err))
			return
		}
		if n == 0 || errors.Is(err, io.EOF) {
			s.log.Info("end of input file", slog.String("path", s.dev.path))
			return
		}
		if ticker != nil {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		} else if ctx.Err() != nil {
			return
		}
	}
}

func (s *stream) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (s *stream) Close() error {
	if err := s.Stop(); err != nil {
		return err
	}
	return s.file.Close()
}

// ToInt16 scales integer PCM of the given bit depth to 16 bits. 8-bit WAV
// data is unsigned.
func ToInt16(dst []int16, src []int, bitDepth int) {
	for i, v := range src {
		switch bitDepth {
		case 8:
			dst[i] = int16(v-128) << 8
		case 24:
			dst[i] = int16(v >> 8)
		case 32:
			dst[i] = int16(v >> 16)
		default:
			dst[i] = int16(v)
		}
	}
}
