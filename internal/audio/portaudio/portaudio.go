// Package portaudio captures microphone input through the PortAudio C library.
package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/gordonklaus/portaudio"
	"github.com/loqalabs/loqa-mic/internal/audio"
	"github.com/loqalabs/loqa-mic/internal/config"
)

var (
	ErrInputOverflow  = errors.New("input overflow: samples were discarded by the audio system")
	ErrInputUnderflow = errors.New("input underflow")
)

// Sample rates probed when building the supported-config list.
var standardRates = []int{8000, 11025, 16000, 22050, 32000, 44100, 48000, 88200, 96000}

// Formats are probed in preference order.
var probeFormats = []audio.SampleFormat{audio.FormatFloat32, audio.FormatInt32, audio.FormatInt16}

type Backend struct {
	cfg config.AudioConfig
	log *slog.Logger
}

// Open initializes PortAudio. Close must be called to release it.
func Open(cfg config.AudioConfig, log *slog.Logger) (*Backend, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	log.Debug("portaudio initialized", slog.String("version", portaudio.VersionText()))
	return &Backend{cfg: cfg, log: log.With(slog.String("component", "portaudio"))}, nil
}

func (b *Backend) Close() error {
	return portaudio.Terminate()
}

// DefaultInputDevice returns the host default input, or the first input
// device whose name contains audio.device when that is configured.
func (b *Backend) DefaultInputDevice() (audio.Device, error) {
	if name := strings.TrimSpace(b.cfg.Device); name != "" {
		devices, err := portaudio.Devices()
		if err != nil {
			return nil, fmt.Errorf("list devices: %w", err)
		}
		for _, info := range devices {
			if info.MaxInputChannels > 0 && strings.Contains(strings.ToLower(info.Name), strings.ToLower(name)) {
				return &device{info: info, latency: b.cfg.Latency}, nil
			}
		}
		return nil, fmt.Errorf("no input device matching %q", name)
	}
	info, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("no input device available: %w", err)
	}
	return &device{info: info, latency: b.cfg.Latency}, nil
}

func (b *Backend) OpenInput(dev audio.Device, cfg audio.StreamConfig, framesPerBuffer int, src *audio.Source) (audio.Stream, error) {
	d, ok := dev.(*device)
	if !ok {
		return nil, fmt.Errorf("device %q was not created by the portaudio backend", dev.Name())
	}
	callback, err := callbackFor(cfg.Format, src)
	if err != nil {
		return nil, err
	}
	params := d.params(cfg.Channels, cfg.SampleRate)
	params.FramesPerBuffer = framesPerBuffer

	stream, err := portaudio.OpenStream(params, callback)
	if err != nil {
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	b.log.Info("input stream opened",
		slog.String("device", d.Name()),
		slog.Int("sample_rate", cfg.SampleRate),
		slog.String("format", cfg.Format.String()),
		slog.Int("frames_per_buffer", framesPerBuffer))
	return stream, nil
}

type device struct {
	info    *portaudio.DeviceInfo
	latency string
}

func (d *device) Name() string { return d.info.Name }

func (d *device) params(channels, sampleRate int) portaudio.StreamParameters {
	latency := d.info.DefaultHighInputLatency
	if d.latency == "low" {
		latency = d.info.DefaultLowInputLatency
	}
	return portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   d.info,
			Channels: channels,
			Latency:  latency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: portaudio.FramesPerBufferUnspecified,
	}
}

// SupportedConfigs probes every channel count, format and standard rate the
// device accepts. Candidates are ordered by channel count, then format
// preference.
func (d *device) SupportedConfigs() ([]audio.ConfigRange, error) {
	rates := append([]int{}, standardRates...)
	if def := int(d.info.DefaultSampleRate); def > 0 && !containsRate(rates, def) {
		rates = append(rates, def)
		sort.Ints(rates)
	}

	var out []audio.ConfigRange
	for channels := 1; channels <= d.info.MaxInputChannels; channels++ {
		for _, format := range probeFormats {
			probe, err := callbackFor(format, nil)
			if err != nil {
				return nil, err
			}
			candidate := audio.ConfigRange{Channels: channels, Format: format}
			for _, rate := range rates {
				if portaudio.IsFormatSupported(d.params(channels, rate), probe) != nil {
					continue
				}
				if candidate.MinSampleRate == 0 {
					candidate.MinSampleRate = rate
				}
				candidate.MaxSampleRate = rate
			}
			if candidate.MaxSampleRate > 0 {
				out = append(out, candidate)
			}
		}
	}
	return out, nil
}

func containsRate(rates []int, rate int) bool {
	for _, r := range rates {
		if r == rate {
			return true
		}
	}
	return false
}

// callbackFor builds the typed PortAudio callback for format. A nil src yields
// a callback usable only for format probing.
func callbackFor(format audio.SampleFormat, src *audio.Source) (interface{}, error) {
	switch format {
	case audio.FormatFloat32:
		return func(in []float32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
			defer recoverFault(src)
			reportFlags(src, flags)
			src.WriteFloat32(in)
		}, nil
	case audio.FormatInt32:
		return func(in []int32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
			defer recoverFault(src)
			reportFlags(src, flags)
			src.WriteInt32(in)
		}, nil
	case audio.FormatInt16:
		return func(in []int16, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
			defer recoverFault(src)
			reportFlags(src, flags)
			src.WriteInt16(in)
		}, nil
	case audio.FormatInt8:
		return func(in []int8, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
			defer recoverFault(src)
			reportFlags(src, flags)
			src.WriteInt8(in)
		}, nil
	case audio.FormatUint8:
		return func(in []uint8, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
			defer recoverFault(src)
			reportFlags(src, flags)
			src.WriteUint8(in)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported sample format %s", format)
	}
}

func reportFlags(src *audio.Source, flags portaudio.StreamCallbackFlags) {
	if flags&portaudio.InputOverflow != 0 {
		src.Fault(ErrInputOverflow)
	}
	if flags&portaudio.InputUnderflow != 0 {
		src.Fault(ErrInputUnderflow)
	}
}

// A panic must not unwind into the C audio thread.
func recoverFault(src *audio.Source) {
	if r := recover(); r != nil {
		src.Fault(fmt.Errorf("capture callback panic: %v", r))
	}
}
