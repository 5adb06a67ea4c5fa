package audio

import (
	"errors"
	"fmt"
)

// SampleFormat is the native sample representation delivered by a device.
type SampleFormat int

const (
	FormatFloat32 SampleFormat = iota
	FormatInt32
	FormatInt16
	FormatInt8
	FormatUint8
)

func (f SampleFormat) String() string {
	switch f {
	case FormatFloat32:
		return "f32"
	case FormatInt32:
		return "i32"
	case FormatInt16:
		return "i16"
	case FormatInt8:
		return "i8"
	case FormatUint8:
		return "u8"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// Chunk is one callback's worth of mono 16-bit audio.
type Chunk struct {
	Seq        uint64
	SampleRate int
	Samples    []int16
}

// StreamConfig is the resolved input configuration. It is fixed for the
// lifetime of a stream.
type StreamConfig struct {
	Channels   int
	SampleRate int
	Format     SampleFormat
}

// ConfigRange is one supported configuration reported by a device.
type ConfigRange struct {
	Channels      int
	MinSampleRate int
	MaxSampleRate int
	Format        SampleFormat
}

// Device is an input device that can report what it supports.
type Device interface {
	Name() string
	SupportedConfigs() ([]ConfigRange, error)
}

// Stream is an opened input stream.
type Stream interface {
	Start() error
	Stop() error
	Close() error
}

// Backend opens input streams on a host audio system. OpenInput must wire the
// stream's data callback to the matching Source.Write method and its fault
// reporting to Source.Fault.
type Backend interface {
	DefaultInputDevice() (Device, error)
	OpenInput(dev Device, cfg StreamConfig, framesPerBuffer int, src *Source) (Stream, error)
	Close() error
}

var (
	ErrNoSuitableConfig = errors.New("no suitable mono input config found")
	ErrQueueClosed      = errors.New("audio queue closed")
)

// StreamRuntimeError is a fault reported by the audio subsystem while the
// stream is running, e.g. an overflow or a disconnected device.
type StreamRuntimeError struct {
	Err error
}

func (e *StreamRuntimeError) Error() string {
	return fmt.Sprintf("stream error: %v", e.Err)
}

func (e *StreamRuntimeError) Unwrap() error { return e.Err }
