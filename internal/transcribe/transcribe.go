// Package transcribe converts raw PCM audio windows into text by shelling out
// to a whisper.cpp-compatible CLI binary. The binary and model are probed at
// startup; when either is missing the server can still run with transcription
// reported as unavailable.
package transcribe

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable means no usable STT binary or model is configured.
	ErrUnavailable = errors.New("transcribe: engine unavailable")

	// ErrTimeout means the engine did not finish within the configured window.
	ErrTimeout = errors.New("transcribe: engine timed out")

	// ErrFailed means the engine ran and exited with an error.
	ErrFailed = errors.New("transcribe: engine failed")
)

// AudioFormat describes the raw PCM stream handed to [Transcriber.Transcribe].
type AudioFormat struct {
	SampleRate  int // samples per second, e.g. 16000
	Channels    int // interleaved channel count
	SampleWidth int // bytes per sample, e.g. 2 for s16le
}

// DefaultFormat is the stream format browser extensions send: 16 kHz mono
// signed 16-bit little-endian.
var DefaultFormat = AudioFormat{SampleRate: 16000, Channels: 1, SampleWidth: 2}

// BytesPerSecond returns the raw byte rate of the format.
func (f AudioFormat) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.SampleWidth
}

// Result is one transcription of an audio window.
type Result struct {
	Text       string
	Confidence float64
}

// Transcriber turns a raw PCM window into text.
type Transcriber interface {
	// Transcribe blocks until the window is transcribed, the engine fails, or
	// ctx is done. Empty audio yields an empty result, not an error.
	Transcribe(ctx context.Context, pcm []byte, format AudioFormat) (*Result, error)

	// Available reports whether the engine can accept work right now.
	Available() bool
}

// Disabled is a [Transcriber] that always reports unavailable. Used when the
// deployment has no STT binary and transcription is optional.
type Disabled struct{}

func (Disabled) Transcribe(context.Context, []byte, AudioFormat) (*Result, error) {
	return nil, ErrUnavailable
}

func (Disabled) Available() bool { return false }
