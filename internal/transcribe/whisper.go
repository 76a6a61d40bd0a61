package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// nominalConfidence is reported for non-empty transcriptions. The CLI does
// not expose token probabilities on its plain-text output path.
const nominalConfidence = 0.9

// Whisper runs a whisper.cpp-compatible CLI binary per audio window. Each
// call writes the window to a temp WAV file, invokes the binary, and reads
// the transcription from stdout.
type Whisper struct {
	binaryPath string
	modelPath  string
	language   string
	timeout    time.Duration
	available  bool
}

// WhisperOption configures a [Whisper].
type WhisperOption func(*Whisper)

// WithLanguage sets the spoken language hint passed to the engine.
// Default: "en".
func WithLanguage(lang string) WhisperOption {
	return func(w *Whisper) {
		if lang != "" {
			w.language = lang
		}
	}
}

// WithTimeout bounds a single engine invocation. Default: 120s.
func WithTimeout(d time.Duration) WhisperOption {
	return func(w *Whisper) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// NewWhisper probes binaryPath and modelPath and returns the engine. A failed
// probe is not an error: the engine is returned with Available() == false so
// the caller can decide whether a missing STT stack is fatal.
func NewWhisper(binaryPath, modelPath string, opts ...WhisperOption) *Whisper {
	w := &Whisper{
		binaryPath: binaryPath,
		modelPath:  modelPath,
		language:   "en",
		timeout:    120 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.available = w.probe()
	return w
}

// probe checks that both the binary and the model file exist and are regular
// files. It runs once at construction.
func (w *Whisper) probe() bool {
	for name, path := range map[string]string{"binary": w.binaryPath, "model": w.modelPath} {
		if path == "" {
			slog.Warn("stt path not configured", "which", name)
			return false
		}
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			slog.Warn("stt path not usable", "which", name, "path", path, "error", err)
			return false
		}
	}
	return true
}

// Available reports whether the startup probe succeeded.
func (w *Whisper) Available() bool { return w.available }

// Transcribe writes pcm to a temp WAV file and runs the engine on it.
func (w *Whisper) Transcribe(ctx context.Context, pcm []byte, format AudioFormat) (*Result, error) {
	if !w.available {
		return nil, ErrUnavailable
	}
	if len(pcm) == 0 {
		return &Result{}, nil
	}

	wavPath, cleanup, err := w.stageWAV(pcm, format)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	args := []string{
		"-m", w.modelPath,
		"-f", wavPath,
		"-l", w.language,
		"-nt", // no timestamps
		"-np", // no progress prints
	}
	cmd := exec.CommandContext(ctx, w.binaryPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s", ErrTimeout, w.timeout)
	}
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnavailable, w.binaryPath)
		}
		return nil, fmt.Errorf("%w: %v: %s", ErrFailed, err, firstLine(stderr.String()))
	}

	text := strings.TrimSpace(stdout.String())
	slog.Debug("window transcribed",
		"bytes", len(pcm),
		"chars", len(text),
		"duration", time.Since(start),
	)

	res := &Result{Text: text}
	if text != "" {
		res.Confidence = nominalConfidence
	}
	return res, nil
}

// stageWAV writes the window to a temp file the engine can read. The cleanup
// func removes it.
func (w *Whisper) stageWAV(pcm []byte, format AudioFormat) (string, func(), error) {
	f, err := os.CreateTemp("", "openminutes-*.wav")
	if err != nil {
		return "", nil, fmt.Errorf("transcribe: create temp wav: %w", err)
	}
	cleanup := func() { os.Remove(f.Name()) }

	if err := writeWAV(f, pcm, format); err != nil {
		f.Close()
		cleanup()
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("transcribe: close temp wav: %w", err)
	}
	return f.Name(), cleanup, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
