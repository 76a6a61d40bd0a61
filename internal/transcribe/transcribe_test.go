package transcribe

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// writeStub installs an executable shell script standing in for the STT
// binary, plus a dummy model file, and returns both paths.
func writeStub(t *testing.T, script string) (binPath, modelPath string) {
	t.Helper()
	dir := t.TempDir()
	binPath = filepath.Join(dir, "whisper-cli")
	if err := os.WriteFile(binPath, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("write stub binary: %v", err)
	}
	modelPath = filepath.Join(dir, "model.bin")
	if err := os.WriteFile(modelPath, []byte("model"), 0o644); err != nil {
		t.Fatalf("write stub model: %v", err)
	}
	return binPath, modelPath
}

func TestWriteWAV(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	var buf bytes.Buffer
	if err := writeWAV(&buf, pcm, DefaultFormat); err != nil {
		t.Fatalf("write wav: %v", err)
	}

	out := buf.Bytes()
	if len(out) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(out), 44+len(pcm))
	}
	if string(out[0:4]) != "RIFF" || string(out[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE magic")
	}
	if got := binary.LittleEndian.Uint32(out[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint16(out[22:24]); got != 1 {
		t.Errorf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(out[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data length = %d, want %d", got, len(pcm))
	}
	if !bytes.Equal(out[44:], pcm) {
		t.Error("payload mismatch")
	}

	t.Run("rejects invalid format", func(t *testing.T) {
		if err := writeWAV(&buf, pcm, AudioFormat{}); err == nil {
			t.Error("expected error for zero format")
		}
	})
}

func TestWhisperTranscribe(t *testing.T) {
	bin, model := writeStub(t, `echo " hello from the meeting "`)
	w := NewWhisper(bin, model)
	if !w.Available() {
		t.Fatal("probe failed for valid stub")
	}

	res, err := w.Transcribe(context.Background(), make([]byte, 3200), DefaultFormat)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "hello from the meeting" {
		t.Errorf("text = %q", res.Text)
	}
	if res.Confidence == 0 {
		t.Error("confidence not set for non-empty text")
	}
}

func TestWhisperEmptyAudio(t *testing.T) {
	bin, model := writeStub(t, `echo should-not-run; exit 1`)
	w := NewWhisper(bin, model)

	res, err := w.Transcribe(context.Background(), nil, DefaultFormat)
	if err != nil {
		t.Fatalf("transcribe empty: %v", err)
	}
	if res.Text != "" || res.Confidence != 0 {
		t.Errorf("result = %+v, want empty", res)
	}
}

func TestWhisperTimeout(t *testing.T) {
	bin, model := writeStub(t, `sleep 5`)
	w := NewWhisper(bin, model, WithTimeout(50*time.Millisecond))

	_, err := w.Transcribe(context.Background(), make([]byte, 320), DefaultFormat)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestWhisperFailure(t *testing.T) {
	bin, model := writeStub(t, `echo "model load failed" >&2; exit 3`)
	w := NewWhisper(bin, model)

	_, err := w.Transcribe(context.Background(), make([]byte, 320), DefaultFormat)
	if !errors.Is(err, ErrFailed) {
		t.Errorf("err = %v, want ErrFailed", err)
	}
}

func TestWhisperProbe(t *testing.T) {
	t.Run("missing binary", func(t *testing.T) {
		_, model := writeStub(t, `true`)
		w := NewWhisper(filepath.Join(t.TempDir(), "absent"), model)
		if w.Available() {
			t.Error("probe passed for missing binary")
		}
		if _, err := w.Transcribe(context.Background(), make([]byte, 320), DefaultFormat); !errors.Is(err, ErrUnavailable) {
			t.Errorf("err = %v, want ErrUnavailable", err)
		}
	})

	t.Run("empty paths", func(t *testing.T) {
		if NewWhisper("", "").Available() {
			t.Error("probe passed for empty paths")
		}
	})
}

func TestDisabled(t *testing.T) {
	var d Disabled
	if d.Available() {
		t.Error("Disabled reports available")
	}
	if _, err := d.Transcribe(context.Background(), nil, DefaultFormat); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

// countingTranscriber records the peak number of simultaneous calls.
type countingTranscriber struct {
	current atomic.Int32
	peak    atomic.Int32
}

func (c *countingTranscriber) Transcribe(ctx context.Context, pcm []byte, f AudioFormat) (*Result, error) {
	n := c.current.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	c.current.Add(-1)
	return &Result{Text: "ok"}, nil
}

func (c *countingTranscriber) Available() bool { return true }

func TestPoolBoundsConcurrency(t *testing.T) {
	inner := &countingTranscriber{}
	pool := NewPool(inner, 2)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := pool.Transcribe(context.Background(), make([]byte, 32), DefaultFormat); err != nil {
				t.Errorf("transcribe: %v", err)
			}
		}()
	}
	wg.Wait()

	if peak := inner.peak.Load(); peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestPoolCancelledContext(t *testing.T) {
	pool := NewPool(&countingTranscriber{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := pool.Transcribe(ctx, nil, DefaultFormat); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
