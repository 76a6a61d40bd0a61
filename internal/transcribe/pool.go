package transcribe

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent engine invocations across all sessions. Each
// whisper.cpp run is CPU-heavy, so the limit is tied to core count rather
// than connection count.
type Pool struct {
	inner Transcriber
	sem   *semaphore.Weighted
}

// NewPool wraps inner with a concurrency limit. maxConcurrent values below 1
// are clamped to 1.
func NewPool(inner Transcriber, maxConcurrent int) *Pool {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Pool{
		inner: inner,
		sem:   semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Transcribe waits for a slot, then delegates to the wrapped engine.
func (p *Pool) Transcribe(ctx context.Context, pcm []byte, format AudioFormat) (*Result, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("transcribe: acquire slot: %w", err)
	}
	defer p.sem.Release(1)
	return p.inner.Transcribe(ctx, pcm, format)
}

// Available delegates to the wrapped engine.
func (p *Pool) Available() bool { return p.inner.Available() }
