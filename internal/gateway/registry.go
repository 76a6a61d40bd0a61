package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openminutes/openminutes/internal/session"
	"github.com/openminutes/openminutes/internal/transcribe"
	"github.com/openminutes/openminutes/pkg/types"
)

// finalizeTimeout bounds a whole finalization run kicked off by the gateway
// (residual transcription, extraction, persistence, and dispatch).
const finalizeTimeout = 10 * time.Minute

// SessionParams carries everything the factory needs to open a session.
type SessionParams struct {
	MeetingID string
	Title     string
	Platform  types.MeetingPlatform
	Format    transcribe.AudioFormat
	Notify    session.Notify
}

// Factory opens a new session for a meeting. The app layer supplies one that
// wires the session to the store, transcriber, extractor, and projector.
type Factory func(ctx context.Context, p SessionParams) (*session.Session, error)

// subscriber receives outbound events for a meeting. Implemented by the
// gateway's connection type.
type subscriber interface {
	deliver(event string, payload any)
}

// Registry owns the live sessions, keyed by meeting id. Multiple connections
// carrying the same meeting id attach to the same session; every event a
// session emits is fanned out to all of them.
type Registry struct {
	factory Factory
	idle    time.Duration

	mu       sync.Mutex
	sessions map[string]*session.Session
	subs     map[string]map[subscriber]struct{}
}

// NewRegistry builds a registry. idleTimeout is how long a session may sit
// without audio or events before the sweeper finalizes it.
func NewRegistry(factory Factory, idleTimeout time.Duration) *Registry {
	if idleTimeout <= 0 {
		idleTimeout = 2 * time.Hour
	}
	return &Registry{
		factory:  factory,
		idle:     idleTimeout,
		sessions: make(map[string]*session.Session),
		subs:     make(map[string]map[subscriber]struct{}),
	}
}

// Get returns the live session for a meeting, if any.
func (r *Registry) Get(meetingID string) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[meetingID]
	return s, ok
}

// GetOrCreate returns the session for a meeting, opening one through the
// factory if none exists. A closed session left behind by an earlier
// finalization is replaced so a reconnecting client can keep recording into
// the same meeting.
func (r *Registry) GetOrCreate(ctx context.Context, p SessionParams) (*session.Session, error) {
	r.mu.Lock()
	if s, ok := r.sessions[p.MeetingID]; ok && s.State() != session.StateClosed {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	p.Notify = func(event string, payload any) { r.broadcast(p.MeetingID, event, payload) }
	s, err := r.factory(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("gateway: open session: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Lost the race: another connection opened the session first.
	if existing, ok := r.sessions[p.MeetingID]; ok && existing.State() != session.StateClosed {
		s.Abort()
		return existing, nil
	}
	r.sessions[p.MeetingID] = s
	return s, nil
}

// Subscribe registers a subscriber for a meeting's outbound events.
func (r *Registry) Subscribe(meetingID string, sub subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.subs[meetingID]
	if !ok {
		set = make(map[subscriber]struct{})
		r.subs[meetingID] = set
	}
	set[sub] = struct{}{}
}

// Unsubscribe removes a subscriber. Safe to call for unknown pairs.
func (r *Registry) Unsubscribe(meetingID string, sub subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.subs[meetingID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(r.subs, meetingID)
		}
	}
}

func (r *Registry) broadcast(meetingID, event string, payload any) {
	r.mu.Lock()
	targets := make([]subscriber, 0, len(r.subs[meetingID]))
	for sub := range r.subs[meetingID] {
		targets = append(targets, sub)
	}
	r.mu.Unlock()

	for _, sub := range targets {
		sub.deliver(event, payload)
	}
}

// Finalize runs the session's finalization pipeline and broadcasts the
// outcome as PROCESSING_COMPLETE. Repeat calls and races with another
// finalizer are silently ignored; the first caller reports the result.
func (r *Registry) Finalize(ctx context.Context, meetingID string) {
	s, ok := r.Get(meetingID)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, finalizeTimeout)
	defer cancel()

	res, err := s.Finalize(ctx)
	if errors.Is(err, session.ErrClosed) {
		return
	}
	if err != nil {
		slog.Error("finalization failed", "meeting_id", meetingID, "error", err)
		r.broadcast(meetingID, typeProcessingComplete, map[string]any{
			"meeting_id": meetingID,
			"status":     "error",
			"error":      err.Error(),
		})
		return
	}

	r.broadcast(meetingID, typeProcessingComplete, map[string]any{
		"meeting_id":    res.MeetingID,
		"status":        "success",
		"summary":       res.Summary,
		"tasks":         res.Tasks,
		"speakers":      res.Speakers,
		"chunk_count":   res.ChunkCount,
		"fallback_used": res.FallbackUsed,
	})
}

// Run drives the idle sweeper until ctx is cancelled. Open sessions idle past
// the limit are finalized; closed ones are pruned once quiet.
func (r *Registry) Run(ctx context.Context) {
	interval := r.idle / 4
	if interval < time.Second {
		interval = time.Second
	}
	if interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep makes one pass over the sessions, finalizing those idle past the
// limit and dropping closed ones.
func (r *Registry) Sweep(ctx context.Context) {
	r.mu.Lock()
	type entry struct {
		id string
		s  *session.Session
	}
	snapshot := make([]entry, 0, len(r.sessions))
	for id, s := range r.sessions {
		snapshot = append(snapshot, entry{id, s})
	}
	r.mu.Unlock()

	now := time.Now()
	for _, e := range snapshot {
		idleFor := now.Sub(e.s.LastActivity())
		if e.s.State() == session.StateClosed {
			r.mu.Lock()
			if r.sessions[e.id] == e.s {
				delete(r.sessions, e.id)
			}
			r.mu.Unlock()
			continue
		}
		if idleFor > r.idle {
			slog.Info("finalizing idle session", "meeting_id", e.id, "idle", idleFor)
			go r.Finalize(context.WithoutCancel(ctx), e.id)
		}
	}
}

// Shutdown aborts every live session, flushing buffered audio into the
// transcript without running extraction.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	sessions := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*session.Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Abort()
	}
}
