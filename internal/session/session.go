// Package session owns the lifetime of one meeting: buffering inbound audio
// into transcription windows, deduplicating transcript chunks, tracking
// participants, and running the finalization pipeline when the meeting ends.
//
// A session moves through four states:
//
//	open ──▶ flushing ──▶ finalizing ──▶ closed
//
// Audio and events are only accepted while open. Finalize drains the residual
// audio buffer, waits for in-flight transcription jobs, then runs extraction
// and dispatch exactly once.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/openminutes/openminutes/internal/config"
	"github.com/openminutes/openminutes/internal/extract"
	"github.com/openminutes/openminutes/internal/observe"
	"github.com/openminutes/openminutes/internal/store"
	"github.com/openminutes/openminutes/internal/taskflow"
	"github.com/openminutes/openminutes/internal/transcribe"
	"github.com/openminutes/openminutes/pkg/types"
)

var (
	// ErrClosed is returned for any operation on a session that has begun
	// finalizing or is closed.
	ErrClosed = errors.New("session: closed")

	// ErrEmptyAudio is returned when an audio chunk carries no payload.
	ErrEmptyAudio = errors.New("session: empty audio chunk")
)

// State is the session lifecycle position.
type State int

const (
	StateOpen State = iota
	StateFlushing
	StateFinalizing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateFlushing:
		return "flushing"
	case StateFinalizing:
		return "finalizing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Event names pushed through Notify. The gateway forwards them verbatim as
// the outbound frame's type discriminator.
const (
	EventTranscription    = "TRANSCRIPTION_RESULT"
	EventProcessingStatus = "PROCESSING_STATUS"
)

// ingestTimeout bounds the store write behind each transcription result.
const ingestTimeout = 10 * time.Second

// Notify pushes an event toward the connected client. Implementations must
// tolerate being called from multiple goroutines; a nil Notify drops events.
type Notify func(event string, payload any)

// Deps wires a session to the rest of the pipeline.
type Deps struct {
	MeetingID string
	Title     string
	Platform  types.MeetingPlatform

	Store       store.Store
	Transcriber transcribe.Transcriber
	Extractor   *extract.Extractor
	Projector   *taskflow.Projector
	Metrics     *observe.Metrics

	Pipeline config.PipelineConfig
	Format   transcribe.AudioFormat
	Notify   Notify
}

// FinalizeResult is everything finalization produced for the client.
type FinalizeResult struct {
	MeetingID  string                 `json:"meeting_id"`
	Summary    *types.SummaryDocument `json:"summary"`
	Tasks      []types.Task           `json:"tasks"`
	Speakers   *extract.SpeakerResult `json:"speakers"`
	ChunkCount int                    `json:"chunk_count"`

	// FallbackUsed is true when any extraction stage degraded.
	FallbackUsed bool `json:"fallback_used"`
}

// Session is the per-meeting pipeline head. All exported methods are safe for
// concurrent use.
type Session struct {
	deps        Deps
	windowBytes int
	maxBytes    int

	mu    sync.Mutex
	state State
	buf   []byte

	// pendingTS is the client-declared timestamp of the oldest buffered
	// audio, used to bucket the resulting transcript fingerprint.
	pendingTS time.Time

	// jobs tracks in-flight transcription goroutines; Finalize waits on it
	// before reading the transcript.
	jobs sync.WaitGroup

	lastActivity time.Time
	createdAt    time.Time
}

// New creates a session and ensures its meeting row exists. The caller holds
// the only reference until it registers the session with the gateway.
func New(ctx context.Context, deps Deps) (*Session, error) {
	if deps.Format.BytesPerSecond() == 0 {
		deps.Format = transcribe.DefaultFormat
	}
	window := deps.Pipeline.AudioWindow
	if window <= 0 {
		window = time.Second
	}
	maxWindow := deps.Pipeline.MaxAudioWindow
	if maxWindow < window {
		maxWindow = 30 * time.Second
	}

	s := &Session{
		deps:         deps,
		windowBytes:  int(window.Seconds() * float64(deps.Format.BytesPerSecond())),
		maxBytes:     int(maxWindow.Seconds() * float64(deps.Format.BytesPerSecond())),
		state:        StateOpen,
		lastActivity: time.Now(),
		createdAt:    time.Now(),
	}
	if s.windowBytes <= 0 {
		s.windowBytes = deps.Format.BytesPerSecond()
	}

	err := deps.Store.UpsertMeeting(ctx, &types.Meeting{
		ID:       deps.MeetingID,
		Title:    deps.Title,
		Platform: deps.Platform,
	})
	if err != nil {
		return nil, fmt.Errorf("session: create meeting: %w", err)
	}

	deps.Metrics.ActiveSessions.Add(ctx, 1)
	slog.Info("session opened",
		"meeting_id", deps.MeetingID,
		"platform", deps.Platform,
	)
	return s, nil
}

// MeetingID returns the session's meeting identifier.
func (s *Session) MeetingID() string { return s.deps.MeetingID }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivity returns when the session last received audio or an event.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// CreatedAt returns when the session was opened.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Info is the session snapshot served to GET_SESSION_INFO requests.
type Info struct {
	MeetingID     string    `json:"meeting_id"`
	Platform      string    `json:"platform"`
	State         string    `json:"state"`
	BufferedBytes int       `json:"buffered_bytes"`
	CreatedAt     time.Time `json:"created_at"`
	LastActivity  time.Time `json:"last_activity"`
}

// Info returns a point-in-time snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		MeetingID:     s.deps.MeetingID,
		Platform:      string(s.deps.Platform),
		State:         s.state.String(),
		BufferedBytes: len(s.buf),
		CreatedAt:     s.createdAt,
		LastActivity:  s.lastActivity,
	}
}

// AppendAudio accepts one raw PCM chunk stamped with the client's capture
// time (zero when the client sent none). When the buffer reaches the
// configured window it detaches a window (capped at the max window size) and
// transcribes it asynchronously.
func (s *Session) AppendAudio(data []byte, ts time.Time) error {
	if len(data) == 0 {
		return ErrEmptyAudio
	}

	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return ErrClosed
	}
	s.lastActivity = time.Now()
	if s.pendingTS.IsZero() {
		s.pendingTS = ts
	}
	s.buf = append(s.buf, data...)

	var windows [][]byte
	windowTS := s.pendingTS
	for len(s.buf) >= s.windowBytes {
		n := len(s.buf)
		if n > s.maxBytes {
			n = s.maxBytes
		}
		window := make([]byte, n)
		copy(window, s.buf[:n])
		s.buf = s.buf[n:]
		windows = append(windows, window)
	}
	if len(windows) > 0 {
		// Residual bytes, if any, came from the chunk just appended.
		s.pendingTS = time.Time{}
		if len(s.buf) > 0 {
			s.pendingTS = ts
		}
	}
	s.mu.Unlock()

	for _, w := range windows {
		s.spawnTranscription(w, windowTS)
	}
	return nil
}

// UpdateParticipants upserts the participant roster.
func (s *Session) UpdateParticipants(ctx context.Context, ps []types.Participant) error {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return ErrClosed
	}
	s.lastActivity = time.Now()
	s.mu.Unlock()

	if err := s.deps.Store.SaveParticipants(ctx, s.deps.MeetingID, ps); err != nil {
		return fmt.Errorf("session: update participants: %w", err)
	}
	return nil
}

// IngestTranscription persists one transcribed utterance, deduplicating by
// fingerprint. Blank text is dropped silently. The persisted chunk (or nil
// for a drop) is returned along with whether it was a duplicate.
func (s *Session) IngestTranscription(ctx context.Context, text string, ts time.Time, speaker string, confidence float64) (*types.TranscriptChunk, bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false, nil
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	chunk := &types.TranscriptChunk{
		MeetingID:   s.deps.MeetingID,
		Text:        text,
		Timestamp:   ts,
		Speaker:     speaker,
		Confidence:  confidence,
		Fingerprint: Fingerprint(text, ts),
	}

	seq, dup, err := s.deps.Store.AppendTranscriptChunk(ctx, chunk)
	if err != nil {
		return nil, false, fmt.Errorf("session: append chunk: %w", err)
	}
	chunk.Sequence = seq

	platformAttr := metric.WithAttributes(attribute.String("platform", string(s.deps.Platform)))
	if dup {
		s.deps.Metrics.DuplicateChunks.Add(ctx, 1, platformAttr)
		return chunk, true, nil
	}
	s.deps.Metrics.TranscriptChunks.Add(ctx, 1, platformAttr)

	s.notify(EventTranscription, map[string]any{
		"meeting_id": s.deps.MeetingID,
		"sequence":   seq,
		"text":       text,
		"speaker":    speaker,
		"confidence": confidence,
		"timestamp":  ts.UTC(),
	})
	return chunk, false, nil
}

// spawnTranscription runs one window through the transcriber off the caller's
// goroutine and ingests the result. capturedAt stamps the transcript chunk;
// when the client supplied no timestamp the window's detach time is used.
func (s *Session) spawnTranscription(window []byte, capturedAt time.Time) {
	s.jobs.Add(1)
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}
	go func() {
		defer s.jobs.Done()

		start := time.Now()
		res, err := s.deps.Transcriber.Transcribe(context.Background(), window, s.deps.Format)
		s.deps.Metrics.TranscriptionDuration.Record(context.Background(), time.Since(start).Seconds())

		if err != nil {
			if !errors.Is(err, transcribe.ErrUnavailable) {
				slog.Error("transcription failed",
					"meeting_id", s.deps.MeetingID,
					"bytes", len(window),
					"error", err,
				)
			}
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
		defer cancel()
		if _, _, err := s.IngestTranscription(ctx, res.Text, capturedAt, "", res.Confidence); err != nil {
			slog.Error("transcription ingest failed", "meeting_id", s.deps.MeetingID, "error", err)
		}
	}()
}

// Finalize ends the meeting: drains buffered audio, waits for in-flight
// transcriptions, runs extraction, persists the results, and dispatches
// tasks. It can succeed at most once; concurrent and repeat calls get
// ErrClosed.
func (s *Session) Finalize(ctx context.Context) (*FinalizeResult, error) {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.state = StateFlushing
	residual := s.buf
	residualTS := s.pendingTS
	s.buf = nil
	s.mu.Unlock()

	defer s.deps.Metrics.ActiveSessions.Add(ctx, -1)

	s.notifyStatus("flushing_audio")
	if len(residual) > 0 {
		s.spawnTranscription(residual, residualTS)
	}
	s.jobs.Wait()
	s.notifyStatus("transcription_done")

	s.mu.Lock()
	s.state = StateFinalizing
	s.mu.Unlock()

	detail, err := s.deps.Store.GetMeeting(ctx, s.deps.MeetingID)
	if err != nil {
		return s.fail(fmt.Errorf("session: load transcript: %w", err))
	}
	transcript := extract.FlattenTranscript(detail.Transcript)

	s.notifyStatus("identifying_speakers")
	speakers, err := s.deps.Extractor.IdentifySpeakers(ctx, transcript)
	if err != nil {
		return s.fail(fmt.Errorf("session: finalize: %w", err))
	}

	s.notifyStatus("summarizing")
	summary, err := s.deps.Extractor.Summarize(ctx, transcript)
	if err != nil {
		return s.fail(fmt.Errorf("session: finalize: %w", err))
	}

	s.notifyStatus("extracting_tasks")
	tasks, err := s.deps.Extractor.ExtractTasks(ctx, transcript)
	if err != nil {
		return s.fail(fmt.Errorf("session: finalize: %w", err))
	}
	s.notifyStatus("extraction_done")

	s.notifyStatus("saving_results")
	saved, err := s.deps.Projector.MaterializeAndDispatch(ctx, s.deps.MeetingID, summary.Document, tasks.Tasks)
	if err != nil {
		return s.fail(fmt.Errorf("session: finalize: %w", err))
	}
	s.notifyStatus("integration_done")

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	s.notifyStatus("complete")

	slog.Info("session finalized",
		"meeting_id", s.deps.MeetingID,
		"chunks", len(detail.Transcript),
		"tasks", len(saved),
		"speaker_method", speakers.Method,
	)
	return &FinalizeResult{
		MeetingID:    s.deps.MeetingID,
		Summary:      summary.Document,
		Tasks:        saved,
		Speakers:     speakers,
		ChunkCount:   len(detail.Transcript),
		FallbackUsed: summary.FallbackUsed || tasks.FallbackUsed || speakers.Method == extract.MethodFallback,
	}, nil
}

// fail closes a session whose finalization broke partway, so the registry
// sweeper can reclaim it instead of retrying a meeting stuck mid-flush. The
// error itself still travels to the caller.
func (s *Session) fail(err error) (*FinalizeResult, error) {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	return nil, err
}

// Abort closes the session without running extraction. Buffered audio and
// in-flight jobs are still flushed into the transcript so a later manual
// process call has the full text.
func (s *Session) Abort() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	residual := s.buf
	residualTS := s.pendingTS
	s.buf = nil
	s.mu.Unlock()

	if len(residual) > 0 {
		s.spawnTranscription(residual, residualTS)
	}
	s.jobs.Wait()
	s.deps.Metrics.ActiveSessions.Add(context.Background(), -1)
	slog.Info("session aborted", "meeting_id", s.deps.MeetingID)
}

func (s *Session) notify(event string, payload any) {
	if s.deps.Notify != nil {
		s.deps.Notify(event, payload)
	}
}

func (s *Session) notifyStatus(stage string) {
	s.notify(EventProcessingStatus, map[string]any{
		"meeting_id": s.deps.MeetingID,
		"stage":      stage,
	})
}
