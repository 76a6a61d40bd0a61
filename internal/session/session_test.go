package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/openminutes/openminutes/internal/ai"
	"github.com/openminutes/openminutes/internal/config"
	"github.com/openminutes/openminutes/internal/extract"
	"github.com/openminutes/openminutes/internal/observe"
	"github.com/openminutes/openminutes/internal/resilience"
	"github.com/openminutes/openminutes/internal/store"
	"github.com/openminutes/openminutes/internal/taskflow"
	"github.com/openminutes/openminutes/internal/transcribe"
	"github.com/openminutes/openminutes/pkg/provider/llm"
	"github.com/openminutes/openminutes/pkg/provider/llm/mock"
	"github.com/openminutes/openminutes/pkg/types"
)

// stubTranscriber returns fixed text after an optional delay.
type stubTranscriber struct {
	text  string
	delay time.Duration
}

func (s stubTranscriber) Transcribe(context.Context, []byte, transcribe.AudioFormat) (*transcribe.Result, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return &transcribe.Result{Text: s.text, Confidence: 0.9}, nil
}

func (s stubTranscriber) Available() bool { return true }

// eventRecorder captures Notify calls.
type eventRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *eventRecorder) notify(event string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

// testFormat keeps window sizes tiny: 100 bytes of audio per second.
var testFormat = transcribe.AudioFormat{SampleRate: 100, Channels: 1, SampleWidth: 1}

func newTestSession(t *testing.T, tr transcribe.Transcriber, llmContent string) (*Session, store.Store, *eventRecorder) {
	t.Helper()
	ctx := context.Background()

	st, err := store.OpenEmbedded(ctx, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}

	var provider llm.Provider
	if llmContent != "" {
		provider = &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: llmContent}}
	}
	client := ai.NewWithProvider(provider, ai.WithMetrics(m),
		ai.WithRetry(resilience.RetryConfig{MaxRetries: 1, InitialBackoff: time.Millisecond}))
	extractor := extract.New(client, config.Default().Pipeline, extract.WithMetrics(m))
	projector := taskflow.New(st, nil, 4, taskflow.WithMetrics(m))

	rec := &eventRecorder{}
	s, err := New(ctx, Deps{
		MeetingID:   "abc123def456",
		Title:       "Weekly sync",
		Platform:    types.PlatformGoogleMeet,
		Store:       st,
		Transcriber: tr,
		Extractor:   extractor,
		Projector:   projector,
		Metrics:     m,
		Pipeline:    config.PipelineConfig{AudioWindow: time.Second, MaxAudioWindow: 30 * time.Second},
		Format:      testFormat,
		Notify:      rec.notify,
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return s, st, rec
}

func TestFingerprint(t *testing.T) {
	ts := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	t.Run("normalisation folds cosmetic differences", func(t *testing.T) {
		a := Fingerprint("Hello,  World!", ts)
		b := Fingerprint("hello world", ts.Add(500*time.Millisecond))
		if a != b {
			t.Error("normalised replays should fingerprint equal")
		}
	})

	t.Run("different buckets differ", func(t *testing.T) {
		a := Fingerprint("yes", ts)
		b := Fingerprint("yes", ts.Add(4*time.Second))
		if a == b {
			t.Error("legitimate repeats in later buckets must not collide")
		}
	})

	t.Run("different text differs", func(t *testing.T) {
		if Fingerprint("ship it", ts) == Fingerprint("hold off", ts) {
			t.Error("distinct text collided")
		}
	})
}

func TestDeriveMeetingID(t *testing.T) {
	day := time.Date(2026, 8, 24, 15, 30, 0, 0, time.UTC)
	id := DeriveMeetingID(types.PlatformZoom, "https://zoom.us/j/123", day)

	if len(id) != meetingIDLen {
		t.Errorf("len = %d, want %d", len(id), meetingIDLen)
	}
	if id != DeriveMeetingID(types.PlatformZoom, "https://zoom.us/j/123", day.Add(3*time.Hour)) {
		t.Error("same call on the same day should derive the same id")
	}
	if id == DeriveMeetingID(types.PlatformZoom, "https://zoom.us/j/123", day.AddDate(0, 0, 1)) {
		t.Error("next day should derive a fresh id")
	}
	if id == DeriveMeetingID(types.PlatformTeams, "https://zoom.us/j/123", day) {
		t.Error("platform must participate in the derivation")
	}
}

func TestAppendAudio(t *testing.T) {
	s, st, rec := newTestSession(t, stubTranscriber{text: "hello from the meeting"}, "")

	t.Run("empty chunk rejected", func(t *testing.T) {
		if err := s.AppendAudio(nil, time.Time{}); !errors.Is(err, ErrEmptyAudio) {
			t.Errorf("err = %v, want ErrEmptyAudio", err)
		}
	})

	t.Run("below window buffers silently", func(t *testing.T) {
		if err := s.AppendAudio(make([]byte, 40), time.Time{}); err != nil {
			t.Fatalf("append: %v", err)
		}
		if got := s.Info().BufferedBytes; got != 40 {
			t.Errorf("buffered = %d, want 40", got)
		}
	})

	t.Run("reaching the window transcribes", func(t *testing.T) {
		if err := s.AppendAudio(make([]byte, 80), time.Time{}); err != nil {
			t.Fatalf("append: %v", err)
		}
		s.jobs.Wait()

		detail, err := st.GetMeeting(context.Background(), s.MeetingID())
		if err != nil {
			t.Fatalf("get meeting: %v", err)
		}
		if len(detail.Transcript) != 1 {
			t.Fatalf("chunks = %d, want 1", len(detail.Transcript))
		}
		if detail.Transcript[0].Text != "hello from the meeting" {
			t.Errorf("text = %q", detail.Transcript[0].Text)
		}
		if rec.count(EventTranscription) != 1 {
			t.Errorf("TRANSCRIPTION_RESULT events = %d, want 1", rec.count(EventTranscription))
		}
	})
}

func TestIngestTranscriptionDedup(t *testing.T) {
	s, _, rec := newTestSession(t, stubTranscriber{}, "")
	ctx := context.Background()
	ts := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	chunk, dup, err := s.IngestTranscription(ctx, "we agreed to ship", ts, "Alice", 0.9)
	if err != nil || dup {
		t.Fatalf("first ingest: chunk=%v dup=%v err=%v", chunk, dup, err)
	}
	if chunk.Sequence != 1 {
		t.Errorf("sequence = %d, want 1", chunk.Sequence)
	}

	_, dup, err = s.IngestTranscription(ctx, "We agreed to ship!", ts.Add(time.Second), "Alice", 0.9)
	if err != nil {
		t.Fatalf("replay ingest: %v", err)
	}
	if !dup {
		t.Error("replay within the fingerprint bucket not deduplicated")
	}
	if rec.count(EventTranscription) != 1 {
		t.Errorf("duplicate must not re-notify: events = %d", rec.count(EventTranscription))
	}

	t.Run("blank text dropped", func(t *testing.T) {
		chunk, dup, err := s.IngestTranscription(ctx, "   ", ts, "", 0)
		if chunk != nil || dup || err != nil {
			t.Errorf("blank ingest = (%v, %v, %v), want all zero", chunk, dup, err)
		}
	})
}

func TestUpdateParticipants(t *testing.T) {
	s, st, _ := newTestSession(t, stubTranscriber{}, "")
	ctx := context.Background()

	err := s.UpdateParticipants(ctx, []types.Participant{
		{ParticipantID: "p1", Name: "Alice", IsHost: true},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	detail, err := st.GetMeeting(ctx, s.MeetingID())
	if err != nil {
		t.Fatalf("get meeting: %v", err)
	}
	if len(detail.Participants) != 1 || detail.Participants[0].Name != "Alice" {
		t.Errorf("participants = %+v", detail.Participants)
	}
}

func TestFinalize(t *testing.T) {
	llmResponse := `{"overview": "Sync.", "key_outcomes": "", "decisions": [], "participants": [], "next_steps": [], "tasks": [{"title": "Ship the release", "priority": "high", "confidence": 0.9}], "speakers": [{"name": "Alice", "segments": ["ship it"], "confidence": 0.9}]}`
	s, st, rec := newTestSession(t, stubTranscriber{text: "Alice said ship it", delay: 20 * time.Millisecond}, llmResponse)
	ctx := context.Background()

	// Audio that fully fills one window plus a residual tail.
	if err := s.AppendAudio(make([]byte, 150), time.Time{}); err != nil {
		t.Fatalf("append: %v", err)
	}

	res, err := s.Finalize(ctx)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if s.State() != StateClosed {
		t.Errorf("state = %v, want closed", s.State())
	}
	if res.ChunkCount < 1 {
		t.Errorf("chunk count = %d, want residual audio flushed", res.ChunkCount)
	}
	if res.Summary == nil || res.Summary.Overview != "Sync." {
		t.Errorf("summary = %+v", res.Summary)
	}
	if len(res.Tasks) == 0 || res.Tasks[0].ID == 0 {
		t.Errorf("tasks = %+v, want persisted with row ids", res.Tasks)
	}
	if res.Speakers == nil || len(res.Speakers.Speakers) == 0 {
		t.Errorf("speakers = %+v", res.Speakers)
	}

	if rec.count(EventProcessingStatus) < 5 {
		t.Errorf("status events = %d, want the full stage ladder", rec.count(EventProcessingStatus))
	}

	stored, err := st.GetTasks(ctx, s.MeetingID())
	if err != nil {
		t.Fatalf("get tasks: %v", err)
	}
	if len(stored) != len(res.Tasks) {
		t.Errorf("stored tasks = %d, result tasks = %d", len(stored), len(res.Tasks))
	}

	t.Run("repeat finalize rejected", func(t *testing.T) {
		if _, err := s.Finalize(ctx); !errors.Is(err, ErrClosed) {
			t.Errorf("err = %v, want ErrClosed", err)
		}
	})

	t.Run("append after close rejected", func(t *testing.T) {
		if err := s.AppendAudio(make([]byte, 10), time.Time{}); !errors.Is(err, ErrClosed) {
			t.Errorf("err = %v, want ErrClosed", err)
		}
	})
}

func TestFinalizeEmptyMeeting(t *testing.T) {
	s, _, _ := newTestSession(t, stubTranscriber{}, "")

	res, err := s.Finalize(context.Background())
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if res.ChunkCount != 0 {
		t.Errorf("chunks = %d", res.ChunkCount)
	}
	if res.Summary == nil || res.Summary.Decisions == nil {
		t.Errorf("summary must be structurally valid: %+v", res.Summary)
	}
	if len(res.Tasks) != 0 {
		t.Errorf("tasks = %+v", res.Tasks)
	}
}

func TestFinalizeFailureClosesSession(t *testing.T) {
	s, st, _ := newTestSession(t, stubTranscriber{}, "")
	ctx := context.Background()

	// Losing the meeting row makes the transcript load fail mid-finalize.
	if err := st.DeleteMeeting(ctx, s.MeetingID()); err != nil {
		t.Fatalf("delete meeting: %v", err)
	}

	if _, err := s.Finalize(ctx); err == nil {
		t.Fatal("finalize should fail without a meeting row")
	}
	if s.State() != StateClosed {
		t.Errorf("state = %v, want closed so the registry can reclaim it", s.State())
	}

	t.Run("retry reports closed", func(t *testing.T) {
		if _, err := s.Finalize(ctx); !errors.Is(err, ErrClosed) {
			t.Errorf("err = %v, want ErrClosed", err)
		}
	})
}

func TestAppendAudioUsesClientTimestamp(t *testing.T) {
	s, st, _ := newTestSession(t, stubTranscriber{text: "same words"}, "")
	ctx := context.Background()
	ts := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	// The same audio replayed with the same client timestamp must land in the
	// same fingerprint bucket even when ingestion happens much later than ~2s
	// after capture.
	if err := s.AppendAudio(make([]byte, 100), ts); err != nil {
		t.Fatalf("append: %v", err)
	}
	s.jobs.Wait()
	if err := s.AppendAudio(make([]byte, 100), ts); err != nil {
		t.Fatalf("replay append: %v", err)
	}
	s.jobs.Wait()

	detail, err := st.GetMeeting(ctx, s.MeetingID())
	if err != nil {
		t.Fatalf("get meeting: %v", err)
	}
	if len(detail.Transcript) != 1 {
		t.Errorf("chunks = %d, want replayed window deduplicated", len(detail.Transcript))
	}
}

func TestAbort(t *testing.T) {
	s, st, _ := newTestSession(t, stubTranscriber{text: "tail audio"}, "")

	if err := s.AppendAudio(make([]byte, 50), time.Time{}); err != nil {
		t.Fatalf("append: %v", err)
	}
	s.Abort()

	if s.State() != StateClosed {
		t.Errorf("state = %v, want closed", s.State())
	}
	detail, err := st.GetMeeting(context.Background(), s.MeetingID())
	if err != nil {
		t.Fatalf("get meeting: %v", err)
	}
	if len(detail.Transcript) != 1 {
		t.Errorf("residual audio not flushed: chunks = %d", len(detail.Transcript))
	}

	t.Run("abort is idempotent", func(t *testing.T) {
		s.Abort()
	})
}
