package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/openminutes/openminutes/internal/ai"
	"github.com/openminutes/openminutes/internal/config"
	"github.com/openminutes/openminutes/internal/extract"
	"github.com/openminutes/openminutes/internal/observe"
	"github.com/openminutes/openminutes/internal/resilience"
	"github.com/openminutes/openminutes/internal/session"
	"github.com/openminutes/openminutes/internal/store"
	"github.com/openminutes/openminutes/internal/taskflow"
	"github.com/openminutes/openminutes/internal/transcribe"
	"github.com/openminutes/openminutes/pkg/provider/llm"
	"github.com/openminutes/openminutes/pkg/provider/llm/mock"
)

// stubTranscriber returns fixed text for every window.
type stubTranscriber struct {
	text string
}

func (s stubTranscriber) Transcribe(context.Context, []byte, transcribe.AudioFormat) (*transcribe.Result, error) {
	return &transcribe.Result{Text: s.text, Confidence: 0.9}, nil
}

func (s stubTranscriber) Available() bool { return true }

// fullResponse answers every extraction prompt with one combined document.
const fullResponse = `{"overview": "Weekly sync.", "key_outcomes": "", "decisions": [], "participants": [], "next_steps": [], "tasks": [{"title": "Update the docs", "description": "Refresh the onboarding docs", "assignee": "John", "due_date": "Friday", "priority": "medium", "confidence": 0.9}], "speakers": [{"name": "Sarah", "segments": ["please update the docs"], "confidence": 0.9}]}`

func newTestGateway(t *testing.T, tr transcribe.Transcriber, llmContent string) (*httptest.Server, *Registry, store.Store) {
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

	pipeline := config.PipelineConfig{AudioWindow: time.Second, MaxAudioWindow: 30 * time.Second}
	extractor := extract.New(client, config.Default().Pipeline, extract.WithMetrics(m))
	projector := taskflow.New(st, nil, 4, taskflow.WithMetrics(m))

	factory := func(ctx context.Context, p SessionParams) (*session.Session, error) {
		return session.New(ctx, session.Deps{
			MeetingID:   p.MeetingID,
			Title:       p.Title,
			Platform:    p.Platform,
			Store:       st,
			Transcriber: tr,
			Extractor:   extractor,
			Projector:   projector,
			Metrics:     m,
			Pipeline:    pipeline,
			Format:      p.Format,
			Notify:      p.Notify,
		})
	}

	reg := NewRegistry(factory, time.Hour)
	srv := httptest.NewServer(New(reg, st, pipeline, "test", WithMetrics(m)))
	t.Cleanup(srv.Close)
	return srv, reg, st
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close(websocket.StatusNormalClosure, "") })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, msg map[string]any) {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func recv(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, data, err := ws.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return msg
}

// recvType reads frames until one with the wanted type arrives.
func recvType(t *testing.T, ws *websocket.Conn, want string) map[string]any {
	t.Helper()
	for i := 0; i < 50; i++ {
		msg := recv(t, ws)
		if msg["type"] == want {
			return msg
		}
	}
	t.Fatalf("no %s message received", want)
	return nil
}

func handshake(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	send(t, ws, map[string]any{
		"type":       typeHandshake,
		"clientType": "extension",
		"version":    "1.0.0",
	})
	ack := recvType(t, ws, typeHandshakeAck)
	if ack["status"] != "ready" {
		t.Fatalf("handshake ack = %+v", ack)
	}
}

// audioChunk builds an AUDIO_CHUNK frame. The tiny declared format (100
// bytes of audio per second) keeps the transcription window small.
func audioChunk(typ string, pcm []byte, extra map[string]any) map[string]any {
	msg := map[string]any{
		"type":      typ,
		"data":      base64.StdEncoding.EncodeToString(pcm),
		"timestamp": time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC).Format(time.RFC3339Nano),
		"metadata": map[string]any{
			"platform":    "google-meet",
			"meetingUrl":  "https://meet.google.com/abc-defg-hij",
			"sampleRate":  100,
			"channels":    1,
			"sampleWidth": 1,
			"chunkSize":   len(pcm),
		},
	}
	for k, v := range extra {
		msg[k] = v
	}
	return msg
}

func TestHandshake(t *testing.T) {
	srv, _, _ := newTestGateway(t, stubTranscriber{}, "")

	t.Run("ack lists features", func(t *testing.T) {
		ws := dial(t, srv)
		send(t, ws, map[string]any{"type": typeHandshake, "clientType": "extension"})
		ack := recvType(t, ws, typeHandshakeAck)
		if ack["status"] != "ready" || ack["serverVersion"] != "test" {
			t.Errorf("ack = %+v", ack)
		}
		if feats, ok := ack["supportedFeatures"].([]any); !ok || len(feats) == 0 {
			t.Errorf("supportedFeatures = %v", ack["supportedFeatures"])
		}
	})

	t.Run("messages before handshake get ERROR but connection survives", func(t *testing.T) {
		ws := dial(t, srv)
		send(t, ws, map[string]any{"type": typeGetSessionInfo})
		if msg := recvType(t, ws, typeError); msg["error"] == "" {
			t.Errorf("error payload = %+v", msg)
		}
		handshake(t, ws)
	})
}

func TestAudioToProcessingComplete(t *testing.T) {
	srv, _, st := newTestGateway(t,
		stubTranscriber{text: "Sarah: John, please update the docs by Friday."}, fullResponse)
	ws := dial(t, srv)
	handshake(t, ws)

	// 120 bytes fills one 1s window (100 bytes) plus a residual tail.
	send(t, ws, audioChunk(typeAudioChunk, make([]byte, 120), nil))

	result := recvType(t, ws, typeTranscription)
	meetingID, _ := result["meeting_id"].(string)
	if meetingID == "" {
		t.Fatalf("transcription result = %+v", result)
	}
	if !strings.Contains(result["text"].(string), "update the docs") {
		t.Errorf("text = %v", result["text"])
	}

	send(t, ws, map[string]any{
		"type":      typeMeetingEvent,
		"eventType": eventMeetingEnded,
		"data":      map[string]any{"bufferFlushComplete": true},
	})

	done := recvType(t, ws, typeProcessingComplete)
	if done["status"] != "success" {
		t.Fatalf("processing complete = %+v", done)
	}
	if tasks, ok := done["tasks"].([]any); !ok || len(tasks) == 0 {
		t.Errorf("tasks = %v", done["tasks"])
	}

	stored, err := st.GetTasks(context.Background(), meetingID)
	if err != nil {
		t.Fatalf("get tasks: %v", err)
	}
	if len(stored) == 0 {
		t.Fatal("no persisted tasks")
	}
	task := stored[0]
	if task.Title != "Update the docs" || task.Assignee != "John" || task.DueDate != "Friday" {
		t.Errorf("task = %+v", task)
	}
	if task.AIConfidenceScore < 0.8 {
		t.Errorf("confidence = %v", task.AIConfidenceScore)
	}
}

func TestDuplicateAudioSuppressed(t *testing.T) {
	srv, _, _ := newTestGateway(t, stubTranscriber{text: "we agreed to ship on Monday"}, "")
	ws := dial(t, srv)
	handshake(t, ws)

	chunk := audioChunk(typeAudioChunk, make([]byte, 100), nil)
	send(t, ws, chunk)
	recvType(t, ws, typeTranscription)
	send(t, ws, chunk)

	send(t, ws, map[string]any{"type": typeGetSessionInfo})
	info := recvType(t, ws, typeSessionInfo)
	if got := info["chunk_count"].(float64); got != 1 {
		t.Errorf("chunk_count = %v, want 1", got)
	}
}

func TestEndFlagSpellings(t *testing.T) {
	for _, flag := range []string{"bufferFlushComplete", "buffer_flush_complete"} {
		t.Run(flag, func(t *testing.T) {
			srv, _, _ := newTestGateway(t, stubTranscriber{text: "short meeting"}, "")
			ws := dial(t, srv)
			handshake(t, ws)

			send(t, ws, audioChunk(typeAudioChunk, make([]byte, 100), nil))
			send(t, ws, map[string]any{
				"type":      typeMeetingEvent,
				"eventType": eventMeetingEnded,
				"data":      map[string]any{flag: true},
			})
			done := recvType(t, ws, typeProcessingComplete)
			if done["status"] != "success" {
				t.Errorf("processing complete = %+v", done)
			}
		})
	}
}

func TestFallbackModeProducesNoTasks(t *testing.T) {
	srv, _, st := newTestGateway(t,
		stubTranscriber{text: "Sarah: John, please update the docs by Friday."}, "")
	ws := dial(t, srv)
	handshake(t, ws)

	send(t, ws, audioChunk(typeAudioChunk, make([]byte, 100), nil))
	result := recvType(t, ws, typeTranscription)
	meetingID := result["meeting_id"].(string)

	send(t, ws, map[string]any{
		"type":      typeMeetingEvent,
		"eventType": eventMeetingEnded,
		"data":      map[string]any{"buffer_flush_complete": true},
	})

	done := recvType(t, ws, typeProcessingComplete)
	if done["status"] != "success" {
		t.Fatalf("processing complete = %+v", done)
	}
	if done["fallback_used"] != true {
		t.Error("fallback_used not reported")
	}
	tasks, err := st.GetTasks(context.Background(), meetingID)
	if err != nil {
		t.Fatalf("get tasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("fallback mode invented tasks: %+v", tasks)
	}
}

func TestProtocolErrorsKeepConnectionOpen(t *testing.T) {
	srv, _, _ := newTestGateway(t, stubTranscriber{}, "")
	ws := dial(t, srv)
	handshake(t, ws)

	cases := []struct {
		name string
		msg  map[string]any
	}{
		{"unknown type", map[string]any{"type": "SELF_DESTRUCT"}},
		{"invalid base64", audioChunk(typeAudioChunk, nil, map[string]any{"data": "not base64!!"})},
		{"empty audio", audioChunk(typeAudioChunk, nil, nil)},
		{"oversized audio", audioChunk(typeAudioChunk, make([]byte, 5000), nil)},
		{"session info without session", map[string]any{"type": typeGetSessionInfo}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			send(t, ws, tc.msg)
			if msg := recvType(t, ws, typeError); msg["error"] == "" {
				t.Errorf("error payload = %+v", msg)
			}
		})
	}

	// The transport survived all of the above.
	handshake(t, ws)
}

func TestSharedSessionAcrossConnections(t *testing.T) {
	srv, _, _ := newTestGateway(t, stubTranscriber{text: "joint planning session"}, "")

	a := dial(t, srv)
	handshake(t, a)
	b := dial(t, srv)
	handshake(t, b)

	// Both clients stream the same meeting; transcription fans out to both.
	send(t, a, audioChunk(typeAudioChunk, make([]byte, 100), nil))
	resA := recvType(t, a, typeTranscription)
	send(t, b, audioChunk(typeAudioChunk, make([]byte, 10), nil))

	// Client B ends the meeting; client A still sees the completion.
	send(t, b, map[string]any{
		"type":      typeMeetingEvent,
		"eventType": eventMeetingEnded,
		"data":      map[string]any{"bufferFlushComplete": true},
	})
	done := recvType(t, a, typeProcessingComplete)
	if done["meeting_id"] != resA["meeting_id"] {
		t.Errorf("meeting ids diverged: %v vs %v", done["meeting_id"], resA["meeting_id"])
	}
}

func TestParticipantEvents(t *testing.T) {
	srv, _, st := newTestGateway(t, stubTranscriber{text: "hello"}, "")
	ws := dial(t, srv)
	handshake(t, ws)

	send(t, ws, audioChunk(typeAudioChunkEnhanced, make([]byte, 100), map[string]any{
		"participants": []map[string]any{
			{"id": "p1", "name": "Sarah", "is_host": true},
			{"id": "p2", "name": "John"},
		},
		"participant_count": 2,
	}))
	result := recvType(t, ws, typeTranscription)
	meetingID := result["meeting_id"].(string)

	send(t, ws, map[string]any{
		"type":      typeMeetingEvent,
		"eventType": eventParticipantLeft,
		"data": map[string]any{
			"participant": map[string]any{"id": "p2", "name": "John"},
		},
	})
	recvType(t, ws, typeMeetingUpdate)

	detail, err := st.GetMeeting(context.Background(), meetingID)
	if err != nil {
		t.Fatalf("get meeting: %v", err)
	}
	if len(detail.Participants) != 2 {
		t.Fatalf("participants = %+v", detail.Participants)
	}
	for _, p := range detail.Participants {
		if p.ParticipantID == "p2" && p.Status != "left" {
			t.Errorf("p2 status = %s, want left", p.Status)
		}
	}
}

func TestRegistrySweep(t *testing.T) {
	srv, reg, _ := newTestGateway(t, stubTranscriber{text: "idle meeting"}, "")
	ws := dial(t, srv)
	handshake(t, ws)

	send(t, ws, audioChunk(typeAudioChunk, make([]byte, 100), nil))
	result := recvType(t, ws, typeTranscription)
	meetingID := result["meeting_id"].(string)

	// Shrink the idle limit so the sweep treats the session as abandoned.
	reg.idle = time.Nanosecond
	reg.Sweep(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for {
		s, ok := reg.Get(meetingID)
		if ok && s.State() == session.StateClosed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("idle session never finalized")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// A later sweep prunes the closed session.
	reg.Sweep(context.Background())
	if _, ok := reg.Get(meetingID); ok {
		t.Error("closed session not pruned")
	}
}

func TestEncodeEvent(t *testing.T) {
	data, err := encodeEvent("SESSION_INFO", map[string]any{"meeting_id": "m1"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["type"] != "SESSION_INFO" || out["meeting_id"] != "m1" {
		t.Errorf("encoded = %+v", out)
	}

	t.Run("nil payload", func(t *testing.T) {
		data, err := encodeEvent("ERROR", nil)
		if err != nil || !strings.Contains(string(data), `"type":"ERROR"`) {
			t.Errorf("data = %s, err = %v", data, err)
		}
	})
}
