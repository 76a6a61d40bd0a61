// Package gateway terminates WebSocket connections from capture clients and
// routes their messages to meeting sessions. One connection serves one
// client; one meeting may be fed by several connections at once.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/openminutes/openminutes/internal/config"
	"github.com/openminutes/openminutes/internal/extract"
	"github.com/openminutes/openminutes/internal/observe"
	"github.com/openminutes/openminutes/internal/session"
	"github.com/openminutes/openminutes/internal/store"
	"github.com/openminutes/openminutes/internal/transcribe"
	"github.com/openminutes/openminutes/pkg/types"
)

const (
	// readLimit caps one inbound frame: 30s of base64 PCM at the default
	// format is well under this.
	readLimit = 8 << 20

	writeTimeout = 10 * time.Second
	storeTimeout = 10 * time.Second
)

// supportedFeatures is advertised in HANDSHAKE_ACK.
var supportedFeatures = []string{
	"transcription",
	"speaker_identification",
	"summarization",
	"task_extraction",
	"task_integrations",
}

// Gateway accepts WebSocket connections and drives the message protocol.
type Gateway struct {
	reg      *Registry
	st       store.Store
	pipeline config.PipelineConfig
	metrics  *observe.Metrics
	version  string
}

// Option configures a [Gateway].
type Option func(*Gateway)

// WithMetrics overrides the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// New builds a gateway over the given session registry and store.
func New(reg *Registry, st store.Store, pipeline config.PipelineConfig, version string, opts ...Option) *Gateway {
	g := &Gateway{
		reg:      reg,
		st:       st,
		pipeline: pipeline,
		metrics:  observe.DefaultMetrics(),
		version:  version,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// conn is one connected client. Writes are serialized; the read loop owns all
// other state.
type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	handshaked bool
	meetingID  string
}

// deliver implements subscriber. Write failures are logged and otherwise
// ignored; the read loop notices the broken transport on its own.
func (c *conn) deliver(event string, payload any) {
	data, err := encodeEvent(event, payload)
	if err != nil {
		slog.Error("encode outbound message failed", "event", event, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("websocket write failed", "event", event, "error", err)
	}
}

func (c *conn) sendError(message string) {
	c.deliver(typeError, map[string]any{
		"error":     message,
		"timestamp": time.Now().UTC(),
	})
}

// ServeHTTP upgrades the request and runs the read loop until the client
// disconnects. Protocol errors are answered with ERROR messages; only a
// transport failure ends the connection.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Capture clients connect from extension and desktop origins.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	ctx := r.Context()
	g.metrics.ActiveConnections.Add(ctx, 1)
	defer g.metrics.ActiveConnections.Add(context.WithoutCancel(ctx), -1)

	c := &conn{ws: ws}
	defer func() {
		if c.meetingID != "" {
			g.reg.Unsubscribe(c.meetingID, c)
		}
		ws.Close(websocket.StatusNormalClosure, "")
	}()

	ws.SetReadLimit(readLimit)
	slog.Debug("websocket connected", "remote", r.RemoteAddr)

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			// Disconnect without meeting_ended: the idle sweeper finalizes
			// the session after the grace period.
			slog.Debug("websocket closed", "remote", r.RemoteAddr, "meeting_id", c.meetingID)
			return
		}
		g.handleMessage(ctx, c, data)
	}
}

func (g *Gateway) handleMessage(ctx context.Context, c *conn, data []byte) {
	var h head
	if err := json.Unmarshal(data, &h); err != nil {
		c.sendError("invalid message: not a JSON object")
		return
	}
	if h.Type == "" {
		c.sendError("invalid message: missing type")
		return
	}

	if !c.handshaked && h.Type != typeHandshake {
		c.sendError("handshake required before " + h.Type)
		return
	}

	switch h.Type {
	case typeHandshake:
		g.handleHandshake(c, data)
	case typeAudioChunk:
		g.handleAudio(ctx, c, data, false)
	case typeAudioChunkEnhanced:
		g.handleAudio(ctx, c, data, true)
	case typeMeetingEvent:
		g.handleMeetingEvent(ctx, c, data)
	case typeGetSessionInfo:
		g.handleSessionInfo(ctx, c)
	default:
		c.sendError("unknown message type: " + h.Type)
	}
}

func (g *Gateway) handleHandshake(c *conn, data []byte) {
	var msg handshakeMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("invalid HANDSHAKE: " + err.Error())
		return
	}
	c.handshaked = true
	slog.Info("client handshake",
		"client_type", msg.ClientType,
		"client_version", msg.Version,
	)
	c.deliver(typeHandshakeAck, map[string]any{
		"serverVersion":     g.version,
		"status":            "ready",
		"supportedFeatures": supportedFeatures,
		"timestamp":         time.Now().UTC(),
	})
}

// format maps chunk metadata onto an audio format, defaulting absent fields.
func (m audioMetadata) format() transcribe.AudioFormat {
	f := transcribe.DefaultFormat
	if m.SampleRate > 0 {
		f.SampleRate = m.SampleRate
	}
	if m.Channels > 0 {
		f.Channels = m.Channels
	}
	if m.SampleWidth > 0 {
		f.SampleWidth = m.SampleWidth
	}
	return f
}

func (g *Gateway) handleAudio(ctx context.Context, c *conn, data []byte, enhanced bool) {
	var msg audioChunkMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("invalid audio chunk: " + err.Error())
		return
	}

	pcm, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		c.sendError("invalid base64 audio payload")
		return
	}
	if len(pcm) == 0 {
		c.sendError("empty audio chunk")
		return
	}

	format := msg.Metadata.format()
	if limit := g.maxChunkBytes(format); len(pcm) > limit {
		c.sendError("audio chunk exceeds maximum size")
		return
	}

	sess, err := g.attachSession(ctx, c, SessionParams{
		MeetingID: c.meetingID,
		Title:     msg.Metadata.MeetingTitle,
		Platform:  types.MeetingPlatform(msg.Metadata.Platform).Normalize(),
		Format:    format,
	}, msg.Metadata.MeetingURL)
	if err != nil {
		c.sendError("session unavailable: " + err.Error())
		return
	}

	if enhanced && len(msg.Participants) > 0 {
		ps := make([]types.Participant, 0, len(msg.Participants))
		for _, wp := range msg.Participants {
			if wp.id() == "" {
				continue
			}
			ps = append(ps, wp.toParticipant(sess.MeetingID(), types.ParticipantActive))
		}
		storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
		err := sess.UpdateParticipants(storeCtx, ps)
		cancel()
		if err != nil && !errors.Is(err, session.ErrClosed) {
			slog.Warn("participant update failed", "meeting_id", sess.MeetingID(), "error", err)
		}
	}

	if err := sess.AppendAudio(pcm, msg.Timestamp.Time); err != nil {
		switch {
		case errors.Is(err, session.ErrClosed):
			c.sendError("meeting already finalized")
		case errors.Is(err, session.ErrEmptyAudio):
			c.sendError("empty audio chunk")
		default:
			c.sendError("audio processing failed: " + err.Error())
		}
	}
}

// maxChunkBytes is the largest accepted decoded payload for one chunk: the
// maximum transcription window's worth of audio at the declared format.
func (g *Gateway) maxChunkBytes(format transcribe.AudioFormat) int {
	window := g.pipeline.MaxAudioWindow
	if window <= 0 {
		window = 30 * time.Second
	}
	return int(window.Seconds() * float64(format.BytesPerSecond()))
}

// attachSession resolves the connection's session, deriving the meeting id
// from platform, URL, and day on first contact.
func (g *Gateway) attachSession(ctx context.Context, c *conn, p SessionParams, meetingURL string) (*session.Session, error) {
	if p.MeetingID == "" {
		p.MeetingID = session.DeriveMeetingID(p.Platform, meetingURL, time.Now())
	}
	sess, err := g.reg.GetOrCreate(ctx, p)
	if err != nil {
		return nil, err
	}
	if c.meetingID != sess.MeetingID() {
		if c.meetingID != "" {
			g.reg.Unsubscribe(c.meetingID, c)
		}
		c.meetingID = sess.MeetingID()
		g.reg.Subscribe(c.meetingID, c)
	}
	return sess, nil
}

func (g *Gateway) handleMeetingEvent(ctx context.Context, c *conn, data []byte) {
	var msg meetingEventMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("invalid meeting event: " + err.Error())
		return
	}

	switch msg.EventType {
	case eventMeetingStarted:
		_, err := g.attachSession(ctx, c, SessionParams{
			MeetingID: c.meetingID,
			Title:     msg.Data.Title,
			Platform:  types.MeetingPlatform(msg.Data.Platform).Normalize(),
		}, msg.Data.MeetingURL)
		if err != nil {
			c.sendError("session unavailable: " + err.Error())
			return
		}
		g.broadcastUpdate(c.meetingID, eventMeetingStarted)

	case eventParticipantJoined, eventParticipantLeft, eventParticipantUpdate:
		g.handleParticipantEvent(ctx, c, msg)

	case eventMeetingEnded:
		if c.meetingID == "" {
			c.sendError("no active session")
			return
		}
		slog.Info("meeting ended",
			"meeting_id", c.meetingID,
			"buffer_flush_complete", msg.Data.flushComplete(),
		)
		// Finalization outlives the connection; results reach whichever
		// subscribers are still attached.
		go g.reg.Finalize(context.WithoutCancel(ctx), c.meetingID)

	default:
		if msg.Data.flushComplete() {
			// Some clients signal the end only through the flush flag.
			if c.meetingID == "" {
				c.sendError("no active session")
				return
			}
			go g.reg.Finalize(context.WithoutCancel(ctx), c.meetingID)
			return
		}
		c.sendError("unknown meeting event: " + msg.EventType)
	}
}

func (g *Gateway) handleParticipantEvent(ctx context.Context, c *conn, msg meetingEventMsg) {
	if c.meetingID == "" {
		c.sendError("no active session")
		return
	}
	sess, ok := g.reg.Get(c.meetingID)
	if !ok {
		c.sendError("no active session")
		return
	}

	fallbackStatus := types.ParticipantActive
	if msg.EventType == eventParticipantLeft {
		fallbackStatus = types.ParticipantLeft
	}

	wire := msg.Data.Participants
	if msg.Data.Participant != nil {
		wire = append(wire, *msg.Data.Participant)
	}
	ps := make([]types.Participant, 0, len(wire))
	for _, wp := range wire {
		if wp.id() == "" {
			continue
		}
		p := wp.toParticipant(sess.MeetingID(), fallbackStatus)
		if msg.EventType == eventParticipantLeft {
			p.Status = types.ParticipantLeft
		}
		ps = append(ps, p)
	}
	if len(ps) == 0 {
		c.sendError("meeting event carries no participants")
		return
	}

	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	err := sess.UpdateParticipants(storeCtx, ps)
	cancel()
	if err != nil {
		if errors.Is(err, session.ErrClosed) {
			c.sendError("meeting already finalized")
		} else {
			c.sendError("participant update failed: " + err.Error())
		}
		return
	}
	g.broadcastUpdate(c.meetingID, msg.EventType)
}

func (g *Gateway) broadcastUpdate(meetingID, event string) {
	g.reg.broadcast(meetingID, typeMeetingUpdate, map[string]any{
		"meeting_id": meetingID,
		"event":      event,
		"timestamp":  time.Now().UTC(),
	})
}

func (g *Gateway) handleSessionInfo(ctx context.Context, c *conn) {
	if c.meetingID == "" {
		c.sendError("no active session")
		return
	}

	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	detail, err := g.st.GetMeeting(storeCtx, c.meetingID)
	cancel()
	if err != nil {
		c.sendError("session info unavailable: " + err.Error())
		return
	}

	c.deliver(typeSessionInfo, map[string]any{
		"meeting_id":        c.meetingID,
		"participant_count": len(detail.Participants),
		"chunk_count":       len(detail.Transcript),
		"transcript_length": len(extract.FlattenTranscript(detail.Transcript)),
	})
}
