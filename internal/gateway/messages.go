package gateway

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/openminutes/openminutes/internal/session"
	"github.com/openminutes/openminutes/pkg/types"
)

// Inbound message types.
const (
	typeHandshake          = "HANDSHAKE"
	typeAudioChunk         = "AUDIO_CHUNK"
	typeAudioChunkEnhanced = "AUDIO_CHUNK_ENHANCED"
	typeMeetingEvent       = "MEETING_EVENT"
	typeGetSessionInfo     = "GET_SESSION_INFO"
)

// Outbound message types. Transcription and processing-status frames
// originate in the session package and pass through the registry broadcast
// unchanged.
const (
	typeHandshakeAck       = "HANDSHAKE_ACK"
	typeMeetingUpdate      = "MEETING_UPDATE"
	typeProcessingComplete = "PROCESSING_COMPLETE"
	typeError              = "ERROR"
	typeSessionInfo        = "SESSION_INFO"
	typeTranscription      = session.EventTranscription
	typeProcessingStatus   = session.EventProcessingStatus
)

// Meeting event subtypes carried in MEETING_EVENT.eventType.
const (
	eventMeetingStarted    = "meeting_started"
	eventMeetingEnded      = "meeting_ended"
	eventParticipantJoined = "participant_joined"
	eventParticipantLeft   = "participant_left"
	eventParticipantUpdate = "participant_update"
)

// head is the minimal envelope decoded first to route a raw frame.
type head struct {
	Type string `json:"type"`
}

// wireTime accepts the timestamp encodings clients actually send: RFC 3339
// strings, epoch seconds (possibly fractional), or epoch milliseconds.
type wireTime struct {
	time.Time
}

func (t *wireTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return err
		}
		t.Time = parsed
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	// Heuristic: epoch values past the year 33658 in seconds are milliseconds.
	if f > 1e12 {
		f /= 1000
	}
	sec := int64(f)
	t.Time = time.Unix(sec, int64((f-float64(sec))*float64(time.Second)))
	return nil
}

type handshakeMsg struct {
	ClientType   string   `json:"clientType"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
}

// audioMetadata describes the PCM payload of an audio chunk. Zero values fall
// back to 16 kHz mono 16-bit.
type audioMetadata struct {
	Platform     string `json:"platform"`
	MeetingURL   string `json:"meetingUrl"`
	MeetingTitle string `json:"meetingTitle"`
	SampleRate   int    `json:"sampleRate"`
	Channels     int    `json:"channels"`
	SampleWidth  int    `json:"sampleWidth"`
	ChunkSize    int    `json:"chunkSize"`
}

type audioChunkMsg struct {
	Data      string        `json:"data"`
	Timestamp wireTime      `json:"timestamp"`
	Metadata  audioMetadata `json:"metadata"`

	// Present on AUDIO_CHUNK_ENHANCED only.
	Participants     []wireParticipant `json:"participants"`
	ParticipantCount int               `json:"participant_count"`
}

// wireParticipant is the participant shape used by audio and meeting-event
// messages. Both "id" and "participant_id" spellings are accepted.
type wireParticipant struct {
	ID            string   `json:"id"`
	ParticipantID string   `json:"participant_id"`
	Name          string   `json:"name"`
	PlatformID    string   `json:"platform_id"`
	Status        string   `json:"status"`
	IsHost        bool     `json:"is_host"`
	JoinTime      wireTime `json:"join_time"`
}

func (p wireParticipant) id() string {
	if p.ParticipantID != "" {
		return p.ParticipantID
	}
	return p.ID
}

// toParticipant maps a wire participant onto the domain model, defaulting the
// status when the client did not send one.
func (p wireParticipant) toParticipant(meetingID string, fallbackStatus types.ParticipantStatus) types.Participant {
	status := types.ParticipantStatus(p.Status)
	switch status {
	case types.ParticipantActive, types.ParticipantAway, types.ParticipantLeft:
	default:
		status = fallbackStatus
	}
	return types.Participant{
		MeetingID:     meetingID,
		ParticipantID: p.id(),
		Name:          p.Name,
		PlatformID:    p.PlatformID,
		Status:        status,
		IsHost:        p.IsHost,
		JoinTime:      p.JoinTime.Time,
	}
}

type meetingEventMsg struct {
	EventType string           `json:"eventType"`
	Data      meetingEventData `json:"data"`
}

type meetingEventData struct {
	Title        string            `json:"title"`
	Platform     string            `json:"platform"`
	MeetingURL   string            `json:"meetingUrl"`
	Participant  *wireParticipant  `json:"participant"`
	Participants []wireParticipant `json:"participants"`

	// The end-of-meeting flush flag arrives in either spelling depending on
	// the client build.
	FlushCamel *bool `json:"bufferFlushComplete"`
	FlushSnake *bool `json:"buffer_flush_complete"`
}

// flushComplete reports the effective buffer-flush flag.
func (d meetingEventData) flushComplete() bool {
	if d.FlushCamel != nil {
		return *d.FlushCamel
	}
	if d.FlushSnake != nil {
		return *d.FlushSnake
	}
	return false
}

// encodeEvent flattens a payload object into an outbound frame with the
// required type discriminator.
func encodeEvent(event string, payload any) ([]byte, error) {
	obj := map[string]json.RawMessage{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		if len(raw) > 0 && raw[0] == '{' {
			if err := json.Unmarshal(raw, &obj); err != nil {
				return nil, err
			}
		}
	}
	typ, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	obj["type"] = typ
	return json.Marshal(obj)
}
