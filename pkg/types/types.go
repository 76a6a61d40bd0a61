// Package types holds the shared domain model for the openminutes meeting
// intelligence backend: meetings, participants, transcript chunks, summaries,
// tasks, and external task references.
//
// All types are plain data; persistence and wire encodings live in the
// packages that own them.
package types

import "time"

// MeetingPlatform identifies the video-call platform a meeting ran on.
type MeetingPlatform string

const (
	PlatformGoogleMeet MeetingPlatform = "google-meet"
	PlatformZoom       MeetingPlatform = "zoom"
	PlatformTeams      MeetingPlatform = "teams"
	PlatformUnknown    MeetingPlatform = "unknown"
)

// Normalize maps arbitrary platform strings onto the known set, defaulting to
// [PlatformUnknown].
func (p MeetingPlatform) Normalize() MeetingPlatform {
	switch p {
	case PlatformGoogleMeet, PlatformZoom, PlatformTeams:
		return p
	}
	return PlatformUnknown
}

// Meeting is a logical recording session, typically one video-call instance.
type Meeting struct {
	// ID is a stable short token derived from platform, meeting URL, and the
	// day the meeting started.
	ID string `json:"id"`

	Title     string          `json:"title"`
	Platform  MeetingPlatform `json:"platform"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ParticipantStatus is the presence state of a meeting participant.
type ParticipantStatus string

const (
	ParticipantActive ParticipantStatus = "active"
	ParticipantAway   ParticipantStatus = "away"
	ParticipantLeft   ParticipantStatus = "left"
)

// Participant is a person attached to a meeting, unique by
// (meeting_id, participant_id).
type Participant struct {
	MeetingID     string            `json:"meeting_id"`
	ParticipantID string            `json:"participant_id"`
	Name          string            `json:"name"`
	PlatformID    string            `json:"platform_id"`
	Status        ParticipantStatus `json:"status"`
	IsHost        bool              `json:"is_host"`
	JoinTime      time.Time         `json:"join_time"`
}

// TranscriptChunk is one unit of transcribed text within a meeting. Sequence
// numbers are monotonic per meeting; the fingerprint deduplicates replays of
// the same utterance.
type TranscriptChunk struct {
	MeetingID   string    `json:"meeting_id"`
	Sequence    int       `json:"sequence"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
	Speaker     string    `json:"speaker,omitempty"`
	Confidence  float64   `json:"confidence,omitempty"`
	Fingerprint string    `json:"fingerprint"`
}

// SummaryDocument is the structured meeting summary produced by extraction.
// All sections are always present; empty slices and strings are valid.
type SummaryDocument struct {
	Overview     string   `json:"overview"`
	KeyOutcomes  string   `json:"key_outcomes"`
	Decisions    []string `json:"decisions"`
	Participants []string `json:"participants"`
	NextSteps    []string `json:"next_steps"`
}

// EmptySummary returns a structurally valid summary with all sections present
// but empty. Used when extraction runs on empty input or in fallback mode.
func EmptySummary() *SummaryDocument {
	return &SummaryDocument{
		Decisions:    []string{},
		Participants: []string{},
		NextSteps:    []string{},
	}
}

// TaskPriority is the urgency level of an extracted task.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

// Normalize maps arbitrary priority strings onto the known set, defaulting to
// [PriorityLow].
func (p TaskPriority) Normalize() TaskPriority {
	switch p {
	case PriorityMedium, PriorityHigh, PriorityUrgent:
		return p
	}
	return PriorityLow
}

// TaskStatus is the workflow state of a task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusCancelled  TaskStatus = "cancelled"
)

// BusinessImpact grades how much a task matters to the business.
type BusinessImpact string

const (
	ImpactLow      BusinessImpact = "low"
	ImpactMedium   BusinessImpact = "medium"
	ImpactHigh     BusinessImpact = "high"
	ImpactCritical BusinessImpact = "critical"
)

// ExplicitLevel describes how directly a task was stated in the meeting.
type ExplicitLevel string

const (
	ExplicitDirect   ExplicitLevel = "direct"
	ExplicitImplied  ExplicitLevel = "implied"
	ExplicitInferred ExplicitLevel = "inferred"
)

// ExtractionMethod records which extraction pass produced a task.
type ExtractionMethod string

const (
	MethodExplicit           ExtractionMethod = "explicit"
	MethodImplicit           ExtractionMethod = "implicit"
	MethodDependencyAnalysis ExtractionMethod = "dependency_analysis"
)

// Task is the authoritative task record. Every field emitted by the AI
// extraction is preserved here losslessly; external integrations receive a
// projection of a fixed subset, never this full record.
type Task struct {
	// ID is the surrogate row id assigned by the store. Zero until persisted.
	ID int64 `json:"id"`

	MeetingID string `json:"meeting_id"`

	// AITaskID is stable within one extraction run and is the upsert key for
	// repeated runs over the same meeting.
	AITaskID string `json:"ai_task_id"`

	Title       string       `json:"title"`
	Description string       `json:"description"`
	Assignee    string       `json:"assignee,omitempty"`
	DueDate     string       `json:"due_date,omitempty"`
	Priority    TaskPriority `json:"priority"`
	Status      TaskStatus   `json:"status"`
	Category    string       `json:"category"`

	BusinessImpact BusinessImpact `json:"business_impact"`

	// Dependencies is an opaque ordered list of ai_task_ids or free text.
	// Resolution is left to downstream consumers.
	Dependencies []string `json:"dependencies"`

	MentionedBy   string        `json:"mentioned_by,omitempty"`
	Context       string        `json:"context,omitempty"`
	ExplicitLevel ExplicitLevel `json:"explicit_level"`

	AIExtractedAt     time.Time `json:"ai_extracted_at"`
	AIConfidenceScore float64   `json:"ai_confidence_score"`

	SourceTranscriptSegment string           `json:"source_transcript_segment,omitempty"`
	ExtractionMethod        ExtractionMethod `json:"extraction_method"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExternalTaskRef records one dispatch of a task to an external platform.
// At most one ref exists per (task, platform); its presence makes dispatch
// idempotent.
type ExternalTaskRef struct {
	TaskID      int64     `json:"task_id"`
	Platform    string    `json:"platform"`
	ExternalID  string    `json:"external_id"`
	ExternalURL string    `json:"external_url"`
	CreatedAt   time.Time `json:"created_at"`
}

// Speaker is one identified voice in a transcript.
type Speaker struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Segments        []string `json:"segments"`
	TotalWords      int      `json:"total_words"`
	Characteristics string   `json:"characteristics"`
	Confidence      float64  `json:"confidence"`
}
