// Package store provides durable persistence for meetings, transcript chunks,
// participants, summaries, tasks, and external task references.
//
// Two implementations share one SQL codebase: an embedded single-file SQLite
// store for development and tests ([OpenEmbedded]) and a MySQL-wire-compatible
// remote store for production ([OpenRemote]). Schema and behaviour are
// identical across both; selection happens once at startup and is immutable
// for the process lifetime.
package store

import (
	"context"
	"errors"

	"github.com/openminutes/openminutes/pkg/types"
)

// ErrNotFound is returned when a requested meeting or summary does not exist.
var ErrNotFound = errors.New("store: not found")

// MeetingOverview is the list-view row returned by [Store.GetMeetings].
type MeetingOverview struct {
	types.Meeting
	ParticipantCount int `json:"participant_count"`
}

// MeetingDetail is a meeting with its participants and transcript segments.
type MeetingDetail struct {
	types.Meeting
	Participants []types.Participant     `json:"participants"`
	Transcript   []types.TranscriptChunk `json:"transcript"`
}

// Store is the persistence interface shared by the embedded and remote
// implementations. All methods are safe for concurrent use.
type Store interface {
	// UpsertMeeting creates the meeting row or refreshes its title, platform,
	// and updated_at.
	UpsertMeeting(ctx context.Context, m *types.Meeting) error

	// GetMeeting returns the meeting with its participants and transcript.
	// Returns ErrNotFound if no such meeting exists.
	GetMeeting(ctx context.Context, id string) (*MeetingDetail, error)

	// GetMeetings lists all meetings, newest first.
	GetMeetings(ctx context.Context) ([]MeetingOverview, error)

	// DeleteMeeting removes a meeting and cascades to its participants,
	// transcript chunks, summary, tasks, and external refs.
	DeleteMeeting(ctx context.Context, id string) error

	// SaveParticipants upserts the batch by (meeting_id, participant_id).
	SaveParticipants(ctx context.Context, meetingID string, ps []types.Participant) error

	// AppendTranscriptChunk persists the chunk with the next sequence number
	// for its meeting. A fingerprint collision is an idempotent success:
	// alreadyPresent is true and no row is written. The assigned sequence is
	// returned (the existing chunk's sequence on collision).
	AppendTranscriptChunk(ctx context.Context, chunk *types.TranscriptChunk) (seq int, alreadyPresent bool, err error)

	// SaveSummary replaces the meeting's summary document.
	SaveSummary(ctx context.Context, meetingID string, doc *types.SummaryDocument) error

	// GetSummary returns the meeting's summary, or ErrNotFound.
	GetSummary(ctx context.Context, meetingID string) (*types.SummaryDocument, error)

	// SaveTasks upserts tasks by (meeting_id, ai_task_id) and returns them
	// with surrogate row ids populated. Every AI-emitted field is persisted
	// losslessly.
	SaveTasks(ctx context.Context, meetingID string, tasks []types.Task) ([]types.Task, error)

	// GetTasks returns tasks for one meeting, or for all meetings when
	// meetingID is empty.
	GetTasks(ctx context.Context, meetingID string) ([]types.Task, error)

	// SaveExtractionRun persists a summary and its tasks in one transaction.
	// Partial failure rolls back the entire run. Transient errors are retried
	// up to two times.
	SaveExtractionRun(ctx context.Context, meetingID string, doc *types.SummaryDocument, tasks []types.Task) ([]types.Task, error)

	// RecordExternalRef records one dispatch result. created is false when a
	// ref for (task_id, platform) already exists; the existing ref is kept.
	RecordExternalRef(ctx context.Context, ref *types.ExternalTaskRef) (created bool, err error)

	// GetExternalRefs returns all refs for a task.
	GetExternalRefs(ctx context.Context, taskID int64) ([]types.ExternalTaskRef, error)

	// HasExternalRef reports whether a ref exists for (task_id, platform).
	HasExternalRef(ctx context.Context, taskID int64, platform string) (bool, error)

	// Ping verifies connectivity, for readiness checks.
	Ping(ctx context.Context) error

	// Close releases the underlying database handle.
	Close() error
}
