package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openminutes/openminutes/internal/resilience"
	"github.com/openminutes/openminutes/pkg/types"
)

// dialect captures the SQL differences between the embedded (SQLite) and
// remote (MySQL-wire) stores. All DML shares `?` placeholders; only
// conflict-handling syntax and DDL differ.
type dialect struct {
	name string
	ddl  []string

	upsertMeeting     string
	upsertParticipant string
	insertChunk       string
	upsertSummary     string
	upsertTask        string
	insertRef         string
}

var sqliteDialect = dialect{
	name: "sqlite",
	ddl:  sqliteDDL,

	upsertMeeting: `INSERT INTO meetings (id, title, platform, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    title      = CASE WHEN excluded.title = '' THEN meetings.title ELSE excluded.title END,
    platform   = excluded.platform,
    updated_at = excluded.updated_at`,

	upsertParticipant: `INSERT INTO participants
    (meeting_id, participant_id, name, platform_id, status, join_time, is_host)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(meeting_id, participant_id) DO UPDATE SET
    name        = excluded.name,
    platform_id = excluded.platform_id,
    status      = CASE WHEN participants.status = 'left' THEN 'left' ELSE excluded.status END,
    join_time   = COALESCE(participants.join_time, excluded.join_time),
    is_host     = excluded.is_host`,

	insertChunk: `INSERT OR IGNORE INTO transcript_chunks
    (meeting_id, sequence, text, timestamp, speaker, confidence, fingerprint)
VALUES (?, ?, ?, ?, ?, ?, ?)`,

	upsertSummary: `INSERT INTO summaries (meeting_id, document, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(meeting_id) DO UPDATE SET
    document   = excluded.document,
    updated_at = excluded.updated_at`,

	upsertTask: `INSERT INTO tasks
    (meeting_id, ai_task_id, title, description, assignee, due_date, priority,
     status, category, business_impact, dependencies_json, mentioned_by,
     context, explicit_level, ai_extracted_at, ai_confidence_score,
     source_transcript_segment, extraction_method, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(meeting_id, ai_task_id) DO UPDATE SET
    title                     = excluded.title,
    description               = excluded.description,
    assignee                  = excluded.assignee,
    due_date                  = excluded.due_date,
    priority                  = excluded.priority,
    status                    = excluded.status,
    category                  = excluded.category,
    business_impact           = excluded.business_impact,
    dependencies_json         = excluded.dependencies_json,
    mentioned_by              = excluded.mentioned_by,
    context                   = excluded.context,
    explicit_level            = excluded.explicit_level,
    ai_extracted_at           = excluded.ai_extracted_at,
    ai_confidence_score       = excluded.ai_confidence_score,
    source_transcript_segment = excluded.source_transcript_segment,
    extraction_method         = excluded.extraction_method,
    updated_at                = excluded.updated_at`,

	insertRef: `INSERT INTO external_task_refs
    (task_id, platform, external_id, external_url, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(task_id, platform) DO NOTHING`,
}

var mysqlDialect = dialect{
	name: "mysql",
	ddl:  mysqlDDL,

	upsertMeeting: `INSERT INTO meetings (id, title, platform, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    title      = IF(VALUES(title) = '', meetings.title, VALUES(title)),
    platform   = VALUES(platform),
    updated_at = VALUES(updated_at)`,

	upsertParticipant: `INSERT INTO participants
    (meeting_id, participant_id, name, platform_id, status, join_time, is_host)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name        = VALUES(name),
    platform_id = VALUES(platform_id),
    status      = IF(participants.status = 'left', 'left', VALUES(status)),
    join_time   = COALESCE(participants.join_time, VALUES(join_time)),
    is_host     = VALUES(is_host)`,

	insertChunk: `INSERT IGNORE INTO transcript_chunks
    (meeting_id, sequence, text, timestamp, speaker, confidence, fingerprint)
VALUES (?, ?, ?, ?, ?, ?, ?)`,

	upsertSummary: `INSERT INTO summaries (meeting_id, document, updated_at)
VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE
    document   = VALUES(document),
    updated_at = VALUES(updated_at)`,

	upsertTask: `INSERT INTO tasks
    (meeting_id, ai_task_id, title, description, assignee, due_date, priority,
     status, category, business_impact, dependencies_json, mentioned_by,
     context, explicit_level, ai_extracted_at, ai_confidence_score,
     source_transcript_segment, extraction_method, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    title                     = VALUES(title),
    description               = VALUES(description),
    assignee                  = VALUES(assignee),
    due_date                  = VALUES(due_date),
    priority                  = VALUES(priority),
    status                    = VALUES(status),
    category                  = VALUES(category),
    business_impact           = VALUES(business_impact),
    dependencies_json         = VALUES(dependencies_json),
    mentioned_by              = VALUES(mentioned_by),
    context                   = VALUES(context),
    explicit_level            = VALUES(explicit_level),
    ai_extracted_at           = VALUES(ai_extracted_at),
    ai_confidence_score       = VALUES(ai_confidence_score),
    source_transcript_segment = VALUES(source_transcript_segment),
    extraction_method         = VALUES(extraction_method),
    updated_at                = VALUES(updated_at)`,

	insertRef: `INSERT IGNORE INTO external_task_refs
    (task_id, platform, external_id, external_url, created_at)
VALUES (?, ?, ?, ?, ?)`,
}

// querier is the subset of *sql.DB / *sql.Tx the DML helpers need.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqlStore implements [Store] over database/sql with a fixed dialect.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

// newSQLStore runs the dialect's DDL and returns the ready store.
func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*sqlStore, error) {
	for _, stmt := range d.ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("store: migrate (%s): %w", d.name, err)
		}
	}
	return &sqlStore{db: db, d: d}, nil
}

func (s *sqlStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *sqlStore) Close() error                   { return s.db.Close() }

// ─────────────────────────────────────────────────────────────────────────────
// Meetings
// ─────────────────────────────────────────────────────────────────────────────

func (s *sqlStore) UpsertMeeting(ctx context.Context, m *types.Meeting) error {
	now := time.Now().UTC()
	created := m.CreatedAt
	if created.IsZero() {
		created = now
	}
	updated := m.UpdatedAt
	if updated.IsZero() {
		updated = now
	}
	_, err := s.db.ExecContext(ctx, s.d.upsertMeeting,
		m.ID, m.Title, string(m.Platform.Normalize()), created.UTC(), updated.UTC())
	if err != nil {
		return fmt.Errorf("store: upsert meeting %q: %w", m.ID, err)
	}
	return nil
}

func (s *sqlStore) GetMeetings(ctx context.Context) ([]MeetingOverview, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT m.id, m.title, m.platform, m.created_at, m.updated_at,
       (SELECT COUNT(*) FROM participants p WHERE p.meeting_id = m.id)
FROM meetings m
ORDER BY m.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list meetings: %w", err)
	}
	defer rows.Close()

	out := []MeetingOverview{}
	for rows.Next() {
		var o MeetingOverview
		var platform string
		if err := rows.Scan(&o.ID, &o.Title, &platform, &o.CreatedAt, &o.UpdatedAt, &o.ParticipantCount); err != nil {
			return nil, fmt.Errorf("store: scan meeting: %w", err)
		}
		o.Platform = types.MeetingPlatform(platform)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *sqlStore) GetMeeting(ctx context.Context, id string) (*MeetingDetail, error) {
	var d MeetingDetail
	var platform string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, platform, created_at, updated_at FROM meetings WHERE id = ?`, id).
		Scan(&d.ID, &d.Title, &platform, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get meeting %q: %w", id, err)
	}
	d.Platform = types.MeetingPlatform(platform)

	d.Participants, err = s.participants(ctx, id)
	if err != nil {
		return nil, err
	}
	d.Transcript, err = s.transcript(ctx, id)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *sqlStore) DeleteMeeting(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM meetings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete meeting %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Participants
// ─────────────────────────────────────────────────────────────────────────────

func (s *sqlStore) SaveParticipants(ctx context.Context, meetingID string, ps []types.Participant) error {
	if len(ps) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin participants tx: %w", err)
	}
	defer tx.Rollback()

	for _, p := range ps {
		var join sql.NullTime
		if !p.JoinTime.IsZero() {
			join = sql.NullTime{Time: p.JoinTime.UTC(), Valid: true}
		}
		status := p.Status
		if status == "" {
			status = types.ParticipantActive
		}
		if _, err := tx.ExecContext(ctx, s.d.upsertParticipant,
			meetingID, p.ParticipantID, p.Name, p.PlatformID, string(status), join, p.IsHost); err != nil {
			return fmt.Errorf("store: upsert participant %q: %w", p.ParticipantID, err)
		}
	}
	return tx.Commit()
}

func (s *sqlStore) participants(ctx context.Context, meetingID string) ([]types.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT meeting_id, participant_id, name, platform_id, status, join_time, is_host
FROM participants WHERE meeting_id = ? ORDER BY id`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("store: list participants: %w", err)
	}
	defer rows.Close()

	out := []types.Participant{}
	for rows.Next() {
		var p types.Participant
		var status string
		var join sql.NullTime
		if err := rows.Scan(&p.MeetingID, &p.ParticipantID, &p.Name, &p.PlatformID, &status, &join, &p.IsHost); err != nil {
			return nil, fmt.Errorf("store: scan participant: %w", err)
		}
		p.Status = types.ParticipantStatus(status)
		if join.Valid {
			p.JoinTime = join.Time
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Transcript chunks
// ─────────────────────────────────────────────────────────────────────────────

// errSequenceRace means a concurrent append claimed the computed sequence
// number first; the caller re-reads MAX in a fresh transaction.
var errSequenceRace = errors.New("store: transcript sequence conflict")

// maxSequenceRetries bounds re-attempts when parallel appends for the same
// meeting collide on the UNIQUE (meeting_id, sequence) key.
const maxSequenceRetries = 8

func (s *sqlStore) AppendTranscriptChunk(ctx context.Context, chunk *types.TranscriptChunk) (int, bool, error) {
	for attempt := 0; attempt < maxSequenceRetries; attempt++ {
		seq, dup, err := s.appendChunkOnce(ctx, chunk)
		if errors.Is(err, errSequenceRace) {
			continue
		}
		return seq, dup, err
	}
	return 0, false, fmt.Errorf("store: append chunk %q: %w", chunk.MeetingID, errSequenceRace)
}

// appendChunkOnce makes one attempt at claiming the next sequence number.
// The insert ignores conflicts on both unique keys: a fingerprint hit is the
// idempotent-duplicate case, while an ignored row with no matching
// fingerprint means another writer won the sequence race.
func (s *sqlStore) appendChunkOnce(ctx context.Context, chunk *types.TranscriptChunk) (int, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("store: begin chunk tx: %w", err)
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM transcript_chunks WHERE meeting_id = ?`,
		chunk.MeetingID).Scan(&next); err != nil {
		return 0, false, fmt.Errorf("store: next sequence: %w", err)
	}

	ts := chunk.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	res, err := tx.ExecContext(ctx, s.d.insertChunk,
		chunk.MeetingID, next, chunk.Text, ts.UTC(), chunk.Speaker, chunk.Confidence, chunk.Fingerprint)
	if err != nil {
		return 0, false, fmt.Errorf("store: insert chunk: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("store: chunk rows affected: %w", err)
	}

	if n == 0 {
		var existing int
		err := tx.QueryRowContext(ctx,
			`SELECT sequence FROM transcript_chunks WHERE meeting_id = ? AND fingerprint = ?`,
			chunk.MeetingID, chunk.Fingerprint).Scan(&existing)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return 0, false, errSequenceRace
		case err != nil:
			return 0, false, fmt.Errorf("store: lookup duplicate chunk: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return 0, false, err
		}
		return existing, true, nil
	}

	if err := tx.Commit(); err != nil {
		return 0, false, err
	}
	return next, false, nil
}

func (s *sqlStore) transcript(ctx context.Context, meetingID string) ([]types.TranscriptChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT meeting_id, sequence, text, timestamp, speaker, confidence, fingerprint
FROM transcript_chunks WHERE meeting_id = ? ORDER BY sequence`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("store: list chunks: %w", err)
	}
	defer rows.Close()

	out := []types.TranscriptChunk{}
	for rows.Next() {
		var c types.TranscriptChunk
		if err := rows.Scan(&c.MeetingID, &c.Sequence, &c.Text, &c.Timestamp, &c.Speaker, &c.Confidence, &c.Fingerprint); err != nil {
			return nil, fmt.Errorf("store: scan chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Summaries
// ─────────────────────────────────────────────────────────────────────────────

func (s *sqlStore) SaveSummary(ctx context.Context, meetingID string, doc *types.SummaryDocument) error {
	return s.saveSummary(ctx, s.db, meetingID, doc)
}

func (s *sqlStore) saveSummary(ctx context.Context, q querier, meetingID string, doc *types.SummaryDocument) error {
	blob, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: marshal summary: %w", err)
	}
	if _, err := q.ExecContext(ctx, s.d.upsertSummary, meetingID, string(blob), time.Now().UTC()); err != nil {
		return fmt.Errorf("store: save summary %q: %w", meetingID, err)
	}
	return nil
}

func (s *sqlStore) GetSummary(ctx context.Context, meetingID string) (*types.SummaryDocument, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM summaries WHERE meeting_id = ?`, meetingID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get summary %q: %w", meetingID, err)
	}
	doc := types.EmptySummary()
	if err := json.Unmarshal([]byte(blob), doc); err != nil {
		return nil, fmt.Errorf("store: decode summary %q: %w", meetingID, err)
	}
	return doc, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Tasks
// ─────────────────────────────────────────────────────────────────────────────

func (s *sqlStore) SaveTasks(ctx context.Context, meetingID string, tasks []types.Task) ([]types.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin tasks tx: %w", err)
	}
	defer tx.Rollback()

	out, err := s.saveTasks(ctx, tx, meetingID, tasks)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *sqlStore) saveTasks(ctx context.Context, q querier, meetingID string, tasks []types.Task) ([]types.Task, error) {
	now := time.Now().UTC()
	out := make([]types.Task, 0, len(tasks))
	for _, t := range tasks {
		deps := t.Dependencies
		if deps == nil {
			deps = []string{}
		}
		depsJSON, err := json.Marshal(deps)
		if err != nil {
			return nil, fmt.Errorf("store: marshal dependencies: %w", err)
		}
		var extractedAt sql.NullTime
		if !t.AIExtractedAt.IsZero() {
			extractedAt = sql.NullTime{Time: t.AIExtractedAt.UTC(), Valid: true}
		}
		status := t.Status
		if status == "" {
			status = types.StatusPending
		}

		if _, err := q.ExecContext(ctx, s.d.upsertTask,
			meetingID, t.AITaskID, t.Title, t.Description, t.Assignee, t.DueDate,
			string(t.Priority.Normalize()), string(status), t.Category,
			string(t.BusinessImpact), string(depsJSON), t.MentionedBy, t.Context,
			string(t.ExplicitLevel), extractedAt, t.AIConfidenceScore,
			t.SourceTranscriptSegment, string(t.ExtractionMethod), now, now,
		); err != nil {
			return nil, fmt.Errorf("store: upsert task %q: %w", t.AITaskID, err)
		}

		// The surrogate id is fetched rather than taken from LastInsertId so
		// updates resolve to the existing row on both dialects.
		saved := t
		saved.MeetingID = meetingID
		saved.Dependencies = deps
		if err := q.QueryRowContext(ctx,
			`SELECT id, created_at FROM tasks WHERE meeting_id = ? AND ai_task_id = ?`,
			meetingID, t.AITaskID).Scan(&saved.ID, &saved.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: resolve task id %q: %w", t.AITaskID, err)
		}
		saved.UpdatedAt = now
		out = append(out, saved)
	}
	return out, nil
}

const selectTasks = `
SELECT id, meeting_id, ai_task_id, title, description, assignee, due_date,
       priority, status, category, business_impact, dependencies_json,
       mentioned_by, context, explicit_level, ai_extracted_at,
       ai_confidence_score, source_transcript_segment, extraction_method,
       created_at, updated_at
FROM tasks`

func (s *sqlStore) GetTasks(ctx context.Context, meetingID string) ([]types.Task, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if meetingID == "" {
		rows, err = s.db.QueryContext(ctx, selectTasks+` ORDER BY id`)
	} else {
		rows, err = s.db.QueryContext(ctx, selectTasks+` WHERE meeting_id = ? ORDER BY id`, meetingID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	defer rows.Close()

	out := []types.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTask(rows *sql.Rows) (*types.Task, error) {
	var (
		t           types.Task
		priority    string
		status      string
		impact      string
		depsJSON    string
		level       string
		method      string
		extractedAt sql.NullTime
	)
	if err := rows.Scan(&t.ID, &t.MeetingID, &t.AITaskID, &t.Title, &t.Description,
		&t.Assignee, &t.DueDate, &priority, &status, &t.Category, &impact,
		&depsJSON, &t.MentionedBy, &t.Context, &level, &extractedAt,
		&t.AIConfidenceScore, &t.SourceTranscriptSegment, &method,
		&t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, fmt.Errorf("store: scan task: %w", err)
	}
	t.Priority = types.TaskPriority(priority)
	t.Status = types.TaskStatus(status)
	t.BusinessImpact = types.BusinessImpact(impact)
	t.ExplicitLevel = types.ExplicitLevel(level)
	t.ExtractionMethod = types.ExtractionMethod(method)
	if extractedAt.Valid {
		t.AIExtractedAt = extractedAt.Time
	}
	t.Dependencies = []string{}
	if depsJSON != "" {
		if err := json.Unmarshal([]byte(depsJSON), &t.Dependencies); err != nil {
			return nil, fmt.Errorf("store: decode dependencies for task %d: %w", t.ID, err)
		}
	}
	return &t, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Extraction runs
// ─────────────────────────────────────────────────────────────────────────────

func (s *sqlStore) SaveExtractionRun(ctx context.Context, meetingID string, doc *types.SummaryDocument, tasks []types.Task) ([]types.Task, error) {
	var out []types.Task
	err := resilience.Retry(ctx, resilience.RetryConfig{MaxRetries: 2}, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return classify(fmt.Errorf("store: begin run tx: %w", err))
		}
		defer tx.Rollback()

		if doc != nil {
			if err := s.saveSummary(ctx, tx, meetingID, doc); err != nil {
				return classify(err)
			}
		}
		saved, err := s.saveTasks(ctx, tx, meetingID, tasks)
		if err != nil {
			return classify(err)
		}
		if err := tx.Commit(); err != nil {
			return classify(err)
		}
		out = saved
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// classify marks non-transient store errors as permanent so the retry wrapper
// stops immediately.
func classify(err error) error {
	if err == nil || isTransient(err) {
		return err
	}
	return resilience.Permanent(err)
}

// isTransient reports whether err looks like a retryable store failure
// (lock contention, deadlock, or a dropped connection).
func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"database is locked",
		"database table is locked",
		"busy",
		"deadlock",
		"try restarting transaction",
		"connection refused",
		"connection reset",
		"broken pipe",
		"invalid connection",
		"bad connection",
		"i/o timeout",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// ─────────────────────────────────────────────────────────────────────────────
// External task refs
// ─────────────────────────────────────────────────────────────────────────────

func (s *sqlStore) RecordExternalRef(ctx context.Context, ref *types.ExternalTaskRef) (bool, error) {
	created := ref.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	res, err := s.db.ExecContext(ctx, s.d.insertRef,
		ref.TaskID, ref.Platform, ref.ExternalID, ref.ExternalURL, created.UTC())
	if err != nil {
		return false, fmt.Errorf("store: record external ref (%d, %s): %w", ref.TaskID, ref.Platform, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: ref rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *sqlStore) GetExternalRefs(ctx context.Context, taskID int64) ([]types.ExternalTaskRef, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT task_id, platform, external_id, external_url, created_at
FROM external_task_refs WHERE task_id = ? ORDER BY platform`, taskID)
	if err != nil {
		return nil, fmt.Errorf("store: list external refs: %w", err)
	}
	defer rows.Close()

	out := []types.ExternalTaskRef{}
	for rows.Next() {
		var r types.ExternalTaskRef
		if err := rows.Scan(&r.TaskID, &r.Platform, &r.ExternalID, &r.ExternalURL, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan external ref: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqlStore) HasExternalRef(ctx context.Context, taskID int64, platform string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM external_task_refs WHERE task_id = ? AND platform = ?`,
		taskID, platform).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: check external ref: %w", err)
	}
	return true, nil
}
