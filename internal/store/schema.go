package store

// The two dialects carry the same logical schema; they differ only in
// auto-increment spelling, timestamp types, and conflict-handling syntax.

// ─────────────────────────────────────────────────────────────────────────────
// SQLite DDL (embedded store)
// ─────────────────────────────────────────────────────────────────────────────

var sqliteDDL = []string{
	`CREATE TABLE IF NOT EXISTS meetings (
    id          TEXT PRIMARY KEY,
    title       TEXT NOT NULL DEFAULT '',
    platform    TEXT NOT NULL DEFAULT 'unknown',
    created_at  TIMESTAMP NOT NULL,
    updated_at  TIMESTAMP NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS participants (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    meeting_id     TEXT NOT NULL REFERENCES meetings(id) ON DELETE CASCADE,
    participant_id TEXT NOT NULL,
    name           TEXT NOT NULL DEFAULT '',
    platform_id    TEXT NOT NULL DEFAULT '',
    status         TEXT NOT NULL DEFAULT 'active',
    join_time      TIMESTAMP,
    is_host        INTEGER NOT NULL DEFAULT 0,
    UNIQUE (meeting_id, participant_id)
)`,
	`CREATE TABLE IF NOT EXISTS transcript_chunks (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    meeting_id  TEXT NOT NULL REFERENCES meetings(id) ON DELETE CASCADE,
    sequence    INTEGER NOT NULL,
    text        TEXT NOT NULL,
    timestamp   TIMESTAMP NOT NULL,
    speaker     TEXT NOT NULL DEFAULT '',
    confidence  REAL NOT NULL DEFAULT 0,
    fingerprint TEXT NOT NULL,
    UNIQUE (meeting_id, fingerprint),
    UNIQUE (meeting_id, sequence)
)`,
	`CREATE TABLE IF NOT EXISTS summaries (
    meeting_id TEXT PRIMARY KEY REFERENCES meetings(id) ON DELETE CASCADE,
    document   TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS tasks (
    id                        INTEGER PRIMARY KEY AUTOINCREMENT,
    meeting_id                TEXT NOT NULL REFERENCES meetings(id) ON DELETE CASCADE,
    ai_task_id                TEXT NOT NULL,
    title                     TEXT NOT NULL,
    description               TEXT NOT NULL DEFAULT '',
    assignee                  TEXT NOT NULL DEFAULT '',
    due_date                  TEXT NOT NULL DEFAULT '',
    priority                  TEXT NOT NULL DEFAULT 'low',
    status                    TEXT NOT NULL DEFAULT 'pending',
    category                  TEXT NOT NULL DEFAULT '',
    business_impact           TEXT NOT NULL DEFAULT 'low',
    dependencies_json         TEXT NOT NULL DEFAULT '[]',
    mentioned_by              TEXT NOT NULL DEFAULT '',
    context                   TEXT NOT NULL DEFAULT '',
    explicit_level            TEXT NOT NULL DEFAULT 'direct',
    ai_extracted_at           TIMESTAMP,
    ai_confidence_score       REAL NOT NULL DEFAULT 0,
    source_transcript_segment TEXT NOT NULL DEFAULT '',
    extraction_method         TEXT NOT NULL DEFAULT 'explicit',
    created_at                TIMESTAMP NOT NULL,
    updated_at                TIMESTAMP NOT NULL,
    UNIQUE (meeting_id, ai_task_id)
)`,
	`CREATE TABLE IF NOT EXISTS external_task_refs (
    task_id      INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
    platform     TEXT NOT NULL,
    external_id  TEXT NOT NULL,
    external_url TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMP NOT NULL,
    UNIQUE (task_id, platform)
)`,
}

// ─────────────────────────────────────────────────────────────────────────────
// MySQL DDL (remote store)
// ─────────────────────────────────────────────────────────────────────────────

var mysqlDDL = []string{
	`CREATE TABLE IF NOT EXISTS meetings (
    id          VARCHAR(64) PRIMARY KEY,
    title       VARCHAR(512) NOT NULL DEFAULT '',
    platform    VARCHAR(32) NOT NULL DEFAULT 'unknown',
    created_at  DATETIME(6) NOT NULL,
    updated_at  DATETIME(6) NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS participants (
    id             BIGINT AUTO_INCREMENT PRIMARY KEY,
    meeting_id     VARCHAR(64) NOT NULL,
    participant_id VARCHAR(128) NOT NULL,
    name           VARCHAR(256) NOT NULL DEFAULT '',
    platform_id    VARCHAR(128) NOT NULL DEFAULT '',
    status         VARCHAR(16) NOT NULL DEFAULT 'active',
    join_time      DATETIME(6) NULL,
    is_host        TINYINT(1) NOT NULL DEFAULT 0,
    UNIQUE KEY uq_participants (meeting_id, participant_id),
    CONSTRAINT fk_participants_meeting FOREIGN KEY (meeting_id)
        REFERENCES meetings(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS transcript_chunks (
    id          BIGINT AUTO_INCREMENT PRIMARY KEY,
    meeting_id  VARCHAR(64) NOT NULL,
    sequence    INT NOT NULL,
    text        TEXT NOT NULL,
    timestamp   DATETIME(6) NOT NULL,
    speaker     VARCHAR(256) NOT NULL DEFAULT '',
    confidence  DOUBLE NOT NULL DEFAULT 0,
    fingerprint VARCHAR(64) NOT NULL,
    UNIQUE KEY uq_transcript_chunks (meeting_id, fingerprint),
    UNIQUE KEY uq_transcript_sequence (meeting_id, sequence),
    CONSTRAINT fk_chunks_meeting FOREIGN KEY (meeting_id)
        REFERENCES meetings(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS summaries (
    meeting_id VARCHAR(64) PRIMARY KEY,
    document   MEDIUMTEXT NOT NULL,
    updated_at DATETIME(6) NOT NULL,
    CONSTRAINT fk_summaries_meeting FOREIGN KEY (meeting_id)
        REFERENCES meetings(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS tasks (
    id                        BIGINT AUTO_INCREMENT PRIMARY KEY,
    meeting_id                VARCHAR(64) NOT NULL,
    ai_task_id                VARCHAR(128) NOT NULL,
    title                     VARCHAR(512) NOT NULL,
    description               TEXT NOT NULL,
    assignee                  VARCHAR(256) NOT NULL DEFAULT '',
    due_date                  VARCHAR(128) NOT NULL DEFAULT '',
    priority                  VARCHAR(16) NOT NULL DEFAULT 'low',
    status                    VARCHAR(16) NOT NULL DEFAULT 'pending',
    category                  VARCHAR(128) NOT NULL DEFAULT '',
    business_impact           VARCHAR(16) NOT NULL DEFAULT 'low',
    dependencies_json         TEXT NOT NULL,
    mentioned_by              VARCHAR(256) NOT NULL DEFAULT '',
    context                   TEXT NOT NULL,
    explicit_level            VARCHAR(16) NOT NULL DEFAULT 'direct',
    ai_extracted_at           DATETIME(6) NULL,
    ai_confidence_score       DOUBLE NOT NULL DEFAULT 0,
    source_transcript_segment TEXT NOT NULL,
    extraction_method         VARCHAR(32) NOT NULL DEFAULT 'explicit',
    created_at                DATETIME(6) NOT NULL,
    updated_at                DATETIME(6) NOT NULL,
    UNIQUE KEY uq_tasks (meeting_id, ai_task_id),
    CONSTRAINT fk_tasks_meeting FOREIGN KEY (meeting_id)
        REFERENCES meetings(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS external_task_refs (
    task_id      BIGINT NOT NULL,
    platform     VARCHAR(32) NOT NULL,
    external_id  VARCHAR(256) NOT NULL,
    external_url VARCHAR(1024) NOT NULL DEFAULT '',
    created_at   DATETIME(6) NOT NULL,
    UNIQUE KEY uq_external_task_refs (task_id, platform),
    CONSTRAINT fk_refs_task FOREIGN KEY (task_id)
        REFERENCES tasks(id) ON DELETE CASCADE
)`,
}
