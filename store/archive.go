package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/GramHealth/consult"
)

// ConsultationRecord is one archived consultation.
type ConsultationRecord struct {
	ID          string `json:"id"`
	Modality    string `json:"modality"`
	StartedAt   int64  `json:"startedAtMs"`
	ConnectedAt int64  `json:"connectedAtMs,omitempty"`
	EndedAt     int64  `json:"endedAtMs,omitempty"`
	Phase       string `json:"phase"`
	Symptom     string `json:"symptom"`
	Turns       int    `json:"turns"`
}

// TurnRecord is one archived transcript entry.
type TurnRecord struct {
	Ordinal     int    `json:"ordinal"`
	Speaker     string `json:"speaker"`
	Text        string `json:"text"`
	Timestamp   int64  `json:"timestampMs"`
	Source      string `json:"source,omitempty"`
	ResponseKey string `json:"responseKey,omitempty"`
}

// Archive stores finished consultations in SQLite.
type Archive struct {
	db     *sql.DB
	logger zerolog.Logger
}

// ArchiveDSNForFile returns a DSN for an archive file.
func ArchiveDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite archive: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

func NewArchive(dsn string) (*Archive, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite archive: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	a := &Archive{db: db, logger: log.With().Str("component", "archive").Logger()}
	if err := a.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *Archive) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS consultations (
			id TEXT PRIMARY KEY,
			modality TEXT NOT NULL,
			started_at_ms INTEGER NOT NULL,
			connected_at_ms INTEGER NOT NULL DEFAULT 0,
			ended_at_ms INTEGER NOT NULL DEFAULT 0,
			phase TEXT NOT NULL,
			symptom TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS turns (
			consultation_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			speaker TEXT NOT NULL,
			text TEXT NOT NULL,
			timestamp_ms INTEGER NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			response_key TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (consultation_id, ordinal),
			FOREIGN KEY (consultation_id) REFERENCES consultations(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS consultations_by_start ON consultations(started_at_ms DESC);`,
	}
	for _, st := range stmts {
		if _, err := a.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite archive: migrate")
		}
	}
	return nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// Save writes a consultation and its transcript, replacing any earlier copy.
func (a *Archive) Save(ctx context.Context, snap consult.Snapshot) error {
	if snap.ID == "" {
		return errors.New("sqlite archive: empty consultation id")
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite archive: begin")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE consultation_id = ?`, snap.ID); err != nil {
		return errors.Wrap(err, "sqlite archive: clear turns")
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO consultations (id, modality, started_at_ms, connected_at_ms, ended_at_ms, phase, symptom)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			modality = excluded.modality,
			started_at_ms = excluded.started_at_ms,
			connected_at_ms = excluded.connected_at_ms,
			ended_at_ms = excluded.ended_at_ms,
			phase = excluded.phase,
			symptom = excluded.symptom`,
		snap.ID, string(snap.Modality), millis(snap.StartedAt), millis(snap.ConnectedAt), millis(snap.EndedAt),
		string(snap.Triage.Phase), string(snap.Triage.Symptom))
	if err != nil {
		return errors.Wrap(err, "sqlite archive: upsert consultation")
	}

	for i, turn := range snap.Transcript {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO turns (consultation_id, ordinal, speaker, text, timestamp_ms, source, response_key)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			snap.ID, i, string(turn.Speaker), turn.Text, millis(turn.Timestamp), string(turn.Source), string(turn.ResponseKey))
		if err != nil {
			return errors.Wrapf(err, "sqlite archive: insert turn %d", i)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "sqlite archive: commit")
	}
	return nil
}

// List returns the most recent consultations first.
func (a *Archive) List(ctx context.Context, limit int) ([]ConsultationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT c.id, c.modality, c.started_at_ms, c.connected_at_ms, c.ended_at_ms, c.phase, c.symptom,
			(SELECT COUNT(*) FROM turns t WHERE t.consultation_id = c.id)
		FROM consultations c
		ORDER BY c.started_at_ms DESC, c.id
		LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite archive: list")
	}
	defer func() { _ = rows.Close() }()

	out := []ConsultationRecord{}
	for rows.Next() {
		var r ConsultationRecord
		if err := rows.Scan(&r.ID, &r.Modality, &r.StartedAt, &r.ConnectedAt, &r.EndedAt, &r.Phase, &r.Symptom, &r.Turns); err != nil {
			return nil, errors.Wrap(err, "sqlite archive: scan consultation")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Turns returns the transcript of one consultation in order.
func (a *Archive) Turns(ctx context.Context, consultationID string) ([]TurnRecord, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT ordinal, speaker, text, timestamp_ms, source, response_key
		FROM turns WHERE consultation_id = ?
		ORDER BY ordinal`, consultationID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite archive: turns")
	}
	defer func() { _ = rows.Close() }()

	out := []TurnRecord{}
	for rows.Next() {
		var r TurnRecord
		if err := rows.Scan(&r.Ordinal, &r.Speaker, &r.Text, &r.Timestamp, &r.Source, &r.ResponseKey); err != nil {
			return nil, errors.Wrap(err, "sqlite archive: scan turn")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Recorder archives every consultation when it is discarded. It implements
// consult.EventSink.
type Recorder struct {
	consult.NopEvents
	archive *Archive
	timeout time.Duration
	pending sync.WaitGroup
}

func NewRecorder(archive *Archive) *Recorder {
	return &Recorder{archive: archive, timeout: 5 * time.Second}
}

// SessionClosed saves the snapshot in the background; the caller holds the
// consultation lock.
func (r *Recorder) SessionClosed(snap consult.Snapshot) {
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.archive.Save(ctx, snap); err != nil {
			r.archive.logger.Error().Err(err).Str("session_id", snap.ID).Msg("failed to archive consultation")
			return
		}
		r.archive.logger.Debug().Str("session_id", snap.ID).Int("turns", len(snap.Transcript)).Msg("consultation archived")
	}()
}

// Wait blocks until every pending save has finished.
func (r *Recorder) Wait() {
	r.pending.Wait()
}
