// Package report provides PostgreSQL-backed storage for moderation records.
// It implements moderation.Store: spam reports live in spam_reports, message
// visibility flags in messages, and block relationships in user_blocks.
package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/whisper/spamguard/internal/moderation"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Store manages moderation records in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new report store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens a lib/pq connection pool and verifies it.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("report: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("report: ping: %w", err)
	}
	return db, nil
}

// InsertModerationRecord inserts rec and returns its id. If a concurrent
// writer already created the active record for the same message and
// reporter, that record's id is returned with created=false.
func (s *Store) InsertModerationRecord(ctx context.Context, rec *moderation.Record) (string, bool, error) {
	id := uuid.NewString()

	const query = `
		INSERT INTO spam_reports
			(id, message_id, conversation_id, reporter_id, spam_type, reasons, confidence_score, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		id,
		rec.MessageID,
		rec.ConversationID,
		rec.ReporterID,
		string(rec.SpamType),
		rec.Reasons,
		rec.ConfidenceScore,
		string(moderation.StatusFlagged),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			existing, ferr := s.FindActiveRecord(ctx, rec.MessageID, rec.ReporterID)
			if ferr == nil && existing != nil {
				return existing.ID, false, nil
			}
		}
		return "", false, fmt.Errorf("report: insert: %w", err)
	}
	return id, true, nil
}

const recordColumns = `id, message_id, conversation_id, reporter_id, spam_type, reasons, confidence_score, status, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (moderation.Record, error) {
	var (
		rec      moderation.Record
		spamType string
		status   string
	)
	err := row.Scan(
		&rec.ID,
		&rec.MessageID,
		&rec.ConversationID,
		&rec.ReporterID,
		&spamType,
		&rec.Reasons,
		&rec.ConfidenceScore,
		&status,
		&rec.CreatedAt,
	)
	rec.SpamType = moderation.SpamType(spamType)
	rec.Status = moderation.Status(status)
	return rec, err
}

// FindActiveRecord returns the flagged record for a message and reporter, or
// nil if there is none.
func (s *Store) FindActiveRecord(ctx context.Context, messageID, reporterID string) (*moderation.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM spam_reports
		WHERE message_id = $1 AND reporter_id = $2 AND status = 'flagged'`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, messageID, reporterID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("report: find active: %w", err)
	}
	return &rec, nil
}

// UpdateRecordStatus moves a flagged record to status. Records that are
// already terminal are reported as not found.
func (s *Store) UpdateRecordStatus(ctx context.Context, recordID string, status moderation.Status) error {
	const query = `
		UPDATE spam_reports
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'flagged'`

	res, err := s.db.ExecContext(ctx, query, recordID, string(status))
	if err != nil {
		return fmt.Errorf("report: update status: %w", err)
	}
	return expectOne(res, "record "+recordID)
}

// SetMessageSpamFlag sets or clears the message's spam flag.
func (s *Store) SetMessageSpamFlag(ctx context.Context, messageID string, spam bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET is_spam = $2 WHERE id = $1`, messageID, spam)
	if err != nil {
		return fmt.Errorf("report: set spam flag: %w", err)
	}
	return expectOne(res, "message "+messageID)
}

// SetMessageDeleted sets or clears the message's soft-delete flag.
func (s *Store) SetMessageDeleted(ctx context.Context, messageID string, deleted bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET is_deleted = $2 WHERE id = $1`, messageID, deleted)
	if err != nil {
		return fmt.Errorf("report: set deleted: %w", err)
	}
	return expectOne(res, "message "+messageID)
}

// GetMessageSender returns the sender of a message.
func (s *Store) GetMessageSender(ctx context.Context, messageID string) (string, error) {
	var senderID string
	err := s.db.QueryRowContext(ctx, `SELECT sender_id FROM messages WHERE id = $1`, messageID).Scan(&senderID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("report: message %s: %w", messageID, moderation.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("report: get sender: %w", err)
	}
	return senderID, nil
}

// InsertBlock records that blockerID blocked blockedID. It reports
// created=false when the block already existed.
func (s *Store) InsertBlock(ctx context.Context, blockerID, blockedID string) (bool, error) {
	const query = `
		INSERT INTO user_blocks (blocker_id, blocked_id)
		VALUES ($1, $2)
		ON CONFLICT (blocker_id, blocked_id) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query, blockerID, blockedID)
	if err != nil {
		return false, fmt.Errorf("report: insert block: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("report: insert block: %w", err)
	}
	return n == 1, nil
}

// ListFlaggedRecords returns every flagged record filed by reporterID, oldest
// first.
func (s *Store) ListFlaggedRecords(ctx context.Context, reporterID string) ([]moderation.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM spam_reports
		WHERE reporter_id = $1 AND status = 'flagged'
		ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, reporterID)
	if err != nil {
		return nil, fmt.Errorf("report: list flagged: %w", err)
	}
	defer rows.Close()

	var out []moderation.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("report: list flagged scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("report: list flagged: %w", err)
	}
	return out, nil
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("report: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("report: %s: %w", what, moderation.ErrNotFound)
	}
	return nil
}

var _ moderation.Store = (*Store)(nil)
