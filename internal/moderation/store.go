package moderation

import (
	"context"
	"time"
)

// SpamType records how a message entered moderation.
type SpamType string

const (
	SpamTypeAutoDetected SpamType = "auto_detected"
	SpamTypeUserReported SpamType = "user_reported"
)

// Status is the moderation record lifecycle state. Flagged is the only
// non-terminal state.
type Status string

const (
	StatusFlagged   Status = "flagged"
	StatusDismissed Status = "dismissed"
	StatusConfirmed Status = "confirmed"
)

// Record is a durable moderation entry for one message and one reporter.
type Record struct {
	ID              string
	MessageID       string
	ConversationID  string
	ReporterID      string
	SpamType        SpamType
	Reasons         string
	ConfidenceScore float64
	Status          Status
	CreatedAt       time.Time
}

// Store is the persistence contract the workflow needs. Implementations own
// the message table; the workflow only issues flag commands against it.
//
// InsertModerationRecord reports created=false, with the existing record's
// id, when a flagged record for the same message and reporter already
// exists. FindActiveRecord returns (nil, nil) when no flagged record exists.
// UpdateRecordStatus only moves flagged records; any other record is
// reported as ErrNotFound. InsertBlock reports created=false when the block
// already existed.
type Store interface {
	InsertModerationRecord(ctx context.Context, rec *Record) (id string, created bool, err error)
	FindActiveRecord(ctx context.Context, messageID, reporterID string) (*Record, error)
	UpdateRecordStatus(ctx context.Context, recordID string, status Status) error
	SetMessageSpamFlag(ctx context.Context, messageID string, spam bool) error
	SetMessageDeleted(ctx context.Context, messageID string, deleted bool) error
	GetMessageSender(ctx context.Context, messageID string) (string, error)
	InsertBlock(ctx context.Context, blockerID, blockedID string) (created bool, err error)
	ListFlaggedRecords(ctx context.Context, reporterID string) ([]Record, error)
}
