package moderation

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// DefaultSystemReporterID is the reporter identity used for auto-flags.
const DefaultSystemReporterID = "system:spam-detector"

// Workflow drives moderation records through flagged -> dismissed and
// flagged -> confirmed.
//
// Each operation changes message visibility before it changes the record,
// so a failure partway through leaves the record flagged and a retry of the
// same call converges.
type Workflow struct {
	store    Store
	systemID string
	log      *zap.Logger
}

// WorkflowOption customises a Workflow.
type WorkflowOption func(*Workflow)

// WithSystemReporterID sets the reporter id recorded on auto-flags.
func WithSystemReporterID(id string) WorkflowOption {
	return func(w *Workflow) {
		if id != "" {
			w.systemID = id
		}
	}
}

// WithLogger attaches a logger for transition events.
func WithLogger(log *zap.Logger) WorkflowOption {
	return func(w *Workflow) {
		if log != nil {
			w.log = log
		}
	}
}

// NewWorkflow creates a workflow over store.
func NewWorkflow(store Store, opts ...WorkflowOption) *Workflow {
	w := &Workflow{
		store:    store,
		systemID: DefaultSystemReporterID,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// SystemReporterID returns the identity auto-flags are filed under.
func (w *Workflow) SystemReporterID() string {
	return w.systemID
}

// AutoFlag files a classifier verdict against a message. Verdicts that are
// not spam are ignored, and a message the system already flagged is left
// as is. It reports whether a new record was created.
func (w *Workflow) AutoFlag(ctx context.Context, messageID, conversationID string, v Verdict) (bool, error) {
	if !v.IsSpam {
		return false, nil
	}
	if messageID == "" {
		return false, fmt.Errorf("%w: message id is required", ErrValidation)
	}
	return w.flag(ctx, &Record{
		MessageID:       messageID,
		ConversationID:  conversationID,
		ReporterID:      w.systemID,
		SpamType:        SpamTypeAutoDetected,
		Reasons:         v.JoinedReasons(),
		ConfidenceScore: v.Confidence,
		Status:          StatusFlagged,
	})
}

// ReportByUser files a human report with full confidence. Reporting the same
// message twice is a success that reports created=false.
func (w *Workflow) ReportByUser(ctx context.Context, messageID, conversationID, reporterID, reason string) (bool, error) {
	if messageID == "" || reporterID == "" {
		return false, fmt.Errorf("%w: message id and reporter id are required", ErrValidation)
	}
	return w.flag(ctx, &Record{
		MessageID:       messageID,
		ConversationID:  conversationID,
		ReporterID:      reporterID,
		SpamType:        SpamTypeUserReported,
		Reasons:         reason,
		ConfidenceScore: 1.0,
		Status:          StatusFlagged,
	})
}

func (w *Workflow) flag(ctx context.Context, rec *Record) (bool, error) {
	existing, err := w.store.FindActiveRecord(ctx, rec.MessageID, rec.ReporterID)
	if err != nil {
		return false, storeErr("find active record", err)
	}
	if existing != nil {
		w.log.Debug("message already flagged",
			zap.String("message_id", rec.MessageID),
			zap.String("reporter_id", rec.ReporterID),
			zap.String("record_id", existing.ID))
		return false, nil
	}

	if err := w.store.SetMessageSpamFlag(ctx, rec.MessageID, true); err != nil {
		return false, storeErr("set spam flag", err)
	}
	id, created, err := w.store.InsertModerationRecord(ctx, rec)
	if err != nil {
		return false, storeErr("insert record", err)
	}
	rec.ID = id
	if !created {
		w.log.Debug("concurrent flag already recorded",
			zap.String("message_id", rec.MessageID),
			zap.String("reporter_id", rec.ReporterID),
			zap.String("record_id", id))
		return false, nil
	}

	w.log.Info("message flagged",
		zap.String("record_id", id),
		zap.String("message_id", rec.MessageID),
		zap.String("reporter_id", rec.ReporterID),
		zap.String("spam_type", string(rec.SpamType)),
		zap.Float64("confidence", rec.ConfidenceScore))
	return true, nil
}

// Dismiss declares a flagged message not spam and restores its visibility.
func (w *Workflow) Dismiss(ctx context.Context, messageID, reporterID string) error {
	rec, err := w.active(ctx, messageID, reporterID)
	if err != nil {
		return err
	}
	if err := w.store.SetMessageSpamFlag(ctx, messageID, false); err != nil {
		return storeErr("clear spam flag", err)
	}
	if err := w.store.UpdateRecordStatus(ctx, rec.ID, StatusDismissed); err != nil {
		return storeErr("update record status", err)
	}

	w.log.Info("record dismissed",
		zap.String("record_id", rec.ID),
		zap.String("message_id", messageID))
	return nil
}

// ConfirmAndDelete soft-deletes a flagged message and confirms its record.
func (w *Workflow) ConfirmAndDelete(ctx context.Context, messageID, reporterID string) error {
	rec, err := w.active(ctx, messageID, reporterID)
	if err != nil {
		return err
	}
	if err := w.store.SetMessageDeleted(ctx, messageID, true); err != nil {
		return storeErr("delete message", err)
	}
	if err := w.store.UpdateRecordStatus(ctx, rec.ID, StatusConfirmed); err != nil {
		return storeErr("update record status", err)
	}

	w.log.Info("record confirmed",
		zap.String("record_id", rec.ID),
		zap.String("message_id", messageID))
	return nil
}

// DeleteAll confirms and deletes every record reporterID currently has
// flagged. Targets are collected up front and each record is applied in the
// same order as ConfirmAndDelete. A record that fails stays flagged, and its
// message may already be deleted; a retry re-applies the delete and confirms
// it. If any record fails, the returned *PartialFailureError names it and the
// others remain applied.
func (w *Workflow) DeleteAll(ctx context.Context, reporterID string) (int, error) {
	if reporterID == "" {
		return 0, fmt.Errorf("%w: reporter id is required", ErrValidation)
	}

	records, err := w.store.ListFlaggedRecords(ctx, reporterID)
	if err != nil {
		return 0, storeErr("list flagged records", err)
	}

	var result PartialFailureError
	for _, rec := range records {
		if err := w.confirmRecord(ctx, rec); err != nil {
			result.Failed = append(result.Failed, FailedRecord{
				RecordID:  rec.ID,
				MessageID: rec.MessageID,
				Err:       err,
			})
			continue
		}
		result.Confirmed = append(result.Confirmed, rec.ID)
	}

	w.log.Info("delete all finished",
		zap.String("reporter_id", reporterID),
		zap.Int("confirmed", len(result.Confirmed)),
		zap.Int("failed", len(result.Failed)))

	if len(result.Failed) > 0 {
		return len(result.Confirmed), &result
	}
	return len(result.Confirmed), nil
}

// confirmRecord never restores the message on failure: another reporter's
// confirmed record may depend on it staying deleted.
func (w *Workflow) confirmRecord(ctx context.Context, rec Record) error {
	if err := w.store.SetMessageDeleted(ctx, rec.MessageID, true); err != nil {
		return storeErr("delete message", err)
	}
	if err := w.store.UpdateRecordStatus(ctx, rec.ID, StatusConfirmed); err != nil {
		return storeErr("update record status", err)
	}
	return nil
}

// BlockSender blocks the sender of a flagged message on behalf of reporterID
// and then confirms and deletes the message. An existing block is not an
// error.
func (w *Workflow) BlockSender(ctx context.Context, messageID, reporterID string) error {
	if messageID == "" || reporterID == "" {
		return fmt.Errorf("%w: message id and reporter id are required", ErrValidation)
	}

	senderID, err := w.store.GetMessageSender(ctx, messageID)
	if err != nil {
		return storeErr("get message sender", err)
	}
	if senderID == reporterID {
		return fmt.Errorf("%w: cannot block yourself", ErrValidation)
	}

	created, err := w.store.InsertBlock(ctx, reporterID, senderID)
	if err != nil {
		return storeErr("insert block", err)
	}
	w.log.Info("sender blocked",
		zap.String("blocker_id", reporterID),
		zap.String("blocked_id", senderID),
		zap.Bool("already_blocked", !created))

	return w.ConfirmAndDelete(ctx, messageID, reporterID)
}

func (w *Workflow) active(ctx context.Context, messageID, reporterID string) (*Record, error) {
	if messageID == "" || reporterID == "" {
		return nil, fmt.Errorf("%w: message id and reporter id are required", ErrValidation)
	}
	rec, err := w.store.FindActiveRecord(ctx, messageID, reporterID)
	if err != nil {
		return nil, storeErr("find active record", err)
	}
	if rec == nil {
		return nil, &NotFoundError{MessageID: messageID, ReporterID: reporterID}
	}
	return rec, nil
}
