package moderation_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/spamguard/internal/moderation"
	"github.com/whisper/spamguard/internal/moderation/moderationtest"
)

var errBoom = errors.New("boom")

func spamVerdict() moderation.Verdict {
	return moderation.Verdict{
		IsSpam:     true,
		Confidence: 0.8,
		Score:      80,
		Reasons:    []string{"crypto scam phrasing: free bitcoin", "high-risk keyword: giveaway"},
		Triggers:   []moderation.Trigger{moderation.TriggerPattern, moderation.TriggerPattern},
	}
}

func newWorkflow(t *testing.T) (*moderation.Workflow, *moderationtest.MemStore) {
	t.Helper()
	store := moderationtest.NewMemStore()
	for i := 1; i <= 5; i++ {
		store.AddMessage(fmt.Sprintf("msg-%d", i), "spammer")
	}
	return moderation.NewWorkflow(store), store
}

func TestAutoFlag(t *testing.T) {
	w, store := newWorkflow(t)
	ctx := context.Background()

	created, err := w.AutoFlag(ctx, "msg-1", "conv-1", spamVerdict())
	require.NoError(t, err)
	assert.True(t, created)

	recs := store.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, moderation.SpamTypeAutoDetected, recs[0].SpamType)
	assert.Equal(t, moderation.StatusFlagged, recs[0].Status)
	assert.Equal(t, moderation.DefaultSystemReporterID, recs[0].ReporterID)
	assert.Equal(t, "conv-1", recs[0].ConversationID)
	assert.Equal(t, 0.8, recs[0].ConfidenceScore)
	assert.Equal(t, "crypto scam phrasing: free bitcoin; high-risk keyword: giveaway", recs[0].Reasons)

	msg, _ := store.Message("msg-1")
	assert.True(t, msg.IsSpam)
}

func TestAutoFlag_Idempotent(t *testing.T) {
	w, store := newWorkflow(t)
	ctx := context.Background()

	_, err := w.AutoFlag(ctx, "msg-1", "conv-1", spamVerdict())
	require.NoError(t, err)

	before, err := store.ListFlaggedRecords(ctx, w.SystemReporterID())
	require.NoError(t, err)

	created, err := w.AutoFlag(ctx, "msg-1", "conv-1", spamVerdict())
	require.NoError(t, err)
	assert.False(t, created)

	after, err := store.ListFlaggedRecords(ctx, w.SystemReporterID())
	require.NoError(t, err)
	assert.Len(t, after, len(before))
}

func TestAutoFlag_IgnoresCleanVerdict(t *testing.T) {
	w, store := newWorkflow(t)

	created, err := w.AutoFlag(context.Background(), "msg-1", "conv-1", moderation.Verdict{Confidence: 0.2})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Empty(t, store.Records())
	assert.Zero(t, store.Calls(moderationtest.OpFindActiveRecord))
}

func TestAutoFlag_CustomSystemReporter(t *testing.T) {
	store := moderationtest.NewMemStore()
	store.AddMessage("m", "s")
	w := moderation.NewWorkflow(store, moderation.WithSystemReporterID("bot:guard"))

	_, err := w.AutoFlag(context.Background(), "m", "c", spamVerdict())
	require.NoError(t, err)
	assert.Equal(t, "bot:guard", store.Records()[0].ReporterID)
}

func TestAutoFlag_RetryAfterInsertFailure(t *testing.T) {
	w, store := newWorkflow(t)
	ctx := context.Background()

	store.FailWith(func(op, _ string) error {
		if op == moderationtest.OpInsertRecord {
			return errBoom
		}
		return nil
	})
	_, err := w.AutoFlag(ctx, "msg-1", "conv-1", spamVerdict())
	var se *moderation.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "insert record", se.Op)
	assert.ErrorIs(t, err, errBoom)

	store.FailWith(nil)
	created, err := w.AutoFlag(ctx, "msg-1", "conv-1", spamVerdict())
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, store.Records(), 1)
}

func TestReportByUser(t *testing.T) {
	w, store := newWorkflow(t)
	ctx := context.Background()

	created, err := w.ReportByUser(ctx, "msg-1", "conv-1", "alice", "scam link")
	require.NoError(t, err)
	assert.True(t, created)

	recs := store.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, moderation.SpamTypeUserReported, recs[0].SpamType)
	assert.Equal(t, 1.0, recs[0].ConfidenceScore)
	assert.Equal(t, "alice", recs[0].ReporterID)
	assert.Equal(t, "scam link", recs[0].Reasons)

	msg, _ := store.Message("msg-1")
	assert.True(t, msg.IsSpam)
}

func TestReportByUser_DuplicateIsSuccess(t *testing.T) {
	w, store := newWorkflow(t)
	ctx := context.Background()

	_, err := w.ReportByUser(ctx, "msg-1", "conv-1", "alice", "spam")
	require.NoError(t, err)

	created, err := w.ReportByUser(ctx, "msg-1", "conv-1", "alice", "spam again")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, store.Records(), 1)

	// A different reporter gets their own record.
	created, err = w.ReportByUser(ctx, "msg-1", "conv-1", "bob", "spam")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, store.Records(), 2)
}

// lostRaceStore hides active records from FindActiveRecord, as if another
// writer inserted between the lookup and the insert.
type lostRaceStore struct {
	*moderationtest.MemStore
}

func (lostRaceStore) FindActiveRecord(context.Context, string, string) (*moderation.Record, error) {
	return nil, nil
}

func TestReportByUser_ConcurrentInsertIsNotCreated(t *testing.T) {
	store := moderationtest.NewMemStore()
	store.AddMessage("msg-1", "spammer")
	w := moderation.NewWorkflow(lostRaceStore{store})
	ctx := context.Background()

	created, err := w.ReportByUser(ctx, "msg-1", "conv-1", "alice", "spam")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = w.ReportByUser(ctx, "msg-1", "conv-1", "alice", "spam")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, store.Records(), 1)
}

func TestUpdateRecordStatus_TerminalRecordIsNotFound(t *testing.T) {
	w, store := newWorkflow(t)
	ctx := context.Background()

	_, err := w.ReportByUser(ctx, "msg-1", "conv-1", "alice", "spam")
	require.NoError(t, err)
	require.NoError(t, w.Dismiss(ctx, "msg-1", "alice"))

	id := store.Records()[0].ID
	err = store.UpdateRecordStatus(ctx, id, moderation.StatusConfirmed)
	assert.ErrorIs(t, err, moderation.ErrNotFound)
	assert.Equal(t, moderation.StatusDismissed, store.Records()[0].Status)
}

func TestReportByUser_Validation(t *testing.T) {
	w, _ := newWorkflow(t)

	_, err := w.ReportByUser(context.Background(), "msg-1", "conv-1", "", "spam")
	assert.ErrorIs(t, err, moderation.ErrValidation)
}

func TestDismiss(t *testing.T) {
	w, store := newWorkflow(t)
	ctx := context.Background()

	_, err := w.ReportByUser(ctx, "msg-1", "conv-1", "alice", "spam")
	require.NoError(t, err)

	require.NoError(t, w.Dismiss(ctx, "msg-1", "alice"))

	recs := store.Records()
	assert.Equal(t, moderation.StatusDismissed, recs[0].Status)
	msg, _ := store.Message("msg-1")
	assert.False(t, msg.IsSpam)

	err = w.Dismiss(ctx, "msg-1", "alice")
	var nf *moderation.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "msg-1", nf.MessageID)
	assert.ErrorIs(t, err, moderation.ErrNotFound)
}

func TestDismiss_WrongReporter(t *testing.T) {
	w, _ := newWorkflow(t)
	ctx := context.Background()

	_, err := w.ReportByUser(ctx, "msg-1", "conv-1", "alice", "spam")
	require.NoError(t, err)

	assert.ErrorIs(t, w.Dismiss(ctx, "msg-1", "bob"), moderation.ErrNotFound)
}

func TestDismissedRecordCanBeReflagged(t *testing.T) {
	w, store := newWorkflow(t)
	ctx := context.Background()

	_, err := w.ReportByUser(ctx, "msg-1", "conv-1", "alice", "spam")
	require.NoError(t, err)
	require.NoError(t, w.Dismiss(ctx, "msg-1", "alice"))

	created, err := w.ReportByUser(ctx, "msg-1", "conv-1", "alice", "spam after all")
	require.NoError(t, err)
	assert.True(t, created)

	recs := store.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, moderation.StatusDismissed, recs[0].Status, "old record stays terminal")
	assert.Equal(t, moderation.StatusFlagged, recs[1].Status)
}

func TestConfirmAndDelete(t *testing.T) {
	w, store := newWorkflow(t)
	ctx := context.Background()

	_, err := w.ReportByUser(ctx, "msg-2", "conv-1", "alice", "spam")
	require.NoError(t, err)

	require.NoError(t, w.ConfirmAndDelete(ctx, "msg-2", "alice"))

	msg, _ := store.Message("msg-2")
	assert.True(t, msg.Deleted)
	assert.Equal(t, moderation.StatusConfirmed, store.Records()[0].Status)

	// Confirmed is terminal.
	assert.ErrorIs(t, w.Dismiss(ctx, "msg-2", "alice"), moderation.ErrNotFound)
	assert.ErrorIs(t, w.ConfirmAndDelete(ctx, "msg-2", "alice"), moderation.ErrNotFound)
}

func TestConfirmAndDelete_NotFound(t *testing.T) {
	w, _ := newWorkflow(t)

	err := w.ConfirmAndDelete(context.Background(), "msg-1", "alice")
	assert.ErrorIs(t, err, moderation.ErrNotFound)
}

func TestDeleteAll(t *testing.T) {
	w, store := newWorkflow(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := w.ReportByUser(ctx, fmt.Sprintf("msg-%d", i), "conv-1", "alice", "spam")
		require.NoError(t, err)
	}
	_, err := w.ReportByUser(ctx, "msg-4", "conv-1", "bob", "spam")
	require.NoError(t, err)

	n, err := w.DeleteAll(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, rec := range store.Records() {
		msg, _ := store.Message(rec.MessageID)
		if rec.ReporterID == "alice" {
			assert.Equal(t, moderation.StatusConfirmed, rec.Status)
			assert.True(t, msg.Deleted)
		} else {
			assert.Equal(t, moderation.StatusFlagged, rec.Status)
			assert.False(t, msg.Deleted)
		}
	}
}

func TestDeleteAll_Empty(t *testing.T) {
	w, _ := newWorkflow(t)

	n, err := w.DeleteAll(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteAll_PartialFailure(t *testing.T) {
	tests := []struct {
		name        string
		failOp      string
		wantDeleted bool
	}{
		{"delete fails", moderationtest.OpSetDeleted, false},
		{"confirm fails", moderationtest.OpUpdateStatus, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, store := newWorkflow(t)
			ctx := context.Background()

			for i := 1; i <= 5; i++ {
				_, err := w.ReportByUser(ctx, fmt.Sprintf("msg-%d", i), "conv-1", "alice", "spam")
				require.NoError(t, err)
			}
			third := store.Records()[2]

			store.FailWith(func(op, key string) error {
				if op != tt.failOp {
					return nil
				}
				if key == third.ID || key == third.MessageID {
					return errBoom
				}
				return nil
			})

			n, err := w.DeleteAll(ctx, "alice")
			assert.Equal(t, 4, n)

			var pf *moderation.PartialFailureError
			require.ErrorAs(t, err, &pf)
			assert.Equal(t, []string{third.ID}, pf.FailedIDs())
			assert.Len(t, pf.Confirmed, 4)
			assert.ErrorIs(t, err, errBoom)

			for _, rec := range store.Records() {
				msg, _ := store.Message(rec.MessageID)
				if rec.ID == third.ID {
					assert.Equal(t, moderation.StatusFlagged, rec.Status)
					assert.Equal(t, tt.wantDeleted, msg.Deleted)
					continue
				}
				assert.Equal(t, moderation.StatusConfirmed, rec.Status)
				assert.True(t, msg.Deleted)
			}

			// Retrying only touches what is still flagged.
			store.FailWith(nil)
			n, err = w.DeleteAll(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			msg, _ := store.Message(third.MessageID)
			assert.True(t, msg.Deleted)
		})
	}
}

func TestDeleteAll_FailedConfirmKeepsSharedMessageDeleted(t *testing.T) {
	w, store := newWorkflow(t)
	ctx := context.Background()

	_, err := w.ReportByUser(ctx, "msg-1", "conv-1", "alice", "spam")
	require.NoError(t, err)
	_, err = w.ReportByUser(ctx, "msg-1", "conv-1", "bob", "spam")
	require.NoError(t, err)
	require.NoError(t, w.ConfirmAndDelete(ctx, "msg-1", "alice"))

	bobs, err := store.ListFlaggedRecords(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, bobs, 1)
	store.FailWith(func(op, key string) error {
		if op == moderationtest.OpUpdateStatus && key == bobs[0].ID {
			return errBoom
		}
		return nil
	})

	_, err = w.DeleteAll(ctx, "bob")
	var pf *moderation.PartialFailureError
	require.ErrorAs(t, err, &pf)

	// Alice's confirmed record still points at a deleted message.
	msg, _ := store.Message("msg-1")
	assert.True(t, msg.Deleted)
	for _, rec := range store.Records() {
		if rec.ReporterID == "alice" {
			assert.Equal(t, moderation.StatusConfirmed, rec.Status)
		} else {
			assert.Equal(t, moderation.StatusFlagged, rec.Status)
		}
	}
	assert.Equal(t, 2, store.Calls(moderationtest.OpSetDeleted), "no restore after a failed confirm")
}

func TestDeleteAll_ListFailure(t *testing.T) {
	w, store := newWorkflow(t)
	store.FailWith(func(op, _ string) error {
		if op == moderationtest.OpListFlagged {
			return errBoom
		}
		return nil
	})

	_, err := w.DeleteAll(context.Background(), "alice")
	var se *moderation.StoreError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, errBoom)
}

func TestBlockSender(t *testing.T) {
	w, store := newWorkflow(t)
	ctx := context.Background()

	_, err := w.ReportByUser(ctx, "msg-1", "conv-1", "alice", "spam")
	require.NoError(t, err)
	_, err = w.ReportByUser(ctx, "msg-2", "conv-1", "alice", "spam")
	require.NoError(t, err)

	require.NoError(t, w.BlockSender(ctx, "msg-1", "alice"))
	assert.True(t, store.Blocked("alice", "spammer"))

	msg, _ := store.Message("msg-1")
	assert.True(t, msg.Deleted)

	// Already blocked is tolerated.
	require.NoError(t, w.BlockSender(ctx, "msg-2", "alice"))
	msg, _ = store.Message("msg-2")
	assert.True(t, msg.Deleted)
	assert.Equal(t, 2, store.Calls(moderationtest.OpInsertBlock))
}

func TestBlockSender_Self(t *testing.T) {
	w, store := newWorkflow(t)

	err := w.BlockSender(context.Background(), "msg-1", "spammer")
	assert.ErrorIs(t, err, moderation.ErrValidation)
	assert.False(t, store.Blocked("spammer", "spammer"))
}

func TestBlockSender_UnknownMessage(t *testing.T) {
	w, _ := newWorkflow(t)

	err := w.BlockSender(context.Background(), "missing", "alice")
	var se *moderation.StoreError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, moderation.ErrNotFound)
}

func TestStoreErrorsPropagate(t *testing.T) {
	w, store := newWorkflow(t)
	ctx := context.Background()

	_, err := w.ReportByUser(ctx, "msg-1", "conv-1", "alice", "spam")
	require.NoError(t, err)

	store.FailWith(func(op, _ string) error {
		if op == moderationtest.OpSetSpamFlag {
			return errBoom
		}
		return nil
	})
	err = w.Dismiss(ctx, "msg-1", "alice")
	assert.ErrorIs(t, err, errBoom)

	// The record is untouched so the dismiss can be retried.
	assert.Equal(t, moderation.StatusFlagged, store.Records()[0].Status)
	store.FailWith(nil)
	require.NoError(t, w.Dismiss(ctx, "msg-1", "alice"))
}
