// Package moderationtest provides an in-memory moderation.Store with
// failure injection for tests.
package moderationtest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/whisper/spamguard/internal/moderation"
)

// Store operation names passed to FailFunc.
const (
	OpInsertRecord     = "insert_record"
	OpFindActiveRecord = "find_active_record"
	OpUpdateStatus     = "update_status"
	OpSetSpamFlag      = "set_spam_flag"
	OpSetDeleted       = "set_deleted"
	OpGetSender        = "get_sender"
	OpInsertBlock      = "insert_block"
	OpListFlagged      = "list_flagged"
)

// Message is the store's view of one chat message.
type Message struct {
	ID       string
	SenderID string
	IsSpam   bool
	Deleted  bool
}

// FailFunc decides whether a store call fails. key is the record id for
// record operations and the message id for message operations.
type FailFunc func(op, key string) error

// MemStore is a goroutine-safe in-memory moderation.Store.
type MemStore struct {
	mu       sync.Mutex
	seq      int
	records  map[string]*moderation.Record
	order    []string
	messages map[string]*Message
	blocks   map[[2]string]bool
	fail     FailFunc
	calls    map[string]int
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		records:  make(map[string]*moderation.Record),
		messages: make(map[string]*Message),
		blocks:   make(map[[2]string]bool),
		calls:    make(map[string]int),
	}
}

// AddMessage registers a message sent by senderID.
func (s *MemStore) AddMessage(id, senderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[id] = &Message{ID: id, SenderID: senderID}
}

// Message returns a copy of the stored message.
func (s *MemStore) Message(id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return Message{}, false
	}
	return *m, true
}

// Records returns copies of every record in insertion order.
func (s *MemStore) Records() []moderation.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]moderation.Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.records[id])
	}
	return out
}

// Blocked reports whether blocker has blocked blocked.
func (s *MemStore) Blocked(blocker, blocked string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocks[[2]string{blocker, blocked}]
}

// Calls returns how many times op was invoked.
func (s *MemStore) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// FailWith installs f; nil clears failure injection.
func (s *MemStore) FailWith(f FailFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = f
}

// must be called with s.mu held.
func (s *MemStore) check(op, key string) error {
	s.calls[op]++
	if s.fail == nil {
		return nil
	}
	return s.fail(op, key)
}

// InsertModerationRecord enforces one flagged record per message and
// reporter, like the unique index in the Postgres schema.
func (s *MemStore) InsertModerationRecord(_ context.Context, rec *moderation.Record) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpInsertRecord, rec.MessageID); err != nil {
		return "", false, err
	}
	for _, id := range s.order {
		r := s.records[id]
		if r.MessageID == rec.MessageID && r.ReporterID == rec.ReporterID && r.Status == moderation.StatusFlagged {
			return r.ID, false, nil
		}
	}
	s.seq++
	cp := *rec
	cp.ID = "rec-" + strconv.Itoa(s.seq)
	cp.CreatedAt = time.Now()
	s.records[cp.ID] = &cp
	s.order = append(s.order, cp.ID)
	return cp.ID, true, nil
}

func (s *MemStore) FindActiveRecord(_ context.Context, messageID, reporterID string) (*moderation.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpFindActiveRecord, messageID); err != nil {
		return nil, err
	}
	for _, id := range s.order {
		r := s.records[id]
		if r.MessageID == messageID && r.ReporterID == reporterID && r.Status == moderation.StatusFlagged {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemStore) UpdateRecordStatus(_ context.Context, recordID string, status moderation.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpUpdateStatus, recordID); err != nil {
		return err
	}
	r, ok := s.records[recordID]
	if !ok || r.Status != moderation.StatusFlagged {
		return fmt.Errorf("flagged record %s: %w", recordID, moderation.ErrNotFound)
	}
	r.Status = status
	return nil
}

func (s *MemStore) SetMessageSpamFlag(_ context.Context, messageID string, spam bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpSetSpamFlag, messageID); err != nil {
		return err
	}
	m, ok := s.messages[messageID]
	if !ok {
		return fmt.Errorf("message %s: %w", messageID, moderation.ErrNotFound)
	}
	m.IsSpam = spam
	return nil
}

func (s *MemStore) SetMessageDeleted(_ context.Context, messageID string, deleted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpSetDeleted, messageID); err != nil {
		return err
	}
	m, ok := s.messages[messageID]
	if !ok {
		return fmt.Errorf("message %s: %w", messageID, moderation.ErrNotFound)
	}
	m.Deleted = deleted
	return nil
}

func (s *MemStore) GetMessageSender(_ context.Context, messageID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpGetSender, messageID); err != nil {
		return "", err
	}
	m, ok := s.messages[messageID]
	if !ok {
		return "", fmt.Errorf("message %s: %w", messageID, moderation.ErrNotFound)
	}
	return m.SenderID, nil
}

func (s *MemStore) InsertBlock(_ context.Context, blockerID, blockedID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpInsertBlock, blockerID); err != nil {
		return false, err
	}
	key := [2]string{blockerID, blockedID}
	if s.blocks[key] {
		return false, nil
	}
	s.blocks[key] = true
	return true, nil
}

func (s *MemStore) ListFlaggedRecords(_ context.Context, reporterID string) ([]moderation.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpListFlagged, reporterID); err != nil {
		return nil, err
	}
	var out []moderation.Record
	for _, id := range s.order {
		r := s.records[id]
		if r.ReporterID == reporterID && r.Status == moderation.StatusFlagged {
			out = append(out, *r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

var _ moderation.Store = (*MemStore)(nil)
