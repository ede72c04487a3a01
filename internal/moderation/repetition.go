package moderation

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	// RepetitionPrefixRunes is how much of a message identifies it as a
	// near-duplicate of an earlier one.
	RepetitionPrefixRunes = 50

	// RepetitionHorizon is how long an idle key is remembered.
	RepetitionHorizon = 10 * time.Minute

	WeightFlood         = 30
	WeightQuickRepeat   = 20
	floodMinCount       = 3
	floodWindow         = 5 * time.Minute
	quickRepeatMinCount = 2
	quickRepeatWindow   = time.Minute

	repetitionShards = 32
)

type repetitionKey struct {
	sender string
	prefix string
}

type repetitionState struct {
	count      int
	lastSeenAt time.Time
}

// repetitionShard guards the entries of the senders hashed onto it.
type repetitionShard struct {
	mu      sync.Mutex
	entries map[repetitionKey]*repetitionState
}

// RepetitionTracker counts near-identical messages per sender in a sliding
// window. Senders are spread over independently locked shards so that the
// count update for one key is atomic while different senders rarely contend.
type RepetitionTracker struct {
	shards [repetitionShards]repetitionShard
}

// NewRepetitionTracker creates an empty tracker.
func NewRepetitionTracker() *RepetitionTracker {
	t := &RepetitionTracker{}
	for i := range t.shards {
		t.shards[i].entries = make(map[repetitionKey]*repetitionState)
	}
	return t
}

// Score records one message from senderID at now and returns the repetition
// weight it earns:
//
//	3rd+ repeat less than 5 minutes after the previous one -> 30
//	2nd+ repeat less than 1 minute after the previous one  -> 20
//	anything else                                          -> 0
//
// Every call also evicts entries on the sender's shard that have been idle
// for longer than RepetitionHorizon.
func (t *RepetitionTracker) Score(content, senderID string, now time.Time) int {
	key := repetitionKey{sender: senderID, prefix: contentPrefix(content)}
	shard := t.shardFor(senderID)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	shard.evict(now)

	st, ok := shard.entries[key]
	if !ok {
		shard.entries[key] = &repetitionState{count: 1, lastSeenAt: now}
		return 0
	}

	elapsed := now.Sub(st.lastSeenAt)
	st.count++
	st.lastSeenAt = now

	switch {
	case st.count >= floodMinCount && elapsed < floodWindow:
		return WeightFlood
	case st.count >= quickRepeatMinCount && elapsed < quickRepeatWindow:
		return WeightQuickRepeat
	default:
		return 0
	}
}

// Sweep evicts idle entries from every shard and returns how many were
// removed.
func (t *RepetitionTracker) Sweep(now time.Time) int {
	removed := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		removed += s.evict(now)
		s.mu.Unlock()
	}
	return removed
}

// Run sweeps every interval until ctx is done. Traffic already drives
// eviction; this only matters for senders that went quiet.
func (t *RepetitionTracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.Sweep(now)
		}
	}
}

// Len returns the number of tracked keys.
func (t *RepetitionTracker) Len() int {
	n := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

func (t *RepetitionTracker) shardFor(senderID string) *repetitionShard {
	return &t.shards[xxhash.Sum64String(senderID)%repetitionShards]
}

// evict must be called with s.mu held.
func (s *repetitionShard) evict(now time.Time) int {
	removed := 0
	for k, st := range s.entries {
		if now.Sub(st.lastSeenAt) >= RepetitionHorizon {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

func contentPrefix(content string) string {
	content = strings.TrimSpace(content)
	n := 0
	for i := range content {
		if n == RepetitionPrefixRunes {
			return content[:i]
		}
		n++
	}
	return content
}
