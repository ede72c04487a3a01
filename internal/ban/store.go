// Package ban provides sender mutes backed by Redis. Senders whose messages
// keep getting auto-flagged are muted for an escalating duration; a muted
// sender's messages are rejected before classification.
//
//	Key:   mute:<sender_id>      Value: <reason>   TTL: mute duration
//	Key:   offenses:<sender_id>  Value: <count>    TTL: OffensesTTL
package ban

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// MutePrefix is the Redis key prefix for mute records.
	MutePrefix = "mute:"

	// OffensesPrefix is the Redis key prefix for auto-flag counters.
	OffensesPrefix = "offenses:"

	// Escalating mute durations.
	Mute15Min  = 15 * time.Minute // threshold reached
	Mute1Hour  = 1 * time.Hour    // one more offense
	Mute24Hour = 24 * time.Hour   // beyond that

	// OffensesTTL is how long the offense counter lives. The window is fixed
	// from the first offense and does not slide.
	OffensesTTL = 24 * time.Hour

	// AutoMuteThreshold is the number of auto-flags within OffensesTTL that
	// mutes a sender.
	AutoMuteThreshold = 3
)

// Store manages mute records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a new mute store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// IsMuted checks if a sender is currently muted.
// Returns (isMuted, remainingSeconds, reason, error). Redis errors are
// returned so callers can decide how to handle them; the moderator fails
// open.
func (s *Store) IsMuted(ctx context.Context, senderID string) (bool, int, string, error) {
	key := MutePrefix + senderID

	reason, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, 0, "", nil
	}
	if err != nil {
		return false, 0, "", err
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		// The mute exists but the TTL is unreadable; still report it.
		return true, 0, reason, nil
	}

	remaining := 0
	if ttl > 0 {
		remaining = int(ttl.Seconds())
	}
	return true, remaining, reason, nil
}

// Mute mutes a sender for duration.
func (s *Store) Mute(ctx context.Context, senderID string, duration time.Duration, reason string) error {
	return s.client.Set(ctx, MutePrefix+senderID, reason, duration).Err()
}

// Unmute lifts a mute immediately.
func (s *Store) Unmute(ctx context.Context, senderID string) error {
	return s.client.Del(ctx, MutePrefix+senderID).Err()
}

// muteDuration returns the mute length for a given offense count.
func muteDuration(offenseCount int) time.Duration {
	switch {
	case offenseCount <= AutoMuteThreshold:
		return Mute15Min
	case offenseCount == AutoMuteThreshold+1:
		return Mute1Hour
	default:
		return Mute24Hour
	}
}

// GetOffenseCount returns the current offense counter for a sender, or 0 if
// none is recorded.
func (s *Store) GetOffenseCount(ctx context.Context, senderID string) (int, error) {
	val, err := s.client.Get(ctx, OffensesPrefix+senderID).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

// RecordOffense counts one auto-flag against senderID. Once the count
// reaches AutoMuteThreshold inside the window the sender is muted:
//
//	3rd offense  -> 15 minutes
//	4th offense  -> 1 hour
//	5th+ offense -> 24 hours
//
// Returns (muted, duration, error).
func (s *Store) RecordOffense(ctx context.Context, senderID, reason string) (bool, time.Duration, error) {
	key := OffensesPrefix + senderID

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ban: offense incr: %w", err)
	}

	// Set TTL only on first increment so the window doesn't slide.
	if count == 1 {
		if err := s.client.Expire(ctx, key, OffensesTTL).Err(); err != nil {
			return false, 0, fmt.Errorf("ban: offense expire: %w", err)
		}
	}

	if count < AutoMuteThreshold {
		return false, 0, nil
	}

	duration := muteDuration(int(count))
	if err := s.Mute(ctx, senderID, duration, reason); err != nil {
		return false, 0, fmt.Errorf("ban: offense mute: %w", err)
	}
	return true, duration, nil
}
