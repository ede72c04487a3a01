package ban

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestStore creates a Store connected to a local Redis instance and
// flushes all mute and offense test keys before returning. Tests that call
// this helper require a running Redis on localhost:6379.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	clean := func() {
		for _, prefix := range []string{MutePrefix + "test_*", OffensesPrefix + "test_*"} {
			iter := client.Scan(ctx, 0, prefix, 100).Iterator()
			for iter.Next(ctx) {
				client.Del(ctx, iter.Val())
			}
		}
	}
	clean()
	t.Cleanup(func() {
		clean()
		client.Close()
	})
	return NewStore(client)
}

func TestMuteDuration(t *testing.T) {
	cases := []struct {
		count    int
		expected time.Duration
	}{
		{1, Mute15Min},
		{3, Mute15Min},
		{4, Mute1Hour},
		{5, Mute24Hour},
		{10, Mute24Hour},
	}
	for _, tc := range cases {
		if got := muteDuration(tc.count); got != tc.expected {
			t.Errorf("muteDuration(%d) = %v, want %v", tc.count, got, tc.expected)
		}
	}
}

func TestIsMuted_NotMuted(t *testing.T) {
	store := newTestStore(t)

	muted, remaining, reason, err := store.IsMuted(context.Background(), "test_no_mute")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if muted {
		t.Errorf("expected not muted, got muted (remaining=%d reason=%q)", remaining, reason)
	}
}

func TestMuteAndUnmute(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := "test_mute"

	if err := store.Mute(ctx, id, 30*time.Second, "spam"); err != nil {
		t.Fatalf("Mute() error: %v", err)
	}

	muted, remaining, reason, err := store.IsMuted(ctx, id)
	if err != nil {
		t.Fatalf("IsMuted() error: %v", err)
	}
	if !muted {
		t.Fatal("expected muted=true")
	}
	if reason != "spam" {
		t.Errorf("expected reason=%q, got %q", "spam", reason)
	}
	if remaining <= 0 || remaining > 30 {
		t.Errorf("expected remaining in (0,30], got %d", remaining)
	}

	if err := store.Unmute(ctx, id); err != nil {
		t.Fatalf("Unmute() error: %v", err)
	}
	muted, _, _, _ = store.IsMuted(ctx, id)
	if muted {
		t.Error("expected not muted after Unmute()")
	}
}

func TestRecordOffense_BelowThreshold(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := "test_offense_below"

	for i := 1; i < AutoMuteThreshold; i++ {
		muted, duration, err := store.RecordOffense(ctx, id, "auto_flagged")
		if err != nil {
			t.Fatalf("RecordOffense() error: %v", err)
		}
		if muted || duration != 0 {
			t.Errorf("offense %d: expected no mute, got muted=%v duration=%v", i, muted, duration)
		}
	}

	muted, _, _, _ := store.IsMuted(ctx, id)
	if muted {
		t.Error("sender should not be muted below the threshold")
	}
}

func TestRecordOffense_Escalates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := "test_offense_escalate"

	want := []time.Duration{0, 0, Mute15Min, Mute1Hour, Mute24Hour, Mute24Hour}
	for i, expected := range want {
		muted, duration, err := store.RecordOffense(ctx, id, "auto_flagged")
		if err != nil {
			t.Fatalf("RecordOffense() #%d error: %v", i+1, err)
		}
		if muted != (expected > 0) {
			t.Errorf("offense %d: muted=%v, want %v", i+1, muted, expected > 0)
		}
		if duration != expected {
			t.Errorf("offense %d: duration=%v, want %v", i+1, duration, expected)
		}
	}

	muted, _, reason, _ := store.IsMuted(ctx, id)
	if !muted {
		t.Fatal("expected muted after escalation")
	}
	if reason != "auto_flagged" {
		t.Errorf("expected reason=%q, got %q", "auto_flagged", reason)
	}

	count, err := store.GetOffenseCount(ctx, id)
	if err != nil {
		t.Fatalf("GetOffenseCount() error: %v", err)
	}
	if count != len(want) {
		t.Errorf("expected count=%d, got %d", len(want), count)
	}
}

func TestOffenseCounterTTL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := "test_offense_ttl"

	store.RecordOffense(ctx, id, "auto_flagged")

	ttl, err := store.client.TTL(ctx, OffensesPrefix+id).Result()
	if err != nil {
		t.Fatalf("TTL() error: %v", err)
	}
	if ttl < OffensesTTL-10*time.Second || ttl > OffensesTTL {
		t.Errorf("expected TTL ~%v, got %v", OffensesTTL, ttl)
	}
}

func TestGetOffenseCount_None(t *testing.T) {
	store := newTestStore(t)

	count, err := store.GetOffenseCount(context.Background(), "test_no_offenses")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 offenses, got %d", count)
	}
}
