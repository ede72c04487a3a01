package moderation

import (
	"strings"
	"time"
)

const (
	// MaxScore is the score that maps to full confidence.
	MaxScore = 100

	// SpamThreshold is the confidence at or above which a message is spam.
	SpamThreshold = 0.5

	// ReasonRepeated is attached when the repetition tracker contributes.
	ReasonRepeated = "repeated message"
)

// Verdict is the outcome of classifying one message. Reasons and Triggers
// are parallel slices.
type Verdict struct {
	IsSpam     bool      `json:"is_spam"`
	Confidence float64   `json:"confidence"`
	Score      int       `json:"score"`
	Reasons    []string  `json:"reasons"`
	Triggers   []Trigger `json:"triggers"`
}

// JoinedReasons renders the reasons the way moderation records store them.
func (v Verdict) JoinedReasons() string {
	return strings.Join(v.Reasons, "; ")
}

// Classifier combines the pattern library and the repetition tracker.
type Classifier struct {
	patterns   *PatternLibrary
	repetition *RepetitionTracker
	now        func() time.Time
}

// ClassifierOption customises a Classifier.
type ClassifierOption func(*Classifier)

// WithClock replaces time.Now for repetition scoring.
func WithClock(now func() time.Time) ClassifierOption {
	return func(c *Classifier) { c.now = now }
}

// NewClassifier creates a classifier. A nil patterns or repetition argument
// selects the default catalogue or a fresh tracker respectively.
func NewClassifier(patterns *PatternLibrary, repetition *RepetitionTracker, opts ...ClassifierOption) *Classifier {
	if patterns == nil {
		patterns = NewPatternLibrary()
	}
	if repetition == nil {
		repetition = NewRepetitionTracker()
	}
	c := &Classifier{
		patterns:   patterns,
		repetition: repetition,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Repetition exposes the tracker so callers can run its periodic sweep.
func (c *Classifier) Repetition() *RepetitionTracker {
	return c.repetition
}

// Classify scores content. An empty senderID skips repetition tracking.
// Blank content is never spam and is not tracked.
func (c *Classifier) Classify(content, senderID string) Verdict {
	if strings.TrimSpace(content) == "" {
		return Verdict{}
	}

	var v Verdict
	for _, f := range c.patterns.Evaluate(content) {
		v.Score += f.Weight
		v.Reasons = append(v.Reasons, f.Reason)
		v.Triggers = append(v.Triggers, f.Trigger)
	}

	if senderID != "" {
		if w := c.repetition.Score(content, senderID, c.now()); w > 0 {
			v.Score += w
			v.Reasons = append(v.Reasons, ReasonRepeated)
			v.Triggers = append(v.Triggers, TriggerRepetition)
		}
	}

	v.Confidence = float64(v.Score) / MaxScore
	if v.Confidence > 1 {
		v.Confidence = 1
	}
	v.IsSpam = v.Confidence >= SpamThreshold
	return v
}
