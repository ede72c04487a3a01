// Package moderator is the NATS-facing service around the moderation engine.
// It decodes check and action payloads, consults sender mutes and report
// rate limits, drives the classifier and workflow, and records metrics.
package moderator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/whisper/spamguard/internal/metrics"
	"github.com/whisper/spamguard/internal/moderation"
	"github.com/whisper/spamguard/internal/ratelimit"
)

const (
	MaxTextBytes = 4096
	MaxTextChars = 2000

	// ReasonSenderMuted is the CheckResult reason for muted senders.
	ReasonSenderMuted = "sender_muted"

	DefaultStoreTimeout = 5 * time.Second
	DefaultBatchTimeout = 30 * time.Second
)

// MuteStore tracks per-sender offenses and mutes. Implemented by ban.Store.
type MuteStore interface {
	IsMuted(ctx context.Context, senderID string) (bool, int, string, error)
	RecordOffense(ctx context.Context, senderID, reason string) (bool, time.Duration, error)
}

// Limiter throttles user-triggered actions. Implemented by ratelimit.Limiter.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// ResultPublisher delivers check results. Implemented by
// messaging.NATSClient.
type ResultPublisher interface {
	PublishModerationResult(conversationID string, data []byte) error
}

// Service handles moderation.check and moderation.action traffic.
type Service struct {
	classifier   *moderation.Classifier
	workflow     *moderation.Workflow
	publisher    ResultPublisher
	mutes        MuteStore
	limiter      Limiter
	log          *zap.Logger
	storeTimeout time.Duration
	batchTimeout time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithMutes enables sender mutes. Without it every sender is treated as
// unmuted and offenses are not counted.
func WithMutes(m MuteStore) Option {
	return func(s *Service) { s.mutes = m }
}

// WithLimiter enables rate limiting of reports and bulk deletes.
func WithLimiter(l Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithLogger sets the service logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithStoreTimeout bounds each workflow call made on behalf of one request.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithBatchTimeout bounds a whole delete_all batch.
func WithBatchTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.batchTimeout = d
		}
	}
}

// NewService wires the classifier and workflow to a result publisher.
func NewService(classifier *moderation.Classifier, workflow *moderation.Workflow, publisher ResultPublisher, opts ...Option) *Service {
	s := &Service{
		classifier:   classifier,
		workflow:     workflow,
		publisher:    publisher,
		log:          zap.NewNop(),
		storeTimeout: DefaultStoreTimeout,
		batchTimeout: DefaultBatchTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("moderator")
	return s
}

// ValidateCheck rejects check requests that cannot be attributed or whose
// text could not have come through the message pipeline.
func ValidateCheck(req *moderation.CheckRequest) error {
	if req.MessageID == "" || req.ConversationID == "" {
		return fmt.Errorf("%w: message_id and conversation_id are required", moderation.ErrValidation)
	}
	if len(req.Text) > MaxTextBytes {
		return fmt.Errorf("%w: text exceeds %d byte limit", moderation.ErrValidation, MaxTextBytes)
	}
	if !utf8.ValidString(req.Text) {
		return fmt.Errorf("%w: text contains invalid UTF-8", moderation.ErrValidation)
	}
	if utf8.RuneCountInString(req.Text) > MaxTextChars {
		return fmt.Errorf("%w: text exceeds %d character limit", moderation.ErrValidation, MaxTextChars)
	}
	return nil
}

// HandleCheck processes one moderation.check payload. Malformed payloads
// are logged and dropped. Store and Redis failures are logged; the result
// is still published.
func (s *Service) HandleCheck(ctx context.Context, data []byte) {
	var req moderation.CheckRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.log.Warn("malformed check request", zap.Error(err))
		return
	}
	if err := ValidateCheck(&req); err != nil {
		s.log.Warn("invalid check request",
			zap.String("message_id", req.MessageID),
			zap.Error(err))
		return
	}

	if s.senderMuted(ctx, req.SenderID) {
		metrics.MessagesChecked.WithLabelValues("muted").Inc()
		s.publish(moderation.CheckResult{
			MessageID:      req.MessageID,
			ConversationID: req.ConversationID,
			SenderID:       req.SenderID,
			Blocked:        true,
			Reason:         ReasonSenderMuted,
		})
		return
	}

	start := time.Now()
	verdict := s.classifier.Classify(req.Text, req.SenderID)
	metrics.ClassifyLatency.Observe(time.Since(start).Seconds())
	metrics.RepetitionKeys.Set(float64(s.classifier.Repetition().Len()))

	result := moderation.CheckResult{
		MessageID:      req.MessageID,
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		IsSpam:         verdict.IsSpam,
		Confidence:     verdict.Confidence,
		Score:          verdict.Score,
		Reasons:        verdict.Reasons,
		Reason:         verdict.JoinedReasons(),
	}

	if !verdict.IsSpam {
		metrics.MessagesChecked.WithLabelValues("clean").Inc()
		s.publish(result)
		return
	}
	metrics.MessagesChecked.WithLabelValues("spam").Inc()

	flagged, err := s.autoFlag(ctx, &req, verdict)
	if err != nil {
		s.log.Error("auto flag failed",
			zap.String("message_id", req.MessageID),
			zap.Error(err))
	}
	result.Flagged = flagged
	if flagged {
		// Redelivered checks find the record already filed and count nothing.
		metrics.FlagsTotal.WithLabelValues(string(moderation.SpamTypeAutoDetected)).Inc()
		s.recordOffense(ctx, req.SenderID, result.Reason)
	}

	s.publish(result)
}

func (s *Service) autoFlag(ctx context.Context, req *moderation.CheckRequest, v moderation.Verdict) (flagged bool, err error) {
	err = s.run(ctx, func(ctx context.Context) error {
		flagged, err = s.workflow.AutoFlag(ctx, req.MessageID, req.ConversationID, v)
		return err
	})
	return flagged, err
}

// senderMuted fails open on Redis errors.
func (s *Service) senderMuted(ctx context.Context, senderID string) bool {
	if s.mutes == nil || senderID == "" {
		return false
	}
	muted, remaining, reason, err := s.mutes.IsMuted(ctx, senderID)
	if err != nil {
		s.log.Warn("mute lookup failed, failing open",
			zap.String("sender_id", senderID),
			zap.Error(err))
		return false
	}
	if muted {
		s.log.Debug("sender muted",
			zap.String("sender_id", senderID),
			zap.Int("remaining_seconds", remaining),
			zap.String("reason", reason))
	}
	return muted
}

func (s *Service) recordOffense(ctx context.Context, senderID, reason string) {
	if s.mutes == nil || senderID == "" {
		return
	}
	muted, duration, err := s.mutes.RecordOffense(ctx, senderID, reason)
	if err != nil {
		s.log.Warn("record offense failed",
			zap.String("sender_id", senderID),
			zap.Error(err))
		return
	}
	if muted {
		s.log.Info("sender auto-muted",
			zap.String("sender_id", senderID),
			zap.Duration("duration", duration))
	}
}

func (s *Service) publish(result moderation.CheckResult) {
	data, err := json.Marshal(result)
	if err != nil {
		s.log.Error("marshal check result", zap.Error(err))
		return
	}
	if err := s.publisher.PublishModerationResult(result.ConversationID, data); err != nil {
		s.log.Error("publish check result",
			zap.String("message_id", result.MessageID),
			zap.Error(err))
	}
}

// HandleAction processes one moderation.action request and returns the
// encoded ActionResponse.
func (s *Service) HandleAction(ctx context.Context, data []byte) []byte {
	var req moderation.ActionRequest
	var resp moderation.ActionResponse
	if err := json.Unmarshal(data, &req); err != nil {
		resp = moderation.ActionResponse{Code: moderation.CodeValidation, Error: "malformed request"}
	} else {
		resp = s.Act(ctx, &req)
	}

	outcome := "ok"
	if !resp.OK {
		outcome = resp.Code
	}
	metrics.ActionsTotal.WithLabelValues(actionLabel(req.Action), outcome).Inc()

	out, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("marshal action response", zap.Error(err))
		return []byte(`{"ok":false,"code":"internal"}`)
	}
	return out
}

// Act runs a decoded action request.
func (s *Service) Act(ctx context.Context, req *moderation.ActionRequest) moderation.ActionResponse {
	if req.ReporterID == "" {
		return moderation.ActionResponse{Code: moderation.CodeValidation, Error: "reporter_id is required"}
	}

	switch req.Action {
	case moderation.ActionReport:
		if !s.allow(ctx, req.ReporterID, ratelimit.RuleReport) {
			return moderation.ActionResponse{Code: moderation.CodeRateLimited, Error: "too many reports"}
		}
		var created bool
		err := s.run(ctx, func(ctx context.Context) (err error) {
			created, err = s.workflow.ReportByUser(ctx, req.MessageID, req.ConversationID, req.ReporterID, req.Reason)
			return err
		})
		if err != nil {
			return s.failure(req, err, 0)
		}
		status := "already_flagged"
		if created {
			status = string(moderation.StatusFlagged)
			metrics.FlagsTotal.WithLabelValues(string(moderation.SpamTypeUserReported)).Inc()
		}
		return moderation.ActionResponse{OK: true, Status: status}

	case moderation.ActionDismiss:
		if err := s.run(ctx, func(ctx context.Context) error {
			return s.workflow.Dismiss(ctx, req.MessageID, req.ReporterID)
		}); err != nil {
			return s.failure(req, err, 0)
		}
		return moderation.ActionResponse{OK: true, Status: string(moderation.StatusDismissed)}

	case moderation.ActionConfirm:
		if err := s.run(ctx, func(ctx context.Context) error {
			return s.workflow.ConfirmAndDelete(ctx, req.MessageID, req.ReporterID)
		}); err != nil {
			return s.failure(req, err, 0)
		}
		return moderation.ActionResponse{OK: true, Status: string(moderation.StatusConfirmed), Affected: 1}

	case moderation.ActionDeleteAll:
		if !s.allow(ctx, req.ReporterID, ratelimit.RuleBulkDelete) {
			return moderation.ActionResponse{Code: moderation.CodeRateLimited, Error: "too many bulk deletes"}
		}
		batchCtx, cancel := context.WithTimeout(ctx, s.batchTimeout)
		defer cancel()
		n, err := s.workflow.DeleteAll(batchCtx, req.ReporterID)
		if err != nil {
			return s.failure(req, err, n)
		}
		return moderation.ActionResponse{OK: true, Status: string(moderation.StatusConfirmed), Affected: n}

	case moderation.ActionBlock:
		if err := s.run(ctx, func(ctx context.Context) error {
			return s.workflow.BlockSender(ctx, req.MessageID, req.ReporterID)
		}); err != nil {
			return s.failure(req, err, 0)
		}
		return moderation.ActionResponse{OK: true, Status: "blocked", Affected: 1}

	default:
		return moderation.ActionResponse{Code: moderation.CodeValidation, Error: fmt.Sprintf("unknown action %q", req.Action)}
	}
}

// allow fails open when the limiter errors.
func (s *Service) allow(ctx context.Context, reporterID string, rule ratelimit.Rule) bool {
	if s.limiter == nil {
		return true
	}
	ok, _ := s.limiter.Allow(ctx, reporterID, rule)
	return ok
}

// run calls fn under the per-request store timeout.
func (s *Service) run(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return fn(ctx)
}

// failure maps a workflow error onto a reply code.
func (s *Service) failure(req *moderation.ActionRequest, err error, affected int) moderation.ActionResponse {
	resp := moderation.ActionResponse{Error: err.Error(), Affected: affected}

	var partial *moderation.PartialFailureError
	switch {
	case errors.As(err, &partial):
		resp.Code = moderation.CodePartialFailure
		resp.FailedRecords = partial.FailedIDs()
	case errors.Is(err, moderation.ErrValidation):
		resp.Code = moderation.CodeValidation
	case errors.Is(err, moderation.ErrNotFound):
		resp.Code = moderation.CodeNotFound
	default:
		resp.Code = moderation.CodeInternal
		resp.Error = "internal error"
	}

	fields := []zap.Field{
		zap.String("action", req.Action),
		zap.String("message_id", req.MessageID),
		zap.String("reporter_id", req.ReporterID),
		zap.String("code", resp.Code),
		zap.Error(err),
	}
	if resp.Code == moderation.CodeInternal || resp.Code == moderation.CodePartialFailure {
		s.log.Error("moderation action failed", fields...)
	} else {
		s.log.Info("moderation action rejected", fields...)
	}
	return resp
}

// actionLabel keeps the metric label set bounded.
func actionLabel(action string) string {
	switch action {
	case moderation.ActionReport, moderation.ActionDismiss, moderation.ActionConfirm,
		moderation.ActionDeleteAll, moderation.ActionBlock:
		return action
	default:
		return "unknown"
	}
}
