package moderation

// CheckRequest is published to moderation.check by the message-send pipeline
// for every inbound message.
type CheckRequest struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Text           string `json:"text"`
	Ts             int64  `json:"ts"`
}

// CheckResult is published back on moderation.result.<conversation_id>.
type CheckResult struct {
	MessageID      string   `json:"message_id"`
	ConversationID string   `json:"conversation_id"`
	SenderID       string   `json:"sender_id"`
	Blocked        bool     `json:"blocked"`
	IsSpam         bool     `json:"is_spam"`
	Flagged        bool     `json:"flagged"`
	Confidence     float64  `json:"confidence"`
	Score          int      `json:"score"`
	Reasons        []string `json:"reasons,omitempty"`
	Reason         string   `json:"reason,omitempty"`
}

// Action names accepted on moderation.action.
const (
	ActionReport    = "report"
	ActionDismiss   = "dismiss"
	ActionConfirm   = "confirm"
	ActionDeleteAll = "delete_all"
	ActionBlock     = "block"
)

// ActionRequest is sent on moderation.action by moderation UI handlers.
type ActionRequest struct {
	Action         string `json:"action"`
	MessageID      string `json:"message_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	ReporterID     string `json:"reporter_id"`
	Reason         string `json:"reason,omitempty"`
}

// Reply codes carried in ActionResponse.Code.
const (
	CodeValidation     = "validation"
	CodeNotFound       = "not_found"
	CodePartialFailure = "partial_failure"
	CodeRateLimited    = "rate_limited"
	CodeInternal       = "internal"
)

// ActionResponse is the reply to an ActionRequest.
type ActionResponse struct {
	OK            bool     `json:"ok"`
	Status        string   `json:"status,omitempty"`
	Code          string   `json:"code,omitempty"`
	Error         string   `json:"error,omitempty"`
	Affected      int      `json:"affected,omitempty"`
	FailedRecords []string `json:"failed_records,omitempty"`
}
