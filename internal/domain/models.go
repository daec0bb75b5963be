package domain

import (
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ToolName identifies one analyzer kind. The set of kinds is closed.
type ToolName string

const (
	ToolDomainReputation  ToolName = "check_domain_reputation"
	ToolURLForensics      ToolName = "scan_urls"
	ToolAttachments       ToolName = "analyze_attachments"
	ToolSocialEngineering ToolName = "detect_social_engineering"
)

// AllTools returns every analyzer kind in dispatch order.
func AllTools() []ToolName {
	return []ToolName{
		ToolDomainReputation,
		ToolURLForensics,
		ToolAttachments,
		ToolSocialEngineering,
	}
}

// Valid reports whether t is one of the four known analyzer kinds
func (t ToolName) Valid() bool {
	switch t {
	case ToolDomainReputation, ToolURLForensics, ToolAttachments, ToolSocialEngineering:
		return true
	}
	return false
}

// Category returns the human-readable threat category an analyzer covers
func (t ToolName) Category() string {
	switch t {
	case ToolDomainReputation:
		return "sender domain reputation"
	case ToolURLForensics:
		return "malicious links"
	case ToolAttachments:
		return "dangerous attachments"
	case ToolSocialEngineering:
		return "social engineering language"
	default:
		return string(t)
	}
}

// Attachment describes one file attached to a submission. Content is never inspected.
type Attachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
}

// EmailSubmission is the input unit of one triage run.
//
// Fields are unexported so that a submission cannot change once built: every
// analyzer reads the same snapshot concurrently. Build one with NewEmailSubmission.
type EmailSubmission struct {
	senderEmail string
	senderName  string
	subject     string
	body        string
	attachments []Attachment
	headers     map[string]string
	submittedAt time.Time
}

// SubmissionOption sets optional submission metadata
type SubmissionOption func(*EmailSubmission)

// WithSenderName records the From display name
func WithSenderName(name string) SubmissionOption {
	return func(s *EmailSubmission) {
		s.senderName = strings.TrimSpace(name)
	}
}

// WithHeaders records selected message headers (Reply-To, Authentication-Results, Received-SPF...).
// Header names are canonicalized.
func WithHeaders(headers map[string]string) SubmissionOption {
	return func(s *EmailSubmission) {
		if len(headers) == 0 {
			return
		}
		s.headers = make(map[string]string, len(headers))
		for k, v := range headers {
			s.headers[textproto.CanonicalMIMEHeaderKey(k)] = v
		}
	}
}

// WithSubmittedAt overrides the submission timestamp (defaults to construction time)
func WithSubmittedAt(t time.Time) SubmissionOption {
	return func(s *EmailSubmission) {
		if !t.IsZero() {
			s.submittedAt = t.UTC()
		}
	}
}

// NewEmailSubmission validates and builds a submission.
// Sender, subject and body are required; a missing one is rejected with a *ValidationError
// wrapping ErrMalformedSubmission. The sender is not required to be RFC-valid.
func NewEmailSubmission(sender, subject, body string, attachments []Attachment, opts ...SubmissionOption) (EmailSubmission, error) {
	if err := validateFields(sender, subject, body); err != nil {
		return EmailSubmission{}, err
	}

	sub := EmailSubmission{
		senderEmail: strings.TrimSpace(sender),
		subject:     subject,
		body:        body,
		attachments: append([]Attachment(nil), attachments...),
		submittedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&sub)
	}
	return sub, nil
}

// Validate reports a *ValidationError for a submission that was not built by NewEmailSubmission,
// such as the zero value.
func (s *EmailSubmission) Validate() error {
	if s == nil {
		return &ValidationError{Fields: []string{"sender_email", "subject", "body"}}
	}
	return validateFields(s.senderEmail, s.subject, s.body)
}

func validateFields(sender, subject, body string) error {
	var missing []string
	if strings.TrimSpace(sender) == "" {
		missing = append(missing, "sender_email")
	}
	if strings.TrimSpace(subject) == "" {
		missing = append(missing, "subject")
	}
	if strings.TrimSpace(body) == "" {
		missing = append(missing, "body")
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}
	return nil
}

func (s *EmailSubmission) SenderEmail() string    { return s.senderEmail }
func (s *EmailSubmission) SenderName() string     { return s.senderName }
func (s *EmailSubmission) Subject() string        { return s.subject }
func (s *EmailSubmission) Body() string           { return s.body }
func (s *EmailSubmission) SubmittedAt() time.Time { return s.submittedAt }
func (s *EmailSubmission) AttachmentCount() int   { return len(s.attachments) }

// Attachments returns a copy of the attachment list
func (s *EmailSubmission) Attachments() []Attachment {
	return append([]Attachment(nil), s.attachments...)
}

// Header returns a header value, or "" when absent
func (s *EmailSubmission) Header(name string) string {
	return s.headers[textproto.CanonicalMIMEHeaderKey(name)]
}

// MessageID returns the Message-Id header without angle brackets, or "" when absent
func (s *EmailSubmission) MessageID() string {
	return strings.Trim(strings.TrimSpace(s.Header("Message-Id")), "<>")
}

// Metadata returns the identifying fields copied onto the verdict
func (s *EmailSubmission) Metadata() EmailMetadata {
	return EmailMetadata{
		SenderEmail: s.senderEmail,
		Subject:     s.subject,
		MessageID:   s.MessageID(),
		SubmittedAt: s.submittedAt,
	}
}

// AnalyzerStatus reports how an analyzer invocation ended
type AnalyzerStatus string

const (
	StatusOK       AnalyzerStatus = "ok"
	StatusFailed   AnalyzerStatus = "failed"
	StatusTimedOut AnalyzerStatus = "timed_out"
)

// AnalyzerResult is the output of one analyzer invocation and one entry of the trace
type AnalyzerResult struct {
	ToolName       ToolName          `json:"tool_name"`
	RiskSubscore   int               `json:"risk_subscore"`
	FindingSummary string            `json:"finding_summary"`
	Status         AnalyzerStatus    `json:"status"`
	StartedAt      time.Time         `json:"started_at"`
	ElapsedMs      int64             `json:"elapsed_ms"`
	InputParams    map[string]string `json:"input_params,omitempty"`
}

// Degraded reports whether the sub-score is a fallback rather than a real finding
func (r AnalyzerResult) Degraded() bool {
	return r.Status != StatusOK
}

func (r AnalyzerResult) clone() AnalyzerResult {
	if r.InputParams != nil {
		params := make(map[string]string, len(r.InputParams))
		for k, v := range r.InputParams {
			params[k] = v
		}
		r.InputParams = params
	}
	return r
}

// ClampScore bounds a score to [0,100]
func ClampScore(score int) int {
	return max(0, min(100, score))
}

// AggregatedScores holds one sub-score per analyzer kind
type AggregatedScores struct {
	Attachment        int `json:"attachment_risk"`
	Domain            int `json:"domain_risk"`
	URL               int `json:"url_risk"`
	SocialEngineering int `json:"social_engineering_risk"`
}

// ScoresFromResults builds a fully populated AggregatedScores from a result set.
// Every analyzer kind must be present exactly once.
func ScoresFromResults(results []AnalyzerResult) (AggregatedScores, error) {
	var scores AggregatedScores
	seen := make(map[ToolName]bool, len(results))
	for _, r := range results {
		if seen[r.ToolName] {
			return AggregatedScores{}, &IncompleteResultsError{Tool: r.ToolName, Reason: "duplicate result"}
		}
		seen[r.ToolName] = true

		v := ClampScore(r.RiskSubscore)
		switch r.ToolName {
		case ToolAttachments:
			scores.Attachment = v
		case ToolDomainReputation:
			scores.Domain = v
		case ToolURLForensics:
			scores.URL = v
		case ToolSocialEngineering:
			scores.SocialEngineering = v
		default:
			return AggregatedScores{}, &IncompleteResultsError{Tool: r.ToolName, Reason: "unknown analyzer"}
		}
	}
	for _, tool := range AllTools() {
		if !seen[tool] {
			return AggregatedScores{}, &IncompleteResultsError{Tool: tool, Reason: "missing result"}
		}
	}
	return scores, nil
}

// Get returns the sub-score for an analyzer kind
func (s AggregatedScores) Get(tool ToolName) int {
	switch tool {
	case ToolAttachments:
		return s.Attachment
	case ToolDomainReputation:
		return s.Domain
	case ToolURLForensics:
		return s.URL
	case ToolSocialEngineering:
		return s.SocialEngineering
	}
	return 0
}

// Clamped returns a copy with every sub-score bounded to [0,100]
func (s AggregatedScores) Clamped() AggregatedScores {
	return AggregatedScores{
		Attachment:        ClampScore(s.Attachment),
		Domain:            ClampScore(s.Domain),
		URL:               ClampScore(s.URL),
		SocialEngineering: ClampScore(s.SocialEngineering),
	}
}

// Classification is the three-level verdict bucket
type Classification string

const (
	ClassificationSafe       Classification = "safe"
	ClassificationSuspicious Classification = "suspicious"
	ClassificationMalicious  Classification = "malicious"
)

// Severity orders classifications: safe < suspicious < malicious
func (c Classification) Severity() int {
	switch c {
	case ClassificationSuspicious:
		return 1
	case ClassificationMalicious:
		return 2
	default:
		return 0
	}
}

// Action returns the recommended action for a classification
func (c Classification) Action() Action {
	switch c {
	case ClassificationMalicious:
		return ActionQuarantine
	case ClassificationSuspicious:
		return ActionHold
	default:
		return ActionDeliver
	}
}

// Action is the recommended handling of a message
type Action string

const (
	ActionDeliver    Action = "DELIVER"
	ActionHold       Action = "HOLD"
	ActionQuarantine Action = "QUARANTINE"
)

// Description expands the action into the instruction shown to operators
func (a Action) Description() string {
	switch a {
	case ActionHold:
		return "HOLD — route to human review"
	case ActionQuarantine:
		return "QUARANTINE — block sender, notify security operations"
	default:
		return "DELIVER"
	}
}

// ResponseAction is a SOC follow-up derived from a verdict
type ResponseAction string

const (
	ResponseQuarantineMessage ResponseAction = "quarantine_message"
	ResponseBlockSenderDomain ResponseAction = "block_sender_domain"
	ResponseEscalateToSOC     ResponseAction = "escalate_to_soc"
	ResponseHoldForReview     ResponseAction = "hold_for_review"
)

// EmailMetadata identifies the message a verdict is about
type EmailMetadata struct {
	SenderEmail string    `json:"sender_email"`
	Subject     string    `json:"subject"`
	MessageID   string    `json:"message_id,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Verdict is the final, read-only artifact of one triage run.
// It is built once by the triage service and never modified afterwards;
// the trace it embeds cannot be edited through its API.
type Verdict struct {
	ScanID               uuid.UUID        `json:"scan_id"`
	EmailMetadata        EmailMetadata    `json:"email_metadata"`
	ToolExecutionTrace   Trace            `json:"tool_execution_trace"`
	AggregatedScores     AggregatedScores `json:"aggregated_scores"`
	FinalRiskScore       int              `json:"final_risk_score"`
	Classification       Classification   `json:"classification"`
	RecommendedAction    Action           `json:"recommended_action"`
	ReasoningSummary     string           `json:"reasoning_summary"`
	ConfidencePercentage int              `json:"confidence_percentage"`
	Escalated            bool             `json:"escalated"`
	AnalyzedAt           time.Time        `json:"analyzed_at"`
}

// Degraded reports whether any analyzer failed or timed out
func (v Verdict) Degraded() bool {
	return len(v.ToolExecutionTrace.Degraded()) > 0
}

// ResponseActions lists the SOC follow-ups implied by the classification
func (v Verdict) ResponseActions() []ResponseAction {
	switch v.Classification {
	case ClassificationMalicious:
		return []ResponseAction{ResponseQuarantineMessage, ResponseBlockSenderDomain, ResponseEscalateToSOC}
	case ClassificationSuspicious:
		return []ResponseAction{ResponseHoldForReview}
	default:
		return nil
	}
}

// ScanStats are dashboard counts derived from stored verdict history
type ScanStats struct {
	TotalScans int `json:"total_scans"`
	Safe       int `json:"safe"`
	Suspicious int `json:"suspicious"`
	Malicious  int `json:"malicious"`
}

// ThreatsDetected counts verdicts that were not safe
func (s ScanStats) ThreatsDetected() int {
	return s.Suspicious + s.Malicious
}

// Add counts one verdict classification
func (s *ScanStats) Add(c Classification, n int) {
	s.TotalScans += n
	switch c {
	case ClassificationSafe:
		s.Safe += n
	case ClassificationSuspicious:
		s.Suspicious += n
	case ClassificationMalicious:
		s.Malicious += n
	}
}
