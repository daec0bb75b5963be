package sources

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/stoik/email-triage/internal/domain"
	"go.uber.org/zap"
)

// demoMessage is one canned message of the demo mailbox
type demoMessage struct {
	from        string
	subject     string
	body        string
	attachments []domain.Attachment
	headers     map[string]string
	age         time.Duration
}

// demoMessages covers the threat families the analyzers target, plus a clean control message
var demoMessages = []demoMessage{
	{
		from:    "Colleague <colleague@company.com>",
		subject: "Q4 Budget Review Meeting",
		body:    "Hi team, please find the agenda for Thursday's budget review attached.",
		attachments: []domain.Attachment{
			{Filename: "Q4_Budget_Review.pdf", MimeType: "application/pdf"},
		},
		age: 3 * time.Hour,
	},
	{
		from:    "PayPal Support <support@paypa1-verify.com>", // Brand typosquat: "paypa1" vs "paypal"
		subject: "URGENT: verify your account",
		body:    "Your account has been suspended. Verify now at https://bit.ly/3xYz9Qa to restore access.",
		age:     2 * time.Hour,
	},
	{
		from:    "Human Resources <hr@company-payro11.com>", // Lookalike of the internal domain
		subject: "Updated Salary Information",
		body:    "Please review the attached salary adjustment and confirm your bank account details by end of day.",
		attachments: []domain.Attachment{
			{Filename: "Salary_Update_2024.xlsm", MimeType: "application/vnd.ms-excel.sheet.macroEnabled.12"},
		},
		age: 90 * time.Minute,
	},
	{
		from:    "Accounts Payable <accounts@companny.com>", // Typosquatting: "companny" vs "company"
		subject: "Invoice #4821 - Payment Required",
		body:    "Please find attached invoice for immediate payment. Wire transfer to the new account urgently.",
		headers: map[string]string{
			"Reply-To": "urgent-payments@gmail.com", // Reply-To redirection to free webmail
		},
		age: time.Hour,
	},
	{
		from:    "CEO John Smith <john@external-domain.com>", // Executive display name, external domain
		subject: "Urgent: Wire Transfer Needed",
		body:    "Please process this wire transfer immediately and keep this confidential.",
		headers: map[string]string{
			"Authentication-Results": "mx.company.com; spf=fail smtp.mailfrom=external-domain.com; dkim=fail; dmarc=fail",
		},
		age: 30 * time.Minute,
	},
}

// DemoMailbox implements ports.SubmissionSource with canned messages, standing in for a
// provider mailbox (Microsoft Graph, Gmail API) in demos and local runs
type DemoMailbox struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewDemoMailbox creates the demo mailbox
func NewDemoMailbox(logger *zap.Logger) *DemoMailbox {
	return &DemoMailbox{logger: logger, now: time.Now}
}

// Name returns the source name
func (m *DemoMailbox) Name() string {
	return "demo-mailbox"
}

// Fetch returns the canned messages, oldest first
func (m *DemoMailbox) Fetch(ctx context.Context) ([]domain.EmailSubmission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := m.now()
	subs := make([]domain.EmailSubmission, 0, len(demoMessages))
	for _, msg := range demoMessages {
		address, name := m.splitAddress(msg.from)
		sub, err := domain.NewEmailSubmission(address, msg.subject, msg.body, msg.attachments,
			domain.WithSenderName(name),
			domain.WithHeaders(msg.headers),
			domain.WithSubmittedAt(now.Add(-msg.age)),
		)
		if err != nil {
			return nil, fmt.Errorf("demo message %q: %w", msg.subject, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// splitAddress parses a From header with net/mail.ParseAddress.
// Returns the original string as the address if parsing fails (graceful degradation).
func (m *DemoMailbox) splitAddress(s string) (string, string) {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		m.logger.Warn("failed to parse email address", zap.String("address", s), zap.Error(err))
		return s, ""
	}
	return addr.Address, addr.Name
}
