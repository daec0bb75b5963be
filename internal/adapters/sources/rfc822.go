package sources

import (
	"fmt"
	"io"
	"net/mail"
	"strings"

	"github.com/jhillyerd/enmime"
	"github.com/stoik/email-triage/internal/domain"
)

// forwardedHeaders are copied onto the submission for the domain reputation checks
var forwardedHeaders = []string{"Reply-To", "Authentication-Results", "Received-SPF", "Return-Path", "Message-Id"}

// ParseMessage converts a raw RFC 5322 message into a submission.
// The text part is preferred over HTML; attachments and inline parts keep their declared
// content type and are never decoded further.
func ParseMessage(r io.Reader) (domain.EmailSubmission, error) {
	env, err := enmime.ReadEnvelope(r)
	if err != nil {
		return domain.EmailSubmission{}, fmt.Errorf("failed to parse message: %w", err)
	}

	var sender, senderName string
	if from, err := env.AddressList("From"); err == nil && len(from) > 0 {
		sender, senderName = from[0].Address, from[0].Name
	} else {
		// Keep whatever the header holds so the domain analyzer can still score it
		sender = strings.TrimSpace(env.GetHeader("From"))
	}

	body := env.Text
	if strings.TrimSpace(body) == "" {
		body = env.HTML
	}

	var attachments []domain.Attachment
	for _, parts := range [][]*enmime.Part{env.Attachments, env.Inlines} {
		for _, p := range parts {
			if p.FileName == "" {
				continue
			}
			attachments = append(attachments, domain.Attachment{Filename: p.FileName, MimeType: p.ContentType})
		}
	}

	headers := make(map[string]string, len(forwardedHeaders))
	for _, name := range forwardedHeaders {
		if v := env.GetHeader(name); v != "" {
			headers[name] = v
		}
	}

	opts := []domain.SubmissionOption{
		domain.WithSenderName(senderName),
		domain.WithHeaders(headers),
	}
	if date, err := mail.ParseDate(env.GetHeader("Date")); err == nil {
		opts = append(opts, domain.WithSubmittedAt(date))
	}

	return domain.NewEmailSubmission(sender, env.GetHeader("Subject"), body, attachments, opts...)
}
