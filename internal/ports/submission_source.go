package ports

import (
	"context"

	"github.com/stoik/email-triage/internal/domain"
)

// SubmissionSource yields messages already normalized into submissions.
// Every way a message can reach the engine (manual paste, forwarded .eml, mailbox fetch) implements it.
type SubmissionSource interface {
	// Name identifies the source in logs
	Name() string

	// Fetch returns the submissions currently available from the source
	Fetch(ctx context.Context) ([]domain.EmailSubmission, error)
}
