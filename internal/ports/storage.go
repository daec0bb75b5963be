package ports

import (
	"context"

	"github.com/google/uuid"
	"github.com/stoik/email-triage/internal/domain"
)

// VerdictStore defines the contract for persisting and querying verdict history.
// Verdicts are write-once: saving a scan ID that already exists leaves the stored verdict untouched.
type VerdictStore interface {
	// SaveVerdict stores a completed verdict keyed by its scan ID
	SaveVerdict(ctx context.Context, verdict *domain.Verdict) error

	// GetVerdict returns the verdict for a scan ID, or nil if none exists
	GetVerdict(ctx context.Context, scanID uuid.UUID) (*domain.Verdict, error)

	// FindByMessageID returns the latest verdict recorded for a Message-ID, or nil if none exists
	FindByMessageID(ctx context.Context, messageID string) (*domain.Verdict, error)

	// ListRecent returns the most recent verdicts first
	ListRecent(ctx context.Context, limit int) ([]domain.Verdict, error)

	// ListHighRisk returns the most recent suspicious or malicious verdicts first
	ListHighRisk(ctx context.Context, limit int) ([]domain.Verdict, error)

	// Stats derives dashboard counts from the stored history
	Stats(ctx context.Context) (domain.ScanStats, error)

	// Lifecycle
	Close() error
}
