package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/stoik/email-triage/internal/domain"
)

// MemoryStore holds verdicts in memory. Suitable for dev/testing and for the CLI.
type MemoryStore struct {
	mu       sync.RWMutex
	verdicts map[uuid.UUID]domain.Verdict
	order    []uuid.UUID // insertion order, breaks analyzed_at ties
}

// NewMemoryStore initializes an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{verdicts: make(map[uuid.UUID]domain.Verdict)}
}

// SaveVerdict stores a copy of the verdict. A scan ID already stored is left untouched.
func (s *MemoryStore) SaveVerdict(ctx context.Context, verdict *domain.Verdict) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.verdicts[verdict.ScanID]; ok {
		return nil
	}
	s.verdicts[verdict.ScanID] = *verdict
	s.order = append(s.order, verdict.ScanID)
	return nil
}

// GetVerdict retrieves a verdict by scan ID. Returns a copy.
func (s *MemoryStore) GetVerdict(_ context.Context, scanID uuid.UUID) (*domain.Verdict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.verdicts[scanID]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

// FindByMessageID returns the latest verdict recorded for a Message-ID. Returns a copy.
func (s *MemoryStore) FindByMessageID(_ context.Context, messageID string) (*domain.Verdict, error) {
	if messageID == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *domain.Verdict
	for _, id := range s.order {
		v := s.verdicts[id]
		if v.EmailMetadata.MessageID != messageID {
			continue
		}
		if found == nil || !v.AnalyzedAt.Before(found.AnalyzedAt) {
			found = &v
		}
	}
	return found, nil
}

// ListRecent returns the latest verdicts, most recent first
func (s *MemoryStore) ListRecent(_ context.Context, limit int) ([]domain.Verdict, error) {
	return s.list(limit, func(domain.Verdict) bool { return true }), nil
}

// ListHighRisk returns the latest suspicious and malicious verdicts
func (s *MemoryStore) ListHighRisk(_ context.Context, limit int) ([]domain.Verdict, error) {
	return s.list(limit, func(v domain.Verdict) bool {
		return v.Classification != domain.ClassificationSafe
	}), nil
}

// Stats counts stored verdicts per classification
func (s *MemoryStore) Stats(_ context.Context) (domain.ScanStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stats domain.ScanStats
	for _, v := range s.verdicts {
		stats.Add(v.Classification, 1)
	}
	return stats, nil
}

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) list(limit int, keep func(domain.Verdict) bool) []domain.Verdict {
	if limit <= 0 {
		return []domain.Verdict{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Verdict, 0, min(limit, len(s.order)))
	for i := len(s.order) - 1; i >= 0; i-- {
		if v := s.verdicts[s.order[i]]; keep(v) {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AnalyzedAt.After(out[j].AnalyzedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
