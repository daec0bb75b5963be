package sources

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/stoik/email-triage/internal/domain"
	"go.uber.org/zap"
)

// EMLDirectory implements ports.SubmissionSource over a folder of forwarded .eml files
type EMLDirectory struct {
	dir    string
	logger *zap.Logger
}

// NewEMLDirectory creates a source reading every *.eml file directly under dir
func NewEMLDirectory(dir string, logger *zap.Logger) *EMLDirectory {
	return &EMLDirectory{dir: dir, logger: logger}
}

// Name returns the source name
func (s *EMLDirectory) Name() string {
	return "eml:" + s.dir
}

// Fetch parses the files in name order.
// Error handling strategy:
//   - An unreadable or malformed file is logged and skipped
//   - Only a missing or unreadable directory fails the fetch
func (s *EMLDirectory) Fetch(ctx context.Context) ([]domain.EmailSubmission, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".eml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	subs := make([]domain.EmailSubmission, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sub, err := ParseFile(filepath.Join(s.dir, name))
		if err != nil {
			s.logger.Warn("skipping message", zap.String("file", name), zap.Error(err))
			continue
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// ParseFile parses a single .eml file
func ParseFile(path string) (domain.EmailSubmission, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.EmailSubmission{}, err
	}
	defer f.Close()
	return ParseMessage(f)
}
