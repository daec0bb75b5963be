package detection

import (
	"context"
	"testing"

	"github.com/stoik/email-triage/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachmentInspector_Analyze(t *testing.T) {
	inspector := NewAttachmentInspector()

	tests := []struct {
		name        string
		attachments []domain.Attachment
		expected    int
		contains    string
	}{
		{
			name:     "No attachments",
			expected: 0,
			contains: "No attachments to analyze",
		},
		{
			name:        "Benign PDF",
			attachments: []domain.Attachment{{Filename: "Q4_Budget.pdf", MimeType: "application/pdf"}},
			expected:    5,
			contains:    "benign type",
		},
		{
			name:        "Macro-enabled workbook",
			attachments: []domain.Attachment{{Filename: "Salary_Update_2024.xlsm", MimeType: "application/vnd.ms-excel.sheet.macroEnabled.12"}},
			expected:    90,
			contains:    "macro-enabled",
		},
		{
			name:        "Executable",
			attachments: []domain.Attachment{{Filename: "setup.exe", MimeType: "application/x-msdownload"}},
			expected:    95,
		},
		{
			name:        "Script",
			attachments: []domain.Attachment{{Filename: "cleanup.ps1", MimeType: "text/plain"}},
			expected:    90,
		},
		{
			name:        "Double extension",
			attachments: []domain.Attachment{{Filename: "invoice.pdf.exe", MimeType: "application/pdf"}},
			expected:    100,
			contains:    "double extension",
		},
		{
			name:        "Executable content behind a benign name",
			attachments: []domain.Attachment{{Filename: "report.pdf", MimeType: "application/x-dosexec"}},
			expected:    100,
			contains:    "does not match .pdf",
		},
		{
			name:        "Archive with lure name",
			attachments: []domain.Attachment{{Filename: "Invoice_4821.zip", MimeType: "application/zip"}},
			expected:    50,
			contains:    "lure filename",
		},
		{
			name: "Riskiest attachment wins",
			attachments: []domain.Attachment{
				{Filename: "notes.txt", MimeType: "text/plain"},
				{Filename: "macro.docm", MimeType: ""},
			},
			expected: 90,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := newSubmission(t, "a@b.com", "subject", "body", tt.attachments...)
			finding, err := inspector.Analyze(context.Background(), sub)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, finding.Score)
			if tt.contains != "" {
				assert.Contains(t, finding.Summary, tt.contains)
			}
		})
	}
}

func TestAttachmentInspector_Inputs(t *testing.T) {
	sub := newSubmission(t, "a@b.com", "s", "b",
		domain.Attachment{Filename: "a.pdf"}, domain.Attachment{Filename: "b.xlsm"})

	inputs := NewAttachmentInspector().Inputs(sub)
	assert.Equal(t, "2", inputs["attachment_count"])
	assert.Equal(t, "a.pdf, b.xlsm", inputs["filenames"])
}
