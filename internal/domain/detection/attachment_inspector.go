package detection

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/stoik/email-triage/internal/domain"
)

// Base scores per attachment type
const (
	scoreDoubleExtension = 100
	scoreExecutable      = 95
	scoreScript          = 90
	scoreMacroDocument   = 90
	scoreArchive         = 40
	scoreLegacyOffice    = 30
	scoreUnknownType     = 20
	scoreBenign          = 5
)

var (
	// Executables run arbitrary code on the victim's machine
	executableExtensions = []string{
		".exe", ".dll", ".scr", ".bat", ".cmd", ".com", ".pif", ".msi", ".app", ".deb", ".rpm",
		".jar", ".vbs", ".vbe", ".js", ".jse", ".wsf", ".hta", ".lnk", ".cpl",
	}
	scriptExtensions = []string{".ps1", ".psm1", ".sh", ".bash", ".py", ".pl", ".rb", ".php"}

	// Macro-enabled Office formats download and execute payloads once editing is enabled
	macroExtensions = []string{".docm", ".xlsm", ".pptm", ".dotm", ".xltm", ".potm", ".xlam", ".ppam", ".xlsb"}

	// Legacy binary Office formats may carry macros without advertising it
	legacyOfficeExtensions = []string{".doc", ".xls", ".ppt"}

	archiveExtensions = []string{".zip", ".rar", ".7z", ".tar", ".gz", ".bz2", ".iso", ".img", ".cab"}

	benignExtensions = []string{
		".pdf", ".txt", ".csv", ".rtf", ".ics", ".jpg", ".jpeg", ".png", ".gif",
		".docx", ".xlsx", ".pptx", ".odt", ".ods",
	}

	executableMIMETypes = []string{
		"application/x-msdownload", "application/x-dosexec", "application/x-executable",
		"application/x-msdos-program", "application/vnd.microsoft.portable-executable",
	}

	// expectedMIMETypes lists the content types a well-formed file of each extension declares
	expectedMIMETypes = map[string][]string{
		".pdf":  {"application/pdf"},
		".docx": {"application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
		".xlsx": {"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
		".zip":  {"application/zip", "application/x-zip-compressed"},
		".png":  {"image/png"},
		".jpg":  {"image/jpeg"},
		".jpeg": {"image/jpeg"},
		".txt":  {"text/plain"},
		".exe":  {"application/x-msdownload", "application/x-dosexec", "application/vnd.microsoft.portable-executable"},
	}

	lureNamePatterns = []*regexp.Regexp{
		regexp.MustCompile(`invoice.*\d+`),
		regexp.MustCompile(`payment.*details`),
		regexp.MustCompile(`urgent.*document`),
		regexp.MustCompile(`password.*reset`),
		regexp.MustCompile(`account.*verification`),
	}
)

// AttachmentInspector scores attachments from their filenames and declared MIME types.
// File contents are never opened.
type AttachmentInspector struct{}

// NewAttachmentInspector creates a new attachment inspector
func NewAttachmentInspector() *AttachmentInspector {
	return &AttachmentInspector{}
}

func (a *AttachmentInspector) Tool() domain.ToolName { return domain.ToolAttachments }

// Name returns the analyzer name
func (a *AttachmentInspector) Name() string {
	return "Attachment Inspector"
}

func (a *AttachmentInspector) Inputs(sub *domain.EmailSubmission) map[string]string {
	attachments := sub.Attachments()
	names := make([]string, len(attachments))
	for i, att := range attachments {
		names[i] = att.Filename
	}
	return map[string]string{
		"attachment_count": fmt.Sprint(len(attachments)),
		"filenames":        strings.Join(names, ", "),
	}
}

// Analyze returns the score of the riskiest attachment
func (a *AttachmentInspector) Analyze(ctx context.Context, sub *domain.EmailSubmission) (Finding, error) {
	if err := ctx.Err(); err != nil {
		return Finding{}, err
	}

	attachments := sub.Attachments()
	if len(attachments) == 0 {
		return Finding{Score: 0, Summary: "No attachments to analyze"}, nil
	}

	top := 0
	var details []string
	for _, att := range attachments {
		score, reasons := inspectAttachment(att)
		top = max(top, score)
		details = append(details, fmt.Sprintf("%s: %s", att.Filename, strings.Join(reasons, ", ")))
	}

	return Finding{
		Score:   top,
		Summary: fmt.Sprintf("Inspected %d attachment(s): %s", len(attachments), strings.Join(details, "; ")),
	}, nil
}

func inspectAttachment(att domain.Attachment) (int, []string) {
	name := strings.ToLower(strings.TrimSpace(att.Filename))
	mimeType := strings.ToLower(strings.TrimSpace(att.MimeType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	ext := filepath.Ext(name)

	var score int
	var reasons []string
	switch {
	case strings.ContainsRune(name, '\u202e'):
		score, reasons = scoreDoubleExtension, []string{"right-to-left override hides the real extension"}
	case hasDoubleExtension(name):
		score, reasons = scoreDoubleExtension, []string{"double extension"}
	case hasExtension(ext, executableExtensions) || inList(mimeType, executableMIMETypes):
		score, reasons = scoreExecutable, []string{"executable"}
	case hasExtension(ext, scriptExtensions):
		score, reasons = scoreScript, []string{"script"}
	case hasExtension(ext, macroExtensions) || strings.Contains(mimeType, "macroenabled"):
		score, reasons = scoreMacroDocument, []string{"macro-enabled Office document"}
	case hasExtension(ext, archiveExtensions):
		score, reasons = scoreArchive, []string{"archive can conceal executables"}
	case hasExtension(ext, legacyOfficeExtensions):
		score, reasons = scoreLegacyOffice, []string{"legacy Office format can carry macros"}
	case hasExtension(ext, benignExtensions):
		score, reasons = scoreBenign, []string{"benign type"}
	default:
		score, reasons = scoreUnknownType, []string{"unrecognized type"}
	}

	if expected, ok := expectedMIMETypes[ext]; ok && mimeType != "" && mimeType != "application/octet-stream" &&
		!inList(mimeType, expected) {
		score += 20
		reasons = append(reasons, fmt.Sprintf("declared type %s does not match %s", mimeType, ext))
	}
	for _, p := range lureNamePatterns {
		if p.MatchString(name) {
			score += 10
			reasons = append(reasons, "lure filename")
			break
		}
	}

	return domain.ClampScore(score), reasons
}

// hasDoubleExtension detects names like "invoice.pdf.exe": an executable or script extension
// appended to a name that already carries a document or archive extension
func hasDoubleExtension(name string) bool {
	ext := filepath.Ext(name)
	if !hasExtension(ext, executableExtensions) && !hasExtension(ext, scriptExtensions) {
		return false
	}
	inner := filepath.Ext(strings.TrimSuffix(name, ext))
	return hasExtension(inner, benignExtensions) || hasExtension(inner, macroExtensions) ||
		hasExtension(inner, legacyOfficeExtensions) || hasExtension(inner, archiveExtensions)
}

func hasExtension(ext string, list []string) bool {
	return ext != "" && inList(ext, list)
}
