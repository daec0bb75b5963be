package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stoik/email-triage/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"
)

const tracerName = "github.com/stoik/email-triage/internal/adapters/storage"

// Dialect captures the SQL differences between the supported databases
type Dialect struct {
	Name   string
	Driver string

	// numbered placeholders ($1, $2) instead of ?
	numbered bool

	// insertIgnore is the INSERT prefix that skips rows whose primary key already exists;
	// onConflict is the matching suffix
	insertIgnore string
	onConflict   string

	idType      string
	payloadType string
}

var (
	Postgres = Dialect{
		Name: "postgresql", Driver: "postgres", numbered: true,
		insertIgnore: "INSERT INTO", onConflict: " ON CONFLICT (scan_id) DO NOTHING",
		idType: "UUID", payloadType: "JSONB",
	}
	SQLite = Dialect{
		Name: "sqlite", Driver: "sqlite",
		insertIgnore: "INSERT OR IGNORE INTO",
		idType:       "TEXT", payloadType: "TEXT",
	}
	MySQL = Dialect{
		Name: "mysql", Driver: "mysql",
		insertIgnore: "INSERT IGNORE INTO",
		idType:       "VARCHAR(36)", payloadType: "JSON",
	}
)

// DialectFor maps a configured driver name to its dialect
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "mysql":
		return MySQL, nil
	}
	return Dialect{}, fmt.Errorf("unsupported database driver %q", driver)
}

// rebind rewrites ? placeholders for dialects that number them
func (d Dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore implements ports.VerdictStore on database/sql
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore opens and pings the database. Call InitSchema before first use.
func NewSQLStore(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if dialect.Driver == SQLite.Driver {
		// One writer at a time; concurrent writers get SQLITE_BUSY
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	return &SQLStore{db: db, dialect: dialect}, nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// InitSchema creates the verdicts table if it doesn't exist.
// In production, use proper migration tools.
func (s *SQLStore) InitSchema(ctx context.Context) error {
	// ============================================================================
	// VERDICTS TABLE
	// ============================================================================
	// One row per triage run, written once and never updated.
	//
	// The full verdict (trace included) lives in payload and is what reads return.
	// The scalar columns duplicate the fields the dashboard filters, orders and counts on.
	// analyzed_at_ns is Unix nanoseconds so ordering behaves the same on every dialect.
	table := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS verdicts (
			scan_id %s PRIMARY KEY,
			sender_email VARCHAR(254) NOT NULL,
			message_id VARCHAR(255),
			subject TEXT,
			classification VARCHAR(16) NOT NULL,
			recommended_action VARCHAR(16) NOT NULL,
			final_risk_score INTEGER NOT NULL,
			confidence INTEGER NOT NULL,
			escalated BOOLEAN NOT NULL DEFAULT FALSE,
			degraded BOOLEAN NOT NULL DEFAULT FALSE,
			analyzed_at_ns BIGINT NOT NULL,
			payload %s NOT NULL
		)`, s.dialect.idType, s.dialect.payloadType)

	statements := []string{
		table,
		// Backs ListRecent
		`CREATE INDEX idx_verdicts_analyzed_at ON verdicts(analyzed_at_ns)`,
		// Backs ListHighRisk and Stats
		`CREATE INDEX idx_verdicts_classification ON verdicts(classification, analyzed_at_ns)`,
		// Backs FindByMessageID
		`CREATE INDEX idx_verdicts_message_id ON verdicts(message_id, analyzed_at_ns)`,
	}
	if s.dialect.Driver != MySQL.Driver {
		// MySQL has no CREATE INDEX IF NOT EXISTS
		for i := 1; i < len(statements); i++ {
			statements[i] = strings.Replace(statements[i], "CREATE INDEX", "CREATE INDEX IF NOT EXISTS", 1)
		}
	}

	for i, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if i > 0 && s.dialect.Driver == MySQL.Driver && strings.Contains(err.Error(), "Duplicate key name") {
				continue
			}
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) startSpan(ctx context.Context, name, operation string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "sqlstore."+name, trace.WithAttributes(
		attribute.String("db.system", s.dialect.Name),
		attribute.String("db.operation.name", operation),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// SaveVerdict inserts a verdict. A scan ID already stored is left untouched.
func (s *SQLStore) SaveVerdict(ctx context.Context, verdict *domain.Verdict) error {
	ctx, span := s.startSpan(ctx, "SaveVerdict", "INSERT")
	defer span.End()

	payload, err := json.Marshal(verdict)
	if err != nil {
		return fail(span, fmt.Errorf("failed to marshal verdict: %w", err))
	}

	query := s.dialect.rebind(s.dialect.insertIgnore + ` verdicts (
			scan_id, sender_email, message_id, subject, classification, recommended_action,
			final_risk_score, confidence, escalated, degraded, analyzed_at_ns, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)` + s.dialect.onConflict)

	messageID := sql.NullString{String: verdict.EmailMetadata.MessageID, Valid: verdict.EmailMetadata.MessageID != ""}
	_, err = s.db.ExecContext(ctx, query,
		verdict.ScanID.String(), verdict.EmailMetadata.SenderEmail, messageID, verdict.EmailMetadata.Subject,
		string(verdict.Classification), string(verdict.RecommendedAction),
		verdict.FinalRiskScore, verdict.ConfidencePercentage, verdict.Escalated, verdict.Degraded(),
		verdict.AnalyzedAt.UnixNano(), string(payload),
	)
	if err != nil {
		return fail(span, fmt.Errorf("failed to insert verdict %s: %w", verdict.ScanID, err))
	}
	return nil
}

// GetVerdict retrieves a verdict by scan ID
func (s *SQLStore) GetVerdict(ctx context.Context, scanID uuid.UUID) (*domain.Verdict, error) {
	ctx, span := s.startSpan(ctx, "GetVerdict", "SELECT")
	defer span.End()

	var payload []byte
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT payload FROM verdicts WHERE scan_id = ?`),
		scanID.String()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fail(span, err)
	}

	verdict, err := decodeVerdict(payload)
	if err != nil {
		return nil, fail(span, err)
	}
	return verdict, nil
}

// FindByMessageID retrieves the latest verdict recorded for a Message-ID
func (s *SQLStore) FindByMessageID(ctx context.Context, messageID string) (*domain.Verdict, error) {
	if messageID == "" {
		return nil, nil
	}
	ctx, span := s.startSpan(ctx, "FindByMessageID", "SELECT")
	defer span.End()

	verdicts, err := s.queryVerdicts(ctx, `
		SELECT payload FROM verdicts
		WHERE message_id = ?
		ORDER BY analyzed_at_ns DESC
		LIMIT 1`, messageID)
	if err != nil {
		return nil, fail(span, err)
	}
	if len(verdicts) == 0 {
		return nil, nil
	}
	return &verdicts[0], nil
}

// ListRecent retrieves the latest verdicts, most recent first
func (s *SQLStore) ListRecent(ctx context.Context, limit int) ([]domain.Verdict, error) {
	ctx, span := s.startSpan(ctx, "ListRecent", "SELECT")
	defer span.End()

	verdicts, err := s.queryVerdicts(ctx, `
		SELECT payload FROM verdicts
		ORDER BY analyzed_at_ns DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fail(span, err)
	}
	return verdicts, nil
}

// ListHighRisk retrieves the latest suspicious and malicious verdicts
func (s *SQLStore) ListHighRisk(ctx context.Context, limit int) ([]domain.Verdict, error) {
	ctx, span := s.startSpan(ctx, "ListHighRisk", "SELECT")
	defer span.End()

	verdicts, err := s.queryVerdicts(ctx, `
		SELECT payload FROM verdicts
		WHERE classification IN (?, ?)
		ORDER BY analyzed_at_ns DESC
		LIMIT ?`, string(domain.ClassificationSuspicious), string(domain.ClassificationMalicious), limit)
	if err != nil {
		return nil, fail(span, err)
	}
	return verdicts, nil
}

// Stats counts stored verdicts per classification
func (s *SQLStore) Stats(ctx context.Context) (domain.ScanStats, error) {
	ctx, span := s.startSpan(ctx, "Stats", "SELECT")
	defer span.End()

	rows, err := s.db.QueryContext(ctx, `SELECT classification, COUNT(*) FROM verdicts GROUP BY classification`)
	if err != nil {
		return domain.ScanStats{}, fail(span, err)
	}
	defer rows.Close()

	var stats domain.ScanStats
	for rows.Next() {
		var class string
		var n int
		if err := rows.Scan(&class, &n); err != nil {
			return domain.ScanStats{}, fail(span, err)
		}
		stats.Add(domain.Classification(class), n)
	}
	if err := rows.Err(); err != nil {
		return domain.ScanStats{}, fail(span, err)
	}
	return stats, nil
}

func (s *SQLStore) queryVerdicts(ctx context.Context, query string, args ...any) ([]domain.Verdict, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	verdicts := make([]domain.Verdict, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		verdict, err := decodeVerdict(payload)
		if err != nil {
			return nil, err
		}
		verdicts = append(verdicts, *verdict)
	}
	return verdicts, rows.Err()
}

func decodeVerdict(payload []byte) (*domain.Verdict, error) {
	var verdict domain.Verdict
	if err := json.Unmarshal(payload, &verdict); err != nil {
		return nil, fmt.Errorf("failed to unmarshal verdict: %w", err)
	}
	return &verdict, nil
}
