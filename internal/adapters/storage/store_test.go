package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stoik/email-triage/internal/domain"
	"github.com/stoik/email-triage/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var base = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func testVerdict(class domain.Classification, score int, analyzedAt time.Time) domain.Verdict {
	results := []domain.AnalyzerResult{
		{ToolName: domain.ToolDomainReputation, RiskSubscore: score, FindingSummary: "Domain: example.com", Status: domain.StatusOK,
			StartedAt: analyzedAt, ElapsedMs: 3, InputParams: map[string]string{"sender_email": "a@example.com"}},
		{ToolName: domain.ToolURLForensics, Status: domain.StatusOK, StartedAt: analyzedAt, FindingSummary: "No URLs found"},
		{ToolName: domain.ToolAttachments, RiskSubscore: 50, Status: domain.StatusTimedOut, StartedAt: analyzedAt,
			FindingSummary: "analysis timed out after 5s"},
		{ToolName: domain.ToolSocialEngineering, Status: domain.StatusOK, StartedAt: analyzedAt},
	}
	return domain.Verdict{
		ScanID:               uuid.New(),
		EmailMetadata:        domain.EmailMetadata{SenderEmail: "a@example.com", Subject: "Hello", SubmittedAt: analyzedAt},
		ToolExecutionTrace:   domain.NewTrace(results),
		AggregatedScores:     domain.AggregatedScores{Domain: score, Attachment: 50},
		FinalRiskScore:       score,
		Classification:       class,
		RecommendedAction:    class.Action(),
		ReasoningSummary:     "reasoning",
		ConfidencePercentage: 70,
		AnalyzedAt:           analyzedAt,
	}
}

// exerciseStore runs the behavior every VerdictStore must share
func exerciseStore(t *testing.T, store ports.VerdictStore) {
	ctx := context.Background()

	missing, err := store.GetVerdict(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)

	empty, err := store.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)

	safe := testVerdict(domain.ClassificationSafe, 5, base)
	suspicious := testVerdict(domain.ClassificationSuspicious, 45, base.Add(time.Minute))
	malicious := testVerdict(domain.ClassificationMalicious, 80, base.Add(2*time.Minute))
	// the same message scanned twice
	suspicious.EmailMetadata.MessageID = "rescan@mail.example.com"
	malicious.EmailMetadata.MessageID = "rescan@mail.example.com"
	for _, v := range []domain.Verdict{suspicious, safe, malicious} {
		require.NoError(t, store.SaveVerdict(ctx, &v))
	}

	got, err := store.GetVerdict(ctx, malicious.ScanID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, malicious.ScanID, got.ScanID)
	assert.Equal(t, malicious.FinalRiskScore, got.FinalRiskScore)
	assert.Equal(t, malicious.Classification, got.Classification)
	assert.Equal(t, malicious.RecommendedAction, got.RecommendedAction)
	assert.Equal(t, malicious.AggregatedScores, got.AggregatedScores)
	assert.True(t, malicious.AnalyzedAt.Equal(got.AnalyzedAt))
	assert.Equal(t, malicious.ToolExecutionTrace.Entries(), got.ToolExecutionTrace.Entries())
	assert.True(t, got.Degraded())

	// Write-once: a second save of the same scan ID does not overwrite
	changed := malicious
	changed.FinalRiskScore = 1
	require.NoError(t, store.SaveVerdict(ctx, &changed))
	got, err = store.GetVerdict(ctx, malicious.ScanID)
	require.NoError(t, err)
	assert.Equal(t, 80, got.FinalRiskScore)

	recent, err := store.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, []uuid.UUID{malicious.ScanID, suspicious.ScanID, safe.ScanID},
		[]uuid.UUID{recent[0].ScanID, recent[1].ScanID, recent[2].ScanID})

	limited, err := store.ListRecent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, malicious.ScanID, limited[0].ScanID)

	highRisk, err := store.ListHighRisk(ctx, 10)
	require.NoError(t, err)
	require.Len(t, highRisk, 2)
	assert.Equal(t, malicious.ScanID, highRisk[0].ScanID)
	assert.Equal(t, suspicious.ScanID, highRisk[1].ScanID)

	byMessage, err := store.FindByMessageID(ctx, "rescan@mail.example.com")
	require.NoError(t, err)
	require.NotNil(t, byMessage)
	assert.Equal(t, malicious.ScanID, byMessage.ScanID, "latest verdict for the message")
	assert.Equal(t, "rescan@mail.example.com", byMessage.EmailMetadata.MessageID)

	for _, id := range []string{"", "unknown@mail.example.com"} {
		none, err := store.FindByMessageID(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, none, id)
	}

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.ScanStats{TotalScans: 3, Safe: 1, Suspicious: 1, Malicious: 1}, stats)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	v := testVerdict(domain.ClassificationSafe, 5, base)
	require.NoError(t, store.SaveVerdict(context.Background(), &v))

	got, err := store.GetVerdict(context.Background(), v.ScanID)
	require.NoError(t, err)
	got.FinalRiskScore = 99

	again, err := store.GetVerdict(context.Background(), v.ScanID)
	require.NoError(t, err)
	assert.Equal(t, 5, again.FinalRiskScore)
}

func TestSQLStore_SQLite(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLStore(ctx, SQLite, filepath.Join(t.TempDir(), "verdicts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.InitSchema(ctx))
	require.NoError(t, store.InitSchema(ctx), "schema creation is idempotent")

	exerciseStore(t, store)
}

func TestSQLStore_CreatesSpans(t *testing.T) {
	// Not parallel: swaps the global OTel tracer provider.
	ctx := context.Background()
	store, err := NewSQLStore(ctx, SQLite, filepath.Join(t.TempDir(), "verdicts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.InitSchema(ctx))

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(ctx) }()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	v := testVerdict(domain.ClassificationSafe, 5, base)
	v.EmailMetadata.MessageID = "spans@mail.example.com"
	require.NoError(t, store.SaveVerdict(ctx, &v))
	found, err := store.FindByMessageID(ctx, "spans@mail.example.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, v.ScanID, found.ScanID)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	for i, want := range []struct{ name, op string }{
		{"sqlstore.SaveVerdict", "INSERT"},
		{"sqlstore.FindByMessageID", "SELECT"},
	} {
		assert.Equal(t, want.name, spans[i].Name)
		attrs := make(map[string]string)
		for _, a := range spans[i].Attributes {
			attrs[string(a.Key)] = a.Value.AsString()
		}
		assert.Equal(t, "sqlite", attrs["db.system"])
		assert.Equal(t, want.op, attrs["db.operation.name"])
	}
}

func TestDialectFor(t *testing.T) {
	tests := []struct {
		driver    string
		expected  string
		expectErr bool
	}{
		{driver: "postgres", expected: "postgres"},
		{driver: "PostgreSQL", expected: "postgres"},
		{driver: "sqlite", expected: "sqlite"},
		{driver: "mysql", expected: "mysql"},
		{driver: "oracle", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			d, err := DialectFor(tt.driver)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, d.Driver)
		})
	}
}

func TestDialect_Rebind(t *testing.T) {
	query := `SELECT payload FROM verdicts WHERE classification IN (?, ?) LIMIT ?`
	assert.Equal(t, `SELECT payload FROM verdicts WHERE classification IN ($1, $2) LIMIT $3`, Postgres.rebind(query))
	assert.Equal(t, query, SQLite.rebind(query))
	assert.Equal(t, query, MySQL.rebind(query))
}
