package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/stoik/email-triage/internal/adapters/sources"
	"github.com/stoik/email-triage/internal/domain"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// TriageService defines the business operations the API needs
type TriageService interface {
	Triage(ctx context.Context, sub *domain.EmailSubmission) (domain.Verdict, error)
	Get(ctx context.Context, scanID uuid.UUID) (*domain.Verdict, error)
	Recent(ctx context.Context, limit int) ([]domain.Verdict, error)
	HighRisk(ctx context.Context, limit int) ([]domain.Verdict, error)
	Stats(ctx context.Context) (domain.ScanStats, error)
}

// API holds dependencies for HTTP handlers
type API struct {
	logger       *zap.Logger
	svc          TriageService
	maxBodyBytes int64
}

// New creates a new API handler
func New(logger *zap.Logger, svc TriageService, maxBodyBytes int64) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	if svc == nil {
		panic("triage service is required")
	}
	return &API{logger: logger, svc: svc, maxBodyBytes: maxBodyBytes}
}

// RegisterRoutes attaches API endpoints to the router
func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", a.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/scans", a.handleSubmitScan)
		r.Post("/scans/raw", a.handleSubmitRaw)
		r.Get("/scans", a.handleListScans)
		r.Get("/scans/high-risk", a.handleListHighRisk)
		r.Get("/scans/{id}", a.handleGetScan)
		r.Get("/stats", a.handleStats)
	})
}

// submissionRequest is the JSON form of an email submission
type submissionRequest struct {
	SenderEmail string              `json:"sender_email"`
	SenderName  string              `json:"sender_name,omitempty"`
	Subject     string              `json:"subject"`
	Body        string              `json:"body"`
	Attachments []domain.Attachment `json:"attachments"`
	Headers     map[string]string   `json:"headers,omitempty"`
}

// verdictResponse adds the derived follow-ups to the stored verdict
type verdictResponse struct {
	domain.Verdict
	ActionDescription string                  `json:"action_description"`
	ResponseActions   []domain.ResponseAction `json:"response_actions"`
	DegradedAnalyzers []domain.ToolName       `json:"degraded_analyzers"`
}

func newVerdictResponse(v domain.Verdict) verdictResponse {
	actions := v.ResponseActions()
	if actions == nil {
		actions = []domain.ResponseAction{}
	}
	degraded := v.ToolExecutionTrace.Degraded()
	if degraded == nil {
		degraded = []domain.ToolName{}
	}
	return verdictResponse{
		Verdict:           v,
		ActionDescription: v.RecommendedAction.Description(),
		ResponseActions:   actions,
		DegradedAnalyzers: degraded,
	}
}

type statsResponse struct {
	domain.ScanStats
	ThreatsDetected int `json:"threats_detected"`
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleSubmitScan(w http.ResponseWriter, r *http.Request) {
	var req submissionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, a.maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sub, err := domain.NewEmailSubmission(req.SenderEmail, req.Subject, req.Body, req.Attachments,
		domain.WithSenderName(req.SenderName),
		domain.WithHeaders(req.Headers),
	)
	if err != nil {
		a.rejectSubmission(w, err)
		return
	}
	a.triage(w, r, &sub)
}

func (a *API) handleSubmitRaw(w http.ResponseWriter, r *http.Request) {
	sub, err := sources.ParseMessage(http.MaxBytesReader(w, r.Body, a.maxBodyBytes))
	if err != nil {
		a.rejectSubmission(w, err)
		return
	}
	a.triage(w, r, &sub)
}

func (a *API) rejectSubmission(w http.ResponseWriter, err error) {
	var invalid *domain.ValidationError
	if errors.As(err, &invalid) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "malformed submission",
			"fields": invalid.Fields,
		})
		return
	}
	writeError(w, http.StatusBadRequest, "unreadable message")
}

func (a *API) triage(w http.ResponseWriter, r *http.Request, sub *domain.EmailSubmission) {
	verdict, err := a.svc.Triage(r.Context(), sub)
	if errors.Is(err, domain.ErrMalformedSubmission) {
		a.rejectSubmission(w, err)
		return
	}
	if err != nil {
		a.logger.Error("triage failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("triage.scan_id", verdict.ScanID.String()),
		attribute.String("triage.classification", string(verdict.Classification)),
	)

	w.Header().Set("Location", "/api/v1/scans/"+verdict.ScanID.String())
	writeJSON(w, http.StatusCreated, newVerdictResponse(verdict))
}

func (a *API) handleGetScan(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scan id")
		return
	}

	verdict, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error("failed to get verdict", zap.String("scan_id", id.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if verdict == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, newVerdictResponse(*verdict))
}

func (a *API) handleListScans(w http.ResponseWriter, r *http.Request) {
	a.list(w, r, a.svc.Recent)
}

func (a *API) handleListHighRisk(w http.ResponseWriter, r *http.Request) {
	a.list(w, r, a.svc.HighRisk)
}

func (a *API) list(w http.ResponseWriter, r *http.Request, query func(context.Context, int) ([]domain.Verdict, error)) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	verdicts, err := query(r.Context(), limit)
	if err != nil {
		a.logger.Error("failed to list verdicts", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]verdictResponse, len(verdicts))
	for i, v := range verdicts {
		out[i] = newVerdictResponse(v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.svc.Stats(r.Context())
	if err != nil {
		a.logger.Error("failed to compute stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{ScanStats: stats, ThreatsDetected: stats.ThreatsDetected()})
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxLimit {
		return 0, errors.New("limit must be an integer between 1 and " + strconv.Itoa(maxLimit))
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
