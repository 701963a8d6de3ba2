package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"field-dispatch/internal/config"
	"field-dispatch/internal/lifecycle"
	"field-dispatch/internal/models"
	"field-dispatch/internal/notify"
	"field-dispatch/internal/publiclink"
	"field-dispatch/internal/ratelimit"
	"field-dispatch/internal/receipts"
	"field-dispatch/internal/store"
	"field-dispatch/internal/telemetry"
)

// JobStore is the persistence surface the handlers need. *store.Store
// implements it; tests use an in-memory fake.
type JobStore interface {
	CreateJob(ctx context.Context, p store.CreateJobParams) (models.Job, error)
	GetJob(ctx context.Context, id string) (models.Job, error)
	GetJobByToken(ctx context.Context, token string) (models.Job, error)
	ListJobs(ctx context.Context, f store.ListJobsFilter) ([]models.Job, error)
	SaveJob(ctx context.Context, job models.Job) error
	AppendJobUpdates(ctx context.Context, entries []models.JobUpdate) error
	ListJobUpdates(ctx context.Context, jobID string) ([]models.JobUpdate, error)
	SetPublicToken(ctx context.Context, jobID, token string) (string, error)
	CreateSubcontractor(ctx context.Context, sub models.Subcontractor) (models.Subcontractor, error)
	GetSubcontractor(ctx context.Context, id string) (models.Subcontractor, error)
	ListSubcontractors(ctx context.Context) ([]models.Subcontractor, error)
}

// ReceiptStore accepts an uploaded receipt and returns its stored URL.
type ReceiptStore interface {
	Store(ctx context.Context, jobNumber, filename string, r io.Reader, contentType string) (string, error)
}

// Limiter throttles mutation requests per actor. May be nil to disable.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, float64, error)
}

// Server wires HTTP handlers for the dispatch admin API.
type Server struct {
	cfg      config.Config
	store    JobStore
	receipts ReceiptStore
	notifier notify.Notifier
	limiter  Limiter
}

// New constructs the API server.
func New(cfg config.Config, st JobStore, rc ReceiptStore, n notify.Notifier, limiter Limiter) *Server {
	if n == nil {
		n = notify.Nop{}
	}
	return &Server{
		cfg:      cfg,
		store:    st,
		receipts: rc,
		notifier: n,
		limiter:  limiter,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleCreateJob)
	r.Get("/jobs", s.handleListJobs)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Patch("/jobs/{id}/field", s.handleFieldUpdate)
	r.Put("/jobs/{id}", s.handleBulkUpdate)
	r.Post("/jobs/{id}/assign", s.handleAssign)
	r.Post("/jobs/{id}/receipt", s.handleReceiptUpload)
	r.Get("/jobs/{id}/updates", s.handleListUpdates)
	r.Post("/jobs/{id}/share", s.handleShare)
	r.Get("/public/jobs/{token}", s.handlePublicJob)

	r.Get("/subcontractors", s.handleListSubcontractors)
	r.Post("/subcontractors", s.handleCreateSubcontractor)
	r.Get("/subcontractors/{id}", s.handleGetSubcontractor)

	return r
}

type createJobRequest struct {
	JobNumber     string `json:"job_number"`
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	Address       string `json:"address"`
	Issue         string `json:"issue"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.CustomerName) == "" {
		http.Error(w, "customer_name is required", http.StatusBadRequest)
		return
	}
	if req.JobNumber == "" {
		req.JobNumber = "JOB-" + strings.ToUpper(uuid.New().String()[:8])
	}
	if !s.allow(w, r) {
		return
	}

	job, err := s.store.CreateJob(r.Context(), store.CreateJobParams{
		JobNumber:     req.JobNumber,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		Address:       req.Address,
		Issue:         req.Issue,
	})
	if err != nil {
		http.Error(w, "create failed", http.StatusInternalServerError)
		return
	}

	_ = s.notifier.Publish(r.Context(), notify.Event{
		Kind: notify.KindJobCreated, JobID: job.ID, JobNumber: job.JobNumber,
		Actor: actorFromRequest(r),
	})
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	f := store.ListJobsFilter{
		Status:          models.Status(r.URL.Query().Get("status")),
		SubcontractorID: r.URL.Query().Get("subcontractor_id"),
	}
	if f.Status != "" && !f.Status.Valid() {
		http.Error(w, "unknown status", http.StatusBadRequest)
		return
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Limit = n
		}
	}
	jobs, err := s.store.ListJobs(r.Context(), f)
	if err != nil {
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type fieldUpdateRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

func (s *Server) handleFieldUpdate(w http.ResponseWriter, r *http.Request) {
	var req fieldUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if !s.allow(w, r) {
		return
	}
	actor := actorFromRequest(r)

	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	next, entries, err := lifecycle.ApplyFieldUpdate(job, req.Field, req.Value, actor, time.Now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if len(entries) == 0 {
		// No-op edit: nothing to persist or announce.
		writeJSON(w, http.StatusOK, job)
		return
	}

	if err := s.commit(r.Context(), next, entries); err != nil {
		s.writeError(w, err)
		return
	}
	telemetry.FieldUpdates.Inc()

	kind := notify.KindJobUpdated
	if req.Field == lifecycle.FieldReceiptURL {
		kind = notify.KindReceiptAttached
	}
	_ = s.notifier.Publish(r.Context(), notify.Event{
		Kind: kind, JobID: next.ID, JobNumber: next.JobNumber,
		Field: req.Field, Actor: actor,
	})
	writeJSON(w, http.StatusOK, next)
}

func (s *Server) handleBulkUpdate(w http.ResponseWriter, r *http.Request) {
	var form lifecycle.FormSnapshot
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if !s.allow(w, r) {
		return
	}
	actor := actorFromRequest(r)

	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	next, entries, err := lifecycle.ApplyBulkUpdate(job, form, actor, time.Now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if len(entries) == 0 {
		writeJSON(w, http.StatusOK, job)
		return
	}

	if err := s.commit(r.Context(), next, entries); err != nil {
		s.writeError(w, err)
		return
	}
	telemetry.BulkUpdates.Inc()

	_ = s.notifier.Publish(r.Context(), notify.Event{
		Kind: notify.KindJobUpdated, JobID: next.ID, JobNumber: next.JobNumber, Actor: actor,
	})
	writeJSON(w, http.StatusOK, next)
}

type assignRequest struct {
	SubcontractorID string `json:"subcontractor_id"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if !s.allow(w, r) {
		return
	}
	actor := actorFromRequest(r)

	if _, err := s.store.GetSubcontractor(r.Context(), req.SubcontractorID); err != nil {
		s.writeError(w, err)
		return
	}
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	next, entries, err := lifecycle.ApplyAssignment(job, req.SubcontractorID, actor, time.Now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if len(entries) == 0 {
		writeJSON(w, http.StatusOK, job)
		return
	}

	if err := s.commit(r.Context(), next, entries); err != nil {
		s.writeError(w, err)
		return
	}

	_ = s.notifier.Publish(r.Context(), notify.Event{
		Kind: notify.KindJobAssigned, JobID: next.ID, JobNumber: next.JobNumber, Actor: actor,
	})
	writeJSON(w, http.StatusOK, next)
}

func (s *Server) handleReceiptUpload(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}
	actor := actorFromRequest(r)

	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	file, header, err := r.FormFile("receipt")
	if err != nil {
		http.Error(w, "receipt file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	url, err := s.receipts.Store(r.Context(), job.JobNumber, header.Filename, file, header.Header.Get("Content-Type"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	telemetry.ReceiptUploads.Inc()

	next, entries, err := lifecycle.ApplyFieldUpdate(job, lifecycle.FieldReceiptURL, url, actor, time.Now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if len(entries) > 0 {
		if err := s.commit(r.Context(), next, entries); err != nil {
			s.writeError(w, err)
			return
		}
	}

	_ = s.notifier.Publish(r.Context(), notify.Event{
		Kind: notify.KindReceiptAttached, JobID: next.ID, JobNumber: next.JobNumber,
		Field: lifecycle.FieldReceiptURL, Actor: actor,
	})
	writeJSON(w, http.StatusOK, next)
}

func (s *Server) handleListUpdates(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetJob(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	entries, err := s.store.ListJobUpdates(r.Context(), id)
	if err != nil {
		http.Error(w, "list updates failed", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []models.JobUpdate{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"updates": entries})
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}
	id := chi.URLParam(r, "id")
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	token, err := s.store.SetPublicToken(r.Context(), id, publiclink.NewToken())
	if err != nil {
		s.writeError(w, err)
		return
	}

	_ = s.notifier.Publish(r.Context(), notify.Event{
		Kind: notify.KindJobShared, JobID: job.ID, JobNumber: job.JobNumber,
		Actor: actorFromRequest(r),
	})
	writeJSON(w, http.StatusOK, map[string]string{
		"token": token,
		"url":   publiclink.URL(s.cfg.PublicLinkBase, token),
	})
}

// publicJobView is the customer-facing read: no financials, no internal notes.
type publicJobView struct {
	JobNumber string        `json:"job_number"`
	Status    models.Status `json:"status"`
	Issue     string        `json:"issue"`
	Address   string        `json:"address"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func (s *Server) handlePublicJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJobByToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, publicJobView{
		JobNumber: job.JobNumber,
		Status:    job.Status,
		Issue:     job.Issue,
		Address:   job.Address,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	})
}

func (s *Server) handleListSubcontractors(w http.ResponseWriter, r *http.Request) {
	subs, err := s.store.ListSubcontractors(r.Context())
	if err != nil {
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	if subs == nil {
		subs = []models.Subcontractor{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"subcontractors": subs})
}

func (s *Server) handleCreateSubcontractor(w http.ResponseWriter, r *http.Request) {
	var sub models.Subcontractor
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(sub.Name) == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	if !s.allow(w, r) {
		return
	}
	created, err := s.store.CreateSubcontractor(r.Context(), sub)
	if err != nil {
		http.Error(w, "create failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetSubcontractor(w http.ResponseWriter, r *http.Request) {
	sub, err := s.store.GetSubcontractor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// commit persists the snapshot, then writes audit rows best-effort: a failed
// audit write leaves the committed mutation standing but is logged and counted
// so audit-log gaps show up in monitoring.
func (s *Server) commit(ctx context.Context, job models.Job, entries []models.JobUpdate) error {
	if err := s.store.SaveJob(ctx, job); err != nil {
		return err
	}
	if err := s.store.AppendJobUpdates(ctx, entries); err != nil {
		telemetry.AuditWriteFailures.Inc()
		slog.Error("audit write failed after committed mutation",
			"job_id", job.ID, "rows", len(entries), "err", err)
	}
	return nil
}

// allow enforces the per-actor rate limit on mutating endpoints.
func (s *Server) allow(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter == nil {
		return true
	}
	allowed, _, err := s.limiter.Allow(r.Context(), ratelimit.ActorKey(actorFromRequest(r)))
	if err != nil {
		http.Error(w, "rate limit error", http.StatusInternalServerError)
		return false
	}
	if !allowed {
		telemetry.RateLimitRejects.Inc()
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr *lifecycle.ValidationError
	switch {
	case errors.As(err, &verr):
		telemetry.ValidationFailures.Inc()
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": verr.Reason, "field": verr.Field,
		})
	case errors.Is(err, lifecycle.ErrTransitionDenied):
		telemetry.TransitionsDenied.Inc()
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, store.ErrJobNotFound), errors.Is(err, store.ErrSubcontractorNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, receipts.ErrTooLarge):
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func actorFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Actor-ID"); v != "" {
		return v
	}
	return "admin"
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
