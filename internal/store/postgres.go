package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"field-dispatch/internal/models"
)

// Sentinel lookup errors, kept distinct from write failures so callers can
// map them to the right HTTP status.
var (
	ErrJobNotFound           = errors.New("store: job not found")
	ErrSubcontractorNotFound = errors.New("store: subcontractor not found")
)

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateJobParams collects the intake fields for a new job record.
type CreateJobParams struct {
	JobNumber     string
	CustomerName  string
	CustomerPhone string
	Address       string
	Issue         string
}

// CreateJob inserts a new job in status pending.
func (s *Store) CreateJob(ctx context.Context, p CreateJobParams) (models.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, job_number, customer_name, customer_phone, address, issue, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, id, p.JobNumber, p.CustomerName, p.CustomerPhone, p.Address, p.Issue, models.StatusPending, now)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}

	return models.Job{
		ID:            id,
		JobNumber:     p.JobNumber,
		CustomerName:  p.CustomerName,
		CustomerPhone: p.CustomerPhone,
		Address:       p.Address,
		Issue:         p.Issue,
		Status:        models.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

const jobColumns = `id, job_number, customer_name, customer_phone, address, issue, status,
	price, parts_cost, job_profit, receipt_url, subcontractor_id, materials, notes,
	public_token, created_at, updated_at`

// GetJob fetches a job by its store-assigned id.
func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

// GetJobByToken fetches a job via its public share token.
func (s *Store) GetJobByToken(ctx context.Context, token string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE public_token = $1`, token)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, ErrJobNotFound
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

// ListJobsFilter narrows ListJobs. Zero values mean "no filter".
type ListJobsFilter struct {
	Status          models.Status
	SubcontractorID string
	Limit           int
}

// ListJobs returns jobs newest-first, optionally filtered.
func (s *Store) ListJobs(ctx context.Context, f ListJobsFilter) ([]models.Job, error) {
	if f.Limit <= 0 {
		f.Limit = 200
	}
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	where := ""
	if f.Status != "" {
		args = append(args, f.Status)
		where = fmt.Sprintf(" WHERE status = $%d", len(args))
	}
	if f.SubcontractorID != "" {
		args = append(args, f.SubcontractorID)
		if where == "" {
			where = fmt.Sprintf(" WHERE subcontractor_id = $%d", len(args))
		} else {
			where += fmt.Sprintf(" AND subcontractor_id = $%d", len(args))
		}
	}
	args = append(args, f.Limit)
	query += where + fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// SaveJob persists a full snapshot produced by the lifecycle engine.
func (s *Store) SaveJob(ctx context.Context, job models.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, price = $3, parts_cost = $4, job_profit = $5, receipt_url = $6,
		    subcontractor_id = $7, materials = $8, notes = $9, updated_at = $10
		WHERE id = $1
	`, job.ID, job.Status, job.Price, job.PartsCost, job.Profit, job.ReceiptURL,
		job.SubcontractorID, job.Materials, job.Notes, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", job.ID, ErrJobNotFound)
	}
	return nil
}

// AppendJobUpdates writes audit rows. Append-only; rows are never revisited.
func (s *Store) AppendJobUpdates(ctx context.Context, entries []models.JobUpdate) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO job_updates (job_id, field, old_value, new_value, actor, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, e.JobID, e.Field, e.Old, e.New, e.Actor, e.Recorded)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert job update: %w", err)
		}
	}
	return nil
}

// ListJobUpdates returns the audit trail for a job, oldest first.
func (s *Store) ListJobUpdates(ctx context.Context, jobID string) ([]models.JobUpdate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_id, field, old_value, new_value, actor, recorded_at
		FROM job_updates WHERE job_id = $1 ORDER BY recorded_at, id
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query job updates: %w", err)
	}
	defer rows.Close()

	var entries []models.JobUpdate
	for rows.Next() {
		var e models.JobUpdate
		var oldVal, newVal pgtype.Text
		if err := rows.Scan(&e.JobID, &e.Field, &oldVal, &newVal, &e.Actor, &e.Recorded); err != nil {
			return nil, fmt.Errorf("scan job update: %w", err)
		}
		e.Old = textPtr(oldVal)
		e.New = textPtr(newVal)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SetPublicToken records the share token for a job, once. Returns the token
// already on file when one exists so repeated share requests are stable.
func (s *Store) SetPublicToken(ctx context.Context, jobID, token string) (string, error) {
	var existing pgtype.Text
	err := s.pool.QueryRow(ctx, `
		UPDATE jobs SET public_token = COALESCE(public_token, $2) WHERE id = $1
		RETURNING public_token
	`, jobID, token).Scan(&existing)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("job %s: %w", jobID, ErrJobNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("set public token: %w", err)
	}
	return existing.String, nil
}

// ListStaleJobs returns jobs sitting in status with no update since cutoff.
func (s *Store) ListStaleJobs(ctx context.Context, status models.Status, cutoff time.Time, limit int) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at LIMIT $3
	`, status, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query stale jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CountOpenJobs counts jobs not yet completed or cancelled.
func (s *Store) CountOpenJobs(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM jobs WHERE status NOT IN ($1, $2)
	`, models.StatusCompleted, models.StatusCancelled).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open jobs: %w", err)
	}
	return n, nil
}

// CreateSubcontractor inserts a subcontractor record.
func (s *Store) CreateSubcontractor(ctx context.Context, sub models.Subcontractor) (models.Subcontractor, error) {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subcontractors (id, name, phone, region) VALUES ($1, $2, $3, $4)
	`, sub.ID, sub.Name, sub.Phone, sub.Region)
	if err != nil {
		return models.Subcontractor{}, fmt.Errorf("insert subcontractor: %w", err)
	}
	return sub, nil
}

// GetSubcontractor fetches one subcontractor by id.
func (s *Store) GetSubcontractor(ctx context.Context, id string) (models.Subcontractor, error) {
	var sub models.Subcontractor
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, phone, region FROM subcontractors WHERE id = $1
	`, id).Scan(&sub.ID, &sub.Name, &sub.Phone, &sub.Region)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Subcontractor{}, fmt.Errorf("subcontractor %s: %w", id, ErrSubcontractorNotFound)
	}
	if err != nil {
		return models.Subcontractor{}, fmt.Errorf("scan subcontractor: %w", err)
	}
	return sub, nil
}

// ListSubcontractors returns all subcontractors ordered by name.
func (s *Store) ListSubcontractors(ctx context.Context) ([]models.Subcontractor, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, phone, region FROM subcontractors ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query subcontractors: %w", err)
	}
	defer rows.Close()

	var subs []models.Subcontractor
	for rows.Next() {
		var sub models.Subcontractor
		if err := rows.Scan(&sub.ID, &sub.Name, &sub.Phone, &sub.Region); err != nil {
			return nil, fmt.Errorf("scan subcontractor: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func scanJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	var price, partsCost pgtype.Float8
	var sub, token pgtype.Text

	err := row.Scan(&job.ID, &job.JobNumber, &job.CustomerName, &job.CustomerPhone,
		&job.Address, &job.Issue, &job.Status, &price, &partsCost, &job.Profit,
		&job.ReceiptURL, &sub, &job.Materials, &job.Notes, &token,
		&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return models.Job{}, err
	}
	job.Price = floatPtr(price)
	job.PartsCost = floatPtr(partsCost)
	job.SubcontractorID = textPtr(sub)
	job.PublicToken = textPtr(token)
	return job, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func floatPtr(f pgtype.Float8) *float64 {
	if f.Valid {
		return &f.Float64
	}
	return nil
}
