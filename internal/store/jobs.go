package store

import (
	"context"
	"database/sql"
	"time"
)

// defaultLedgerWindow bounds how many finished jobs the ledger retains;
// older rows are evicted oldest-first once the window is exceeded.
const defaultLedgerWindow = 500

// Job is one row of the compose_jobs ledger.
type Job struct {
	ID         string
	SystemName string
	Org        string
	Status     string
	OutputRoot string
	DryRun     bool
	CreatedAt  time.Time
	FinishedAt *time.Time
	Error      string
	ReportJSON string
}

// Repo wraps a *sql.DB with the composer's job-ledger queries.
type Repo struct {
	db     *sql.DB
	window int
	now    func() time.Time
}

// NewRepo returns a Repo over db, bounding the ledger to the default
// retention window.
func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db, window: defaultLedgerWindow, now: time.Now}
}

// CreateJob inserts a new job row in "running" status.
func (r *Repo) CreateJob(ctx context.Context, j Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO compose_jobs (id, system_name, org, status, output_root, dry_run, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.SystemName, j.Org, "running", j.OutputRoot, boolToInt(j.DryRun), j.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

// FinishJob records a terminal status, optional error, and report JSON for
// a job, then evicts the oldest rows beyond the retention window.
func (r *Repo) FinishJob(ctx context.Context, id, status, errMsg, reportJSON string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE compose_jobs SET status = ?, finished_at = ?, error = ?, report_json = ?
		WHERE id = ?`,
		status, r.now().UTC().Format(time.RFC3339), nullIfEmpty(errMsg), nullIfEmpty(reportJSON), id)
	if err != nil {
		return err
	}
	return r.evictOldest(ctx)
}

func (r *Repo) evictOldest(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM compose_jobs WHERE id IN (
			SELECT id FROM compose_jobs
			WHERE finished_at IS NOT NULL
			ORDER BY created_at ASC
			LIMIT MAX(0, (SELECT COUNT(*) FROM compose_jobs WHERE finished_at IS NOT NULL) - ?)
		)`, r.window)
	return err
}

// GetJob fetches a single job by id.
func (r *Repo) GetJob(ctx context.Context, id string) (Job, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, system_name, org, status, output_root, dry_run, created_at, finished_at, error, report_json
		FROM compose_jobs WHERE id = ?`, id)
	return scanJob(row)
}

// ListJobs returns the most recently created jobs, newest first.
func (r *Repo) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, system_name, org, status, output_root, dry_run, created_at, finished_at, error, report_json
		FROM compose_jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var j Job
	var createdAt string
	var finishedAt, errMsg, reportJSON sql.NullString
	var dryRun int
	if err := row.Scan(&j.ID, &j.SystemName, &j.Org, &j.Status, &j.OutputRoot, &dryRun, &createdAt, &finishedAt, &errMsg, &reportJSON); err != nil {
		return Job{}, err
	}
	j.DryRun = dryRun != 0
	j.Error = errMsg.String
	j.ReportJSON = reportJSON.String
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		j.CreatedAt = t
	}
	if finishedAt.Valid {
		if t, err := time.Parse(time.RFC3339, finishedAt.String); err == nil {
			j.FinishedAt = &t
		}
	}
	return j, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
