package store

import (
	"context"
	"fmt"
	"time"

	"github.com/infinity-templates/composer/internal/faults"
)

// AcquireLock takes an advisory lock keyed on (outputRoot, systemName) for
// jobID. It fails with faults.FilesystemFault if another job already holds
// the lock, preventing two compositions from racing on the same output
// directory.
func (r *Repo) AcquireLock(ctx context.Context, outputRoot, systemName, jobID string) error {
	key := lockKey(outputRoot, systemName)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO compose_locks (lock_key, job_id, acquired_at) VALUES (?, ?, ?)`,
		key, jobID, r.now().UTC().Format(time.RFC3339))
	if err != nil {
		return faults.New(faults.FilesystemFault, fmt.Sprintf("output %q for system %q is locked by another composition in progress", outputRoot, systemName))
	}
	return nil
}

// ReleaseLock drops the advisory lock for (outputRoot, systemName), if held.
func (r *Repo) ReleaseLock(ctx context.Context, outputRoot, systemName string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM compose_locks WHERE lock_key = ?`, lockKey(outputRoot, systemName))
	return err
}

func lockKey(outputRoot, systemName string) string {
	return outputRoot + "::" + systemName
}

// LogDispatch records a dispatch attempt against a job.
func (r *Repo) LogDispatch(ctx context.Context, id, jobID, event, status string, attempts int, lastErr string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO dispatch_log (id, job_id, event, status, attempts, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, jobID, event, status, attempts, nullIfEmpty(lastErr), r.now().UTC().Format(time.RFC3339))
	return err
}

// MarkDelivered timestamps a dispatch log row as delivered.
func (r *Repo) MarkDelivered(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE dispatch_log SET status = 'delivered', delivered_at = ? WHERE id = ?`,
		r.now().UTC().Format(time.RFC3339), id)
	return err
}
