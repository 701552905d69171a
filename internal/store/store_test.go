package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/infinity-templates/composer/internal/store"
)

func newTestRepo(t *testing.T) *store.Repo {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(store.Config{StateDir: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := store.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.NewRepo(db)
}

func TestCreateAndFinishJob(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	err := r.CreateJob(ctx, store.Job{
		ID:         "job-1",
		SystemName: "demo",
		Org:        "acme",
		OutputRoot: "/tmp/out",
		CreatedAt:  time.Now(),
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	job, err := r.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != "running" {
		t.Fatalf("expected running status, got %s", job.Status)
	}

	if err := r.FinishJob(ctx, "job-1", "succeeded", "", `{"files_written":3}`); err != nil {
		t.Fatalf("finish job: %v", err)
	}
	job, err = r.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("get job after finish: %v", err)
	}
	if job.Status != "succeeded" || job.FinishedAt == nil {
		t.Fatalf("unexpected job after finish: %+v", job)
	}
}

func TestListJobsOrdersNewestFirst(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		if err := r.CreateJob(ctx, store.Job{ID: id, SystemName: "demo", OutputRoot: "/tmp", CreatedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	jobs, err := r.ListJobs(ctx, 10)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 3 || jobs[0].ID != "c" {
		t.Fatalf("expected newest-first ordering, got %+v", jobs)
	}
}

func TestAcquireLockRejectsSecondHolder(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	if err := r.AcquireLock(ctx, "/tmp/out", "demo", "job-1"); err != nil {
		t.Fatalf("acquire first lock: %v", err)
	}
	if err := r.AcquireLock(ctx, "/tmp/out", "demo", "job-2"); err == nil {
		t.Fatalf("expected second lock acquisition to fail")
	}
	if err := r.ReleaseLock(ctx, "/tmp/out", "demo"); err != nil {
		t.Fatalf("release lock: %v", err)
	}
	if err := r.AcquireLock(ctx, "/tmp/out", "demo", "job-2"); err != nil {
		t.Fatalf("expected lock acquisition after release to succeed: %v", err)
	}
}

func TestLogDispatchAndMarkDelivered(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	if err := r.CreateJob(ctx, store.Job{ID: "job-1", SystemName: "demo", OutputRoot: "/tmp", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := r.LogDispatch(ctx, "d1", "job-1", "compose.completed", "pending", 1, ""); err != nil {
		t.Fatalf("log dispatch: %v", err)
	}
	if err := r.MarkDelivered(ctx, "d1"); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
}
