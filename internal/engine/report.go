package engine

import "time"

// JobStatus enumerates a ComposeJob's lifecycle states.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// ComposeJob tracks one composition request end to end, independent of its
// HTTP framing.
type ComposeJob struct {
	ID          string
	SystemName  string
	DryRun      bool
	OutputRoot  string
	InitiatedAt time.Time
	Status      JobStatus
	Error       string
}

// CompositionReport summarizes what a Compose call did or, on dry-run,
// intends to do.
type CompositionReport struct {
	SystemName       string         `json:"system_name"`
	DryRun           bool           `json:"dry_run"`
	FilesWritten     int            `json:"files_written"`
	CountsByCategory map[string]int `json:"counts_by_category"`
	ResolvedPlan     []string       `json:"resolved_plan"`
	Warnings         []string       `json:"warnings,omitempty"`
	Duration         time.Duration  `json:"duration"`
	StartedAt        time.Time      `json:"started_at"`
}

func newReport(m string, dryRun bool) *CompositionReport {
	return &CompositionReport{
		SystemName:       m,
		DryRun:           dryRun,
		CountsByCategory: make(map[string]int),
		StartedAt:        time.Now().UTC(),
	}
}

func (r *CompositionReport) recordNode(n Node, written int) {
	if n.IsCore {
		r.FilesWritten += written
		return
	}
	r.CountsByCategory[string(n.Descriptor.Category)]++
	r.ResolvedPlan = append(r.ResolvedPlan, n.Descriptor.Key().String())
	r.FilesWritten += written
}

func (r *CompositionReport) finish() {
	r.Duration = time.Since(r.StartedAt)
}
