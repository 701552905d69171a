// Package engine implements the composition algorithm: validate a
// manifest, resolve it against the template catalog, order the resolved
// descriptors by dependency, materialize an output tree in a staging
// directory, verify it, and atomically promote it.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/infinity-templates/composer/internal/catalog"
	"github.com/infinity-templates/composer/internal/faults"
	"github.com/infinity-templates/composer/internal/manifest"
)

const defaultComposeTimeout = 120 * time.Second

// Engine composes manifests against a fixed catalog snapshot. A single
// Engine is shared across concurrent Compose calls; the catalog it wraps is
// read-only for the engine's lifetime, so no locking is needed around it.
type Engine struct {
	Catalog *catalog.Catalog
	Now     func() time.Time
}

// New returns an Engine bound to the given catalog snapshot.
func New(cat *catalog.Catalog) Engine {
	return Engine{Catalog: cat, Now: func() time.Time { return time.Now().UTC() }}
}

// ComposeOptions parameterizes one Compose call.
type ComposeOptions struct {
	Manifest  *manifest.Manifest
	OutputRoot string
	DryRun     bool
	Overwrite  bool
	Timeout    time.Duration
}

// ComposeResult carries both the textual report and the plan it was
// derived from, since dry-run callers want the intended plan without any
// side effect.
type ComposeResult struct {
	Report *CompositionReport
	Plan   CompositionPlan
}

// Compose runs the full algorithm on its own isolated goroutine (via a
// conc.WaitGroup) so a panic during staging never brings down a caller
// running many compositions concurrently; each call owns a private staging
// directory and never touches another job's state.
func (e Engine) Compose(ctx context.Context, opts ComposeOptions) (*ComposeResult, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultComposeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var result *ComposeResult
	var runErr error
	var wg conc.WaitGroup
	wg.Go(func() {
		result, runErr = e.compose(ctx, opts)
	})
	if r := wg.WaitAndRecover(); r != nil {
		return nil, fmt.Errorf("composition panicked: %v", r.Value)
	}
	return result, runErr
}

func (e Engine) compose(ctx context.Context, opts ComposeOptions) (*ComposeResult, error) {
	m := opts.Manifest
	report := newReport(m.SystemName, opts.DryRun)

	// Step 1: Validate.
	m.ApplyDefaults()
	if errs := m.Validate(); len(errs) > 0 {
		details := make(map[string]any, len(errs))
		for _, fe := range errs {
			details[fe.Field] = fe.Message
		}
		return nil, faults.New(faults.ManifestInvalid, "manifest failed validation").WithDetails(details)
	}

	// Step 2: Resolve.
	seeds := resolveSeeds(m)
	toggled, toggleWarnings := toggleSeeds(m)
	seeds = append(seeds, toggled...)
	resolved, seedList, err := resolveGraph(e.Catalog, seeds)
	if err != nil {
		return nil, err
	}

	// Step 3: Order.
	nodes, err := orderPlan(resolved, seedList)
	if err != nil {
		return nil, err
	}

	// Step 4: Plan (target subpaths + collision check).
	if err := assignTargets(nodes); err != nil {
		return nil, err
	}
	for i := range nodes {
		if nodes[i].IsCore {
			continue
		}
		var extra map[string]string
		for _, s := range seedList {
			if s.ref == nodes[i].Descriptor.Key() {
				extra = s.config
				break
			}
		}
		nodes[i].Bindings = buildBindings(m, nodes[i], extra)
	}
	plan := CompositionPlan{Nodes: nodes}
	report.Warnings = append(report.Warnings, toggleWarnings...)

	if err := ctx.Err(); err != nil {
		return nil, faults.New(faults.Timeout, "composition timed out before staging")
	}

	if opts.DryRun {
		for _, n := range plan.Nodes {
			report.recordNode(n, 0)
		}
		report.finish()
		return &ComposeResult{Report: report, Plan: plan}, nil
	}

	// Step 5: Stage.
	stagingDir := filepath.Join(opts.OutputRoot, fmt.Sprintf(".staging-%s", newJobSuffix()))
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, faults.New(faults.FilesystemFault, err.Error())
	}
	cleanupStaging := true
	defer func() {
		if cleanupStaging {
			os.RemoveAll(stagingDir)
		}
	}()

	for _, n := range plan.Nodes {
		if err := ctx.Err(); err != nil {
			return nil, faults.New(faults.Timeout, "composition timed out during staging")
		}
		written, err := stageNode(m, n, stagingDir)
		if err != nil {
			return nil, err
		}
		report.recordNode(n, written)
	}

	// Step 6: Emit manifest copies.
	if err := writeManifestCopies(m, plan, e.Catalog.Snapshot(), stagingDir, e.Now()); err != nil {
		return nil, err
	}

	// Step 7: Post-verify.
	if err := postVerify(plan, stagingDir); err != nil {
		return nil, err
	}

	// Step 8: Promote.
	finalDir := filepath.Join(opts.OutputRoot, m.SystemName)
	if err := promote(stagingDir, finalDir, opts.Overwrite); err != nil {
		return nil, err
	}
	cleanupStaging = false

	// Step 9: Report.
	report.finish()
	return &ComposeResult{Report: report, Plan: plan}, nil
}

func writeManifestCopies(m *manifest.Manifest, plan CompositionPlan, snapshot, stagingDir string, now time.Time) error {
	manifestBytes, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return faults.New(faults.FilesystemFault, err.Error())
	}
	if err := os.WriteFile(filepath.Join(stagingDir, "manifest.json"), manifestBytes, 0o644); err != nil {
		return faults.New(faults.FilesystemFault, err.Error())
	}

	meta := buildMetadata(plan, snapshot, now)
	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return faults.New(faults.FilesystemFault, err.Error())
	}
	if err := os.WriteFile(filepath.Join(stagingDir, "system-metadata.json"), metaBytes, 0o644); err != nil {
		return faults.New(faults.FilesystemFault, err.Error())
	}
	return nil
}
