package server

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/infinity-templates/composer/internal/dispatch"
	"github.com/infinity-templates/composer/internal/engine"
	"github.com/infinity-templates/composer/internal/faults"
	"github.com/infinity-templates/composer/internal/manifest"
	"github.com/infinity-templates/composer/internal/store"
)

// composeResponse is the POST /compose success payload. Status reports the
// outcome of the composition itself, which this handler runs to completion
// before responding (see DESIGN.md's "single-process composition" note).
// DispatchStatus separately reports the outcome of notifying the downstream
// pipeline of that result, per spec.md §4.3.
type composeResponse struct {
	Status         string `json:"status"`
	SystemName     string `json:"system_name"`
	DispatchEvent  string `json:"dispatch_event"`
	InitiatedAt    string `json:"initiated_at"`
	ManifestPath   string `json:"manifest_path"`
	DispatchStatus string `json:"dispatch_status"`
	JobID          string `json:"job_id"`
}

func registerCompose(api huma.API, s *Server) {
	huma.Register(api, huma.Operation{
		OperationID: "compose",
		Method:      http.MethodPost,
		Path:        "/compose",
		Summary:     "Compose a system from a manifest",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnprocessableEntity,
			http.StatusServiceUnavailable,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		Body manifest.Manifest `json:"body"`
	}) (*struct {
		Body composeResponse `json:"body"`
	}, error) {
		resp, err := s.compose(ctx, &input.Body)
		if err != nil {
			return nil, err
		}
		return &struct {
			Body composeResponse `json:"body"`
		}{Body: *resp}, nil
	})
}

func (s *Server) compose(ctx context.Context, m *manifest.Manifest) (*composeResponse, huma.StatusError) {
	m.ApplyDefaults()
	if errs := m.Validate(); len(errs) > 0 {
		details := make(map[string]any, len(errs))
		for _, fe := range errs {
			details[fe.Field] = fe.Message
		}
		return nil, newAPIError(http.StatusUnprocessableEntity, string(faults.ManifestInvalid), "manifest failed validation", "", faults.ManifestInvalid.SuggestedAction(), details)
	}

	release, ok := s.acquireSlot()
	if !ok {
		return nil, newAPIError(http.StatusServiceUnavailable, "overloaded", "composer is at capacity, retry shortly", "", faults.Timeout.SuggestedAction(), nil)
	}
	defer release()

	jobID := uuid.NewString()
	initiatedAt := time.Now().UTC()

	if s.cfg.Jobs != nil {
		if err := s.cfg.Jobs.AcquireLock(ctx, s.cfg.OutputRoot, m.SystemName, jobID); err != nil {
			return nil, faultError(http.StatusConflict, err)
		}
		defer s.cfg.Jobs.ReleaseLock(ctx, s.cfg.OutputRoot, m.SystemName)
	}

	if s.cfg.Jobs != nil {
		_ = s.cfg.Jobs.CreateJob(ctx, store.Job{
			ID:         jobID,
			SystemName: m.SystemName,
			Org:        m.Org,
			OutputRoot: s.cfg.OutputRoot,
			CreatedAt:  initiatedAt,
		})
	}

	result, err := s.cfg.Engine.Compose(ctx, engine.ComposeOptions{
		Manifest:   m,
		OutputRoot: s.cfg.OutputRoot,
		Timeout:    s.cfg.ComposeTimeout,
	})
	if err != nil {
		if s.cfg.Jobs != nil {
			_ = s.cfg.Jobs.FinishJob(ctx, jobID, "failed", err.Error(), "")
		}
		return nil, handleComposeError(err)
	}

	reportJSON, _ := json.Marshal(result.Report)
	if s.cfg.Jobs != nil {
		_ = s.cfg.Jobs.FinishJob(ctx, jobID, "succeeded", "", string(reportJSON))
	}

	manifestPath := filepath.Join("manifests", m.SystemName+".json")
	dispatchStatus := "skipped"
	if s.cfg.Dispatcher != nil {
		rec := dispatch.Record{
			ID:         jobID,
			SystemName: m.SystemName,
			Org:        m.Org,
			Event:      "scaffold-system",
			Status:     "succeeded",
			Components: result.Report.ResolvedPlan,
			Warnings:   result.Report.Warnings,
			Metadata: map[string]any{
				"manifest":      m,
				"manifest_path": manifestPath,
				"initiated_at":  initiatedAt.Format(time.RFC3339),
			},
		}
		dispatchStatus = s.cfg.Dispatcher.Dispatch(ctx, rec)
		if s.cfg.Jobs != nil {
			_ = s.cfg.Jobs.LogDispatch(ctx, uuid.NewString(), jobID, rec.Event, dispatchStatus, 1, "")
		}
	}

	return &composeResponse{
		Status:         "succeeded",
		SystemName:     m.SystemName,
		DispatchEvent:  "scaffold-system",
		InitiatedAt:    initiatedAt.Format(time.RFC3339),
		ManifestPath:   manifestPath,
		DispatchStatus: dispatchStatus,
		JobID:          jobID,
	}, nil
}

func handleComposeError(err error) huma.StatusError {
	if f, ok := err.(*faults.Fault); ok {
		switch f.Kind {
		case faults.ManifestInvalid, faults.NameCollision, faults.DependencyCycle, faults.UnknownTemplate:
			return faultError(http.StatusUnprocessableEntity, f)
		case faults.Timeout:
			return faultError(http.StatusServiceUnavailable, f)
		default:
			return faultError(http.StatusBadGateway, f)
		}
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), "", "retry", nil)
}
