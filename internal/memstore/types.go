// Package memstore implements the disk-backed, append-only state, decision,
// and telemetry store shared between the composer and external pipeline
// runners.
package memstore

// SystemState is the singleton state file tracking a composed system's
// lifecycle.
type SystemState struct {
	ManifestVersion  string            `json:"manifest_version"`
	SystemName       string            `json:"system_name"`
	Org              string            `json:"org"`
	Phase            string            `json:"phase"`
	ComponentsStatus map[string]string `json:"components_status"`
	LastAction       string            `json:"last_action"`
	LastActionAt     string            `json:"last_action_at"`
	HealthScore      int               `json:"health_score"`
	Errors           []string          `json:"errors"`
	Warnings         []string          `json:"warnings"`
}

var validPhases = map[string]bool{
	"planning": true, "building": true, "testing": true, "deployed": true,
}

func defaultSystemState() SystemState {
	return SystemState{
		ManifestVersion:  "1.0",
		SystemName:       "unknown",
		Org:              "unknown",
		Phase:            "planning",
		ComponentsStatus: map[string]string{},
		LastAction:       "initialized",
		HealthScore:      100,
		Errors:           []string{},
		Warnings:         []string{},
	}
}

// DecisionEntry is one append-only decision log row.
type DecisionEntry struct {
	ID                string   `json:"id"`
	Timestamp         string   `json:"timestamp"`
	DecisionType      string   `json:"decision_type"`
	Description       string   `json:"description"`
	Rationale         string   `json:"rationale"`
	MadeBy            string   `json:"made_by"`
	Outcome           string   `json:"outcome,omitempty"`
	RelatedComponents []string `json:"related_components,omitempty"`
}

var validMadeBy = map[string]bool{"human": true, "agent": true}

// TelemetryEvent is one append-only telemetry log row.
type TelemetryEvent struct {
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	EventType string         `json:"event_type"`
	Component string         `json:"component"`
	Value     *float64       `json:"value,omitempty"`
	Unit      string         `json:"unit,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

var validEventTypes = map[string]bool{
	"workflow_run": true, "test_pass": true, "test_fail": true,
	"deploy": true, "error": true, "health_check": true,
}

// ArchitectureMap is the snapshot object recording a composed system's
// component graph.
type ArchitectureMap struct {
	Components      []string            `json:"components"`
	DependencyGraph map[string][]string `json:"dependency_graph"`
}
