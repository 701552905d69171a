package memstore

import "github.com/infinity-templates/composer/internal/faults"

// Validate checks SystemState invariants. Unlike Rehydrate (which never
// fails on a validation problem), callers that write state reject invalid
// input outright.
func (s SystemState) Validate() []string {
	var problems []string
	if s.SystemName == "" {
		problems = append(problems, "system_name is required")
	}
	if s.Phase != "" && !validPhases[s.Phase] {
		problems = append(problems, "phase must be one of planning, building, testing, deployed")
	}
	if s.HealthScore < 0 || s.HealthScore > 100 {
		problems = append(problems, "health_score must be between 0 and 100")
	}
	return problems
}

func (d DecisionEntry) Validate() []string {
	var problems []string
	if d.DecisionType == "" {
		problems = append(problems, "decision_type is required")
	}
	if d.Description == "" {
		problems = append(problems, "description is required")
	}
	if d.Rationale == "" {
		problems = append(problems, "rationale is required")
	}
	if !validMadeBy[d.MadeBy] {
		problems = append(problems, "made_by must be human or agent")
	}
	return problems
}

func (e TelemetryEvent) Validate() []string {
	var problems []string
	if !validEventTypes[e.EventType] {
		problems = append(problems, "event_type is not a recognized telemetry event type")
	}
	if e.Component == "" {
		problems = append(problems, "component is required")
	}
	return problems
}

func faultFromProblems(kind faults.Kind, field string, problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	f := faults.New(kind, problems[0]).WithField(field)
	if len(problems) > 1 {
		f = f.WithDetails(map[string]any{"also": problems[1:]})
	}
	return f
}
