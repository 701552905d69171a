package manifest

import "fmt"

// FieldError names one manifest field that failed validation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var (
	backendTemplates  = set("fastapi", "express", "graphql", "websocket", "ai-inference", "event-worker")
	frontendTemplates = set("nextjs-pwa", "vite-react", "dashboard", "admin-panel", "saas-landing", "ai-console", "chat-ui")
	agentTemplates    = set("research", "builder", "validator", "financial", "real-estate", "orchestrator", "content-gen", "social-automation")
	businessTemplates = set("crm", "lead-gen", "billing", "saas-subscription", "marketplace", "portfolio-mgmt")
	memoryBackends    = set("in-memory", "redis", "postgres")
)

func set(values ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}
	return m
}

// Validate enforces every structural and enum rule spec.md §4.1/§6 describes.
// It collects every violation rather than stopping at the first one, so a
// caller can report the complete error map in a single round trip.
func (m *Manifest) Validate() []FieldError {
	var errs []FieldError

	if m.ManifestVersion != ManifestVersion {
		errs = append(errs, FieldError{"manifest_version", fmt.Sprintf("must be %q", ManifestVersion)})
	}
	if !systemNamePattern.MatchString(m.SystemName) {
		errs = append(errs, FieldError{"system_name", "must be kebab-case, 3-63 chars, starting with a letter"})
	}
	if m.Org == "" {
		errs = append(errs, FieldError{"org", "is required"})
	}
	if len(m.Description) > 500 {
		errs = append(errs, FieldError{"description", "must be at most 500 chars"})
	}

	if m.Components.Backend != nil {
		if _, ok := backendTemplates[m.Components.Backend.Template]; !ok {
			errs = append(errs, FieldError{"components.backend.template", "unknown backend template"})
		}
	}
	if m.Components.Frontend != nil {
		if _, ok := frontendTemplates[m.Components.Frontend.Template]; !ok {
			errs = append(errs, FieldError{"components.frontend.template", "unknown frontend template"})
		}
	}
	if m.Components.Business != nil {
		if _, ok := businessTemplates[m.Components.Business.Template]; !ok {
			errs = append(errs, FieldError{"components.business.template", "unknown business template"})
		}
	}

	seenInstances := make(map[string]int)
	for i, agent := range m.Components.AIAgents {
		field := fmt.Sprintf("components.ai_agents[%d]", i)
		if _, ok := agentTemplates[agent.Template]; !ok {
			errs = append(errs, FieldError{field + ".template", "unknown agent template"})
		}
		seenInstances[agent.EffectiveInstanceName()]++
	}
	for name, count := range seenInstances {
		if count > 1 {
			errs = append(errs, FieldError{"components.ai_agents", fmt.Sprintf("duplicate instance_name %q", name)})
		}
	}

	if m.Memory != nil && m.Memory.Backend != "" {
		if _, ok := memoryBackends[m.Memory.Backend]; !ok {
			errs = append(errs, FieldError{"memory.backend", "unknown memory backend"})
		}
	}
	if m.Memory != nil && m.Memory.TTLSeconds < 0 {
		errs = append(errs, FieldError{"memory.ttl_seconds", "must be >= 0"})
	}

	return errs
}
