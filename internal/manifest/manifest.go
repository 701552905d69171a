// Package manifest models the declarative JSON description of a system the
// composer scaffolds, and its validation rules.
package manifest

import "regexp"

const ManifestVersion = "1.0"

var systemNamePattern = regexp.MustCompile(`^[a-z][a-z0-9-]{2,62}$`)

// Manifest is the top-level document accepted by the engine and the API.
type Manifest struct {
	ManifestVersion string        `json:"manifest_version"`
	SystemName      string        `json:"system_name"`
	Org             string        `json:"org"`
	Description     string        `json:"description,omitempty"`
	Components      Components    `json:"components"`
	Memory          *MemoryConfig `json:"memory,omitempty"`
	Integrations    *Integrations `json:"integrations,omitempty"`
	Metadata        *Metadata     `json:"metadata,omitempty"`
}

// Components enumerates every component slot a manifest may fill.
type Components struct {
	Backend        *BackendComponent  `json:"backend,omitempty"`
	Frontend       *FrontendComponent `json:"frontend,omitempty"`
	AIAgents       []AIAgent          `json:"ai_agents,omitempty"`
	Business       *BusinessComponent `json:"business,omitempty"`
	Infrastructure map[string]bool    `json:"infrastructure,omitempty"`
	Governance     map[string]bool    `json:"governance,omitempty"`
}

// BackendComponent selects a backend template.
type BackendComponent struct {
	Template string            `json:"template"`
	Config   map[string]string `json:"config,omitempty"`
}

// FrontendComponent selects a frontend template.
type FrontendComponent struct {
	Template string            `json:"template"`
	PWA      *bool             `json:"pwa,omitempty"`
	Config   map[string]string `json:"config,omitempty"`
}

// AIAgent is a single agent instance requested by the manifest.
type AIAgent struct {
	Template     string            `json:"template"`
	InstanceName string            `json:"instance_name,omitempty"`
	Config       map[string]string `json:"config,omitempty"`
}

// BusinessComponent selects a business/industry template.
type BusinessComponent struct {
	Template string            `json:"template"`
	Config   map[string]string `json:"config,omitempty"`
}

// MemoryConfig declares the memory backend the composed system will use.
// The composer never dials this backend; it is recorded as metadata only.
type MemoryConfig struct {
	Backend    string `json:"backend"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// Integrations toggles cross-cutting API surface on the composed system.
type Integrations struct {
	MobileAPI        *bool    `json:"mobile_api,omitempty"`
	OpenAICompatible *bool    `json:"openai_compatible,omitempty"`
	WebhookDispatch  *bool    `json:"webhook_dispatch,omitempty"`
	CORSOrigins      []string `json:"cors_origins,omitempty"`
}

// Metadata is free-form provenance carried verbatim into the output tree.
type Metadata struct {
	CreatedBy string   `json:"created_by,omitempty"`
	CreatedAt string   `json:"created_at,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// EffectiveInstanceName returns the agent's effective instance name,
// defaulting to its template slug when omitted, matching the original
// scaffolder's agent.get("instance_name", agent["template"]) behavior.
func (a AIAgent) EffectiveInstanceName() string {
	if a.InstanceName != "" {
		return a.InstanceName
	}
	return a.Template
}
