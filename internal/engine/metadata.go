package engine

import "time"

// ToolVersion is the composer's fingerprint embedded in every
// system-metadata.json, so downstream consumers can tell which composer
// build produced a given output tree.
const ToolVersion = "1.0.0"

// VariableBinding is one resolved interpolation value, flattened out of a
// node's ordered bindings for inclusion in system-metadata.json.
type VariableBinding struct {
	Node  string `json:"node"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// SystemMetadata is written to <output>/<system_name>/system-metadata.json.
// Every field except ComposedAt must be byte-identical across two
// compositions of the same manifest against the same catalog snapshot.
type SystemMetadata struct {
	ResolvedTemplates []string          `json:"resolved_templates"`
	PlanOrder         []string          `json:"plan_order"`
	ToolVersion       string            `json:"tool_version"`
	CatalogSnapshot   string            `json:"catalog_snapshot"`
	Variables         []VariableBinding `json:"variables"`
	ComposedAt        time.Time         `json:"composed_at"`
}

func buildMetadata(plan CompositionPlan, catalogSnapshot string, now time.Time) SystemMetadata {
	meta := SystemMetadata{
		ToolVersion:     ToolVersion,
		CatalogSnapshot: catalogSnapshot,
		ComposedAt:      now,
	}
	for _, n := range plan.Nodes {
		if n.IsCore {
			meta.PlanOrder = append(meta.PlanOrder, "core:root-structure")
			continue
		}
		key := n.Descriptor.Key().String()
		meta.ResolvedTemplates = append(meta.ResolvedTemplates, key)
		meta.PlanOrder = append(meta.PlanOrder, key)
		if n.Bindings == nil {
			continue
		}
		for pair := n.Bindings.Oldest(); pair != nil; pair = pair.Next() {
			meta.Variables = append(meta.Variables, VariableBinding{Node: key, Key: pair.Key, Value: pair.Value})
		}
	}
	return meta
}
