package engine

import (
	"fmt"
	"sort"

	"github.com/infinity-templates/composer/internal/catalog"
	"github.com/infinity-templates/composer/internal/manifest"
)

// toggleDef is one declared infrastructure/governance toggle: its manifest
// key, the catalog slug it materializes as when enabled, and its default
// when the manifest omits the key entirely.
type toggleDef struct {
	key     string
	slug    string
	enabled bool
}

// infrastructureToggles and governanceToggles enumerate the free-form
// infrastructure/governance manifest maps, in the original scaffolder's
// resolve_dependencies order. Unknown keys become warnings in the
// composition report; known keys fall back to their documented default
// when the manifest omits them.
var (
	infrastructureToggles = []toggleDef{
		{key: "docker", slug: "docker-compose", enabled: true},
		{key: "github_actions", slug: "github-actions-ci", enabled: true},
		{key: "github_pages", slug: "github-pages", enabled: false},
		{key: "github_projects", slug: "github-projects", enabled: false},
	}
	governanceToggles = []toggleDef{
		{key: "tap_enforcement", slug: "tap-enforcement", enabled: true},
		{key: "test_coverage_gate", slug: "test-coverage-gate", enabled: true},
		{key: "security_scan", slug: "security-gate", enabled: true},
	}
)

// effectiveToggles resolves a manifest's free-form toggle map against a
// declared toggle table, returning the slugs of every enabled toggle (in
// declared order) plus a warning for every unrecognized key.
func effectiveToggles(defs []toggleDef, declared map[string]bool, label string) ([]string, []string) {
	known := make(map[string]bool, len(defs))
	for _, d := range defs {
		known[d.key] = true
	}

	var unknown []string
	for k := range declared {
		if !known[k] {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	var warnings []string
	for _, k := range unknown {
		warnings = append(warnings, fmt.Sprintf("unknown %s toggle %q ignored", label, k))
	}

	var slugs []string
	for _, d := range defs {
		enabled := d.enabled
		if v, ok := declared[d.key]; ok {
			enabled = v
		}
		if enabled {
			slugs = append(slugs, d.slug)
		}
	}
	return slugs, warnings
}

// toggleSeeds resolves a manifest's infrastructure and governance toggles
// into seed references, mirroring the original scaffolder's
// resolve_dependencies infra/governance sections: every toggle that is
// enabled (by default or explicit override) becomes a governance/ or
// infrastructure/ node in the plan, so it materializes as written files per
// the "governance toggles become files written by the composer" rule.
// Warnings cover unrecognized toggle keys.
func toggleSeeds(m *manifest.Manifest) ([]seedRef, []string) {
	var seeds []seedRef
	var warnings []string

	infraSlugs, w := effectiveToggles(infrastructureToggles, m.Components.Infrastructure, "infrastructure")
	warnings = append(warnings, w...)
	for _, slug := range infraSlugs {
		seeds = append(seeds, seedRef{ref: catalog.DescriptorRef{Category: catalog.CategoryInfrastructure, Slug: slug}})
	}

	govSlugs, w := effectiveToggles(governanceToggles, m.Components.Governance, "governance")
	warnings = append(warnings, w...)
	for _, slug := range govSlugs {
		seeds = append(seeds, seedRef{ref: catalog.DescriptorRef{Category: catalog.CategoryGovernance, Slug: slug}})
	}

	return seeds, warnings
}
