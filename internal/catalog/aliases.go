package catalog

// DirectoryAlias tables map a manifest's short slug onto the library's
// on-disk directory naming convention. Catalog loading does not consult
// them: a template's SourceDir is always the directory holding its
// descriptor.yml, and resolution is by (category, slug) only, so an
// unresolvable reference remains UnknownTemplate whatever its alias.
var (
	aiAgentAliases = map[string]string{
		"orchestrator": "orchestrator",
		"research":     "research-agent",
		"builder":      "builder-agent",
		"validator":    "validator-agent",
		"financial":    "financial-agent",
		"real-estate":  "real-estate-agent",
	}
	businessAliases = map[string]string{
		"crm":                "crm-automation",
		"lead-gen":           "lead-gen",
		"billing":            "billing",
		"saas-subscription":  "saas-subscription",
	}
	infraAliases = map[string]string{
		"docker-compose":    "docker-local-mesh",
		"github-actions-ci": "github-actions",
		"github-pages":      "github-pages",
		"github-projects":   "github-projects",
		"gitops":            "gitops",
		"observability":     "observability",
	}
)

// DirectoryAlias resolves a manifest slug to the library's on-disk directory
// name for the given category, falling back to a category-specific default
// naming convention when no alias is declared.
func DirectoryAlias(category Category, slug string) string {
	switch category {
	case CategoryAIAgent:
		if dir, ok := aiAgentAliases[slug]; ok {
			return dir
		}
		return slug + "-agent"
	case CategoryBusiness:
		if dir, ok := businessAliases[slug]; ok {
			return dir
		}
		return slug
	case CategoryInfrastructure:
		if dir, ok := infraAliases[slug]; ok {
			return dir
		}
		return slug
	default:
		return slug
	}
}
