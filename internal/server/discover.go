package server

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/danielgtaylor/huma/v2"

	"github.com/infinity-templates/composer/internal/catalog"
)

// discoveryOperation describes one operation /discover accepts.
type discoveryOperation struct {
	Name           string   `json:"name"`
	RequiredParams []string `json:"required_params,omitempty"`
}

var discoveryOperations = []discoveryOperation{
	{Name: "list_categories"},
	{Name: "list_templates", RequiredParams: []string{"category"}},
	{Name: "get_template", RequiredParams: []string{"template_id"}},
	{Name: "compose_system", RequiredParams: []string{"system_name"}},
	{Name: "get_pipeline_stage", RequiredParams: []string{"stage"}},
	{Name: "get_capabilities"},
	{Name: "get_blueprint", RequiredParams: []string{"blueprint_name"}},
}

var pipelineStages = map[string]string{
	"validate":    "parse and schema-check the manifest",
	"resolve":     "expand seed templates into the full dependency closure",
	"order":       "topologically sort resolved templates for deterministic output",
	"plan":        "assign target paths and detect name collisions",
	"stage":       "render templated files into an isolated staging directory",
	"post_verify": "confirm every declared output file exists in staging",
	"promote":     "atomically move the staging directory into place",
}

var blueprints = map[string]map[string]any{
	"saas-starter": {
		"description": "backend + frontend + governance baseline for a hosted SaaS product",
		"manifest": map[string]any{
			"manifest_version": "1.0",
			"components": map[string]any{
				"backend":    map[string]any{"template": "fastapi"},
				"frontend":   map[string]any{"template": "dashboard"},
				"governance": map[string]bool{"tap_enforcement": true},
			},
		},
	},
	"ai-agent-fleet": {
		"description": "a backend plus a small fleet of AI agents sharing one memory backend",
		"manifest": map[string]any{
			"manifest_version": "1.0",
			"memory":           map[string]any{"backend": "redis", "ttl_seconds": 3600},
			"components": map[string]any{
				"backend":   map[string]any{"template": "fastapi"},
				"ai_agents": []map[string]any{{"template": "orchestrator"}, {"template": "builder"}},
			},
		},
	},
}

type discoverListResponse struct {
	Operations     []discoveryOperation `json:"operations"`
	CatalogVersion string               `json:"catalog_version"`
}

type discoverPostRequest struct {
	Operation string         `json:"operation"`
	Params    map[string]any `json:"params,omitempty"`
}

func registerDiscover(api huma.API, s *Server) {
	huma.Register(api, huma.Operation{
		OperationID: "discover-list",
		Method:      http.MethodGet,
		Path:        "/discover",
		Summary:     "List supported discovery operations",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body discoverListResponse `json:"body"`
	}, error) {
		return &struct {
			Body discoverListResponse `json:"body"`
		}{Body: discoverListResponse{
			Operations:     discoveryOperations,
			CatalogVersion: s.cfg.Catalog.Snapshot(),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "discover-run",
		Method:      http.MethodPost,
		Path:        "/discover",
		Summary:     "Run a discovery operation",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body discoverPostRequest `json:"body"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		body, err := runDiscovery(s, input.Body.Operation, input.Body.Params)
		if err != nil {
			return nil, err
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: body}, nil
	})
}

func runDiscovery(s *Server, operation string, params map[string]any) (map[string]any, huma.StatusError) {
	cat := s.cfg.Catalog
	op, ok := operationByName(operation)
	if !ok {
		return nil, newAPIError(http.StatusBadRequest, "unknown_operation", fmt.Sprintf("unknown discovery operation %q", operation), "operation", "check_catalog", nil)
	}
	for _, p := range op.RequiredParams {
		if _, present := params[p]; !present {
			return nil, newAPIError(http.StatusBadRequest, "missing_param", fmt.Sprintf("operation %q requires param %q", operation, p), p, "check_catalog", nil)
		}
	}

	switch operation {
	case "list_categories":
		return map[string]any{"categories": listCategories(cat)}, nil

	case "list_templates":
		category, _ := params["category"].(string)
		templates, ok := listTemplateSummaries(cat, category)
		if !ok {
			return nil, newAPIError(http.StatusBadRequest, "unknown_category", fmt.Sprintf("unknown category %q", category), "category", "check_catalog", nil)
		}
		return map[string]any{"category": category, "templates": templates}, nil

	case "get_template":
		templateID, _ := params["template_id"].(string)
		ref := parseTemplateID(templateID)
		desc, ok := cat.Resolve(ref)
		if !ok {
			return nil, newAPIError(http.StatusBadRequest, "unknown_template", fmt.Sprintf("unknown template %q", templateID), "template_id", "check_catalog", nil)
		}
		return map[string]any{
			"template_id": desc.Key().String(),
			"slug":        desc.Slug,
			"category":    string(desc.Category),
			"outputs":     desc.Outputs,
			"variables":   desc.Variables,
			"depends_on":  refStrings(desc.DependsOn),
		}, nil

	case "compose_system":
		systemName, _ := params["system_name"].(string)
		return map[string]any{
			"system_name": systemName,
			"note":        "compose_system is a stub; submit the full manifest to POST /compose",
		}, nil

	case "get_pipeline_stage":
		stage, _ := params["stage"].(string)
		desc, ok := pipelineStages[stage]
		if !ok {
			return nil, newAPIError(http.StatusBadRequest, "unknown_stage", fmt.Sprintf("unknown pipeline stage %q", stage), "stage", "check_catalog", nil)
		}
		return map[string]any{"stage": stage, "description": desc}, nil

	case "get_capabilities":
		return map[string]any{
			"categories":            listCategories(cat),
			"dispatcher_configured": s.cfg.Dispatcher.Configured(),
			"catalog_version":       cat.Snapshot(),
		}, nil

	case "get_blueprint":
		name, _ := params["blueprint_name"].(string)
		bp, ok := blueprints[name]
		if !ok {
			return nil, newAPIError(http.StatusBadRequest, "unknown_blueprint", fmt.Sprintf("unknown blueprint %q", name), "blueprint_name", "check_catalog", nil)
		}
		return map[string]any{"blueprint_name": name, "blueprint": bp}, nil
	}
	return nil, newAPIError(http.StatusBadRequest, "unknown_operation", "unreachable", "operation", "check_catalog", nil)
}

func operationByName(name string) (discoveryOperation, bool) {
	for _, op := range discoveryOperations {
		if op.Name == name {
			return op, true
		}
	}
	return discoveryOperation{}, false
}

func listCategories(cat *catalog.Catalog) map[string]int {
	out := make(map[string]int)
	for c, n := range cat.ListCategories() {
		out[string(c)] = n
	}
	return out
}

func listTemplateSummaries(cat *catalog.Catalog, category string) ([]map[string]any, bool) {
	c := catalog.Category(category)
	if !c.Valid() {
		return nil, false
	}
	descs := cat.ListTemplates(c)
	out := make([]map[string]any, 0, len(descs))
	for _, d := range descs {
		out = append(out, map[string]any{
			"template_id": d.Key().String(),
			"slug":        d.Slug,
			"category":    string(d.Category),
			"outputs":     d.Outputs,
			"depends_on":  refStrings(d.DependsOn),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i]["slug"].(string) < out[j]["slug"].(string) })
	return out, true
}

func refStrings(refs []catalog.DescriptorRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.String()
	}
	return out
}

func parseTemplateID(id string) catalog.DescriptorRef {
	for i := 0; i < len(id); i++ {
		if id[i] == ':' {
			return catalog.DescriptorRef{Category: catalog.Category(id[:i]), Slug: id[i+1:]}
		}
	}
	return catalog.DescriptorRef{Slug: id}
}
