package engine

import (
	"fmt"
	"sort"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/infinity-templates/composer/internal/catalog"
	"github.com/infinity-templates/composer/internal/faults"
	"github.com/infinity-templates/composer/internal/manifest"
)

// Node is one planned write operation: a resolved descriptor, its instance
// name (for ai_agent nodes), its target subpath, and its interpolation
// bindings in declared order.
type Node struct {
	Descriptor    catalog.TemplateDescriptor
	InstanceName  string
	TargetSubpath string
	Bindings      *orderedmap.OrderedMap[string, string]
	IsCore        bool
}

// CompositionPlan is the ordered list of nodes a manifest resolves to,
// discarded after the job that derived it completes.
type CompositionPlan struct {
	Nodes []Node
}

// seedRef is an explicit manifest component reference before dependency
// resolution pulls in its transitive prerequisites.
type seedRef struct {
	ref          catalog.DescriptorRef
	instanceName string
	config       map[string]string
}

// resolveSeeds builds the initial seed list from a manifest's explicit
// component references, in manifest declaration order: backend, frontend,
// each ai_agent, then business.
func resolveSeeds(m *manifest.Manifest) []seedRef {
	var seeds []seedRef
	if b := m.Components.Backend; b != nil {
		seeds = append(seeds, seedRef{ref: catalog.DescriptorRef{Category: catalog.CategoryBackend, Slug: b.Template}, config: b.Config})
	}
	if f := m.Components.Frontend; f != nil {
		seeds = append(seeds, seedRef{ref: catalog.DescriptorRef{Category: catalog.CategoryFrontend, Slug: f.Template}, config: f.Config})
	}
	for _, agent := range m.Components.AIAgents {
		seeds = append(seeds, seedRef{
			ref:          catalog.DescriptorRef{Category: catalog.CategoryAIAgent, Slug: agent.Template},
			instanceName: agent.EffectiveInstanceName(),
			config:       agent.Config,
		})
	}
	if biz := m.Components.Business; biz != nil {
		seeds = append(seeds, seedRef{ref: catalog.DescriptorRef{Category: catalog.CategoryBusiness, Slug: biz.Template}, config: biz.Config})
	}
	return seeds
}

// resolveGraph resolves every seed reference plus its transitive
// dependencies against the catalog. Any reference that fails to resolve is
// collected, never short-circuited, and reported together as
// faults.UnknownTemplate per spec.md §4.1 step 2.
func resolveGraph(cat *catalog.Catalog, seeds []seedRef) (map[catalog.DescriptorRef]catalog.TemplateDescriptor, []seedRef, error) {
	resolved := make(map[catalog.DescriptorRef]catalog.TemplateDescriptor)
	var missing []string
	queue := make([]catalog.DescriptorRef, 0, len(seeds))
	for _, s := range seeds {
		queue = append(queue, s.ref)
	}

	visited := make(map[catalog.DescriptorRef]bool)
	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]
		if visited[ref] {
			continue
		}
		visited[ref] = true
		desc, ok := cat.Resolve(ref)
		if !ok {
			missing = append(missing, ref.String())
			continue
		}
		resolved[ref] = desc
		for _, dep := range desc.DependsOn {
			if !visited[dep] {
				queue = append(queue, dep)
			}
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, nil, faults.New(faults.UnknownTemplate, fmt.Sprintf("unresolved templates: %v", missing)).WithDetails(map[string]any{"templates": missing})
	}
	return resolved, seeds, nil
}

// orderPlan topologically sorts the resolved descriptor set on its declared
// depends_on edges. Ties break lexicographically by (category, slug,
// instance_name) for determinism. A cycle fails with DependencyCycle,
// naming every descriptor that could not be ordered: the cycle's members
// plus any descriptor that depends on them.
func orderPlan(resolved map[catalog.DescriptorRef]catalog.TemplateDescriptor, seeds []seedRef) ([]Node, error) {
	instanceNames := make(map[catalog.DescriptorRef]string)
	for _, s := range seeds {
		if s.instanceName != "" {
			instanceNames[s.ref] = s.instanceName
		}
	}

	indegree := make(map[catalog.DescriptorRef]int)
	for ref := range resolved {
		indegree[ref] = 0
	}
	for ref, desc := range resolved {
		for _, dep := range desc.DependsOn {
			if _, ok := resolved[dep]; ok {
				indegree[ref]++
			}
		}
	}

	var ordered []catalog.DescriptorRef
	remaining := make(map[catalog.DescriptorRef]bool, len(resolved))
	for ref := range resolved {
		remaining[ref] = true
	}

	for len(remaining) > 0 {
		var ready []catalog.DescriptorRef
		for ref := range remaining {
			if indegree[ref] == 0 {
				ready = append(ready, ref)
			}
		}
		if len(ready) == 0 {
			var cyclic []string
			for ref := range remaining {
				cyclic = append(cyclic, ref.String())
			}
			sort.Strings(cyclic)
			return nil, faults.New(faults.DependencyCycle, fmt.Sprintf("dependency cycle among: %v", cyclic)).WithDetails(map[string]any{"cycle": cyclic})
		}
		sort.Slice(ready, func(i, j int) bool {
			return tieKey(ready[i], instanceNames) < tieKey(ready[j], instanceNames)
		})
		next := ready[0]
		ordered = append(ordered, next)
		delete(remaining, next)
		for ref := range remaining {
			desc := resolved[ref]
			for _, dep := range desc.DependsOn {
				if dep == next {
					indegree[ref]--
				}
			}
		}
	}

	nodes := make([]Node, 0, len(ordered)+1)
	nodes = append(nodes, Node{IsCore: true})
	for _, ref := range ordered {
		desc := resolved[ref]
		nodes = append(nodes, Node{
			Descriptor:   desc,
			InstanceName: instanceNames[ref],
		})
	}
	return nodes, nil
}

func tieKey(ref catalog.DescriptorRef, instanceNames map[catalog.DescriptorRef]string) string {
	return string(ref.Category) + "|" + ref.Slug + "|" + instanceNames[ref]
}

// assignTargets fills in each node's target subpath per spec.md §4.1 step 4
// and fails with NameCollision if two nodes target the same subpath.
func assignTargets(nodes []Node) error {
	seen := make(map[string][]string)
	for i := range nodes {
		n := &nodes[i]
		if n.IsCore {
			n.TargetSubpath = ""
			continue
		}
		switch n.Descriptor.Category {
		case catalog.CategoryBackend:
			n.TargetSubpath = "backend"
		case catalog.CategoryFrontend:
			n.TargetSubpath = "frontend"
		case catalog.CategoryAIAgent:
			n.TargetSubpath = "agents/" + n.InstanceName
		case catalog.CategoryBusiness:
			n.TargetSubpath = "business"
		case catalog.CategoryGovernance:
			n.TargetSubpath = "governance/" + n.Descriptor.Slug
		case catalog.CategoryIndustry:
			n.TargetSubpath = "industry/" + n.Descriptor.Slug
		case catalog.CategoryInfrastructure:
			n.TargetSubpath = "infrastructure/" + n.Descriptor.Slug
		case catalog.CategoryConnector:
			n.TargetSubpath = "connectors/" + n.Descriptor.Slug
		default:
			n.TargetSubpath = string(n.Descriptor.Category) + "/" + n.Descriptor.Slug
		}
		key := n.TargetSubpath
		label := fmt.Sprintf("%s:%s", n.Descriptor.Category, n.Descriptor.Slug)
		seen[key] = append(seen[key], label)
	}
	var offenders []string
	for path, labels := range seen {
		if len(labels) > 1 {
			offenders = append(offenders, fmt.Sprintf("%s (%v)", path, labels))
		}
	}
	if len(offenders) > 0 {
		sort.Strings(offenders)
		return faults.New(faults.NameCollision, fmt.Sprintf("target path collisions: %v", offenders)).WithDetails(map[string]any{"collisions": offenders})
	}
	return nil
}
