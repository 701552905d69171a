package engine

import (
	"net/http"
	"path/filepath"
	"sort"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/infinity-templates/composer/internal/manifest"
)

// buildBindings computes a node's interpolation variable set in a
// deterministic, declared order: the fixed manifest-derived variables first
// (system_name, org, instance_name), then the descriptor's own declared
// variables in the order they appeared in descriptor.yml (falling back to
// the defaults on unsupplied variables), so system-metadata.json's emitted
// variable list is byte-stable across runs of the same manifest and catalog
// snapshot.
func buildBindings(m *manifest.Manifest, n Node, extra map[string]string) *orderedmap.OrderedMap[string, string] {
	bindings := orderedmap.New[string, string]()
	bindings.Set("system_name", m.SystemName)
	bindings.Set("org", m.Org)
	if n.InstanceName != "" {
		bindings.Set("instance_name", n.InstanceName)
	}

	order := n.Descriptor.VariableOrder
	if len(order) == 0 {
		for k := range n.Descriptor.Variables {
			order = append(order, k)
		}
		sort.Strings(order)
	}
	for _, key := range order {
		spec := n.Descriptor.Variables[key]
		value := spec.Default
		if v, ok := extra[key]; ok {
			value = v
		}
		bindings.Set(key, value)
	}
	return bindings
}

// interpolateText substitutes every {{key}} placeholder present in bindings.
// Placeholders with no binding are left untouched.
func interpolateText(content string, bindings *orderedmap.OrderedMap[string, string]) string {
	replacements := make([]string, 0, bindings.Len()*2)
	for pair := bindings.Oldest(); pair != nil; pair = pair.Next() {
		replacements = append(replacements, "{{"+pair.Key+"}}", pair.Value)
	}
	return strings.NewReplacer(replacements...).Replace(content)
}

// isBinary sniffs the first 512 bytes of content to decide whether a file
// should be interpolated or copied verbatim, mirroring the standard
// library's content-type detection convention.
func isBinary(content []byte) bool {
	n := len(content)
	if n > 512 {
		n = 512
	}
	ct := http.DetectContentType(content[:n])
	return !strings.HasPrefix(ct, "text/") && ct != "application/json" && ct != "application/xml"
}

// matchesGlob reports whether rel (a slash-separated relative path) matches
// any of the descriptor's templated_files glob patterns. "**" is expanded
// to mean "zero or more path segments", since descriptor.yml commonly
// declares patterns like "**/*.py" that filepath.Match alone can't express.
func matchesGlob(patterns []string, rel string) bool {
	for _, p := range patterns {
		if globMatch(p, rel) {
			return true
		}
	}
	return false
}

func globMatch(pattern, name string) bool {
	if !strings.Contains(pattern, "**") {
		ok, _ := filepath.Match(pattern, name)
		if ok {
			return true
		}
		return segmentsEqualLen(pattern, name)
	}
	idx := strings.Index(pattern, "**")
	prefix := strings.TrimSuffix(pattern[:idx], "/")
	suffix := strings.TrimPrefix(pattern[idx+2:], "/")
	if prefix != "" && !strings.HasPrefix(name, prefix) {
		return false
	}
	rest := strings.TrimPrefix(strings.TrimPrefix(name, prefix), "/")
	if suffix == "" {
		return true
	}
	segments := strings.Split(rest, "/")
	for i := range segments {
		candidate := strings.Join(segments[i:], "/")
		if ok, _ := filepath.Match(suffix, candidate); ok {
			return true
		}
	}
	return false
}

// segmentsEqualLen re-checks a non-"**" pattern segment-by-segment. It
// requires the pattern and rel to have the same number of segments, so a
// pattern like "Dockerfile" matches only a top-level Dockerfile, not one
// nested under a directory.
func segmentsEqualLen(pattern, name string) bool {
	pSeg := strings.Split(pattern, "/")
	nSeg := strings.Split(name, "/")
	if len(pSeg) != len(nSeg) {
		return false
	}
	for i := range pSeg {
		ok, _ := filepath.Match(pSeg[i], nSeg[i])
		if !ok {
			return false
		}
	}
	return true
}
