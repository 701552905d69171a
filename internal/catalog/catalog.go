package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

const descriptorFileName = "descriptor.yml"

// Catalog is a read-only, in-memory snapshot of every template the library
// root declared. It is loaded once at startup and never mutated afterward;
// handlers and engine workers share the same snapshot without locking.
type Catalog struct {
	descriptors map[DescriptorRef]TemplateDescriptor
	byCategory  map[Category][]TemplateDescriptor
	snapshot    string
}

// Load scans root for descriptor.yml files, treating each file's directory
// as one template. An unreadable or invalid descriptor logs a warning and
// is omitted from the catalog; it never fails the load. A directory with no
// descriptor.yml is not visited as a template and logs no warning.
func Load(root string) (*Catalog, error) {
	c := &Catalog{
		descriptors: make(map[DescriptorRef]TemplateDescriptor),
		byCategory:  make(map[Category][]TemplateDescriptor),
	}

	entries, err := findDescriptorFiles(root)
	if err != nil {
		return nil, fmt.Errorf("scan template root: %w", err)
	}

	for _, path := range entries {
		desc, err := loadDescriptor(path)
		if err != nil {
			log.Printf("catalog: skipping %s: %v", path, err)
			continue
		}
		if !desc.Category.Valid() {
			log.Printf("catalog: skipping %s: unknown category %q", path, desc.Category)
			continue
		}
		key := desc.Key()
		if _, exists := c.descriptors[key]; exists {
			log.Printf("catalog: skipping %s: duplicate descriptor for %s", path, key)
			continue
		}
		c.descriptors[key] = desc
		c.byCategory[desc.Category] = append(c.byCategory[desc.Category], desc)
	}

	for cat := range c.byCategory {
		sort.Slice(c.byCategory[cat], func(i, j int) bool {
			return c.byCategory[cat][i].Slug < c.byCategory[cat][j].Slug
		})
	}

	c.snapshot = computeSnapshot(c.descriptors)
	return c, nil
}

func findDescriptorFiles(root string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == descriptorFileName {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(found)
	return found, nil
}

func loadDescriptor(path string) (TemplateDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TemplateDescriptor{}, err
	}
	var desc TemplateDescriptor
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return TemplateDescriptor{}, fmt.Errorf("invalid descriptor yaml: %w", err)
	}
	if desc.Slug == "" {
		return TemplateDescriptor{}, fmt.Errorf("missing slug")
	}
	desc.SourceDir = filepath.Dir(path)
	order, err := extractVariableOrder(data)
	if err != nil {
		return TemplateDescriptor{}, fmt.Errorf("invalid descriptor yaml: %w", err)
	}
	desc.VariableOrder = order
	return desc, nil
}

// extractVariableOrder walks the descriptor's raw YAML node tree to recover
// the declaration order of the "variables" mapping, which is lost when
// decoding directly into a Go map.
func extractVariableOrder(data []byte) ([]string, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if len(root.Content) == 0 {
		return nil, nil
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, nil
	}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if doc.Content[i].Value != "variables" {
			continue
		}
		val := doc.Content[i+1]
		if val.Kind != yaml.MappingNode {
			return nil, nil
		}
		var order []string
		for j := 0; j+1 < len(val.Content); j += 2 {
			order = append(order, val.Content[j].Value)
		}
		return order, nil
	}
	return nil, nil
}

func computeSnapshot(descriptors map[DescriptorRef]TemplateDescriptor) string {
	keys := make([]string, 0, len(descriptors))
	for k := range descriptors {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		d := descriptors[descriptorRefFromString(k)]
		fmt.Fprintf(h, "%s|%v|%v\n", k, d.TemplatedFiles, d.Outputs)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// descriptorRefFromString is the inverse of DescriptorRef.String, used only
// to recompute a lookup key from the sorted snapshot key list.
func descriptorRefFromString(s string) DescriptorRef {
	for i, c := range s {
		if c == ':' {
			return DescriptorRef{Category: Category(s[:i]), Slug: s[i+1:]}
		}
	}
	return DescriptorRef{Slug: s}
}

// ListCategories enumerates every category present in the catalog with a
// cached template count.
func (c *Catalog) ListCategories() map[Category]int {
	out := make(map[Category]int, len(c.byCategory))
	for cat, descs := range c.byCategory {
		out[cat] = len(descs)
	}
	return out
}

// ListTemplates returns every descriptor in the given category, sorted by
// slug.
func (c *Catalog) ListTemplates(category Category) []TemplateDescriptor {
	return append([]TemplateDescriptor(nil), c.byCategory[category]...)
}

// Resolve looks up a descriptor by (category, slug).
func (c *Catalog) Resolve(ref DescriptorRef) (TemplateDescriptor, bool) {
	d, ok := c.descriptors[ref]
	return d, ok
}

// Snapshot returns the content hash of the aggregate descriptor set, used to
// fingerprint system-metadata.json and the /discover catalog version.
func (c *Catalog) Snapshot() string {
	return c.snapshot
}

// All returns every loaded descriptor, sorted by (category, slug) for
// deterministic iteration.
func (c *Catalog) All() []TemplateDescriptor {
	out := make([]TemplateDescriptor, 0, len(c.descriptors))
	for _, d := range c.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Slug < out[j].Slug
	})
	return out
}
