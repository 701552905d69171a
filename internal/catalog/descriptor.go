package catalog

// TemplateDescriptor is static metadata about one template, loaded from a
// descriptor.yml file inside the template's directory.
type TemplateDescriptor struct {
	Slug           string                  `yaml:"slug"`
	Category       Category                `yaml:"category"`
	TemplatedFiles []string                `yaml:"templated_files"`
	Variables      map[string]VariableSpec `yaml:"variables"`
	Outputs        []string                `yaml:"outputs"`
	DependsOn      []DescriptorRef         `yaml:"depends_on"`

	// SourceDir is the resolved on-disk directory the descriptor was loaded
	// from; not part of the YAML shape.
	SourceDir string `yaml:"-"`

	// VariableOrder preserves the declaration order of the variables
	// mapping, which yaml.v3 loses when decoding into Variables
	// (map[string]VariableSpec). The engine uses it to build a
	// deterministic, declaration-ordered binding set for interpolation so
	// system-metadata.json's variable list is byte-stable across runs.
	VariableOrder []string `yaml:"-"`
}

// VariableSpec describes one descriptor-declared interpolation variable.
type VariableSpec struct {
	Required bool   `yaml:"required"`
	Default  string `yaml:"default"`
}

// DescriptorRef addresses another descriptor by (category, slug).
type DescriptorRef struct {
	Category Category `yaml:"category"`
	Slug     string   `yaml:"slug"`
}

// Key returns the (category, slug) identity of the descriptor.
func (d TemplateDescriptor) Key() DescriptorRef {
	return DescriptorRef{Category: d.Category, Slug: d.Slug}
}

func (r DescriptorRef) String() string {
	return string(r.Category) + ":" + r.Slug
}
