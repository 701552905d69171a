package manifest

// ApplyDefaults fills in the component-level defaults the original scaffolder
// applied silently: a backend/frontend component object present without a
// template slug defaults to fastapi/nextjs-pwa respectively.
func (m *Manifest) ApplyDefaults() {
	if m.Components.Backend != nil && m.Components.Backend.Template == "" {
		m.Components.Backend.Template = "fastapi"
	}
	if m.Components.Frontend != nil && m.Components.Frontend.Template == "" {
		m.Components.Frontend.Template = "nextjs-pwa"
	}
}
