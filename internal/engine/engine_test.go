package engine_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/infinity-templates/composer/internal/catalog"
	"github.com/infinity-templates/composer/internal/engine"
	"github.com/infinity-templates/composer/internal/manifest"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func newTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "backend", "fastapi", "descriptor.yml"), `
slug: fastapi
category: backend
templated_files: ["**/*.py"]
variables:
  service_name: {default: "service"}
outputs: ["app/main.py"]
`)
	writeFile(t, filepath.Join(root, "backend", "fastapi", "app", "main.py"), "# {{system_name}} backend\nSERVICE = \"{{service_name}}\"\n")

	writeFile(t, filepath.Join(root, "ai", "research-agent", "descriptor.yml"), `
slug: research
category: ai_agent
templated_files: ["**/*.md"]
outputs: ["README.md"]
`)
	writeFile(t, filepath.Join(root, "ai", "research-agent", "README.md"), "# {{instance_name}} research agent for {{org}}\n")

	writeFile(t, filepath.Join(root, "ai", "orchestrator", "descriptor.yml"), `
slug: orchestrator
category: ai_agent
templated_files: ["**/*.md"]
outputs: ["README.md"]
`)
	writeFile(t, filepath.Join(root, "ai", "orchestrator", "README.md"), "# orchestrator for {{system_name}}\n")

	for _, infra := range []string{"docker-compose", "github-actions-ci"} {
		writeFile(t, filepath.Join(root, "infra", infra, "descriptor.yml"), fmt.Sprintf(`
slug: %s
category: infrastructure
outputs: ["README.md"]
`, infra))
		writeFile(t, filepath.Join(root, "infra", infra, "README.md"), "# "+infra+"\n")
	}
	for _, gov := range []string{"tap-enforcement", "test-coverage-gate", "security-gate"} {
		writeFile(t, filepath.Join(root, "governance", gov, "descriptor.yml"), fmt.Sprintf(`
slug: %s
category: governance
outputs: ["README.md"]
`, gov))
		writeFile(t, filepath.Join(root, "governance", gov, "README.md"), "# "+gov+"\n")
	}

	c, err := catalog.Load(root)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return c
}

func happyManifest() *manifest.Manifest {
	return &manifest.Manifest{
		ManifestVersion: manifest.ManifestVersion,
		SystemName:      "demo-x",
		Org:             "acme",
		Components: manifest.Components{
			Backend: &manifest.BackendComponent{Template: "fastapi"},
			AIAgents: []manifest.AIAgent{
				{Template: "research"},
				{Template: "orchestrator", InstanceName: "wf"},
			},
		},
	}
}

func TestComposeHappyPath(t *testing.T) {
	e := engine.New(newTestCatalog(t))
	out := t.TempDir()
	res, err := e.Compose(context.Background(), engine.ComposeOptions{
		Manifest:   happyManifest(),
		OutputRoot: out,
	})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if res.Report.FilesWritten == 0 {
		t.Fatalf("expected files written")
	}
	root := filepath.Join(out, "demo-x")
	for _, p := range []string{
		"backend", "agents/research", "agents/wf", "manifest.json", "system-metadata.json",
		"infrastructure/docker-compose", "infrastructure/github-actions-ci",
		"governance/tap-enforcement", "governance/test-coverage-gate", "governance/security-gate",
	} {
		if _, err := os.Stat(filepath.Join(root, p)); err != nil {
			t.Fatalf("expected %s to exist: %v", p, err)
		}
	}
}

func TestComposeInfrastructureToggleDisabled(t *testing.T) {
	e := engine.New(newTestCatalog(t))
	out := t.TempDir()
	m := happyManifest()
	m.Components.Infrastructure = map[string]bool{"docker": false, "github_actions": false}
	m.Components.Governance = map[string]bool{"tap_enforcement": false, "test_coverage_gate": false, "security_scan": false}
	res, err := e.Compose(context.Background(), engine.ComposeOptions{
		Manifest:   m,
		OutputRoot: out,
	})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	root := filepath.Join(out, "demo-x")
	for _, p := range []string{"infrastructure/docker-compose", "infrastructure/github-actions-ci", "governance/tap-enforcement"} {
		if _, err := os.Stat(filepath.Join(root, p)); err == nil {
			t.Fatalf("expected %s to be absent when its toggle is disabled", p)
		}
	}
	for _, n := range res.Plan.Nodes {
		if n.Descriptor.Category == "governance" || n.Descriptor.Category == "infrastructure" {
			t.Fatalf("expected no governance/infrastructure nodes in plan, got %+v", n)
		}
	}
}

func TestComposeUnknownToggleWarns(t *testing.T) {
	e := engine.New(newTestCatalog(t))
	m := happyManifest()
	m.Components.Infrastructure = map[string]bool{"bogus_toggle": true}
	res, err := e.Compose(context.Background(), engine.ComposeOptions{
		Manifest:   m,
		OutputRoot: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	found := false
	for _, w := range res.Report.Warnings {
		if w == `unknown infrastructure toggle "bogus_toggle" ignored` {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected unknown toggle warning, got %v", res.Report.Warnings)
	}
}

func TestComposeDeterministic(t *testing.T) {
	cat := newTestCatalog(t)
	e := engine.New(cat)
	out1, out2 := t.TempDir(), t.TempDir()

	m1 := happyManifest()
	m2 := happyManifest()
	if _, err := e.Compose(context.Background(), engine.ComposeOptions{Manifest: m1, OutputRoot: out1}); err != nil {
		t.Fatalf("compose 1: %v", err)
	}
	if _, err := e.Compose(context.Background(), engine.ComposeOptions{Manifest: m2, OutputRoot: out2}); err != nil {
		t.Fatalf("compose 2: %v", err)
	}

	b1, err := os.ReadFile(filepath.Join(out1, "demo-x", "backend", "app", "main.py"))
	if err != nil {
		t.Fatalf("read 1: %v", err)
	}
	b2, err := os.ReadFile(filepath.Join(out2, "demo-x", "backend", "app", "main.py"))
	if err != nil {
		t.Fatalf("read 2: %v", err)
	}
	if string(b1) != string(b2) {
		t.Fatalf("expected byte-identical backend output, got %q vs %q", b1, b2)
	}
}

func TestComposeUnknownTemplate(t *testing.T) {
	e := engine.New(newTestCatalog(t))
	m := happyManifest()
	m.Components.Backend = nil
	m.Components.AIAgents = nil
	m.Components.Business = &manifest.BusinessComponent{Template: "crm"}
	_, err := e.Compose(context.Background(), engine.ComposeOptions{
		Manifest:   m,
		OutputRoot: t.TempDir(),
	})
	if err == nil {
		t.Fatalf("expected unknown template error")
	}
}

func TestComposeNameCollision(t *testing.T) {
	e := engine.New(newTestCatalog(t))
	m := happyManifest()
	m.Components.AIAgents = []manifest.AIAgent{
		{Template: "research"},
		{Template: "research"},
	}
	_, err := e.Compose(context.Background(), engine.ComposeOptions{
		Manifest:   m,
		OutputRoot: t.TempDir(),
	})
	if err == nil {
		t.Fatalf("expected name collision error")
	}
}

func TestComposeDryRunWritesNothing(t *testing.T) {
	e := engine.New(newTestCatalog(t))
	out := t.TempDir()
	res, err := e.Compose(context.Background(), engine.ComposeOptions{
		Manifest:   happyManifest(),
		OutputRoot: out,
		DryRun:     true,
	})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if len(res.Plan.Nodes) == 0 {
		t.Fatalf("expected a plan")
	}
	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no files written on dry run, found %v", entries)
	}
}

func TestComposeAtomicOnPostVerifyFault(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "backend", "fastapi", "descriptor.yml"), `
slug: fastapi
category: backend
outputs: ["missing.txt"]
`)
	cat, err := catalog.Load(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	e := engine.New(cat)
	m := &manifest.Manifest{
		ManifestVersion: manifest.ManifestVersion,
		SystemName:      "demo-broken",
		Org:             "acme",
		Components: manifest.Components{
			Backend:        &manifest.BackendComponent{Template: "fastapi"},
			Infrastructure: map[string]bool{"docker": false, "github_actions": false},
			Governance:     map[string]bool{"tap_enforcement": false, "test_coverage_gate": false, "security_scan": false},
		},
	}
	out := t.TempDir()
	_, err = e.Compose(context.Background(), engine.ComposeOptions{Manifest: m, OutputRoot: out})
	if err == nil {
		t.Fatalf("expected post-verify fault")
	}
	if _, statErr := os.Stat(filepath.Join(out, "demo-broken")); statErr == nil {
		t.Fatalf("expected no partial output left behind")
	}
	entries, _ := os.ReadDir(out)
	for _, entry := range entries {
		t.Fatalf("expected staging dir removed, found %s", entry.Name())
	}
}
