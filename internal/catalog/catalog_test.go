package catalog_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/infinity-templates/composer/internal/catalog"
)

func writeDescriptor(t *testing.T, root, dir, content string) {
	t.Helper()
	full := filepath.Join(root, dir)
	if err := os.MkdirAll(full, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(full, "descriptor.yml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}
}

func TestLoadSkipsInvalidDescriptor(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, root, "backend/fastapi", "slug: fastapi\ncategory: backend\n")
	writeDescriptor(t, root, "backend/broken", "not: valid: yaml: [")

	c, err := catalog.Load(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := c.Resolve(catalog.DescriptorRef{Category: catalog.CategoryBackend, Slug: "fastapi"}); !ok {
		t.Fatalf("expected fastapi to load")
	}
	if _, ok := c.Resolve(catalog.DescriptorRef{Category: catalog.CategoryBackend, Slug: "broken"}); ok {
		t.Fatalf("expected broken descriptor to be skipped")
	}
}

func TestListCategoriesAndTemplates(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, root, "backend/fastapi", "slug: fastapi\ncategory: backend\n")
	writeDescriptor(t, root, "backend/express", "slug: express\ncategory: backend\n")
	writeDescriptor(t, root, "frontend/nextjs-pwa", "slug: nextjs-pwa\ncategory: frontend\n")

	c, err := catalog.Load(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	counts := c.ListCategories()
	if counts[catalog.CategoryBackend] != 2 {
		t.Fatalf("expected 2 backend templates, got %d", counts[catalog.CategoryBackend])
	}
	templates := c.ListTemplates(catalog.CategoryBackend)
	if len(templates) != 2 || templates[0].Slug != "express" {
		t.Fatalf("expected sorted [express fastapi], got %v", templates)
	}
}

func TestSnapshotStableAcrossLoads(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, root, "backend/fastapi", "slug: fastapi\ncategory: backend\noutputs: [\"app/main.py\"]\n")

	c1, err := catalog.Load(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	c2, err := catalog.Load(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c1.Snapshot() != c2.Snapshot() {
		t.Fatalf("expected stable snapshot across loads")
	}
}

func TestDirectoryAliasFallsBackToConvention(t *testing.T) {
	if got := catalog.DirectoryAlias(catalog.CategoryAIAgent, "research"); got != "research-agent" {
		t.Fatalf("expected alias, got %s", got)
	}
	if got := catalog.DirectoryAlias(catalog.CategoryAIAgent, "content-gen"); got != "content-gen-agent" {
		t.Fatalf("expected fallback convention, got %s", got)
	}
}
