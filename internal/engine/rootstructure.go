package engine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/infinity-templates/composer/internal/faults"
)

// rootStructureDirs are the directories every composition scaffolds ahead
// of any catalog-resolved template, regardless of which components the
// manifest requested.
var rootStructureDirs = []string{
	"backend", "frontend", "agents", "business",
	".github/workflows", "docs", "scripts",
}

// writeRootStructure creates the output tree's always-included scaffolding:
// the component directories, a root README, and a docker-compose stub. It
// is not a catalog-resolved descriptor — the original scaffolder always
// includes it first, and this implementation preserves that.
func writeRootStructure(stagingDir, systemName string) error {
	for _, d := range rootStructureDirs {
		if err := os.MkdirAll(filepath.Join(stagingDir, d), 0o755); err != nil {
			return faults.New(faults.FilesystemFault, err.Error())
		}
	}
	readme := fmt.Sprintf("# %s\n\nGenerated by the manifest-driven repository composer.\n", systemName)
	if err := os.WriteFile(filepath.Join(stagingDir, "README.md"), []byte(readme), 0o644); err != nil {
		return faults.New(faults.FilesystemFault, err.Error())
	}
	compose := "version: \"3.9\"\nservices:\n  # add services here\n"
	if err := os.WriteFile(filepath.Join(stagingDir, "docker-compose.yml"), []byte(compose), 0o644); err != nil {
		return faults.New(faults.FilesystemFault, err.Error())
	}
	return nil
}
