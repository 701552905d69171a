package engine

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/infinity-templates/composer/internal/faults"
	"github.com/infinity-templates/composer/internal/manifest"
)

// stageNode copies one descriptor's file tree into the staging directory's
// target subpath, interpolating templated files and copying binaries
// verbatim. The core node is handled separately by writeRootStructure.
func stageNode(m *manifest.Manifest, n Node, stagingDir string) (int, error) {
	if n.IsCore {
		if err := writeRootStructure(stagingDir, m.SystemName); err != nil {
			return 0, err
		}
		return len(rootStructureDirs) + 2, nil
	}
	if n.Descriptor.SourceDir == "" {
		return 0, faults.New(faults.FilesystemFault, fmt.Sprintf("descriptor %s has no source directory", n.Descriptor.Key()))
	}

	dest := filepath.Join(stagingDir, filepath.FromSlash(n.TargetSubpath))
	written := 0
	err := filepath.WalkDir(n.Descriptor.SourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(n.Descriptor.SourceDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.Name() == "descriptor.yml" && filepath.Dir(rel) == "." {
			return nil
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		relSlash := filepath.ToSlash(rel)
		if matchesGlob(n.Descriptor.TemplatedFiles, relSlash) && !isBinary(content) {
			content = []byte(interpolateText(string(content), n.Bindings))
		}
		if err := os.WriteFile(target, content, 0o644); err != nil {
			return err
		}
		written++
		return nil
	})
	if err != nil {
		return written, faults.New(faults.FilesystemFault, err.Error())
	}
	return written, nil
}

// postVerify confirms every descriptor-declared output path is present in
// staging. Every missing path is collected first, then all of them are
// reported together in a single PostVerifyFault.
func postVerify(plan CompositionPlan, stagingDir string) error {
	var missing []string
	for _, n := range plan.Nodes {
		if n.IsCore {
			continue
		}
		for _, out := range n.Descriptor.Outputs {
			full := filepath.Join(stagingDir, filepath.FromSlash(n.TargetSubpath), filepath.FromSlash(out))
			if _, err := os.Stat(full); err != nil {
				missing = append(missing, filepath.Join(n.TargetSubpath, out))
			}
		}
	}
	if len(missing) > 0 {
		return faults.New(faults.PostVerifyFault, fmt.Sprintf("missing declared outputs: %v", missing)).WithDetails(map[string]any{"missing": missing})
	}
	return nil
}

// promote atomically renames stagingDir onto the final output path. If the
// destination already exists and overwrite is false, it fails closed with
// FilesystemFault. A cross-device rename (EXDEV) is surfaced as
// FilesystemFault rather than silently falling back to a recursive copy,
// per the staging strategy design note that staging must share a filesystem
// with the output root.
func promote(stagingDir, finalDir string, overwrite bool) error {
	if _, err := os.Stat(finalDir); err == nil {
		if !overwrite {
			return faults.New(faults.FilesystemFault, fmt.Sprintf("output already exists: %s", finalDir))
		}
		backup := finalDir + ".bak"
		os.RemoveAll(backup)
		if err := os.Rename(finalDir, backup); err != nil {
			return faults.New(faults.FilesystemFault, fmt.Sprintf("backup existing output: %v", err))
		}
		if err := os.Rename(stagingDir, finalDir); err != nil {
			os.Rename(backup, finalDir)
			return translateRenameErr(err)
		}
		os.RemoveAll(backup)
		return nil
	}
	if err := os.Rename(stagingDir, finalDir); err != nil {
		return translateRenameErr(err)
	}
	return nil
}

func translateRenameErr(err error) error {
	if strings.Contains(err.Error(), "invalid cross-device link") {
		return faults.New(faults.FilesystemFault, "staging directory must be on the same filesystem as the output root")
	}
	return faults.New(faults.FilesystemFault, err.Error())
}
