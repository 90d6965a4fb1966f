package sandbox

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"trainforge/internal/apperrors"
)

// pathKeys are the dataset manifest entries that hold filesystem paths.
var pathKeys = []string{"path", "train", "val", "test"}

// RewriteManifest reads a dataset manifest from the host, translates its
// path entries into sandbox paths, and writes the result next to the
// original as "<name>_sandbox.yaml". It returns the host path of the
// rewritten file. Keys other than the path entries are carried through
// untouched, so class names and download hints survive the rewrite.
func RewriteManifest(translator *PathTranslator, manifestPath string) (string, error) {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return "", apperrors.Environment("sandbox.manifest", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return "", apperrors.Validation("dataset_manifest_path", "malformed dataset manifest: "+err.Error())
	}

	for _, key := range pathKeys {
		if value, ok := doc[key].(string); ok && value != "" {
			doc[key] = translator.ToSandbox(value)
		}
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", apperrors.Internal("sandbox.manifest", err)
	}

	rewritten := sandboxManifestPath(manifestPath)
	if err := os.WriteFile(rewritten, out, 0o644); err != nil {
		return "", apperrors.Environment("sandbox.manifest", err)
	}
	return rewritten, nil
}

func sandboxManifestPath(manifestPath string) string {
	ext := filepath.Ext(manifestPath)
	base := strings.TrimSuffix(manifestPath, ext)
	return base + "_sandbox" + ext
}
