package catalog

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/user/buffalo/configs"
)

func isYAML(name string) bool {
	name = strings.ToLower(name)
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

// ensureDefaults seeds dir with the embedded definitions when it holds no
// YAML files yet.
func ensureDefaults(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read catalog dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && isYAML(entry.Name()) {
			return nil
		}
	}

	files, err := fs.ReadDir(configs.TestDefaults, "tests")
	if err != nil {
		return fmt.Errorf("list embedded defaults: %w", err)
	}
	for _, file := range files {
		content, err := configs.TestDefaults.ReadFile(path.Join("tests", file.Name()))
		if err != nil {
			return fmt.Errorf("read embedded default %q: %w", file.Name(), err)
		}
		target := filepath.Join(dir, file.Name())
		if err := os.WriteFile(target, content, 0o644); err != nil {
			return fmt.Errorf("write default %q: %w", target, err)
		}
	}
	return nil
}
