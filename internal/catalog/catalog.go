package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/user/buffalo/configs"
	"github.com/user/buffalo/internal/db"
)

var testIDPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Syncer stores buffalo-defined tests and reports inserted and updated
// counts.
type Syncer interface {
	SyncBuffaloDefined(ctx context.Context, tests []*db.CustomTest) (int, int, error)
}

// Catalog holds the buffalo-defined test definitions. With a directory it
// reads YAML files there, seeding them from the embedded defaults; without
// one it serves the embedded defaults directly.
type Catalog struct {
	dir   string
	tests map[string]*TestDefinition
	mu    sync.RWMutex
}

func New(dir string) (*Catalog, error) {
	dir = strings.TrimSpace(dir)
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create catalog dir: %w", err)
		}
		if err := ensureDefaults(dir); err != nil {
			return nil, err
		}
	}

	c := &Catalog{
		dir:   dir,
		tests: make(map[string]*TestDefinition),
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) source() (fs.FS, string) {
	if c.dir == "" {
		return configs.TestDefaults, "tests"
	}
	return os.DirFS(c.dir), "."
}

func (c *Catalog) Reload() error {
	fsys, root := c.source()
	loaded, err := loadFS(fsys, root)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.tests = loaded
	c.mu.Unlock()
	return nil
}

func (c *Catalog) Get(id string) *TestDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	def, ok := c.tests[id]
	if !ok {
		return nil
	}
	return cloneDefinition(def)
}

func (c *Catalog) List() []*TestDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]*TestDefinition, 0, len(c.tests))
	for _, def := range c.tests {
		result = append(result, cloneDefinition(def))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name == result[j].Name {
			return result[i].ID < result[j].ID
		}
		return result[i].Name < result[j].Name
	})
	return result
}

// Sync writes every definition to the store, matched by name. Running it
// again with unchanged definitions inserts nothing.
func (c *Catalog) Sync(ctx context.Context, store Syncer) (int, int, error) {
	defs := c.List()
	tests := make([]*db.CustomTest, 0, len(defs))
	for _, def := range defs {
		tests = append(tests, def.customTest())
	}
	inserted, updated, err := store.SyncBuffaloDefined(ctx, tests)
	if err != nil {
		return 0, 0, fmt.Errorf("sync buffalo-defined tests: %w", err)
	}
	slog.Info("buffalo-defined tests synced", "inserted", inserted, "updated", updated, "total", len(tests))
	return inserted, updated, nil
}

func loadFS(fsys fs.FS, root string) (map[string]*TestDefinition, error) {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, fmt.Errorf("read catalog dir: %w", err)
	}

	loaded := make(map[string]*TestDefinition)
	names := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		def, err := loadFile(fsys, path.Join(root, entry.Name()))
		if err != nil {
			return nil, err
		}
		if _, exists := loaded[def.ID]; exists {
			return nil, fmt.Errorf("duplicate test id %q", def.ID)
		}
		if other, exists := names[def.Name]; exists {
			return nil, fmt.Errorf("tests %q and %q share the name %q", other, def.ID, def.Name)
		}
		loaded[def.ID] = def
		names[def.Name] = def.ID
	}
	return loaded, nil
}

func loadFile(fsys fs.FS, name string) (*TestDefinition, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read test definition %q: %w", name, err)
	}
	var def TestDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse test definition %q: %w", name, err)
	}
	if err := validate(&def); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &def, nil
}

func validate(def *TestDefinition) error {
	if def == nil {
		return errors.New("test definition is required")
	}
	if strings.TrimSpace(def.ID) == "" {
		return errors.New("id is required")
	}
	if !testIDPattern.MatchString(def.ID) {
		return errors.New("id must be lowercase alphanumeric with hyphens")
	}
	if strings.TrimSpace(def.Name) == "" {
		return errors.New("name is required")
	}
	def.Prompt = strings.TrimSpace(def.Prompt)
	if def.Prompt == "" {
		return errors.New("prompt is required")
	}
	return nil
}

func cloneDefinition(def *TestDefinition) *TestDefinition {
	if def == nil {
		return nil
	}
	out := *def
	if def.Active != nil {
		active := *def.Active
		out.Active = &active
	}
	return &out
}
