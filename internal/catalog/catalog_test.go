package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/user/buffalo/internal/db"
)

func TestNewSeedsDirectoryWithDefaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tests")
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got := c.List()
	if len(got) < 5 {
		t.Fatalf("len(List()) = %d, want >= 5", len(got))
	}
	for _, id := range []string{"security-headers", "seo-basics", "accessibility"} {
		if c.Get(id) == nil {
			t.Fatalf("expected default test %q", id)
		}
		if _, err := os.Stat(filepath.Join(dir, id+".yaml")); err != nil {
			t.Fatalf("default file missing for %q: %v", id, err)
		}
	}
}

func TestNewWithoutDirectoryUsesEmbedded(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	def := c.Get("mobile-layout")
	if def == nil {
		t.Fatal("expected embedded mobile-layout test")
	}
	if def.Active == nil || *def.Active {
		t.Fatalf("mobile-layout Active = %v, want false", def.Active)
	}
}

func TestNewValidationFailure(t *testing.T) {
	cases := map[string]string{
		"missing-name.yaml": "id: missing-name\nname: \"\"\nprompt: do it\n",
		"bad-id.yaml":       "id: Bad_ID\nname: Bad\nprompt: do it\n",
		"no-prompt.yaml":    "id: no-prompt\nname: No prompt\nprompt: \"  \"\n",
	}
	for file, content := range cases {
		t.Run(file, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "tests")
			if err := os.MkdirAll(dir, 0o755); err != nil {
				t.Fatalf("mkdir: %v", err)
			}
			if err := os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644); err != nil {
				t.Fatalf("write file: %v", err)
			}
			if _, err := New(dir); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestReloadPicksUpEdits(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tests")
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "seo-basics.yaml"), []byte("id: seo-basics\nname: SEO basics\ncategory: seo\nprompt: check titles only\n"), 0o644); err != nil {
		t.Fatalf("overwrite file: %v", err)
	}
	if err := c.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if got := c.Get("seo-basics"); got == nil || got.Prompt != "check titles only" {
		t.Fatalf("after reload = %#v", got)
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	database, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	repo := db.NewCustomTestRepo(database.SQL())

	c, err := New("")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	total := len(c.List())

	inserted, updated, err := c.Sync(context.Background(), repo)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if inserted != total || updated != 0 {
		t.Fatalf("first Sync() = %d, %d, want %d, 0", inserted, updated, total)
	}

	inserted, updated, err = c.Sync(context.Background(), repo)
	if err != nil {
		t.Fatalf("second Sync() error = %v", err)
	}
	if inserted != 0 || updated != total {
		t.Fatalf("second Sync() = %d, %d, want 0, %d", inserted, updated, total)
	}

	stored, err := repo.ListBuffaloDefined(context.Background())
	if err != nil {
		t.Fatalf("ListBuffaloDefined() error = %v", err)
	}
	if len(stored) != total {
		t.Fatalf("stored = %d, want %d", len(stored), total)
	}
	for _, test := range stored {
		if test.ProjectID != "" || test.Type != db.ModeBuffaloDefined {
			t.Fatalf("unexpected stored test %#v", test)
		}
	}
}
