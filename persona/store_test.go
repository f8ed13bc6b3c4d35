package persona

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewStore_SeedsDefaults(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	for _, id := range []string{"planner", "researcher"} {
		p, err := s.Get(id)
		if err != nil {
			t.Fatalf("Get(%s): %v", id, err)
		}
		if p.SystemPrompt == "" {
			t.Errorf("persona %s has empty system prompt", id)
		}
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	root := t.TempDir()
	s, err := NewStore(root)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	saved, err := s.Save(Persona{
		ID:              "critic",
		SystemPrompt:    "You critique plans.",
		MarkdownContext: "## Heuristics\n- Be blunt.\n",
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saved.Name != "critic" {
		t.Errorf("Name = %q, want persona id as fallback", saved.Name)
	}

	got, err := s.Get("critic")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SystemPrompt != "You critique plans." {
		t.Errorf("SystemPrompt = %q", got.SystemPrompt)
	}

	raw, err := os.ReadFile(filepath.Join(root, "critic.md"))
	if err != nil {
		t.Fatalf("read persona file: %v", err)
	}
	if !strings.HasPrefix(string(raw), "---\n") {
		t.Errorf("persona file does not start with frontmatter:\n%s", raw)
	}
	if !strings.Contains(string(raw), "- Be blunt.") {
		t.Errorf("persona file missing markdown body:\n%s", raw)
	}
}

func TestStore_SaveRejectsBlankID(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := s.Save(Persona{SystemPrompt: "x"}); err == nil {
		t.Fatal("Save with blank id should fail")
	}
}

func TestStore_List_SortedByID(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := s.Save(Persona{ID: "zeta", SystemPrompt: "z"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := s.Save(Persona{ID: "alpha", SystemPrompt: "a"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	list := s.List()
	for i := 1; i < len(list); i++ {
		if list[i-1].ID > list[i].ID {
			t.Fatalf("list not sorted: %s before %s", list[i-1].ID, list[i].ID)
		}
	}
}

func TestStore_Delete(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if !s.Delete("planner") {
		t.Fatal("Delete(planner) = false, want true")
	}
	if _, err := s.Get("planner"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	if s.Delete("planner") {
		t.Error("second Delete(planner) = true, want false")
	}
}

func TestStore_ReloadPicksUpEditedFiles(t *testing.T) {
	root := t.TempDir()
	s, err := NewStore(root)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	// Drop a file written outside the store, frontmatter and body.
	content := "---\nid: scout\nname: Scout\nsystem_prompt: You scout ahead.\n---\n\n## Notes\n- travel light\n"
	if err := os.WriteFile(filepath.Join(root, "scout.md"), []byte(content), 0o644); err != nil {
		t.Fatalf("write scout.md: %v", err)
	}
	if err := s.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	p, err := s.Get("scout")
	if err != nil {
		t.Fatalf("Get(scout): %v", err)
	}
	if p.Name != "Scout" || p.SystemPrompt != "You scout ahead." {
		t.Errorf("persona = %+v", p)
	}
	if !strings.Contains(p.MarkdownContext, "travel light") {
		t.Errorf("MarkdownContext = %q, want the markdown body", p.MarkdownContext)
	}
}

func TestReadPersonaFile_DefaultsFromFilename(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "bare.md")
	if err := os.WriteFile(path, []byte("just some notes\n"), 0o644); err != nil {
		t.Fatalf("write bare.md: %v", err)
	}

	p, err := readPersonaFile(path)
	if err != nil {
		t.Fatalf("readPersonaFile: %v", err)
	}
	if p.ID != "bare" || p.Name != "bare" {
		t.Errorf("persona = %+v, want id/name from filename", p)
	}
	if p.SystemPrompt == "" {
		t.Error("SystemPrompt should fall back to a default")
	}
}
