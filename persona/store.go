// Package persona stores agent personas as markdown files with YAML
// frontmatter, one file per persona.
package persona

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a persona id is unknown.
var ErrNotFound = errors.New("persona not found")

// Persona defines an agent's identity and prompt material.
type Persona struct {
	ID              string `json:"id" yaml:"id"`
	Name            string `json:"name" yaml:"name"`
	SystemPrompt    string `json:"system_prompt" yaml:"system_prompt"`
	MarkdownContext string `json:"markdown_context" yaml:"-"`
}

// frontmatter is the YAML header written at the top of each persona file.
type frontmatter struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	SystemPrompt string `yaml:"system_prompt"`
}

// Store is a file-backed persona registry rooted at a directory.
type Store struct {
	root string

	mu       sync.RWMutex
	personas map[string]Persona
}

// NewStore opens a store at root, creating the directory, seeding the
// default personas when absent, and loading every persona file.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create persona dir: %w", err)
	}
	s := &Store{root: root, personas: make(map[string]Persona)}
	if err := s.seedDefaults(); err != nil {
		return nil, err
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads every persona file under the store root.
func (s *Store) Reload() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("read persona dir: %w", err)
	}
	loaded := make(map[string]Persona)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		p, err := readPersonaFile(filepath.Join(s.root, entry.Name()))
		if err != nil {
			return err
		}
		if p != nil {
			loaded[p.ID] = *p
		}
	}
	s.mu.Lock()
	s.personas = loaded
	s.mu.Unlock()
	return nil
}

// List returns all personas sorted by id.
func (s *Store) List() []Persona {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Persona, 0, len(s.personas))
	for _, p := range s.personas {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns the persona with the given id.
func (s *Store) Get(id string) (Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.personas[id]
	if !ok {
		return Persona{}, fmt.Errorf("persona %s: %w", id, ErrNotFound)
	}
	return p, nil
}

// Save writes the persona to disk and updates the in-memory registry.
func (s *Store) Save(p Persona) (Persona, error) {
	if p.ID == "" {
		return Persona{}, fmt.Errorf("persona id cannot be blank")
	}
	if p.Name == "" {
		p.Name = p.ID
	}

	fm, err := yaml.Marshal(frontmatter{ID: p.ID, Name: p.Name, SystemPrompt: p.SystemPrompt})
	if err != nil {
		return Persona{}, fmt.Errorf("marshal frontmatter: %w", err)
	}
	content := fmt.Sprintf("---\n%s---\n\n%s\n",
		string(fm), strings.TrimRight(p.MarkdownContext, "\n"))

	path := filepath.Join(s.root, p.ID+".md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return Persona{}, fmt.Errorf("write persona %s: %w", path, err)
	}

	s.mu.Lock()
	s.personas[p.ID] = p
	s.mu.Unlock()
	return p, nil
}

// Delete removes a persona from disk and memory, reporting whether anything
// was removed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	_, existed := s.personas[id]
	delete(s.personas, id)
	s.mu.Unlock()

	path := filepath.Join(s.root, id+".md")
	if err := os.Remove(path); err == nil {
		return true
	}
	return existed
}

func (s *Store) seedDefaults() error {
	for _, def := range defaultPersonas {
		path := filepath.Join(s.root, def.ID+".md")
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if _, err := s.Save(def); err != nil {
			return err
		}
	}
	return nil
}

func readPersonaFile(path string) (*Persona, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona %s: %w", path, err)
	}
	text := string(raw)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	var fm frontmatter
	body := text
	if strings.HasPrefix(text, "---") {
		parts := strings.SplitN(text, "---", 3)
		if len(parts) == 3 {
			if err := yaml.Unmarshal([]byte(parts[1]), &fm); err != nil {
				return nil, fmt.Errorf("parse frontmatter %s: %w", path, err)
			}
			body = strings.TrimLeft(parts[2], "\n")
		}
	}

	id := fm.ID
	if id == "" {
		id = strings.TrimSuffix(filepath.Base(path), ".md")
	}
	name := fm.Name
	if name == "" {
		name = id
	}
	prompt := fm.SystemPrompt
	if prompt == "" {
		prompt = "You are a helpful agent."
	}
	return &Persona{ID: id, Name: name, SystemPrompt: prompt, MarkdownContext: body}, nil
}

var defaultPersonas = []Persona{
	{
		ID:           "planner",
		Name:         "Planner",
		SystemPrompt: "You are Planner, a meticulous senior engineer who produces concise step-by-step plans.",
		MarkdownContext: "## Internal Notes\n" +
			"- Specialize in planning multi-agent collaborations.\n" +
			"- Keep answers short and focus on next actions.\n",
	},
	{
		ID:           "researcher",
		Name:         "Researcher",
		SystemPrompt: "You are Researcher, an analytical assistant who cites concrete evidence from the provided context.",
		MarkdownContext: "### Context Guidelines\n" +
			"1. Skim the context markdown before answering.\n" +
			"2. Quote bullet numbers when referencing details.\n",
	},
}
