// Package prompts treats prompt text as data, per spec §9 ("Prompt
// storage"): the core consumes named "prompt sets" keyed by stage + call
// name, each with a system prompt, one or more user-template variants, and
// an optional tool definition. A strict loader validates the required keys
// at startup rather than failing lazily mid-run.
//
// This follows alanmeadows-otto's internal/prompts/loader.go pattern of an
// embedded built-in bundle with an optional on-disk override, adapted from
// one-template-per-file to one-YAML-document-per-set so a set's system/user
// variants/tool definition travel together.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var builtinFS embed.FS

// ToolDef is a native function/tool-call definition offered to the model
// alongside a prompt set, JSON-Schema-shaped like internal/llm.Tool.
type ToolDef struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Parameters  map[string]any `yaml:"parameters"`
}

// Set is one named prompt: a system prompt, one or more user-template
// variants (keyed by variant name, e.g. "json", "text"), and an optional
// tool definition for stages that prefer a native function call.
type Set struct {
	System string            `yaml:"system"`
	User   map[string]string `yaml:"user"`
	Tool   *ToolDef          `yaml:"tool"`
}

// UserVariant returns the named user-template variant, or the sole
// variant when there is exactly one and name is empty.
func (s Set) UserVariant(name string) (string, error) {
	if name == "" {
		if len(s.User) == 1 {
			for _, v := range s.User {
				return v, nil
			}
		}
		return "", fmt.Errorf("prompt set has %d user variants; a name is required", len(s.User))
	}
	v, ok := s.User[name]
	if !ok {
		return "", fmt.Errorf("prompt set has no user variant %q", name)
	}
	return v, nil
}

// Store holds every loaded prompt set, keyed by "stage.call".
type Store struct {
	sets map[string]Set
}

type document struct {
	Prompts map[string]map[string]Set `yaml:"prompts"` // stage -> call -> Set
}

// Load reads the embedded built-in bundle, then overlays an on-disk file
// at path (if non-empty and it exists), then validates every set has a
// non-empty system prompt and at least one user variant.
func Load(path string) (*Store, error) {
	builtin, err := builtinFS.ReadFile("default.yaml")
	if err != nil {
		return nil, fmt.Errorf("reading embedded prompt bundle: %w", err)
	}
	store, err := parse(builtin)
	if err != nil {
		return nil, fmt.Errorf("parsing embedded prompt bundle: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			overlay, err := parse(data)
			if err != nil {
				return nil, fmt.Errorf("parsing prompt override file %s: %w", path, err)
			}
			for k, v := range overlay.sets {
				store.sets[k] = v
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading prompt override file %s: %w", path, err)
		}
	}

	if err := store.validate(); err != nil {
		return nil, err
	}
	return store, nil
}

func parse(data []byte) (*Store, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	store := &Store{sets: make(map[string]Set)}
	for stage, calls := range doc.Prompts {
		for call, set := range calls {
			store.sets[key(stage, call)] = set
		}
	}
	return store, nil
}

func key(stage, call string) string {
	return stage + "." + call
}

func (s *Store) validate() error {
	for k, set := range s.sets {
		if strings.TrimSpace(set.System) == "" {
			return fmt.Errorf("prompt set %q: missing system prompt", k)
		}
		if len(set.User) == 0 {
			return fmt.Errorf("prompt set %q: no user template variants", k)
		}
	}
	return nil
}

// Get returns the named prompt set, erroring if it is missing — a missing
// prompt set is a startup/config error, never a silent empty-string stage.
func (s *Store) Get(stage, call string) (Set, error) {
	set, ok := s.sets[key(stage, call)]
	if !ok {
		return Set{}, fmt.Errorf("no prompt set registered for %s.%s", stage, call)
	}
	return set, nil
}

// Render executes a Go text/template prompt body against data.
func Render(tmplText string, data map[string]any) (string, error) {
	tmpl, err := template.New("prompt").Parse(tmplText)
	if err != nil {
		return "", fmt.Errorf("parsing prompt template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing prompt template: %w", err)
	}
	return buf.String(), nil
}
