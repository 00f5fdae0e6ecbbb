package persona

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jllopis/chorus/pkg/errors"
)

func TestRegistryLookupIsCaseInsensitive(t *testing.T) {
	reg, err := NewRegistry(Defaults()...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	p, ok := reg.Get("  Zen_Monk ")
	if !ok {
		t.Fatalf("expected zen_monk to resolve")
	}
	if p.Model != "tinyllama" {
		t.Errorf("unexpected model %q", p.Model)
	}
	if reg.Has("nope") {
		t.Errorf("unexpected persona nope")
	}
}

func TestRegistryKeepsRegistrationOrder(t *testing.T) {
	reg, err := NewRegistry(Defaults()...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	want := []string{"generalist", "zen_monk", "shakespeare", "quantum_mentor"}
	got := reg.Names()
	if len(got) != len(want) {
		t.Fatalf("Names() = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRegistryRejectsInvalidRoster(t *testing.T) {
	tests := []struct {
		name     string
		personas []Persona
	}{
		{"duplicate", []Persona{{Name: "A"}, {Name: "a"}}},
		{"empty name", []Persona{{Name: "  "}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.personas...)
			if !errors.HasCode(err, errors.CodeConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestAllows(t *testing.T) {
	open := Persona{Name: "open"}
	if !open.Allows("note") {
		t.Errorf("empty tool set should allow every tool")
	}
	scoped := Persona{Name: "scoped", Tools: []string{"Search"}}
	if !scoped.Allows("search") {
		t.Errorf("expected search to be allowed")
	}
	if scoped.Allows("note") {
		t.Errorf("expected note to be denied")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "personas.yaml")
	content := `
personas:
  - name: Pirate
    tone: salty
    model: llama3.2
    system_prompt: "Arr."
    tools: [note, search]
  - name: critic
    tone: sharp
    model: tinyllama
    system_prompt: "Find the flaws."
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	personas, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(personas) != 2 {
		t.Fatalf("expected 2 personas, got %d", len(personas))
	}
	if personas[0].ID() != "pirate" || len(personas[0].Tools) != 2 {
		t.Errorf("unexpected first persona %+v", personas[0])
	}

	empty := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(empty, []byte("personas: []\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadFile(empty); err == nil {
		t.Errorf("expected error for empty persona file")
	}
}

func TestRegistryReturnsCopies(t *testing.T) {
	reg, err := NewRegistry(Persona{Name: "scribe", Tools: []string{"note", "search"}})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	p, _ := reg.Get("scribe")
	p.Tools[0] = "rm"
	all := reg.All()
	all[0].Tools[1] = "rm"

	again, _ := reg.Get("scribe")
	if !again.Allows("note") || !again.Allows("search") {
		t.Errorf("registry persona changed through a returned copy: %v", again.Tools)
	}
	if again.Allows("rm") {
		t.Errorf("registry persona gained tool rm: %v", again.Tools)
	}
}
