package pkg

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

// countingDetails counts Release calls
type countingDetails struct {
	fields   map[string]string
	releases atomic.Int32
}

func (d *countingDetails) Field(name string) (string, bool) {
	v, ok := d.fields[name]
	return v, ok
}

func (d *countingDetails) Release() { d.releases.Add(1) }

// TestRegistry_Concurrent verifies that Registry is thread-safe
func TestRegistry_Concurrent(t *testing.T) {
	registry := NewRegistry()

	const numGoroutines = 100
	const packagesPerGoroutine = 10

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	// Spawn multiple goroutines that simultaneously add and query packages
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()

			for j := 0; j < packagesPerGoroutine; j++ {
				p := New(fmt.Sprintf("pkg%d", j), fmt.Sprintf("%d", id), "", nil)
				registry.Enter(p)

				if found := registry.Find(p.Key()); found == nil {
					t.Errorf("package %s not found after Enter", p)
				}
				registry.FindIdentifier(p.Identifier)
			}
		}(i)
	}
	wg.Wait()

	if got, want := registry.Len(), numGoroutines*packagesPerGoroutine; got != want {
		t.Errorf("Len() = %d, want %d", got, want)
	}
	if got := len(registry.AllPackages()); got != registry.Len() {
		t.Errorf("AllPackages() returned %d packages", got)
	}
}

func TestRegistry_EnterDuplicate(t *testing.T) {
	registry := NewRegistry()
	first := New("vim", "9.0", "", nil)
	dup := New("vim", "9.0", "", nil)
	other := New("vim", "8.2", "", nil)

	if got, added := registry.Enter(first); !added || got != first {
		t.Fatal("first Enter did not add the package")
	}
	if got, added := registry.Enter(dup); added || got != first {
		t.Error("duplicate key replaced the existing package")
	}
	if _, added := registry.Enter(other); !added {
		t.Error("different version rejected")
	}

	// FindIdentifier returns the first entered version
	if got := registry.FindIdentifier("vim"); got != first {
		t.Errorf("FindIdentifier() = %v, want %v", got, first)
	}
	if got := registry.Find(Key{"vim", "8.2"}); got != other {
		t.Errorf("Find() = %v", got)
	}
	if registry.Find(Key{"vim", "7"}) != nil || registry.FindIdentifier("nano") != nil {
		t.Error("lookup of missing package succeeded")
	}
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		in   string
		want Key
	}{
		{"vim", Key{"vim", ""}},
		{"vim@9.0", Key{"vim", "9.0"}},
		{"vim@", Key{"vim", ""}},
		{"@9.0", Key{"", "9.0"}},
		{"lib@foo@1:2.3", Key{"lib@foo", "1:2.3"}},
		{"", Key{}},
	}

	for _, tt := range tests {
		if got := ParseKey(tt.in); got != tt.want {
			t.Errorf("ParseKey(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestPackage_Identity(t *testing.T) {
	a := New("curl", "8.5", "", nil)
	b := New("curl", "8.5", "cURL", nil)
	c := New("curl", "8.6", "", nil)

	if a.Name != "curl" {
		t.Errorf("Name defaults to %q, want identifier", a.Name)
	}
	if a.Origin != Unknown || a.Section != SectionOther {
		t.Errorf("zero values: origin %s, section %s", a.Origin, a.Section)
	}
	if !a.Same(b) || a.Same(c) {
		t.Error("Same() does not compare identifier and version")
	}
	if a.Same(nil) || !(*Package)(nil).Same(nil) {
		t.Error("Same() mishandles nil")
	}
	if a.String() != "curl@8.5" {
		t.Errorf("String() = %q", a.String())
	}
}

func TestPackage_LazyFields(t *testing.T) {
	d := &countingDetails{fields: map[string]string{
		"Description": "command line tool",
		"Homepage":    "https://curl.se",
	}}
	p := New("curl", "8.5", "", d)

	if p.Description() != "command line tool" {
		t.Errorf("Description() = %q", p.Description())
	}
	if p.DepictionURL() != "https://curl.se" {
		t.Errorf("DepictionURL() without Depiction = %q", p.DepictionURL())
	}
	d.fields["Depiction"] = "https://repo.example/curl"
	if p.DepictionURL() != "https://repo.example/curl" {
		t.Errorf("Depiction does not win over Homepage: %q", p.DepictionURL())
	}
	if p.IconURL() != "" {
		t.Errorf("IconURL() = %q, want empty", p.IconURL())
	}

	if New("x", "1", "", nil).Description() != "" {
		t.Error("nil details produced a description")
	}
}

func TestPackage_ReleaseOnce(t *testing.T) {
	d := &countingDetails{}
	p := New("vim", "9.0", "", d)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Release()
		}()
	}
	wg.Wait()

	if n := d.releases.Load(); n != 1 {
		t.Errorf("details released %d times, want 1", n)
	}

	// Packages without details are fine to release
	New("nano", "7", "", nil).Release()
	ReleaseAll([]*Package{nil, New("a", "1", "", nil)})
}

func TestDetach(t *testing.T) {
	d := &countingDetails{fields: map[string]string{
		"Description": "editor",
		"Icon":        "",
		"Status":      "install ok installed",
	}}

	got := Detach(d)
	if len(got) != 1 || got["Description"] != "editor" {
		t.Errorf("Detach() = %v, want only the description", got)
	}
	if d.releases.Load() != 0 {
		t.Error("Detach released the source")
	}
	if len(Detach(nil)) != 0 {
		t.Error("Detach(nil) not empty")
	}
}

func TestFilter_Match(t *testing.T) {
	vim := New("vim", "9.0", "Vi IMproved", nil)
	vim.Section = SectionTextEditors
	curl := New("curl", "8.5", "", nil)
	curl.Section = SectionNetworking

	tests := []struct {
		name   string
		filter Filter
		want   []*Package
	}{
		{"zero filter", Filter{}, []*Package{vim, curl}},
		{"name query", Filter{Query: "improved"}, []*Package{vim}},
		{"identifier query", Filter{Query: "CUR"}, []*Package{curl}},
		{"section", Filter{Sections: []Section{SectionNetworking}}, []*Package{curl}},
		{"query and section", Filter{Query: "vim", Sections: []Section{SectionNetworking}}, []*Package{}},
		{"any of sections", Filter{Sections: []Section{SectionNetworking, SectionTextEditors}}, []*Package{vim, curl}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.filter.Apply([]*Package{vim, curl, nil})
			if len(got) != len(tt.want) {
				t.Fatalf("Apply() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Apply()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseSection(t *testing.T) {
	tests := []struct {
		in   string
		want Section
	}{
		{"Text Editors", SectionTextEditors},
		{"text_editors", SectionTextEditors},
		{"editors", SectionTextEditors},
		{"net", SectionNetworking},
		{"Terminal_Support", SectionTerminalSupport},
		{"shell", SectionTerminalSupport},
		{"libs", SectionSystem},
		{"devel", SectionDevelopment},
		{"", SectionOther},
		{"games", SectionOther},
	}

	for _, tt := range tests {
		if got := ParseSection(tt.in); got != tt.want {
			t.Errorf("ParseSection(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}

	if Section(-1).String() != "Other" || Section(99).String() != "Other" {
		t.Error("out of range sections do not format as Other")
	}
}
