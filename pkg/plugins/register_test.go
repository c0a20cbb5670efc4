package plugins

import (
	"testing"

	"github.com/netweaver/flowmeter/pkg/plugin"
)

func TestRegisterAllNoDuplicatesAndStableOrder(t *testing.T) {
	reg := plugin.NewRegistry()
	RegisterAll(reg)

	names := reg.Names()
	if len(names) == 0 {
		t.Fatal("expected at least one registered plugin")
	}

	seen := make(map[string]bool, len(names))
	for i, name := range names {
		if seen[name] {
			t.Fatalf("duplicate plugin name %q in registration list", name)
		}
		seen[name] = true
		if reg.IndexOf(name) != i {
			t.Fatalf("expected %q at index %d, got %d", name, i, reg.IndexOf(name))
		}
	}

	instances := reg.Instantiate()
	if len(instances) != len(names) {
		t.Fatalf("expected %d instances, got %d", len(names), len(instances))
	}
	for i, p := range instances {
		if p.Name() != names[i] {
			t.Fatalf("instance %d name mismatch: got %q want %q", i, p.Name(), names[i])
		}
		if p.ID() != i {
			t.Fatalf("instance %d ID mismatch: got %d want %d", i, p.ID(), i)
		}
	}
}
