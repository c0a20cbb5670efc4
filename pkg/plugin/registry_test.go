package plugin

import (
	"testing"

	"github.com/netweaver/flowmeter/pkg/descriptor"
)

type stubPlugin struct {
	Base
	name string
}

func (s *stubPlugin) Name() string { return s.name }

func TestRegistryAssignsSequentialIDs(t *testing.T) {
	reg := NewRegistry()
	reg.Register("a", func() Plugin { return &stubPlugin{name: "a"} })
	reg.Register("b", func() Plugin { return &stubPlugin{name: "b"} })

	instances := reg.Instantiate()
	if len(instances) != 2 {
		t.Fatalf("expected 2 instances, got %d", len(instances))
	}
	if instances[0].ID() != 0 || instances[1].ID() != 1 {
		t.Fatalf("expected sequential IDs 0,1, got %d,%d", instances[0].ID(), instances[1].ID())
	}
	if reg.IndexOf("b") != 1 {
		t.Fatalf("expected IndexOf(b)=1, got %d", reg.IndexOf("b"))
	}
	if reg.IndexOf("missing") != -1 {
		t.Fatal("expected -1 for unregistered name")
	}
}

func TestRegistryInstantiateIsolation(t *testing.T) {
	reg := NewRegistry()
	reg.Register("a", func() Plugin { return &stubPlugin{name: "a"} })

	set1 := reg.Instantiate()
	set2 := reg.Instantiate()
	if set1[0] == set2[0] {
		t.Fatal("each Instantiate() call must produce independent instances")
	}
}

func TestRegistryDuplicateNamePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	reg := NewRegistry()
	reg.Register("dup", func() Plugin { return &stubPlugin{name: "dup"} })
	reg.Register("dup", func() Plugin { return &stubPlugin{name: "dup"} })
}

func TestBaseHooksAreNoOps(t *testing.T) {
	var b Base
	var f Flow // nil is fine, Base never touches it
	if a := b.PostCreate(f, &descriptor.Packet{}); a != Continue {
		t.Fatalf("expected Continue, got %v", a)
	}
	if txt := b.GetText(f); txt != "" {
		t.Fatalf("expected empty GetText, got %q", txt)
	}
	if n := b.FillIPFIX(f, nil); n != 0 {
		t.Fatalf("expected 0 bytes written, got %d", n)
	}
}
