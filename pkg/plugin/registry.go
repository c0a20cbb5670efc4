package plugin

import "fmt"

// Factory constructs a fresh plugin instance. Each worker instantiates its
// own set of plugins from the same ordered list of factories, so that no
// mutable plugin state is shared across workers (SPEC_FULL.md §5).
type Factory func() Plugin

// Registry holds the ordered, write-once table of registered plugin
// factories. It is built once at startup by explicit RegisterAll-style
// calls (SPEC_FULL.md §9) and is read-only thereafter: the table itself
// (names, order, IDs) is shared across workers; Instantiate gives each
// worker its own live Plugin objects.
type Registry struct {
	names     []string
	factories []Factory
	byName    map[string]int // name -> index
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]int)}
}

// Register appends a plugin factory in call order and assigns it the next
// compact plugin ID (the index it will occupy in every Instantiate()
// result). Panics on a duplicate name, matching the "no two plugins share
// a plugin ID" / fatal-on-programming-error policy of SPEC_FULL.md §7.
func (r *Registry) Register(name string, f Factory) {
	if _, exists := r.byName[name]; exists {
		panic(fmt.Sprintf("plugin: duplicate registration of %q", name))
	}
	r.byName[name] = len(r.factories)
	r.names = append(r.names, name)
	r.factories = append(r.factories, f)
}

// Instantiate builds one fresh Plugin per registered factory, in
// registration order, with IDs assigned to match registration order.
func (r *Registry) Instantiate() []Plugin {
	out := make([]Plugin, len(r.factories))
	for i, f := range r.factories {
		p := f()
		p.SetID(i)
		out[i] = p
	}
	return out
}

// Names returns the registered plugin names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// IndexOf returns the compact ID assigned to name, or -1 if unregistered.
func (r *Registry) IndexOf(name string) int {
	idx, ok := r.byName[name]
	if !ok {
		return -1
	}
	return idx
}
