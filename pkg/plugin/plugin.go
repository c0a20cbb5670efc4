// Package plugin defines the process-plugin framework: the four hook
// points, the action enum controlling cache flow, and the write-once
// registry plugins are registered into at startup, per SPEC_FULL.md §4.4
// and §9 ("virtual-dispatch plugin interface -> trait-object dispatch").
package plugin

import "github.com/netweaver/flowmeter/pkg/descriptor"

// Action is returned by a hook to steer the flow cache's update sequence.
type Action int

const (
	// Continue proceeds to the next plugin's hook.
	Continue Action = iota
	// Flush aborts the remaining hooks, exports the flow (reason=PLUGIN),
	// and frees it.
	Flush
	// FlushWithReinsert exports the flow as PLUGIN, then treats the
	// current packet as the first packet of a brand new flow.
	FlushWithReinsert
	// GetNoData means this plugin declines further packets for this
	// flow; later hook invocations on it may be skipped.
	GetNoData
)

// Flow is the subset of flowcache.Flow's surface a plugin needs, kept as
// an interface here to avoid an import cycle between plugin and
// flowcache (flowcache.Flow implements this).
type Flow interface {
	AddExtension(pluginID int, record interface{})
	Extension(pluginID int) interface{}
	RemoveExtension(pluginID int)
}

// Plugin is the interface every process plugin implements. Only
// PostCreate is mandatory for a plugin to be useful; the others may be
// no-ops. Implementations must not retain pkt past the call, and must
// not call back into the flow cache.
type Plugin interface {
	// Name is the plugin's registration name, used in CLI option strings.
	Name() string
	// ID is the compact integer identity assigned at registration; flow
	// extensions are tagged with it.
	ID() int
	// SetID is called once by the registry at registration time.
	SetID(id int)

	PostCreate(f Flow, pkt *descriptor.Packet) Action
	PreUpdate(f Flow, pkt *descriptor.Packet) Action
	PostUpdate(f Flow, pkt *descriptor.Packet) Action
	PreExport(f Flow)

	// GetText renders this plugin's extension on f as a human-readable
	// string, or "" if the flow carries no record for this plugin.
	GetText(f Flow) string
	// FillIPFIX serializes this plugin's extension into buf, returning
	// the number of bytes written, or -1 if there was no room.
	FillIPFIX(f Flow, buf []byte) int
	// IPFIXTemplate returns the ordered (PEN, fieldID, length) triples
	// this plugin contributes to a flow's IPFIX template.
	IPFIXTemplate() []TemplateField

	// Finish is called once at worker shutdown, after the last flow has
	// been exported, for any end-of-run reporting.
	Finish(printStats bool)
}

// TemplateField names one IPFIX field a plugin contributes.
type TemplateField struct {
	PEN     uint32
	FieldID uint16
	Length  uint16 // 0xFFFF = variable length
}

// Base provides the ID bookkeeping every plugin needs and a set of no-op
// hook implementations; concrete plugins embed it and override what they
// need, the way a shared config block gets embedded rather than copied.
type Base struct {
	id int
}

func (b *Base) ID() int      { return b.id }
func (b *Base) SetID(id int) { b.id = id }

func (b *Base) PostCreate(Flow, *descriptor.Packet) Action { return Continue }
func (b *Base) PreUpdate(Flow, *descriptor.Packet) Action  { return Continue }
func (b *Base) PostUpdate(Flow, *descriptor.Packet) Action { return Continue }
func (b *Base) PreExport(Flow)                             {}
func (b *Base) GetText(Flow) string                        { return "" }
func (b *Base) FillIPFIX(Flow, []byte) int                  { return 0 }
func (b *Base) IPFIXTemplate() []TemplateField              { return nil }
func (b *Base) Finish(bool)                                 {}
