package plugins

import (
	"testing"

	"github.com/netweaver/flowmeter/pkg/descriptor"
	"github.com/netweaver/flowmeter/pkg/plugin"
)

// memFlow is a minimal plugin.Flow for exercising a single plugin in
// isolation, without pulling in the full flow cache.
type memFlow struct {
	exts map[int]interface{}
}

func newMemFlow() *memFlow { return &memFlow{exts: map[int]interface{}{}} }

func (f *memFlow) AddExtension(pluginID int, record interface{}) { f.exts[pluginID] = record }
func (f *memFlow) Extension(pluginID int) interface{}            { return f.exts[pluginID] }
func (f *memFlow) RemoveExtension(pluginID int)                  { delete(f.exts, pluginID) }

func TestPstatsRecordsUpToWindow(t *testing.T) {
	p := NewPstats(false, false)
	p.SetID(0)
	f := newMemFlow()

	p.PostCreate(f, &descriptor.Packet{IPPayloadLen: 10})
	for i := 0; i < pstatsMaxPackets+5; i++ {
		p.PreUpdate(f, &descriptor.Packet{IPPayloadLen: 20})
	}

	rec, ok := f.Extension(0).(*PstatsRecord)
	if !ok {
		t.Fatal("expected a PstatsRecord extension")
	}
	if rec.Count != pstatsMaxPackets {
		t.Fatalf("expected count capped at %d, got %d", pstatsMaxPackets, rec.Count)
	}
}

func TestPstatsDropZeroPayload(t *testing.T) {
	p := NewPstats(true, false)
	p.SetID(0)
	f := newMemFlow()

	p.PostCreate(f, &descriptor.Packet{IPPayloadLen: 0})
	rec := f.Extension(0).(*PstatsRecord)
	if rec.Count != 0 {
		t.Fatalf("expected zero-payload packet dropped, got count=%d", rec.Count)
	}
}

func TestPstatsFillIPFIXRoundTrip(t *testing.T) {
	p := NewPstats(false, false)
	p.SetID(0)
	f := newMemFlow()
	p.PostCreate(f, &descriptor.Packet{IPPayloadLen: 100, TCPFlags: 0x02, SourcePkt: true})
	p.PreUpdate(f, &descriptor.Packet{IPPayloadLen: 50, TCPFlags: 0x10, SourcePkt: false})

	buf := make([]byte, 256)
	n := p.FillIPFIX(f, buf)
	if n <= 0 {
		t.Fatalf("expected positive byte count, got %d", n)
	}

	tmpl := p.IPFIXTemplate()
	if len(tmpl) != 3 {
		t.Fatalf("expected 3 template fields, got %d", len(tmpl))
	}
	for _, field := range tmpl {
		if field.PEN == 0 {
			t.Fatalf("expected every pstats field to carry the Cesnet PEN, got %+v", field)
		}
	}
}

func TestPstatsNoExtensionYieldsEmptyText(t *testing.T) {
	p := NewPstats(false, false)
	p.SetID(0)
	f := newMemFlow()
	if txt := p.GetText(f); txt != "" {
		t.Fatalf("expected empty text with no extension, got %q", txt)
	}
	if n := p.FillIPFIX(f, make([]byte, 64)); n != 0 {
		t.Fatalf("expected 0 bytes with no extension, got %d", n)
	}
}

var _ plugin.Flow = (*memFlow)(nil)
