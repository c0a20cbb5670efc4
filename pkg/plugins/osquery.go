package plugins

import (
	"bytes"

	"github.com/netweaver/flowmeter/pkg/descriptor"
	"github.com/netweaver/flowmeter/pkg/ipfixenc"
	"github.com/netweaver/flowmeter/pkg/plugin"
)

const ieOSQueryTable = 7210

var osqueryTableProbe = []byte(`"table":"`)

// OSQueryRecord holds the table name of a detected osquery distributed
// query result, identified heuristically by its JSON shape.
type OSQueryRecord struct {
	Table string
}

// OSQuery probes for the osquery "table":"..." JSON pattern in HTTP-ish
// payloads, a lightweight detector rather than a full JSON parse.
type OSQuery struct{ plugin.Base }

func NewOSQuery() *OSQuery { return &OSQuery{} }

func (p *OSQuery) Name() string { return "osquery" }

func (p *OSQuery) PostCreate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	if rec, ok := probeOSQuery(pkt.Payload[:pkt.PayloadLen]); ok {
		f.AddExtension(p.ID(), rec)
		return plugin.GetNoData
	}
	return plugin.Continue
}

func probeOSQuery(b []byte) (*OSQueryRecord, bool) {
	idx := bytes.Index(b, osqueryTableProbe)
	if idx < 0 {
		return nil, false
	}
	start := idx + len(osqueryTableProbe)
	end := bytes.IndexByte(b[start:], '"')
	if end < 0 {
		return nil, false
	}
	return &OSQueryRecord{Table: string(b[start : start+end])}, true
}

func (p *OSQuery) GetText(f plugin.Flow) string {
	rec, ok := f.Extension(p.ID()).(*OSQueryRecord)
	if !ok {
		return ""
	}
	return "osquery(table=" + rec.Table + ")"
}

func (p *OSQuery) FillIPFIX(f plugin.Flow, buf []byte) int {
	rec, ok := f.Extension(p.ID()).(*OSQueryRecord)
	if !ok {
		return 0
	}
	n := ipfixenc.PutVarLen(buf, []byte(rec.Table))
	if n < 0 {
		return -1
	}
	return n
}

func (p *OSQuery) IPFIXTemplate() []plugin.TemplateField {
	return []plugin.TemplateField{{PEN: ipfixenc.CesnetPEN, FieldID: ieOSQueryTable, Length: 0xFFFF}}
}
