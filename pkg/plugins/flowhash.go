package plugins

import (
	"encoding/binary"
	"fmt"

	"github.com/netweaver/flowmeter/pkg/flowcache"
	"github.com/netweaver/flowmeter/pkg/plugin"
)

const ieFlowHash = 7020

// FlowHash records the flow's own fingerprint verbatim, useful for
// correlating IPFIX records with bucket occupancy externally.
type FlowHash struct{ plugin.Base }

func NewFlowHash() *FlowHash { return &FlowHash{} }

func (p *FlowHash) Name() string { return "flow_hash" }

func (p *FlowHash) GetText(f plugin.Flow) string {
	ff, ok := f.(*flowcache.Flow)
	if !ok {
		return ""
	}
	return fmt.Sprintf("flow_hash=%016x", ff.FlowHash)
}

func (p *FlowHash) FillIPFIX(f plugin.Flow, buf []byte) int {
	ff, ok := f.(*flowcache.Flow)
	if !ok || len(buf) < 8 {
		return -1
	}
	binary.BigEndian.PutUint64(buf, ff.FlowHash)
	return 8
}

func (p *FlowHash) IPFIXTemplate() []plugin.TemplateField {
	return []plugin.TemplateField{{PEN: 0, FieldID: ieFlowHash, Length: 8}}
}
