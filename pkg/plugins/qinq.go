package plugins

import (
	"fmt"

	"github.com/netweaver/flowmeter/pkg/descriptor"
	"github.com/netweaver/flowmeter/pkg/plugin"
)

const (
	ieQinQOuter = 7050
	ieQinQInner = 7051
)

// QinQ reports double-tagged (802.1ad) VLAN stacks: outer and inner tag,
// separate from VLANMPLS because QinQ presence is itself a signal (e.g.
// carrier-grade NAT boundaries) independent of the tag values.
type QinQ struct{ plugin.Base }

func NewQinQ() *QinQ { return &QinQ{} }

func (p *QinQ) Name() string { return "qinq" }

type qinqRecord struct{ outer, inner uint16 }

func (p *QinQ) PostCreate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	if pkt.VLANID2 == 0 {
		return plugin.Continue
	}
	f.AddExtension(p.ID(), &qinqRecord{outer: pkt.VLANID, inner: pkt.VLANID2})
	return plugin.Continue
}

func (p *QinQ) GetText(f plugin.Flow) string {
	rec, ok := f.Extension(p.ID()).(*qinqRecord)
	if !ok {
		return ""
	}
	return fmt.Sprintf("qinq(outer=%d,inner=%d)", rec.outer, rec.inner)
}

func (p *QinQ) FillIPFIX(f plugin.Flow, buf []byte) int {
	rec, ok := f.Extension(p.ID()).(*qinqRecord)
	if !ok {
		return 0
	}
	if len(buf) < 4 {
		return -1
	}
	buf[0], buf[1] = byte(rec.outer>>8), byte(rec.outer)
	buf[2], buf[3] = byte(rec.inner>>8), byte(rec.inner)
	return 4
}

func (p *QinQ) IPFIXTemplate() []plugin.TemplateField {
	return []plugin.TemplateField{
		{PEN: 0, FieldID: ieQinQOuter, Length: 2},
		{PEN: 0, FieldID: ieQinQInner, Length: 2},
	}
}
