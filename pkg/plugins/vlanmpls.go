package plugins

import (
	"fmt"

	"github.com/netweaver/flowmeter/pkg/descriptor"
	"github.com/netweaver/flowmeter/pkg/plugin"
)

const (
	ieVLANID    = 7040
	ieMPLSLabel = 7041
)

// VLANMPLS surfaces the outer VLAN tag and top MPLS label already decoded
// onto the packet descriptor by the header parser. Spec.md's component
// table lists VLAN and MPLS as one combined plugin entry.
type VLANMPLS struct{ plugin.Base }

func NewVLANMPLS() *VLANMPLS { return &VLANMPLS{} }

func (p *VLANMPLS) Name() string { return "vlan_mpls" }

type vlanMPLSRecord struct {
	vlanID uint16
	label  uint32
}

func (p *VLANMPLS) PostCreate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	if pkt.VLANID == 0 && pkt.MPLSTopLabel == 0 {
		return plugin.Continue
	}
	f.AddExtension(p.ID(), &vlanMPLSRecord{vlanID: pkt.VLANID, label: pkt.MPLSTopLabel.Label()})
	return plugin.Continue
}

func (p *VLANMPLS) GetText(f plugin.Flow) string {
	rec, ok := f.Extension(p.ID()).(*vlanMPLSRecord)
	if !ok {
		return ""
	}
	return fmt.Sprintf("vlan=%d,mpls_label=%d", rec.vlanID, rec.label)
}

func (p *VLANMPLS) FillIPFIX(f plugin.Flow, buf []byte) int {
	rec, ok := f.Extension(p.ID()).(*vlanMPLSRecord)
	if !ok {
		return 0
	}
	if len(buf) < 6 {
		return -1
	}
	buf[0] = byte(rec.vlanID >> 8)
	buf[1] = byte(rec.vlanID)
	buf[2] = byte(rec.label >> 24)
	buf[3] = byte(rec.label >> 16)
	buf[4] = byte(rec.label >> 8)
	buf[5] = byte(rec.label)
	return 6
}

func (p *VLANMPLS) IPFIXTemplate() []plugin.TemplateField {
	return []plugin.TemplateField{
		{PEN: 0, FieldID: ieVLANID, Length: 2},
		{PEN: 0, FieldID: ieMPLSLabel, Length: 4},
	}
}
