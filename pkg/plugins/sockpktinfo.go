package plugins

import (
	"encoding/hex"

	"github.com/netweaver/flowmeter/pkg/descriptor"
	"github.com/netweaver/flowmeter/pkg/ipfixenc"
	"github.com/netweaver/flowmeter/pkg/plugin"
)

const ieSockPktInfo = 7170

// SockPktInfo passes through hardware-supplied metadata windows (e.g. a
// smart-NIC's per-packet side channel) attached to the packet descriptor's
// Custom field, capturing the first one seen per flow.
type SockPktInfo struct{ plugin.Base }

func NewSockPktInfo() *SockPktInfo { return &SockPktInfo{} }

func (p *SockPktInfo) Name() string { return "sockpktinfo" }

func (p *SockPktInfo) PostCreate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	if len(pkt.Custom) == 0 {
		return plugin.Continue
	}
	f.AddExtension(p.ID(), append([]byte(nil), pkt.Custom...))
	return plugin.Continue
}

func (p *SockPktInfo) GetText(f plugin.Flow) string {
	data, ok := f.Extension(p.ID()).([]byte)
	if !ok {
		return ""
	}
	return "sockpktinfo(" + hex.EncodeToString(data) + ")"
}

func (p *SockPktInfo) FillIPFIX(f plugin.Flow, buf []byte) int {
	data, ok := f.Extension(p.ID()).([]byte)
	if !ok {
		return 0
	}
	n := ipfixenc.PutVarLen(buf, data)
	if n < 0 {
		return -1
	}
	return n
}

func (p *SockPktInfo) IPFIXTemplate() []plugin.TemplateField {
	return []plugin.TemplateField{{PEN: ipfixenc.CesnetPEN, FieldID: ieSockPktInfo, Length: 0xFFFF}}
}
