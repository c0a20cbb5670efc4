package plugins

import (
	"fmt"

	"github.com/netweaver/flowmeter/pkg/descriptor"
	"github.com/netweaver/flowmeter/pkg/plugin"
)

const ieSciTag = 7180

// SciTags passes through the IP TOS/DSCP byte as a placeholder science-tag
// (the real scitags scheme encodes experiment/activity IDs in the DSCP
// field; without an allocation registry the raw byte is the best available
// signal).
type SciTags struct{ plugin.Base }

func NewSciTags() *SciTags { return &SciTags{} }

func (p *SciTags) Name() string { return "scitags" }

func (p *SciTags) PostCreate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	if pkt.IPTOS == 0 {
		return plugin.Continue
	}
	tos := pkt.IPTOS
	f.AddExtension(p.ID(), &tos)
	return plugin.Continue
}

func (p *SciTags) GetText(f plugin.Flow) string {
	tos, ok := f.Extension(p.ID()).(*uint8)
	if !ok {
		return ""
	}
	return fmt.Sprintf("scitags(dscp=%d)", *tos>>2)
}

func (p *SciTags) FillIPFIX(f plugin.Flow, buf []byte) int {
	tos, ok := f.Extension(p.ID()).(*uint8)
	if !ok {
		return 0
	}
	if len(buf) < 1 {
		return -1
	}
	buf[0] = *tos
	return 1
}

func (p *SciTags) IPFIXTemplate() []plugin.TemplateField {
	return []plugin.TemplateField{{PEN: 0, FieldID: ieSciTag, Length: 1}}
}
