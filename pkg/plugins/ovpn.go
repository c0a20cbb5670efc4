package plugins

import (
	"fmt"

	"github.com/netweaver/flowmeter/pkg/descriptor"
	"github.com/netweaver/flowmeter/pkg/plugin"
)

const ieOVPNConfidence = 7230

// ovpnValidOpcodes are the OpenVPN P_* opcodes worth scoring (control hard
// reset, ACK, control soft reset, data channel).
var ovpnValidOpcodes = map[uint8]bool{1: true, 4: true, 5: true, 6: true, 7: true, 9: true}

// OVPNRecord accumulates a confidence score from repeated observation of
// valid OpenVPN opcodes (top 5 bits of the first payload byte).
type OVPNRecord struct {
	Confidence uint8
	matches    int
	total      int
}

// OVPN scores flows by how often their first payload byte's top-5-bit
// opcode matches a known OpenVPN P_* opcode.
type OVPN struct{ plugin.Base }

func NewOVPN() *OVPN { return &OVPN{} }

func (p *OVPN) Name() string { return "ovpn" }

func ovpnScore(rec *OVPNRecord, b []byte) {
	if len(b) == 0 {
		return
	}
	opcode := b[0] >> 3
	rec.total++
	if ovpnValidOpcodes[opcode] {
		rec.matches++
	}
	if rec.total > 0 {
		rec.Confidence = uint8(100 * rec.matches / rec.total)
	}
}

func (p *OVPN) PostCreate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	rec := &OVPNRecord{}
	ovpnScore(rec, pkt.Payload[:pkt.PayloadLen])
	f.AddExtension(p.ID(), rec)
	return plugin.Continue
}

func (p *OVPN) PreUpdate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	if rec, ok := f.Extension(p.ID()).(*OVPNRecord); ok {
		ovpnScore(rec, pkt.Payload[:pkt.PayloadLen])
	}
	return plugin.Continue
}

func (p *OVPN) GetText(f plugin.Flow) string {
	rec, ok := f.Extension(p.ID()).(*OVPNRecord)
	if !ok {
		return ""
	}
	return fmt.Sprintf("ovpn(confidence=%d)", rec.Confidence)
}

func (p *OVPN) FillIPFIX(f plugin.Flow, buf []byte) int {
	rec, ok := f.Extension(p.ID()).(*OVPNRecord)
	if !ok {
		return 0
	}
	if len(buf) < 1 {
		return -1
	}
	buf[0] = rec.Confidence
	return 1
}

func (p *OVPN) IPFIXTemplate() []plugin.TemplateField {
	return []plugin.TemplateField{{PEN: 0, FieldID: ieOVPNConfidence, Length: 1}}
}
