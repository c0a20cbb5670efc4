package plugins

import (
	"fmt"

	"github.com/netweaver/flowmeter/pkg/descriptor"
	"github.com/netweaver/flowmeter/pkg/plugin"
)

const ieWGConfidence = 7220

// WGRecord accumulates a confidence score that this flow carries
// WireGuard: message types 1 (handshake init), 2 (handshake response), and
// 4 (transport data) observed as the first byte, followed by three zero
// reserved bytes, with handshake messages at their fixed lengths (148 and
// 92 bytes).
type WGRecord struct {
	Confidence uint8 // percentage, saturates at 100
	seenTypes  [5]bool
}

// WG scores flows by how closely they match the WireGuard message-type
// byte sequence; it does not attempt full cryptographic verification.
type WG struct{ plugin.Base }

func NewWG() *WG { return &WG{} }

func (p *WG) Name() string { return "wg" }

func wgScore(rec *WGRecord, b []byte) {
	if len(b) < 4 {
		return
	}
	t := b[0]
	if b[1] != 0 || b[2] != 0 || b[3] != 0 {
		return // reserved bytes must be zero
	}
	switch t {
	case 1:
		if len(b) == 148 {
			rec.seenTypes[1] = true
		}
	case 2:
		if len(b) == 92 {
			rec.seenTypes[2] = true
		}
	case 4:
		if len(b) >= 32 {
			rec.seenTypes[4] = true
		}
	default:
		return
	}
	score := 0
	for _, seen := range rec.seenTypes {
		if seen {
			score += 34
		}
	}
	if score > 100 {
		score = 100
	}
	rec.Confidence = uint8(score)
}

func (p *WG) PostCreate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	rec := &WGRecord{}
	wgScore(rec, pkt.Payload[:pkt.PayloadLen])
	f.AddExtension(p.ID(), rec)
	return plugin.Continue
}

func (p *WG) PreUpdate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	if rec, ok := f.Extension(p.ID()).(*WGRecord); ok {
		wgScore(rec, pkt.Payload[:pkt.PayloadLen])
	}
	return plugin.Continue
}

func (p *WG) GetText(f plugin.Flow) string {
	rec, ok := f.Extension(p.ID()).(*WGRecord)
	if !ok {
		return ""
	}
	return fmt.Sprintf("wg(confidence=%d)", rec.Confidence)
}

func (p *WG) FillIPFIX(f plugin.Flow, buf []byte) int {
	rec, ok := f.Extension(p.ID()).(*WGRecord)
	if !ok {
		return 0
	}
	if len(buf) < 1 {
		return -1
	}
	buf[0] = rec.Confidence
	return 1
}

func (p *WG) IPFIXTemplate() []plugin.TemplateField {
	return []plugin.TemplateField{{PEN: 0, FieldID: ieWGConfidence, Length: 1}}
}
