package plugins

import (
	"encoding/binary"
	"fmt"

	"github.com/netweaver/flowmeter/pkg/descriptor"
	"github.com/netweaver/flowmeter/pkg/ipfixenc"
	"github.com/netweaver/flowmeter/pkg/plugin"
)

const (
	ieMQTTType  = 7190
	ieMQTTTopic = 7191
)

// MQTTRecord holds the control packet type, and the topic for CONNECT's
// client-id or a PUBLISH's topic name.
type MQTTRecord struct {
	PacketType uint8
	Topic      string
}

// MQTT decodes the fixed header and, for CONNECT/PUBLISH, the topic.
type MQTT struct{ plugin.Base }

func NewMQTT() *MQTT { return &MQTT{} }

func (p *MQTT) Name() string { return "mqtt" }

func (p *MQTT) PostCreate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	if rec, ok := decodeMQTT(pkt.Payload[:pkt.PayloadLen]); ok {
		f.AddExtension(p.ID(), rec)
	}
	return plugin.Continue
}

func (p *MQTT) PreUpdate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	if _, ok := f.Extension(p.ID()).(*MQTTRecord); ok {
		return plugin.Continue
	}
	if rec, ok := decodeMQTT(pkt.Payload[:pkt.PayloadLen]); ok {
		f.AddExtension(p.ID(), rec)
	}
	return plugin.Continue
}

func decodeMQTT(b []byte) (*MQTTRecord, bool) {
	if len(b) < 2 {
		return nil, false
	}
	ptype := b[0] >> 4
	if ptype == 0 || ptype > 14 {
		return nil, false
	}
	// remaining-length varint
	off := 1
	for i := 0; i < 4 && off < len(b); i++ {
		if b[off]&0x80 == 0 {
			off++
			break
		}
		off++
	}
	rec := &MQTTRecord{PacketType: ptype}
	switch ptype {
	case 3: // PUBLISH
		if off+2 > len(b) {
			return rec, true
		}
		tlen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if off+tlen > len(b) {
			return rec, true
		}
		rec.Topic = string(b[off : off+tlen])
	case 1: // CONNECT
		// protocol name (2+n) + level(1) + flags(1) + keepalive(2), then client id
		if off+2 > len(b) {
			return rec, true
		}
		plen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2 + plen + 1 + 1 + 2
		if off+2 > len(b) {
			return rec, true
		}
		clen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if off+clen > len(b) {
			return rec, true
		}
		rec.Topic = string(b[off : off+clen])
	}
	return rec, true
}

func (p *MQTT) GetText(f plugin.Flow) string {
	rec, ok := f.Extension(p.ID()).(*MQTTRecord)
	if !ok {
		return ""
	}
	return fmt.Sprintf("mqtt(type=%d,topic=%s)", rec.PacketType, rec.Topic)
}

func (p *MQTT) FillIPFIX(f plugin.Flow, buf []byte) int {
	rec, ok := f.Extension(p.ID()).(*MQTTRecord)
	if !ok {
		return 0
	}
	if len(buf) < 1 {
		return -1
	}
	buf[0] = rec.PacketType
	n := ipfixenc.PutVarLen(buf[1:], []byte(rec.Topic))
	if n < 0 {
		return -1
	}
	return 1 + n
}

func (p *MQTT) IPFIXTemplate() []plugin.TemplateField {
	return []plugin.TemplateField{
		{PEN: 0, FieldID: ieMQTTType, Length: 1},
		{PEN: ipfixenc.CesnetPEN, FieldID: ieMQTTTopic, Length: 0xFFFF},
	}
}
