package plugins

import (
	"encoding/binary"
	"fmt"

	"github.com/netweaver/flowmeter/pkg/descriptor"
	"github.com/netweaver/flowmeter/pkg/plugin"
)

const (
	ieQUICVersion  = 7130
	ieQUICDCIDLen  = 7131
)

// QUICRecord holds the long-header version and DCID length of the first
// QUIC long-header packet seen.
type QUICRecord struct {
	Version uint32
	DCIDLen uint8
}

// QUIC detects QUIC long-header packets by the form bit and extracts the
// version and destination connection ID length.
type QUIC struct{ plugin.Base }

func NewQUIC() *QUIC { return &QUIC{} }

func (p *QUIC) Name() string { return "quic" }

func (p *QUIC) PostCreate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	if rec, ok := parseQUICLongHeader(pkt.Payload[:pkt.PayloadLen]); ok {
		f.AddExtension(p.ID(), rec)
		return plugin.GetNoData
	}
	return plugin.Continue
}

func (p *QUIC) PreUpdate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	if _, ok := f.Extension(p.ID()).(*QUICRecord); ok {
		return plugin.GetNoData
	}
	if rec, ok := parseQUICLongHeader(pkt.Payload[:pkt.PayloadLen]); ok {
		f.AddExtension(p.ID(), rec)
		return plugin.GetNoData
	}
	return plugin.Continue
}

func parseQUICLongHeader(b []byte) (*QUICRecord, bool) {
	if len(b) < 6 || b[0]&0x80 == 0 {
		return nil, false
	}
	version := binary.BigEndian.Uint32(b[1:5])
	dcidLen := b[5]
	if int(dcidLen)+6 > len(b) {
		return nil, false
	}
	return &QUICRecord{Version: version, DCIDLen: dcidLen}, true
}

func (p *QUIC) GetText(f plugin.Flow) string {
	rec, ok := f.Extension(p.ID()).(*QUICRecord)
	if !ok {
		return ""
	}
	return fmt.Sprintf("quic(version=%08x,dcid_len=%d)", rec.Version, rec.DCIDLen)
}

func (p *QUIC) FillIPFIX(f plugin.Flow, buf []byte) int {
	rec, ok := f.Extension(p.ID()).(*QUICRecord)
	if !ok {
		return 0
	}
	if len(buf) < 5 {
		return -1
	}
	binary.BigEndian.PutUint32(buf, rec.Version)
	buf[4] = rec.DCIDLen
	return 5
}

func (p *QUIC) IPFIXTemplate() []plugin.TemplateField {
	return []plugin.TemplateField{
		{PEN: 0, FieldID: ieQUICVersion, Length: 4},
		{PEN: 0, FieldID: ieQUICDCIDLen, Length: 1},
	}
}
