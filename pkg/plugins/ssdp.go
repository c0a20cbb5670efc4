package plugins

import (
	"bytes"
	"strings"

	"github.com/netweaver/flowmeter/pkg/descriptor"
	"github.com/netweaver/flowmeter/pkg/ipfixenc"
	"github.com/netweaver/flowmeter/pkg/plugin"
)

const (
	ieSSDPMethod = 7200
	ieSSDPST     = 7201
)

// SSDPRecord holds the HTTPU method line and the ST (search target)
// header of an SSDP (UPnP discovery, UDP/1900) message.
type SSDPRecord struct {
	Method string
	ST     string
}

// SSDP scans HTTPU-over-UDP discovery traffic.
type SSDP struct{ plugin.Base }

func NewSSDP() *SSDP { return &SSDP{} }

func (p *SSDP) Name() string { return "ssdp" }

func (p *SSDP) PostCreate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	if pkt.SrcPort != 1900 && pkt.DstPort != 1900 {
		return plugin.Continue
	}
	if rec, ok := scanSSDP(pkt.Payload[:pkt.PayloadLen]); ok {
		f.AddExtension(p.ID(), rec)
		return plugin.GetNoData
	}
	return plugin.Continue
}

func scanSSDP(b []byte) (*SSDPRecord, bool) {
	if !bytes.HasPrefix(b, []byte("M-SEARCH ")) && !bytes.HasPrefix(b, []byte("NOTIFY ")) &&
		!bytes.HasPrefix(b, []byte("HTTP/1.1 200")) {
		return nil, false
	}
	lines := bytes.Split(b, []byte("\r\n"))
	rec := &SSDPRecord{Method: strings.Fields(string(lines[0]))[0]}
	for _, line := range lines[1:] {
		lower := strings.ToLower(string(line))
		if strings.HasPrefix(lower, "st:") {
			rec.ST = strings.TrimSpace(string(line[3:]))
			break
		}
	}
	return rec, true
}

func (p *SSDP) GetText(f plugin.Flow) string {
	rec, ok := f.Extension(p.ID()).(*SSDPRecord)
	if !ok {
		return ""
	}
	return "ssdp(" + rec.Method + " " + rec.ST + ")"
}

func (p *SSDP) FillIPFIX(f plugin.Flow, buf []byte) int {
	rec, ok := f.Extension(p.ID()).(*SSDPRecord)
	if !ok {
		return 0
	}
	off := 0
	n := ipfixenc.PutVarLen(buf[off:], []byte(rec.Method))
	if n < 0 {
		return -1
	}
	off += n
	n = ipfixenc.PutVarLen(buf[off:], []byte(rec.ST))
	if n < 0 {
		return -1
	}
	off += n
	return off
}

func (p *SSDP) IPFIXTemplate() []plugin.TemplateField {
	return []plugin.TemplateField{
		{PEN: ipfixenc.CesnetPEN, FieldID: ieSSDPMethod, Length: 0xFFFF},
		{PEN: ipfixenc.CesnetPEN, FieldID: ieSSDPST, Length: 0xFFFF},
	}
}
