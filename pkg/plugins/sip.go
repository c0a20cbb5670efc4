package plugins

import (
	"bytes"
	"strings"

	"github.com/netweaver/flowmeter/pkg/descriptor"
	"github.com/netweaver/flowmeter/pkg/ipfixenc"
	"github.com/netweaver/flowmeter/pkg/plugin"
)

const (
	ieSIPMethod  = 7140
	ieSIPCallID  = 7141
)

var sipMethods = []string{"INVITE", "ACK", "BYE", "CANCEL", "OPTIONS", "REGISTER", "SIP/2.0"}

// SIPRecord holds the request method and Call-ID of the first SIP message.
type SIPRecord struct {
	Method string
	CallID string
}

// SIP scans for SIP request/status lines and the Call-ID header.
type SIP struct{ plugin.Base }

func NewSIP() *SIP { return &SIP{} }

func (p *SIP) Name() string { return "sip" }

func (p *SIP) PostCreate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	if rec, ok := scanSIP(pkt.Payload[:pkt.PayloadLen]); ok {
		f.AddExtension(p.ID(), rec)
	}
	return plugin.Continue
}

func (p *SIP) PreUpdate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	if _, ok := f.Extension(p.ID()).(*SIPRecord); ok {
		return plugin.Continue
	}
	if rec, ok := scanSIP(pkt.Payload[:pkt.PayloadLen]); ok {
		f.AddExtension(p.ID(), rec)
	}
	return plugin.Continue
}

func scanSIP(b []byte) (*SIPRecord, bool) {
	var method string
	for _, m := range sipMethods {
		if bytes.HasPrefix(b, []byte(m+" ")) {
			method = m
			break
		}
	}
	if method == "" {
		return nil, false
	}
	rec := &SIPRecord{Method: method}
	for _, line := range bytes.Split(b, []byte("\r\n")) {
		key := strings.ToLower(string(line))
		if strings.HasPrefix(key, "call-id:") {
			rec.CallID = strings.TrimSpace(string(line[len("call-id:"):]))
			break
		}
		if strings.HasPrefix(key, "i:") {
			rec.CallID = strings.TrimSpace(string(line[len("i:"):]))
			break
		}
	}
	return rec, true
}

func (p *SIP) GetText(f plugin.Flow) string {
	rec, ok := f.Extension(p.ID()).(*SIPRecord)
	if !ok {
		return ""
	}
	return "sip(" + rec.Method + " " + rec.CallID + ")"
}

func (p *SIP) FillIPFIX(f plugin.Flow, buf []byte) int {
	rec, ok := f.Extension(p.ID()).(*SIPRecord)
	if !ok {
		return 0
	}
	off := 0
	n := ipfixenc.PutVarLen(buf[off:], []byte(rec.Method))
	if n < 0 {
		return -1
	}
	off += n
	n = ipfixenc.PutVarLen(buf[off:], []byte(rec.CallID))
	if n < 0 {
		return -1
	}
	off += n
	return off
}

func (p *SIP) IPFIXTemplate() []plugin.TemplateField {
	return []plugin.TemplateField{
		{PEN: ipfixenc.CesnetPEN, FieldID: ieSIPMethod, Length: 0xFFFF},
		{PEN: ipfixenc.CesnetPEN, FieldID: ieSIPCallID, Length: 0xFFFF},
	}
}
