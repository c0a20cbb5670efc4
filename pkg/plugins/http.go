package plugins

import (
	"bytes"
	"strings"

	"github.com/netweaver/flowmeter/pkg/descriptor"
	"github.com/netweaver/flowmeter/pkg/ipfixenc"
	"github.com/netweaver/flowmeter/pkg/plugin"
)

const (
	ieHTTPMethod = 7120
	ieHTTPHost   = 7121
)

var httpMethods = [][]byte{
	[]byte("GET "), []byte("POST "), []byte("HEAD "), []byte("PUT "),
	[]byte("DELETE "), []byte("OPTIONS "), []byte("CONNECT "), []byte("PATCH "),
}

// HTTPRecord holds the request method and Host header of an HTTP/1.x
// request line found via plain text scanning.
type HTTPRecord struct {
	Method string
	Host   string
}

// HTTP scans for an HTTP/1.x request line and Host header.
type HTTP struct{ plugin.Base }

func NewHTTP() *HTTP { return &HTTP{} }

func (p *HTTP) Name() string { return "http" }

func (p *HTTP) PostCreate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	if rec, ok := scanHTTPRequest(pkt.Payload[:pkt.PayloadLen]); ok {
		f.AddExtension(p.ID(), rec)
	}
	return plugin.Continue
}

func (p *HTTP) PreUpdate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	if _, ok := f.Extension(p.ID()).(*HTTPRecord); ok {
		return plugin.Continue
	}
	if rec, ok := scanHTTPRequest(pkt.Payload[:pkt.PayloadLen]); ok {
		f.AddExtension(p.ID(), rec)
	}
	return plugin.Continue
}

func scanHTTPRequest(b []byte) (*HTTPRecord, bool) {
	var method string
	for _, m := range httpMethods {
		if bytes.HasPrefix(b, m) {
			method = strings.TrimSpace(string(m))
			break
		}
	}
	if method == "" {
		return nil, false
	}
	rec := &HTTPRecord{Method: method}
	lines := bytes.Split(b, []byte("\r\n"))
	for _, line := range lines {
		if idx := bytes.IndexByte(line, ':'); idx > 0 {
			key := strings.ToLower(strings.TrimSpace(string(line[:idx])))
			if key == "host" {
				rec.Host = strings.TrimSpace(string(line[idx+1:]))
				break
			}
		}
	}
	return rec, true
}

func (p *HTTP) GetText(f plugin.Flow) string {
	rec, ok := f.Extension(p.ID()).(*HTTPRecord)
	if !ok {
		return ""
	}
	return "http(" + rec.Method + " " + rec.Host + ")"
}

func (p *HTTP) FillIPFIX(f plugin.Flow, buf []byte) int {
	rec, ok := f.Extension(p.ID()).(*HTTPRecord)
	if !ok {
		return 0
	}
	off := 0
	n := ipfixenc.PutVarLen(buf[off:], []byte(rec.Method))
	if n < 0 {
		return -1
	}
	off += n
	n = ipfixenc.PutVarLen(buf[off:], []byte(rec.Host))
	if n < 0 {
		return -1
	}
	off += n
	return off
}

func (p *HTTP) IPFIXTemplate() []plugin.TemplateField {
	return []plugin.TemplateField{
		{PEN: ipfixenc.CesnetPEN, FieldID: ieHTTPMethod, Length: 0xFFFF},
		{PEN: ipfixenc.CesnetPEN, FieldID: ieHTTPHost, Length: 0xFFFF},
	}
}
