// Package ipfix implements the RFC 7011 IPFIX message exporter: template
// management, UDP/TCP transport, sequence numbering, and fixed-field plus
// per-plugin extension record serialization, per SPEC_FULL.md §6.
package ipfix

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/netweaver/flowmeter/pkg/descriptor"
	"github.com/netweaver/flowmeter/pkg/flowcache"
	"github.com/netweaver/flowmeter/pkg/plugin"
	"go.uber.org/zap"
)

const (
	ipfixVersion = 10

	setIDTemplate  = 2
	firstDataSetID = 256

	ipfixHeaderLen  = 16
	templateHdrLen  = 4 // set header: id(2) + length(2)
	templateRecHdr  = 4 // template id(2) + field count(2)
	fieldSpecLen    = 4 // field id(2) + length(2)
	fieldSpecPENLen = 4 // enterprise number, present when field id's top bit is set
)

// fixed flow-record field IDs (IANA IPFIX Information Elements).
const (
	ieSourceIPv4Address        = 8
	ieDestinationIPv4Address   = 12
	ieSourceIPv6Address        = 27
	ieDestinationIPv6Address   = 28
	ieProtocolIdentifier       = 4
	ieSourceTransportPort      = 7
	ieDestinationTransportPort = 11
	ieOctetDeltaCount          = 1
	iePacketDeltaCount         = 2

	// reversePEN is IANA's Reverse Information Element PEN (RFC 5103):
	// reverseOctetDeltaCount reuses element ID 1 under this PEN for the
	// destination-to-source byte count.
	reversePEN = 29305

	ieFlowStartMicroseconds = 154
	ieFlowEndMicroseconds   = 155
	ieTCPControlBits        = 6
	ieVlanID                = 58
)

// Config configures the exporter transport, template lifecycle, and
// outgoing message batching.
type Config struct {
	Protocol            string // "udp" or "tcp"
	Collector           string // host:port
	MTU                 int
	TemplateRefresh     time.Duration
	FlushInterval       time.Duration // max time a record waits in the pending buffer
	ReconnectMin        time.Duration
	ReconnectMax        time.Duration
	ObservationDomainID uint32
}

// pendingSet accumulates data records sharing one template ID until the
// next flush.
type pendingSet struct {
	templateID uint16
	records    [][]byte
	size       int // sum of len(records[i])
}

// Exporter batches flow records into IPFIX messages and ships them to a
// collector. While disconnected, each send makes one dial attempt; backoff
// doubles after every failed attempt up to ReconnectMax, but no delay is
// applied between attempts. Records queue in
// a pending message buffer (one pendingSet per IP version, since each
// carries a different fixed-field template) and are flushed together
// once the buffer would exceed the configured MTU, once FlushInterval has
// elapsed since the last flush, or on an explicit Flush call.
type Exporter struct {
	cfg     Config
	logger  *zap.Logger
	plugins []plugin.Plugin

	conn    net.Conn
	backoff time.Duration

	templateIDv4     uint16
	templateIDv6     uint16
	templateV4Bytes  []byte
	templateV6Bytes  []byte
	lastTemplateSent time.Time
	seq              uint32

	pendingV4 pendingSet
	pendingV6 pendingSet
	lastFlush time.Time
}

// New creates an Exporter. Dial failures are logged, not fatal; send
// retries the connection lazily.
func New(cfg Config, plugins []plugin.Plugin, logger *zap.Logger) *Exporter {
	if cfg.MTU <= 0 {
		cfg.MTU = 1400
	}
	if cfg.TemplateRefresh <= 0 {
		cfg.TemplateRefresh = 5 * time.Minute
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	e := &Exporter{
		cfg:          cfg,
		logger:       logger,
		plugins:      plugins,
		templateIDv4: firstDataSetID,
		templateIDv6: firstDataSetID + 1,
		backoff:      cfg.ReconnectMin,
	}
	e.pendingV4.templateID = e.templateIDv4
	e.pendingV6.templateID = e.templateIDv6
	e.templateV4Bytes = e.buildTemplateSet(e.templateIDv4, false)
	e.templateV6Bytes = e.buildTemplateSet(e.templateIDv6, true)
	e.lastFlush = time.Now()
	e.dial()
	return e
}

func (e *Exporter) dial() {
	proto := e.cfg.Protocol
	if proto == "" {
		proto = "udp"
	}
	conn, err := net.Dial(proto, e.cfg.Collector)
	if err != nil {
		e.logger.Warn("ipfix: dial failed, will retry lazily", zap.Error(err), zap.String("collector", e.cfg.Collector))
		return
	}
	e.conn = conn
	e.backoff = e.cfg.ReconnectMin
}

func (e *Exporter) reconnect() {
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
	e.dial()
	if e.conn == nil && e.backoff < e.cfg.ReconnectMax {
		e.backoff *= 2
		if e.backoff > e.cfg.ReconnectMax {
			e.backoff = e.cfg.ReconnectMax
		}
	}
}

// fixedFieldSpecs returns the address-family-specific fixed fields: IPv4
// (4-byte addresses, field IDs 8/12) or IPv6 (16-byte addresses, field
// IDs 27/28).
func fixedFieldSpecs(isV6 bool) []plugin.TemplateField {
	srcID, dstID, addrLen := uint16(ieSourceIPv4Address), uint16(ieDestinationIPv4Address), uint16(4)
	if isV6 {
		srcID, dstID, addrLen = ieSourceIPv6Address, ieDestinationIPv6Address, 16
	}
	return []plugin.TemplateField{
		{PEN: 0, FieldID: srcID, Length: addrLen},
		{PEN: 0, FieldID: dstID, Length: addrLen},
		{PEN: 0, FieldID: ieProtocolIdentifier, Length: 1},
		{PEN: 0, FieldID: ieSourceTransportPort, Length: 2},
		{PEN: 0, FieldID: ieDestinationTransportPort, Length: 2},
		{PEN: 0, FieldID: ieVlanID, Length: 2},
		{PEN: 0, FieldID: ieOctetDeltaCount, Length: 8},
		{PEN: reversePEN, FieldID: ieOctetDeltaCount, Length: 8},
		{PEN: 0, FieldID: iePacketDeltaCount, Length: 8},
		{PEN: 0, FieldID: ieFlowStartMicroseconds, Length: 8},
		{PEN: 0, FieldID: ieFlowEndMicroseconds, Length: 8},
		{PEN: 0, FieldID: ieTCPControlBits, Length: 1},
	}
}

// fieldSpecs returns the full ordered field list for one address family:
// its fixed flow fields, then every plugin's IPFIXTemplate() fields, in
// plugin registration order.
func (e *Exporter) fieldSpecs(isV6 bool) []plugin.TemplateField {
	fixed := fixedFieldSpecs(isV6)
	for _, p := range e.plugins {
		fixed = append(fixed, p.IPFIXTemplate()...)
	}
	return fixed
}

// buildTemplateSet renders the (periodically resent) template set for one
// address family's template ID.
func (e *Exporter) buildTemplateSet(templateID uint16, isV6 bool) []byte {
	specs := e.fieldSpecs(isV6)
	body := make([]byte, 0, templateRecHdr+len(specs)*(fieldSpecLen+fieldSpecPENLen))
	var recHdr [4]byte
	binary.BigEndian.PutUint16(recHdr[0:2], templateID)
	binary.BigEndian.PutUint16(recHdr[2:4], uint16(len(specs)))
	body = append(body, recHdr[:]...)

	for _, f := range specs {
		var spec [4]byte
		id := f.FieldID
		if f.PEN != 0 {
			id |= 0x8000
		}
		binary.BigEndian.PutUint16(spec[0:2], id)
		binary.BigEndian.PutUint16(spec[2:4], f.Length)
		body = append(body, spec[:]...)
		if f.PEN != 0 {
			var pen [4]byte
			binary.BigEndian.PutUint32(pen[:], f.PEN)
			body = append(body, pen[:]...)
		}
	}

	set := make([]byte, templateHdrLen+len(body))
	binary.BigEndian.PutUint16(set[0:2], setIDTemplate)
	binary.BigEndian.PutUint16(set[2:4], uint16(len(set)))
	copy(set[4:], body)
	return set
}

// fillFixedFields writes the fixed (non-plugin) flow fields into buf,
// branching on the flow's source address family, and returns the bytes
// written or -1 if buf is too small.
func fillFixedFields(buf []byte, f *flowcache.Flow) int {
	isV6 := f.Key.SrcIP.Version == descriptor.IPv6
	addrLen := 4
	if isV6 {
		addrLen = 16
	}
	need := addrLen*2 + 1 + 2 + 2 + 2 + 8 + 8 + 8 + 8 + 8 + 1
	if len(buf) < need {
		return -1
	}
	off := 0
	srcIP := f.Key.SrcIP.Bytes()
	dstIP := f.Key.DstIP.Bytes()
	copy(buf[off:off+addrLen], srcIP)
	off += addrLen
	copy(buf[off:off+addrLen], dstIP)
	off += addrLen
	buf[off] = f.Key.Proto
	off++
	binary.BigEndian.PutUint16(buf[off:off+2], f.Key.SrcPort)
	off += 2
	binary.BigEndian.PutUint16(buf[off:off+2], f.Key.DstPort)
	off += 2
	binary.BigEndian.PutUint16(buf[off:off+2], f.Key.VLANID)
	off += 2
	binary.BigEndian.PutUint64(buf[off:off+8], f.SrcBytes)
	off += 8
	binary.BigEndian.PutUint64(buf[off:off+8], f.DstBytes)
	off += 8
	binary.BigEndian.PutUint64(buf[off:off+8], f.SrcPackets+f.DstPackets)
	off += 8
	binary.BigEndian.PutUint64(buf[off:off+8], uint64(f.TimeFirst))
	off += 8
	binary.BigEndian.PutUint64(buf[off:off+8], uint64(f.TimeLast))
	off += 8
	buf[off] = f.SrcTCPFlags | f.DstTCPFlags
	off++
	return off
}

// buildDataRecord renders one flow's data record: fixed fields then each
// plugin's FillIPFIX in registration order. Returns nil if any field
// didn't fit (caller should drop the record rather than send a truncated
// one).
func (e *Exporter) buildDataRecord(f *flowcache.Flow, buf []byte) []byte {
	off := fillFixedFields(buf, f)
	if off < 0 {
		return nil
	}
	for _, p := range e.plugins {
		n := p.FillIPFIX(f, buf[off:])
		if n < 0 {
			return nil
		}
		off += n
	}
	return buf[:off]
}

// buildDataSet wraps a batch of already-rendered records sharing one
// template ID into a single IPFIX data set.
func buildDataSet(templateID uint16, records [][]byte) []byte {
	size := templateHdrLen
	for _, r := range records {
		size += len(r)
	}
	set := make([]byte, size)
	binary.BigEndian.PutUint16(set[0:2], templateID)
	binary.BigEndian.PutUint16(set[2:4], uint16(size))
	off := templateHdrLen
	for _, r := range records {
		off += copy(set[off:], r)
	}
	return set
}

// messageSize estimates the byte size of an IPFIX message flushed right
// now: the message header, the templates (if a refresh is due), and each
// non-empty pending data set.
func (e *Exporter) messageSize(now time.Time) int {
	size := ipfixHeaderLen
	if e.templateDue(now) {
		size += len(e.templateV4Bytes) + len(e.templateV6Bytes)
	}
	if len(e.pendingV4.records) > 0 {
		size += templateHdrLen + e.pendingV4.size
	}
	if len(e.pendingV6.records) > 0 {
		size += templateHdrLen + e.pendingV6.size
	}
	return size
}

func (e *Exporter) templateDue(now time.Time) bool {
	return e.lastTemplateSent.IsZero() || now.Sub(e.lastTemplateSent) >= e.cfg.TemplateRefresh
}

// Export appends one flow's record to the pending message buffer for its
// address family, flushing the buffer first if the record would push it
// past the configured MTU, and flushing immediately if FlushInterval has
// elapsed since the last flush. A record that doesn't fit even a fresh
// MTU-sized buffer is dropped, per SPEC_FULL.md §6.
func (e *Exporter) Export(f *flowcache.Flow) error {
	recBuf := make([]byte, e.cfg.MTU)
	rec := e.buildDataRecord(f, recBuf)
	if rec == nil {
		e.logger.Warn("ipfix: record did not fit MTU, dropping", zap.Uint64("flow_hash", f.FlowHash))
		return nil
	}
	recCopy := append([]byte(nil), rec...)

	isV6 := f.Key.SrcIP.Version == descriptor.IPv6
	pending := &e.pendingV4
	if isV6 {
		pending = &e.pendingV6
	}

	now := time.Now()
	extra := len(recCopy)
	if len(pending.records) == 0 {
		extra += templateHdrLen
	}
	if (len(e.pendingV4.records) > 0 || len(e.pendingV6.records) > 0) && e.messageSize(now)+extra > e.cfg.MTU {
		if err := e.Flush(); err != nil {
			e.logger.Warn("ipfix: flush before append failed", zap.Error(err))
		}
		pending = &e.pendingV4
		if isV6 {
			pending = &e.pendingV6
		}
	}

	pending.records = append(pending.records, recCopy)
	pending.size += len(recCopy)

	if now.Sub(e.lastFlush) >= e.cfg.FlushInterval {
		return e.Flush()
	}
	return nil
}

// Flush sends whatever is in the pending message buffer as one IPFIX
// message, resending templates if the refresh interval elapsed. It is a
// no-op if nothing is pending.
func (e *Exporter) Flush() error {
	if len(e.pendingV4.records) == 0 && len(e.pendingV6.records) == 0 {
		return nil
	}
	now := time.Now()
	needsTemplate := e.templateDue(now)

	var msg []byte
	if needsTemplate {
		msg = append(msg, e.templateV4Bytes...)
		msg = append(msg, e.templateV6Bytes...)
	}
	if len(e.pendingV4.records) > 0 {
		msg = append(msg, buildDataSet(e.templateIDv4, e.pendingV4.records)...)
	}
	if len(e.pendingV6.records) > 0 {
		msg = append(msg, buildDataSet(e.templateIDv6, e.pendingV6.records)...)
	}

	e.seq++
	var hdr [ipfixHeaderLen]byte
	binary.BigEndian.PutUint16(hdr[0:2], ipfixVersion)
	binary.BigEndian.PutUint16(hdr[2:4], uint16(ipfixHeaderLen+len(msg)))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(now.Unix()))
	binary.BigEndian.PutUint32(hdr[8:12], e.seq)
	binary.BigEndian.PutUint32(hdr[12:16], e.cfg.ObservationDomainID)

	full := append(hdr[:], msg...)
	err := e.send(full)

	e.pendingV4 = pendingSet{templateID: e.templateIDv4}
	e.pendingV6 = pendingSet{templateID: e.templateIDv6}
	e.lastFlush = now
	if err == nil && needsTemplate {
		e.lastTemplateSent = now
	}
	return err
}

// Tick flushes a pending message once FlushInterval has elapsed, so a
// flow exported during a quiet period doesn't wait indefinitely for the
// buffer to fill or for another Export call to notice. Workers call this
// from their periodic sweep alongside flow cache expiry.
func (e *Exporter) Tick(now time.Time) {
	if len(e.pendingV4.records) == 0 && len(e.pendingV6.records) == 0 {
		return
	}
	if now.Sub(e.lastFlush) < e.cfg.FlushInterval {
		return
	}
	if err := e.Flush(); err != nil {
		e.logger.Warn("ipfix: periodic flush failed", zap.Error(err))
	}
}

func (e *Exporter) send(b []byte) error {
	if e.conn == nil {
		e.reconnect()
		if e.conn == nil {
			return fmt.Errorf("ipfix: no connection to %s", e.cfg.Collector)
		}
	}
	if _, err := e.conn.Write(b); err != nil {
		e.logger.Warn("ipfix: write failed, will reconnect", zap.Error(err))
		e.conn = nil
		return err
	}
	return nil
}

// Close flushes any pending message and releases the transport
// connection.
func (e *Exporter) Close() error {
	if err := e.Flush(); err != nil {
		e.logger.Warn("ipfix: flush on close failed", zap.Error(err))
	}
	if e.conn == nil {
		return nil
	}
	return e.conn.Close()
}
