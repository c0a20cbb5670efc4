package plugins

import (
	"fmt"

	"github.com/netweaver/flowmeter/pkg/descriptor"
	"github.com/netweaver/flowmeter/pkg/ipfixenc"
	"github.com/netweaver/flowmeter/pkg/plugin"
)

const pstatsMaxPackets = 30

const (
	ieSizes      = 7000 // vendor-space placeholder IDs for PEN-scoped
	ieTimestamps = 7001 // PSTATS fields
	ieDirections = 7002
	ieFlags      = 7003
)

// PstatsRecord stores up to pstatsMaxPackets (size, flags, timestamp,
// direction) tuples per flow, per SPEC_FULL.md §4.4.
type PstatsRecord struct {
	Count       int
	Sizes       [pstatsMaxPackets]uint16
	Flags       [pstatsMaxPackets]uint8
	TimestampUs [pstatsMaxPackets]int64
	SrcDir      [pstatsMaxPackets]bool // true = source-direction packet

	DropZeroPayload bool
	DropDupTCP      bool
	lastTCPFlags    uint8
	lastTCPSeq      uint32
}

// Pstats records a sliding window of per-packet observations.
type Pstats struct {
	plugin.Base
	dropZeroPayload bool
	dropDupTCP      bool
}

// NewPstats creates a PSTATS plugin instance. opts mirror the CLI option
// string grammar (e.g. "pstats:skipdup=1").
func NewPstats(dropZeroPayload, dropDupTCP bool) *Pstats {
	return &Pstats{dropZeroPayload: dropZeroPayload, dropDupTCP: dropDupTCP}
}

func (p *Pstats) Name() string { return "pstats" }

func (p *Pstats) PostCreate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	rec := &PstatsRecord{DropZeroPayload: p.dropZeroPayload, DropDupTCP: p.dropDupTCP}
	f.AddExtension(p.ID(), rec)
	p.observe(rec, pkt)
	return plugin.Continue
}

func (p *Pstats) PreUpdate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	rec, _ := f.Extension(p.ID()).(*PstatsRecord)
	if rec != nil {
		p.observe(rec, pkt)
	}
	return plugin.Continue
}

func (p *Pstats) observe(rec *PstatsRecord, pkt *descriptor.Packet) {
	if rec.Count >= pstatsMaxPackets {
		return
	}
	if rec.DropZeroPayload && pkt.IPPayloadLen == 0 {
		return
	}
	if rec.DropDupTCP && pkt.IPProto == 6 && pkt.TCPFlags == rec.lastTCPFlags && pkt.TCPSeq == rec.lastTCPSeq {
		return
	}
	rec.lastTCPFlags = pkt.TCPFlags
	rec.lastTCPSeq = pkt.TCPSeq

	i := rec.Count
	rec.Sizes[i] = pkt.IPPayloadLen
	rec.Flags[i] = pkt.TCPFlags
	rec.TimestampUs[i] = pkt.TimestampSec*1_000_000 + pkt.TimestampUsec
	rec.SrcDir[i] = pkt.SourcePkt
	rec.Count++
}

func (p *Pstats) GetText(f plugin.Flow) string {
	rec, ok := f.Extension(p.ID()).(*PstatsRecord)
	if !ok {
		return ""
	}
	return fmt.Sprintf("pstats=%d", rec.Count)
}

func (p *Pstats) FillIPFIX(f plugin.Flow, buf []byte) int {
	rec, ok := f.Extension(p.ID()).(*PstatsRecord)
	if !ok || rec.Count == 0 {
		return 0
	}
	sizes := make([]uint16, rec.Count)
	flags := make([]uint8, rec.Count)
	dirs := make([]uint8, rec.Count)
	copy(sizes, rec.Sizes[:rec.Count])
	copy(flags, rec.Flags[:rec.Count])
	for i := 0; i < rec.Count; i++ {
		if rec.SrcDir[i] {
			dirs[i] = 1
		}
	}

	off := 0
	n := ipfixenc.PutBasicListU16(buf[off:], ieSizes, sizes)
	if n < 0 {
		return -1
	}
	off += n
	n = ipfixenc.PutBasicListU8(buf[off:], ieFlags, flags)
	if n < 0 {
		return -1
	}
	off += n
	n = ipfixenc.PutBasicListU8(buf[off:], ieDirections, dirs)
	if n < 0 {
		return -1
	}
	off += n
	return off
}

func (p *Pstats) IPFIXTemplate() []plugin.TemplateField {
	return []plugin.TemplateField{
		{PEN: ipfixenc.CesnetPEN, FieldID: ieSizes, Length: 0xFFFF},
		{PEN: ipfixenc.CesnetPEN, FieldID: ieFlags, Length: 0xFFFF},
		{PEN: ipfixenc.CesnetPEN, FieldID: ieDirections, Length: 0xFFFF},
	}
}
