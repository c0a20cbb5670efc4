package plugins

import (
	"fmt"
	"math/bits"

	"github.com/netweaver/flowmeter/pkg/descriptor"
	"github.com/netweaver/flowmeter/pkg/ipfixenc"
	"github.com/netweaver/flowmeter/pkg/plugin"
)

const phistsBins = 8

const (
	ieSrcSizeHist = 7010
	ieDstSizeHist = 7011
	ieSrcIATHist  = 7012
	ieDstIATHist  = 7013
)

// PhistsRecord holds four 8-bin log2 histograms: packet size and
// inter-arrival time, one pair per direction, per SPEC_FULL.md §4.4. Bin k
// covers [2^(k+4), 2^(k+5)); bin 7 absorbs everything at or above 2^11.
type PhistsRecord struct {
	SrcSizeBins [phistsBins]uint32
	DstSizeBins [phistsBins]uint32
	SrcIATBins  [phistsBins]uint32
	DstIATBins  [phistsBins]uint32

	haveSrcTS, haveDstTS bool
	lastSrcTS, lastDstTS int64
}

func phistsBin(v uint64, shift uint) int {
	if v < 1<<shift {
		return 0
	}
	bit := bits.Len64(v) - 1 - int(shift)
	if bit >= phistsBins-1 {
		return phistsBins - 1
	}
	return bit
}

func saturatingIncr(counter *uint32) {
	if *counter < ^uint32(0) {
		*counter++
	}
}

// Phists builds the bidirectional size/IAT histograms.
type Phists struct{ plugin.Base }

func NewPhists() *Phists { return &Phists{} }

func (p *Phists) Name() string { return "phists" }

func (p *Phists) PostCreate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	rec := &PhistsRecord{}
	f.AddExtension(p.ID(), rec)
	p.observe(rec, pkt)
	return plugin.Continue
}

func (p *Phists) PreUpdate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	if rec, ok := f.Extension(p.ID()).(*PhistsRecord); ok {
		p.observe(rec, pkt)
	}
	return plugin.Continue
}

func (p *Phists) observe(rec *PhistsRecord, pkt *descriptor.Packet) {
	ts := pkt.TimestampSec*1_000_000 + pkt.TimestampUsec
	sizeBin := phistsBin(uint64(pkt.IPPayloadLen), 4)

	if pkt.SourcePkt {
		saturatingIncr(&rec.SrcSizeBins[sizeBin])
		if rec.haveSrcTS {
			iat := ts - rec.lastSrcTS
			if iat < 0 {
				iat = 0
			}
			saturatingIncr(&rec.SrcIATBins[phistsBin(uint64(iat), 4)])
		}
		rec.lastSrcTS = ts
		rec.haveSrcTS = true
	} else {
		saturatingIncr(&rec.DstSizeBins[sizeBin])
		if rec.haveDstTS {
			iat := ts - rec.lastDstTS
			if iat < 0 {
				iat = 0
			}
			saturatingIncr(&rec.DstIATBins[phistsBin(uint64(iat), 4)])
		}
		rec.lastDstTS = ts
		rec.haveDstTS = true
	}
}

func (p *Phists) GetText(f plugin.Flow) string {
	rec, ok := f.Extension(p.ID()).(*PhistsRecord)
	if !ok {
		return ""
	}
	return fmt.Sprintf("phists(src_sizes=%v,dst_sizes=%v)", rec.SrcSizeBins, rec.DstSizeBins)
}

func (p *Phists) FillIPFIX(f plugin.Flow, buf []byte) int {
	rec, ok := f.Extension(p.ID()).(*PhistsRecord)
	if !ok {
		return 0
	}
	off := 0
	fields := []struct {
		id   uint16
		bins [phistsBins]uint32
	}{
		{ieSrcSizeHist, rec.SrcSizeBins},
		{ieDstSizeHist, rec.DstSizeBins},
		{ieSrcIATHist, rec.SrcIATBins},
		{ieDstIATHist, rec.DstIATBins},
	}
	for _, fl := range fields {
		n := ipfixenc.PutBasicListU32(buf[off:], fl.id, fl.bins[:])
		if n < 0 {
			return -1
		}
		off += n
	}
	return off
}

func (p *Phists) IPFIXTemplate() []plugin.TemplateField {
	return []plugin.TemplateField{
		{PEN: ipfixenc.CesnetPEN, FieldID: ieSrcSizeHist, Length: 0xFFFF},
		{PEN: ipfixenc.CesnetPEN, FieldID: ieDstSizeHist, Length: 0xFFFF},
		{PEN: ipfixenc.CesnetPEN, FieldID: ieSrcIATHist, Length: 0xFFFF},
		{PEN: ipfixenc.CesnetPEN, FieldID: ieDstIATHist, Length: 0xFFFF},
	}
}
