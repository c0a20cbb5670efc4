package plugins

import (
	"fmt"
	"math"

	"github.com/netweaver/flowmeter/pkg/descriptor"
	"github.com/netweaver/flowmeter/pkg/plugin"
)

const (
	ieNettisaMin       = 7080
	ieNettisaMax       = 7081
	ieNettisaMean      = 7082
	ieNettisaIATMean   = 7083
	ieNettisaVariance  = 7084
)

// NettisaRecord is a running (Welford) statistical aggregator over packet
// sizes and inter-arrival times, avoiding per-packet retention.
type NettisaRecord struct {
	Count     uint64
	Min, Max  uint16
	mean      float64
	m2        float64 // sum of squared deviations, Welford's algorithm

	haveTS  bool
	lastTS  int64
	iatMean float64
	iatN    uint64
}

func (r *NettisaRecord) observeSize(size uint16) {
	if r.Count == 0 || size < r.Min {
		r.Min = size
	}
	if r.Count == 0 || size > r.Max {
		r.Max = size
	}
	r.Count++
	x := float64(size)
	delta := x - r.mean
	r.mean += delta / float64(r.Count)
	r.m2 += delta * (x - r.mean)
}

func (r *NettisaRecord) observeIAT(ts int64) {
	if r.haveTS {
		iat := float64(ts - r.lastTS)
		r.iatN++
		r.iatMean += (iat - r.iatMean) / float64(r.iatN)
	}
	r.lastTS = ts
	r.haveTS = true
}

func (r *NettisaRecord) Variance() float64 {
	if r.Count < 2 {
		return 0
	}
	return r.m2 / float64(r.Count-1)
}

// Nettisa computes running min/max/mean/variance/IAT statistics per flow.
type Nettisa struct{ plugin.Base }

func NewNettisa() *Nettisa { return &Nettisa{} }

func (p *Nettisa) Name() string { return "nettisa" }

func (p *Nettisa) PostCreate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	rec := &NettisaRecord{}
	f.AddExtension(p.ID(), rec)
	p.observe(rec, pkt)
	return plugin.Continue
}

func (p *Nettisa) PreUpdate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	if rec, ok := f.Extension(p.ID()).(*NettisaRecord); ok {
		p.observe(rec, pkt)
	}
	return plugin.Continue
}

func (p *Nettisa) observe(rec *NettisaRecord, pkt *descriptor.Packet) {
	rec.observeSize(pkt.IPPayloadLen)
	rec.observeIAT(pkt.TimestampSec*1_000_000 + pkt.TimestampUsec)
}

func (p *Nettisa) GetText(f plugin.Flow) string {
	rec, ok := f.Extension(p.ID()).(*NettisaRecord)
	if !ok {
		return ""
	}
	return fmt.Sprintf("nettisa(min=%d,max=%d,mean=%.1f,var=%.1f)", rec.Min, rec.Max, rec.mean, rec.Variance())
}

func (p *Nettisa) FillIPFIX(f plugin.Flow, buf []byte) int {
	rec, ok := f.Extension(p.ID()).(*NettisaRecord)
	if !ok {
		return 0
	}
	if len(buf) < 4+4+8+8+8 {
		return -1
	}
	off := 0
	buf[off], buf[off+1] = byte(rec.Min>>8), byte(rec.Min)
	off += 2
	buf[off], buf[off+1] = byte(rec.Max>>8), byte(rec.Max)
	off += 2
	putF64 := func(v float64) {
		bits := math.Float64bits(v)
		for i := 7; i >= 0; i-- {
			buf[off] = byte(bits >> uint(8*i))
			off++
		}
	}
	putF64(rec.mean)
	putF64(rec.iatMean)
	putF64(rec.Variance())
	return off
}

func (p *Nettisa) IPFIXTemplate() []plugin.TemplateField {
	return []plugin.TemplateField{
		{PEN: 0, FieldID: ieNettisaMin, Length: 2},
		{PEN: 0, FieldID: ieNettisaMax, Length: 2},
		{PEN: 0, FieldID: ieNettisaMean, Length: 8},
		{PEN: 0, FieldID: ieNettisaIATMean, Length: 8},
		{PEN: 0, FieldID: ieNettisaVariance, Length: 8},
	}
}
