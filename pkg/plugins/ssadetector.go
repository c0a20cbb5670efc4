package plugins

import (
	"fmt"
	"math"

	"github.com/netweaver/flowmeter/pkg/descriptor"
	"github.com/netweaver/flowmeter/pkg/plugin"
)

const ieSSADetectorConfidence = 7240

// SSADetectorRecord accumulates a Shannon-entropy-based confidence score
// that a flow's payload is encrypted/compressed ("statistically
// structureless" -- SSA) traffic, rather than plaintext protocol chatter.
type SSADetectorRecord struct {
	Confidence uint8
	sampleSum  float64
	samples    int
}

func byteEntropy(b []byte) float64 {
	if len(b) == 0 {
		return 0
	}
	var hist [256]int
	for _, c := range b {
		hist[c]++
	}
	var h float64
	n := float64(len(b))
	for _, count := range hist {
		if count == 0 {
			continue
		}
		pr := float64(count) / n
		h -= pr * math.Log2(pr)
	}
	return h / 8.0 // normalize to [0,1] against the 8-bit maximum
}

// SSADetector scores flows by average per-packet payload entropy: high,
// consistent entropy across packets suggests encrypted/compressed content.
type SSADetector struct{ plugin.Base }

func NewSSADetector() *SSADetector { return &SSADetector{} }

func (p *SSADetector) Name() string { return "ssadetector" }

func ssaScore(rec *SSADetectorRecord, b []byte) {
	if len(b) < 16 {
		return
	}
	rec.sampleSum += byteEntropy(b)
	rec.samples++
	avg := rec.sampleSum / float64(rec.samples)
	rec.Confidence = uint8(avg * 100)
}

func (p *SSADetector) PostCreate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	rec := &SSADetectorRecord{}
	ssaScore(rec, pkt.Payload[:pkt.PayloadLen])
	f.AddExtension(p.ID(), rec)
	return plugin.Continue
}

func (p *SSADetector) PreUpdate(f plugin.Flow, pkt *descriptor.Packet) plugin.Action {
	if rec, ok := f.Extension(p.ID()).(*SSADetectorRecord); ok {
		ssaScore(rec, pkt.Payload[:pkt.PayloadLen])
	}
	return plugin.Continue
}

func (p *SSADetector) GetText(f plugin.Flow) string {
	rec, ok := f.Extension(p.ID()).(*SSADetectorRecord)
	if !ok {
		return ""
	}
	return fmt.Sprintf("ssadetector(confidence=%d)", rec.Confidence)
}

func (p *SSADetector) FillIPFIX(f plugin.Flow, buf []byte) int {
	rec, ok := f.Extension(p.ID()).(*SSADetectorRecord)
	if !ok {
		return 0
	}
	if len(buf) < 1 {
		return -1
	}
	buf[0] = rec.Confidence
	return 1
}

func (p *SSADetector) IPFIXTemplate() []plugin.TemplateField {
	return []plugin.TemplateField{{PEN: 0, FieldID: ieSSADetectorConfidence, Length: 1}}
}
