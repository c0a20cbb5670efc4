package ipfix

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/netweaver/flowmeter/pkg/flowcache"
	"go.uber.org/zap"
)

func newTestExporter(t *testing.T, collector string) *Exporter {
	t.Helper()
	logger := zap.NewNop()
	return New(Config{
		Protocol:        "udp",
		Collector:       collector,
		MTU:             1400,
		TemplateRefresh: time.Hour,
	}, nil, logger)
}

func TestBuildTemplateSetHasFixedFieldsAndReverseOctetPEN(t *testing.T) {
	e := newTestExporter(t, "127.0.0.1:0")
	defer e.Close()

	specs := e.fieldSpecs(false)
	foundReverse := false
	for _, s := range specs {
		if s.PEN == reversePEN && s.FieldID == ieOctetDeltaCount {
			foundReverse = true
		}
	}
	if !foundReverse {
		t.Fatal("expected a reverse octetDeltaCount field under the RFC 5103 PEN")
	}

	set := e.templateV4Bytes
	if len(set) < templateHdrLen+templateRecHdr {
		t.Fatalf("template set too short: %d bytes", len(set))
	}
	if got := binary.BigEndian.Uint16(set[0:2]); got != setIDTemplate {
		t.Fatalf("expected set ID %d, got %d", setIDTemplate, got)
	}
	gotLen := binary.BigEndian.Uint16(set[2:4])
	if int(gotLen) != len(set) {
		t.Fatalf("template set length field mismatch: header says %d, actual %d", gotLen, len(set))
	}
	fieldCount := binary.BigEndian.Uint16(set[6:8])
	if int(fieldCount) != len(specs) {
		t.Fatalf("expected %d fields in template record, got %d", len(specs), fieldCount)
	}
}

func TestFieldSpecsBranchOnIPVersion(t *testing.T) {
	e := newTestExporter(t, "127.0.0.1:0")
	defer e.Close()

	v4 := e.fieldSpecs(false)
	v6 := e.fieldSpecs(true)
	if v4[0].FieldID != ieSourceIPv4Address || v4[0].Length != 4 {
		t.Fatalf("expected IPv4 source field first, got %+v", v4[0])
	}
	if v6[0].FieldID != ieSourceIPv6Address || v6[0].Length != 16 {
		t.Fatalf("expected IPv6 source field first, got %+v", v6[0])
	}
	if len(v4) != len(v6) {
		t.Fatalf("expected the same field count for both address families, got %d vs %d", len(v4), len(v6))
	}
}

func TestFillFixedFieldsTooSmallBuffer(t *testing.T) {
	f := &flowcache.Flow{}
	if n := fillFixedFields(make([]byte, 4), f); n != -1 {
		t.Fatalf("expected -1 for undersized buffer, got %d", n)
	}
}

func TestExportWithoutCollectorDoesNotPanic(t *testing.T) {
	// A UDP dial succeeds locally even with no listener (UDP is
	// connectionless), so Export should serialize and buffer the record
	// without error; FlushInterval has not elapsed since New, so nothing is
	// sent yet.
	e := newTestExporter(t, "127.0.0.1:59999")
	defer e.Close()

	f := &flowcache.Flow{FlowHash: 42}
	if err := e.Export(f); err != nil {
		t.Fatalf("unexpected error exporting to a UDP collector: %v", err)
	}
}

func TestSequenceNumberIncrements(t *testing.T) {
	e := newTestExporter(t, "127.0.0.1:59999")
	defer e.Close()

	f := &flowcache.Flow{FlowHash: 1}
	if err := e.Export(f); err != nil {
		t.Fatalf("export 1: %v", err)
	}
	if err := e.Flush(); err != nil {
		t.Fatalf("flush 1: %v", err)
	}
	first := e.seq

	if err := e.Export(f); err != nil {
		t.Fatalf("export 2: %v", err)
	}
	if err := e.Flush(); err != nil {
		t.Fatalf("flush 2: %v", err)
	}
	if e.seq != first+1 {
		t.Fatalf("expected sequence to increment by 1, got %d -> %d", first, e.seq)
	}
}

func TestExportBuffersUntilFlush(t *testing.T) {
	e := newTestExporter(t, "127.0.0.1:59999")
	defer e.Close()
	e.cfg.FlushInterval = time.Hour // isolate MTU/explicit-flush behavior from the interval path

	f := &flowcache.Flow{FlowHash: 7}
	if err := e.Export(f); err != nil {
		t.Fatalf("export: %v", err)
	}
	if got := len(e.pendingV4.records); got != 1 {
		t.Fatalf("expected 1 buffered v4 record, got %d", got)
	}
	if err := e.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := len(e.pendingV4.records); got != 0 {
		t.Fatalf("expected pending buffer cleared after flush, got %d records", got)
	}
}

func TestExportSeparatesIPv4AndIPv6Pending(t *testing.T) {
	e := newTestExporter(t, "127.0.0.1:59999")
	defer e.Close()
	e.cfg.FlushInterval = time.Hour

	v4 := &flowcache.Flow{FlowHash: 1}
	v6 := &flowcache.Flow{FlowHash: 2}
	v6.Key.SrcIP.SetV6(make([]byte, 16))
	v6.Key.DstIP.SetV6(make([]byte, 16))

	if err := e.Export(v4); err != nil {
		t.Fatalf("export v4: %v", err)
	}
	if err := e.Export(v6); err != nil {
		t.Fatalf("export v6: %v", err)
	}
	if len(e.pendingV4.records) != 1 || len(e.pendingV6.records) != 1 {
		t.Fatalf("expected one record in each pending set, got v4=%d v6=%d", len(e.pendingV4.records), len(e.pendingV6.records))
	}
}
