package ipfixenc

import (
	"encoding/binary"
	"testing"
)

func TestPutBasicListU16(t *testing.T) {
	buf := make([]byte, 64)
	values := []uint16{10, 20, 30}
	n := PutBasicListU16(buf, 913, values)
	want := 9 + 2*len(values)
	if n != want {
		t.Fatalf("expected %d bytes written, got %d", want, n)
	}
	if buf[0] != 0xFF {
		t.Fatalf("expected basic-list flag octet 0xFF, got %#x", buf[0])
	}
	if got := binary.BigEndian.Uint16(buf[1:3]); int(got) != want {
		t.Fatalf("length field mismatch: got %d want %d", got, want)
	}
	if buf[3] != basicListSemanticAllOf {
		t.Fatalf("expected semantic=allOf, got %d", buf[3])
	}
	if got := binary.BigEndian.Uint32(buf[8:12]); got != CesnetPEN {
		t.Fatalf("expected PEN=%d, got %d", CesnetPEN, got)
	}
	for i, v := range values {
		got := binary.BigEndian.Uint16(buf[12+2*i : 14+2*i])
		if got != v {
			t.Fatalf("element %d mismatch: got %d want %d", i, got, v)
		}
	}
}

func TestPutBasicListEmptyRejected(t *testing.T) {
	buf := make([]byte, 64)
	if n := PutBasicListU16(buf, 913, nil); n != -1 {
		t.Fatalf("expected -1 for empty list, got %d", n)
	}
}

func TestPutBasicListTooSmallBuffer(t *testing.T) {
	buf := make([]byte, 4)
	if n := PutBasicListU8(buf, 913, []uint8{1, 2, 3}); n != -1 {
		t.Fatalf("expected -1 for undersized buffer, got %d", n)
	}
}

func TestPutVarLenShortAndLong(t *testing.T) {
	buf := make([]byte, 303)
	short := []byte("hello")
	n := PutVarLen(buf, short)
	if n != 1+len(short) || buf[0] != byte(len(short)) {
		t.Fatalf("short form encoded wrong: n=%d buf[0]=%d", n, buf[0])
	}

	long := make([]byte, 300)
	n = PutVarLen(buf, long)
	if n != 3+len(long) {
		t.Fatalf("long form length mismatch: got %d", n)
	}
	if buf[0] != 0xFF {
		t.Fatalf("expected long-form marker 0xFF, got %#x", buf[0])
	}
	if got := binary.BigEndian.Uint16(buf[1:3]); int(got) != len(long) {
		t.Fatalf("long form length field mismatch: got %d want %d", got, len(long))
	}
}
