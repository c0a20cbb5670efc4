package bitutil

import "testing"

func TestExtract16FragmentWord(t *testing.T) {
	// IPv4 flags/fragment-offset word: 3 bits flags, 13 bits offset.
	word := uint16(0x4000 | 185) // DF bit set, offset=185
	flags := Extract16(word, 0, 3)
	offset := Extract16(word, 3, 13)
	if flags != 0b010 {
		t.Fatalf("expected flags=0b010 (DF), got %03b", flags)
	}
	if offset != 185 {
		t.Fatalf("expected offset=185, got %d", offset)
	}
}

func TestExtract8TCPFlags(t *testing.T) {
	b := uint8(0b00010010) // ACK+SYN in a made-up layout
	if v := Extract8(b, 4, 4); v != 0b0010 {
		t.Fatalf("expected low nibble 0b0010, got %04b", v)
	}
}

func TestExtractOutOfRangeReturnsZero(t *testing.T) {
	if Extract(0xFFFFFFFFFFFFFFFF, 0, 0) != 0 {
		t.Fatal("zero-length extract should return 0")
	}
	if Extract(0xFFFFFFFFFFFFFFFF, 0, 65) != 0 {
		t.Fatal("over-width extract should return 0")
	}
	if Extract16(0xFFFF, 0, 17) != 0 {
		t.Fatal("over-width Extract16 should return 0")
	}
	if Extract8(0xFF, 0, 9) != 0 {
		t.Fatal("over-width Extract8 should return 0")
	}
}

func TestExtractFullWidth(t *testing.T) {
	if v := Extract(0x0123456789ABCDEF, 0, 64); v != 0x0123456789ABCDEF {
		t.Fatalf("full-width extract should return the whole value, got %#x", v)
	}
}
