package fingerprint

import "testing"

func TestHash64Deterministic(t *testing.T) {
	a := Hash64([]byte("10.0.0.1:1234->10.0.0.2:80"))
	b := Hash64([]byte("10.0.0.1:1234->10.0.0.2:80"))
	if a != b {
		t.Fatal("identical inputs must hash identically")
	}
	c := Hash64([]byte("10.0.0.1:1234->10.0.0.2:81"))
	if a == c {
		t.Fatal("distinct inputs should (overwhelmingly likely) hash differently")
	}
}

func TestBuilderMatchesDirectHash(t *testing.T) {
	var b Builder
	b.PutIP([]byte{10, 0, 0, 1})
	b.PutIP([]byte{10, 0, 0, 2})
	b.PutByte(6)
	b.PutUint16(1234)
	b.PutUint16(80)
	b.PutUint16(0)
	got := b.Sum64()

	direct := append([]byte{}, 10, 0, 0, 1, 10, 0, 0, 2, 6, 0, 0, 0, 0, 0, 0)
	direct[9] = byte(1234 >> 8)
	direct[10] = byte(1234)
	direct[11] = byte(80 >> 8)
	direct[12] = byte(80)
	direct[13] = 0
	direct[14] = 0
	want := Hash64(direct)

	if got != want {
		t.Fatalf("Builder output diverged from manual byte layout: got %d want %d", got, want)
	}
}

func TestBuilderResetReusable(t *testing.T) {
	var b Builder
	b.PutByte(1)
	b.PutByte(2)
	first := b.Sum64()

	b.Reset()
	b.PutByte(9)
	b.PutByte(9)
	second := b.Sum64()

	b.Reset()
	b.PutByte(1)
	b.PutByte(2)
	third := b.Sum64()

	if first == second {
		t.Fatal("different content after Reset should hash differently")
	}
	if first != third {
		t.Fatal("same content after Reset should hash identically")
	}
}
