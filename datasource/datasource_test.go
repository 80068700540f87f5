package datasource

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fstark/retroscope/rserr"
)

type memSource struct {
	b []byte
}

func (m *memSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(m.b)) {
		return 0, rserr.ErrOutOfRange
	}
	return copy(p, m.b[off:]), nil
}
func (m *memSource) Size() int64          { return int64(len(m.b)) }
func (m *memSource) Description() string  { return "mem" }

func TestRangeForwardsWithOffset(t *testing.T) {
	parent := &memSource{b: []byte("0123456789")}
	r, err := NewRange(parent, 3, 4, "range")
	if err != nil {
		t.Fatal(err)
	}
	got, err := Read(r, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("45")) {
		t.Fatalf("got %q", got)
	}
}

func TestRangeRejectsOverflowingParent(t *testing.T) {
	parent := &memSource{b: []byte("01234")}
	if _, err := NewRange(parent, 3, 10, "range"); !errors.Is(err, rserr.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestStrippedTranslatesEachByte(t *testing.T) {
	// 2 sectors of size 6, skip 2, data 3: payload bytes are at [2:5] and [8:11]
	parent := &memSource{b: []byte("AAxxxBBByyyCCC")}
	s, err := NewStripped(parent, 6, 2, 3, "stripped")
	if err != nil {
		t.Fatal(err)
	}
	if s.Size() != 6 {
		t.Fatalf("size = %d, want 6", s.Size())
	}
	got, err := Read(s, 0, 6)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("xxxyyy")) {
		t.Fatalf("got %q", got)
	}
}

func TestStrippedCrossesSectorBoundary(t *testing.T) {
	parent := &memSource{b: []byte("AAxxxBBByyyCCC")}
	s, err := NewStripped(parent, 6, 2, 3, "stripped")
	if err != nil {
		t.Fatal(err)
	}
	got, err := Read(s, 2, 2) // last byte of sector 0's data, first byte of sector 1's data
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("xy")) {
		t.Fatalf("got %q", got)
	}
}

func TestFullReadExactLength(t *testing.T) {
	parent := &memSource{b: bytes.Repeat([]byte{0xAB}, 100)}
	got, err := Read(parent, 10, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 50 {
		t.Fatalf("len = %d, want 50", len(got))
	}
}
