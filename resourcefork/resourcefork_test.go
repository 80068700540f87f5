package resourcefork

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fstark/retroscope/rserr"
)

type memReader struct{ b []byte }

func (m *memReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m.b)) {
		return 0, errors.New("out of range")
	}
	n := copy(p, m.b[off:])
	if n < len(p) {
		return n, errors.New("short read")
	}
	return n, nil
}

func be32(v uint32) []byte { return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)} }
func be16(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }

// buildFork assembles a minimal resource fork with a single type ("TEXT")
// holding two resources, one named.
func buildFork() []byte {
	// Layout: header(16) | data area | map area
	res1 := []byte("hello")
	res2 := []byte("world!!")

	var data bytes.Buffer
	res1Off := data.Len()
	data.Write(be32(uint32(len(res1))))
	data.Write(res1)
	res2Off := data.Len()
	data.Write(be32(uint32(len(res2))))
	data.Write(res2)

	dataOffset := int64(16)
	dataLength := int64(data.Len())

	// name list: one Pascal string "Res2"
	nameList := append([]byte{4}, []byte("Res2")...)

	// reference list: 2 entries x 12 bytes (id:2, nameOffset:2, dataOffset:3, reserved:5)
	var refList bytes.Buffer
	refList.Write(be16(uint16(int16(1))))    // id 1
	refList.Write([]byte{0xFF, 0xFF})        // no name
	refList.Write(be32(uint32(res1Off))[1:]) // 3-byte offset
	refList.Write([]byte{0, 0, 0, 0, 0})     // handle + reserved

	refList.Write(be16(uint16(int16(2)))) // id 2
	refList.Write(be16(0))                // name at offset 0 in name list
	refList.Write(be32(uint32(res2Off))[1:])
	refList.Write([]byte{0, 0, 0, 0, 0})

	// type list: count-1, then one entry (TEXT, numRes-1=1, refListOffset relative to type list start)
	var typeList bytes.Buffer
	typeList.Write(be16(0)) // 1 type total
	typeList.WriteString("TEXT")
	typeList.Write(be16(1))  // 2 resources (n-1)
	typeList.Write(be16(10)) // ref list starts right after the 2+8 byte type-list header+entry
	typeListHeaderLen := 2 + 8
	typeList.Write(refList.Bytes())
	_ = typeListHeaderLen

	// map: 24 reserved+attribute bytes, then typeListOffset(2) at byte 24,
	// nameListOffset(2) at byte 26, type list data starting at byte 28.
	mapReserved := make([]byte, 24)
	mapTypeListOffset := uint16(28)
	nameListOffset := uint16(int(mapTypeListOffset) + typeList.Len())
	var mapHdr bytes.Buffer
	mapHdr.Write(mapReserved)
	mapHdr.Write(be16(mapTypeListOffset))
	mapHdr.Write(be16(nameListOffset))
	mapHdr.Write(typeList.Bytes())
	mapHdr.Write(nameList)

	mapOffset := dataOffset + dataLength
	mapLength := int64(mapHdr.Len())

	var hdr bytes.Buffer
	hdr.Write(be32(uint32(dataOffset)))
	hdr.Write(be32(uint32(mapOffset)))
	hdr.Write(be32(uint32(dataLength)))
	hdr.Write(be32(uint32(mapLength)))

	var full bytes.Buffer
	full.Write(hdr.Bytes())
	full.Write(data.Bytes())
	full.Write(mapHdr.Bytes())
	return full.Bytes()
}

func TestParserValidatesAndEnumerates(t *testing.T) {
	raw := buildFork()
	p := New(&memReader{b: raw}, int64(len(raw)))
	if !p.Valid() {
		t.Fatalf("expected valid fork, reason: %v", p.reason)
	}
	resources, err := p.Resources()
	if err != nil {
		t.Fatal(err)
	}
	if len(resources) != 2 {
		t.Fatalf("got %d resources, want 2", len(resources))
	}
	if resources[0].ID != 1 || string(resources[0].Data) != "hello" {
		t.Fatalf("resource 0 = %+v", resources[0])
	}
	if resources[1].ID != 2 || string(resources[1].Data) != "world!!" || resources[1].Name != "Res2" {
		t.Fatalf("resource 1 = %+v", resources[1])
	}
}

func TestParserRejectsShortHeader(t *testing.T) {
	p := New(&memReader{b: []byte{1, 2, 3}}, 3)
	if p.Valid() {
		t.Fatal("expected invalid")
	}
	if _, err := p.Resources(); !errors.Is(err, rserr.ErrInvalidFormat) {
		t.Fatalf("got %v, want ErrInvalidFormat", err)
	}
}

func TestParserRejectsOverlappingAreas(t *testing.T) {
	hdr := make([]byte, 32)
	copy(hdr[0:], be32(16))  // data_offset
	copy(hdr[4:], be32(20))  // map_offset overlaps data area
	copy(hdr[8:], be32(10))  // data_length
	copy(hdr[12:], be32(10)) // map_length
	p := New(&memReader{b: hdr}, int64(len(hdr)))
	if p.Valid() {
		t.Fatal("expected invalid due to overlap")
	}
}

func TestParserRejectsOffsetOutOfRange(t *testing.T) {
	hdr := make([]byte, 32)
	copy(hdr[0:], be32(4)) // data_offset below 16
	copy(hdr[4:], be32(20))
	copy(hdr[8:], be32(8))
	copy(hdr[12:], be32(8))
	p := New(&memReader{b: hdr}, int64(len(hdr)))
	if p.Valid() {
		t.Fatal("expected invalid due to out-of-range data_offset")
	}
}
