package volume

import (
	"errors"
	"testing"

	"github.com/fstark/retroscope/rserr"
)

type memSource struct{ b []byte }

func (m *memSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(m.b)) {
		return 0, errors.New("out of range")
	}
	return copy(p, m.b[off:]), nil
}
func (m *memSource) Size() int64         { return int64(len(m.b)) }
func (m *memSource) Description() string { return "volume test image" }

func be16(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }
func be32(v uint32) []byte { return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)} }

// buildEmptyMFSImage makes a minimal MFS volume with no files: the
// signature and geometry fields Mount needs, and a directory block whose
// first entry has the in-use bit clear.
func buildEmptyMFSImage() []byte {
	img := make([]byte, 2048)
	mdb := make([]byte, 512)
	copy(mdb[0x00:], be16(0xD2D7))
	copy(mdb[0x0E:], be16(3)) // dr_dir_st: directory at disk block 3 (block 2 is the MDB)
	copy(mdb[0x10:], be16(1))
	copy(mdb[0x14:], be32(512))
	copy(mdb[0x1C:], be16(3))
	vn := append([]byte{4}, []byte("Disk")...)
	copy(mdb[0x24:], vn)
	copy(img[1024:], mdb)
	// directory block lives at disk block 3 (offset 1536), all zero: no
	// entries in use.
	return img
}

// buildEmptyHFSNode packs records into a 512-byte B-tree node; called with
// no records it yields an empty leaf.
func buildEmptyHFSNode(fLink uint32, kind int8, records [][]byte) []byte {
	const nodeSize = 512
	node := make([]byte, nodeSize)
	copy(node[0:], be32(fLink))
	node[8] = byte(kind)
	copy(node[10:], be16(uint16(len(records))))

	offset := 14
	boundaries := []int{offset}
	for _, rec := range records {
		copy(node[offset:], rec)
		offset += len(rec)
		boundaries = append(boundaries, offset)
	}
	cnt := len(records)
	for i := 0; i <= cnt; i++ {
		pos := nodeSize - 2 - 2*i
		copy(node[pos:], be16(uint16(boundaries[i])))
	}
	return node
}

func buildHeaderNode(firstLeafNode, lastLeafNode uint32) []byte {
	rec := make([]byte, 40)
	copy(rec[10:], be32(firstLeafNode))
	copy(rec[14:], be32(lastLeafNode))
	copy(rec[18:], be16(512))
	return buildEmptyHFSNode(0, 1, [][]byte{rec})
}

// buildEmptyHFSImage makes a minimal HFS volume with an empty extents-
// overflow tree and an empty catalog tree: no folders or files, but a
// structurally valid mount.
func buildEmptyHFSImage() []byte {
	const allocBlockSize = 512
	const allocStart = 3

	extBytes := append(buildHeaderNode(1, 1), buildEmptyHFSNode(0, -1, nil)...)
	catBytes := append(buildHeaderNode(1, 1), buildEmptyHFSNode(0, -1, nil)...)

	img := make([]byte, 8*512)
	mdb := make([]byte, 512)
	copy(mdb[0x00:], be16(0x4244))
	copy(mdb[0x14:], be32(allocBlockSize))
	copy(mdb[0x1c:], be16(allocStart))
	vn := append([]byte{4}, []byte("Disk")...)
	copy(mdb[0x24:], vn)
	copy(mdb[0x86:], be16(0))
	copy(mdb[0x86+2:], be16(2))
	copy(mdb[0x96:], be16(2))
	copy(mdb[0x96+2:], be16(2))
	copy(img[1024:], mdb)

	allocAreaStart := allocStart * 512
	copy(img[allocAreaStart:], extBytes)
	copy(img[allocAreaStart+2*allocBlockSize:], catBytes)
	return img
}

func TestProbeMountsHFSFirst(t *testing.T) {
	p, err := Probe(&memSource{b: buildEmptyHFSImage()})
	if err != nil {
		t.Fatal(err)
	}
	if p.RootFolder().Name != "Disk" {
		t.Fatalf("root name = %q", p.RootFolder().Name)
	}
}

func TestProbeFallsBackToMFS(t *testing.T) {
	p, err := Probe(&memSource{b: buildEmptyMFSImage()})
	if err != nil {
		t.Fatal(err)
	}
	if p.RootFolder().Name != "Disk" {
		t.Fatalf("root name = %q", p.RootFolder().Name)
	}
}

func TestProbeRejectsUnrecognizedSource(t *testing.T) {
	_, err := Probe(&memSource{b: make([]byte, 2048)})
	if !errors.Is(err, rserr.ErrInvalidFormat) {
		t.Fatalf("got %v, want ErrInvalidFormat", err)
	}
}
