package hfsvol

import (
	"fmt"

	"github.com/fstark/retroscope/datasource"
	"github.com/fstark/retroscope/macbin"
	"github.com/fstark/retroscope/rserr"
)

// extentReaderAt exposes an extentFile as a datasource.DataSource, so the
// B-tree reader can treat the extents-overflow and catalog files exactly
// like any other fork.
type extentReaderAt struct {
	d              datasource.DataSource
	extents        *extentFile
	allocBlockSize uint32
	allocStart     uint16
}

func newExtentReaderAt(d datasource.DataSource, extents *extentFile, allocBlockSize uint32, allocStart uint16) *extentReaderAt {
	return &extentReaderAt{d: d, extents: extents, allocBlockSize: allocBlockSize, allocStart: allocStart}
}

func (r *extentReaderAt) Size() int64 { return r.extents.totalBytes(r.allocBlockSize) }

func (r *extentReaderAt) Description() string { return r.d.Description() + " [b-tree file]" }

func (r *extentReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > r.Size() {
		return 0, fmt.Errorf("b-tree file read out of range: %w", rserr.ErrOutOfRange)
	}
	f := &fork{d: r.d, extents: r.extents, allocBlockSize: r.allocBlockSize, allocStart: r.allocStart, logicalSize: uint32(r.Size())}
	buf, err := f.Read(uint32(off), uint32(len(p)))
	if err != nil {
		return 0, err
	}
	n := copy(p, buf)
	return n, nil
}

// btreeNodeHeader is the 14-byte BTNodeDescriptor at the start of every
// node.
type btreeNodeHeader struct {
	fLink      uint32
	numRecords uint16
}

// parseBNode validates and slices one node's record area using its
// reverse-ordered offset table, per the standard B-tree node format.
func parseBNode(node []byte) ([][]byte, btreeNodeHeader, error) {
	nodeSize := len(node)
	if nodeSize < 14 {
		return nil, btreeNodeHeader{}, fmt.Errorf("b-tree node too small: %w", rserr.ErrInvalidFormat)
	}
	hdr := btreeNodeHeader{
		fLink:      macbin.BE32(node[0:]),
		numRecords: macbin.BE16(node[10:]),
	}
	cnt := int(hdr.numRecords)
	if cnt > 248 {
		return nil, hdr, fmt.Errorf("b-tree node declares %d records, exceeding maximum: %w", cnt, rserr.ErrInvalidFormat)
	}

	lowlimit, highlimit := 14, nodeSize-2*(cnt+1)
	if highlimit < lowlimit {
		return nil, hdr, fmt.Errorf("b-tree node offset table overlaps header: %w", rserr.ErrInvalidFormat)
	}

	records := make([][]byte, 0, cnt)
	for i := 0; i < cnt; i++ {
		start := int(macbin.BE16(node[nodeSize-2-2*i:]))
		end := int(macbin.BE16(node[nodeSize-4-2*i:]))
		if lowlimit > start || start > end || end > highlimit {
			return nil, hdr, fmt.Errorf("b-tree node record [%d:%d] out of bounds: %w", start, end, rserr.ErrInvalidFormat)
		}
		records = append(records, node[start:end])
		lowlimit = end
	}
	return records, hdr, nil
}

// parseBTree bootstraps via the header node (read as 512 bytes, then
// re-read at the node size the header declares), then walks the leaf
// chain via fLink, collecting every leaf record in key order.
func parseBTree(r datasource.DataSource) ([][]byte, error) {
	head := make([]byte, 512)
	if n, err := r.ReadAt(head, 0); n != 512 {
		return nil, fmt.Errorf("b-tree header node unreadable: %w (%v)", rserr.ErrInvalidFormat, err)
	}
	// The header record follows the 14-byte node descriptor and holds
	// nodeSize at record offset 18. A larger node is re-read whole, so its
	// offset table (at the end of the node) is inside the buffer.
	if declared := int(macbin.BE16(head[14+18:])); declared > 512 {
		head = make([]byte, declared)
		if n, err := r.ReadAt(head, 0); n != declared {
			return nil, fmt.Errorf("b-tree header node unreadable: %w (%v)", rserr.ErrInvalidFormat, err)
		}
	}
	headRecords, _, err := parseBNode(head)
	if err != nil {
		return nil, err
	}
	if len(headRecords) < 1 || len(headRecords[0]) < 20 {
		return nil, fmt.Errorf("b-tree header record malformed: %w", rserr.ErrInvalidFormat)
	}
	bthRec := headRecords[0]
	firstLeafNode := macbin.BE32(bthRec[10:])
	lastLeafNode := macbin.BE32(bthRec[14:])
	nodeSize := int(macbin.BE16(bthRec[18:]))
	if nodeSize < 512 {
		nodeSize = 512
	}

	var records [][]byte
	i := firstLeafNode
	seen := make(map[uint32]bool)
	for {
		if seen[i] {
			return nil, fmt.Errorf("b-tree node loop at node %d: %w", i, rserr.ErrInvalidFormat)
		}
		seen[i] = true

		node := make([]byte, nodeSize)
		if n, err := r.ReadAt(node, int64(i)*int64(nodeSize)); n != nodeSize {
			return nil, fmt.Errorf("b-tree leaf node %d unreadable: %w (%v)", i, rserr.ErrInvalidFormat, err)
		}
		nodeRecords, hdr, err := parseBNode(node)
		if err != nil {
			return nil, err
		}
		records = append(records, nodeRecords...)

		if i == lastLeafNode {
			break
		}
		i = hdr.fLink
	}
	return records, nil
}
