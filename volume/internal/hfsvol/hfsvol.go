// Package hfsvol parses a plain HFS volume: Master Directory Block,
// extents and catalog B-trees, and the catalog's two-pass folder/file
// hierarchy mount.
package hfsvol

import (
	"fmt"

	"github.com/fstark/retroscope/datasource"
	"github.com/fstark/retroscope/machfs"
	"github.com/fstark/retroscope/macbin"
	"github.com/fstark/retroscope/rserr"
)

const (
	mdbOffset = 1024
	sigHFS    = 0x4244
)

// Probe reports whether d carries an HFS signature at offset 1024 and a
// plausible drAlBlkSiz (nonzero, a multiple of 512) — a minimal
// structural sanity check, not a full mount. A false result is not an
// error.
func Probe(d datasource.DataSource) (bool, error) {
	if d.Size() < mdbOffset+512 {
		return false, nil
	}
	mdb, err := datasource.Read(d, mdbOffset, 512)
	if err != nil {
		return false, err
	}
	if macbin.BE16(mdb) != sigHFS {
		return false, nil
	}
	allocBlockSize := macbin.BE32(mdb[0x14:])
	return allocBlockSize != 0 && allocBlockSize%512 == 0, nil
}

// Extent is a run of contiguous allocation blocks.
type Extent struct {
	Start uint16
	Count uint16
}

// extentFile accumulates the ordered extent list of one fork and turns
// logical fork offsets into absolute disk offsets.
type extentFile struct {
	extents []Extent
}

// AddExtent appends an extent with no continuity requirement: used for
// the first (up to) three extents stored directly in the MDB or a
// catalog record, and for the catalog file's own overflow extents, which
// Mount appends in the order the extents B-tree lists them.
func (e *extentFile) AddExtent(ext Extent) {
	e.extents = append(e.extents, ext)
}

// blockTotal returns the number of file-relative blocks already covered.
func (e *extentFile) blockTotal() uint16 {
	var total uint16
	for _, x := range e.extents {
		total += x.Count
	}
	return total
}

// AddExtentChecked appends an overflow extent, rejecting it unless its
// declared starting file-block equals the running block total — the
// continuity invariant overflow records must satisfy.
func (e *extentFile) AddExtentChecked(startBlock uint16, ext Extent) error {
	if total := e.blockTotal(); total != startBlock {
		return fmt.Errorf("extent continuity error: expected %d blocks, have %d: %w", startBlock, total, rserr.ErrInvalidFormat)
	}
	e.extents = append(e.extents, ext)
	return nil
}

// AllocationOffset converts a fork-relative byte offset into an absolute
// disk byte offset, walking the extent list in order.
func (e *extentFile) AllocationOffset(offset uint32, allocBlockSize uint32, allocStart uint16) (int64, error) {
	rem := offset
	for _, ext := range e.extents {
		size := uint32(ext.Count) * allocBlockSize
		if rem < size {
			return int64(allocStart)*512 + int64(ext.Start)*int64(allocBlockSize) + int64(rem), nil
		}
		rem -= size
	}
	return 0, fmt.Errorf("offset %d beyond extent list: %w", offset, rserr.ErrOutOfRange)
}

func (e *extentFile) totalBytes(allocBlockSize uint32) int64 {
	var total int64
	for _, x := range e.extents {
		total += int64(x.Count) * int64(allocBlockSize)
	}
	return total
}

// fork is a lazily-read machfs.Fork backed by an extent list on an
// underlying DataSource.
type fork struct {
	d              datasource.DataSource
	extents        *extentFile
	allocBlockSize uint32
	allocStart     uint16
	logicalSize    uint32
}

func (f *fork) Size() uint32 { return f.logicalSize }

func (f *fork) Read(offset, length uint32) ([]byte, error) {
	if offset >= f.logicalSize {
		return nil, nil
	}
	end := offset + length
	if end > f.logicalSize || end < offset {
		end = f.logicalSize
	}
	out := make([]byte, 0, end-offset)
	for offset < end {
		abs, err := f.extents.AllocationOffset(offset, f.allocBlockSize, f.allocStart)
		if err != nil {
			return nil, err
		}
		// Clamp this read to not cross into the next extent: find how
		// many contiguous bytes remain in the extent holding `offset`.
		remainInExtent := f.bytesRemainingInExtent(offset)
		chunk := end - offset
		if chunk > remainInExtent {
			chunk = remainInExtent
		}
		buf, err := datasource.Read(f.d, abs, int(chunk))
		if err != nil {
			return nil, fmt.Errorf("reading fork data: %w", rserr.ErrIO)
		}
		out = append(out, buf...)
		offset += chunk
	}
	return out, nil
}

func (f *fork) bytesRemainingInExtent(offset uint32) uint32 {
	rem := offset
	for _, ext := range f.extents.extents {
		size := uint32(ext.Count) * f.allocBlockSize
		if rem < size {
			return size - rem
		}
		rem -= size
	}
	return 0
}

// overflowKey identifies one fork of one file in the extents overflow
// B-tree.
type overflowKey struct {
	fileID   uint32
	forkType byte // 0x00 data, 0xFF resource
}

type overflowRecord struct {
	startBlock uint16
	extents    [3]Extent
}

// Volume is a mounted HFS partition.
type Volume struct {
	d    datasource.DataSource
	root *machfs.Folder
}

// RootFolder returns the mounted hierarchy's root.
func (v *Volume) RootFolder() *machfs.Folder { return v.root }

// Mount parses the MDB, extents B-tree, and catalog B-tree of d, and
// builds the folder/file hierarchy. It fails with rserr.ErrInvalidFormat
// on a signature mismatch or any structurally inconsistent B-tree, and
// rserr.ErrIO on a read failure.
func Mount(d datasource.DataSource) (vol *Volume, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			vol, err = nil, fmt.Errorf("HFS volume malformed: %v: %w", rec, rserr.ErrInvalidFormat)
		}
	}()

	ok, err := Probe(d)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("not an HFS volume: %w", rserr.ErrInvalidFormat)
	}

	mdb, err := datasource.Read(d, mdbOffset, 512)
	if err != nil {
		return nil, fmt.Errorf("reading HFS MDB: %w", rserr.ErrIO)
	}

	allocBlockSize := macbin.BE32(mdb[0x14:])
	allocStart := macbin.BE16(mdb[0x1c:])
	volName := macbin.PString(mdb[0x24:])

	extentsFile := &extentFile{}
	for i := 0; i < 3; i++ {
		start := macbin.BE16(mdb[0x86+4*i:])
		count := macbin.BE16(mdb[0x86+4*i+2:])
		if count > 0 {
			extentsFile.AddExtent(Extent{Start: start, Count: count})
		}
	}

	catalogFile := &extentFile{}
	for i := 0; i < 3; i++ {
		start := macbin.BE16(mdb[0x96+4*i:])
		count := macbin.BE16(mdb[0x96+4*i+2:])
		if count > 0 {
			catalogFile.AddExtent(Extent{Start: start, Count: count})
		}
	}

	extentsReader := newExtentReaderAt(d, extentsFile, allocBlockSize, allocStart)
	extentsRecords, err := parseBTree(extentsReader)
	if err != nil {
		return nil, fmt.Errorf("reading extents overflow b-tree: %w", err)
	}

	overflow := make(map[overflowKey][]overflowRecord)
	for _, rec := range extentsRecords {
		if len(rec) < 20 || rec[0] != 7 {
			continue // not an extents key (keyLength always 7 for this b-tree)
		}
		key := overflowKey{fileID: macbin.BE32(rec[2:]), forkType: rec[1]}
		startBlock := macbin.BE16(rec[6:])
		var exts [3]Extent
		for i := 0; i < 3; i++ {
			exts[i] = Extent{Start: macbin.BE16(rec[8+4*i:]), Count: macbin.BE16(rec[8+4*i+2:])}
		}
		overflow[key] = append(overflow[key], overflowRecord{startBlock: startBlock, extents: exts})

		if key.fileID == 4 && key.forkType == 0x00 {
			for _, ext := range exts {
				if ext.Count > 0 {
					catalogFile.AddExtent(ext)
				}
			}
		}
	}

	catalogReader := newExtentReaderAt(d, catalogFile, allocBlockSize, allocStart)
	catalogRecords, err := parseBTree(catalogReader)
	if err != nil {
		return nil, fmt.Errorf("reading catalog b-tree: %w", err)
	}

	root := machfs.NewFolder(string(volName))
	disk := &machfs.Disk{Name: string(volName), Description: d.Description()}
	folders := map[uint32]*machfs.Folder{2: root}

	type hierarchyEdge struct{ parentID, childID uint32 }
	var hierarchy []hierarchyEdge
	var fileRecords []fileCatalogEntry

	for _, rec := range catalogRecords {
		if len(rec) < 1 {
			continue
		}
		cut := (int(rec[0]) + 2) &^ 1
		if cut > len(rec) {
			continue
		}
		key := rec[:cut]
		val := rec[cut:]
		if len(key) < 7 || len(val) < 1 {
			continue
		}
		parentID := macbin.BE32(key[2:])
		if parentID == 1 {
			continue // volume's own thread/root placeholder, not a real entry
		}
		nameLen := int(key[6])
		if nameLen < 0 || 7+nameLen > len(key) {
			continue
		}
		name := string(key[7 : 7+nameLen])

		switch val[0] {
		case 1: // folder
			if len(val) < 0x12 {
				continue
			}
			folderID := macbin.BE32(val[6:])
			folder := machfs.NewFolder(name)
			folders[folderID] = folder
			hierarchy = append(hierarchy, hierarchyEdge{parentID, folderID})
		case 2: // file
			if len(val) < 0x66 {
				continue
			}
			fileRecords = append(fileRecords, fileCatalogEntry{parentID: parentID, name: name, val: append([]byte{}, val...)})
		default:
			continue // thread records and anything else
		}
	}

	for _, edge := range hierarchy {
		parent, ok := folders[edge.parentID]
		if !ok {
			continue
		}
		child, ok := folders[edge.childID]
		if !ok {
			continue
		}
		if err := parent.AddFolder(child); err != nil {
			return nil, err
		}
	}

	for _, fe := range fileRecords {
		parent, ok := folders[fe.parentID]
		if !ok {
			continue
		}
		val := fe.val
		fileID := macbin.BE32(val[0x14:])
		var fileType, creator [4]byte
		copy(fileType[:], val[4:8])
		copy(creator[:], val[8:12])
		dataSize := macbin.BE32(val[0x1a:])
		rsrcSize := macbin.BE32(val[0x24:])

		dataExtents := buildForkExtents(overflow, fileID, 0x00, val[0x4a:0x56])
		rsrcExtents := buildForkExtents(overflow, fileID, 0xFF, val[0x56:0x62])

		var dataFork, rsrcFork machfs.Fork
		if dataSize > 0 {
			dataFork = &fork{d: d, extents: dataExtents, allocBlockSize: allocBlockSize, allocStart: allocStart, logicalSize: dataSize}
		}
		if rsrcSize > 0 {
			rsrcFork = &fork{d: d, extents: rsrcExtents, allocBlockSize: allocBlockSize, allocStart: allocStart, logicalSize: rsrcSize}
		}

		f := &machfs.File{
			Disk:     disk,
			Name:     []byte(fe.name),
			Type:     fileType,
			Creator:  creator,
			DataSize: dataSize,
			RsrcSize: rsrcSize,
			DataFork: dataFork,
			RsrcFork: rsrcFork,
		}
		if err := parent.AddFile(f); err != nil {
			return nil, err
		}
	}

	return &Volume{d: d, root: root}, nil
}

type fileCatalogEntry struct {
	parentID uint32
	name     string
	val      []byte
}

// buildForkExtents seeds an extent file with the three extents stored in
// the catalog record itself, then chases any overflow-B-tree
// continuation records for (fileID, forkType) in declared-startBlock
// order, rejecting a gap via AddExtentChecked.
func buildForkExtents(overflow map[overflowKey][]overflowRecord, fileID uint32, forkType byte, rec []byte) *extentFile {
	ef := &extentFile{}
	for i := 0; i < 3; i++ {
		start := macbin.BE16(rec[4*i:])
		count := macbin.BE16(rec[4*i+2:])
		if count > 0 {
			ef.AddExtent(Extent{Start: start, Count: count})
		}
	}

	records := overflow[overflowKey{fileID: fileID, forkType: forkType}]
	for {
		total := ef.blockTotal()
		progressed := false
		for _, or := range records {
			if or.startBlock != total {
				continue
			}
			for _, ext := range or.extents {
				if ext.Count == 0 {
					continue
				}
				if err := ef.AddExtentChecked(total, ext); err != nil {
					return ef
				}
				total = ef.blockTotal()
			}
			progressed = true
			break
		}
		if !progressed {
			break
		}
	}
	return ef
}
