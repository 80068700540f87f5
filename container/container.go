// Package container implements the container unwrappers: Disk Copy 4.2,
// CD-ROM BIN (2352-byte sectors), and the Apple Partition Map. Each is a
// pure probe: it returns ok=false (never an error) when its signature
// doesn't match, and only commits to an error once the signature has
// matched but the structure beneath it is broken.
package container

import (
	"fmt"

	"github.com/fstark/retroscope/datasource"
	"github.com/fstark/retroscope/macbin"
	"github.com/fstark/retroscope/rserr"
)

// UnwrapDC42 detects an 84-byte Disk Copy 4.2 header at offset 0 and, on
// success, returns a RangeSource exposing exactly data_size bytes
// starting after the header. Tags are ignored.
func UnwrapDC42(d datasource.DataSource) (datasource.DataSource, bool, error) {
	const headerLen = 84
	if d.Size() < headerLen {
		return nil, false, nil
	}
	hdr, err := datasource.Read(d, 0, headerLen)
	if err != nil {
		return nil, false, err
	}

	nameLen := int(hdr[0x00])
	dataSize := macbin.BE32(hdr[0x40:])
	tagSize := macbin.BE32(hdr[0x44:])
	format := hdr[0x50]

	if nameLen > 63 {
		return nil, false, nil
	}
	if dataSize%512 != 0 {
		return nil, false, nil
	}
	if tagSize != 0 && tagSize%12 != 0 {
		return nil, false, nil
	}
	if format == 0 {
		return nil, false, nil
	}
	if int64(headerLen)+int64(dataSize)+int64(tagSize) != d.Size() {
		return nil, false, nil
	}

	r, err := datasource.NewRange(d, headerLen, int64(dataSize), d.Description()+" [DC42]")
	if err != nil {
		return nil, false, fmt.Errorf("DC42 %s: %w", d.Description(), rserr.ErrInvalidFormat)
	}
	return r, true, nil
}

// standard CD-ROM Mode 1 sync pattern: 00 FF*10 00
var binSyncPattern = [12]byte{0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x00}

// UnwrapBIN detects a CD-ROM 2352-byte-sectored image by its sync pattern
// and strips every sector down to its 2048-byte user-data payload.
func UnwrapBIN(d datasource.DataSource) (datasource.DataSource, bool, error) {
	const sectorSize = 2352
	if d.Size() <= 0 || d.Size()%sectorSize != 0 {
		return nil, false, nil
	}
	head, err := datasource.Read(d, 0, 12)
	if err != nil {
		return nil, false, err
	}
	for i := range head {
		if head[i] != binSyncPattern[i] {
			return nil, false, nil
		}
	}
	s, err := datasource.NewStripped(d, sectorSize, 16, 2048, d.Description()+" [BIN]")
	if err != nil {
		return nil, false, fmt.Errorf("BIN %s: %w", d.Description(), rserr.ErrInvalidFormat)
	}
	return s, true, nil
}

// UnwrapAPM detects an Apple Partition Map at block 1 (offset 512) and
// returns a RangeSource per valid partition entry, in map order. Entries
// whose signature isn't "PM" are skipped, never fatal: the map's
// pmMapBlkCnt is authoritative for how far to scan.
func UnwrapAPM(d datasource.DataSource) ([]datasource.DataSource, bool, error) {
	const blockSize = 512
	if d.Size() < 2*blockSize {
		return nil, false, nil
	}
	first, err := datasource.Read(d, blockSize, blockSize)
	if err != nil {
		return nil, false, err
	}
	if first[0] != 'P' || first[1] != 'M' {
		return nil, false, nil
	}
	mapBlkCnt := macbin.BE32(first[4:])
	if mapBlkCnt == 0 {
		return nil, true, nil
	}

	var out []datasource.DataSource
	for i := uint32(1); i <= mapBlkCnt; i++ {
		off := int64(i) * blockSize
		if off+blockSize > d.Size() {
			break
		}
		ent, err := datasource.Read(d, off, blockSize)
		if err != nil {
			return nil, false, err
		}
		if ent[0] != 'P' || ent[1] != 'M' {
			continue
		}
		pyPartStart := macbin.BE32(ent[8:])
		partBlkCnt := macbin.BE32(ent[12:])
		partOff := int64(pyPartStart) * blockSize
		partSize := int64(partBlkCnt) * blockSize
		if partOff+partSize > d.Size() {
			partSize = d.Size() - partOff
		}
		if partSize <= 0 {
			continue
		}
		r, err := datasource.NewRange(d, partOff, partSize, fmt.Sprintf("%s [APM partition %d]", d.Description(), i))
		if err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, true, nil
}

// Expand repeatedly applies UnwrapBIN, then UnwrapDC42, then UnwrapAPM to
// every source in the working set until a pass makes no change, per
// spec.md §4.2. Order matters: a CD-ROM image is BIN -> raw track data ->
// APM -> HFS partitions; a floppy image is DC42 -> HFS.
func Expand(root datasource.DataSource) ([]datasource.DataSource, error) {
	set := []datasource.DataSource{root}

	for {
		changed := false
		var next []datasource.DataSource

		for _, s := range set {
			if bin, ok, err := UnwrapBIN(s); err != nil {
				return nil, err
			} else if ok {
				next = append(next, bin)
				changed = true
				continue
			}

			if dc42, ok, err := UnwrapDC42(s); err != nil {
				return nil, err
			} else if ok {
				next = append(next, dc42)
				changed = true
				continue
			}

			if parts, ok, err := UnwrapAPM(s); err != nil {
				return nil, err
			} else if ok {
				next = append(next, parts...)
				changed = true
				continue
			}

			next = append(next, s)
		}

		set = next
		if !changed {
			return set, nil
		}
	}
}
