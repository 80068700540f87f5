// Package mfsvol parses an MFS (flat, single-directory) volume: the
// Master Directory Block at offset 1024 and the variable-length
// directory entries that follow it, one 512-byte block at a time.
package mfsvol

import (
	"fmt"

	"github.com/fstark/retroscope/datasource"
	"github.com/fstark/retroscope/machfs"
	"github.com/fstark/retroscope/macbin"
	"github.com/fstark/retroscope/rserr"
)

const (
	mdbOffset        = 1024
	blockSize        = 512
	mdbSigMFS        = 0xD2D7
	directEntryFixed = 51 // sizeof(MFSDirectoryEntry), packed
)

// Probe reports whether d carries an MFS signature at offset 1024. It is
// a pure signature check: a false result is not an error.
func Probe(d datasource.DataSource) (bool, error) {
	if d.Size() < mdbOffset+blockSize {
		return false, nil
	}
	mdb, err := datasource.Read(d, mdbOffset, blockSize)
	if err != nil {
		return false, err
	}
	return macbin.BE16(mdb) == mdbSigMFS, nil
}

// Volume is a mounted MFS partition: a flat directory of files under a
// single root folder.
type Volume struct {
	d    datasource.DataSource
	root *machfs.Folder
}

// Mount parses the MDB and directory of d and returns a Volume whose
// RootFolder holds every in-use file. It fails with rserr.ErrInvalidFormat
// if the MDB signature does not match, and rserr.ErrIO on a read failure.
func Mount(d datasource.DataSource) (vol *Volume, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			vol, err = nil, fmt.Errorf("MFS volume malformed: %v: %w", rec, rserr.ErrInvalidFormat)
		}
	}()

	ok, err := Probe(d)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("not an MFS volume: %w", rserr.ErrInvalidFormat)
	}

	mdb, err := datasource.Read(d, mdbOffset, blockSize)
	if err != nil {
		return nil, fmt.Errorf("reading MFS MDB: %w", rserr.ErrIO)
	}

	dirStart := macbin.BE16(mdb[0x0E:])
	dirLength := macbin.BE16(mdb[0x10:])
	allocBlockSize := macbin.BE32(mdb[0x14:])
	firstAllocBlock := macbin.BE16(mdb[0x1C:])
	volName := macbin.PString(mdb[0x24:])

	disk := &machfs.Disk{Name: string(volName), Description: d.Description()}
	root := machfs.NewFolder(string(volName))

	allocAreaStart := int64(firstAllocBlock) * blockSize

	readFork := func(startBlock uint16, size uint32) (machfs.Fork, error) {
		if size == 0 {
			return nil, nil
		}
		adjusted := uint32(0)
		if startBlock >= 2 {
			adjusted = uint32(startBlock) - 2
		}
		start := allocAreaStart + int64(adjusted)*int64(allocBlockSize)
		data, err := datasource.Read(d, start, int(size))
		if err != nil {
			return nil, fmt.Errorf("reading MFS fork at block %d: %w", startBlock, rserr.ErrIO)
		}
		return machfs.NewEagerFork(data), nil
	}

	dirOffset := int64(dirStart) * blockSize
	for blockNum := uint16(0); blockNum < dirLength; blockNum++ {
		blockOffset := dirOffset + int64(blockNum)*blockSize
		block, err := datasource.Read(d, blockOffset, blockSize)
		if err != nil {
			return nil, fmt.Errorf("reading MFS directory block %d: %w", blockNum, rserr.ErrIO)
		}

		offsetInBlock := 0
		for offsetInBlock+directEntryFixed <= blockSize {
			entry := block[offsetInBlock:]
			flags := entry[0]

			// Clear in-use bit means no more entries packed in this block.
			if flags&0x80 == 0 {
				break
			}

			nameLen := int(entry[50])
			entrySize := directEntryFixed + nameLen
			if entrySize%2 != 0 {
				entrySize++
			}
			if offsetInBlock+entrySize > blockSize {
				break
			}

			if nameLen > 0 && nameLen <= 63 {
				name := append([]byte{}, entry[directEntryFixed:directEntryFixed+nameLen]...)
				var fileType, creator [4]byte
				copy(fileType[:], entry[2:6])
				copy(creator[:], entry[6:10])
				dataABlk := macbin.BE16(entry[22:])
				dataLen := macbin.BE32(entry[24:])
				rsrcABlk := macbin.BE16(entry[32:])
				rsrcLen := macbin.BE32(entry[34:])

				dataFork, err := readFork(dataABlk, dataLen)
				if err != nil {
					return nil, err
				}
				rsrcFork, err := readFork(rsrcABlk, rsrcLen)
				if err != nil {
					return nil, err
				}

				f := &machfs.File{
					Disk:     disk,
					Name:     name,
					Type:     fileType,
					Creator:  creator,
					DataSize: dataLen,
					RsrcSize: rsrcLen,
					DataFork: dataFork,
					RsrcFork: rsrcFork,
				}
				if err := root.AddFile(f); err != nil {
					return nil, err
				}
			}

			offsetInBlock += entrySize
		}
	}

	return &Volume{d: d, root: root}, nil
}

// RootFolder returns the volume's single flat directory.
func (v *Volume) RootFolder() *machfs.Folder { return v.root }
