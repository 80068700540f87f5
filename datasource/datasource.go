// Package datasource implements the layered, composable byte-addressable
// abstraction that the rest of the storage stack reads through: a plain
// file, a sub-range of some other source, or a periodic (sector-stripped)
// window over some other source. Composition, not inheritance, is what
// lets the container unwrappers and filesystem parsers stay oblivious to
// how many wrappers sit underneath them.
package datasource

import (
	"fmt"
	"io"
	"os"

	"github.com/fstark/retroscope/rserr"
)

// DataSource is a random-access byte window. ReadAt follows the
// io.ReaderAt contract in shape (so a DataSource composes directly with
// io.SectionReader and friends) but never reports a short read with
// io.EOF: a read entirely inside [0, Size()) always succeeds in full, and
// one that reaches past Size() fails with rserr.ErrOutOfRange instead.
type DataSource interface {
	ReadAt(p []byte, off int64) (n int, err error)
	Size() int64
	Description() string
}

// Read is a convenience wrapper returning an exactly-length slice, per
// spec: "The return always has length equal to length."
func Read(d DataSource, offset int64, length int) ([]byte, error) {
	buf := make([]byte, length)
	n, err := d.ReadAt(buf, offset)
	if err != nil {
		return nil, err
	}
	if n != length {
		return nil, fmt.Errorf("%s: short read at %d: %w", d.Description(), offset, rserr.ErrIO)
	}
	return buf, nil
}

// FileSource opens a regular file read-only; its size is the filesystem
// size at open time.
type FileSource struct {
	f    *os.File
	size int64
	path string
}

// OpenFile opens path read-only as a DataSource. The caller must not
// assume the returned *os.File is exposed; call Close when done.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, rserr.ErrIO)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, rserr.ErrIO)
	}
	return &FileSource{f: f, size: info.Size(), path: path}, nil
}

func (s *FileSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > s.size {
		return 0, fmt.Errorf("%s: read [%d:%d) exceeds size %d: %w", s.path, off, off+int64(len(p)), s.size, rserr.ErrOutOfRange)
	}
	n, err := s.f.ReadAt(p, off)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("%s: %w: %v", s.path, rserr.ErrIO, err)
	}
	if n != len(p) {
		return n, fmt.Errorf("%s: short read at %d: %w", s.path, off, rserr.ErrIO)
	}
	return n, nil
}

func (s *FileSource) Size() int64 { return s.size }

func (s *FileSource) Description() string { return s.path }

// Close releases the underlying file handle.
func (s *FileSource) Close() error { return s.f.Close() }

// RangeSource is a sub-range of a parent DataSource: offset plus size,
// forwarding reads with the offset added.
type RangeSource struct {
	parent DataSource
	offset int64
	size   int64
	desc   string
}

// NewRange builds a RangeSource, rejecting a window that exceeds the
// parent's bounds.
func NewRange(parent DataSource, offset, size int64, desc string) (*RangeSource, error) {
	if offset < 0 || size < 0 || offset+size > parent.Size() {
		return nil, fmt.Errorf("%s: range [%d:%d) exceeds parent size %d: %w", desc, offset, offset+size, parent.Size(), rserr.ErrOutOfRange)
	}
	return &RangeSource{parent: parent, offset: offset, size: size, desc: desc}, nil
}

func (s *RangeSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > s.size {
		return 0, fmt.Errorf("%s: read [%d:%d) exceeds size %d: %w", s.desc, off, off+int64(len(p)), s.size, rserr.ErrOutOfRange)
	}
	return s.parent.ReadAt(p, s.offset+off)
}

func (s *RangeSource) Size() int64 { return s.size }

func (s *RangeSource) Description() string { return s.desc }

// StrippedSource is a periodic window over a parent DataSource: every
// sectorSize bytes of the parent contribute skipBytes of dead space
// followed by dataBytes of live payload. Used to strip CD-ROM Mode 1
// sector headers/ECC down to the 2048-byte user payload.
type StrippedSource struct {
	parent     DataSource
	sectorSize int64
	skip       int64
	data       int64
	size       int64
	desc       string
}

// NewStripped builds a StrippedSource. Total size is the number of whole
// sectors times dataBytes, plus any partial trailing sector's share of
// data bytes beyond skip.
func NewStripped(parent DataSource, sectorSize, skip, data int64, desc string) (*StrippedSource, error) {
	if sectorSize <= 0 || data <= 0 || skip < 0 || skip+data > sectorSize {
		return nil, fmt.Errorf("%s: malformed stripe geometry: %w", desc, rserr.ErrInvalidFormat)
	}
	parentSize := parent.Size()
	wholeSectors := parentSize / sectorSize
	size := wholeSectors * data
	rem := parentSize - wholeSectors*sectorSize
	if rem > skip {
		extra := rem - skip
		if extra > data {
			extra = data
		}
		size += extra
	}
	return &StrippedSource{parent: parent, sectorSize: sectorSize, skip: skip, data: data, size: size, desc: desc}, nil
}

func (s *StrippedSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > s.size {
		return 0, fmt.Errorf("%s: read [%d:%d) exceeds size %d: %w", s.desc, off, off+int64(len(p)), s.size, rserr.ErrOutOfRange)
	}
	done := 0
	for done < len(p) {
		logical := off + int64(done)
		sector := logical / s.data
		within := logical % s.data
		parentOff := sector*s.sectorSize + s.skip + within
		n := s.data - within
		remaining := int64(len(p) - done)
		if n > remaining {
			n = remaining
		}
		if _, err := s.parent.ReadAt(p[done:int64(done)+n], parentOff); err != nil {
			return done, err
		}
		done += int(n)
	}
	return done, nil
}

func (s *StrippedSource) Size() int64 { return s.size }

func (s *StrippedSource) Description() string { return s.desc }
