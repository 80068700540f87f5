// Package resourcefork parses a classic Mac OS resource fork: header,
// data area, map area (type list, reference lists, name list) into a
// flat, sorted list of typed, identified, optionally-named resources.
package resourcefork

import (
	"cmp"
	"fmt"
	"io"
	"slices"

	"github.com/fstark/retroscope/macbin"
	"github.com/fstark/retroscope/rserr"
)

// Resource is a single entry from a resource fork.
type Resource struct {
	Type [4]byte
	ID   int16
	Name string
	Data []byte
}

// Parser validates a resource fork's header once, up front, and answers
// whether the fork is structurally sound before any resource is read.
type Parser struct {
	r      io.ReaderAt
	size   int64
	valid  bool
	reason error

	dataOffset int64
	mapOffset  int64
	dataLength int64
	mapLength  int64
}

// New validates the 16-byte header at the start of r (a resource fork of
// the given size) per spec.md §4.9. It never returns an error itself;
// call Valid to check whether the fork passed validation, and Resources
// to enumerate (which fails if it did not).
func New(r io.ReaderAt, size int64) *Parser {
	p := &Parser{r: r, size: size}
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				p.valid = false
				p.reason = fmt.Errorf("resource fork header malformed: %v: %w", rec, rserr.ErrInvalidFormat)
			}
		}()
		p.validate()
	}()
	return p
}

func (p *Parser) validate() {
	if p.size < 16 {
		p.reason = fmt.Errorf("resource fork smaller than header: %w", rserr.ErrInvalidFormat)
		return
	}
	hdr := make([]byte, 16)
	n, err := p.r.ReadAt(hdr, 0)
	if n != 16 {
		p.reason = fmt.Errorf("resource fork header unreadable: %w", rserr.ErrInvalidFormat)
		_ = err
		return
	}
	dataOffset := int64(macbin.BE32(hdr[0:]))
	mapOffset := int64(macbin.BE32(hdr[4:]))
	dataLength := int64(macbin.BE32(hdr[8:]))
	mapLength := int64(macbin.BE32(hdr[12:]))

	if dataOffset < 16 || dataOffset >= p.size {
		p.reason = fmt.Errorf("data_offset %d out of range: %w", dataOffset, rserr.ErrInvalidFormat)
		return
	}
	if mapOffset < 16 || mapOffset >= p.size {
		p.reason = fmt.Errorf("map_offset %d out of range: %w", mapOffset, rserr.ErrInvalidFormat)
		return
	}
	if dataOffset+dataLength > p.size {
		p.reason = fmt.Errorf("data area exceeds fork size: %w", rserr.ErrInvalidFormat)
		return
	}
	if mapOffset+mapLength > p.size {
		p.reason = fmt.Errorf("map area exceeds fork size: %w", rserr.ErrInvalidFormat)
		return
	}
	if rangesOverlap(dataOffset, dataLength, mapOffset, mapLength) {
		p.reason = fmt.Errorf("data and map areas overlap: %w", rserr.ErrInvalidFormat)
		return
	}

	p.dataOffset = dataOffset
	p.mapOffset = mapOffset
	p.dataLength = dataLength
	p.mapLength = mapLength
	p.valid = true
}

func rangesOverlap(aOff, aLen, bOff, bLen int64) bool {
	return aOff < bOff+bLen && bOff < aOff+aLen
}

// Valid reports whether the header passed validation.
func (p *Parser) Valid() bool { return p.valid }

type refEntry struct {
	id         int16
	nameOffset uint16
	dataOffset uint32
}

type typeEntry struct {
	code    [4]byte
	entries []refEntry
}

// Resources returns every resource in the fork, sorted by (type, id). It
// fails with rserr.ErrInvalidFormat if the header did not validate, or if
// any structure it navigates afterward is inconsistent.
func (p *Parser) Resources() (resources []Resource, err error) {
	if !p.valid {
		return nil, p.reason
	}
	defer func() {
		if rec := recover(); rec != nil {
			resources, err = nil, fmt.Errorf("resource map malformed: %v: %w", rec, rserr.ErrInvalidFormat)
		}
	}()

	mapData := make([]byte, p.mapLength)
	if n, _ := p.r.ReadAt(mapData, p.mapOffset); int64(n) != p.mapLength {
		return nil, fmt.Errorf("resource map unreadable: %w", rserr.ErrInvalidFormat)
	}
	if len(mapData) < 30 {
		return nil, fmt.Errorf("resource map too small: %w", rserr.ErrInvalidFormat)
	}

	typeListOffset := int64(macbin.BE16(mapData[24:]))
	nameListOffset := int64(macbin.BE16(mapData[26:]))

	if int64(len(mapData)) < typeListOffset+2 {
		return nil, fmt.Errorf("type list offset out of range: %w", rserr.ErrInvalidFormat)
	}
	typeList := mapData[typeListOffset:]
	numTypes := int(macbin.BE16(typeList[0:])) + 1

	if len(typeList) < 2+8*numTypes {
		return nil, fmt.Errorf("type list truncated: %w", rserr.ErrInvalidFormat)
	}

	var types []typeEntry
	for i := 0; i < numTypes; i++ {
		te := typeList[2+8*i:]
		code := macbin.FourCC(te)
		numRes := int(macbin.BE16(te[4:])) + 1
		refListOffset := int64(macbin.BE16(te[6:]))

		if int64(len(typeList)) < refListOffset+12*int64(numRes) {
			return nil, fmt.Errorf("reference list for %q truncated: %w", code, rserr.ErrInvalidFormat)
		}
		refList := typeList[refListOffset:]

		var entries []refEntry
		for j := 0; j < numRes; j++ {
			re := refList[12*j:]
			id := int16(macbin.BE16(re[0:]))
			nameOffset := macbin.BE16(re[2:])
			dataOffset := macbin.BE24(re[4:])
			entries = append(entries, refEntry{id: id, nameOffset: nameOffset, dataOffset: dataOffset})
		}
		types = append(types, typeEntry{code: code, entries: entries})
	}

	nameList := mapData[min64(nameListOffset, int64(len(mapData))):]

	var out []Resource
	for _, te := range types {
		for _, re := range te.entries {
			totalOffset := p.dataOffset + int64(re.dataOffset)
			lenbuf := make([]byte, 4)
			if n, _ := p.r.ReadAt(lenbuf, totalOffset); n != 4 {
				return nil, fmt.Errorf("resource %s/%d body length unreadable: %w", te.code, re.id, rserr.ErrInvalidFormat)
			}
			dataLength := macbin.BE32(lenbuf)
			if totalOffset+4+int64(dataLength) > p.dataOffset+p.dataLength {
				return nil, fmt.Errorf("resource %s/%d body exceeds data area: %w", te.code, re.id, rserr.ErrInvalidFormat)
			}
			payload := make([]byte, dataLength)
			if n, _ := p.r.ReadAt(payload, totalOffset+4); uint32(n) != dataLength {
				return nil, fmt.Errorf("resource %s/%d body unreadable: %w", te.code, re.id, rserr.ErrInvalidFormat)
			}

			name := ""
			if re.nameOffset != 0xFFFF {
				at := int64(re.nameOffset)
				if at >= int64(len(nameList)) {
					return nil, fmt.Errorf("resource %s/%d name offset out of range: %w", te.code, re.id, rserr.ErrInvalidFormat)
				}
				raw := macbin.PString(nameList[at:])
				name = string(raw)
			}

			out = append(out, Resource{Type: te.code, ID: re.id, Name: name, Data: payload})
		}
	}

	slices.SortFunc(out, func(a, b Resource) int {
		if c := cmpBytes(a.Type[:], b.Type[:]); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	return out, nil
}

func cmpBytes(a, b []byte) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
