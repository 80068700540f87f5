// Package machfs is the shared file/folder data model that both the MFS
// and HFS parsers build: a Mac file's metadata and forks, a hierarchical
// folder, and the visitor protocol external callers walk the tree with.
package machfs

import (
	"fmt"

	"github.com/fstark/retroscope/rserr"
)

// Disk identifies the container a File came from: its volume name and a
// human-readable description of the underlying DataSource, for
// diagnostics only.
type Disk struct {
	Name        string
	Description string
}

// Fork is a readable Mac file fork (data or resource). Read is clamped to
// [0, Size()]; a read entirely past the end returns an empty slice, not
// an error.
type Fork interface {
	Size() uint32
	Read(offset, length uint32) ([]byte, error)
}

// EagerFork holds the entire fork content in memory, as produced by the
// MFS parser (MFS forks are read as a single contiguous run).
type EagerFork struct {
	data []byte
}

// NewEagerFork wraps a fully-read fork payload.
func NewEagerFork(data []byte) *EagerFork {
	return &EagerFork{data: data}
}

func (f *EagerFork) Size() uint32 { return uint32(len(f.data)) }

func (f *EagerFork) Read(offset, length uint32) ([]byte, error) {
	if offset >= f.Size() {
		return nil, nil
	}
	end := offset + length
	if end > f.Size() || end < offset { // end < offset catches uint32 overflow
		end = f.Size()
	}
	out := make([]byte, end-offset)
	copy(out, f.data[offset:end])
	return out, nil
}

// File is a Mac file: its raw (unconverted) name, 4-byte type/creator
// codes, fork sizes, and optional fork readers. A File belongs to at most
// one Folder.
type File struct {
	Disk     *Disk
	Name     []byte
	Type     [4]byte
	Creator  [4]byte
	DataSize uint32
	RsrcSize uint32
	DataFork Fork
	RsrcFork Fork

	parent *Folder
}

// Parent returns the Folder this File was added to, or nil.
func (f *File) Parent() *Folder { return f.parent }

// ReadData reads length bytes of the data fork at offset.
func (f *File) ReadData(offset, length uint32) ([]byte, error) {
	if f.DataFork == nil {
		return nil, nil
	}
	return f.DataFork.Read(offset, length)
}

// ReadRsrc reads length bytes of the resource fork at offset.
func (f *File) ReadRsrc(offset, length uint32) ([]byte, error) {
	if f.RsrcFork == nil {
		return nil, nil
	}
	return f.RsrcFork.Read(offset, length)
}

// Folder is a hierarchical container of files and subfolders. Children
// are kept in discovery order.
type Folder struct {
	Name string

	parent  *Folder
	files   []*File
	folders []*Folder
}

// NewFolder creates an unparented Folder with the given name.
func NewFolder(name string) *Folder {
	return &Folder{Name: name}
}

// Parent returns this Folder's parent, or nil for the root.
func (fo *Folder) Parent() *Folder { return fo.parent }

// Files returns this Folder's direct file children, in insertion order.
func (fo *Folder) Files() []*File { return fo.files }

// Folders returns this Folder's direct subfolder children, in insertion
// order.
func (fo *Folder) Folders() []*Folder { return fo.folders }

// AddFile attaches f as a child, rejecting a file that already belongs to
// a folder.
func (fo *Folder) AddFile(f *File) error {
	if f.parent != nil {
		return fmt.Errorf("file %q already has a parent: %w", f.Name, rserr.ErrHierarchyViolation)
	}
	f.parent = fo
	fo.files = append(fo.files, f)
	return nil
}

// AddFolder attaches child as a subfolder, rejecting a folder that
// already belongs to a parent.
func (fo *Folder) AddFolder(child *Folder) error {
	if child.parent != nil {
		return fmt.Errorf("folder %q already has a parent: %w", child.Name, rserr.ErrHierarchyViolation)
	}
	child.parent = fo
	fo.folders = append(fo.folders, child)
	return nil
}

// Visitor is the depth-first traversal protocol external callers
// (printers, filters, accumulators, group builders, icon dedupers) plug
// into. None of those implementations belong in the core.
type Visitor interface {
	// PreVisitFolder is called before a folder's children are visited. If
	// it returns false, the folder's children are skipped entirely.
	PreVisitFolder(f *Folder) bool
	VisitFile(f *File)
	PostVisitFolder(f *Folder)
}

// Walk performs the standard depth-first traversal: pre-visit the
// folder, and if that returned true, visit files then recurse into
// subfolders, then post-visit.
func Walk(root *Folder, v Visitor) {
	if !v.PreVisitFolder(root) {
		return
	}
	for _, f := range root.Files() {
		v.VisitFile(f)
	}
	for _, sub := range root.Folders() {
		Walk(sub, v)
	}
	v.PostVisitFolder(root)
}
