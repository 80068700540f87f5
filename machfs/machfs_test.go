package machfs

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fstark/retroscope/rserr"
)

func TestFolderAddFileRejectsReparent(t *testing.T) {
	a := NewFolder("a")
	b := NewFolder("b")
	f := &File{Name: []byte("x")}
	if err := a.AddFile(f); err != nil {
		t.Fatal(err)
	}
	if err := b.AddFile(f); !errors.Is(err, rserr.ErrHierarchyViolation) {
		t.Fatalf("expected ErrHierarchyViolation, got %v", err)
	}
}

func TestFolderAddFolderRejectsReparent(t *testing.T) {
	a := NewFolder("a")
	b := NewFolder("b")
	c := NewFolder("c")
	if err := a.AddFolder(c); err != nil {
		t.Fatal(err)
	}
	if err := b.AddFolder(c); !errors.Is(err, rserr.ErrHierarchyViolation) {
		t.Fatalf("expected ErrHierarchyViolation, got %v", err)
	}
}

func TestEagerForkReadPastEndIsEmpty(t *testing.T) {
	f := NewEagerFork([]byte("hello"))
	got, err := f.Read(10, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("got %q, want empty", got)
	}
}

func TestEagerForkReadClampsToSize(t *testing.T) {
	f := NewEagerFork([]byte("hello"))
	got, err := f.Read(2, 100)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("llo")) {
		t.Fatalf("got %q", got)
	}
}

type recordingVisitor struct {
	order []string
}

func (r *recordingVisitor) PreVisitFolder(f *Folder) bool {
	r.order = append(r.order, "pre:"+f.Name)
	return true
}
func (r *recordingVisitor) VisitFile(f *File) {
	r.order = append(r.order, "file:"+string(f.Name))
}
func (r *recordingVisitor) PostVisitFolder(f *Folder) {
	r.order = append(r.order, "post:"+f.Name)
}

func TestWalkDepthFirst(t *testing.T) {
	root := NewFolder("root")
	sub := NewFolder("sub")
	root.AddFolder(sub)
	rootFile := &File{Name: []byte("top.txt")}
	root.AddFile(rootFile)
	subFile := &File{Name: []byte("nested.txt")}
	sub.AddFile(subFile)

	v := &recordingVisitor{}
	Walk(root, v)

	want := []string{"pre:root", "file:top.txt", "pre:sub", "file:nested.txt", "post:sub", "post:root"}
	if len(v.order) != len(want) {
		t.Fatalf("got %v, want %v", v.order, want)
	}
	for i := range want {
		if v.order[i] != want[i] {
			t.Fatalf("got %v, want %v", v.order, want)
		}
	}
}

type skipVisitor struct{ visited bool }

func (s *skipVisitor) PreVisitFolder(f *Folder) bool { return false }
func (s *skipVisitor) VisitFile(f *File)             { s.visited = true }
func (s *skipVisitor) PostVisitFolder(f *Folder)     {}

func TestWalkSkipsOnFalsePreVisit(t *testing.T) {
	root := NewFolder("root")
	root.AddFile(&File{Name: []byte("x")})
	v := &skipVisitor{}
	Walk(root, v)
	if v.visited {
		t.Fatal("expected children to be skipped")
	}
}
