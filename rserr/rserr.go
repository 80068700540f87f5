// Package rserr holds the error taxonomy shared by every layer of the
// storage stack: a data source, a container unwrapper, a filesystem
// parser, or a resource-fork parser all fail in one of four ways.
package rserr

import "errors"

var (
	// ErrOutOfRange means an offset/length pair fell outside a DataSource,
	// a fork, or an extent list. Always a precondition violation by the
	// caller or an inconsistency baked into the image.
	ErrOutOfRange = errors.New("out of range")

	// ErrIO means the underlying media read failed or returned short.
	ErrIO = errors.New("io error")

	// ErrInvalidFormat means a signature or structural invariant failed
	// in a container wrapper, a filesystem, or a resource fork.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrHierarchyViolation means a Folder/File tree invariant was broken,
	// e.g. attaching a child that already has a parent.
	ErrHierarchyViolation = errors.New("hierarchy violation")
)
