// Package volume is the partition factory: given a single filesystem-
// bearing DataSource, it probes for HFS, then MFS, and mounts whichever
// matches first, per spec.md §4.3. Neither probe fully parses the
// filesystem; each reads a fixed prefix and checks a signature (the HFS
// probe also checks that the allocation-block size is plausible) before
// the real mount commits to a full parse.
package volume

import (
	"fmt"

	"github.com/fstark/retroscope/datasource"
	"github.com/fstark/retroscope/machfs"
	"github.com/fstark/retroscope/rserr"
	"github.com/fstark/retroscope/volume/internal/hfsvol"
	"github.com/fstark/retroscope/volume/internal/mfsvol"
)

// Partition is the common face both MFS and HFS mounts present: a single
// root folder holding the mounted hierarchy.
type Partition interface {
	RootFolder() *machfs.Folder
}

// Probe tries HFS, then MFS, returning the first format whose signature
// matches. If neither matches, it returns rserr.ErrInvalidFormat: d is
// not a filesystem this module knows how to mount.
func Probe(d datasource.DataSource) (Partition, error) {
	if ok, err := hfsvol.Probe(d); err != nil {
		return nil, err
	} else if ok {
		return hfsvol.Mount(d)
	}

	if ok, err := mfsvol.Probe(d); err != nil {
		return nil, err
	} else if ok {
		return mfsvol.Mount(d)
	}

	return nil, fmt.Errorf("%s: no recognized filesystem at this source: %w", d.Description(), rserr.ErrInvalidFormat)
}
