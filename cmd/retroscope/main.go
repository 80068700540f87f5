// Command retroscope mounts vintage Macintosh disk/CD-ROM images named on
// its command line and prints their contents: expand each container
// (Disk Copy 4.2 / CD-ROM BIN / Apple Partition Map), mount every
// filesystem-bearing source that results (MFS or HFS), and depth-first
// walk the hierarchy with a single built-in Visitor.
//
// Filtering, grouping, diffing, duplicate detection, and resource-level
// extraction are not commands here: they are future external Visitors
// against the same machfs.Visitor/resourcefork.Parser contracts.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/fstark/retroscope/container"
	"github.com/fstark/retroscope/datasource"
	"github.com/fstark/retroscope/machfs"
	"github.com/fstark/retroscope/resourcefork"
	"github.com/fstark/retroscope/volume"
)

func main() {
	showResources := flag.Bool("resources", false, "also print each file's resource fork contents")
	maxDepth := flag.Int("depth", -1, "maximum folder depth to print (-1 for unlimited)")
	flag.Parse()

	configureLogging()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: retroscope [-resources] [-depth N] <image-glob>...")
		os.Exit(2)
	}

	paths, err := expandArgs(flag.Args())
	if err != nil {
		slog.Error("globFailed", "err", err)
		os.Exit(1)
	}
	if len(paths) == 0 {
		slog.Warn("noMatches", "patterns", flag.Args())
		return
	}

	var out sync.Mutex
	eg, ctx := errgroup.WithContext(context.Background())
	eg.SetLimit(max(1, runtime.GOMAXPROCS(0)))

	for _, p := range paths {
		eg.Go(func() error {
			scanOne(ctx, p, *showResources, *maxDepth, &out)
			return nil
		})
	}
	_ = eg.Wait() // scanOne never returns an error: a failed image is logged, not fatal
}

// expandArgs glob-expands every CLI argument (bmatcuk/doublestar, the same
// library the teacher uses for its own exclude-pattern matching) and
// dedupes the result by a fast identity hash over the matched path, the
// same role the teacher's internal/fileid gives xxhash: content-based
// duplicate detection stays an external visitor's job.
func expandArgs(patterns []string) ([]string, error) {
	seen := make(map[uint64]bool)
	var out []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			matches = []string{pattern} // plain path, no glob meta-characters
		}
		for _, m := range matches {
			h := xxhash.Sum64String(m)
			if seen[h] {
				continue
			}
			seen[h] = true
			out = append(out, m)
		}
	}
	return out, nil
}

// scanOne mounts and prints every partition found in one top-level
// container file. Every failure is logged and swallowed: one bad image
// must not abort the batch.
func scanOne(ctx context.Context, path string, showResources bool, maxDepth int, out *sync.Mutex) {
	slog.Info("scanStart", "path", path)

	f, err := datasource.OpenFile(path)
	if err != nil {
		slog.Error("openFailed", "path", path, "err", err)
		return
	}
	defer f.Close()

	sources, err := container.Expand(f)
	if err != nil {
		slog.Error("expandFailed", "path", path, "err", err)
		return
	}

	for _, src := range sources {
		select {
		case <-ctx.Done():
			return
		default:
		}

		part, err := volume.Probe(src)
		if err != nil {
			slog.Warn("mountSkipped", "path", path, "source", src.Description(), "err", err)
			continue
		}

		var buf bytes.Buffer
		v := &printingVisitor{w: &buf, showResources: showResources, maxDepth: maxDepth}
		machfs.Walk(part.RootFolder(), v)

		out.Lock()
		fmt.Fprintf(os.Stdout, "== %s ==\n%s", src.Description(), buf.String())
		out.Unlock()
	}

	slog.Info("scanDone", "path", path)
}

// printingVisitor is the single built-in Visitor this command ships:
// print each folder and file's name, type/creator, and fork sizes, with
// resource-fork contents printed too when requested.
type printingVisitor struct {
	w             *bytes.Buffer
	showResources bool
	maxDepth      int
	depth         int
}

func (v *printingVisitor) PreVisitFolder(f *machfs.Folder) bool {
	if v.maxDepth >= 0 && v.depth > v.maxDepth {
		return false
	}
	if f.Parent() != nil { // the mount root's name is already in the "== ... ==" header
		fmt.Fprintf(v.w, "%s%s/\n", indent(v.depth), f.Name)
	}
	v.depth++
	return true
}

func (v *printingVisitor) PostVisitFolder(f *machfs.Folder) {
	v.depth--
}

func (v *printingVisitor) VisitFile(f *machfs.File) {
	fmt.Fprintf(v.w, "%s%s  type=%s creator=%s data=%d rsrc=%d\n",
		indent(v.depth), f.Name, f.Type, f.Creator, f.DataSize, f.RsrcSize)

	if !v.showResources || f.RsrcFork == nil {
		return
	}
	data, err := f.ReadRsrc(0, f.RsrcFork.Size())
	if err != nil {
		fmt.Fprintf(v.w, "%s  resource fork unreadable: %v\n", indent(v.depth), err)
		return
	}
	p := resourcefork.New(bytes.NewReader(data), int64(len(data)))
	if !p.Valid() {
		fmt.Fprintf(v.w, "%s  resource fork not parseable\n", indent(v.depth))
		return
	}
	resources, err := p.Resources()
	if err != nil {
		fmt.Fprintf(v.w, "%s  resource fork: %v\n", indent(v.depth), err)
		return
	}
	for _, r := range resources {
		fmt.Fprintf(v.w, "%s  resource %s/%d %q (%d bytes)\n", indent(v.depth), r.Type, r.ID, r.Name, len(r.Data))
	}
}

func indent(depth int) string {
	return fmt.Sprintf("%*s", depth*2, "")
}

// configureLogging sets the slog default level from RETROSCOPE_LOG_LEVEL
// (debug/info/warn/error, spelled all lowercase or all uppercase; unset
// falls back to info, and any other value, mixed case included, falls
// back to info with a warning), matching memlimit.go's os.Getenv-driven
// configuration.
func configureLogging() {
	level := slog.LevelInfo
	switch os.Getenv("RETROSCOPE_LOG_LEVEL") {
	case "debug", "DEBUG":
		level = slog.LevelDebug
	case "warn", "WARN":
		level = slog.LevelWarn
	case "error", "ERROR":
		level = slog.LevelError
	case "", "info", "INFO":
		// default
	default:
		slog.Warn("unrecognizedLogLevel", "value", os.Getenv("RETROSCOPE_LOG_LEVEL"))
	}
	slog.SetLogLoggerLevel(level)
}
