package plan

import (
	"fmt"
	"io"

	"github.com/docker/go-units"
	"github.com/gosuri/uitable"
)

// Kind says what committing a batch does to its files.
type Kind string

const (
	// KindAdd stages new and modified files.
	KindAdd Kind = "add"
	// KindDelete stages the removal of tracked files gone from the working tree.
	KindDelete Kind = "delete"
)

// FileEntry is a file captured at planning time.
type FileEntry struct {
	// Path is relative to the plan root and slash separated.
	Path string
	// Size is the size in bytes when planned. For a symlink it is the link size.
	Size    int64
	Symlink bool
}

// SkippedFile is a file left out of the plan.
type SkippedFile struct {
	Entry  FileEntry
	Reason error
}

// Batch is a group of files committed together.
type Batch struct {
	// Index is 1-based and follows plan order.
	Index int
	Kind  Kind
	Files []FileEntry
	Size  int64

	oversize bool
}

// Oversize reports whether the batch is a single file larger than the batch limit.
func (b Batch) Oversize() bool {
	return b.oversize
}

// Paths returns the file paths of the batch in order.
func (b Batch) Paths() []string {
	paths := make([]string, len(b.Files))
	for i, f := range b.Files {
		paths[i] = f.Path
	}
	return paths
}

// Plan is the ordered list of batches for one run.
type Plan struct {
	Root    string
	Batches []Batch
	Skipped []SkippedFile
	// Deleted lists tracked paths missing from the working tree.
	Deleted []string

	MaxFileSize  int64
	MaxBatchSize int64
}

// Files returns the files of all add batches in plan order.
func (p *Plan) Files() []FileEntry {
	var files []FileEntry
	for _, b := range p.Batches {
		if b.Kind == KindAdd {
			files = append(files, b.Files...)
		}
	}
	return files
}

// TotalSize is the sum of all batch sizes.
func (p *Plan) TotalSize() int64 {
	var total int64
	for _, b := range p.Batches {
		total += b.Size
	}
	return total
}

// Empty reports whether there is nothing to commit.
func (p *Plan) Empty() bool {
	return len(p.Batches) == 0
}

// Group partitions entries into batches of at most maxBatch bytes, keeping
// their order. When the next file would push the current batch over the limit
// the batch is closed and the file starts a new one. Indexes start at 1.
func Group(entries []FileEntry, maxBatch int64) []Batch {
	var batches []Batch
	var current Batch

	flush := func() {
		if len(current.Files) == 0 {
			return
		}
		current.Index = len(batches) + 1
		current.Kind = KindAdd
		current.oversize = len(current.Files) == 1 && current.Size > maxBatch
		batches = append(batches, current)
		current = Batch{}
	}

	for _, e := range entries {
		if len(current.Files) > 0 && current.Size+e.Size > maxBatch {
			flush()
		}
		current.Files = append(current.Files, e)
		current.Size += e.Size
	}
	flush()

	return batches
}

// Render writes the plan as a table of batches followed by the skipped files.
func (p *Plan) Render(w io.Writer) error {
	if p.Empty() {
		if _, err := fmt.Fprintln(w, "Nothing to commit: no files to batch."); err != nil {
			return err
		}
	} else {
		table := uitable.New()
		table.MaxColWidth = 60
		table.AddRow("BATCH", "KIND", "FILES", "SIZE", "FIRST FILE")
		for _, b := range p.Batches {
			first := ""
			if len(b.Files) > 0 {
				first = b.Files[0].Path
			}
			size := units.HumanSize(float64(b.Size))
			if b.Oversize() {
				size += " (oversize)"
			}
			table.AddRow(fmt.Sprintf("%d/%d", b.Index, len(p.Batches)), b.Kind, len(b.Files), size, first)
		}
		if _, err := fmt.Fprintln(w, table); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "\n%d batches, %d files, %s total (batch limit %s)\n",
			len(p.Batches), len(p.Files()), units.HumanSize(float64(p.TotalSize())),
			units.HumanSize(float64(p.MaxBatchSize))); err != nil {
			return err
		}
	}

	if len(p.Skipped) == 0 {
		return nil
	}

	skipped := uitable.New()
	skipped.MaxColWidth = 80
	skipped.AddRow("SKIPPED", "SIZE", "REASON")
	for _, s := range p.Skipped {
		skipped.AddRow(s.Entry.Path, units.HumanSize(float64(s.Entry.Size)), reasonText(s))
	}
	_, err := fmt.Fprintf(w, "\n%s\n", skipped)
	return err
}

func reasonText(s SkippedFile) string {
	if s.Reason == nil {
		return ""
	}
	return s.Reason.Error()
}
