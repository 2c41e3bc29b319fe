package stm

import "github.com/joshuapare/stmkit/internal/memory"

// Backing selects where segment buffers are allocated.
type Backing = memory.Kind

const (
	// BackingHeap allocates segments from the Go heap.
	BackingHeap = memory.Heap

	// BackingMmap allocates segments as anonymous private mappings.
	// Falls back to the heap on platforms without mmap.
	BackingMmap = memory.Mmap
)

// Options configures a region.
type Options struct {
	// Backing selects the segment buffer source.
	// Default: BackingHeap
	Backing Backing

	// MemoryLimit caps the bytes held by live segments and undo pre-images.
	// Create fails and Alloc reports ErrOutOfMemory once it is reached.
	// Default: 0 (unlimited)
	MemoryLimit int64
}

// DefaultOptions returns the options used by Create.
func DefaultOptions() *Options {
	return &Options{
		Backing:     BackingHeap,
		MemoryLimit: 0,
	}
}
