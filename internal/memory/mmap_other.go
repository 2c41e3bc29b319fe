//go:build !unix

package memory

// mapAligned is unavailable without mmap; callers fall back to the heap.
func mapAligned(size, align int) (*Buffer, error) {
	return nil, errMmapUnsupported
}

func unmap(raw []byte) error {
	return nil
}
