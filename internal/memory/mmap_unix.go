//go:build unix

package memory

import (
	"errors"

	"golang.org/x/sys/unix"
)

var pageSize = unix.Getpagesize()

// mapAligned creates an anonymous private mapping and returns the aligned
// window inside it. Mappings are page aligned, so extra room is only mapped
// when align exceeds the page size.
func mapAligned(size, align int) (*Buffer, error) {
	length := size
	if align > pageSize {
		length += align - 1
	}
	raw, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}
	off := 0
	if align > pageSize {
		off = alignOffset(addrOf(raw), align)
	}
	return &Buffer{
		Data: raw[off : off+size : off+size],
		raw:  raw,
		kind: Mmap,
	}, nil
}

// unmap releases a mapping created by mapAligned.
func unmap(raw []byte) error {
	err := unix.Munmap(raw)
	if errors.Is(err, unix.EINVAL) {
		// Treat double-unmap as no-op for callers.
		return nil
	}
	return err
}
