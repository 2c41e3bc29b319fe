// Package testutil holds helpers shared by the package tests.
package testutil

import (
	"encoding/binary"
	"sync"
	"testing"
)

// Pattern returns n bytes counting up from start (wrapping at 256).
//
// Example:
//
//	testutil.Pattern(8, 1) // 01 02 03 04 05 06 07 08
func Pattern(n int, start byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = start + byte(i)
	}
	return b
}

// Fill returns n copies of v.
func Fill(n int, v byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = v
	}
	return b
}

// Word encodes v as one native-endian 8-byte word.
func Word(v uint64) []byte {
	b := make([]byte, 8)
	binary.NativeEndian.PutUint64(b, v)
	return b
}

// ReadWord decodes one native-endian 8-byte word.
func ReadWord(b []byte) uint64 {
	return binary.NativeEndian.Uint64(b)
}

// RunParallel starts n goroutines running fn(i) and waits for all of them.
// The goroutines are released together so they contend from the start.
func RunParallel(t *testing.T, n int, fn func(i int)) {
	t.Helper()

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			fn(i)
		}()
	}
	close(start)
	wg.Wait()
}
