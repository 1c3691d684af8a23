// Package feeder implements the fuzzer InputFeeder: it memory-maps a
// fuzzer-supplied input file once per worker and hands out bytes to
// Data-register reads (SPEC_FULL.md §4.F), the same mmap-once,
// hand-out-slices treatment the teacher gives guest memory.
package feeder

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// MaxBufferBytes is the fixed capacity of the feeder's working buffer.
const MaxBufferBytes = 128

// Exhausted is returned once every mapped byte has been consumed; the
// caller is expected to upcall doneWork(0x71) and terminate the worker.
var Exhausted = fmt.Errorf("input feeder: exhausted")

// Feeder supplies bytes to Data-register reads from a memory-mapped file.
type Feeder struct {
	mapping []byte
	cursor  int
}

// Open memory-maps path read-only and copies it once into the feeder's
// bounded working buffer, from which reads are served. The mapping is not
// released; it stays in place until the worker process exits.
func Open(path string) (*Feeder, error) {
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("input feeder: open %s: %w", path, err)
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("input feeder: stat %s: %w", path, err)
	}
	size := int(st.Size)
	if size <= 0 {
		return &Feeder{}, nil
	}
	if size > MaxBufferBytes {
		size = MaxBufferBytes
	}

	mapping, err := unix.Mmap(fd, 0, size, unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("input feeder: mmap %s: %w", path, err)
	}

	buf := make([]byte, size)
	copy(buf, mapping)
	return &Feeder{mapping: buf}, nil
}

// FromBytes builds a feeder directly from a byte slice, used by tests and
// by callers that already have the input in memory.
func FromBytes(data []byte) *Feeder {
	if len(data) > MaxBufferBytes {
		data = data[:MaxBufferBytes]
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return &Feeder{mapping: buf}
}

// Read consumes n bytes (1, 2, or 4) MSB-first into a 32-bit value, as
// SPEC_FULL.md §4.F specifies for Data-register reads.
func (f *Feeder) Read(n int) (uint32, error) {
	if f.cursor+n > len(f.mapping) {
		return 0, Exhausted
	}
	var v uint32
	for i := 0; i < n; i++ {
		v = (v << 8) | uint32(f.mapping[f.cursor+i])
	}
	f.cursor += n
	return v, nil
}

// Remaining reports how many unconsumed bytes are left.
func (f *Feeder) Remaining() int { return len(f.mapping) - f.cursor }
