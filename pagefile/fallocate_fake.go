package pagefile

import (
	"fmt"
	"io"
	"os"
)

// fakeFallocate reserves space by writing zeroes when the platform fallocate
// syscall is unavailable or unsupported by the underlying filesystem.
func fakeFallocate(f *os.File, offset int64, size int64) error {
	const blockSize = 4096
	var zero [blockSize]byte

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("failure seeking for fake fallocate: %w", err)
	}
	for size > 0 {
		step := size
		if step > blockSize {
			step = blockSize
		}
		if _, err := f.Write(zero[:step]); err != nil {
			return fmt.Errorf("failure while generic fallocate: %w", err)
		}
		size -= step
	}
	return nil
}
