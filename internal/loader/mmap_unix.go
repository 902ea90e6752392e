//go:build unix

package loader

import "golang.org/x/sys/unix"

func pageSize() int {
	return unix.Getpagesize()
}

func mmap(size int) ([]byte, error) {
	// Anonymous as this is not an actual file, but a memory,
	// Private as this is in-process memory region.
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

// protect switches code to read-execute and data to read-only.
func protect(code, data []byte) error {
	if err := unix.Mprotect(code, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return err
	}
	if len(data) > 0 {
		return unix.Mprotect(data, unix.PROT_READ)
	}
	return nil
}

func munmap(mem []byte) error {
	return unix.Munmap(mem)
}
