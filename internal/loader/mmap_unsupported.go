//go:build !unix

package loader

import (
	"fmt"
	"runtime"
)

var errUnsupported = fmt.Errorf("executable memory is unsupported on GOOS=%s", runtime.GOOS)

func pageSize() int {
	return 4096
}

func mmap(int) ([]byte, error) {
	return nil, errUnsupported
}

func protect(_, _ []byte) error {
	return errUnsupported
}

func munmap([]byte) error {
	return errUnsupported
}
