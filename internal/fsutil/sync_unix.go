//go:build !windows

package fsutil

import (
	"errors"
	"syscall"
)

func isUnsupportedSync(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTSUP)
}
