//go:build windows

package fsutil

func isUnsupportedSync(err error) bool {
	return true
}
