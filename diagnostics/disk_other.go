//go:build !linux && !darwin

package diagnostics

import "errors"

func volumeUsage(string) (uint64, uint64, error) {
	return 0, 0, errors.New("volume usage not supported on this platform")
}
