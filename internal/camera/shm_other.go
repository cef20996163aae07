//go:build !linux || !cgo

package camera

import "fmt"

// NewSHMSource is only available on linux with cgo.
func NewSHMSource(name string) (Source, error) {
	return nil, fmt.Errorf("shared memory source %s: unsupported on this platform", name)
}
