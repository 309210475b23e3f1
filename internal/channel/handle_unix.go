//go:build linux || darwin

package channel

import "golang.org/x/sys/unix"

// Close closes the OS handle underlying h. Every handle received over a
// Channel must be retained or explicitly closed on every code path (spec
// §5, §7 "Handle leaks: forbidden").
func Close(h Handle) error {
	return unix.Close(h.FD)
}

// CloseAll closes every handle in handles, best-effort, and is used on
// error paths where none of them were retained.
func CloseAll(handles []Handle) {
	for _, h := range handles {
		_ = Close(h)
	}
}
