// Package channel implements the ordered, reliable, bidirectional duplex
// message channel (spec §4.A, component A) used between one client and its
// server worker. Besides fixed-layout bytes it carries a variable number of
// OS handles -- file descriptors on POSIX -- whose identity the transport
// must preserve across the boundary.
//
// A truncated read, a handle-count mismatch, or a closed peer is fatal to
// the channel (spec §4.A); Recv returns a non-nil error in all three cases
// and the caller tears the owning client down.
package channel

import "context"

// Handle is an OS-level handle transferred alongside a message: a file
// descriptor on POSIX, a HANDLE value on Windows. The DXGI convention (spec
// §4.A: "DXGI handles are distinguished ... by setting the low bit") is
// applied by the Windows transport only; POSIX handles carry no such
// tagging.
type Handle struct {
	FD       int
	IsDXGI   bool
}

// Channel is the per-client duplex transport.
type Channel interface {
	// Send writes msg and transfers ownership of handles to the peer.
	// On error the caller retains ownership of handles and must close them.
	Send(msg []byte, handles []Handle) error

	// Recv blocks until a full message (and its ancillary handles) has been
	// read, or ctx is done, or the channel fails. The caller takes
	// ownership of any returned handles.
	Recv(ctx context.Context) (msg []byte, handles []Handle, err error)

	// Close tears down the channel. Idempotent.
	Close() error
}
