//go:build windows

package channel

import (
	"context"
	"fmt"
	"net"
)

// PipeChannel is the named-pipe transport for the Windows mainloop variant
// (spec §4.G). HANDLE transfer on Windows uses DuplicateHandle rather than
// SCM_RIGHTS; DXGI handles are distinguished from ordinary Windows HANDLEs
// by setting the low bit during transfer and clearing it on receipt (spec
// §4.A). This is not the primary tested path (the development and test
// environment for this broker is POSIX); it documents the shape a full
// Windows port would take.
type PipeChannel struct {
	conn net.Conn
}

// NewPipeChannel wraps an already-connected named pipe.
func NewPipeChannel(conn net.Conn) *PipeChannel {
	return &PipeChannel{conn: conn}
}

func (c *PipeChannel) Send(msg []byte, handles []Handle) error {
	if len(handles) > 0 {
		return fmt.Errorf("channel: Windows HANDLE duplication not implemented in this build")
	}
	_, err := c.conn.Write(msg)
	return err
}

func (c *PipeChannel) Recv(ctx context.Context) ([]byte, []Handle, error) {
	return nil, nil, fmt.Errorf("channel: Windows named-pipe transport not implemented in this build")
}

func (c *PipeChannel) Close() error {
	return c.conn.Close()
}

// dxgiLowBit is the tag bit applied to DXGI handles during transfer (spec
// §4.A); cleared by the receiver.
const dxgiLowBit = 1

func taggedForTransfer(value uintptr, isDXGI bool) uintptr {
	if isDXGI {
		return value | dxgiLowBit
	}
	return value &^ dxgiLowBit
}

func untagOnReceive(value uintptr) (raw uintptr, isDXGI bool) {
	return value &^ dxgiLowBit, value&dxgiLowBit != 0
}
