//go:build linux || darwin

package channel

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"golang.org/x/sys/unix"
)

// maxHandlesPerMessage bounds the ancillary-data buffer sized per Recv, the
// way helix-drm-manager sizes its oob buffer for one expected fd -- scaled
// up here since layer_sync may carry several sync handles plus swapchain
// image handles.
const maxHandlesPerMessage = 8

// frameHeaderSize is {length uint32, handleCount uint32}, sent together
// with any ancillary SCM_RIGHTS data in a single sendmsg/recvmsg call so the
// handles are unambiguously associated with this particular message.
const frameHeaderSize = 8

// UnixChannel transports messages and OS handles over a Unix domain
// socket's SCM_RIGHTS ancillary data, the same pattern used by
// helix-drm-manager to hand a DRM lease fd to its client: the fds
// accompany a short fixed header written in one WriteMsgUnix call, with the
// message body following as a plain stream write/read.
type UnixChannel struct {
	conn *net.UnixConn
}

// NewUnixChannel wraps an already-accepted/dialed Unix connection.
func NewUnixChannel(conn *net.UnixConn) *UnixChannel {
	return &UnixChannel{conn: conn}
}

func (c *UnixChannel) Send(msg []byte, handles []Handle) error {
	if len(handles) > maxHandlesPerMessage {
		return fmt.Errorf("channel: too many handles in one message: %d", len(handles))
	}

	header := make([]byte, frameHeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(msg)))
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(handles)))

	var oob []byte
	if len(handles) > 0 {
		fds := make([]int, len(handles))
		for i, h := range handles {
			fds[i] = h.FD
		}
		oob = unix.UnixRights(fds...)
	}

	if _, _, err := c.conn.WriteMsgUnix(header, oob, nil); err != nil {
		return fmt.Errorf("channel: send header: %w", err)
	}
	if len(msg) > 0 {
		if _, err := c.conn.Write(msg); err != nil {
			return fmt.Errorf("channel: send body: %w", err)
		}
	}
	return nil
}

func (c *UnixChannel) Recv(ctx context.Context) (msg []byte, handles []Handle, err error) {
	type result struct {
		msg     []byte
		handles []Handle
		err     error
	}
	done := make(chan result, 1)

	go func() {
		m, h, e := c.recvBlocking()
		done <- result{m, h, e}
	}()

	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case r := <-done:
		return r.msg, r.handles, r.err
	}
}

func (c *UnixChannel) recvBlocking() ([]byte, []Handle, error) {
	header := make([]byte, frameHeaderSize)
	oob := make([]byte, unix.CmsgSpace(4*maxHandlesPerMessage))

	n, oobn, _, _, err := c.conn.ReadMsgUnix(header, oob)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, io.EOF
		}
		return nil, nil, fmt.Errorf("channel: recv header: %w", err)
	}
	if n < frameHeaderSize {
		return nil, nil, fmt.Errorf("channel: truncated header (%d bytes)", n)
	}

	bodyLen := binary.LittleEndian.Uint32(header[0:4])
	handleCount := binary.LittleEndian.Uint32(header[4:8])

	var handles []Handle
	if oobn > 0 {
		scms, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil {
			return nil, nil, fmt.Errorf("channel: parse control message: %w", err)
		}
		for _, scm := range scms {
			fds, err := unix.ParseUnixRights(&scm)
			if err != nil {
				continue
			}
			for _, fd := range fds {
				handles = append(handles, Handle{FD: fd})
			}
		}
	}
	if uint32(len(handles)) != handleCount {
		// Close whatever we did receive before failing the channel -- the
		// handler never sees them, so the transport must not leak them.
		for _, h := range handles {
			unix.Close(h.FD)
		}
		return nil, nil, fmt.Errorf("channel: handle count mismatch: declared %d, got %d", handleCount, len(handles))
	}

	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := io.ReadFull(c.conn, body); err != nil {
			for _, h := range handles {
				unix.Close(h.FD)
			}
			return nil, nil, fmt.Errorf("channel: truncated body: %w", err)
		}
	}
	return body, handles, nil
}

func (c *UnixChannel) Close() error {
	return c.conn.Close()
}
