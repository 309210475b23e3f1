//go:build linux || darwin

package channel

import (
	"context"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func fdToUnixConn(fd int) (*net.UnixConn, error) {
	f := os.NewFile(uintptr(fd), fmt.Sprintf("socketpair-fd-%d", fd))
	conn, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, err
	}
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return nil, fmt.Errorf("not a unix conn")
	}
	return unixConn, nil
}

func socketPair(t *testing.T) (*UnixChannel, *UnixChannel) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)

	connA, err := fdToUnixConn(fds[0])
	require.NoError(t, err)
	connB, err := fdToUnixConn(fds[1])
	require.NoError(t, err)

	a := NewUnixChannel(connA)
	b := NewUnixChannel(connB)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestUnixChannel_SendRecvNoHandles(t *testing.T) {
	a, b := socketPair(t)

	payload := []byte("hello broker")
	go func() {
		_ = a.Send(payload, nil)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, handles, err := b.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, payload, msg)
	assert.Empty(t, handles)
}

func TestUnixChannel_SendRecvWithHandles(t *testing.T) {
	a, b := socketPair(t)

	tmp, err := os.CreateTemp(t.TempDir(), "handle")
	require.NoError(t, err)
	defer tmp.Close()

	payload := []byte("layer_sync")
	go func() {
		_ = a.Send(payload, []Handle{{FD: int(tmp.Fd())}})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, handles, err := b.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, payload, msg)
	require.Len(t, handles, 1, "exactly one handle must survive the transfer")
	assert.NotEqual(t, int(tmp.Fd()), handles[0].FD, "received fd must be a distinct duplicate, not the sender's fd number")

	unix.Close(handles[0].FD)
}

func TestUnixChannel_ClosedPeerIsFatal(t *testing.T) {
	a, b := socketPair(t)
	require.NoError(t, a.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := b.Recv(ctx)
	assert.Error(t, err, "a closed peer must fail Recv")
}
