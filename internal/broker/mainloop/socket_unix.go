//go:build linux || darwin

package mainloop

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/xrbroker/xrbrokerd/internal/channel"
)

// UnixAcceptor listens on a Unix domain socket, either one it creates
// itself or one handed over via systemd-style socket activation (spec §8
// REDESIGN FLAGS: platform mainloop variants are a pluggable surface; this
// is the Linux/Darwin primary-listener variant).
type UnixAcceptor struct {
	listener *net.UnixListener
	path     string
	ownsPath bool
}

// ListenUnix binds a fresh Unix socket at path, removing a stale one left
// behind by a previous crashed instance.
func ListenUnix(path string) (*UnixAcceptor, error) {
	_ = os.Remove(path)
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("mainloop: listen %s: %w", path, err)
	}
	return &UnixAcceptor{listener: l, path: path, ownsPath: true}, nil
}

// ActivationListener returns a UnixAcceptor built from an inherited
// listening socket when LISTEN_PID/LISTEN_FDS name this process (the
// systemd socket-activation convention), or ok=false if activation was not
// requested.
func ActivationListener() (*UnixAcceptor, bool, error) {
	pidStr := os.Getenv("LISTEN_PID")
	fdsStr := os.Getenv("LISTEN_FDS")
	if pidStr == "" || fdsStr == "" {
		return nil, false, nil
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid != os.Getpid() {
		return nil, false, nil
	}
	fds, err := strconv.Atoi(fdsStr)
	if err != nil || fds < 1 {
		return nil, false, fmt.Errorf("mainloop: malformed LISTEN_FDS=%q", fdsStr)
	}

	const firstActivationFD = 3
	f := os.NewFile(uintptr(firstActivationFD), "xrbrokerd-activation")
	l, err := net.FileListener(f)
	if err != nil {
		return nil, false, fmt.Errorf("mainloop: activation fd: %w", err)
	}
	ul, ok := l.(*net.UnixListener)
	if !ok {
		return nil, false, fmt.Errorf("mainloop: activation fd is not a unix socket")
	}
	return &UnixAcceptor{listener: ul, ownsPath: false}, true, nil
}

// Accept blocks for the next connection, extracts the peer's process ID
// via SO_PEERCRED, and wraps the connection in a UnixChannel.
func (a *UnixAcceptor) Accept(ctx context.Context) (channel.Channel, int32, error) {
	type result struct {
		conn *net.UnixConn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := a.listener.AcceptUnix()
		done <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, 0, r.err
		}
		pid := peerPID(r.conn)
		return channel.NewUnixChannel(r.conn), pid, nil
	}
}

// Close stops accepting and, if this acceptor owns the socket file,
// removes it.
func (a *UnixAcceptor) Close() error {
	err := a.listener.Close()
	if a.ownsPath {
		_ = os.Remove(a.path)
	}
	return err
}
