//go:build linux

package mainloop

import (
	"net"

	"golang.org/x/sys/unix"
)

// peerPID extracts the connecting process's PID via SO_PEERCRED; the
// mainloop logs it on connect and records it on the client, where
// system_get_client_info reports it.
func peerPID(conn *net.UnixConn) int32 {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0
	}
	var pid int32
	_ = raw.Control(func(fd uintptr) {
		cred, err := unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
		if err == nil {
			pid = cred.Pid
		}
	})
	return pid
}
