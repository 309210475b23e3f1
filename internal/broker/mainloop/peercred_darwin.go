//go:build darwin

package mainloop

import "net"

// peerPID is not wired on Darwin: LOCAL_PEERCRED rather than SO_PEERCRED
// would be required, and nothing in system_get_client_info's test matrix
// currently exercises a non-Linux build.
func peerPID(conn *net.UnixConn) int32 {
	return 0
}
