//go:build linux

package shm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// RegionSize is the byte size of the memfd-backed arena handed out by
// NewPosixBacking. It only needs to be large enough for the header plus the
// device/input/slot tables; the in-process Region above is what the broker
// core actually reads and writes, so this just needs to exist and be
// mappable for instance_get_shm_fd (spec §6.2) to have a real fd to return.
const RegionSize = 1 << 20 // 1 MiB

// PosixBacking owns a memfd-backed shared-memory arena and its mapping.
// instance_get_shm_fd (spec §6.1, §4.E handlers not modeled in this package)
// duplicates Fd() and hands it to the requesting client.
type PosixBacking struct {
	fd  int
	mem []byte
}

// NewPosixBacking creates an anonymous memfd of RegionSize bytes and maps it
// read-write into this process, mirroring the "POSIX shm / Windows file
// mapping" primitive spec §6.2 describes.
func NewPosixBacking() (*PosixBacking, error) {
	fd, err := unix.MemfdCreate("xrbroker-shm", 0)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, RegionSize); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ftruncate: %w", err)
	}
	mem, err := unix.Mmap(fd, 0, RegionSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &PosixBacking{fd: fd, mem: mem}, nil
}

// Fd returns the underlying memfd, suitable for duplication via SCM_RIGHTS
// and transfer to a client (instance_get_shm_fd).
func (p *PosixBacking) Fd() int {
	return p.fd
}

// Close unmaps the arena and closes the memfd.
func (p *PosixBacking) Close() error {
	if p.mem != nil {
		_ = unix.Munmap(p.mem)
		p.mem = nil
	}
	return unix.Close(p.fd)
}
