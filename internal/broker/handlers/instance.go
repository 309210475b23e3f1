//go:build linux || darwin

package handlers

import (
	"context"

	"github.com/xrbroker/xrbrokerd/internal/broker/dispatch"
	"github.com/xrbroker/xrbrokerd/internal/broker/session"
	"github.com/xrbroker/xrbrokerd/internal/channel"
	"github.com/xrbroker/xrbrokerd/internal/resultcode"
	"github.com/xrbroker/xrbrokerd/internal/wire"
	"golang.org/x/sys/unix"
)

func (b *Broker) registerInstanceHandlers(d *dispatch.Dispatcher) {
	d.Register(wire.TagInstanceGetShmFd, dispatch.Entry{Name: "instance_get_shm_fd", InHandles: 0, Handler: b.instanceGetShmFd})
}

// instanceGetShmFd hands the client a duplicate of the broker's shared
// memory backing fd (spec §6.1, §6.2). Duplicating means the client's later
// close of its copy never affects the broker's own mapping.
func (b *Broker) instanceGetShmFd(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	if b.ShmBacking == nil {
		return nil, nil, resultcode.Failure("instance_get_shm_fd", "no shared memory backing configured")
	}
	dupFd, err := unix.Dup(b.ShmBacking.Fd())
	if err != nil {
		return nil, nil, resultcode.Failure("instance_get_shm_fd", err.Error())
	}
	return nil, []channel.Handle{{FD: dupFd}}, nil
}
