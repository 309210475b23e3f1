//go:build windows

package handlers

import (
	"context"

	"github.com/xrbroker/xrbrokerd/internal/broker/dispatch"
	"github.com/xrbroker/xrbrokerd/internal/broker/session"
	"github.com/xrbroker/xrbrokerd/internal/channel"
	"github.com/xrbroker/xrbrokerd/internal/resultcode"
	"github.com/xrbroker/xrbrokerd/internal/wire"
)

func (b *Broker) registerInstanceHandlers(d *dispatch.Dispatcher) {
	d.Register(wire.TagInstanceGetShmFd, dispatch.Entry{Name: "instance_get_shm_fd", InHandles: 0, Handler: b.instanceGetShmFd})
}

// instanceGetShmFd is not wired on Windows yet: the transport carries DXGI
// handles but no file-mapping duplication path has been written.
func (b *Broker) instanceGetShmFd(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	return nil, nil, resultcode.Failure("instance_get_shm_fd", "not implemented on windows")
}
