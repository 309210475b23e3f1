package mainloop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/xrbroker/xrbrokerd/internal/broker/arbiter"
	"github.com/xrbroker/xrbrokerd/internal/broker/collab"
	"github.com/xrbroker/xrbrokerd/internal/broker/dispatch"
	"github.com/xrbroker/xrbrokerd/internal/broker/handlers"
	"github.com/xrbroker/xrbrokerd/internal/broker/session"
	"github.com/xrbroker/xrbrokerd/internal/channel"
	"github.com/xrbroker/xrbrokerd/internal/shm"
)

// fakeChannel never produces a message; Recv blocks until ctx is done, at
// which point the worker loop exits and the client is torn down.
type fakeChannel struct {
	closed chan struct{}
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{closed: make(chan struct{})}
}

func (f *fakeChannel) Send([]byte, []channel.Handle) error { return nil }

func (f *fakeChannel) Recv(ctx context.Context) ([]byte, []channel.Handle, error) {
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case <-f.closed:
		return nil, nil, context.Canceled
	}
}

func (f *fakeChannel) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

// fakeAcceptor hands out exactly one fakeChannel, then blocks until ctx is
// done (mirroring a real listener with no further connections).
type fakeAcceptor struct {
	delivered bool
	ch        *fakeChannel
}

func (a *fakeAcceptor) Accept(ctx context.Context) (channel.Channel, int32, error) {
	if !a.delivered {
		a.delivered = true
		return a.ch, 4242, nil
	}
	<-ctx.Done()
	return nil, 0, ctx.Err()
}

func (a *fakeAcceptor) Close() error { return nil }

type stubSyscomp struct{}

func (stubSyscomp) SetState(ctx context.Context, clientID uint32, visible, focused bool) error {
	return nil
}
func (stubSyscomp) SetZOrder(ctx context.Context, clientID uint32, zOrder int32) error { return nil }

type stubOverseer struct{}

func (stubOverseer) CreateOffsetSpace(ctx context.Context, parent collab.SpaceHandle, pose collab.Pose) (collab.SpaceHandle, error) {
	return nil, nil
}
func (stubOverseer) CreatePoseSpace(ctx context.Context, device collab.Device, inputName string) (collab.SpaceHandle, error) {
	return nil, nil
}
func (stubOverseer) LocateSpace(ctx context.Context, base, other collab.SpaceHandle, at time.Time) (collab.Pose, bool, error) {
	return collab.Pose{}, false, nil
}
func (stubOverseer) LocateDevice(ctx context.Context, device collab.Device, base collab.SpaceHandle, at time.Time) (collab.Pose, bool, error) {
	return collab.Pose{}, false, nil
}
func (stubOverseer) RefSpaceInc(refType uint32) {}
func (stubOverseer) RefSpaceDec(refType uint32) {}
func (stubOverseer) RecenterLocalSpaces(ctx context.Context) error { return nil }
func (stubOverseer) Semantic(refType uint32) (collab.SpaceHandle, bool) { return nil, false }

func TestServer_RunShutsDownWithoutLeaks(t *testing.T) {
	defer goleak.VerifyNone(t)

	region := shm.NewRegion()
	broker := handlers.New(stubOverseer{}, stubSyscomp{}, region, nil)
	broker.NewCompositor = func(_ *session.ClientState) collab.Compositor { return nil }
	broker.Arbiter = arbiter.New(broker, stubSyscomp{})

	d := dispatch.New(nil)
	broker.RegisterHandlers(d)

	fc := newFakeChannel()
	acceptor := &fakeAcceptor{ch: fc}
	server := New(acceptor, d, broker)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := server.Run(ctx)
	require.True(t, err == nil || err == context.DeadlineExceeded || err == context.Canceled)
}
