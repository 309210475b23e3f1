package handlers

import (
	"context"

	"github.com/xrbroker/xrbrokerd/internal/broker/dispatch"
	"github.com/xrbroker/xrbrokerd/internal/broker/session"
	"github.com/xrbroker/xrbrokerd/internal/channel"
	"github.com/xrbroker/xrbrokerd/internal/logger"
	"github.com/xrbroker/xrbrokerd/internal/resultcode"
	"github.com/xrbroker/xrbrokerd/internal/wire"
)

func (b *Broker) registerSessionHandlers(d *dispatch.Dispatcher) {
	d.Register(wire.TagSessionCreate, dispatch.Entry{Name: "session_create", InHandles: 0, Handler: b.sessionCreate})
	d.Register(wire.TagSessionBegin, dispatch.Entry{Name: "session_begin", InHandles: 0, Handler: b.sessionBegin})
	d.Register(wire.TagSessionEnd, dispatch.Entry{Name: "session_end", InHandles: 0, Handler: b.sessionEnd})
	d.Register(wire.TagSessionDestroy, dispatch.Entry{Name: "session_destroy", InHandles: 0, Handler: b.sessionDestroy})
	d.Register(wire.TagSessionPollEvents, dispatch.Entry{Name: "session_poll_events", InHandles: 0, Handler: b.sessionPollEvents})
}

// sessionCreate implements spec §4.E.1: fails if a session already exists,
// always creates the native compositor regardless of wants_compositor
// (logging when it was declined), records is_overlay/z_order, and pushes
// the client's initial visibility/focus/z-order state to the compositor.
func (b *Broker) sessionCreate(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	if client.HasSession() {
		return nil, nil, resultcode.AlreadyCreated("session_create")
	}

	var req wire.SessionCreateRequest
	if err := wire.Decode(body, &req); err != nil {
		return nil, nil, resultcode.Failure("session_create", err.Error())
	}
	if req.WantsCompositor == 0 {
		logger.Info(ctx, "session_create: client declined a compositor; creating one anyway", "client_id", client.ID)
	}

	comp := b.NewCompositor(client)

	client.SetSession(&session.Session{}, comp, req.IsOverlay != 0, req.ZOrder)

	if err := comp.SetState(ctx, client.SessionVisible, client.SessionFocused); err != nil {
		return nil, nil, resultcode.Forward("session_create", err)
	}
	if err := comp.SetZOrder(ctx, req.ZOrder); err != nil {
		return nil, nil, resultcode.Forward("session_create", err)
	}

	reply, err := wire.Encode(wire.SessionCreateReply{})
	if err != nil {
		return nil, nil, resultcode.Failure("session_create", err.Error())
	}
	return reply, nil, nil
}

// sessionBegin requires both session and compositor and forwards view_type
// plus the client's capability flags to compositor_begin_session (spec
// §4.E.1).
func (b *Broker) sessionBegin(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	if !client.HasSession() {
		return nil, nil, resultcode.NotCreated("session_begin")
	}
	comp := client.CompositorRef()
	if comp == nil {
		return nil, nil, resultcode.CompositorMissing("session_begin")
	}

	var req wire.SessionBeginRequest
	if err := wire.Decode(body, &req); err != nil {
		return nil, nil, resultcode.Failure("session_begin", err.Error())
	}

	if err := comp.BeginSession(ctx, req.ViewType, uint32(client.Capabilities)); err != nil {
		return nil, nil, resultcode.Forward("session_begin", err)
	}
	return nil, nil, nil
}

func (b *Broker) sessionEnd(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	if !client.HasSession() {
		return nil, nil, resultcode.NotCreated("session_end")
	}
	comp := client.CompositorRef()
	if comp == nil {
		return nil, nil, resultcode.CompositorMissing("session_end")
	}
	if err := comp.EndSession(ctx); err != nil {
		return nil, nil, resultcode.Forward("session_end", err)
	}
	return nil, nil, nil
}

// sessionDestroy runs the cascading teardown (spec §4.E.1, scenario S5):
// semaphores, then swapchains, then spaces, then the compositor, then the
// session itself. Idempotent so it is safe to call again from the client
// disconnect path.
func (b *Broker) sessionDestroy(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	if !client.HasSession() {
		return nil, nil, resultcode.NotCreated("session_destroy")
	}
	b.destroySessionCascade(ctx, client)
	b.Arbiter.ClearFocusOverrideIfClient(client.ID)
	return nil, nil, nil
}

// destroySessionCascade is shared by session_destroy and client disconnect
// (spec §3 Lifecycles: "destroyed by session_destroy or on client
// disconnect"). It is a no-op if no session exists.
func (b *Broker) destroySessionCascade(ctx context.Context, client *session.ClientState) {
	if !client.HasSession() {
		return
	}

	if comp := client.CompositorRef(); comp != nil {
		if frameID, pending := client.TakePendingFrame(); pending {
			_ = comp.DiscardFrame(ctx, frameID)
		}
	}

	client.Semaphores.ReleaseAll(func(_ uint32, sem *session.Semaphore) {
		if sem != nil && sem.Native != nil {
			_ = sem.Native.Destroy(ctx)
		}
	})
	client.Swapchains.ReleaseAll(func(_ uint32, sc *session.Swapchain) {
		if sc != nil && sc.Native != nil {
			_ = sc.Native.Destroy(ctx)
		}
	})
	client.Spaces.ReleaseAll(func(_ uint32, sp *session.Space) {
		if sp == nil || sp.IsSemantic {
			return
		}
		// Non-semantic spaces were created via the overseer and carry no
		// independent Destroy -- their lifetime is the overseer's to manage
		// beyond dropping this client's reference.
		_ = sp
	})

	comp := client.CompositorRef()
	if comp != nil {
		_ = comp.Destroy(ctx)
	}
	client.ClearSession()
}

func (b *Broker) sessionPollEvents(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	if !client.HasSession() {
		return nil, nil, resultcode.NotCreated("session_poll_events")
	}
	reply := wire.SessionPollEventsReply{}
	if ev, ok := client.PollEvent(); ok {
		reply.EventType = ev
		reply.HasEvent = 1
	}
	out, err := wire.Encode(reply)
	if err != nil {
		return nil, nil, resultcode.Failure("session_poll_events", err.Error())
	}
	return out, nil, nil
}
