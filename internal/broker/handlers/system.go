package handlers

import (
	"context"

	"github.com/xrbroker/xrbrokerd/internal/broker/dispatch"
	"github.com/xrbroker/xrbrokerd/internal/broker/session"
	"github.com/xrbroker/xrbrokerd/internal/channel"
	"github.com/xrbroker/xrbrokerd/internal/resultcode"
	"github.com/xrbroker/xrbrokerd/internal/wire"
)

func (b *Broker) registerSystemHandlers(d *dispatch.Dispatcher) {
	d.Register(wire.TagSystemGetClients, dispatch.Entry{Name: "system_get_clients", InHandles: 0, Handler: b.systemGetClients})
	d.Register(wire.TagSystemGetClientInfo, dispatch.Entry{Name: "system_get_client_info", InHandles: 0, Handler: b.systemGetClientInfo})
	d.Register(wire.TagSystemSetPrimaryClient, dispatch.Entry{Name: "system_set_primary_client", InHandles: 0, Handler: b.systemSetPrimaryClient})
	d.Register(wire.TagSystemToggleIOClient, dispatch.Entry{Name: "system_toggle_io_client", InHandles: 0, Handler: b.systemToggleIOClient})
	d.Register(wire.TagSystemSetFocusedClient, dispatch.Entry{Name: "system_set_focused_client", InHandles: 0, Handler: b.systemSetFocusedClient})
}

// systemGetClients lists every connected client's ID, capped at the wire
// reply's fixed capacity (spec §4.E.6).
func (b *Broker) systemGetClients(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	ids := b.Arbiter.GetClients()
	reply := wire.SystemGetClientsReply{}
	n := len(ids)
	if n > len(reply.ClientIDs) {
		n = len(reply.ClientIDs)
	}
	reply.ClientCount = uint32(n)
	for i := 0; i < n; i++ {
		reply.ClientIDs[i] = uint32(ids[i])
	}
	out, err := wire.Encode(reply)
	if err != nil {
		return nil, nil, resultcode.Failure("system_get_clients", err.Error())
	}
	return out, nil, nil
}

// systemGetClientInfo reports the target client's process metadata and
// current arbiter-assigned state. IsPrimary is derived rather than stored
// directly: the arbiter only persists visible/focused/z-order on each
// client, so "primary" is reconstructed here as "active, non-overlay, and
// currently visible" -- true for exactly the one client the recompute
// picked as primary (spec §4.F).
func (b *Broker) systemGetClientInfo(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	var req wire.SystemGetClientInfoRequest
	if err := wire.Decode(body, &req); err != nil {
		return nil, nil, resultcode.Failure("system_get_client_info", err.Error())
	}
	target, ok := b.findClient(session.ClientID(req.ClientID))
	if !ok {
		return nil, nil, resultcode.Failure("system_get_client_info", "unknown client")
	}
	p := target.PolicySnapshot()
	reply := wire.SystemGetClientInfoReply{
		ProcessID: target.ProcessID,
		IsPrimary: p.Active && !p.IsOverlay && p.Visible,
		IsFocused: p.Focused,
		IsVisible: p.Visible,
		ZOrder:    p.ZOrder,
	}
	copy(reply.AppName[:], target.AppName)
	out, err := wire.Encode(reply)
	if err != nil {
		return nil, nil, resultcode.Failure("system_get_client_info", err.Error())
	}
	return out, nil, nil
}

func (b *Broker) systemSetPrimaryClient(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	var req wire.SystemSetPrimaryClientRequest
	if err := wire.Decode(body, &req); err != nil {
		return nil, nil, resultcode.Failure("system_set_primary_client", err.Error())
	}
	if _, ok := b.findClient(session.ClientID(req.ClientID)); !ok {
		return nil, nil, resultcode.Failure("system_set_primary_client", "unknown client")
	}
	if err := b.Arbiter.SetPrimaryClient(ctx, session.ClientID(req.ClientID)); err != nil {
		return nil, nil, resultcode.Failure("system_set_primary_client", err.Error())
	}
	return nil, nil, nil
}

func (b *Broker) systemToggleIOClient(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	var req wire.SystemToggleIOClientRequest
	if err := wire.Decode(body, &req); err != nil {
		return nil, nil, resultcode.Failure("system_toggle_io_client", err.Error())
	}
	target, ok := b.findClient(session.ClientID(req.ClientID))
	if !ok {
		return nil, nil, resultcode.Failure("system_toggle_io_client", "unknown client")
	}
	target.SetIOActive(!target.GetIOActive())
	return nil, nil, nil
}

// systemSetFocusedClient wires SPEC_FULL.md's open-question decision: the
// override sticks until that client's session ends (spec arbiter §4.F,
// decision (b)).
func (b *Broker) systemSetFocusedClient(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	var req wire.SystemSetFocusedClientRequest
	if err := wire.Decode(body, &req); err != nil {
		return nil, nil, resultcode.Failure("system_set_focused_client", err.Error())
	}
	if _, ok := b.findClient(session.ClientID(req.ClientID)); !ok {
		return nil, nil, resultcode.Failure("system_set_focused_client", "unknown client")
	}
	id := session.ClientID(req.ClientID)
	if err := b.Arbiter.SetFocusOverride(ctx, &id); err != nil {
		return nil, nil, resultcode.Failure("system_set_focused_client", err.Error())
	}
	return nil, nil, nil
}
