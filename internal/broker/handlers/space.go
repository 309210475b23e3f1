package handlers

import (
	"context"
	"time"

	"github.com/xrbroker/xrbrokerd/internal/broker/collab"
	"github.com/xrbroker/xrbrokerd/internal/broker/dispatch"
	"github.com/xrbroker/xrbrokerd/internal/broker/session"
	"github.com/xrbroker/xrbrokerd/internal/channel"
	"github.com/xrbroker/xrbrokerd/internal/handle"
	"github.com/xrbroker/xrbrokerd/internal/resultcode"
	"github.com/xrbroker/xrbrokerd/internal/wire"
)

func (b *Broker) registerSpaceHandlers(d *dispatch.Dispatcher) {
	d.Register(wire.TagSpaceCreateSemanticIDs, dispatch.Entry{Name: "space_create_semantic_ids", InHandles: 0, Handler: b.spaceCreateSemanticIDs})
	d.Register(wire.TagSpaceCreateOffset, dispatch.Entry{Name: "space_create_offset", InHandles: 0, Handler: b.spaceCreateOffset})
	d.Register(wire.TagSpaceCreatePose, dispatch.Entry{Name: "space_create_pose", InHandles: 0, Handler: b.spaceCreatePose})
	d.Register(wire.TagSpaceLocateSpace, dispatch.Entry{Name: "space_locate_space", InHandles: 0, Handler: b.spaceLocateSpace})
	d.Register(wire.TagSpaceLocateDevice, dispatch.Entry{Name: "space_locate_device", InHandles: 0, Handler: b.spaceLocateDevice})
	d.Register(wire.TagSpaceDestroy, dispatch.Entry{Name: "space_destroy", InHandles: 0, Handler: b.spaceDestroy})
	d.Register(wire.TagSpaceMarkRefSpaceInUse, dispatch.Entry{Name: "space_mark_ref_space_in_use", InHandles: 0, Handler: b.spaceMarkRefSpaceInUse})
	d.Register(wire.TagSpaceUnmarkRefSpaceInUse, dispatch.Entry{Name: "space_unmark_ref_space_in_use", InHandles: 0, Handler: b.spaceUnmarkRefSpaceInUse})
	d.Register(wire.TagSpaceRecenterLocalSpaces, dispatch.Entry{Name: "space_recenter_local_spaces", InHandles: 0, Handler: b.spaceRecenterLocalSpaces})
}

// spaceCreateSemanticIDs pre-populates slots 0..5 of the client's space
// table with the overseer's well-known spaces (spec §4.B). A refType the
// overseer does not expose is reported back as handle.UInt32Max and the
// slot is left empty.
func (b *Broker) spaceCreateSemanticIDs(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	if !client.HasSession() {
		return nil, nil, resultcode.NotCreated("space_create_semantic_ids")
	}

	reply := wire.SpaceCreateSemanticIDsReply{}
	assign := func(slotID uint32, refType uint32) uint32 {
		native, ok := b.Overseer.Semantic(refType)
		if !ok {
			return handle.UInt32Max
		}
		client.Spaces.Set(slotID, &session.Space{Native: native, IsSemantic: true})
		return slotID
	}

	reply.Root = assign(0, uint32(wire.RefSpaceView)) // identity/root space shares the view slot's semantic source
	reply.View = assign(1, uint32(wire.RefSpaceView))
	reply.Local = assign(2, uint32(wire.RefSpaceLocal))
	reply.LocalFloor = assign(3, uint32(wire.RefSpaceLocalFloor))
	reply.Stage = assign(4, uint32(wire.RefSpaceStage))
	reply.Unbounded = assign(5, uint32(wire.RefSpaceUnbounded))

	out, err := wire.Encode(reply)
	if err != nil {
		return nil, nil, resultcode.Failure("space_create_semantic_ids", err.Error())
	}
	return out, nil, nil
}

func (b *Broker) spaceCreateOffset(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	if !client.HasSession() {
		return nil, nil, resultcode.NotCreated("space_create_offset")
	}
	var req wire.SpaceCreateOffsetRequest
	if err := wire.Decode(body, &req); err != nil {
		return nil, nil, resultcode.Failure("space_create_offset", err.Error())
	}
	parent, err := client.Spaces.Get("space_create_offset", req.ParentID)
	if err != nil {
		return nil, nil, err
	}

	native, err := b.Overseer.CreateOffsetSpace(ctx, parent.Native, toCollabPose(req.Pose))
	if err != nil {
		return nil, nil, resultcode.Forward("space_create_offset", err)
	}
	id, err := client.Spaces.Allocate("space_create_offset", &session.Space{Native: native})
	if err != nil {
		return nil, nil, err
	}
	out, err := wire.Encode(wire.SpaceCreateOffsetReply{SpaceID: id})
	if err != nil {
		return nil, nil, resultcode.Failure("space_create_offset", err.Error())
	}
	return out, nil, nil
}

func (b *Broker) spaceCreatePose(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	if !client.HasSession() {
		return nil, nil, resultcode.NotCreated("space_create_pose")
	}
	var req wire.SpaceCreatePoseRequest
	if err := wire.Decode(body, &req); err != nil {
		return nil, nil, resultcode.Failure("space_create_pose", err.Error())
	}
	dev, ok := b.Devices[req.DeviceID]
	if !ok {
		return nil, nil, resultcode.Failure("space_create_pose", "unknown device")
	}
	native, err := b.Overseer.CreatePoseSpace(ctx, dev, cString(req.InputName[:]))
	if err != nil {
		return nil, nil, resultcode.Forward("space_create_pose", err)
	}
	id, err := client.Spaces.Allocate("space_create_pose", &session.Space{Native: native})
	if err != nil {
		return nil, nil, err
	}
	out, err := wire.Encode(wire.SpaceCreatePoseReply{SpaceID: id})
	if err != nil {
		return nil, nil, resultcode.Failure("space_create_pose", err.Error())
	}
	return out, nil, nil
}

func (b *Broker) spaceLocateSpace(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	if !client.HasSession() {
		return nil, nil, resultcode.NotCreated("space_locate_space")
	}
	var req wire.SpaceLocateSpaceRequest
	if err := wire.Decode(body, &req); err != nil {
		return nil, nil, resultcode.Failure("space_locate_space", err.Error())
	}
	base, err := client.Spaces.Get("space_locate_space", req.BaseID)
	if err != nil {
		return nil, nil, err
	}
	other, err := client.Spaces.Get("space_locate_space", req.OtherID)
	if err != nil {
		return nil, nil, err
	}
	pose, valid, err := b.Overseer.LocateSpace(ctx, base.Native, other.Native, time.Unix(0, req.Time))
	if err != nil {
		return nil, nil, resultcode.Forward("space_locate_space", err)
	}
	out, err := wire.Encode(wire.SpaceLocateSpaceReply{Valid: valid, Pose: toWirePose(pose)})
	if err != nil {
		return nil, nil, resultcode.Failure("space_locate_space", err.Error())
	}
	return out, nil, nil
}

func (b *Broker) spaceLocateDevice(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	if !client.HasSession() {
		return nil, nil, resultcode.NotCreated("space_locate_device")
	}
	var req wire.SpaceLocateDeviceRequest
	if err := wire.Decode(body, &req); err != nil {
		return nil, nil, resultcode.Failure("space_locate_device", err.Error())
	}
	dev, ok := b.Devices[req.DeviceID]
	if !ok {
		return nil, nil, resultcode.Failure("space_locate_device", "unknown device")
	}
	base, err := client.Spaces.Get("space_locate_device", req.BaseID)
	if err != nil {
		return nil, nil, err
	}
	pose, valid, err := b.Overseer.LocateDevice(ctx, dev, base.Native, time.Unix(0, req.Time))
	if err != nil {
		return nil, nil, resultcode.Forward("space_locate_device", err)
	}
	out, err := wire.Encode(wire.SpaceLocateDeviceReply{Valid: valid, Pose: toWirePose(pose)})
	if err != nil {
		return nil, nil, resultcode.Failure("space_locate_device", err.Error())
	}
	return out, nil, nil
}

// spaceDestroy refuses to release semantic slots 0..5; only dynamically
// allocated spaces are destroyable (spec §4.B).
func (b *Broker) spaceDestroy(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	if !client.HasSession() {
		return nil, nil, resultcode.NotCreated("space_destroy")
	}
	var req wire.SpaceDestroyRequest
	if err := wire.Decode(body, &req); err != nil {
		return nil, nil, resultcode.Failure("space_destroy", err.Error())
	}
	sp, err := client.Spaces.Get("space_destroy", req.SpaceID)
	if err != nil {
		return nil, nil, err
	}
	if sp.IsSemantic {
		return nil, nil, resultcode.Failure("space_destroy", "cannot destroy a semantic space")
	}
	client.Spaces.Release(req.SpaceID)
	return nil, nil, nil
}

func (b *Broker) spaceMarkRefSpaceInUse(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	if !client.HasSession() {
		return nil, nil, resultcode.NotCreated("space_mark_ref_space_in_use")
	}
	var req wire.SpaceRefRequest
	if err := wire.Decode(body, &req); err != nil {
		return nil, nil, resultcode.Failure("space_mark_ref_space_in_use", err.Error())
	}
	if !client.MarkRefSpaceUsed(req.Type) {
		return nil, nil, resultcode.Failure("space_mark_ref_space_in_use", "already in use")
	}
	b.Overseer.RefSpaceInc(uint32(req.Type))
	return nil, nil, nil
}

func (b *Broker) spaceUnmarkRefSpaceInUse(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	if !client.HasSession() {
		return nil, nil, resultcode.NotCreated("space_unmark_ref_space_in_use")
	}
	var req wire.SpaceRefRequest
	if err := wire.Decode(body, &req); err != nil {
		return nil, nil, resultcode.Failure("space_unmark_ref_space_in_use", err.Error())
	}
	if !client.UnmarkRefSpaceUsed(req.Type) {
		return nil, nil, resultcode.Failure("space_unmark_ref_space_in_use", "not in use")
	}
	b.Overseer.RefSpaceDec(uint32(req.Type))
	return nil, nil, nil
}

func (b *Broker) spaceRecenterLocalSpaces(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	if !client.HasSession() {
		return nil, nil, resultcode.NotCreated("space_recenter_local_spaces")
	}
	if err := b.Overseer.RecenterLocalSpaces(ctx); err != nil {
		return nil, nil, resultcode.Forward("space_recenter_local_spaces", err)
	}
	return nil, nil, nil
}

func toCollabPose(p wire.Pose) collab.Pose {
	return collab.Pose{
		OrientationX: p.OrientationX, OrientationY: p.OrientationY, OrientationZ: p.OrientationZ, OrientationW: p.OrientationW,
		PositionX: p.PositionX, PositionY: p.PositionY, PositionZ: p.PositionZ,
	}
}

func toWirePose(p collab.Pose) wire.Pose {
	return wire.Pose{
		OrientationX: p.OrientationX, OrientationY: p.OrientationY, OrientationZ: p.OrientationZ, OrientationW: p.OrientationW,
		PositionX: p.PositionX, PositionY: p.PositionY, PositionZ: p.PositionZ,
	}
}

// cString trims a fixed-width NUL-padded byte array down to its Go string.
func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
