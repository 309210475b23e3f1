package handlers

import (
	"context"
	"time"

	"github.com/xrbroker/xrbrokerd/internal/broker/collab"
	"github.com/xrbroker/xrbrokerd/internal/broker/dispatch"
	"github.com/xrbroker/xrbrokerd/internal/broker/session"
	"github.com/xrbroker/xrbrokerd/internal/channel"
	"github.com/xrbroker/xrbrokerd/internal/resultcode"
	"github.com/xrbroker/xrbrokerd/internal/shm"
	"github.com/xrbroker/xrbrokerd/internal/wire"
)

func (b *Broker) registerDeviceHandlers(d *dispatch.Dispatcher) {
	d.Register(wire.TagDeviceUpdateInput, dispatch.Entry{Name: "device_update_input", InHandles: 0, Handler: b.deviceUpdateInput})
	d.Register(wire.TagDeviceGetTrackedPose, dispatch.Entry{Name: "device_get_tracked_pose", InHandles: 0, Handler: b.deviceGetTrackedPose})
	d.Register(wire.TagDeviceGetViewPoses, dispatch.Entry{Name: "device_get_view_poses", InHandles: 0, Handler: b.deviceGetViewPoses})
	d.Register(wire.TagDeviceGetViewPosesStream, dispatch.Entry{Name: "device_get_view_poses_stream", InHandles: 0, Handler: b.deviceGetViewPosesStream})
	d.Register(wire.TagDeviceGetVisibilityMask, dispatch.Entry{Name: "device_get_visibility_mask", InHandles: 0, Handler: b.deviceGetVisibilityMask})
	d.Register(wire.TagDeviceToggleIODevice, dispatch.Entry{Name: "device_toggle_io_device", InHandles: 0, Handler: b.deviceToggleIODevice})
	d.Register(wire.TagDeviceGetHandTracking, dispatch.Entry{Name: "device_get_hand_tracking", InHandles: 0, Handler: b.deviceTrackingHandler("device_get_hand_tracking", collab.Device.GetHandTracking)})
	d.Register(wire.TagDeviceGetFaceTracking, dispatch.Entry{Name: "device_get_face_tracking", InHandles: 0, Handler: b.deviceTrackingHandler("device_get_face_tracking", collab.Device.GetFaceTracking)})
	d.Register(wire.TagDeviceGetBodySkeleton, dispatch.Entry{Name: "device_get_body_skeleton", InHandles: 0, Handler: b.deviceTrackingHandler("device_get_body_skeleton", collab.Device.GetBodySkeleton)})
	d.Register(wire.TagDeviceGetBodyJoints, dispatch.Entry{Name: "device_get_body_joints", InHandles: 0, Handler: b.deviceTrackingHandler("device_get_body_joints", collab.Device.GetBodyJoints)})
	d.Register(wire.TagDeviceComputeDistortion, dispatch.Entry{Name: "device_compute_distortion", InHandles: 0, Handler: b.deviceComputeDistortion})
	d.Register(wire.TagDeviceSetOutput, dispatch.Entry{Name: "device_set_output", InHandles: 0, Handler: b.deviceSetOutput})
	d.Register(wire.TagDeviceIsFormFactorAvailable, dispatch.Entry{Name: "device_is_form_factor_available", InHandles: 0, Handler: b.deviceIsFormFactorAvailable})
}

func (b *Broker) lookupDevice(op string, deviceID uint32) (collab.Device, error) {
	dev, ok := b.Devices[deviceID]
	if !ok {
		return nil, resultcode.Failure(op, "unknown device")
	}
	return dev, nil
}

// deviceUpdateInput implements spec §4.E.5: it always refreshes the device
// driver's own input state, then copies that state into the device's
// shared-memory input window. The copy is gated on the global and
// per-device IO-active flags: while IO is active the window carries the
// driver's real values; while inactive every input is zeroed except its
// name, with one carve-out — an input named collab.HeadPoseInputName keeps
// reporting its true Active flag even when IO is off (spec testable
// property 8.6).
func (b *Broker) deviceUpdateInput(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	var req wire.DeviceUpdateInputRequest
	if err := wire.Decode(body, &req); err != nil {
		return nil, nil, resultcode.Failure("device_update_input", err.Error())
	}
	dev, err := b.lookupDevice("device_update_input", req.DeviceID)
	if err != nil {
		return nil, nil, err
	}
	if err := dev.UpdateInputs(ctx); err != nil {
		return nil, nil, resultcode.Forward("device_update_input", err)
	}
	inputs, err := dev.Inputs(ctx)
	if err != nil {
		return nil, nil, resultcode.Forward("device_update_input", err)
	}

	ioActive := client.GetIOActive() && client.DeviceIOActiveFor(req.DeviceID)
	snapshots := make([]shm.InputSnapshot, len(inputs))
	for i, in := range inputs {
		var snap shm.InputSnapshot
		copy(snap.Name[:], in.Name)
		switch {
		case ioActive:
			snap.Active = in.Active
			snap.PoseX, snap.PoseY, snap.PoseZ = in.Pose.PositionX, in.Pose.PositionY, in.Pose.PositionZ
		case in.Name == collab.HeadPoseInputName:
			snap.Active = in.Active
		}
		snapshots[i] = snap
	}

	base := b.deviceInputWindow(req.DeviceID, len(snapshots))
	var name [64]byte
	copy(name[:], dev.Name())
	b.Shm.SetDevice(req.DeviceID, shm.DeviceDescriptor{
		Name:            name,
		FirstInputIndex: base,
		InputCount:      uint32(len(snapshots)),
		Valid:           true,
	})
	b.Shm.WriteInputWindow(req.DeviceID, snapshots)
	return nil, nil, nil
}

// lookupInputSnapshot finds deviceID's input named name in shared memory,
// the way device_get_tracked_pose looks it up (spec §4.E.5).
func (b *Broker) lookupInputSnapshot(deviceID uint32, name string) (shm.InputSnapshot, bool) {
	desc, ok := b.Shm.Device(deviceID)
	if !ok {
		return shm.InputSnapshot{}, false
	}
	for i := uint32(0); i < desc.InputCount; i++ {
		snap, ok := b.Shm.ReadInput(desc.FirstInputIndex + i)
		if !ok {
			continue
		}
		if cString(snap.Name[:]) == name {
			return snap, true
		}
	}
	return shm.InputSnapshot{}, false
}

// deviceGetTrackedPose implements spec §4.E.5: the shared-memory snapshot,
// not the device driver, is authoritative for whether an input is active
// client-side. A request for an input the snapshot reports inactive fails
// with POSE_NOT_ACTIVE regardless of the global IO flag; otherwise, if IO
// is globally disabled and the input isn't head-pose, the reply is a
// zeroed success rather than a live query.
func (b *Broker) deviceGetTrackedPose(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	var req wire.DeviceGetTrackedPoseRequest
	if err := wire.Decode(body, &req); err != nil {
		return nil, nil, resultcode.Failure("device_get_tracked_pose", err.Error())
	}
	dev, err := b.lookupDevice("device_get_tracked_pose", req.DeviceID)
	if err != nil {
		return nil, nil, err
	}
	inputName := cString(req.InputName[:])
	snap, ok := b.lookupInputSnapshot(req.DeviceID, inputName)
	if !ok || !snap.Active {
		return nil, nil, resultcode.New("device_get_tracked_pose", resultcode.PoseNotActive, "")
	}
	if !client.GetIOActive() && inputName != collab.HeadPoseInputName {
		out, _ := wire.Encode(wire.DeviceGetTrackedPoseReply{})
		return out, nil, nil
	}
	pose, valid, err := dev.GetTrackedPose(ctx, inputName, time.Unix(0, req.Time))
	if err != nil {
		return nil, nil, resultcode.Forward("device_get_tracked_pose", err)
	}
	out, err := wire.Encode(wire.DeviceGetTrackedPoseReply{Valid: valid, Pose: toWirePose(pose)})
	if err != nil {
		return nil, nil, resultcode.Failure("device_get_tracked_pose", err.Error())
	}
	return out, nil, nil
}

// validateViewCount rejects zero and out-of-range view counts shared by
// both device_get_view_poses variants (spec §4.E.5).
func validateViewCount(op string, viewCount uint32) error {
	if viewCount == 0 {
		return resultcode.Failure(op, "view_count must be nonzero")
	}
	if viewCount > wire.IPCMaxRawViews {
		return resultcode.Failure(op, "view_count exceeds IPC_MAX_RAW_VIEWS")
	}
	return nil
}

// deviceGetViewPoses fills the fixed-capacity reply up to
// wire.IPCMaxRawViews (spec §4.E.5); requesting more views than that, or
// zero views, is a caller error since the reply has no trailing variable
// section to fall back on.
func (b *Broker) deviceGetViewPoses(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	var req wire.DeviceGetViewPosesRequest
	if err := wire.Decode(body, &req); err != nil {
		return nil, nil, resultcode.Failure("device_get_view_poses", err.Error())
	}
	if err := validateViewCount("device_get_view_poses", req.ViewCount); err != nil {
		return nil, nil, err
	}
	dev, err := b.lookupDevice("device_get_view_poses", req.DeviceID)
	if err != nil {
		return nil, nil, err
	}
	fovs, poses, err := dev.GetViewPoses(ctx, req.ViewCount, time.Now())
	if err != nil {
		return nil, nil, resultcode.Forward("device_get_view_poses", err)
	}
	reply := wire.DeviceGetViewPosesReply{ViewCount: req.ViewCount}
	for i := 0; i < len(fovs) && i < wire.IPCMaxRawViews; i++ {
		reply.Fovs[i] = wire.Fov{AngleLeft: fovs[i].AngleLeft, AngleRight: fovs[i].AngleRight, AngleUp: fovs[i].AngleUp, AngleDown: fovs[i].AngleDown}
	}
	for i := 0; i < len(poses) && i < wire.IPCMaxRawViews; i++ {
		reply.Poses[i] = toWirePose(poses[i])
	}
	out, err := wire.Encode(reply)
	if err != nil {
		return nil, nil, resultcode.Failure("device_get_view_poses", err.Error())
	}
	return out, nil, nil
}

// deviceGetViewPosesStream is device_get_view_poses's streaming variant
// (spec §4.E.5): the reply carries no fixed-size arrays, so it supports
// any view_count up to wire.IPCMaxRawViews via two trailing variable-length
// writes (the fov array, then the pose array) appended after the header,
// the same append-after-header idiom device_get_visibility_mask uses for
// its trailing mask bytes.
func (b *Broker) deviceGetViewPosesStream(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	var req wire.DeviceGetViewPosesRequest
	if err := wire.Decode(body, &req); err != nil {
		return nil, nil, resultcode.Failure("device_get_view_poses_stream", err.Error())
	}
	if err := validateViewCount("device_get_view_poses_stream", req.ViewCount); err != nil {
		return nil, nil, err
	}
	dev, err := b.lookupDevice("device_get_view_poses_stream", req.DeviceID)
	if err != nil {
		return nil, nil, err
	}
	fovs, poses, err := dev.GetViewPoses(ctx, req.ViewCount, time.Now())
	if err != nil {
		return nil, nil, resultcode.Forward("device_get_view_poses_stream", err)
	}
	header, err := wire.Encode(wire.DeviceGetViewPosesStreamReply{ViewCount: req.ViewCount})
	if err != nil {
		return nil, nil, resultcode.Failure("device_get_view_poses_stream", err.Error())
	}
	wireFovs := make([]wire.Fov, len(fovs))
	for i, f := range fovs {
		wireFovs[i] = wire.Fov{AngleLeft: f.AngleLeft, AngleRight: f.AngleRight, AngleUp: f.AngleUp, AngleDown: f.AngleDown}
	}
	wirePoses := make([]wire.Pose, len(poses))
	for i, p := range poses {
		wirePoses[i] = toWirePose(p)
	}
	fovBytes, err := wire.Encode(wireFovs)
	if err != nil {
		return nil, nil, resultcode.Failure("device_get_view_poses_stream", err.Error())
	}
	poseBytes, err := wire.Encode(wirePoses)
	if err != nil {
		return nil, nil, resultcode.Failure("device_get_view_poses_stream", err.Error())
	}
	out := append(header, fovBytes...)
	out = append(out, poseBytes...)
	return out, nil, nil
}

func (b *Broker) deviceGetVisibilityMask(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	var req wire.DeviceGetVisibilityMaskRequest
	if err := wire.Decode(body, &req); err != nil {
		return nil, nil, resultcode.Failure("device_get_visibility_mask", err.Error())
	}
	dev, err := b.lookupDevice("device_get_visibility_mask", req.DeviceID)
	if err != nil {
		return nil, nil, err
	}
	mask, valid, err := dev.GetVisibilityMask(ctx, req.ViewIndex)
	if err != nil {
		return nil, nil, resultcode.Forward("device_get_visibility_mask", err)
	}
	header, err := wire.Encode(wire.DeviceGetVisibilityMaskReply{MaskSize: uint32(len(mask))})
	if err != nil {
		return nil, nil, resultcode.Failure("device_get_visibility_mask", err.Error())
	}
	if !valid {
		return header, nil, nil
	}
	return append(header, mask...), nil, nil
}

func (b *Broker) deviceToggleIODevice(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	var req wire.DeviceToggleIODeviceRequest
	if err := wire.Decode(body, &req); err != nil {
		return nil, nil, resultcode.Failure("device_toggle_io_device", err.Error())
	}
	if _, err := b.lookupDevice("device_toggle_io_device", req.DeviceID); err != nil {
		return nil, nil, err
	}
	client.ToggleDeviceIO(req.DeviceID)
	return nil, nil, nil
}

// deviceTrackingHandler builds a dispatcher handler for the four opaque
// tracking-blob queries (hand, face, body skeleton, body joints), which
// differ only in which collab.Device method they call.
func (b *Broker) deviceTrackingHandler(op string, fn func(collab.Device, context.Context) ([]byte, error)) dispatch.HandlerFunc {
	return func(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
		var req wire.DeviceTrackingRequest
		if err := wire.Decode(body, &req); err != nil {
			return nil, nil, resultcode.Failure(op, err.Error())
		}
		dev, err := b.lookupDevice(op, req.DeviceID)
		if err != nil {
			return nil, nil, err
		}
		data, err := fn(dev, ctx)
		if err != nil {
			return nil, nil, resultcode.Forward(op, err)
		}
		header, err := wire.Encode(wire.DeviceTrackingReply{Valid: data != nil, DataSize: uint32(len(data))})
		if err != nil {
			return nil, nil, resultcode.Failure(op, err.Error())
		}
		return append(header, data...), nil, nil
	}
}

func (b *Broker) deviceComputeDistortion(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	var req wire.DeviceComputeDistortionRequest
	if err := wire.Decode(body, &req); err != nil {
		return nil, nil, resultcode.Failure("device_compute_distortion", err.Error())
	}
	dev, err := b.lookupDevice("device_compute_distortion", req.DeviceID)
	if err != nil {
		return nil, nil, err
	}
	u, v, err := dev.ComputeDistortion(ctx, req.ViewIndex, req.U, req.V)
	if err != nil {
		return nil, nil, resultcode.Forward("device_compute_distortion", err)
	}
	out, err := wire.Encode(wire.DeviceComputeDistortionReply{U: u, V: v})
	if err != nil {
		return nil, nil, resultcode.Failure("device_compute_distortion", err.Error())
	}
	return out, nil, nil
}

func (b *Broker) deviceSetOutput(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	var req wire.DeviceSetOutputRequest
	if err := wire.Decode(body, &req); err != nil {
		return nil, nil, resultcode.Failure("device_set_output", err.Error())
	}
	dev, err := b.lookupDevice("device_set_output", req.DeviceID)
	if err != nil {
		return nil, nil, err
	}
	if err := dev.SetOutput(ctx, cString(req.Name[:]), req.Value); err != nil {
		return nil, nil, resultcode.Forward("device_set_output", err)
	}
	return nil, nil, nil
}

func (b *Broker) deviceIsFormFactorAvailable(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	var req wire.DeviceIsFormFactorAvailableRequest
	if err := wire.Decode(body, &req); err != nil {
		return nil, nil, resultcode.Failure("device_is_form_factor_available", err.Error())
	}
	// is_form_factor_available is a capability probe, not scoped to one
	// device; it asks whatever device would serve that form factor. With a
	// single-device registry this broker checks every registered device.
	available := false
	for _, dev := range b.Devices {
		ok, err := dev.IsFormFactorAvailable(ctx, req.FormFactor)
		if err != nil {
			return nil, nil, resultcode.Forward("device_is_form_factor_available", err)
		}
		if ok {
			available = true
			break
		}
	}
	out, err := wire.Encode(wire.DeviceIsFormFactorAvailableReply{Available: available})
	if err != nil {
		return nil, nil, resultcode.Failure("device_is_form_factor_available", err.Error())
	}
	return out, nil, nil
}
