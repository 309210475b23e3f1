package handlers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xrbroker/xrbrokerd/internal/broker/collab"
	"github.com/xrbroker/xrbrokerd/internal/broker/session"
	"github.com/xrbroker/xrbrokerd/internal/resultcode"
	"github.com/xrbroker/xrbrokerd/internal/wire"
)

// fakeDevice is a scripted collab.Device exposing a head-pose input and an
// ordinary "trigger" input, both reported active, so tests can exercise the
// IO-active gating in device_update_input and device_get_tracked_pose.
type fakeDevice struct {
	mu             sync.Mutex
	id             uint32
	name           string
	updateCalls    int
	getTrackedErr  error
	viewPosesFovs  []collab.Fov
	viewPosesPoses []collab.Pose
}

func (d *fakeDevice) ID() uint32   { return d.id }
func (d *fakeDevice) Name() string { return d.name }

func (d *fakeDevice) UpdateInputs(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updateCalls++
	return nil
}

func (d *fakeDevice) Inputs(ctx context.Context) ([]collab.DeviceInput, error) {
	return []collab.DeviceInput{
		{Name: collab.HeadPoseInputName, Active: true, Pose: collab.Pose{PositionX: 1, PositionY: 2, PositionZ: 3}},
		{Name: "trigger", Active: true, Pose: collab.Pose{PositionX: 4, PositionY: 5, PositionZ: 6}},
	}, nil
}

func (d *fakeDevice) GetTrackedPose(ctx context.Context, inputName string, at time.Time) (collab.Pose, bool, error) {
	if d.getTrackedErr != nil {
		return collab.Pose{}, false, d.getTrackedErr
	}
	return collab.Pose{PositionX: 9}, true, nil
}

func (d *fakeDevice) GetViewPoses(ctx context.Context, viewCount uint32, at time.Time) ([]collab.Fov, []collab.Pose, error) {
	return d.viewPosesFovs, d.viewPosesPoses, nil
}

func (d *fakeDevice) GetHandTracking(ctx context.Context) ([]byte, error) { return nil, nil }
func (d *fakeDevice) GetFaceTracking(ctx context.Context) ([]byte, error) { return nil, nil }
func (d *fakeDevice) GetBodySkeleton(ctx context.Context) ([]byte, error) { return nil, nil }
func (d *fakeDevice) GetBodyJoints(ctx context.Context) ([]byte, error)   { return nil, nil }

func (d *fakeDevice) GetVisibilityMask(ctx context.Context, viewIndex uint32) ([]byte, bool, error) {
	return nil, false, nil
}

func (d *fakeDevice) ComputeDistortion(ctx context.Context, viewIndex uint32, u, v float32) (float32, float32, error) {
	return u, v, nil
}

func (d *fakeDevice) SetOutput(ctx context.Context, name string, value float32) error { return nil }

func (d *fakeDevice) IsFormFactorAvailable(ctx context.Context, formFactor uint32) (bool, error) {
	return false, nil
}

func updateInput(t *testing.T, broker *Broker, client *session.ClientState, deviceID uint32) {
	t.Helper()
	body := mustEncode(t, wire.DeviceUpdateInputRequest{DeviceID: deviceID})
	_, _, err := broker.deviceUpdateInput(context.Background(), client, body, nil)
	require.NoError(t, err)
}

// TestDeviceUpdateInput_IOActiveWritesRealValues covers the success path of
// spec testable property 8.6: with IO active every input's real pose and
// active flag land in shared memory.
func TestDeviceUpdateInput_IOActiveWritesRealValues(t *testing.T) {
	broker, _, _ := newTestBroker(t)
	dev := &fakeDevice{id: 0, name: "head"}
	broker.Devices[0] = dev
	client := broker.AddClient(100, "app", 0)

	updateInput(t, broker, client, 0)
	require.Equal(t, 1, dev.updateCalls)

	desc, ok := broker.Shm.Device(0)
	require.True(t, ok)
	require.Equal(t, uint32(2), desc.InputCount)

	trigger, ok := broker.Shm.ReadInput(desc.FirstInputIndex + 1)
	require.True(t, ok)
	require.Equal(t, "trigger", cString(trigger.Name[:]))
	require.True(t, trigger.Active)
	require.Equal(t, float32(4), trigger.PoseX)
}

// TestDeviceUpdateInput_IOInactiveZeroesExceptHeadPose covers spec testable
// property 8.6's negative case: with IO globally disabled every input's
// pose is zeroed and only the head-pose input keeps a truthful active flag.
func TestDeviceUpdateInput_IOInactiveZeroesExceptHeadPose(t *testing.T) {
	broker, _, _ := newTestBroker(t)
	dev := &fakeDevice{id: 0, name: "head"}
	broker.Devices[0] = dev
	client := broker.AddClient(100, "app", 0)
	client.SetIOActive(false)

	updateInput(t, broker, client, 0)

	desc, ok := broker.Shm.Device(0)
	require.True(t, ok)

	headPose, ok := broker.Shm.ReadInput(desc.FirstInputIndex)
	require.True(t, ok)
	require.Equal(t, collab.HeadPoseInputName, cString(headPose.Name[:]))
	require.True(t, headPose.Active, "head_pose must stay truthful while IO is globally disabled")
	require.Zero(t, headPose.PoseX)

	trigger, ok := broker.Shm.ReadInput(desc.FirstInputIndex + 1)
	require.True(t, ok)
	require.False(t, trigger.Active, "non-head-pose inputs must report inactive while IO is disabled")
	require.Zero(t, trigger.PoseX)
}

// TestDeviceGetTrackedPose_UnknownInputReturnsPoseNotActive covers finding
// (b): a pose for an input never written to shared memory must fail with
// POSE_NOT_ACTIVE, not silently query the driver.
func TestDeviceGetTrackedPose_UnknownInputReturnsPoseNotActive(t *testing.T) {
	broker, _, _ := newTestBroker(t)
	dev := &fakeDevice{id: 0, name: "head"}
	broker.Devices[0] = dev
	client := broker.AddClient(100, "app", 0)

	var name [32]byte
	copy(name[:], "trigger")
	body := mustEncode(t, wire.DeviceGetTrackedPoseRequest{DeviceID: 0, InputName: name})
	_, _, err := broker.deviceGetTrackedPose(context.Background(), client, body, nil)

	require.Error(t, err)
	require.Equal(t, resultcode.PoseNotActive, resultcode.CodeOf(err))
}

// TestDeviceGetTrackedPose_ActiveInputQueriesDevice covers the happy path:
// once device_update_input has written an active snapshot, a tracked-pose
// request for that input reaches the driver.
func TestDeviceGetTrackedPose_ActiveInputQueriesDevice(t *testing.T) {
	broker, _, _ := newTestBroker(t)
	dev := &fakeDevice{id: 0, name: "head"}
	broker.Devices[0] = dev
	client := broker.AddClient(100, "app", 0)
	updateInput(t, broker, client, 0)

	var name [32]byte
	copy(name[:], "trigger")
	body := mustEncode(t, wire.DeviceGetTrackedPoseRequest{DeviceID: 0, InputName: name})
	replyBody, _, err := broker.deviceGetTrackedPose(context.Background(), client, body, nil)
	require.NoError(t, err)

	var reply wire.DeviceGetTrackedPoseReply
	require.NoError(t, wire.Decode(replyBody, &reply))
	require.True(t, reply.Valid)
	require.Equal(t, float32(9), reply.Pose.PositionX)
}

// TestDeviceGetTrackedPose_GloballyDisabledReturnsZeroedSuccess covers the
// case where the input is active client-side but IO is globally off: the
// reply is a zeroed success, not a driver query, unless it's head_pose.
func TestDeviceGetTrackedPose_GloballyDisabledReturnsZeroedSuccess(t *testing.T) {
	broker, _, _ := newTestBroker(t)
	dev := &fakeDevice{id: 0, name: "head"}
	broker.Devices[0] = dev
	client := broker.AddClient(100, "app", 0)
	updateInput(t, broker, client, 0)
	client.SetIOActive(false)

	var name [32]byte
	copy(name[:], "trigger")
	body := mustEncode(t, wire.DeviceGetTrackedPoseRequest{DeviceID: 0, InputName: name})
	replyBody, _, err := broker.deviceGetTrackedPose(context.Background(), client, body, nil)
	require.NoError(t, err)

	var reply wire.DeviceGetTrackedPoseReply
	require.NoError(t, wire.Decode(replyBody, &reply))
	require.False(t, reply.Valid)
	require.Zero(t, reply.Pose.PositionX)
}

// TestDeviceGetViewPoses_RejectsZeroViewCount covers finding (e)'s lower
// bound: both the fixed-capacity and streaming variants must reject
// view_count == 0.
func TestDeviceGetViewPoses_RejectsZeroViewCount(t *testing.T) {
	broker, _, _ := newTestBroker(t)
	broker.Devices[0] = &fakeDevice{id: 0, name: "head"}
	client := broker.AddClient(100, "app", 0)

	body := mustEncode(t, wire.DeviceGetViewPosesRequest{DeviceID: 0, ViewCount: 0})

	_, _, err := broker.deviceGetViewPoses(context.Background(), client, body, nil)
	require.Error(t, err)
	require.Equal(t, resultcode.IPCFailure, resultcode.CodeOf(err))

	_, _, err = broker.deviceGetViewPosesStream(context.Background(), client, body, nil)
	require.Error(t, err)
	require.Equal(t, resultcode.IPCFailure, resultcode.CodeOf(err))
}

// TestDeviceGetViewPosesStream_EncodesTrailingArrays covers finding (e)'s
// streaming variant: the reply header is followed by the fov and pose
// arrays sized to view_count, not wire.IPCMaxRawViews.
func TestDeviceGetViewPosesStream_EncodesTrailingArrays(t *testing.T) {
	broker, _, _ := newTestBroker(t)
	dev := &fakeDevice{
		id: 0, name: "head",
		viewPosesFovs:  []collab.Fov{{AngleLeft: -1}, {AngleLeft: -2}},
		viewPosesPoses: []collab.Pose{{PositionX: 1}, {PositionX: 2}},
	}
	broker.Devices[0] = dev
	client := broker.AddClient(100, "app", 0)

	body := mustEncode(t, wire.DeviceGetViewPosesRequest{DeviceID: 0, ViewCount: 2})
	replyBody, _, err := broker.deviceGetViewPosesStream(context.Background(), client, body, nil)
	require.NoError(t, err)

	headerSize := wire.Size(wire.DeviceGetViewPosesStreamReply{})
	fovsSize := wire.Size([2]wire.Fov{})
	posesSize := wire.Size([2]wire.Pose{})
	require.Len(t, replyBody, headerSize+fovsSize+posesSize)
}

// TestSpaceLocateDevice_DoesNotGateOnIOActive covers finding (c): the
// invented IO-active gate must be gone, so a device whose IO is disabled
// still reaches the overseer.
func TestSpaceLocateDevice_DoesNotGateOnIOActive(t *testing.T) {
	broker, overseer, _ := newTestBroker(t)
	_ = overseer
	broker.Devices[0] = &fakeDevice{id: 0, name: "head"}
	client := broker.AddClient(100, "app", 0)
	createSession(t, broker, client, false, 0)
	client.SetIOActive(false)

	semBody := mustEncode(t, struct{}{})
	_, _, err := broker.spaceCreateSemanticIDs(context.Background(), client, semBody, nil)
	require.NoError(t, err)

	body := mustEncode(t, wire.SpaceLocateDeviceRequest{DeviceID: 0, BaseID: 1, Time: 0})
	replyBody, _, err := broker.spaceLocateDevice(context.Background(), client, body, nil)
	require.NoError(t, err)

	var reply wire.SpaceLocateDeviceReply
	require.NoError(t, wire.Decode(replyBody, &reply))
	require.True(t, reply.Valid)
}
