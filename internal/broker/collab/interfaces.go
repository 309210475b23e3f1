// Package collab declares the external collaborator interfaces the broker
// core consumes but does not implement (spec §6.4): the compositor, the
// space overseer, the system compositor, and devices. Production
// implementations live outside this module's scope (spec §1: "device
// drivers ... are out of scope -- they are modeled here only as external
// collaborators").
package collab

import (
	"context"
	"time"
)

// SwapchainHandle identifies a native compositor swapchain object held by
// one strong reference inside a client's handle table.
type SwapchainHandle interface {
	AcquireImage(ctx context.Context) (imageIndex uint32, err error)
	WaitImage(ctx context.Context, timeout time.Duration) error
	ReleaseImage(ctx context.Context, imageIndex uint32) error
	Destroy(ctx context.Context) error
}

// SwapchainCreateInfo mirrors the client-supplied swapchain_create
// arguments (spec §4.E.4).
type SwapchainCreateInfo struct {
	Width, Height uint32
	Format        int64
	SampleCount   uint32
	ImageCount    uint32
	UsageFlags    uint32
}

// SwapchainCreateResult carries the per-image OS handles and allocation
// metadata returned to the client.
type SwapchainCreateResult struct {
	Swapchain              SwapchainHandle
	ImageHandles           []int // one OS handle per image
	AllocationSize         uint64
	UseDedicatedAllocation bool
}

// SemaphoreHandle identifies a native compositor semaphore.
type SemaphoreHandle interface {
	Destroy(ctx context.Context) error
}

// Pose is a position + orientation, shared with the wire layer's shape but
// kept distinct so collaborators never import the wire package.
type Pose struct {
	OrientationX, OrientationY, OrientationZ, OrientationW float32
	PositionX, PositionY, PositionZ                        float32
}

// LayerSubmission is one resolved layer ready to hand to the compositor
// (device/swapchain IDs already resolved to native handles).
type LayerSubmission struct {
	Type         uint32
	Device       Device
	SwapchainIDs []SwapchainHandle
	Payload      []byte
}

// Compositor is the privileged renderer consuming layer submissions (spec
// §6.4).
type Compositor interface {
	BeginSession(ctx context.Context, viewType uint32, capabilityFlags uint32) error
	EndSession(ctx context.Context) error
	PredictFrame(ctx context.Context) (frameID uint64, predictedDisplayTime, predictedDisplayPeriod int64, err error)
	// WaitWoke blocks until the compositor has woken the client for
	// frameID, mirroring the native frame-timing wait the client would
	// otherwise busy-poll for.
	WaitWoke(ctx context.Context, frameID uint64) error
	BeginFrame(ctx context.Context, frameID uint64) error
	DiscardFrame(ctx context.Context, frameID uint64) error

	CreateSwapchain(ctx context.Context, info SwapchainCreateInfo) (SwapchainCreateResult, error)
	ImportSwapchain(ctx context.Context, info SwapchainCreateInfo, handles []int, sizes []uint64) (SwapchainCreateResult, error)

	CreateSemaphore(ctx context.Context) (SemaphoreHandle, error)

	LayerBegin(ctx context.Context) error
	SubmitLayer(ctx context.Context, layer LayerSubmission) error
	LayerCommit(ctx context.Context, syncHandle int) error
	LayerCommitWithSemaphore(ctx context.Context, semaphore SemaphoreHandle, value uint64) error

	SetState(ctx context.Context, visible, focused bool) error
	SetZOrder(ctx context.Context, zOrder int32) error

	Destroy(ctx context.Context) error
}

// SpaceHandle identifies a native reference space or offset/pose space.
type SpaceHandle interface{}

// SpaceOverseer is the subsystem owning reference-space lifetime and
// locate/recenter operations (spec §6.4).
type SpaceOverseer interface {
	CreateOffsetSpace(ctx context.Context, parent SpaceHandle, pose Pose) (SpaceHandle, error)
	CreatePoseSpace(ctx context.Context, device Device, inputName string) (SpaceHandle, error)
	LocateSpace(ctx context.Context, base, other SpaceHandle, at time.Time) (Pose, bool, error)
	LocateDevice(ctx context.Context, device Device, base SpaceHandle, at time.Time) (Pose, bool, error)
	RefSpaceInc(refType uint32)
	RefSpaceDec(refType uint32)
	RecenterLocalSpaces(ctx context.Context) error

	// Semantic returns the overseer's well-known space for refType, or
	// false if the overseer does not expose it (spec §4.B: the wire ID is
	// then the sentinel UINT32_MAX).
	Semantic(refType uint32) (SpaceHandle, bool)
}

// SystemCompositor propagates client visibility/focus/z-order state (spec
// §6.4, consumed by the arbiter).
type SystemCompositor interface {
	SetState(ctx context.Context, clientID uint32, visible, focused bool) error
	SetZOrder(ctx context.Context, clientID uint32, zOrder int32) error
}

// HeadPoseInputName is the canonical name of a device's head-pose input
// (spec §4.E.5): the one input device_update_input keeps truthful in the
// shared-memory window even while IO is disabled.
const HeadPoseInputName = "head_pose"

// DeviceInput is one entry of a device's raw input array, read back after
// UpdateInputs and memcpy'd into the shared-memory input window by
// device_update_input.
type DeviceInput struct {
	Name   string
	Active bool
	Pose   Pose
}

// Device is one tracked input/output device (spec §6.4).
type Device interface {
	ID() uint32
	Name() string
	UpdateInputs(ctx context.Context) error
	// Inputs returns the device's current input array, reflecting the
	// latest UpdateInputs call.
	Inputs(ctx context.Context) ([]DeviceInput, error)
	GetTrackedPose(ctx context.Context, inputName string, at time.Time) (Pose, bool, error)
	GetViewPoses(ctx context.Context, viewCount uint32, at time.Time) (fovs []Fov, poses []Pose, err error)
	GetHandTracking(ctx context.Context) ([]byte, error)
	GetFaceTracking(ctx context.Context) ([]byte, error)
	GetBodySkeleton(ctx context.Context) ([]byte, error)
	GetBodyJoints(ctx context.Context) ([]byte, error)
	GetVisibilityMask(ctx context.Context, viewIndex uint32) ([]byte, bool, error)
	ComputeDistortion(ctx context.Context, viewIndex uint32, u, v float32) (float32, float32, error)
	SetOutput(ctx context.Context, name string, value float32) error
	IsFormFactorAvailable(ctx context.Context, formFactor uint32) (bool, error)
}

// Fov is a field of view, mirrored from the wire layer.
type Fov struct {
	AngleLeft, AngleRight, AngleUp, AngleDown float32
}
