package wire

import "unsafe"

// RequestHeader precedes every request body on the channel.
type RequestHeader struct {
	Tag         Tag
	InHandles   uint32
	BodyLen     uint32
	_           uint32 // padding to keep 16-byte natural alignment
}

var _ [16]byte = [unsafe.Sizeof(RequestHeader{})]byte{}

// ReplyHeader precedes every reply body.
type ReplyHeader struct {
	Result      int32
	OutHandles  uint32
	BodyLen     uint32
	_           uint32
}

var _ [16]byte = [unsafe.Sizeof(ReplyHeader{})]byte{}

// ---- Session lifecycle ---------------------------------------------------

type SessionCreateRequest struct {
	IsOverlay      uint32 // bool as uint32 to keep natural alignment
	ZOrder         int32
	WantsCompositor uint32
	CapabilityFlags uint32
}

var _ [16]byte = [unsafe.Sizeof(SessionCreateRequest{})]byte{}

type SessionCreateReply struct{}

type SessionBeginRequest struct {
	ViewType uint32
}

type SessionEndRequest struct{}

type SessionDestroyRequest struct{}

type SessionPollEventsReply struct {
	EventType uint32
	HasEvent  uint32
}

// ---- Spaces ----------------------------------------------------------------

type SpaceCreateSemanticIDsReply struct {
	Root        uint32
	View        uint32
	Local       uint32
	LocalFloor  uint32
	Stage       uint32
	Unbounded   uint32
}

type Pose struct {
	OrientationX, OrientationY, OrientationZ, OrientationW float32
	PositionX, PositionY, PositionZ                        float32
}

type SpaceCreateOffsetRequest struct {
	ParentID uint32
	Pose     Pose
}

type SpaceCreateOffsetReply struct {
	SpaceID uint32
}

type SpaceCreatePoseRequest struct {
	DeviceID  uint32
	InputName [32]byte
}

type SpaceCreatePoseReply struct {
	SpaceID uint32
}

type SpaceLocateSpaceRequest struct {
	BaseID  uint32
	OtherID uint32
	Time    int64
}

type SpaceLocateSpaceReply struct {
	Valid bool
	Pose  Pose
}

type SpaceLocateDeviceRequest struct {
	DeviceID uint32
	BaseID   uint32
	Time     int64
}

type SpaceLocateDeviceReply struct {
	Valid bool
	Pose  Pose
}

type SpaceDestroyRequest struct {
	SpaceID uint32
}

// ReferenceSpaceType enumerates the reference-space types tracked by
// ref_space_used (spec §3 invariant 3).
type ReferenceSpaceType uint32

const (
	RefSpaceView ReferenceSpaceType = iota
	RefSpaceLocal
	RefSpaceLocalFloor
	RefSpaceStage
	RefSpaceUnbounded
	ReferenceSpaceTypeCount
)

type SpaceRefRequest struct {
	Type ReferenceSpaceType
}

// ---- Compositor frame loop --------------------------------------------------

type PredictFrameReply struct {
	FrameID            uint64
	PredictedDisplayTime int64
	PredictedDisplayPeriod int64
}

type WaitWokeRequest struct {
	FrameID uint64
}

type BeginFrameRequest struct {
	FrameID uint64
}

type DiscardFrameRequest struct {
	FrameID uint64
}

type LayerSyncRequest struct {
	SlotID uint32
}

type LayerSyncReply struct {
	FreeSlotID uint32
}

type LayerSyncWithSemaphoreRequest struct {
	SlotID        uint32
	SemaphoreID   uint32
	SemaphoreValue uint64
}

// ---- Swapchain --------------------------------------------------------------

type SwapchainCreateRequest struct {
	Width       uint32
	Height      uint32
	Format      int64
	SampleCount uint32
	ImageCount  uint32
	UsageFlags  uint32
}

type SwapchainCreateReply struct {
	SwapchainID          uint32
	ImageCount           uint32
	AllocationSize       uint64
	UseDedicatedAllocation uint32
}

type SwapchainImportRequest struct {
	Width      uint32
	Height     uint32
	Format     int64
	ImageCount uint32
}

type SwapchainImportReply struct {
	SwapchainID uint32
}

type SwapchainAcquireImageRequest struct {
	SwapchainID uint32
}

type SwapchainAcquireImageReply struct {
	ImageIndex uint32
}

type SwapchainWaitImageRequest struct {
	SwapchainID uint32
	TimeoutNs   int64
}

type SwapchainReleaseImageRequest struct {
	SwapchainID uint32
}

type SwapchainDestroyRequest struct {
	SwapchainID uint32
}

// ---- Device -------------------------------------------------------------------

type DeviceUpdateInputRequest struct {
	DeviceID uint32
}

type DeviceGetTrackedPoseRequest struct {
	DeviceID  uint32
	InputName [32]byte
	Time      int64
}

type DeviceGetTrackedPoseReply struct {
	Valid bool
	Pose  Pose
}

// IPCMaxRawViews bounds the fixed-capacity device_get_view_poses reply
// (spec §4.E.5).
const IPCMaxRawViews = 4

type DeviceGetViewPosesRequest struct {
	DeviceID  uint32
	ViewCount uint32
}

type Fov struct {
	AngleLeft, AngleRight, AngleUp, AngleDown float32
}

type DeviceGetViewPosesReply struct {
	ViewCount uint32
	Fovs      [IPCMaxRawViews]Fov
	Poses     [IPCMaxRawViews]Pose
}

// DeviceGetViewPosesStreamReply is the streaming variant's reply header
// (spec §4.E.5): unlike the fixed-capacity reply it carries no embedded
// arrays, since the fov and pose arrays follow as two variable-length
// trailing writes sized to ViewCount instead of IPC_MAX_RAW_VIEWS.
type DeviceGetViewPosesStreamReply struct {
	ViewCount uint32
}

type DeviceGetVisibilityMaskRequest struct {
	DeviceID  uint32
	ViewIndex uint32
}

type DeviceGetVisibilityMaskReply struct {
	MaskSize uint32
}

type DeviceToggleIODeviceRequest struct {
	DeviceID uint32
}

// DeviceTrackingRequest is shared by the four opaque-blob tracking queries
// (hand, face, body skeleton, body joints).
type DeviceTrackingRequest struct {
	DeviceID uint32
}

// DeviceTrackingReply precedes the variable-length tracking blob itself,
// appended as a trailing write per spec §6.1.
type DeviceTrackingReply struct {
	Valid    bool
	DataSize uint32
}

type DeviceComputeDistortionRequest struct {
	DeviceID  uint32
	ViewIndex uint32
	U         float32
	V         float32
}

type DeviceComputeDistortionReply struct {
	U float32
	V float32
}

type DeviceSetOutputRequest struct {
	DeviceID uint32
	Name     [32]byte
	Value    float32
}

type DeviceIsFormFactorAvailableRequest struct {
	FormFactor uint32
}

type DeviceIsFormFactorAvailableReply struct {
	Available bool
}

// ---- System / arbiter surface --------------------------------------------------

type SystemGetClientsReply struct {
	ClientCount uint32
	ClientIDs   [64]uint32
}

type SystemGetClientInfoRequest struct {
	ClientID uint32
}

type SystemGetClientInfoReply struct {
	ProcessID int32
	AppName   [64]byte
	IsPrimary bool
	IsFocused bool
	IsVisible bool
	ZOrder    int32
}

type SystemSetPrimaryClientRequest struct {
	ClientID uint32
}

type SystemToggleIOClientRequest struct {
	ClientID uint32
}

type SystemSetFocusedClientRequest struct {
	ClientID uint32
}
