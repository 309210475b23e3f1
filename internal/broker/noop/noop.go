// Package noop provides null implementations of the broker's external
// collaborator interfaces (spec §6.4), used by cmd/xrbrokerd until a real
// device-driver/compositor backend is wired in. Device drivers and
// compositor internals are explicitly out of scope for this module (spec
// §1); this package exists only so the daemon binary has something to run
// against during bring-up and in tests.
package noop

import (
	"context"
	"time"

	"github.com/xrbroker/xrbrokerd/internal/broker/collab"
)

// SystemCompositor is a SystemCompositor that ignores state changes.
type SystemCompositor struct{}

func (SystemCompositor) SetState(ctx context.Context, clientID uint32, visible, focused bool) error {
	return nil
}

func (SystemCompositor) SetZOrder(ctx context.Context, clientID uint32, zOrder int32) error {
	return nil
}

// SpaceOverseer exposes no semantic spaces and reports every locate as not
// valid.
type SpaceOverseer struct{}

func (SpaceOverseer) CreateOffsetSpace(ctx context.Context, parent collab.SpaceHandle, pose collab.Pose) (collab.SpaceHandle, error) {
	return struct{}{}, nil
}

func (SpaceOverseer) CreatePoseSpace(ctx context.Context, device collab.Device, inputName string) (collab.SpaceHandle, error) {
	return struct{}{}, nil
}

func (SpaceOverseer) LocateSpace(ctx context.Context, base, other collab.SpaceHandle, at time.Time) (collab.Pose, bool, error) {
	return collab.Pose{}, false, nil
}

func (SpaceOverseer) LocateDevice(ctx context.Context, device collab.Device, base collab.SpaceHandle, at time.Time) (collab.Pose, bool, error) {
	return collab.Pose{}, false, nil
}

func (SpaceOverseer) RefSpaceInc(refType uint32) {}
func (SpaceOverseer) RefSpaceDec(refType uint32) {}

func (SpaceOverseer) RecenterLocalSpaces(ctx context.Context) error { return nil }

func (SpaceOverseer) Semantic(refType uint32) (collab.SpaceHandle, bool) { return nil, false }

// Compositor is a Compositor that accepts every call and does nothing.
type Compositor struct {
	nextFrameID uint64
}

func NewCompositor() *Compositor { return &Compositor{} }

func (c *Compositor) BeginSession(ctx context.Context, viewType uint32, capabilityFlags uint32) error {
	return nil
}
func (c *Compositor) EndSession(ctx context.Context) error { return nil }

func (c *Compositor) PredictFrame(ctx context.Context) (uint64, int64, int64, error) {
	c.nextFrameID++
	now := time.Now().UnixNano()
	return c.nextFrameID, now + int64(11*time.Millisecond), int64(11 * time.Millisecond), nil
}

func (c *Compositor) WaitWoke(ctx context.Context, frameID uint64) error { return nil }
func (c *Compositor) BeginFrame(ctx context.Context, frameID uint64) error { return nil }
func (c *Compositor) DiscardFrame(ctx context.Context, frameID uint64) error { return nil }

func (c *Compositor) CreateSwapchain(ctx context.Context, info collab.SwapchainCreateInfo) (collab.SwapchainCreateResult, error) {
	return collab.SwapchainCreateResult{Swapchain: &noopSwapchain{}}, nil
}

func (c *Compositor) ImportSwapchain(ctx context.Context, info collab.SwapchainCreateInfo, handles []int, sizes []uint64) (collab.SwapchainCreateResult, error) {
	return collab.SwapchainCreateResult{Swapchain: &noopSwapchain{}}, nil
}

func (c *Compositor) CreateSemaphore(ctx context.Context) (collab.SemaphoreHandle, error) {
	return &noopSemaphore{}, nil
}

func (c *Compositor) LayerBegin(ctx context.Context) error                    { return nil }
func (c *Compositor) SubmitLayer(ctx context.Context, layer collab.LayerSubmission) error {
	return nil
}
func (c *Compositor) LayerCommit(ctx context.Context, syncHandle int) error { return nil }
func (c *Compositor) LayerCommitWithSemaphore(ctx context.Context, semaphore collab.SemaphoreHandle, value uint64) error {
	return nil
}
func (c *Compositor) SetState(ctx context.Context, visible, focused bool) error { return nil }
func (c *Compositor) SetZOrder(ctx context.Context, zOrder int32) error        { return nil }
func (c *Compositor) Destroy(ctx context.Context) error                       { return nil }

type noopSwapchain struct{}

func (*noopSwapchain) AcquireImage(ctx context.Context) (uint32, error)            { return 0, nil }
func (*noopSwapchain) WaitImage(ctx context.Context, timeout time.Duration) error  { return nil }
func (*noopSwapchain) ReleaseImage(ctx context.Context, imageIndex uint32) error   { return nil }
func (*noopSwapchain) Destroy(ctx context.Context) error                          { return nil }

type noopSemaphore struct{}

func (*noopSemaphore) Destroy(ctx context.Context) error { return nil }
