package handlers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xrbroker/xrbrokerd/internal/broker/arbiter"
	"github.com/xrbroker/xrbrokerd/internal/broker/collab"
	"github.com/xrbroker/xrbrokerd/internal/broker/session"
	"github.com/xrbroker/xrbrokerd/internal/channel"
	"github.com/xrbroker/xrbrokerd/internal/resultcode"
	"github.com/xrbroker/xrbrokerd/internal/shm"
	"github.com/xrbroker/xrbrokerd/internal/wire"
)

// fakeSwapchain records how many times it was destroyed, for scenario S5.
type fakeSwapchain struct {
	mu        sync.Mutex
	destroyed int
}

func (s *fakeSwapchain) AcquireImage(ctx context.Context) (uint32, error) { return 0, nil }
func (s *fakeSwapchain) WaitImage(ctx context.Context, timeout time.Duration) error { return nil }
func (s *fakeSwapchain) ReleaseImage(ctx context.Context, imageIndex uint32) error  { return nil }
func (s *fakeSwapchain) Destroy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed++
	return nil
}

type fakeSemaphore struct {
	mu        sync.Mutex
	destroyed int
}

func (s *fakeSemaphore) Destroy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed++
	return nil
}

// fakeCompositor is a scripted collab.Compositor tracking call counts so
// scenarios can assert on exactly how many times each lifecycle method ran
// (spec §8 scenarios S1 and S5).
type fakeCompositor struct {
	mu sync.Mutex

	nextFrameID      uint64
	destroyCount     int
	discardFrameIDs  []uint64
	layerBeginCount  int
	submittedLayers  []collab.LayerSubmission
	layerCommitFDs   []int
	createdSwapchain *fakeSwapchain
	createdSemaphore *fakeSemaphore
}

func (c *fakeCompositor) BeginSession(ctx context.Context, viewType, capabilityFlags uint32) error { return nil }
func (c *fakeCompositor) EndSession(ctx context.Context) error                                     { return nil }

func (c *fakeCompositor) PredictFrame(ctx context.Context) (uint64, int64, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextFrameID++
	return c.nextFrameID, 1000, 11, nil
}

func (c *fakeCompositor) WaitWoke(ctx context.Context, frameID uint64) error { return nil }
func (c *fakeCompositor) BeginFrame(ctx context.Context, frameID uint64) error { return nil }

func (c *fakeCompositor) DiscardFrame(ctx context.Context, frameID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discardFrameIDs = append(c.discardFrameIDs, frameID)
	return nil
}

func (c *fakeCompositor) CreateSwapchain(ctx context.Context, info collab.SwapchainCreateInfo) (collab.SwapchainCreateResult, error) {
	sc := &fakeSwapchain{}
	c.mu.Lock()
	c.createdSwapchain = sc
	c.mu.Unlock()
	return collab.SwapchainCreateResult{Swapchain: sc, ImageHandles: []int{11, 12, 13}}, nil
}

func (c *fakeCompositor) ImportSwapchain(ctx context.Context, info collab.SwapchainCreateInfo, handles []int, sizes []uint64) (collab.SwapchainCreateResult, error) {
	sc := &fakeSwapchain{}
	return collab.SwapchainCreateResult{Swapchain: sc}, nil
}

func (c *fakeCompositor) CreateSemaphore(ctx context.Context) (collab.SemaphoreHandle, error) {
	sem := &fakeSemaphore{}
	c.mu.Lock()
	c.createdSemaphore = sem
	c.mu.Unlock()
	return sem, nil
}

func (c *fakeCompositor) LayerBegin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.layerBeginCount++
	return nil
}

func (c *fakeCompositor) SubmitLayer(ctx context.Context, layer collab.LayerSubmission) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submittedLayers = append(c.submittedLayers, layer)
	return nil
}

func (c *fakeCompositor) LayerCommit(ctx context.Context, syncHandle int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.layerCommitFDs = append(c.layerCommitFDs, syncHandle)
	return nil
}

func (c *fakeCompositor) LayerCommitWithSemaphore(ctx context.Context, semaphore collab.SemaphoreHandle, value uint64) error {
	return nil
}

func (c *fakeCompositor) SetState(ctx context.Context, visible, focused bool) error { return nil }
func (c *fakeCompositor) SetZOrder(ctx context.Context, zOrder int32) error         { return nil }

func (c *fakeCompositor) Destroy(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyCount++
	return nil
}

type fakeSyscomp struct{}

func (fakeSyscomp) SetState(ctx context.Context, clientID uint32, visible, focused bool) error { return nil }
func (fakeSyscomp) SetZOrder(ctx context.Context, clientID uint32, zOrder int32) error          { return nil }

// fakeOverseer tracks ref-space inc/dec balance for scenario S4 and hands
// back a trivial non-nil handle for every space creation and every semantic
// space.
type fakeOverseer struct {
	mu      sync.Mutex
	refBal  map[uint32]int
}

func newFakeOverseer() *fakeOverseer {
	return &fakeOverseer{refBal: make(map[uint32]int)}
}

func (o *fakeOverseer) CreateOffsetSpace(ctx context.Context, parent collab.SpaceHandle, pose collab.Pose) (collab.SpaceHandle, error) {
	return struct{}{}, nil
}
func (o *fakeOverseer) CreatePoseSpace(ctx context.Context, device collab.Device, inputName string) (collab.SpaceHandle, error) {
	return struct{}{}, nil
}
func (o *fakeOverseer) LocateSpace(ctx context.Context, base, other collab.SpaceHandle, at time.Time) (collab.Pose, bool, error) {
	return collab.Pose{}, true, nil
}
func (o *fakeOverseer) LocateDevice(ctx context.Context, device collab.Device, base collab.SpaceHandle, at time.Time) (collab.Pose, bool, error) {
	return collab.Pose{}, true, nil
}
func (o *fakeOverseer) RefSpaceInc(refType uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refBal[refType]++
}
func (o *fakeOverseer) RefSpaceDec(refType uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refBal[refType]--
}
func (o *fakeOverseer) RecenterLocalSpaces(ctx context.Context) error { return nil }
func (o *fakeOverseer) Semantic(refType uint32) (collab.SpaceHandle, bool) { return struct{}{}, true }

func (o *fakeOverseer) balance(refType uint32) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.refBal[refType]
}

func newTestBroker(t *testing.T) (*Broker, *fakeOverseer, *fakeCompositor) {
	t.Helper()
	overseer := newFakeOverseer()
	comp := &fakeCompositor{}
	broker := New(overseer, fakeSyscomp{}, shm.NewRegion(), nil)
	broker.NewCompositor = func(client *session.ClientState) collab.Compositor { return comp }
	ab := arbiter.New(broker, fakeSyscomp{})
	broker.Arbiter = ab
	return broker, overseer, comp
}

func mustEncode(t *testing.T, v any) []byte {
	t.Helper()
	b, err := wire.Encode(v)
	require.NoError(t, err)
	return b
}

func createSession(t *testing.T, broker *Broker, client *session.ClientState, isOverlay bool, zOrder int32) {
	t.Helper()
	overlay := uint32(0)
	if isOverlay {
		overlay = 1
	}
	body := mustEncode(t, wire.SessionCreateRequest{IsOverlay: overlay, ZOrder: zOrder})
	_, _, err := broker.sessionCreate(context.Background(), client, body, nil)
	require.NoError(t, err)
}

// TestScenarioS1_HappyFrame mirrors spec §8 S1: connect, create a session,
// predict a frame, begin it, create a swapchain, then layer_sync with one
// ancillary handle. Exactly one sync handle reaches the compositor and the
// slot cursor advances to 1.
func TestScenarioS1_HappyFrame(t *testing.T) {
	broker, _, comp := newTestBroker(t)
	ctx := context.Background()
	client := broker.AddClient(100, "app", 0)

	createSession(t, broker, client, false, 0)

	replyBody, _, err := broker.predictFrame(ctx, client, nil, nil)
	require.NoError(t, err)
	var predictReply wire.PredictFrameReply
	require.NoError(t, wire.Decode(replyBody, &predictReply))
	require.Equal(t, uint64(1), predictReply.FrameID)

	beginBody := mustEncode(t, wire.BeginFrameRequest{FrameID: predictReply.FrameID})
	_, _, err = broker.beginFrame(ctx, client, beginBody, nil)
	require.NoError(t, err)

	scBody := mustEncode(t, wire.SwapchainCreateRequest{
		Width: 1024, Height: 1024, Format: 1, SampleCount: 1, ImageCount: 3, UsageFlags: 1,
	})
	scReplyBody, scHandles, err := broker.swapchainCreate(ctx, client, scBody, nil)
	require.NoError(t, err)
	require.Len(t, scHandles, 3)
	var scReply wire.SwapchainCreateReply
	require.NoError(t, wire.Decode(scReplyBody, &scReply))
	require.Equal(t, uint32(3), scReply.ImageCount)

	syncFD := 42
	lsBody := mustEncode(t, wire.LayerSyncRequest{SlotID: 0})
	lsReplyBody, lsOut, err := broker.layerSync(ctx, client, lsBody, []channel.Handle{{FD: syncFD}})
	require.NoError(t, err)
	require.Empty(t, lsOut)

	var lsReply wire.LayerSyncReply
	require.NoError(t, wire.Decode(lsReplyBody, &lsReply))
	require.Equal(t, uint32(1), lsReply.FreeSlotID)
	require.Equal(t, uint32(1), broker.Shm.CurrentSlotIndex())

	require.Equal(t, []int{syncFD}, comp.layerCommitFDs, "exactly one sync handle must reach the compositor")
}

// TestScenarioS3_InvalidSpaceLocate mirrors spec §8 S3: locating against a
// nonexistent "other" space ID returns IPC_FAILURE and leaves the overseer
// untouched.
func TestScenarioS3_InvalidSpaceLocate(t *testing.T) {
	broker, overseer, _ := newTestBroker(t)
	ctx := context.Background()
	client := broker.AddClient(100, "app", 0)
	createSession(t, broker, client, false, 0)

	semBody, err := wire.Encode(struct{}{})
	require.NoError(t, err)
	_, _, err = broker.spaceCreateSemanticIDs(ctx, client, semBody, nil)
	require.NoError(t, err)

	req := wire.SpaceLocateSpaceRequest{BaseID: 5, OtherID: ^uint32(0), Time: 0}
	body := mustEncode(t, req)
	_, _, err = broker.spaceLocateSpace(ctx, client, body, nil)

	require.Error(t, err)
	require.Equal(t, resultcode.IPCFailure, resultcode.CodeOf(err))
	require.Equal(t, 0, overseer.balance(uint32(wire.RefSpaceLocal)))
}

// TestScenarioS4_DoubleMarkRefSpace mirrors spec §8 S4: mark succeeds once,
// a second mark fails, unmark succeeds once, a second unmark fails; the
// overseer's ref-count nets to zero.
func TestScenarioS4_DoubleMarkRefSpace(t *testing.T) {
	broker, overseer, _ := newTestBroker(t)
	ctx := context.Background()
	client := broker.AddClient(100, "app", 0)
	createSession(t, broker, client, false, 0)

	markBody := mustEncode(t, wire.SpaceRefRequest{Type: wire.RefSpaceLocal})

	_, _, err := broker.spaceMarkRefSpaceInUse(ctx, client, markBody, nil)
	require.NoError(t, err)

	_, _, err = broker.spaceMarkRefSpaceInUse(ctx, client, markBody, nil)
	require.Error(t, err)
	require.Equal(t, resultcode.IPCFailure, resultcode.CodeOf(err))

	_, _, err = broker.spaceUnmarkRefSpaceInUse(ctx, client, markBody, nil)
	require.NoError(t, err)

	_, _, err = broker.spaceUnmarkRefSpaceInUse(ctx, client, markBody, nil)
	require.Error(t, err)
	require.Equal(t, resultcode.IPCFailure, resultcode.CodeOf(err))

	require.Equal(t, 0, overseer.balance(uint32(wire.RefSpaceLocal)))
}

// TestScenarioS5_SessionDestroyCascade mirrors spec §8 S5: 4 swapchains, 2
// semaphores, 3 offset spaces, then session_destroy. The compositor is
// destroyed exactly once, every swapchain/semaphore native object is
// destroyed exactly once, the handle tables empty out, and session_create
// succeeds again.
func TestScenarioS5_SessionDestroyCascade(t *testing.T) {
	broker, _, comp := newTestBroker(t)
	ctx := context.Background()
	client := broker.AddClient(100, "app", 0)
	createSession(t, broker, client, false, 0)

	var swapchains []*fakeSwapchain
	for i := 0; i < 4; i++ {
		scBody := mustEncode(t, wire.SwapchainCreateRequest{Width: 64, Height: 64, Format: 1, SampleCount: 1, ImageCount: 1, UsageFlags: 1})
		_, _, err := broker.swapchainCreate(ctx, client, scBody, nil)
		require.NoError(t, err)
		swapchains = append(swapchains, comp.createdSwapchain)
	}
	require.Len(t, swapchains, 4)

	var semaphores []*fakeSemaphore
	for i := 0; i < 2; i++ {
		sem, err := comp.CreateSemaphore(ctx)
		require.NoError(t, err)
		id, err := client.Semaphores.Allocate("test", &session.Semaphore{Native: sem})
		require.NoError(t, err)
		_ = id
		semaphores = append(semaphores, comp.createdSemaphore)
	}
	require.Len(t, semaphores, 2)

	parentBody := mustEncode(t, struct{}{})
	_, _, err := broker.spaceCreateSemanticIDs(ctx, client, parentBody, nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		offBody := mustEncode(t, wire.SpaceCreateOffsetRequest{ParentID: 1})
		_, _, err := broker.spaceCreateOffset(ctx, client, offBody, nil)
		require.NoError(t, err)
	}

	destroyBody := mustEncode(t, struct{}{})
	_, _, err = broker.sessionDestroy(ctx, client, destroyBody, nil)
	require.NoError(t, err)

	require.Equal(t, 1, comp.destroyCount, "compositor must be destroyed exactly once")
	for _, sc := range swapchains {
		require.Equal(t, 1, sc.destroyed)
	}
	for _, sem := range semaphores {
		require.Equal(t, 1, sem.destroyed)
	}

	empty := true
	client.Swapchains.Each(func(uint32, *session.Swapchain) { empty = false })
	require.True(t, empty)
	client.Semaphores.Each(func(uint32, *session.Semaphore) { empty = false })
	require.True(t, empty)

	require.False(t, client.HasSession())
	createSession(t, broker, client, false, 0)
	require.True(t, client.HasSession())
}

// TestScenarioS6_DisconnectMidFrameDiscardsPendingFrame mirrors spec §8 S6:
// a client that called begin_frame and then disconnects before layer_sync
// gets its pending frame discarded exactly once during the cascade.
func TestScenarioS6_DisconnectMidFrameDiscardsPendingFrame(t *testing.T) {
	broker, _, comp := newTestBroker(t)
	ctx := context.Background()
	client := broker.AddClient(100, "app", 0)
	createSession(t, broker, client, false, 0)

	replyBody, _, err := broker.predictFrame(ctx, client, nil, nil)
	require.NoError(t, err)
	var predictReply wire.PredictFrameReply
	require.NoError(t, wire.Decode(replyBody, &predictReply))

	beginBody := mustEncode(t, wire.BeginFrameRequest{FrameID: predictReply.FrameID})
	_, _, err = broker.beginFrame(ctx, client, beginBody, nil)
	require.NoError(t, err)

	broker.RemoveClient(ctx, client)

	require.Equal(t, []uint64{predictReply.FrameID}, comp.discardFrameIDs)
	require.Equal(t, 1, comp.destroyCount)
}
