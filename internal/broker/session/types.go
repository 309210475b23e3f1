// Package session holds the per-client state record (spec §3) and its
// attached handle tables. One record exists per connected client, owned by
// its server worker goroutine but observable under lock by the arbiter.
package session

import (
	"sync"

	"github.com/xrbroker/xrbrokerd/internal/broker/collab"
	"github.com/xrbroker/xrbrokerd/internal/handle"
	"github.com/xrbroker/xrbrokerd/internal/wire"
)

const (
	SwapchainCapacity = 32
	SemaphoreCapacity = 8
	SpaceCapacity     = 128
)

// ClientID is the monotonic identity assigned to a connected client.
type ClientID uint32

// CapabilityFlags are client-declared capability bits, forwarded verbatim
// to compositor_begin_session.
type CapabilityFlags uint32

// Swapchain is a handle-table entry for a client swapchain (spec §3): the
// native compositor object plus the client-visible metadata mirrored into
// shared memory.
type Swapchain struct {
	Native     collab.SwapchainHandle
	Width      uint32
	Height     uint32
	Format     int64
	ImageCount uint32
	Active     bool
}

// Semaphore is a handle-table entry for a client compositor semaphore.
type Semaphore struct {
	Native collab.SemaphoreHandle
}

// Space is a handle-table entry for a client space. IsSemantic marks one of
// the six pre-populated slots 0..5 (spec §4.B): cascading session destroy
// must skip these.
type Space struct {
	Native     collab.SpaceHandle
	IsSemantic bool
}

// Session is the logical XR session a client holds; at most one per
// client (spec glossary).
type Session struct{}

// ClientState is one connected client's full record (spec §3).
type ClientState struct {
	ID           ClientID
	ProcessID    int32
	AppName      string
	Capabilities CapabilityFlags

	// mu guards the fields below that the arbiter reads/writes under its
	// own lock concurrently with this client's owning worker goroutine.
	// No handler ever blocks while holding mu (spec §5: "no handler holds
	// the arbiter mutex across a downstream blocking call" -- the same
	// discipline applies here since the arbiter takes this lock while
	// recomputing global state).
	mu sync.Mutex

	Session    *Session
	Compositor collab.Compositor

	IsOverlay      bool
	ZOrder         int32
	SessionVisible bool
	SessionFocused bool
	SessionActive  bool

	IOActive     bool
	RefSpaceUsed [wire.ReferenceSpaceTypeCount]bool

	// pendingFrameID tracks a begin_frame that has not yet reached
	// layer_sync/discard_frame, so a mid-frame disconnect (spec scenario
	// S6) knows to discard it during the cascade.
	pendingFrameID *uint64

	Swapchains *handle.Table[*Swapchain]
	Semaphores *handle.Table[*Semaphore]
	Spaces     *handle.Table[*Space]

	DeviceIOActive map[uint32]bool

	events []uint32
}

// Event type values pushed onto a client's event queue, drained by
// session_poll_events (spec §4.E.1).
const (
	EventVisibilityChanged uint32 = iota + 1
	EventFocusChanged
)

// New creates a freshly-connected client record with empty handle tables
// and IO enabled by default.
func New(id ClientID, processID int32, appName string, caps CapabilityFlags) *ClientState {
	return &ClientState{
		ID:             id,
		ProcessID:      processID,
		AppName:        appName,
		Capabilities:   caps,
		IOActive:       true,
		Swapchains:     handle.New[*Swapchain](SwapchainCapacity),
		Semaphores:     handle.New[*Semaphore](SemaphoreCapacity),
		Spaces:         handle.New[*Space](SpaceCapacity),
		DeviceIOActive: make(map[uint32]bool),
	}
}

// HasSession reports whether session_create has succeeded and
// session_destroy has not yet run (spec invariant 2).
func (c *ClientState) HasSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Session != nil
}

// HasCompositor reports whether a compositor exists for this client's
// session.
func (c *ClientState) HasCompositor() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Compositor != nil
}

// SetSession installs the session and compositor together, the way
// session_create always creates both (spec §4.E.1).
func (c *ClientState) SetSession(s *Session, comp collab.Compositor, isOverlay bool, zOrder int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Session = s
	c.Compositor = comp
	c.IsOverlay = isOverlay
	c.ZOrder = zOrder
}

// ClearSession drops the session and compositor references (cascading
// destroy already released the compositor itself).
func (c *ClientState) ClearSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Session = nil
	c.Compositor = nil
	c.SessionVisible = false
	c.SessionFocused = false
	c.SessionActive = false
	c.events = nil
}

// CompositorRef returns the current compositor (nil if none).
func (c *ClientState) CompositorRef() collab.Compositor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Compositor
}

// Policy is the snapshot of arbiter-relevant fields the arbiter reads.
type Policy struct {
	ID        ClientID
	IsOverlay bool
	ZOrder    int32
	Active    bool
	Visible   bool
	Focused   bool
}

// PolicySnapshot copies the fields the arbiter cares about.
func (c *ClientState) PolicySnapshot() Policy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Policy{
		ID:        c.ID,
		IsOverlay: c.IsOverlay,
		ZOrder:    c.ZOrder,
		Active:    c.SessionActive,
		Visible:   c.SessionVisible,
		Focused:   c.SessionFocused,
	}
}

// ApplyPolicy writes the arbiter's decision back onto the client record and
// queues the corresponding events for session_poll_events to drain.
func (c *ClientState) ApplyPolicy(visible, focused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if visible != c.SessionVisible {
		c.events = append(c.events, EventVisibilityChanged)
	}
	if focused != c.SessionFocused {
		c.events = append(c.events, EventFocusChanged)
	}
	c.SessionVisible = visible
	c.SessionFocused = focused
}

// PollEvent pops the oldest queued event, if any.
func (c *ClientState) PollEvent() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return 0, false
	}
	ev := c.events[0]
	c.events = c.events[1:]
	return ev, true
}

// MarkActive flips SessionActive true (first predict_frame after
// session_begin, spec §4.E.3).
func (c *ClientState) MarkActive() (wasActive bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wasActive = c.SessionActive
	c.SessionActive = true
	return wasActive
}

// MarkRefSpaceUsed marks refType in use; returns false if it was already
// marked (spec invariant 3, §4.E.2 space_mark_ref_space_in_use).
func (c *ClientState) MarkRefSpaceUsed(refType wire.ReferenceSpaceType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.RefSpaceUsed[refType] {
		return false
	}
	c.RefSpaceUsed[refType] = true
	return true
}

// UnmarkRefSpaceUsed clears refType; returns false if it was not marked.
func (c *ClientState) UnmarkRefSpaceUsed(refType wire.ReferenceSpaceType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.RefSpaceUsed[refType] {
		return false
	}
	c.RefSpaceUsed[refType] = false
	return true
}

// SetIOActive flips the client-wide input gate.
func (c *ClientState) SetIOActive(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.IOActive = active
}

// GetIOActive reads the client-wide input gate.
func (c *ClientState) GetIOActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.IOActive
}

// ToggleDeviceIO flips the per-device IO gate for deviceID and returns the
// new value.
func (c *ClientState) ToggleDeviceIO(deviceID uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	active, ok := c.DeviceIOActive[deviceID]
	if !ok {
		active = true
	}
	next := !active
	c.DeviceIOActive[deviceID] = next
	return next
}

// SetPendingFrame records that begin_frame has been accepted for frameID,
// or clears it (pass nil) once layer_sync or discard_frame has run.
func (c *ClientState) SetPendingFrame(frameID *uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingFrameID = frameID
}

// TakePendingFrame returns the in-flight frame ID, if any, and clears it.
func (c *ClientState) TakePendingFrame() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingFrameID == nil {
		return 0, false
	}
	id := *c.pendingFrameID
	c.pendingFrameID = nil
	return id, true
}

// DeviceIOActiveFor reports whether deviceID's per-device gate is active
// (defaults true, matching global IOActive's default).
func (c *ClientState) DeviceIOActiveFor(deviceID uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	active, ok := c.DeviceIOActive[deviceID]
	if !ok {
		return true
	}
	return active
}
