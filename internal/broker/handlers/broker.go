// Package handlers implements the broker's semantic core (spec §4.E): one
// handler per operation, grouped into files mirroring spec §4.E.1-6. Every
// handler is a method on *Broker so it can reach the arbiter, the
// shared-memory region, and the collaborator interfaces it needs.
package handlers

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/xrbroker/xrbrokerd/internal/broker/arbiter"
	"github.com/xrbroker/xrbrokerd/internal/broker/collab"
	"github.com/xrbroker/xrbrokerd/internal/broker/dispatch"
	"github.com/xrbroker/xrbrokerd/internal/broker/session"
	"github.com/xrbroker/xrbrokerd/internal/logger"
	"github.com/xrbroker/xrbrokerd/internal/metrics"
	"github.com/xrbroker/xrbrokerd/internal/shm"
)

// Broker is the process-wide object implementing every handler. It owns
// the client registry, the shared-memory region, and references to the
// external collaborators (spec §6.4).
type Broker struct {
	Arbiter  *arbiter.Arbiter
	Shm      *shm.Region
	Overseer collab.SpaceOverseer
	Syscomp  collab.SystemCompositor
	Metrics  metrics.BrokerMetrics

	// ShmBacking is the real OS-backed shared memory region duplicated out to
	// clients on instance_get_shm_fd (spec §6.1). Nil on platforms where no
	// POSIX-style backing is wired (internal/shm/posix.go is linux-only).
	ShmBacking interface{ Fd() int }

	// NewCompositor constructs a native compositor for a just-created
	// session; injected so tests can supply a fake.
	NewCompositor func(client *session.ClientState) collab.Compositor

	// Devices indexes the devices this broker exposes by wire device ID.
	Devices map[uint32]collab.Device

	mu          sync.Mutex
	clients     map[session.ClientID]*session.ClientState
	nextClientID uint32

	// deviceInputMu guards the lazily-assigned shared-memory input window
	// each device gets on its first device_update_input call.
	deviceInputMu   sync.Mutex
	deviceInputBase map[uint32]uint32
	nextInputIndex  uint32
}

// New creates a Broker; Arbiter must be constructed with this Broker as its
// Registry (broker.Clients satisfies arbiter.Registry).
func New(overseer collab.SpaceOverseer, syscomp collab.SystemCompositor, region *shm.Region, m metrics.BrokerMetrics) *Broker {
	return &Broker{
		Overseer:        overseer,
		Syscomp:         syscomp,
		Shm:             region,
		Metrics:         m,
		Devices:         make(map[uint32]collab.Device),
		clients:         make(map[session.ClientID]*session.ClientState),
		deviceInputBase: make(map[uint32]uint32),
	}
}

// deviceInputWindow returns the stable shared-memory input window
// [base, base+count) assigned to deviceID, assigning it on first use
// (spec §4.E.5 device_update_input's shared-memory write path).
func (b *Broker) deviceInputWindow(deviceID uint32, count int) uint32 {
	b.deviceInputMu.Lock()
	defer b.deviceInputMu.Unlock()
	if base, ok := b.deviceInputBase[deviceID]; ok {
		return base
	}
	base := b.nextInputIndex
	b.nextInputIndex += uint32(count)
	b.deviceInputBase[deviceID] = base
	return base
}

// Clients implements arbiter.Registry.
func (b *Broker) Clients() []*session.ClientState {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*session.ClientState, 0, len(b.clients))
	for _, c := range b.clients {
		out = append(out, c)
	}
	return out
}

// AddClient registers a newly-accepted client and returns its record (spec
// §3 "Client record: created on connect").
func (b *Broker) AddClient(processID int32, appName string, caps session.CapabilityFlags) *session.ClientState {
	b.mu.Lock()
	id := session.ClientID(atomic.AddUint32(&b.nextClientID, 1) - 1)
	client := session.New(id, processID, appName, caps)
	b.clients[id] = client
	b.mu.Unlock()
	if b.Metrics != nil {
		b.Metrics.ClientConnected()
	}
	return client
}

// RemoveClient tears down client's session (if any) via the same cascade as
// session_destroy, then drops it from the registry and recomputes the
// arbiter (spec §3 "destroyed on disconnect; the arbiter recomputes global
// state on both edges", and scenario S6).
func (b *Broker) RemoveClient(ctx context.Context, client *session.ClientState) {
	b.destroySessionCascade(ctx, client)

	b.mu.Lock()
	delete(b.clients, client.ID)
	b.mu.Unlock()

	b.Arbiter.Forget(client.ID)
	if b.Metrics != nil {
		b.Metrics.ClientDisconnected()
	}
	if err := b.Arbiter.Recompute(ctx); err != nil {
		logger.Warn(ctx, "arbiter recompute after disconnect failed", "error", err)
	}
}

// findClient looks up a connected client by ID under the registry lock.
func (b *Broker) findClient(id session.ClientID) (*session.ClientState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.clients[id]
	return c, ok
}

// FindClient is findClient's exported form, used by the admin API
// side-channel (internal/adminapi) which lives outside this package.
func (b *Broker) FindClient(id session.ClientID) (*session.ClientState, bool) {
	return b.findClient(id)
}

// RegisterHandlers installs every operation into d (spec §4.D: "a table
// keyed by request tag").
func (b *Broker) RegisterHandlers(d *dispatch.Dispatcher) {
	b.registerInstanceHandlers(d)
	b.registerSessionHandlers(d)
	b.registerSpaceHandlers(d)
	b.registerFrameHandlers(d)
	b.registerSwapchainHandlers(d)
	b.registerDeviceHandlers(d)
	b.registerSystemHandlers(d)
}
