// Package arbiter implements the process-wide client arbiter (spec §4.F,
// component F): the single mutex-guarded decision point for which client is
// primary / focused / visible.
package arbiter

import (
	"context"
	"sync"

	"github.com/xrbroker/xrbrokerd/internal/broker/collab"
	"github.com/xrbroker/xrbrokerd/internal/broker/session"
	"github.com/xrbroker/xrbrokerd/internal/logger"
)

// Registry gives the arbiter read access to every connected client's
// policy-relevant state without coupling it to the broker's client map
// type.
type Registry interface {
	Clients() []*session.ClientState
}

// Arbiter is a process-wide singleton (spec §4.F): one mutex, the
// activation order used to break z-order ties, and the open-question
// focus override (SPEC_FULL.md OQ, decision (b)).
type Arbiter struct {
	mu            sync.Mutex
	registry      Registry
	syscomp       collab.SystemCompositor
	activationSeq map[session.ClientID]uint64
	nextSeq       uint64
	focusOverride *session.ClientID
}

// New creates an Arbiter backed by registry and notifying syscomp of
// transitions.
func New(registry Registry, syscomp collab.SystemCompositor) *Arbiter {
	return &Arbiter{
		registry:      registry,
		syscomp:       syscomp,
		activationSeq: make(map[session.ClientID]uint64),
	}
}

type candidate struct {
	policy session.Policy
	seq    uint64
}

type notification struct {
	id      session.ClientID
	visible bool
	focused bool
	zOrder  int32
}

// Activate records id's activation order and recomputes, used by the first
// predict_frame after session_begin (spec §4.E.3).
func (a *Arbiter) Activate(ctx context.Context, id session.ClientID) error {
	a.mu.Lock()
	a.nextSeq++
	a.activationSeq[id] = a.nextSeq
	a.mu.Unlock()
	return a.Recompute(ctx)
}

// SetPrimaryClient forces id to be treated as active and re-runs the
// recompute (spec §4.E.6).
func (a *Arbiter) SetPrimaryClient(ctx context.Context, id session.ClientID) error {
	for _, c := range a.registry.Clients() {
		if c.ID == id {
			c.MarkActive()
		}
	}
	a.mu.Lock()
	a.nextSeq++
	a.activationSeq[id] = a.nextSeq
	a.mu.Unlock()
	return a.Recompute(ctx)
}

// SetFocusOverride implements SPEC_FULL.md's decision for
// system_set_focused_client: wire it to the arbiter as an explicit override
// rather than leaving it a no-op. Passing nil clears the override.
func (a *Arbiter) SetFocusOverride(ctx context.Context, id *session.ClientID) error {
	a.mu.Lock()
	a.focusOverride = id
	a.mu.Unlock()
	return a.Recompute(ctx)
}

// ClearFocusOverrideIfClient drops the override if it currently points at
// id, called when that client's session ends (SPEC_FULL.md decision note:
// "cleared the next time the overridden client's session ends").
func (a *Arbiter) ClearFocusOverrideIfClient(id session.ClientID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.focusOverride != nil && *a.focusOverride == id {
		a.focusOverride = nil
	}
}

// Forget drops id's activation bookkeeping on disconnect.
func (a *Arbiter) Forget(id session.ClientID) {
	a.mu.Lock()
	delete(a.activationSeq, id)
	a.mu.Unlock()
	a.ClearFocusOverrideIfClient(id)
}

// Recompute re-derives primary/focused/visible across every active client
// (spec §4.F) and pushes changes to the system compositor. It never holds
// the arbiter mutex across the outbound syscomp calls (spec §5).
func (a *Arbiter) Recompute(ctx context.Context) error {
	a.mu.Lock()

	clients := a.registry.Clients()
	var actives []candidate
	for _, c := range clients {
		p := c.PolicySnapshot()
		if p.Active {
			actives = append(actives, candidate{policy: p, seq: a.activationSeq[p.ID]})
		}
	}

	var primary *candidate
	for i := range actives {
		cand := &actives[i]
		if cand.policy.IsOverlay {
			continue
		}
		if primary == nil ||
			cand.policy.ZOrder > primary.policy.ZOrder ||
			(cand.policy.ZOrder == primary.policy.ZOrder && cand.seq > primary.seq) {
			primary = cand
		}
	}

	var focusOverlay *candidate
	for i := range actives {
		cand := &actives[i]
		if !cand.policy.IsOverlay {
			continue
		}
		if primary != nil && cand.policy.ZOrder <= primary.policy.ZOrder {
			continue
		}
		if focusOverlay == nil || cand.policy.ZOrder > focusOverlay.policy.ZOrder {
			focusOverlay = cand
		}
	}

	visible := make(map[session.ClientID]bool)
	var focusedID session.ClientID
	hasFocused := false

	if primary != nil {
		focusedID, hasFocused = primary.policy.ID, true
		for i := range actives {
			if actives[i].policy.ZOrder >= primary.policy.ZOrder {
				visible[actives[i].policy.ID] = true
			}
		}
	}
	if focusOverlay != nil {
		focusedID, hasFocused = focusOverlay.policy.ID, true
		visible[focusOverlay.policy.ID] = true
	}
	if a.focusOverride != nil {
		focusedID, hasFocused = *a.focusOverride, true
	}

	var notifications []notification
	for _, c := range clients {
		p := c.PolicySnapshot()
		newVisible := visible[p.ID]
		newFocused := hasFocused && focusedID == p.ID
		if newVisible != p.Visible || newFocused != p.Focused {
			c.ApplyPolicy(newVisible, newFocused)
			notifications = append(notifications, notification{id: p.ID, visible: newVisible, focused: newFocused, zOrder: p.ZOrder})
		}
	}

	a.mu.Unlock()

	for _, n := range notifications {
		if err := a.syscomp.SetState(ctx, uint32(n.id), n.visible, n.focused); err != nil {
			logger.Warn(ctx, "syscomp SetState failed", "client_id", n.id, "error", err)
		}
		if err := a.syscomp.SetZOrder(ctx, uint32(n.id), n.zOrder); err != nil {
			logger.Warn(ctx, "syscomp SetZOrder failed", "client_id", n.id, "error", err)
		}
	}
	return nil
}

// GetClients snapshots the list of running client IDs under the arbiter
// lock (spec §4.E.6 system_get_clients).
func (a *Arbiter) GetClients() []session.ClientID {
	a.mu.Lock()
	defer a.mu.Unlock()
	clients := a.registry.Clients()
	ids := make([]session.ClientID, 0, len(clients))
	for _, c := range clients {
		ids = append(ids, c.ID)
	}
	return ids
}
