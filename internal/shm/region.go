package shm

import (
	"sync"
	"sync/atomic"
)

// Region is the in-process simulation of the shared-memory region described
// by spec §3/§6.2. Device descriptors and the input array are server-owned
// (mutated only by the server, under devMu); layer slots are client-owned
// (written by client goroutines through WriteSlot, under that slot's own
// mutex) so every read the server performs copies the slot into a local
// value before acting on it, per spec §9's volatile-read discipline.
//
// currentSlotIndex is the rotating cursor (spec §4.E.3 step 6). It is an
// atomic advanced by a compare-and-swap loop in AdvanceSlotIndex, with no
// other lock involved, so any caller (metrics, tests) can sample it.
type Region struct {
	devMu   sync.RWMutex
	devices [MaxDevices]DeviceDescriptor
	inputs  [MaxInputs]InputSnapshot

	slots [MaxSlots]slotCell

	currentSlotIndex atomic.Uint32
}

// slotCell guards one LayerSlot with its own mutex so N clients writing
// distinct slots never contend with each other; a server snapshot waits
// only on a write to the same slot.
type slotCell struct {
	mu   sync.Mutex
	slot LayerSlot
}

// NewRegion allocates a zeroed region.
func NewRegion() *Region {
	return &Region{}
}

// SetDevice installs/updates the descriptor for deviceID (server-only
// write path, spec §4.E.5 device_update_input).
func (r *Region) SetDevice(deviceID uint32, desc DeviceDescriptor) {
	r.devMu.Lock()
	defer r.devMu.Unlock()
	if int(deviceID) >= MaxDevices {
		return
	}
	r.devices[deviceID] = desc
}

// Device returns a copy of the descriptor for deviceID.
func (r *Region) Device(deviceID uint32) (DeviceDescriptor, bool) {
	r.devMu.RLock()
	defer r.devMu.RUnlock()
	if int(deviceID) >= MaxDevices || !r.devices[deviceID].Valid {
		return DeviceDescriptor{}, false
	}
	return r.devices[deviceID], true
}

// WriteInputWindow copies snapshots into the device's input window
// (server-only write path).
func (r *Region) WriteInputWindow(deviceID uint32, snapshots []InputSnapshot) {
	r.devMu.Lock()
	defer r.devMu.Unlock()
	if int(deviceID) >= MaxDevices {
		return
	}
	desc := r.devices[deviceID]
	for i := 0; i < len(snapshots) && i < int(desc.InputCount); i++ {
		idx := desc.FirstInputIndex + uint32(i)
		if int(idx) < MaxInputs {
			r.inputs[idx] = snapshots[i]
		}
	}
}

// ReadInput returns a copy of one input snapshot at the given absolute
// index, for device_get_tracked_pose lookups.
func (r *Region) ReadInput(index uint32) (InputSnapshot, bool) {
	r.devMu.RLock()
	defer r.devMu.RUnlock()
	if int(index) >= MaxInputs {
		return InputSnapshot{}, false
	}
	return r.inputs[index], true
}

// SnapshotSlot copies slotID's layer metadata out of shared memory. The
// client may still be writing it concurrently; the copy is taken under the
// slot's own mutex so the snapshot is internally consistent even though its
// *content* may be stale relative to a client write in flight (spec §9).
func (r *Region) SnapshotSlot(slotID uint32) (LayerSlot, bool) {
	if int(slotID) >= MaxSlots {
		return LayerSlot{}, false
	}
	cell := &r.slots[slotID]
	cell.mu.Lock()
	defer cell.mu.Unlock()
	return cell.slot, true
}

// WriteSlot is the client-side write path: a client submitting a frame
// writes its layer plan into its slot.
func (r *Region) WriteSlot(slotID uint32, slot LayerSlot) bool {
	if int(slotID) >= MaxSlots {
		return false
	}
	cell := &r.slots[slotID]
	cell.mu.Lock()
	defer cell.mu.Unlock()
	cell.slot = slot
	return true
}

// CurrentSlotIndex returns the rotating cursor, read through its atomic.
func (r *Region) CurrentSlotIndex() uint32 {
	return r.currentSlotIndex.Load()
}

// AdvanceSlotIndex atomically advances the cursor mod MaxSlots and returns
// the new value (spec §4.E.3 step 6).
func (r *Region) AdvanceSlotIndex() uint32 {
	for {
		old := r.currentSlotIndex.Load()
		next := (old + 1) % MaxSlots
		if r.currentSlotIndex.CompareAndSwap(old, next) {
			return next
		}
	}
}
