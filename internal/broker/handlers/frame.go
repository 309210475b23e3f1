package handlers

import (
	"context"

	"github.com/xrbroker/xrbrokerd/internal/broker/collab"
	"github.com/xrbroker/xrbrokerd/internal/broker/dispatch"
	"github.com/xrbroker/xrbrokerd/internal/broker/session"
	"github.com/xrbroker/xrbrokerd/internal/channel"
	"github.com/xrbroker/xrbrokerd/internal/logger"
	"github.com/xrbroker/xrbrokerd/internal/resultcode"
	"github.com/xrbroker/xrbrokerd/internal/shm"
	"github.com/xrbroker/xrbrokerd/internal/wire"
)

func (b *Broker) registerFrameHandlers(d *dispatch.Dispatcher) {
	d.Register(wire.TagPredictFrame, dispatch.Entry{Name: "predict_frame", InHandles: 0, Handler: b.predictFrame})
	d.Register(wire.TagWaitWoke, dispatch.Entry{Name: "wait_woke", InHandles: 0, Handler: b.waitWoke})
	d.Register(wire.TagBeginFrame, dispatch.Entry{Name: "begin_frame", InHandles: 0, Handler: b.beginFrame})
	d.Register(wire.TagDiscardFrame, dispatch.Entry{Name: "discard_frame", InHandles: 0, Handler: b.discardFrame})
	d.Register(wire.TagLayerSync, dispatch.Entry{Name: "layer_sync", InHandles: -1, Handler: b.layerSync})
	d.Register(wire.TagLayerSyncWithSemaphore, dispatch.Entry{Name: "layer_sync_with_semaphore", InHandles: 0, Handler: b.layerSyncWithSemaphore})
}

func (b *Broker) requireCompositor(op string, client *session.ClientState) (collab.Compositor, error) {
	if !client.HasSession() {
		return nil, resultcode.NotCreated(op)
	}
	comp := client.CompositorRef()
	if comp == nil {
		return nil, resultcode.CompositorMissing(op)
	}
	return comp, nil
}

// predictFrame implements spec §4.E.3: on the first call after
// session_begin the client is activated, which triggers an arbiter
// recompute (spec §4.F "first predict_frame after session_begin").
func (b *Broker) predictFrame(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	comp, err := b.requireCompositor("predict_frame", client)
	if err != nil {
		return nil, nil, err
	}

	frameID, displayTime, displayPeriod, err := comp.PredictFrame(ctx)
	if err != nil {
		return nil, nil, resultcode.Forward("predict_frame", err)
	}

	if wasActive := client.MarkActive(); !wasActive {
		if err := b.Arbiter.Activate(ctx, client.ID); err != nil {
			return nil, nil, resultcode.Failure("predict_frame", err.Error())
		}
	}

	out, err := wire.Encode(wire.PredictFrameReply{
		FrameID:                frameID,
		PredictedDisplayTime:   displayTime,
		PredictedDisplayPeriod: displayPeriod,
	})
	if err != nil {
		return nil, nil, resultcode.Failure("predict_frame", err.Error())
	}
	return out, nil, nil
}

func (b *Broker) waitWoke(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	comp, err := b.requireCompositor("wait_woke", client)
	if err != nil {
		return nil, nil, err
	}
	var req wire.WaitWokeRequest
	if err := wire.Decode(body, &req); err != nil {
		return nil, nil, resultcode.Failure("wait_woke", err.Error())
	}
	if err := comp.WaitWoke(ctx, req.FrameID); err != nil {
		return nil, nil, resultcode.Forward("wait_woke", err)
	}
	return nil, nil, nil
}

func (b *Broker) beginFrame(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	comp, err := b.requireCompositor("begin_frame", client)
	if err != nil {
		return nil, nil, err
	}
	var req wire.BeginFrameRequest
	if err := wire.Decode(body, &req); err != nil {
		return nil, nil, resultcode.Failure("begin_frame", err.Error())
	}
	if err := comp.BeginFrame(ctx, req.FrameID); err != nil {
		return nil, nil, resultcode.Forward("begin_frame", err)
	}
	frameID := req.FrameID
	client.SetPendingFrame(&frameID)
	return nil, nil, nil
}

func (b *Broker) discardFrame(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	comp, err := b.requireCompositor("discard_frame", client)
	if err != nil {
		return nil, nil, err
	}
	var req wire.DiscardFrameRequest
	if err := wire.Decode(body, &req); err != nil {
		return nil, nil, resultcode.Failure("discard_frame", err.Error())
	}
	if err := comp.DiscardFrame(ctx, req.FrameID); err != nil {
		return nil, nil, resultcode.Forward("discard_frame", err)
	}
	client.SetPendingFrame(nil)
	return nil, nil, nil
}

// layerSync implements spec §4.E.3 and scenario S1: snapshot the client's
// shared-memory slot, resolve every layer's device and swapchain handles,
// submit them to the compositor in one begin/submit*/commit cycle, commit
// with the first ancillary sync handle the client sent (any extra handles
// are closed unused), and advance the rotating slot cursor.
func (b *Broker) layerSync(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	if len(inHandles) == 0 {
		return nil, nil, resultcode.Failure("layer_sync", "missing sync handle")
	}
	channel.CloseAll(inHandles[1:])
	inHandles = inHandles[:1]

	comp, err := b.requireCompositor("layer_sync", client)
	if err != nil {
		channel.CloseAll(inHandles)
		return nil, nil, err
	}
	var req wire.LayerSyncRequest
	if err := wire.Decode(body, &req); err != nil {
		channel.CloseAll(inHandles)
		return nil, nil, resultcode.Failure("layer_sync", err.Error())
	}

	slot, ok := b.Shm.SnapshotSlot(req.SlotID)
	if !ok {
		channel.CloseAll(inHandles)
		return nil, nil, resultcode.Failure("layer_sync", "invalid slot id")
	}

	if err := b.submitLayers(ctx, client, comp, slot); err != nil {
		channel.CloseAll(inHandles)
		return nil, nil, err
	}

	syncFD := inHandles[0].FD
	if err := comp.LayerCommit(ctx, syncFD); err != nil {
		_ = channel.Close(inHandles[0])
		return nil, nil, resultcode.Forward("layer_sync", err)
	}
	_ = channel.Close(inHandles[0])

	client.SetPendingFrame(nil)
	free := b.Shm.AdvanceSlotIndex()
	if b.Metrics != nil {
		b.Metrics.SlotRotated()
	}

	out, err := wire.Encode(wire.LayerSyncReply{FreeSlotID: free})
	if err != nil {
		return nil, nil, resultcode.Failure("layer_sync", err.Error())
	}
	return out, nil, nil
}

// layerSyncWithSemaphore is layer_sync's timeline-semaphore variant (spec
// §4.E.3): no ancillary handle, the semaphore is already held in the
// client's handle table.
func (b *Broker) layerSyncWithSemaphore(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	comp, err := b.requireCompositor("layer_sync_with_semaphore", client)
	if err != nil {
		return nil, nil, err
	}
	var req wire.LayerSyncWithSemaphoreRequest
	if err := wire.Decode(body, &req); err != nil {
		return nil, nil, resultcode.Failure("layer_sync_with_semaphore", err.Error())
	}

	slot, ok := b.Shm.SnapshotSlot(req.SlotID)
	if !ok {
		return nil, nil, resultcode.Failure("layer_sync_with_semaphore", "invalid slot id")
	}
	if err := b.submitLayers(ctx, client, comp, slot); err != nil {
		return nil, nil, err
	}

	sem, err := client.Semaphores.Get("layer_sync_with_semaphore", req.SemaphoreID)
	if err != nil {
		return nil, nil, err
	}
	if err := comp.LayerCommitWithSemaphore(ctx, sem.Native, req.SemaphoreValue); err != nil {
		return nil, nil, resultcode.Forward("layer_sync_with_semaphore", err)
	}

	client.SetPendingFrame(nil)
	free := b.Shm.AdvanceSlotIndex()
	if b.Metrics != nil {
		b.Metrics.SlotRotated()
	}
	out, err := wire.Encode(wire.LayerSyncReply{FreeSlotID: free})
	if err != nil {
		return nil, nil, resultcode.Failure("layer_sync_with_semaphore", err.Error())
	}
	return out, nil, nil
}

// submitLayers resolves and submits every layer in slot (spec §4.E.3 step
// 3). Resolution failures -- an unknown device or swapchain ID -- are
// per-layer and best-effort: the bad layer is logged and skipped, and the
// frame still commits with whatever layers did resolve. A failure from the
// compositor itself (LayerBegin, SubmitLayer) aborts the whole frame, since
// at that point the native layer stack is in an unknown state.
func (b *Broker) submitLayers(ctx context.Context, client *session.ClientState, comp collab.Compositor, slot shm.LayerSlot) error {
	if err := comp.LayerBegin(ctx); err != nil {
		return resultcode.Forward("layer_sync", err)
	}
	for i := uint32(0); i < slot.LayerCount && i < shm.MaxLayers; i++ {
		entry := slot.Layers[i]
		dev, ok := b.Devices[entry.DeviceID]
		if !ok {
			logger.Warn(ctx, "skipping layer with unknown device", "device_id", entry.DeviceID, "layer_index", i)
			continue
		}
		swapchains := make([]collab.SwapchainHandle, 0, 2)
		resolved := true
		for _, scID := range entry.SwapchainIDs {
			if scID == 0 && i > 0 {
				continue
			}
			sc, err := client.Swapchains.Get("layer_sync", scID)
			if err != nil {
				logger.Warn(ctx, "skipping layer with unresolvable swapchain", "swapchain_id", scID, "layer_index", i, "error", err)
				resolved = false
				break
			}
			swapchains = append(swapchains, sc.Native)
		}
		if !resolved {
			continue
		}
		submission := collab.LayerSubmission{
			Type:         uint32(entry.Type),
			Device:       dev,
			SwapchainIDs: swapchains,
			Payload:      append([]byte(nil), entry.Payload[:]...),
		}
		if err := comp.SubmitLayer(ctx, submission); err != nil {
			return resultcode.Forward("layer_sync", err)
		}
	}
	return nil
}
