package handlers

import (
	"context"
	"time"

	"github.com/xrbroker/xrbrokerd/internal/broker/collab"
	"github.com/xrbroker/xrbrokerd/internal/broker/dispatch"
	"github.com/xrbroker/xrbrokerd/internal/broker/session"
	"github.com/xrbroker/xrbrokerd/internal/channel"
	"github.com/xrbroker/xrbrokerd/internal/resultcode"
	"github.com/xrbroker/xrbrokerd/internal/wire"
)

func (b *Broker) registerSwapchainHandlers(d *dispatch.Dispatcher) {
	d.Register(wire.TagSwapchainCreate, dispatch.Entry{Name: "swapchain_create", InHandles: 0, Handler: b.swapchainCreate})
	d.Register(wire.TagSwapchainImport, dispatch.Entry{Name: "swapchain_import", InHandles: -1, Handler: b.swapchainImport})
	d.Register(wire.TagSwapchainAcquireImage, dispatch.Entry{Name: "swapchain_acquire_image", InHandles: 0, Handler: b.swapchainAcquireImage})
	d.Register(wire.TagSwapchainWaitImage, dispatch.Entry{Name: "swapchain_wait_image", InHandles: 0, Handler: b.swapchainWaitImage})
	d.Register(wire.TagSwapchainReleaseImage, dispatch.Entry{Name: "swapchain_release_image", InHandles: 0, Handler: b.swapchainReleaseImage})
	d.Register(wire.TagSwapchainDestroy, dispatch.Entry{Name: "swapchain_destroy", InHandles: 0, Handler: b.swapchainDestroy})
}

// swapchainCreate implements spec §4.E.4 and scenario S1: the compositor
// allocates the swapchain's images and hands back one OS handle per image.
func (b *Broker) swapchainCreate(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	comp, err := b.requireCompositor("swapchain_create", client)
	if err != nil {
		return nil, nil, err
	}
	var req wire.SwapchainCreateRequest
	if err := wire.Decode(body, &req); err != nil {
		return nil, nil, resultcode.Failure("swapchain_create", err.Error())
	}

	result, err := comp.CreateSwapchain(ctx, collab.SwapchainCreateInfo{
		Width: req.Width, Height: req.Height, Format: req.Format,
		SampleCount: req.SampleCount, ImageCount: req.ImageCount, UsageFlags: req.UsageFlags,
	})
	if err != nil {
		return nil, nil, resultcode.Forward("swapchain_create", err)
	}

	id, err := client.Swapchains.Allocate("swapchain_create", &session.Swapchain{
		Native: result.Swapchain, Width: req.Width, Height: req.Height, Format: req.Format,
		ImageCount: uint32(len(result.ImageHandles)), Active: true,
	})
	if err != nil {
		_ = result.Swapchain.Destroy(ctx)
		return nil, nil, err
	}
	if b.Metrics != nil {
		inUse := 0
		client.Swapchains.Each(func(uint32, *session.Swapchain) { inUse++ })
		b.Metrics.HandleTableOccupancy("swapchain", inUse, client.Swapchains.Capacity())
	}

	out, err := wire.Encode(wire.SwapchainCreateReply{
		SwapchainID:            id,
		ImageCount:             uint32(len(result.ImageHandles)),
		AllocationSize:         result.AllocationSize,
		UseDedicatedAllocation: boolToUint32(result.UseDedicatedAllocation),
	})
	if err != nil {
		return nil, nil, resultcode.Failure("swapchain_create", err.Error())
	}

	outHandles := make([]channel.Handle, len(result.ImageHandles))
	for i, fd := range result.ImageHandles {
		outHandles[i] = channel.Handle{FD: fd}
	}
	return out, outHandles, nil
}

// swapchainImport registers a client-allocated swapchain (one ancillary
// handle per image, variable count validated against the request body
// itself rather than the dispatcher's fixed InHandles check).
func (b *Broker) swapchainImport(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	comp, err := b.requireCompositor("swapchain_import", client)
	if err != nil {
		channel.CloseAll(inHandles)
		return nil, nil, err
	}
	var req wire.SwapchainImportRequest
	if err := wire.Decode(body, &req); err != nil {
		channel.CloseAll(inHandles)
		return nil, nil, resultcode.Failure("swapchain_import", err.Error())
	}
	if uint32(len(inHandles)) != req.ImageCount {
		channel.CloseAll(inHandles)
		return nil, nil, resultcode.Failure("swapchain_import", "handle count does not match image_count")
	}

	fds := make([]int, len(inHandles))
	for i, h := range inHandles {
		fds[i] = h.FD
	}

	result, err := comp.ImportSwapchain(ctx, collab.SwapchainCreateInfo{
		Width: req.Width, Height: req.Height, Format: req.Format, ImageCount: req.ImageCount,
	}, fds, nil)
	if err != nil {
		return nil, nil, resultcode.Forward("swapchain_import", err)
	}

	id, err := client.Swapchains.Allocate("swapchain_import", &session.Swapchain{
		Native: result.Swapchain, Width: req.Width, Height: req.Height, Format: req.Format,
		ImageCount: req.ImageCount, Active: true,
	})
	if err != nil {
		_ = result.Swapchain.Destroy(ctx)
		return nil, nil, err
	}

	out, err := wire.Encode(wire.SwapchainImportReply{SwapchainID: id})
	if err != nil {
		return nil, nil, resultcode.Failure("swapchain_import", err.Error())
	}
	return out, nil, nil
}

func (b *Broker) swapchainAcquireImage(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	if !client.HasSession() {
		return nil, nil, resultcode.NotCreated("swapchain_acquire_image")
	}
	var req wire.SwapchainAcquireImageRequest
	if err := wire.Decode(body, &req); err != nil {
		return nil, nil, resultcode.Failure("swapchain_acquire_image", err.Error())
	}
	sc, err := client.Swapchains.Get("swapchain_acquire_image", req.SwapchainID)
	if err != nil {
		return nil, nil, err
	}
	idx, err := sc.Native.AcquireImage(ctx)
	if err != nil {
		return nil, nil, resultcode.Forward("swapchain_acquire_image", err)
	}
	out, err := wire.Encode(wire.SwapchainAcquireImageReply{ImageIndex: idx})
	if err != nil {
		return nil, nil, resultcode.Failure("swapchain_acquire_image", err.Error())
	}
	return out, nil, nil
}

func (b *Broker) swapchainWaitImage(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	if !client.HasSession() {
		return nil, nil, resultcode.NotCreated("swapchain_wait_image")
	}
	var req wire.SwapchainWaitImageRequest
	if err := wire.Decode(body, &req); err != nil {
		return nil, nil, resultcode.Failure("swapchain_wait_image", err.Error())
	}
	sc, err := client.Swapchains.Get("swapchain_wait_image", req.SwapchainID)
	if err != nil {
		return nil, nil, err
	}
	if err := sc.Native.WaitImage(ctx, time.Duration(req.TimeoutNs)); err != nil {
		return nil, nil, resultcode.Forward("swapchain_wait_image", err)
	}
	return nil, nil, nil
}

func (b *Broker) swapchainReleaseImage(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	if !client.HasSession() {
		return nil, nil, resultcode.NotCreated("swapchain_release_image")
	}
	var req wire.SwapchainReleaseImageRequest
	if err := wire.Decode(body, &req); err != nil {
		return nil, nil, resultcode.Failure("swapchain_release_image", err.Error())
	}
	sc, err := client.Swapchains.Get("swapchain_release_image", req.SwapchainID)
	if err != nil {
		return nil, nil, err
	}
	// The wire protocol mirrors OpenXR's xrReleaseSwapchainImage: no image
	// index travels on the wire, the compositor releases whichever image it
	// last handed out via AcquireImage.
	if err := sc.Native.ReleaseImage(ctx, 0); err != nil {
		return nil, nil, resultcode.Forward("swapchain_release_image", err)
	}
	return nil, nil, nil
}

func (b *Broker) swapchainDestroy(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) ([]byte, []channel.Handle, error) {
	if !client.HasSession() {
		return nil, nil, resultcode.NotCreated("swapchain_destroy")
	}
	var req wire.SwapchainDestroyRequest
	if err := wire.Decode(body, &req); err != nil {
		return nil, nil, resultcode.Failure("swapchain_destroy", err.Error())
	}
	sc, err := client.Swapchains.Get("swapchain_destroy", req.SwapchainID)
	if err != nil {
		return nil, nil, err
	}
	if err := sc.Native.Destroy(ctx); err != nil {
		return nil, nil, resultcode.Forward("swapchain_destroy", err)
	}
	client.Swapchains.Release(req.SwapchainID)
	return nil, nil, nil
}

func boolToUint32(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}
