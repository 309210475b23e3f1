package mainloop

import (
	"context"

	"github.com/xrbroker/xrbrokerd/internal/broker/dispatch"
	"github.com/xrbroker/xrbrokerd/internal/broker/session"
	"github.com/xrbroker/xrbrokerd/internal/channel"
	"github.com/xrbroker/xrbrokerd/internal/logger"
	"github.com/xrbroker/xrbrokerd/internal/wire"
)

// RunClientLoop runs one client's strictly-sequential request/reply loop
// (spec §5 "within a single client's worker thread, request handling is
// strictly sequential") until Recv fails, at which point the caller tears
// the client down.
func RunClientLoop(ctx context.Context, ch channel.Channel, client *session.ClientState, d *dispatch.Dispatcher) {
	for {
		msg, inHandles, err := ch.Recv(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn(ctx, "channel recv failed, ending client", "error", err)
			}
			return
		}

		if len(msg) < wireRequestHeaderSize {
			logger.Error(ctx, "truncated request header")
			channel.CloseAll(inHandles)
			return
		}

		var header wire.RequestHeader
		if err := wire.Decode(msg[:wireRequestHeaderSize], &header); err != nil {
			logger.Error(ctx, "malformed request header", "error", err)
			channel.CloseAll(inHandles)
			return
		}

		body := msg[wireRequestHeaderSize:]
		if uint32(len(body)) < header.BodyLen {
			logger.Error(ctx, "truncated request body")
			channel.CloseAll(inHandles)
			return
		}
		body = body[:header.BodyLen]

		replyBody, outHandles, result := d.Dispatch(ctx, client, header.Tag, body, inHandles)

		replyHeader, err := wire.Encode(wire.ReplyHeader{
			Result:     int32(result),
			OutHandles: uint32(len(outHandles)),
			BodyLen:    uint32(len(replyBody)),
		})
		if err != nil {
			logger.Error(ctx, "failed to encode reply header", "error", err)
			channel.CloseAll(outHandles)
			return
		}

		reply := append(replyHeader, replyBody...)
		if err := ch.Send(reply, outHandles); err != nil {
			logger.Warn(ctx, "channel send failed, ending client", "error", err)
			channel.CloseAll(outHandles)
			return
		}
	}
}

var wireRequestHeaderSize = wire.Size(wire.RequestHeader{})
