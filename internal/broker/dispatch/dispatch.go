// Package dispatch implements the request dispatcher (spec §4.D,
// component D): a table keyed by wire tag, sequential per client, no
// re-entry.
package dispatch

import (
	"context"
	"fmt"

	"github.com/xrbroker/xrbrokerd/internal/broker/session"
	"github.com/xrbroker/xrbrokerd/internal/channel"
	"github.com/xrbroker/xrbrokerd/internal/logger"
	"github.com/xrbroker/xrbrokerd/internal/metrics"
	"github.com/xrbroker/xrbrokerd/internal/resultcode"
	"github.com/xrbroker/xrbrokerd/internal/wire"
)

// HandlerFunc decodes the request body itself (the specific shape is
// per-tag) and returns the encoded reply body plus any out-handles.
type HandlerFunc func(ctx context.Context, client *session.ClientState, body []byte, inHandles []channel.Handle) (replyBody []byte, outHandles []channel.Handle, err error)

// Entry describes one registered tag: its handler plus the expected
// ancillary handle counts, used to validate incoming requests (spec §4.D:
// "the tag also encodes the expected (in_size, out_size, in_handle_count,
// out_handle_count)"). A negative count means "variable, validated by the
// handler itself" (used by layer_sync's variable sync-handle count).
type Entry struct {
	Name      string
	Handler   HandlerFunc
	InHandles int
}

// Dispatcher is the single-entry-point table (spec §4.D), built once at
// startup and read-only thereafter so concurrent client goroutines can
// share it without locking.
type Dispatcher struct {
	entries map[wire.Tag]Entry
	metrics metrics.BrokerMetrics
}

// New creates an empty dispatcher; callers Register every supported tag
// before serving any client.
func New(m metrics.BrokerMetrics) *Dispatcher {
	return &Dispatcher{entries: make(map[wire.Tag]Entry), metrics: m}
}

// Register installs the handler for tag. Panics on duplicate registration,
// a startup-time programmer error, never a runtime condition.
func (d *Dispatcher) Register(tag wire.Tag, entry Entry) {
	if _, exists := d.entries[tag]; exists {
		panic(fmt.Sprintf("dispatch: duplicate registration for tag %v", tag))
	}
	d.entries[tag] = entry
}

// Dispatch validates tag and ancillary handle count, then invokes the
// registered handler (spec §4.D steps 1-4). It is called from the owning
// client's single worker goroutine and never re-entered for that client.
func (d *Dispatcher) Dispatch(ctx context.Context, client *session.ClientState, tag wire.Tag, body []byte, inHandles []channel.Handle) (replyBody []byte, outHandles []channel.Handle, result resultcode.Code) {
	entry, ok := d.entries[tag]
	if !ok {
		logger.Error(ctx, "unknown request tag", "tag", uint32(tag))
		closeAll(inHandles)
		return nil, nil, resultcode.IPCFailure
	}

	ctx = withTagContext(ctx, entry.Name)

	if entry.InHandles >= 0 && len(inHandles) != entry.InHandles {
		logger.Error(ctx, "handle count mismatch", "expected", entry.InHandles, "got", len(inHandles))
		closeAll(inHandles)
		return nil, nil, resultcode.IPCFailure
	}

	if d.metrics != nil {
		d.metrics.RequestStarted(entry.Name)
	}

	replyBody, outHandles, err := entry.Handler(ctx, client, body, inHandles)
	code := resultcode.CodeOf(err)

	// Logging is mutually exclusive per code (spec §7): preconditions are
	// silent, the one known-benign downstream code logs as a warning,
	// everything else logs as an error. Never both for the same failure.
	switch {
	case err == nil:
	case resultcode.IsPrecondition(code):
	case code == resultcode.SwapchainFlagValidButUnsupported:
		logger.Warn(ctx, "handler returned unsupported-but-valid flag", "op", entry.Name)
	default:
		logger.Error(ctx, "handler failed", "op", entry.Name, "error", err)
	}

	if d.metrics != nil {
		d.metrics.RequestFinished(entry.Name, code.String())
	}

	return replyBody, outHandles, code
}

func withTagContext(ctx context.Context, name string) context.Context {
	lc := logger.FromContext(ctx)
	if lc == nil {
		return ctx
	}
	return logger.WithContext(ctx, lc.WithTag(name))
}

func closeAll(handles []channel.Handle) {
	channel.CloseAll(handles)
}
