// Package mainloop implements the platform accept loop (spec §4.G,
// component G): it accepts new client connections, allocates a
// threads[MAX_CLIENTS]-style slot, and spawns one worker goroutine per
// client that runs the dispatch loop until its channel fails.
package mainloop

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/xrbroker/xrbrokerd/internal/broker/dispatch"
	"github.com/xrbroker/xrbrokerd/internal/broker/handlers"
	"github.com/xrbroker/xrbrokerd/internal/channel"
	"github.com/xrbroker/xrbrokerd/internal/logger"
)

// MaxClients bounds the live-connection slot array (spec §4.G
// "threads[MAX_CLIENTS]").
const MaxClients = 256

// ClientState enumerates one slot's lifecycle (spec §4.G: "READY ->
// STARTING -> RUNNING -> STOPPING").
type ClientState int

const (
	StateReady ClientState = iota
	StateStarting
	StateRunning
	StateStopping
)

// Acceptor is the pluggable "how we accept a new fd" surface (spec §8
// REDESIGN FLAGS: "platform mainloop variants ... a pluggable surface").
// Accept blocks until a new client channel is available or ctx is done.
type Acceptor interface {
	Accept(ctx context.Context) (channel.Channel, int32, error)
	Close() error
}

// Server is the process-wide mainloop: one Acceptor, the dispatcher, and
// the broker core the dispatcher's handlers mutate.
type Server struct {
	Acceptor   Acceptor
	Dispatcher *dispatch.Dispatcher
	Broker     *handlers.Broker

	mu      sync.Mutex
	slots   [MaxClients]ClientState
	running bool
}

// New creates a Server. Call Run to start accepting.
func New(acceptor Acceptor, dispatcher *dispatch.Dispatcher, broker *handlers.Broker) *Server {
	return &Server{Acceptor: acceptor, Dispatcher: dispatcher, Broker: broker}
}

// Run accepts connections until ctx is cancelled, then joins every worker
// before returning (spec §4.G Shutdown: "joins all client threads, tears
// down shared memory" -- the shared-memory teardown itself is the caller's
// responsibility once Run returns).
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		return s.Acceptor.Close()
	})

	for {
		ch, processID, err := s.Acceptor.Accept(gctx)
		if err != nil {
			if gctx.Err() != nil {
				break
			}
			logger.Error(ctx, "accept failed", "error", err)
			continue
		}

		slot, ok := s.allocateSlot()
		if !ok {
			logger.Error(ctx, "no free client slot, rejecting connection")
			_ = ch.Close()
			continue
		}

		g.Go(func() error {
			s.runWorker(gctx, slot, ch, processID)
			return nil
		})
	}

	err := g.Wait()
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return err
}

func (s *Server) allocateSlot() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, st := range s.slots {
		if st == StateReady {
			s.slots[i] = StateStarting
			return i, true
		}
	}
	return 0, false
}

func (s *Server) setSlotState(slot int, st ClientState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[slot] = st
}

func (s *Server) runWorker(ctx context.Context, slot int, ch channel.Channel, processID int32) {
	client := s.Broker.AddClient(processID, "", 0)
	lc := logger.NewLogContext(uint32(client.ID), uuid.NewString())
	wctx := logger.WithContext(ctx, lc)

	s.setSlotState(slot, StateRunning)
	logger.Info(wctx, "client connected", "slot", slot, "pid", processID)

	RunClientLoop(wctx, ch, client, s.Dispatcher)

	s.setSlotState(slot, StateStopping)
	s.Broker.RemoveClient(wctx, client)
	_ = ch.Close()
	s.setSlotState(slot, StateReady)
	logger.Info(wctx, "client disconnected", "slot", slot)
}

// SlotState reports one slot's current lifecycle state.
func (s *Server) SlotState(slot int) ClientState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots[slot]
}
