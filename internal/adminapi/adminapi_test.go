package adminapi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xrbroker/xrbrokerd/internal/broker/arbiter"
	"github.com/xrbroker/xrbrokerd/internal/broker/collab"
	"github.com/xrbroker/xrbrokerd/internal/broker/handlers"
	"github.com/xrbroker/xrbrokerd/internal/shm"
)

type noopSyscomp struct{}

func (noopSyscomp) SetState(context.Context, uint32, bool, bool) error { return nil }
func (noopSyscomp) SetZOrder(context.Context, uint32, int32) error     { return nil }

type noopOverseer struct{}

func (noopOverseer) CreateOffsetSpace(context.Context, collab.SpaceHandle, collab.Pose) (collab.SpaceHandle, error) {
	return nil, nil
}
func (noopOverseer) CreatePoseSpace(context.Context, collab.Device, string) (collab.SpaceHandle, error) {
	return nil, nil
}
func (noopOverseer) LocateSpace(context.Context, collab.SpaceHandle, collab.SpaceHandle, time.Time) (collab.Pose, bool, error) {
	return collab.Pose{}, false, nil
}
func (noopOverseer) LocateDevice(context.Context, collab.Device, collab.SpaceHandle, time.Time) (collab.Pose, bool, error) {
	return collab.Pose{}, false, nil
}
func (noopOverseer) RefSpaceInc(uint32)                        {}
func (noopOverseer) RefSpaceDec(uint32)                        {}
func (noopOverseer) RecenterLocalSpaces(context.Context) error { return nil }
func (noopOverseer) Semantic(uint32) (collab.SpaceHandle, bool) { return nil, false }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	broker := handlers.New(noopOverseer{}, noopSyscomp{}, shm.NewRegion(), nil)
	ab := arbiter.New(broker, noopSyscomp{})
	broker.Arbiter = ab
	return &Server{Broker: broker, Arbiter: ab}
}

func TestGetClients_EmptyRegistry(t *testing.T) {
	s := newTestServer(t)
	list, err := s.GetClients(context.Background(), &emptypb.Empty{})
	require.NoError(t, err)
	require.Empty(t, list.Values)
}

func TestGetClients_ListsConnectedClient(t *testing.T) {
	s := newTestServer(t)
	client := s.Broker.AddClient(100, "test-app", 0)

	list, err := s.GetClients(context.Background(), &emptypb.Empty{})
	require.NoError(t, err)
	require.Len(t, list.Values, 1)
	require.Equal(t, float64(client.ID), list.Values[0].GetNumberValue())
}

func TestToggleIOClient_UnknownClientReturnsNotFound(t *testing.T) {
	s := newTestServer(t)
	_, err := s.ToggleIOClient(context.Background(), structpb.NewNumberValue(999))
	require.Error(t, err)
}

func TestToggleIOClient_FlipsGate(t *testing.T) {
	s := newTestServer(t)
	client := s.Broker.AddClient(100, "test-app", 0)
	require.True(t, client.GetIOActive())

	_, err := s.ToggleIOClient(context.Background(), structpb.NewNumberValue(float64(client.ID)))
	require.NoError(t, err)
	require.False(t, client.GetIOActive())
}
