package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRoundTrip covers spec §8 testable property 7 for a representative set
// of request and reply structs: encoding one and decoding it on the other
// side yields structurally identical fields.
func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		in   any
		out  any
	}{
		{
			"session_create",
			&SessionCreateRequest{IsOverlay: 1, ZOrder: 3, WantsCompositor: 1, CapabilityFlags: 0xABCD},
			&SessionCreateRequest{},
		},
		{
			"space_create_offset",
			&SpaceCreateOffsetRequest{ParentID: 7, Pose: Pose{OrientationW: 1, PositionY: 2.5}},
			&SpaceCreateOffsetRequest{},
		},
		{
			"layer_sync_reply",
			&LayerSyncReply{FreeSlotID: 2},
			&LayerSyncReply{},
		},
		{
			"swapchain_create_reply",
			&SwapchainCreateReply{SwapchainID: 4, ImageCount: 3, AllocationSize: 1 << 20, UseDedicatedAllocation: 1},
			&SwapchainCreateReply{},
		},
		{
			"device_get_view_poses_reply",
			&DeviceGetViewPosesReply{ViewCount: 2, Fovs: [IPCMaxRawViews]Fov{{AngleLeft: -1}}, Poses: [IPCMaxRawViews]Pose{{OrientationW: 1}}},
			&DeviceGetViewPosesReply{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := Encode(tc.in)
			require.NoError(t, err)

			require.NoError(t, Decode(encoded, tc.out))
			assert.Equal(t, tc.in, tc.out)
		})
	}
}

func TestRequestHeaderReplyHeaderRoundTrip(t *testing.T) {
	req := RequestHeader{Tag: TagSwapchainCreate, InHandles: 0, BodyLen: 24}
	encoded, err := Encode(&req)
	require.NoError(t, err)

	var decoded RequestHeader
	require.NoError(t, Decode(encoded, &decoded))
	assert.Equal(t, req, decoded)

	rep := ReplyHeader{Result: -1, OutHandles: 0, BodyLen: 0}
	encoded, err = Encode(&rep)
	require.NoError(t, err)

	var decodedReply ReplyHeader
	require.NoError(t, Decode(encoded, &decodedReply))
	assert.Equal(t, rep, decodedReply)
}
