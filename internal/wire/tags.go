// Package wire defines the fixed-layout request/reply wire protocol (spec
// §6.1): a request is { tag uint32, body fixed-per-tag }, optionally
// followed by ancillary OS handles; a reply is { result int32, body
// fixed-per-tag }, optionally followed by variable-length trailing writes.
//
// All structs here are little-endian, naturally aligned, and encoded with
// encoding/binary the way dittofs's xdr package and go-ublk's uapi package
// both encode fixed kernel/wire structs -- no reflection-based JSON, no
// variable-length framing beyond the documented trailing writes.
package wire

// Tag is the flat enumeration of request tags (spec §6.1: "adding one
// requires both server and client").
type Tag uint32

const (
	TagInstanceGetShmFd Tag = iota + 1

	TagSessionCreate
	TagSessionBegin
	TagSessionEnd
	TagSessionDestroy
	TagSessionPollEvents

	TagSpaceCreateSemanticIDs
	TagSpaceCreateOffset
	TagSpaceCreatePose
	TagSpaceLocateSpace
	TagSpaceLocateDevice
	TagSpaceDestroy
	TagSpaceMarkRefSpaceInUse
	TagSpaceUnmarkRefSpaceInUse
	TagSpaceRecenterLocalSpaces

	TagPredictFrame
	TagWaitWoke
	TagBeginFrame
	TagDiscardFrame
	TagLayerSync
	TagLayerSyncWithSemaphore

	TagSwapchainCreate
	TagSwapchainImport
	TagSwapchainAcquireImage
	TagSwapchainWaitImage
	TagSwapchainReleaseImage
	TagSwapchainDestroy

	TagDeviceUpdateInput
	TagDeviceGetTrackedPose
	TagDeviceGetViewPoses
	TagDeviceGetViewPosesStream
	TagDeviceGetVisibilityMask
	TagDeviceToggleIODevice
	TagDeviceGetHandTracking
	TagDeviceGetFaceTracking
	TagDeviceGetBodySkeleton
	TagDeviceGetBodyJoints
	TagDeviceComputeDistortion
	TagDeviceSetOutput
	TagDeviceIsFormFactorAvailable

	TagSystemGetClients
	TagSystemGetClientInfo
	TagSystemSetPrimaryClient
	TagSystemToggleIOClient
	TagSystemSetFocusedClient
)

// Names maps tags to their handler name, used for logging and metrics
// (spec §7 policy is keyed by operation name, not numeric tag).
var Names = map[Tag]string{
	TagInstanceGetShmFd:         "instance_get_shm_fd",
	TagSessionCreate:            "session_create",
	TagSessionBegin:             "session_begin",
	TagSessionEnd:               "session_end",
	TagSessionDestroy:           "session_destroy",
	TagSessionPollEvents:        "session_poll_events",
	TagSpaceCreateSemanticIDs:   "space_create_semantic_ids",
	TagSpaceCreateOffset:        "space_create_offset",
	TagSpaceCreatePose:          "space_create_pose",
	TagSpaceLocateSpace:         "space_locate_space",
	TagSpaceLocateDevice:        "space_locate_device",
	TagSpaceDestroy:             "space_destroy",
	TagSpaceMarkRefSpaceInUse:   "space_mark_ref_space_in_use",
	TagSpaceUnmarkRefSpaceInUse: "space_unmark_ref_space_in_use",
	TagSpaceRecenterLocalSpaces: "space_recenter_local_spaces",
	TagPredictFrame:             "predict_frame",
	TagWaitWoke:                 "wait_woke",
	TagBeginFrame:               "begin_frame",
	TagDiscardFrame:             "discard_frame",
	TagLayerSync:                "layer_sync",
	TagLayerSyncWithSemaphore:   "layer_sync_with_semaphore",
	TagSwapchainCreate:          "swapchain_create",
	TagSwapchainImport:          "swapchain_import",
	TagSwapchainAcquireImage:    "swapchain_acquire_image",
	TagSwapchainWaitImage:       "swapchain_wait_image",
	TagSwapchainReleaseImage:    "swapchain_release_image",
	TagSwapchainDestroy:         "swapchain_destroy",
	TagDeviceUpdateInput:        "device_update_input",
	TagDeviceGetTrackedPose:     "device_get_tracked_pose",
	TagDeviceGetViewPoses:       "device_get_view_poses",
	TagDeviceGetViewPosesStream: "device_get_view_poses_stream",
	TagDeviceGetVisibilityMask:  "device_get_visibility_mask",
	TagDeviceToggleIODevice:     "device_toggle_io_device",
	TagDeviceGetHandTracking:    "device_get_hand_tracking",
	TagDeviceGetFaceTracking:    "device_get_face_tracking",
	TagDeviceGetBodySkeleton:    "device_get_body_skeleton",
	TagDeviceGetBodyJoints:      "device_get_body_joints",
	TagDeviceComputeDistortion:  "device_compute_distortion",
	TagDeviceSetOutput:          "device_set_output",
	TagDeviceIsFormFactorAvailable: "device_is_form_factor_available",
	TagSystemGetClients:         "system_get_clients",
	TagSystemGetClientInfo:      "system_get_client_info",
	TagSystemSetPrimaryClient:   "system_set_primary_client",
	TagSystemToggleIOClient:     "system_toggle_io_client",
	TagSystemSetFocusedClient:   "system_set_focused_client",
}

func (t Tag) String() string {
	if name, ok := Names[t]; ok {
		return name
	}
	return "unknown_tag"
}
