package noop

import (
	"context"
	"time"

	"github.com/xrbroker/xrbrokerd/internal/broker/collab"
)

// Device is a Device that reports a single always-active head-pose input
// at the origin and declines every tracking/output capability. It exists
// so the daemon binary and tests have something satisfying collab.Device
// to register before a platform-specific driver is wired in.
type Device struct {
	id   uint32
	name string
}

// NewDevice creates a Device with a single head_pose input.
func NewDevice(id uint32, name string) *Device {
	return &Device{id: id, name: name}
}

func (d *Device) ID() uint32   { return d.id }
func (d *Device) Name() string { return d.name }

func (d *Device) UpdateInputs(ctx context.Context) error { return nil }

func (d *Device) Inputs(ctx context.Context) ([]collab.DeviceInput, error) {
	return []collab.DeviceInput{
		{Name: collab.HeadPoseInputName, Active: true},
	}, nil
}

func (d *Device) GetTrackedPose(ctx context.Context, inputName string, at time.Time) (collab.Pose, bool, error) {
	return collab.Pose{}, false, nil
}

func (d *Device) GetViewPoses(ctx context.Context, viewCount uint32, at time.Time) ([]collab.Fov, []collab.Pose, error) {
	return nil, nil, nil
}

func (d *Device) GetHandTracking(ctx context.Context) ([]byte, error) { return nil, nil }
func (d *Device) GetFaceTracking(ctx context.Context) ([]byte, error) { return nil, nil }
func (d *Device) GetBodySkeleton(ctx context.Context) ([]byte, error) { return nil, nil }
func (d *Device) GetBodyJoints(ctx context.Context) ([]byte, error)   { return nil, nil }

func (d *Device) GetVisibilityMask(ctx context.Context, viewIndex uint32) ([]byte, bool, error) {
	return nil, false, nil
}

func (d *Device) ComputeDistortion(ctx context.Context, viewIndex uint32, u, v float32) (float32, float32, error) {
	return u, v, nil
}

func (d *Device) SetOutput(ctx context.Context, name string, value float32) error { return nil }

func (d *Device) IsFormFactorAvailable(ctx context.Context, formFactor uint32) (bool, error) {
	return false, nil
}
