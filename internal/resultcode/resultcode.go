// Package resultcode defines the broker's wire-level result codes (spec
// §6.3) and a typed internal error carrying one, the way dittofs carries a
// StoreError{Code, Message, Path} and translates it at the protocol
// boundary.
package resultcode

import "fmt"

// Code is a wire-level result code. Negative values are failures; zero is
// success. Values are stable across protocol versions.
type Code int32

const (
	Success Code = 0

	IPCFailure                           Code = -1
	SessionNotCreated                    Code = -2
	SessionAlreadyCreated                Code = -3
	CompositorNotCreated                 Code = -4
	PoseNotActive                        Code = -5
	SwapchainFlagValidButUnsupported     Code = -6
	DeviceCreationFailed                 Code = -7
)

func (c Code) String() string {
	switch c {
	case Success:
		return "SUCCESS"
	case IPCFailure:
		return "IPC_FAILURE"
	case SessionNotCreated:
		return "SESSION_NOT_CREATED"
	case SessionAlreadyCreated:
		return "SESSION_ALREADY_CREATED"
	case CompositorNotCreated:
		return "COMPOSITOR_NOT_CREATED"
	case PoseNotActive:
		return "POSE_NOT_ACTIVE"
	case SwapchainFlagValidButUnsupported:
		return "SWAPCHAIN_FLAG_VALID_BUT_UNSUPPORTED"
	case DeviceCreationFailed:
		return "DEVICE_CREATION_FAILED"
	default:
		return fmt.Sprintf("CODE(%d)", int32(c))
	}
}

// BrokerError is the internal representation of a failed handler call. Op
// names the handler ("session_create", "space_destroy", ...); Detail is a
// human-readable explanation used only for logging, never sent on the wire.
type BrokerError struct {
	Code   Code
	Op     string
	Detail string
}

func (e *BrokerError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

// New wraps code into a BrokerError for op, with an optional detail message.
func New(op string, code Code, detail string) *BrokerError {
	return &BrokerError{Code: code, Op: op, Detail: detail}
}

func Failure(op, detail string) *BrokerError {
	return New(op, IPCFailure, detail)
}

func NotCreated(op string) *BrokerError {
	return New(op, SessionNotCreated, "")
}

func AlreadyCreated(op string) *BrokerError {
	return New(op, SessionAlreadyCreated, "")
}

func CompositorMissing(op string) *BrokerError {
	return New(op, CompositorNotCreated, "")
}

// Forward returns a downstream collaborator's error unchanged when it
// already carries a specific wire code, or wraps it as a generic op
// failure otherwise (spec §7: "downstream errors from compositor/device:
// forward the code unchanged").
func Forward(op string, err error) error {
	if err == nil {
		return nil
	}
	if be, ok := err.(*BrokerError); ok {
		return be
	}
	return Failure(op, err.Error())
}

// CodeOf extracts the wire Code from any error, defaulting unknown errors to
// IPCFailure per spec §7 ("argument-range errors ... return IPC_FAILURE").
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	var be *BrokerError
	if asBrokerError(err, &be) {
		return be.Code
	}
	return IPCFailure
}

func asBrokerError(err error, target **BrokerError) bool {
	be, ok := err.(*BrokerError)
	if ok {
		*target = be
	}
	return ok
}

// IsPrecondition reports whether code is one of the "common during normal
// client lifecycle" preconditions that spec §7 says must not be logged.
func IsPrecondition(code Code) bool {
	switch code {
	case SessionNotCreated, SessionAlreadyCreated, CompositorNotCreated:
		return true
	default:
		return false
	}
}
