package services

import "errors"

// Machine-readable reason keys carried by upload results.
const (
	ReasonOversized      = "oversized"
	ReasonInvalidType    = "invalid-type"
	ReasonSVGForbidden   = "svg-forbidden"
	ReasonStorageFailure = "storage-failure"
	ReasonAVInfected     = "av-infected"
	ReasonAVError        = "av-error"
	ReasonDedupePending  = "dedupe-pending"
	ReasonDedupeFailed   = "dedupe-failed"
)

var (
	// ErrDedupePending means the competing upload has not reached a terminal
	// state within the waiter's ceiling; the caller should retry later.
	ErrDedupePending = errors.New("dedupe: competing upload still pending")
	// ErrDedupeFailed means the competing upload ended in failed state.
	ErrDedupeFailed = errors.New("dedupe: competing upload failed")

	ErrGCInvalidMode         = errors.New("gc: invalid mode")
	ErrGCStorageListFailed   = errors.New("gc: storage listing failed")
	ErrGCStorageDeleteFailed = errors.New("gc: storage delete failed")
)
