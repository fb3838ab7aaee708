package mwreactor

import "github.com/pingcap/errors"

var (
	ErrServerClosed = errors.Normalize(
		"server is closed",
		errors.RFCCodeText("MW:ErrServerClosed"),
	)
	ErrServerAlreadyRunning = errors.Normalize(
		"server is already running",
		errors.RFCCodeText("MW:ErrServerAlreadyRunning"),
	)
	ErrInvalidWorkerCount = errors.Normalize(
		"invalid worker count %d",
		errors.RFCCodeText("MW:ErrInvalidWorkerCount"),
	)
	ErrInvalidListenAddr = errors.Normalize(
		"invalid listen address %q",
		errors.RFCCodeText("MW:ErrInvalidListenAddr"),
	)
	ErrListenFailed = errors.Normalize(
		"listen on %s failed",
		errors.RFCCodeText("MW:ErrListenFailed"),
	)
	// ErrHandleDetached is reported when a handle no longer owns a descriptor
	ErrHandleDetached = errors.Normalize(
		"handle is detached or closed",
		errors.RFCCodeText("MW:ErrHandleDetached"),
	)
	ErrFamilyMismatch = errors.Normalize(
		"address family mismatch, handle %d, socket %d",
		errors.RFCCodeText("MW:ErrFamilyMismatch"),
	)
)
