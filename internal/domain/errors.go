package domain

import "errors"

var (
	ErrTotalUnavailable = errors.New("donation total unavailable")
	ErrMalformedSample  = errors.New("malformed sample")
	ErrTotalDecreased   = errors.New("donation total decreased")
	ErrStateCorrupt     = errors.New("persisted state corrupt")
	ErrInvalidTrigger   = errors.New("invalid trigger")
	ErrMonitorStopped   = errors.New("monitor stopped")
)
