package protocol

import "errors"

var (
	ErrPayloadTooLong = errors.New("payload exceeds maximum message length")
	ErrSelfAddressed  = errors.New("destination is the local address")
	ErrNoRoute        = errors.New("no valid route to destination")
	ErrDiscoveryBusy  = errors.New("route discovery already in progress")
	ErrTimeout        = errors.New("operation timed out")
)
