package domain

import "errors"

var (
	ErrInvalidRoomID      = errors.New("room id must not be empty")
	ErrMalformedSignal    = errors.New("malformed signal payload")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrSendQueueFull      = errors.New("send queue full")
	ErrBadInvocation      = errors.New("bad invocation")
	ErrRateLimited        = errors.New("rate limit exceeded")
)
