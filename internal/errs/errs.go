package errs

import "errors"

// Domain sentinel errors mapped to HTTP codes in handlers.
var (
	ErrMissingCredentials = errors.New("missing bridge credentials")
	ErrInvalidCredentials = errors.New("invalid bridge credentials")
	ErrBridgeMismatch     = errors.New("bridge id mismatch")
	ErrForbidden          = errors.New("access to bridge denied")

	ErrMissingFields      = errors.New("missing required fields")
	ErrInvalidIdentifier  = errors.New("invalid bridge or camera id")
	ErrInvalidSegmentName = errors.New("invalid segment name")
	ErrInvalidFileName    = errors.New("invalid file name")
	ErrInvalidCommand     = errors.New("invalid command")

	ErrBridgeNotFound     = errors.New("bridge not found")
	ErrBridgeNotConnected = errors.New("bridge not connected")
	ErrMediaNotFound      = errors.New("media not found")
	ErrIncompleteConfig   = errors.New("bridge is missing configuration details")

	ErrSendBufferFull = errors.New("bridge send buffer full")
)
