package model

import "errors"

var (
	// ErrConnectorClosed is returned by Send once the connector has been closed.
	ErrConnectorClosed = errors.New("connector closed")

	// ErrSendTimeout is returned by Send when the outbound buffer stayed
	// saturated for the whole send window (slow consumer).
	ErrSendTimeout = errors.New("connector send timeout")
)
