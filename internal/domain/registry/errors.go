package registry

import "errors"

var (
	// ErrAlreadyRegistered signals a broken invariant: a connector may belong
	// to one room only. Existing membership is never overwritten.
	ErrAlreadyRegistered = errors.New("connector already registered")

	ErrRoomFull       = errors.New("room is full")
	ErrEmptyDiagramID = errors.New("empty diagram id")
	ErrHubClosed      = errors.New("hub is shut down")
)
