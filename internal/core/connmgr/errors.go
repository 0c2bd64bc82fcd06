package connmgr

import "errors"

var (
	// ErrInvalidConfig is returned by New when a required collaborator
	// or a non-sensical timeout/limit was supplied.
	ErrInvalidConfig = errors.New("connmgr: invalid config")

	// ErrClosed is returned by operations invoked after Shutdown.
	ErrClosed = errors.New("connmgr: manager closed")
)
