package voice

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionAbsent means the call's session left the registry, usually
	// because the call already hung up.
	ErrSessionAbsent = errors.New("session absent")
	// ErrNoPipeline means no pipeline is running for the call.
	ErrNoPipeline = errors.New("no pipeline for call")
	// ErrPipelineExists rejects a second media stream for a call that
	// already has one.
	ErrPipelineExists = errors.New("pipeline already running for call")
)

// TransportError is a read, write or dial failure on a duplex connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError is an inbound frame that could not be parsed.
type DecodeError struct {
	Frame string
	Err   error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode %s frame: %v", e.Frame, e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }
