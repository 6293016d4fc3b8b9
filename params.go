package aio

import (
	"context"
	"fmt"
	"time"

	"github.com/ehrlich-b/go-aio/internal/constants"
	"github.com/ehrlich-b/go-aio/internal/executor"
	"github.com/ehrlich-b/go-aio/internal/logging"
)

// Params contains parameters for creating a subsystem
type Params struct {
	// RingSize is the default ring size for CreateContext(0) (default: 256)
	RingSize uint32

	// Workers is the number of work queue workers started by Serve (default: 4)
	Workers int

	// PollInterval is how often Serve drains the context rings (default: 500us)
	PollInterval time.Duration

	// IdleBackoff is how long an idle worker or WaitCompletion sleeps (default: 200us)
	IdleBackoff time.Duration

	// CheckedRings makes every ring panic when a second producer or
	// consumer runs concurrently. For debugging.
	CheckedRings bool
}

// DefaultParams returns default subsystem parameters
func DefaultParams() Params {
	return Params{
		RingSize:     constants.DefaultRingSize,
		Workers:      constants.DefaultWorkers,
		PollInterval: constants.DefaultPollInterval,
		IdleBackoff:  constants.DefaultIdleBackoff,
	}
}

// Validate checks parameters for consistency
func (p Params) Validate() error {
	if p.RingSize > MaxRingSize {
		return NewError("VALIDATE", ErrCodeInvalidParameters,
			fmt.Sprintf("ring size %d exceeds %d", p.RingSize, MaxRingSize))
	}
	if p.Workers < 0 {
		return NewError("VALIDATE", ErrCodeInvalidParameters,
			fmt.Sprintf("negative worker count %d", p.Workers))
	}
	if p.PollInterval < 0 || p.IdleBackoff < 0 {
		return NewError("VALIDATE", ErrCodeInvalidParameters, "negative interval")
	}
	return nil
}

// withDefaults fills zero fields
func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.RingSize == 0 {
		p.RingSize = d.RingSize
	}
	if p.Workers == 0 {
		p.Workers = d.Workers
	}
	if p.PollInterval == 0 {
		p.PollInterval = d.PollInterval
	}
	if p.IdleBackoff == 0 {
		p.IdleBackoff = d.IdleBackoff
	}
	return p
}

// clampRingSize maps a requested context ring size to the one used
func clampRingSize(size, def uint32) uint32 {
	if size == 0 {
		return def
	}
	if size > MaxRingSize {
		return MaxRingSize
	}
	return size
}

// Options contains additional options for subsystem creation
type Options struct {
	// Context bounds the subsystem's lifetime (if nil, uses context.Background())
	Context context.Context

	// Logger for lifecycle and failure messages (if nil, no logging)
	Logger *logging.Logger

	// Observer for metrics collection; the built-in Metrics always records
	Observer Observer

	// Backend performs the I/O. Required.
	Backend Backend

	// Async arms asynchronous operations other than timeouts. When nil
	// and Backend implements AsyncBackend, Backend is used; otherwise those
	// operations wait for Subsystem.Complete.
	Async AsyncBackend

	// Stats receives executor counters (if nil, a private instance is used)
	Stats *executor.Stats
}
