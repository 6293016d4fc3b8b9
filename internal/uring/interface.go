// Package uring forwards submissions to the Linux kernel's io_uring. The
// resulting Backend plugs into the executor like any other backend, with
// addresses interpreted as pointers in this process.
package uring

import (
	"errors"

	"github.com/ehrlich-b/go-aio/internal/constants"
	"github.com/ehrlich-b/go-aio/internal/interfaces"
	"github.com/ehrlich-b/go-aio/internal/logging"
)

// ErrNotSupported is returned where the kernel ring is unavailable.
var ErrNotSupported = errors.New("uring: io_uring not supported on this platform")

// ErrClosed is returned for submissions after Shutdown.
var ErrClosed = errors.New("uring: backend closed")

// Config contains configuration for creating a kernel ring.
type Config struct {
	Entries uint32 // submission queue size
	Logger  *logging.Logger
}

// Forwarder is everything a kernel-backed backend provides.
type Forwarder interface {
	interfaces.VectorBackend
	interfaces.SocketBackend
	interfaces.AsyncBackend
	interfaces.Shutdowner
}

// New creates a kernel-backed backend.
func New(config Config) (Forwarder, error) {
	if config.Entries == 0 {
		config.Entries = constants.DefaultRingSize
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger.Debug("creating io_uring", "entries", config.Entries)

	b, err := newBackend(config.Entries, logger)
	if err != nil {
		logger.Debug("io_uring unavailable", "error", err)
		return nil, err
	}

	logger.Info("created io_uring", "entries", config.Entries)
	return b, nil
}
