//go:build !linux

package uring

import "github.com/ehrlich-b/go-aio/internal/logging"

func newBackend(entries uint32, logger *logging.Logger) (Forwarder, error) {
	return nil, ErrNotSupported
}
