package main

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	aio "github.com/ehrlich-b/go-aio"
	"github.com/ehrlich-b/go-aio/backend"
	"github.com/ehrlich-b/go-aio/internal/logging"
	"github.com/ehrlich-b/go-aio/internal/uring"
)

// target is a backend plus one file and two buffers to aim operations at
type target struct {
	backend  aio.Backend
	fd       int32
	readBuf  uint64
	writeBuf uint64
	keep     [][]byte // buffers the kernel addresses directly
	cleanup  func()
}

func openTarget(name string, fileSize, blockSize int64, entries uint32, logger *logging.Logger) (*target, error) {
	switch name {
	case "memory":
		m := backend.NewMemory()
		t := &target{backend: m, fd: m.Open(int(fileSize)), cleanup: func() {}}
		t.readBuf, _ = m.Alloc(int(blockSize))
		var wbuf []byte
		t.writeBuf, wbuf = m.Alloc(int(blockSize))
		fillPattern(wbuf)
		return t, nil

	case "null":
		return &target{
			backend:  backend.NewNull(),
			fd:       3,
			readBuf:  0x1000,
			writeBuf: 0x1000 + uint64(blockSize),
			cleanup:  func() {},
		}, nil

	case "uring":
		return openUring(fileSize, blockSize, entries, logger)
	}
	return nil, fmt.Errorf("unknown backend %q", name)
}

func openUring(fileSize, blockSize int64, entries uint32, logger *logging.Logger) (*target, error) {
	fw, err := uring.New(uring.Config{Entries: entries, Logger: logger})
	if errors.Is(err, uring.ErrNotSupported) {
		return nil, fmt.Errorf("%w (try -backend memory)", err)
	}
	if err != nil {
		return nil, fmt.Errorf("create io_uring: %w", err)
	}

	f, err := os.CreateTemp("", "aio-bench-*")
	if err != nil {
		fw.Shutdown()
		return nil, err
	}
	cleanup := func() {
		f.Close()
		os.Remove(f.Name())
		fw.Shutdown()
	}
	if err := f.Truncate(fileSize); err != nil {
		cleanup()
		return nil, err
	}

	rbuf := make([]byte, blockSize)
	wbuf := make([]byte, blockSize)
	fillPattern(wbuf)
	return &target{
		backend:  fw,
		fd:       int32(f.Fd()),
		readBuf:  uint64(uintptr(unsafe.Pointer(&rbuf[0]))),
		writeBuf: uint64(uintptr(unsafe.Pointer(&wbuf[0]))),
		keep:     [][]byte{rbuf, wbuf},
		cleanup:  cleanup,
	}, nil
}

func fillPattern(buf []byte) {
	for i := range buf {
		buf[i] = byte(i)
	}
}
