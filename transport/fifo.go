// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/wyvernp/pelagic-sub001/dive"
)

const (
	// DefaultFIFOSize is the receive buffer size of a transport.
	DefaultFIFOSize = 64 << 10

	// pollInterval is the interval at which Read checks the FIFO.
	pollInterval = 10 * time.Millisecond

	// DefaultTimeout is the read timeout of a new transport.
	DefaultTimeout = 3 * time.Second
)

// fifo is the receive side shared by all backends. Producers call push
// and fail; the transport user calls Read, Poll and reset.
type fifo struct {
	buf *ringbuffer.RingBuffer

	mu      sync.Mutex
	err     error
	dropped int
	timeout time.Duration
}

func newFIFO(size int) *fifo {
	if size <= 0 {
		size = DefaultFIFOSize
	}
	return &fifo{buf: ringbuffer.New(size), timeout: DefaultTimeout}
}

// push appends p to the FIFO. Bytes that do not fit are dropped and
// counted.
func (f *fifo) push(p []byte) {
	if len(p) == 0 {
		return
	}
	n, _ := f.buf.Write(p)
	if n < len(p) {
		f.mu.Lock()
		f.dropped += len(p) - n
		f.mu.Unlock()
	}
}

// fail records a terminal error from the producer. Buffered bytes
// remain readable.
func (f *fifo) fail(err error) {
	f.mu.Lock()
	if f.err == nil {
		f.err = err
	}
	f.mu.Unlock()
}

func (f *fifo) failure() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// overflow returns and clears the number of dropped bytes.
func (f *fifo) overflow() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.dropped
	f.dropped = 0
	return n
}

// reset discards all buffered bytes and clears any producer error.
func (f *fifo) reset() {
	f.buf.Reset()
	f.mu.Lock()
	f.err = nil
	f.dropped = 0
	f.mu.Unlock()
}

// Read reads len(p) bytes, waiting up to the read timeout. A negative
// timeout waits indefinitely and a zero timeout returns immediately.
func (f *fifo) Read(p []byte) (int, error) {
	f.mu.Lock()
	timeout := f.timeout
	f.mu.Unlock()
	deadline := time.Now().Add(timeout)
	var n int
	for {
		if !f.buf.IsEmpty() {
			m, _ := f.buf.Read(p[n:])
			n += m
		}
		if n == len(p) {
			return n, nil
		}
		if err := f.failure(); err != nil && f.buf.IsEmpty() {
			return n, dive.Errorf(dive.KindIO, "read", "%w", err)
		}
		if timeout >= 0 && !time.Now().Before(deadline) {
			return n, dive.Errorf(dive.KindTimeout, "read", "received %d of %d bytes", n, len(p))
		}
		time.Sleep(pollInterval)
	}
}

// Poll waits until at least one byte is buffered.
func (f *fifo) Poll(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for f.buf.IsEmpty() {
		if err := f.failure(); err != nil {
			return dive.Errorf(dive.KindIO, "poll", "%w", err)
		}
		if timeout >= 0 && !time.Now().Before(deadline) {
			return dive.Errorf(dive.KindTimeout, "poll", "no data after %v", timeout)
		}
		time.Sleep(pollInterval)
	}
	return nil
}

// SetTimeout sets the Read timeout.
func (f *fifo) SetTimeout(d time.Duration) error {
	f.mu.Lock()
	f.timeout = d
	f.mu.Unlock()
	return nil
}

// Available returns the number of buffered bytes.
func (f *fifo) Available() (int, error) {
	return f.buf.Length(), nil
}
