// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package transporttest provides an in-memory transport for testing
// protocol implementations against device emulators.
package transporttest

import (
	"context"
	"sync"
	"time"

	"github.com/wyvernp/pelagic-sub001/dive"
)

// Handler is a device emulator. It is called with the bytes of each
// Write and returns the bytes the device sends in response.
type Handler func(req []byte) []byte

// Fake is a scripted dive.Transport and dive.Line. Reads never block:
// when fewer bytes are pending than requested, Read returns what is
// available with a timeout error.
type Fake struct {
	Handler Handler

	mu      sync.Mutex
	open    bool
	opens   int
	pending []byte
	writes  [][]byte
	purges  int
	lines   []string
	config  dive.LineConfig
	timeout time.Duration

	// OpenErr is returned by Open when non-nil.
	OpenErr error
}

var (
	_ dive.Transport = (*Fake)(nil)
	_ dive.Line      = (*Fake)(nil)
)

// New returns a Fake driven by h.
func New(h Handler) *Fake {
	return &Fake{Handler: h}
}

// Dialer returns a dive.Dialer that always returns f.
func (f *Fake) Dialer() dive.Dialer {
	return func(ctx context.Context, address string) (dive.Transport, error) {
		return f, nil
	}
}

// Inject appends p to the bytes available to Read.
func (f *Fake) Inject(p []byte) {
	f.mu.Lock()
	f.pending = append(f.pending, p...)
	f.mu.Unlock()
}

func (f *Fake) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &dive.Error{Kind: dive.KindCancelled, Op: "open", Err: err}
	}
	if f.OpenErr != nil {
		return f.OpenErr
	}
	f.mu.Lock()
	f.open = true
	f.opens++
	f.pending = nil
	f.mu.Unlock()
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	f.open = false
	f.mu.Unlock()
	return nil
}

func (f *Fake) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return 0, dive.Errorf(dive.KindIO, "read", "closed")
	}
	n := copy(p, f.pending)
	f.pending = f.pending[n:]
	if n < len(p) {
		return n, dive.Errorf(dive.KindTimeout, "read", "received %d of %d bytes", n, len(p))
	}
	return n, nil
}

func (f *Fake) Write(p []byte) (int, error) {
	f.mu.Lock()
	if !f.open {
		f.mu.Unlock()
		return 0, dive.Errorf(dive.KindIO, "write", "closed")
	}
	f.writes = append(f.writes, append([]byte(nil), p...))
	h := f.Handler
	f.mu.Unlock()
	if h != nil {
		f.Inject(h(p))
	}
	return len(p), nil
}

func (f *Fake) Poll(time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return dive.Errorf(dive.KindTimeout, "poll", "no data")
	}
	return nil
}

func (f *Fake) Purge(dir dive.Direction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if dir&dive.Input != 0 {
		f.pending = nil
	}
	f.purges++
	return nil
}

func (f *Fake) SetTimeout(d time.Duration) error {
	f.mu.Lock()
	f.timeout = d
	f.mu.Unlock()
	return nil
}

func (f *Fake) Configure(cfg dive.LineConfig) error {
	f.mu.Lock()
	f.config = cfg
	f.lines = append(f.lines, "configure")
	f.mu.Unlock()
	return nil
}

func (f *Fake) SetDTR(on bool) error {
	f.record("dtr", on)
	return nil
}

func (f *Fake) SetRTS(on bool) error {
	f.record("rts", on)
	return nil
}

func (f *Fake) record(line string, on bool) {
	state := "low"
	if on {
		state = "high"
	}
	f.mu.Lock()
	f.lines = append(f.lines, line+" "+state)
	f.mu.Unlock()
}

func (f *Fake) Available() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending), nil
}

// Writes returns a copy of every Write made so far.
func (f *Fake) Writes() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.writes...)
}

// Lines returns the modem line and configuration calls made so far.
func (f *Fake) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

// Config returns the last line configuration.
func (f *Fake) Config() dive.LineConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.config
}

// Purges returns the number of Purge calls.
func (f *Fake) Purges() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.purges
}

// IsOpen returns whether the transport is open and the number of times
// it has been opened.
func (f *Fake) IsOpen() (open bool, opens int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open, f.opens
}
