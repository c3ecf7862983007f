// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package transport

import (
	"context"
	"net"

	"github.com/rs/zerolog"

	"github.com/wyvernp/pelagic-sub001/dive"
)

// RFCOMM is a Bluetooth Classic serial port profile transport. It is
// only available on Linux.
type RFCOMM struct {
	*fifo
}

var _ dive.Transport = (*RFCOMM)(nil)

// NewRFCOMM returns an RFCOMM transport that fails to open.
func NewRFCOMM(mac net.HardwareAddr, channel uint8, log zerolog.Logger) *RFCOMM {
	return &RFCOMM{fifo: newFIFO(1)}
}

func (r *RFCOMM) Open(context.Context) error {
	return dive.Errorf(dive.KindUnsupported, "open", "rfcomm is not available on this platform")
}

func (r *RFCOMM) Close() error { return nil }

func (r *RFCOMM) Write([]byte) (int, error) {
	return 0, dive.Errorf(dive.KindUnsupported, "write", "rfcomm is not available on this platform")
}

func (r *RFCOMM) Purge(dive.Direction) error { return nil }
