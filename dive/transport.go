// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dive

import (
	"context"
	"time"
)

// Transport is a byte stream to a dive computer. A Transport is owned
// by exactly one Protocol for its lifetime.
type Transport interface {
	// Open opens the underlying link.
	Open(ctx context.Context) error
	// Close closes the link. Close is idempotent.
	Close() error

	// Read blocks until len(p) bytes have been read or the transport
	// timeout elapses. On timeout it returns the bytes collected so far
	// with an error of KindTimeout.
	Read(p []byte) (int, error)
	// Write writes p to the link.
	Write(p []byte) (int, error)
	// Poll blocks until data is available or timeout elapses, returning
	// an error of KindTimeout in the latter case.
	Poll(timeout time.Duration) error
	// Purge discards buffered data in the given direction.
	Purge(dir Direction) error
	// SetTimeout sets the Read timeout.
	SetTimeout(d time.Duration) error
}

// Line is implemented by serial-like transports.
type Line interface {
	Configure(cfg LineConfig) error
	SetDTR(on bool) error
	SetRTS(on bool) error
	// Available returns the number of bytes ready to be read.
	Available() (int, error)
}

// Dialer returns an unopened Transport for address.
type Dialer func(ctx context.Context, address string) (Transport, error)

// Direction selects the buffers discarded by Purge.
type Direction uint8

const (
	Input Direction = 1 << iota
	Output

	All = Input | Output
)

// Parity is a serial parity mode.
type Parity uint8

const (
	NoParity Parity = iota
	OddParity
	EvenParity
	MarkParity
	SpaceParity
)

// StopBits is a serial stop bit setting.
type StopBits uint8

const (
	OneStopBit StopBits = iota
	OnePointFiveStopBits
	TwoStopBits
)

// FlowControl is a serial flow control mode.
type FlowControl uint8

const (
	NoFlowControl FlowControl = iota
	HardwareFlowControl
	SoftwareFlowControl
)

// LineConfig is a serial line configuration.
type LineConfig struct {
	Baud        int
	DataBits    int
	Parity      Parity
	StopBits    StopBits
	FlowControl FlowControl
}
