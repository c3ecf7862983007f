// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/wyvernp/pelagic-sub001/dive"
)

// Params holds the per-family link settings used by NewDialer.
type Params struct {
	// Kinds is the set of transports the protocol can use.
	Kinds Kind

	// Line is the serial line configuration.
	Line dive.LineConfig

	// Report is the HID report format and VID and PID are the
	// USB IDs used when a "usb" address does not name any.
	Report   ReportFormat
	VID, PID uint16

	// Framing is the BLE packet framing.
	Framing Framing

	// Logger receives transport diagnostics.
	Logger zerolog.Logger
}

// NewDialer returns a dive.Dialer that parses an address and returns
// the matching unopened transport.
func NewDialer(p Params) dive.Dialer {
	return func(ctx context.Context, address string) (dive.Transport, error) {
		if err := dive.CheckContext(ctx); err != nil {
			return nil, err
		}
		a, err := ParseAddress(address)
		if err != nil {
			return nil, err
		}
		if p.Kinds != 0 && p.Kinds&a.Kind == 0 {
			return nil, dive.Errorf(dive.KindUnsupported, "dial", "%s transport not supported, want %s", a.Kind, p.Kinds)
		}
		switch a.Kind {
		case Serial:
			return NewSerialPort(a.Path, p.Line, p.Logger), nil
		case USBHID:
			vid, pid := a.VID, a.PID
			if vid == 0 && pid == 0 {
				vid, pid = p.VID, p.PID
			}
			if vid == 0 && pid == 0 {
				return nil, dive.Errorf(dive.KindNoDevice, "dial", "no usb ids for %q", address)
			}
			return NewHID(vid, pid, p.Report, p.Logger), nil
		case BLE:
			return NewBLE(a.MAC, p.Framing, p.Logger), nil
		case Bluetooth:
			return NewRFCOMM(a.MAC, a.Channel, p.Logger), nil
		}
		return nil, dive.Errorf(dive.KindUnsupported, "dial", "unknown transport for %q", address)
	}
}
