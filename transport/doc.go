// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package transport implements the byte stream links used to talk to
// dive computers: serial ports, USB HID, Bluetooth LE GATT and
// Bluetooth Classic RFCOMM.
//
// Every backend feeds received bytes into a bounded FIFO from its own
// reader goroutine or notification callback. Read drains the FIFO until
// the requested number of bytes has arrived or the read timeout has
// elapsed, in which case the bytes collected so far are returned with
// an error matching dive.ErrTimeout.
package transport
