// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package forkbeard provides helper functions for interacting with
// Bluetooth devices.
package forkbeard

import (
	"errors"
	"fmt"
	"io"

	"tinygo.org/x/bluetooth"
)

// ErrNoSerialService is returned by SerialChannel when the device
// exposes none of the known serial services.
var ErrNoSerialService = errors.New("no serial service")

// Service is a vendor serial-over-GATT service.
type Service struct {
	UUID   bluetooth.UUID
	Vendor string
}

// SerialServices is the table of known vendor serial services.
var SerialServices = []Service{
	{must(bluetooth.ParseUUID("0000fefb-0000-1000-8000-00805f9b34fb")), "Heinrichs Weikamp"}, // Telit/Stollmann
	{must(bluetooth.ParseUUID("2456e1b9-26e2-8f83-e744-f34f01e9d701")), "Heinrichs Weikamp"}, // U-Blox
	{must(bluetooth.ParseUUID("544e326b-5b72-c6b0-1c46-41c1bc448118")), "Mares"},
	{must(bluetooth.ParseUUID("cb3c4555-d670-4670-bc20-b61dbc851e9a")), "Oceanic"},
	{must(bluetooth.ParseUUID("fdcdeaaa-295d-470e-bf15-04217b7aa0a0")), "Scubapro"},
	{must(bluetooth.ParseUUID("fe25c237-0ece-443c-b0aa-e02033e7029d")), "Shearwater"},
	{must(bluetooth.ParseUUID("98ae7120-e62e-11e3-badd-0002a5d5c51b")), "Suunto"},
}

// IgnoredServices are firmware upgrade and vendor housekeeping services
// that must never be used as the data channel.
var IgnoredServices = []bluetooth.UUID{
	must(bluetooth.ParseUUID("00001530-1212-efde-1523-785feabcd123")), // Nordic legacy DFU
	must(bluetooth.ParseUUID("9e5d1e47-5c13-43a0-8635-82ad38a1386f")), // Broadcom OTA
	must(bluetooth.ParseUUID("a86abc2d-d44c-442e-99f7-80059a873e36")), // Broadcom OTA data
	must(bluetooth.ParseUUID("0000fe59-0000-1000-8000-00805f9b34fb")), // Nordic buttonless DFU
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

// LookupService returns the serial service entry for id.
func LookupService(id bluetooth.UUID) (Service, bool) {
	for _, s := range SerialServices {
		if s.UUID == id {
			return s, true
		}
	}
	return Service{}, false
}

// Ignored returns whether id is a service that is never a data channel.
func Ignored(id bluetooth.UUID) bool {
	for _, u := range IgnoredServices {
		if u == id {
			return true
		}
	}
	return false
}

// Channel is a pair of characteristics carrying a serial byte stream.
// Rx delivers notifications from the device and Tx accepts writes.
// They may be the same characteristic.
type Channel struct {
	Service Service
	Rx, Tx  bluetooth.DeviceCharacteristic
}

// SerialChannel discovers the serial channel of dev. The receive
// characteristic is the first one in a known serial service that
// accepts notifications. The transmit characteristic is the first other
// writable characteristic of that service, or the receive characteristic
// when it is the only writable one. Notifications on Rx are delivered to
// notify.
func SerialChannel(dev *bluetooth.Device, notify func([]byte)) (Channel, error) {
	srv, err := dev.DiscoverServices(nil)
	if err != nil {
		return Channel{}, fmt.Errorf("failed to discover services: %w", err)
	}
	for _, s := range srv {
		if Ignored(s.UUID()) {
			continue
		}
		known, ok := LookupService(s.UUID())
		if !ok {
			continue
		}
		chars, err := s.DiscoverCharacteristics(nil)
		if err != nil {
			return Channel{}, fmt.Errorf("failed to discover characteristics of %s: %w", s.UUID(), err)
		}
		rx := -1
		for i, c := range chars {
			if c.EnableNotifications(notify) == nil {
				rx = i
				break
			}
		}
		if rx < 0 {
			continue
		}
		canWrite := make([]bool, len(chars))
		for i, c := range chars {
			canWrite[i] = writable(c)
		}
		tx, ok := transmitter(rx, canWrite)
		if !ok {
			continue
		}
		return Channel{Service: known, Rx: chars[rx], Tx: chars[tx]}, nil
	}
	return Channel{}, ErrNoSerialService
}

// transmitter returns the index of the transmit characteristic given
// the receive characteristic index and the writability of each
// characteristic.
func transmitter(rx int, canWrite []bool) (int, bool) {
	for i, w := range canWrite {
		if i != rx && w {
			return i, true
		}
	}
	if canWrite[rx] {
		return rx, true
	}
	return -1, false
}

// writable returns whether c accepts writes. Characteristics on
// platforms that do not report properties are taken to be writable.
func writable(c bluetooth.DeviceCharacteristic) bool {
	p, ok := any(c).(interface{ Properties() uint32 })
	if !ok {
		return true
	}
	return writableProperties(p.Properties())
}

func writableProperties(props uint32) bool {
	const write = bluetooth.CharacteristicWritePermission | bluetooth.CharacteristicWriteWithoutResponsePermission
	return props&uint32(write) != 0
}

// DeviceCharacteristic returns a specified bluetooth.DeviceCharacteristic
// from a Bluetooth service.
func DeviceCharacteristic(dev *bluetooth.Device, srvID, charID bluetooth.UUID) (bluetooth.DeviceCharacteristic, error) {
	srv, err := dev.DiscoverServices([]bluetooth.UUID{srvID})
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("failed to discover service %s: %w", srvID, err)
	}
	for _, s := range srv {
		char, err := s.DiscoverCharacteristics([]bluetooth.UUID{charID})
		if err != nil {
			return bluetooth.DeviceCharacteristic{}, fmt.Errorf("failed to discover characteristic %s: %w", charID, err)
		}
		if len(char) == 0 {
			break
		}
		return char[0], nil
	}
	return bluetooth.DeviceCharacteristic{}, fmt.Errorf("device characteristic not found")
}

// ReadCharacteristic reads data from a Bluetooth characteristic.
func ReadCharacteristic(char bluetooth.DeviceCharacteristic) ([]byte, error) {
	mtu, err := char.GetMTU()
	if err != nil {
		return nil, fmt.Errorf("failed to obtain mtu of characteristic: %w", err)
	}
	buf := make([]byte, mtu)
	n, err := char.Read(buf)
	if err != nil && err != io.EOF {
		return buf[:n], fmt.Errorf("failed to read response from characteristic: %w", err)
	}
	return buf[:n], nil
}
