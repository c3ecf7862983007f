// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package battery reads the standard 180f Bluetooth battery service
// level of BLE dive computers.
package battery

import (
	"context"
	"fmt"
	"strings"

	"tinygo.org/x/bluetooth"

	"github.com/wyvernp/pelagic-sub001/dive"
	"github.com/wyvernp/pelagic-sub001/internal/forkbeard"
	"github.com/wyvernp/pelagic-sub001/transport"
)

const (
	ServiceID             = "180f"
	LevelCharacteristicID = "2a19"
)

var (
	batteryService             = must(bluetooth.ParseUUID(ServiceID))
	batteryLevelCharacteristic = must(bluetooth.ParseUUID(LevelCharacteristicID))
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

// Level returns the battery level percentage of a connected device.
func Level(dev *bluetooth.Device) (int, error) {
	// https://www.bluetooth.com/specifications/specs/battery-service/

	char, err := forkbeard.DeviceCharacteristic(dev, batteryService, batteryLevelCharacteristic)
	if err != nil {
		return 0, &dive.Error{Kind: dive.KindUnsupported, Op: "battery level", Err: err}
	}
	resp, err := forkbeard.ReadCharacteristic(char)
	if err != nil {
		return 0, &dive.Error{Kind: dive.KindIO, Op: "battery level", Err: err}
	}
	return parseLevel(resp)
}

func parseLevel(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, dive.Errorf(dive.KindDataFormat, "battery level", "empty characteristic value")
	}
	if b[0] > 100 {
		return 0, dive.Errorf(dive.KindDataFormat, "battery level", "level %d out of range", b[0])
	}
	return int(b[0]), nil
}

// Query connects to the BLE device at address, reads its battery level
// and disconnects. The address must be a BLE address accepted by
// transport.ParseAddress.
func Query(ctx context.Context, address string) (int, error) {
	a, err := transport.ParseAddress(address)
	if err != nil {
		return 0, err
	}
	if a.Kind != transport.BLE {
		return 0, dive.Errorf(dive.KindUnsupported, "battery level", "%s is not a BLE address", address)
	}
	if err := dive.CheckContext(ctx); err != nil {
		return 0, err
	}
	adapter := bluetooth.DefaultAdapter
	err = adapter.Enable()
	if err != nil {
		return 0, &dive.Error{Kind: dive.KindIO, Op: "enable adapter", Err: err}
	}
	var mac bluetooth.Address
	err = mac.UnmarshalText([]byte(strings.ToUpper(a.MAC.String())))
	if err != nil {
		return 0, &dive.Error{Kind: dive.KindNoDevice, Op: "battery level", Err: err}
	}
	dev, err := adapter.Connect(mac, bluetooth.ConnectionParams{})
	if err != nil {
		return 0, &dive.Error{Kind: dive.KindNoDevice, Op: "connect", Err: err}
	}
	defer dev.Disconnect()
	level, err := Level(&dev)
	if err != nil {
		return 0, fmt.Errorf("failed to read battery level of %s: %w", a.MAC, err)
	}
	return level, nil
}
