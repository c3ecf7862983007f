// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/wyvernp/pelagic-sub001/dive"
)

// Kind is a set of transport kinds.
type Kind uint8

const (
	Serial Kind = 1 << iota
	USBHID
	BLE
	Bluetooth // Bluetooth Classic RFCOMM
)

func (k Kind) String() string {
	if k == 0 {
		return "none"
	}
	var names []string
	for _, t := range []struct {
		k    Kind
		name string
	}{
		{Serial, "serial"},
		{USBHID, "usbhid"},
		{BLE, "ble"},
		{Bluetooth, "bluetooth"},
	} {
		if k&t.k != 0 {
			names = append(names, t.name)
			k &^= t.k
		}
	}
	if k != 0 {
		names = append(names, fmt.Sprintf("%#x", uint8(k)))
	}
	return strings.Join(names, "|")
}

// DefaultRFCOMMChannel is the RFCOMM channel used when an address does
// not name one.
const DefaultRFCOMMChannel = 1

// SPPUUID is the Bluetooth Classic serial port profile service class.
const SPPUUID = "00001101-0000-1000-8000-00805f9b34fb"

// Address is a parsed device address.
type Address struct {
	Kind Kind

	// Name is the human readable device name from a
	// "Name (Address)" address, if present.
	Name string

	// Path is the serial device path.
	Path string

	// MAC is the Bluetooth device address in display order.
	MAC net.HardwareAddr
	// Channel is the RFCOMM channel.
	Channel uint8

	// VID and PID identify a USB HID device. Both are zero when
	// the address leaves the choice to the protocol.
	VID, PID uint16
}

func (a Address) String() string {
	var s string
	switch a.Kind {
	case Serial:
		s = a.Path
	case BLE:
		s = "LE:" + strings.ToUpper(a.MAC.String())
	case Bluetooth:
		s = "BT:" + strings.ToUpper(a.MAC.String())
		if a.Channel != DefaultRFCOMMChannel {
			s += "@" + strconv.Itoa(int(a.Channel))
		}
	case USBHID:
		s = fmt.Sprintf("usb:%04x:%04x", a.VID, a.PID)
	}
	if a.Name != "" {
		return fmt.Sprintf("%s (%s)", a.Name, s)
	}
	return s
}

// ParseAddress parses a device address. The accepted forms are
//
//	LE:AA:BB:CC:DD:EE:FF      Bluetooth LE
//	BT:AA:BB:CC:DD:EE:FF[@N]  Bluetooth Classic RFCOMM on channel N
//	usb:VVVV:PPPP             USB HID vendor and product ID in hex
//	usb                       USB HID with the protocol's default IDs
//	Name (Address)            any of the above with a display name
//	AA:BB:CC:DD:EE:FF         Bluetooth Classic RFCOMM
//
// Anything else is taken to be a serial device path.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Address{}, dive.Errorf(dive.KindNoDevice, "parse address", "empty address")
	}
	if strings.HasSuffix(s, ")") {
		if i := strings.LastIndex(s, " ("); i > 0 {
			a, err := ParseAddress(s[i+2 : len(s)-1])
			if err != nil {
				return Address{}, err
			}
			a.Name = strings.TrimSpace(s[:i])
			return a, nil
		}
	}
	prefix, rest, _ := strings.Cut(s, ":")
	switch strings.ToUpper(prefix) {
	case "LE":
		mac, err := parseMAC(rest)
		if err != nil {
			return Address{}, err
		}
		return Address{Kind: BLE, MAC: mac}, nil
	case "BT":
		return parseRFCOMM(rest)
	case "USB":
		if rest == "" {
			return Address{Kind: USBHID}, nil
		}
		v, p, ok := strings.Cut(rest, ":")
		if !ok {
			return Address{}, dive.Errorf(dive.KindNoDevice, "parse address", "invalid usb address %q", s)
		}
		vid, err := strconv.ParseUint(v, 16, 16)
		if err != nil {
			return Address{}, dive.Errorf(dive.KindNoDevice, "parse address", "invalid usb vendor id %q: %w", v, err)
		}
		pid, err := strconv.ParseUint(p, 16, 16)
		if err != nil {
			return Address{}, dive.Errorf(dive.KindNoDevice, "parse address", "invalid usb product id %q: %w", p, err)
		}
		return Address{Kind: USBHID, VID: uint16(vid), PID: uint16(pid)}, nil
	}
	if isMAC(s) {
		return parseRFCOMM(s)
	}
	return Address{Kind: Serial, Path: s}, nil
}

func parseRFCOMM(s string) (Address, error) {
	addr, ch, ok := strings.Cut(s, "@")
	channel := DefaultRFCOMMChannel
	if ok {
		c, err := strconv.ParseUint(ch, 10, 8)
		if err != nil || c < 1 || c > 30 {
			return Address{}, dive.Errorf(dive.KindNoDevice, "parse address", "invalid rfcomm channel %q", ch)
		}
		channel = int(c)
	}
	mac, err := parseMAC(addr)
	if err != nil {
		return Address{}, err
	}
	return Address{Kind: Bluetooth, MAC: mac, Channel: uint8(channel)}, nil
}

func parseMAC(s string) (net.HardwareAddr, error) {
	mac, err := net.ParseMAC(s)
	if err != nil || len(mac) != 6 {
		return nil, dive.Errorf(dive.KindNoDevice, "parse address", "invalid bluetooth address %q", s)
	}
	return mac, nil
}

func isMAC(s string) bool {
	if len(s) != len("AA:BB:CC:DD:EE:FF") {
		return false
	}
	_, err := parseMAC(s)
	return err == nil
}
