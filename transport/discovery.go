// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"go.bug.st/serial/enumerator"
	"tinygo.org/x/bluetooth"

	"github.com/wyvernp/pelagic-sub001/dive"
	"github.com/wyvernp/pelagic-sub001/internal/forkbeard"
)

// USBID is a USB vendor and product ID pair.
type USBID struct {
	VID, PID uint16
}

func (id USBID) String() string { return fmt.Sprintf("%04x:%04x", id.VID, id.PID) }

// Product is a device identification.
type Product struct {
	Vendor  string
	Product string
	Kind    Kind
}

// USBDevices maps the USB IDs of serial bridges and native HID dive
// computers to their identification.
var USBDevices = map[USBID]Product{
	{0x0403, 0x6001}: {"FTDI", "FT232R", Serial},
	{0x0403, 0x6010}: {"FTDI", "FT2232", Serial},
	{0x0403, 0x6011}: {"FTDI", "FT4232", Serial},
	{0x0403, 0x6014}: {"FTDI", "FT232H", Serial},
	{0x0403, 0x6015}: {"FTDI", "FT231X", Serial},
	{0x0403, 0xf460}: {"Oceanic", "Interface cable", Serial},
	{0x10c4, 0xea60}: {"Silicon Labs", "CP210x", Serial},
	{0x067b, 0x2303}: {"Prolific", "PL2303", Serial},
	{0x1a86, 0x7523}: {"WCH", "CH340", Serial},
	{0x1493, 0x0030}: {"Suunto", "EON Steel", USBHID},
	{0x1493, 0x0033}: {"Suunto", "EON Core", USBHID},
	{0x1493, 0x0035}: {"Suunto", "D5", USBHID},
	{0x2e6c, 0x3201}: {"Scubapro", "G2", USBHID},
	{0x2e6c, 0x3211}: {"Scubapro", "G2 Console", USBHID},
	{0x2e6c, 0x4201}: {"Scubapro", "G2 HUD", USBHID},
	{0xc251, 0x2006}: {"Scubapro", "Aladin Square", USBHID},
}

// LookupUSB returns the identification of the USB device with the given
// IDs.
func LookupUSB(vid, pid uint16) (Product, bool) {
	p, ok := USBDevices[USBID{vid, pid}]
	return p, ok
}

type namePattern struct {
	re      *regexp.Regexp
	vendor  string
	product string
}

// blePatterns is ordered from most to least specific.
var blePatterns = []namePattern{
	{regexp.MustCompile(`^Petrel`), "Shearwater", "Petrel"},
	{regexp.MustCompile(`^Perdix`), "Shearwater", "Perdix"},
	{regexp.MustCompile(`^Teric`), "Shearwater", "Teric"},
	{regexp.MustCompile(`^Peregrine`), "Shearwater", "Peregrine"},
	{regexp.MustCompile(`^OSTC\s?4`), "Heinrichs Weikamp", "OSTC 4"},
	{regexp.MustCompile(`^OSTC\s?(Sport|s#)`), "Heinrichs Weikamp", "OSTC Sport"},
	{regexp.MustCompile(`^OSTC`), "Heinrichs Weikamp", "OSTC 3"},
	{regexp.MustCompile(`^EON Steel`), "Suunto", "EON Steel"},
	{regexp.MustCompile(`^EON Core`), "Suunto", "EON Core"},
	{regexp.MustCompile(`^Suunto D5`), "Suunto", "D5"},
	{regexp.MustCompile(`^G2 ?HUD`), "Scubapro", "G2 HUD"},
	{regexp.MustCompile(`^G2`), "Scubapro", "G2"},
	{regexp.MustCompile(`^Aladin`), "Scubapro", "Aladin"},
	{regexp.MustCompile(`^Luna 2\.0`), "Scubapro", "Luna 2.0"},
	{regexp.MustCompile(`^Mares Genius`), "Mares", "Genius"},
	{regexp.MustCompile(`^Sirius`), "Mares", "Sirius"},
	{regexp.MustCompile(`^Quad Ci`), "Mares", "Quad Ci"},
	{regexp.MustCompile(`^Puck ?4`), "Mares", "Puck 4"},
	{regexp.MustCompile(`^FQ\d{6}$`), "Aqualung", "i330R"},
	{regexp.MustCompile(`^[A-Z]{2}\d{6}$`), "Oceanic", "Atom2 family"},
}

// MatchBLEName returns the identification of a device advertising name.
func MatchBLEName(name string) (vendor, product string, ok bool) {
	for _, p := range blePatterns {
		if p.re.MatchString(name) {
			return p.vendor, p.product, true
		}
	}
	return "", "", false
}

// Port is an enumerated serial port.
type Port struct {
	Name string
	USB  *USBID
	// Product is the identification from USBDevices when the
	// port is a known USB bridge.
	Product *Product
}

// ListSerialPorts returns the serial ports on the system, annotated with
// known USB identifications.
func ListSerialPorts() ([]Port, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, &dive.Error{Kind: dive.KindIO, Op: "list ports", Err: err}
	}
	ports := make([]Port, 0, len(details))
	for _, d := range details {
		p := Port{Name: d.Name}
		if d.IsUSB {
			vid, verr := strconv.ParseUint(d.VID, 16, 16)
			pid, perr := strconv.ParseUint(d.PID, 16, 16)
			if verr == nil && perr == nil {
				id := USBID{uint16(vid), uint16(pid)}
				p.USB = &id
				if prod, ok := USBDevices[id]; ok {
					p.Product = &prod
				}
			}
		}
		ports = append(ports, p)
	}
	return ports, nil
}

// Found is a recognised BLE advertisement.
type Found struct {
	Address string // suitable for ParseAddress
	Name    string
	RSSI    int16
	Vendor  string
	Product string
}

// ScanBLE scans for BLE dive computers until ctx is done or fn returns
// false. Devices are recognised by advertised name or serial service.
func ScanBLE(ctx context.Context, fn func(Found) bool) error {
	adapter := bluetooth.DefaultAdapter
	err := adapter.Enable()
	if err != nil {
		return &dive.Error{Kind: dive.KindIO, Op: "enable adapter", Err: err}
	}
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			adapter.StopScan()
		case <-stop:
		}
	}()
	defer close(stop)

	seen := make(map[string]bool)
	err = adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
		addr := r.Address.String()
		if seen[addr] {
			return
		}
		name := r.LocalName()
		vendor, product, ok := MatchBLEName(name)
		if !ok {
			for _, s := range forkbeard.SerialServices {
				if r.HasServiceUUID(s.UUID) {
					vendor, ok = s.Vendor, true
					break
				}
			}
		}
		if !ok {
			return
		}
		seen[addr] = true
		f := Found{
			Address: fmt.Sprintf("%s (LE:%s)", name, addr),
			Name:    name,
			RSSI:    r.RSSI,
			Vendor:  vendor,
			Product: product,
		}
		if name == "" {
			f.Address = "LE:" + addr
		}
		if !fn(f) {
			a.StopScan()
		}
	})
	if err != nil {
		return &dive.Error{Kind: dive.KindIO, Op: "scan", Err: err}
	}
	return dive.CheckContext(ctx)
}
