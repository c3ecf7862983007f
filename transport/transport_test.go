// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
	"go.bug.st/serial"

	"github.com/wyvernp/pelagic-sub001/dive"
)

func TestReportFormat(t *testing.T) {
	tests := []struct {
		name    string
		format  ReportFormat
		payload []byte
		want    [][]byte
	}{
		{
			name:    "with_id",
			format:  ReportFormat{Size: 6, ID: 0x3f, HasID: true},
			payload: []byte{1, 2, 3, 4, 5},
			want: [][]byte{
				{0x3f, 4, 1, 2, 3, 4},
				{0x3f, 1, 5, 0, 0, 0},
			},
		},
		{
			name:    "without_id",
			format:  ReportFormat{Size: 4},
			payload: []byte{1, 2},
			want: [][]byte{
				{2, 1, 2, 0},
			},
		},
		{
			name:    "empty",
			format:  ReportFormat{Size: 4},
			payload: nil,
			want: [][]byte{
				{0, 0, 0, 0},
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := test.format.Encode(test.payload)
			if !reflect.DeepEqual(got, test.want) {
				t.Errorf("unexpected reports:\ngot: %x\nwant:%x", got, test.want)
			}
			var stream []byte
			for _, r := range got {
				p, err := test.format.Decode(r)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				stream = append(stream, p...)
			}
			if !bytes.Equal(stream, test.payload) {
				t.Errorf("unexpected payload: got:%x want:%x", stream, test.payload)
			}
		})
	}
}

func TestReportDecodeErrors(t *testing.T) {
	f := ReportFormat{Size: 4, ID: 0x3f, HasID: true}
	for _, r := range [][]byte{
		{0x3f},
		{0x01, 1, 2, 3},
		{0x3f, 3, 2, 3},
	} {
		_, err := f.Decode(r)
		if !errors.Is(err, dive.ErrDataFormat) {
			t.Errorf("expected data format error for %x, got: %v", r, err)
		}
	}
}

func TestFraming(t *testing.T) {
	p := []byte{1, 2, 3, 4, 5, 6, 7}

	got := NoFraming.split(p, 3)
	want := [][]byte{{1, 2, 3}, {4, 5, 6}, {7}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("unexpected packets:\ngot: %x\nwant:%x", got, want)
	}

	got = CountIndexFraming.split(p, 5)
	want = [][]byte{{3, 0, 1, 2, 3}, {3, 1, 4, 5, 6}, {3, 2, 7}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("unexpected packets:\ngot: %x\nwant:%x", got, want)
	}
	var stream []byte
	for _, pkt := range got {
		b, err := CountIndexFraming.strip(pkt)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		stream = append(stream, b...)
	}
	if !bytes.Equal(stream, p) {
		t.Errorf("unexpected stream: got:%x want:%x", stream, p)
	}
	_, err := CountIndexFraming.strip([]byte{2, 2, 0})
	if !errors.Is(err, dive.ErrDataFormat) {
		t.Errorf("expected data format error, got: %v", err)
	}
}

func TestSerialMode(t *testing.T) {
	mode, err := serialMode(dive.LineConfig{Baud: 115200, Parity: dive.EvenParity})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := &serial.Mode{BaudRate: 115200, DataBits: 8, Parity: serial.EvenParity, StopBits: serial.OneStopBit}
	if !reflect.DeepEqual(mode, want) {
		t.Errorf("unexpected mode:\ngot: %+v\nwant:%+v", mode, want)
	}
	_, err = serialMode(dive.LineConfig{Baud: 9600, FlowControl: dive.HardwareFlowControl})
	if !errors.Is(err, dive.ErrUnsupported) {
		t.Errorf("expected unsupported error, got: %v", err)
	}
}

func TestLookup(t *testing.T) {
	p, ok := LookupUSB(0x2e6c, 0x3201)
	if !ok || p.Vendor != "Scubapro" || p.Kind != USBHID {
		t.Errorf("unexpected lookup: %+v %t", p, ok)
	}
	if _, ok := LookupUSB(0xdead, 0xbeef); ok {
		t.Error("unexpected match for unknown device")
	}

	tests := []struct {
		name    string
		vendor  string
		product string
	}{
		{name: "Petrel 3", vendor: "Shearwater", product: "Petrel"},
		{name: "Perdix 2", vendor: "Shearwater", product: "Perdix"},
		{name: "OSTC4-12345", vendor: "Heinrichs Weikamp", product: "OSTC 4"},
		{name: "OSTC+ 12345", vendor: "Heinrichs Weikamp", product: "OSTC 3"},
		{name: "EON Steel", vendor: "Suunto", product: "EON Steel"},
		{name: "G2 HUD", vendor: "Scubapro", product: "G2 HUD"},
		{name: "Mares Genius", vendor: "Mares", product: "Genius"},
		{name: "ER123456", vendor: "Oceanic", product: "Atom2 family"},
		{name: "FQ123456", vendor: "Aqualung", product: "i330R"},
		{name: "Polar H10"},
	}
	for _, test := range tests {
		vendor, product, ok := MatchBLEName(test.name)
		if ok != (test.vendor != "") || vendor != test.vendor || product != test.product {
			t.Errorf("unexpected match for %q: got:%q,%q,%t want:%q,%q", test.name, vendor, product, ok, test.vendor, test.product)
		}
	}
}

func TestDialer(t *testing.T) {
	dial := NewDialer(Params{
		Kinds:  Serial | USBHID,
		Report: ReportFormat{Size: 64, ID: 0x3f, HasID: true},
		VID:    0x1493, PID: 0x0030,
		Logger: zerolog.Nop(),
	})
	ctx := context.Background()

	tr, err := dial(ctx, "/dev/ttyUSB0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := tr.(*SerialPort); !ok {
		t.Errorf("unexpected transport type: %T", tr)
	}

	tr, err = dial(ctx, "usb")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h, ok := tr.(*HID)
	if !ok {
		t.Fatalf("unexpected transport type: %T", tr)
	}
	if h.vid != 0x1493 || h.pid != 0x0030 {
		t.Errorf("unexpected usb ids: %s:%s", h.vid, h.pid)
	}

	_, err = dial(ctx, "LE:00:11:22:33:44:55")
	if !errors.Is(err, dive.ErrUnsupported) {
		t.Errorf("expected unsupported error, got: %v", err)
	}
}
