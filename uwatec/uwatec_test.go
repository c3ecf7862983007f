// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uwatec

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/wyvernp/pelagic-sub001/dive"
	"github.com/wyvernp/pelagic-sub001/transport/transporttest"
)

var testProfile = []byte{
	0xf0, 150, 0, // depth 1.5 m
	0xf1, 195, 0, // 19.5 °C
	0xf2, 0, 0x20, 0x03, // tank 0 at 200 bar
	0x05,     // +10 cm
	0xbe,     // -0.5 bar
	0xdf,     // -0.1 °C
	0xe1,     // bookmark
	0xf4, 20, // NDL
	0xff, 2, 0xaa, 0xbb, // extended
	0x7e,    // -4 cm
	0xf6, 1, // gas switch
	0xf5, 3, 2, // deco stop
	0xf3, 90, // heartbeat
}

func header(ticks uint32, n int) []byte {
	h := make([]byte, HeaderSize)
	copy(h, Marker)
	binary.LittleEndian.PutUint32(h[headerLength:], uint32(HeaderSize+n))
	binary.LittleEndian.PutUint32(h[headerTimestamp:], ticks)
	h[headerModel] = 0x32
	binary.LittleEndian.PutUint16(h[headerTemp:], 200)
	return h
}

func testDive(ticks uint32) []byte {
	return append(header(ticks, len(testProfile)), testProfile...)
}

// emulator is a G2 holding dives in oldest first order.
type emulator struct {
	dives  map[uint32][]byte
	order  []uint32
	prefix []byte

	thresholds []uint32
}

func newEmulator(ticks ...uint32) *emulator {
	e := &emulator{dives: make(map[uint32][]byte)}
	for _, t := range ticks {
		e.dives[t] = testDive(t)
		e.order = append(e.order, t)
	}
	return e
}

func (e *emulator) blob(threshold uint32) []byte {
	b := append([]byte(nil), e.prefix...)
	for _, t := range e.order {
		if t > threshold {
			b = append(b, e.dives[t]...)
		}
	}
	if len(b) == len(e.prefix) {
		return nil
	}
	return b
}

func le32(v uint32) []byte { return binary.LittleEndian.AppendUint32(nil, v) }

func (e *emulator) handle(req []byte) []byte {
	switch req[0] {
	case CmdHandshake1:
		return []byte{handshakeOK}
	case CmdHandshake2:
		if !bytes.Equal(req[1:], magic) {
			return []byte{0x00}
		}
		return []byte{handshakeOK}
	case CmdModel:
		return []byte{0x32}
	case CmdSerial:
		return le32(12345)
	case CmdClock:
		return le32(0x1000)
	case CmdSize, CmdData:
		threshold := binary.LittleEndian.Uint32(req[1:])
		blob := e.blob(threshold)
		if req[0] == CmdSize {
			e.thresholds = append(e.thresholds, threshold)
			return le32(uint32(len(blob)))
		}
		return append(le32(uint32(len(blob)+4)), blob...)
	}
	return nil
}

func connect(t *testing.T, e *emulator, opts ...dive.Option) (*Device, *transporttest.Fake) {
	t.Helper()
	fake := transporttest.New(e.handle)
	opts = append([]dive.Option{
		dive.WithDialer(fake.Dialer()),
		dive.WithRetryDelay(time.Millisecond, time.Millisecond),
	}, opts...)
	d := New(opts...)
	err := d.Connect(context.Background(), "usb")
	if err != nil {
		t.Fatalf("unexpected error connecting: %v", err)
	}
	return d, fake
}

func TestConnect(t *testing.T) {
	d, fake := connect(t, newEmulator())
	defer d.Disconnect()

	info, ok := d.DeviceInfo()
	if !ok {
		t.Fatal("no device info after connect")
	}
	want := dive.DeviceInfo{Model: "G2", Serial: "12345", Hardware: "0x32"}
	if !reflect.DeepEqual(info, want) {
		t.Errorf("unexpected device info:\ngot: %+v\nwant:%+v", info, want)
	}
	wantWrites := [][]byte{
		{CmdHandshake1},
		{CmdHandshake2, 0x10, 0x27, 0x00, 0x00},
		{CmdModel},
		{CmdSerial},
		{CmdClock},
	}
	if got := fake.Writes(); !reflect.DeepEqual(got, wantWrites) {
		t.Errorf("unexpected requests:\ngot: %x\nwant:%x", got, wantWrites)
	}
}

func TestHandshakeRejected(t *testing.T) {
	e := newEmulator()
	fake := transporttest.New(func(req []byte) []byte {
		if req[0] == CmdHandshake2 {
			return []byte{0x00}
		}
		return e.handle(req)
	})
	d := New(dive.WithDialer(fake.Dialer()))
	err := d.Connect(context.Background(), "usb")
	if !errors.Is(err, dive.ErrProtocol) {
		t.Errorf("unexpected error: got:%v want:%v", err, dive.ErrProtocol)
	}
	if d.IsConnected() {
		t.Error("connected after failed handshake")
	}
}

func TestListAndDownload(t *testing.T) {
	e := newEmulator(1000, 2000, 3000)
	// A stray marker with an impossible length precedes the dives.
	e.prefix = append(append([]byte(nil), Marker...), 0xff, 0xff, 0, 0)
	d, _ := connect(t, e)
	defer d.Disconnect()
	ctx := context.Background()

	ids, err := d.ListDives(ctx)
	if err != nil {
		t.Fatalf("unexpected error listing dives: %v", err)
	}
	n := len(testDive(0))
	p := len(e.prefix)
	want := []string{
		fmt.Sprintf("%08x", p+2*n),
		fmt.Sprintf("%08x", p+n),
		fmt.Sprintf("%08x", p),
	}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("unexpected ids: got:%q want:%q", ids, want)
	}

	for i, ticks := range []uint32{3000, 2000, 1000} {
		got, err := d.DownloadDive(ctx, ids[i])
		if err != nil {
			t.Fatalf("unexpected error downloading dive %s: %v", ids[i], err)
		}
		if !bytes.Equal(got.Data, e.dives[ticks]) {
			t.Errorf("unexpected data for dive %s:\ngot: %x\nwant:%x", ids[i], got.Data, e.dives[ticks])
		}
		if !bytes.Equal(got.Fingerprint, le32(ticks)) {
			t.Errorf("unexpected fingerprint for dive %s: %x", ids[i], got.Fingerprint)
		}
		wantTime := Epoch.Add(time.Duration(ticks/2) * time.Second)
		if !got.Timestamp.Equal(wantTime) {
			t.Errorf("unexpected timestamp for dive %s: got:%v want:%v", ids[i], got.Timestamp, wantTime)
		}
	}
}

func TestIncrementalSync(t *testing.T) {
	e := newEmulator(1000, 2000, 3000)
	d, _ := connect(t, e)
	defer d.Disconnect()

	d.SetFingerprint(le32(2000))
	dives, err := dive.DownloadAll(context.Background(), d, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dives) != 1 || !bytes.Equal(dives[0].Fingerprint, le32(3000)) {
		t.Errorf("unexpected dives: %+v", dives)
	}
	if want := []uint32{2000}; !reflect.DeepEqual(e.thresholds, want) {
		t.Errorf("unexpected thresholds: got:%v want:%v", e.thresholds, want)
	}

	d.SetFingerprint(le32(3000))
	ids, err := d.ListDives(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("unexpected dives beyond newest fingerprint: %q", ids)
	}
}

func TestSamples(t *testing.T) {
	d := New()
	samples, err := d.Samples(testDive(1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("unexpected number of samples: got:%d want:3", len(samples))
	}
	const tol = 1e-9
	for i, want := range []float64{1.5, 1.6, 1.56} {
		if math.Abs(samples[i].Depth-want) > tol {
			t.Errorf("unexpected depth for sample %d: got:%v want:%v", i, samples[i].Depth, want)
		}
		if want := time.Duration(i+1) * defaultInterval; samples[i].Time != want {
			t.Errorf("unexpected time for sample %d: got:%v want:%v", i, samples[i].Time, want)
		}
	}

	s := samples[0]
	if !s.Has(dive.HasTemperature|dive.HasPressure) || math.Abs(s.Temperature-19.5) > tol {
		t.Errorf("unexpected first sample: %+v", s)
	}
	if want := []dive.TankPressure{{Tank: 0, Bar: 200}}; !reflect.DeepEqual(s.Pressure, want) {
		t.Errorf("unexpected pressure: got:%v want:%v", s.Pressure, want)
	}

	s = samples[1]
	if want := []dive.TankPressure{{Tank: 0, Bar: 199.5}}; !reflect.DeepEqual(s.Pressure, want) {
		t.Errorf("unexpected pressure: got:%v want:%v", s.Pressure, want)
	}
	if math.Abs(s.Temperature-19.4) > tol {
		t.Errorf("unexpected temperature: got:%v want:19.4", s.Temperature)
	}
	if !s.Has(dive.HasNDL) || s.NDL != 20*time.Minute {
		t.Errorf("unexpected NDL: %+v", s)
	}
	if want := []dive.Event{{Type: dive.EventBookmark}}; !reflect.DeepEqual(s.Events, want) {
		t.Errorf("unexpected events: got:%v want:%v", s.Events, want)
	}

	s = samples[2]
	if s.Has(dive.HasTemperature) || s.Has(dive.HasPressure) {
		t.Errorf("values carried into new sample: %+v", s)
	}
	if s.GasMix != 1 || !s.Has(dive.HasGasMix|dive.HasDeco|dive.HasHeartbeat) {
		t.Errorf("unexpected last sample: %+v", s)
	}
	if want := (dive.Deco{Depth: 3, Time: 2 * time.Minute}); s.Deco != want {
		t.Errorf("unexpected deco: got:%+v want:%+v", s.Deco, want)
	}
	if s.Heartbeat != 90 {
		t.Errorf("unexpected heartbeat: %d", s.Heartbeat)
	}
	if want := []dive.Event{{Type: dive.EventGasSwitch, Value: 1}}; !reflect.DeepEqual(s.Events, want) {
		t.Errorf("unexpected events: got:%v want:%v", s.Events, want)
	}
}

func TestSamplesErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "no_header", data: []byte{0xf0, 1, 0}},
		{name: "unknown_record", data: append(header(1, 1), 0xf8)},
		{name: "truncated_record", data: append(header(1, 2), 0xf0, 1)},
		{name: "truncated_extended", data: append(header(1, 3), 0xff, 4, 1)},
	}
	d := New()
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := d.Samples(test.data)
			if !errors.Is(err, dive.ErrDataFormat) {
				t.Errorf("unexpected error: got:%v want:%v", err, dive.ErrDataFormat)
			}
		})
	}
}
