// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package shearwater

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/wyvernp/pelagic-sub001/dive"
	"github.com/wyvernp/pelagic-sub001/transport/transporttest"
	"github.com/wyvernp/pelagic-sub001/wire"
)

// emulator is a Shearwater device answering SLIP framed requests.
type emulator struct {
	ids map[uint16][]byte
	mem map[uint32][]byte

	stream []byte
	nak    map[byte]int
	blocks int
}

var (
	timeA = time.Date(2024, time.May, 4, 9, 0, 0, 0, time.UTC)
	timeB = time.Date(2024, time.May, 5, 14, 30, 0, 0, time.UTC)
)

func newEmulator() *emulator {
	e := &emulator{
		ids: map[uint16][]byte{
			IDSerial:   []byte("00003039"),
			IDFirmware: []byte("V90\x00"),
			IDHardware: {0x0b, 0x0b},
		},
		mem: make(map[uint32][]byte),
		nak: make(map[byte]int),
	}
	manifest := bytes.Repeat([]byte{0xff}, ManifestSize)
	copy(manifest[0:], manifestEntry(manifestValid, timeB, 0x2000))
	copy(manifest[RecordSize:], manifestEntry(manifestDeleted, timeA, 0x1800))
	copy(manifest[2*RecordSize:], manifestEntry(0x1234, timeA, 0x1400))
	copy(manifest[3*RecordSize:], manifestEntry(manifestValid, timeA, 0x1000))
	e.mem[ManifestAddress] = manifest
	e.mem[DiveBase+0x1000] = metricDive(timeA)
	e.mem[DiveBase+0x2000] = imperialDive(timeB)
	return e
}

func manifestEntry(sig uint16, when time.Time, addr uint32) []byte {
	r := make([]byte, RecordSize)
	binary.BigEndian.PutUint16(r, sig)
	binary.BigEndian.PutUint32(r[fingerprintOffset:], uint32(when.Unix()))
	binary.BigEndian.PutUint32(r[addressOffset:], addr)
	return r
}

func record(typ byte, set func(r []byte)) []byte {
	r := make([]byte, pnfSize)
	r[0] = typ
	if set != nil {
		set(r)
	}
	return r
}

func opening(imperial bool, interval byte, when time.Time) []byte {
	return record(pnfOpening0, func(r []byte) {
		if imperial {
			r[openingUnits] = 1
		}
		r[openingInterval] = interval
		binary.BigEndian.PutUint32(r[openingTime:], uint32(when.Unix()))
	})
}

func sample(depth uint16, temp int8, gas byte, set func(r []byte)) []byte {
	return record(pnfSample, func(r []byte) {
		binary.BigEndian.PutUint16(r[sampleDepth:], depth)
		r[sampleTemperature] = byte(temp)
		r[sampleGas] = gas
		r[samplePPO2] = 98
		r[sampleNDL] = 40
		if set != nil {
			set(r)
		}
	})
}

func metricDive(when time.Time) []byte {
	var b []byte
	b = append(b, opening(false, 10, when)...)
	b = append(b, record(0x11, nil)...)
	b = append(b, sample(52, 22, 0, nil)...)
	b = append(b, sample(215, 19, 0, func(r []byte) {
		r[sampleStopDepth] = 6
		r[sampleStopTime] = 2
		binary.BigEndian.PutUint16(r[samplePressure:], 1000)
	})...)
	b = append(b, sample(101, 20, 1, nil)...)
	b = append(b, record(pnfClosing0, nil)...)
	b = append(b, record(pnfFinal, nil)...)
	return b
}

func imperialDive(when time.Time) []byte {
	var b []byte
	b = append(b, opening(true, 5, when)...)
	b = append(b, sample(330, 68, 0, nil)...)
	b = append(b, record(pnfFinal, nil)...)
	// Trailing data after the final record is ignored.
	b = append(b, bytes.Repeat([]byte{0x55}, pnfSize)...)
	return b
}

func packet(payload ...byte) []byte {
	p := append([]byte{0x01, 0xff, byte(len(payload) + 1), 0x00}, payload...)
	// A leading END byte flushes line noise on real devices.
	return append([]byte{wire.SLIPEnd}, wire.SLIPEncode(p)...)
}

func (e *emulator) handle(req []byte) []byte {
	frame, _, err := wire.SLIPDecode(req)
	if err != nil || len(frame) < 5 || frame[0] != 0xff || frame[1] != 0x01 {
		return nil
	}
	p := frame[4:]
	if e.nak[p[0]] > 0 {
		e.nak[p[0]]--
		return packet(RspNAK, p[0], 0x22)
	}
	switch p[0] {
	case CmdRDBI:
		id := binary.BigEndian.Uint16(p[1:])
		v, ok := e.ids[id]
		if !ok {
			return packet(RspNAK, CmdRDBI, 0x31)
		}
		return packet(append([]byte{RspRDBI, p[1], p[2]}, v...)...)
	case CmdInit:
		addr := binary.BigEndian.Uint32(p[3:])
		size := int(p[7])<<16 | int(p[8])<<8 | int(p[9])
		data, ok := e.mem[addr]
		if !ok {
			return packet(RspNAK, CmdInit, 0x31)
		}
		if p[1] == compression {
			e.stream = compress(data)
		} else {
			e.stream = append([]byte(nil), data[:min(size, len(data))]...)
		}
		return packet(RspInit, 0x10, 0x82)
	case CmdBlock:
		e.blocks++
		n := min(MaxPacket-2, len(e.stream))
		chunk := e.stream[:n]
		e.stream = e.stream[n:]
		return packet(append([]byte{RspBlock, p[1]}, chunk...)...)
	case CmdQuit:
		return packet(RspQuit, 0x00)
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
	err := d.Connect(context.Background(), "LE:00:13:43:01:02:03")
	if err != nil {
		t.Fatalf("unexpected error connecting: %v", err)
	}
	return d, fake
}

func TestConnect(t *testing.T) {
	d, _ := connect(t, newEmulator())
	defer d.Disconnect()

	info, ok := d.DeviceInfo()
	if !ok {
		t.Fatal("no device info after connect")
	}
	want := dive.DeviceInfo{Model: "Perdix AI", Serial: "12345", Firmware: "90", Hardware: "0x0b0b"}
	if !reflect.DeepEqual(info, want) {
		t.Errorf("unexpected device info:\ngot: %+v\nwant:%+v", info, want)
	}
}

func TestConnectFailure(t *testing.T) {
	e := newEmulator()
	delete(e.ids, IDHardware)
	fake := transporttest.New(e.handle)
	d := New(dive.WithDialer(fake.Dialer()), dive.WithRetries(0))
	err := d.Connect(context.Background(), "LE:00:13:43:01:02:03")
	if !errors.Is(err, dive.ErrProtocol) {
		t.Errorf("unexpected error: got:%v want:%v", err, dive.ErrProtocol)
	}
	if d.IsConnected() {
		t.Error("connected after failed handshake")
	}
	if open, _ := fake.IsOpen(); open {
		t.Error("transport left open after failed handshake")
	}
}

func TestListAndDownload(t *testing.T) {
	e := newEmulator()
	d, _ := connect(t, e)
	defer d.Disconnect()
	ctx := context.Background()

	ids, err := d.ListDives(ctx)
	if err != nil {
		t.Fatalf("unexpected error listing dives: %v", err)
	}
	if want := []string{"00002000", "00001000"}; !reflect.DeepEqual(ids, want) {
		t.Fatalf("unexpected ids: got:%q want:%q", ids, want)
	}

	for _, test := range []struct {
		id   string
		addr uint32
		when time.Time
	}{
		{id: "00002000", addr: 0x2000, when: timeB},
		{id: "00001000", addr: 0x1000, when: timeA},
	} {
		got, err := d.DownloadDive(ctx, test.id)
		if err != nil {
			t.Fatalf("unexpected error downloading dive %s: %v", test.id, err)
		}
		if !bytes.Equal(got.Data, e.mem[DiveBase+test.addr]) {
			t.Errorf("unexpected data for dive %s:\ngot: %x\nwant:%x", test.id, got.Data, e.mem[DiveBase+test.addr])
		}
		if !got.Timestamp.Equal(test.when) {
			t.Errorf("unexpected timestamp for dive %s: got:%v want:%v", test.id, got.Timestamp, test.when)
		}
		wantFP := binary.BigEndian.AppendUint32(nil, uint32(test.when.Unix()))
		if !bytes.Equal(got.Fingerprint, wantFP) {
			t.Errorf("unexpected fingerprint for dive %s: got:%x want:%x", test.id, got.Fingerprint, wantFP)
		}
	}

	_, err = d.DownloadDive(ctx, "00001800")
	if !errors.Is(err, dive.ErrProtocol) {
		t.Errorf("unexpected error for deleted dive: got:%v want:%v", err, dive.ErrProtocol)
	}
}

func TestSamples(t *testing.T) {
	d := New()
	const tol = 1e-6

	samples, err := d.Samples(metricDive(timeA))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("unexpected number of samples: got:%d want:3", len(samples))
	}
	s := samples[0]
	if s.Time != 10*time.Second || math.Abs(s.Depth-5.2) > tol || s.Temperature != 22 {
		t.Errorf("unexpected first sample: %+v", s)
	}
	if !s.Has(dive.HasNDL) || s.NDL != 40*time.Minute || s.Has(dive.HasDeco) {
		t.Errorf("unexpected NDL state: %+v", s)
	}
	if math.Abs(s.PPO2-0.98) > tol {
		t.Errorf("unexpected ppO2: got:%v want:0.98", s.PPO2)
	}
	s = samples[1]
	if want := (dive.Deco{Depth: 6, Time: 2 * time.Minute}); !s.Has(dive.HasDeco) || s.Deco != want {
		t.Errorf("unexpected deco: got:%+v want:%+v", s.Deco, want)
	}
	if !s.Has(dive.HasPressure) || math.Abs(s.Pressure[0].Bar-dive.PSIToBar(2000)) > tol {
		t.Errorf("unexpected pressure: %+v", s.Pressure)
	}
	s = samples[2]
	if want := []dive.Event{{Type: dive.EventGasSwitch, Value: 1}}; !reflect.DeepEqual(s.Events, want) {
		t.Errorf("unexpected events: got:%v want:%v", s.Events, want)
	}

	samples, err = d.Samples(imperialDive(timeB))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("unexpected number of samples: got:%d want:1", len(samples))
	}
	s = samples[0]
	if s.Time != 5*time.Second {
		t.Errorf("unexpected sample time: %v", s.Time)
	}
	if want := dive.FeetToMeters(33); math.Abs(s.Depth-want) > tol {
		t.Errorf("unexpected depth: got:%v want:%v", s.Depth, want)
	}
	if math.Abs(s.Temperature-20) > tol {
		t.Errorf("unexpected temperature: got:%v want:20", s.Temperature)
	}

	_, err = d.Samples(sample(10, 10, 0, nil))
	if !errors.Is(err, dive.ErrDataFormat) {
		t.Errorf("unexpected error for sample without opening: got:%v want:%v", err, dive.ErrDataFormat)
	}
}

func TestIncrementalSync(t *testing.T) {
	e := newEmulator()
	d, _ := connect(t, e)
	defer d.Disconnect()

	d.SetFingerprint(binary.BigEndian.AppendUint32(nil, uint32(timeA.Unix())))
	dives, err := dive.DownloadAll(context.Background(), d, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dives) != 1 || !dives[0].Timestamp.Equal(timeB) {
		t.Errorf("unexpected dives: %+v", dives)
	}
}

func TestRetry(t *testing.T) {
	tests := []struct {
		name    string
		retries int
		nak     int
		wantErr error
	}{
		{name: "recovered", retries: 2, nak: 2},
		{name: "exhausted", retries: 1, nak: 2, wantErr: dive.ErrProtocol},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			e := newEmulator()
			d, fake := connect(t, e, dive.WithRetries(test.retries))
			defer d.Disconnect()
			e.nak[CmdBlock] = test.nak
			purges := fake.Purges()

			_, err := d.ListDives(context.Background())
			if !errors.Is(err, test.wantErr) && !(err == nil && test.wantErr == nil) {
				t.Errorf("unexpected error: got:%v want:%v", err, test.wantErr)
			}
			attempts := min(test.nak+1, test.retries+1)
			if got := fake.Purges() - purges; got != attempts-1 {
				t.Errorf("unexpected number of purges: got:%d want:%d", got, attempts-1)
			}
		})
	}
}

func TestNotConnected(t *testing.T) {
	d := New()
	_, err := d.ListDives(context.Background())
	if !errors.Is(err, dive.ErrIO) {
		t.Errorf("unexpected error: got:%v want:%v", err, dive.ErrIO)
	}
}
