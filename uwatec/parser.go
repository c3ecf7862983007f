// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uwatec

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/wyvernp/pelagic-sub001/dive"
)

type recordType uint8

const (
	recDeltaDepth    recordType = iota + 1 // 0ddddddd, 2 cm steps
	recDeltaPressure                       // 10pppppp, 1/4 bar steps
	recDeltaTemp                           // 110ttttt, 0.1 °C steps
	recEvents                              // 1110eeee
	recDepth                               // LE16 cm
	recTemp                                // LE16 signed 0.1 °C
	recPressure                            // tank, LE16 1/4 bar
	recHeartbeat                           // bpm
	recNDL                                 // minutes
	recDeco                                // stop depth m, minutes
	recGasSwitch                           // mix index
	recAlarm                               // alarm bits
	recExtended                            // length, payload
)

// recordSpec identifies a profile record by the bits of its first byte
// selected by mask.
type recordSpec struct {
	mask, value byte
	size        int
	typ         recordType
}

var recordTable = []recordSpec{
	{mask: 0x80, value: 0x00, size: 1, typ: recDeltaDepth},
	{mask: 0xc0, value: 0x80, size: 1, typ: recDeltaPressure},
	{mask: 0xe0, value: 0xc0, size: 1, typ: recDeltaTemp},
	{mask: 0xf0, value: 0xe0, size: 1, typ: recEvents},
	{mask: 0xff, value: 0xf0, size: 3, typ: recDepth},
	{mask: 0xff, value: 0xf1, size: 3, typ: recTemp},
	{mask: 0xff, value: 0xf2, size: 4, typ: recPressure},
	{mask: 0xff, value: 0xf3, size: 2, typ: recHeartbeat},
	{mask: 0xff, value: 0xf4, size: 2, typ: recNDL},
	{mask: 0xff, value: 0xf5, size: 3, typ: recDeco},
	{mask: 0xff, value: 0xf6, size: 2, typ: recGasSwitch},
	{mask: 0xff, value: 0xf7, size: 2, typ: recAlarm},
	{mask: 0xff, value: 0xff, size: 2, typ: recExtended},
}

func lookupRecord(b byte) (recordSpec, bool) {
	for _, r := range recordTable {
		if b&r.mask == r.value {
			return r, true
		}
	}
	return recordSpec{}, false
}

// Event bits of recEvents records.
const (
	eventBookmark = 1 << iota
	eventAscent
	eventViolation
	eventSafetyStop
)

const defaultInterval = 4 * time.Second

// signExtend returns the low bits of b as a signed value.
func signExtend(b byte, bits uint) int {
	shift := 8 - bits
	return int(int8(b<<shift) >> shift)
}

// Samples decodes the type tagged profile that follows the dive header.
// A depth record starts a new sample and the records following it
// attach values to that sample.
func (d *Device) Samples(data []byte) ([]dive.Sample, error) {
	if len(data) < HeaderSize || !bytes.Equal(data[:len(Marker)], Marker) {
		return nil, dive.Errorf(dive.KindDataFormat, "samples", "missing dive header")
	}
	interval := defaultInterval
	if data[headerInterval] != 0 {
		interval = time.Duration(data[headerInterval]) * time.Second
	}
	var (
		samples  []dive.Sample
		depth    int // cm
		tank     int
		pressure = -1 // 1/4 bar, negative until an absolute reading
	)
	temp := int(int16(binary.LittleEndian.Uint16(data[headerTemp:]))) // 0.1 °C
	current := func() *dive.Sample {
		if len(samples) == 0 {
			return nil
		}
		return &samples[len(samples)-1]
	}
	setTemp := func() {
		if s := current(); s != nil {
			s.Temperature = float64(temp) / 10
			s.Fields |= dive.HasTemperature
		}
	}
	setPressure := func() {
		if s := current(); s != nil && pressure >= 0 {
			s.Pressure = append(s.Pressure, dive.TankPressure{Tank: tank, Bar: float64(pressure) / 4})
			s.Fields |= dive.HasPressure
		}
	}
	event := func(typ dive.EventType, v int) {
		if s := current(); s != nil {
			s.Events = append(s.Events, dive.Event{Type: typ, Value: v})
		}
	}
	next := func() {
		samples = append(samples, dive.Sample{
			Time:  time.Duration(len(samples)+1) * interval,
			Depth: float64(max(depth, 0)) / 100,
		})
	}

	for off := HeaderSize; off < len(data); {
		kind, ok := lookupRecord(data[off])
		if !ok {
			return nil, dive.Errorf(dive.KindDataFormat, "samples", "unknown record type %#02x at offset %d", data[off], off)
		}
		size := kind.size
		if kind.typ == recExtended && off+1 < len(data) {
			size += int(data[off+1])
		}
		if off+size > len(data) {
			return nil, dive.Errorf(dive.KindDataFormat, "samples", "truncated record at offset %d", off)
		}
		r := data[off : off+size]
		off += size

		switch kind.typ {
		case recDeltaDepth:
			depth += 2 * signExtend(r[0], 7)
			next()
		case recDepth:
			depth = int(binary.LittleEndian.Uint16(r[1:]))
			next()
		case recDeltaPressure:
			if pressure < 0 {
				d.cfg.Logger.Debug().Int("offset", off-size).Msg("pressure delta without reference")
				continue
			}
			pressure += signExtend(r[0], 6)
			setPressure()
		case recPressure:
			tank = int(r[1])
			pressure = int(binary.LittleEndian.Uint16(r[2:]))
			setPressure()
		case recDeltaTemp:
			temp += signExtend(r[0], 5)
			setTemp()
		case recTemp:
			temp = int(int16(binary.LittleEndian.Uint16(r[1:])))
			setTemp()
		case recEvents:
			for _, e := range []struct {
				bit int
				typ dive.EventType
			}{
				{eventBookmark, dive.EventBookmark},
				{eventAscent, dive.EventAscent},
				{eventViolation, dive.EventViolation},
				{eventSafetyStop, dive.EventSafetyStop},
			} {
				if int(r[0])&e.bit != 0 {
					event(e.typ, 0)
				}
			}
		case recHeartbeat:
			if s := current(); s != nil {
				s.Heartbeat = int(r[1])
				s.Fields |= dive.HasHeartbeat
			}
		case recNDL:
			if s := current(); s != nil {
				s.NDL = time.Duration(r[1]) * time.Minute
				s.Fields |= dive.HasNDL
			}
		case recDeco:
			if s := current(); s != nil {
				s.Deco = dive.Deco{Depth: float64(r[1]), Time: time.Duration(r[2]) * time.Minute}
				s.Fields |= dive.HasDeco
			}
		case recGasSwitch:
			if s := current(); s != nil {
				s.GasMix = int(r[1])
				s.Fields |= dive.HasGasMix
			}
			event(dive.EventGasSwitch, int(r[1]))
		case recAlarm:
			event(dive.EventAlarm, int(r[1]))
		case recExtended:
			d.cfg.Logger.Debug().Int("offset", off-size).Int("length", size).Msg("skipping extended record")
		}
	}
	return samples, nil
}
