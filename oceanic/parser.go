// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package oceanic

import (
	"encoding/binary"
	"time"

	"github.com/wyvernp/pelagic-sub001/dive"
	"github.com/wyvernp/pelagic-sub001/wire"
)

// Profile record layout. The first record of a profile is a header
// holding the start minute and the sample interval. Each following
// record is one sample.
const (
	recordSize = 8

	defaultInterval = 15 * time.Second

	flagDeco     = 1 << 0
	flagAscent   = 1 << 1
	flagBookmark = 1 << 2

	noNDL = 0xff
)

// timestamp returns the dive start time from a logbook entry and its
// profile header. The entry holds BCD year, month, day and hour.
func timestamp(entry, profile []byte) time.Time {
	var minute int
	if len(profile) >= recordSize {
		minute = wire.BCD(profile[0])
	}
	return time.Date(
		2000+wire.BCD(entry[0]), time.Month(wire.BCD(entry[1])), wire.BCD(entry[2]),
		wire.BCD(entry[3]), minute, 0, 0, time.UTC,
	)
}

// Samples decodes the profile of a downloaded dive.
func (d *Device) Samples(data []byte) ([]dive.Sample, error) {
	if len(data) < LogbookEntrySize+recordSize {
		return nil, dive.Errorf(dive.KindDataFormat, "samples", "dive too short: %d bytes", len(data))
	}
	profile := data[LogbookEntrySize:]
	interval := time.Duration(profile[1]) * time.Second
	if interval == 0 {
		interval = defaultInterval
	}
	profile = profile[recordSize:]

	samples := make([]dive.Sample, 0, len(profile)/recordSize)
	for i := 0; i+recordSize <= len(profile); i += recordSize {
		rec := profile[i : i+recordSize]
		if isBlank(rec) {
			break
		}
		depth := binary.LittleEndian.Uint16(rec[0:])
		temp := binary.LittleEndian.Uint16(rec[2:])
		psi := binary.LittleEndian.Uint16(rec[4:])
		s := dive.Sample{
			Time:        time.Duration(len(samples)+1) * interval,
			Depth:       dive.FeetToMeters(float64(depth) / 16),
			Temperature: dive.FahrenheitToCelsius(float64(temp) / 10),
			Fields:      dive.HasTemperature,
		}
		if psi != 0 {
			s.Pressure = []dive.TankPressure{{Tank: 0, Bar: dive.PSIToBar(float64(psi))}}
			s.Fields |= dive.HasPressure
		}
		flags := rec[7]
		if rec[6] != noNDL {
			if flags&flagDeco != 0 {
				s.Deco = dive.Deco{Time: time.Duration(rec[6]) * time.Minute}
				s.Fields |= dive.HasDeco
				s.Events = append(s.Events, dive.Event{Type: dive.EventDecoStop})
			} else {
				s.NDL = time.Duration(rec[6]) * time.Minute
				s.Fields |= dive.HasNDL
			}
		}
		if flags&flagAscent != 0 {
			s.Events = append(s.Events, dive.Event{Type: dive.EventAscent})
		}
		if flags&flagBookmark != 0 {
			s.Events = append(s.Events, dive.Event{Type: dive.EventBookmark})
		}
		samples = append(samples, s)
	}
	return samples, nil
}
