// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ostc

import (
	"encoding/binary"
	"time"

	"github.com/wyvernp/pelagic-sub001/dive"
)

// Profile layout. The profile starts with the sample interval and the
// temperature and deco divisors, each holding the number of samples
// between values in the low nibble. Each sample is a LE16 depth in
// centimetres followed by a flag byte whose low seven bits give the
// number of extra bytes and whose high bit marks a leading event byte.
const (
	profileHeaderSize = 3

	flagEvent = 0x80
	extraMask = 0x7f

	eventAlarmMask = 0x0f
	eventGasSwitch = 1 << 4 // followed by the gas index
	eventBookmark  = 1 << 5
)

var profileEnd = []byte{0xfd, 0xfd}

// Samples decodes the profile of a downloaded dive.
func (d *Device) Samples(data []byte) ([]dive.Sample, error) {
	if len(data) < HeaderSize+profileHeaderSize {
		return nil, dive.Errorf(dive.KindDataFormat, "samples", "dive too short: %d bytes", len(data))
	}
	p := data[HeaderSize:]
	interval := time.Duration(p[0]) * time.Second
	if interval == 0 {
		interval = 2 * time.Second
	}
	tempDiv := int(p[1] & 0x0f)
	decoDiv := int(p[2] & 0x0f)
	p = p[profileHeaderSize:]

	var samples []dive.Sample
	for i := 0; ; i++ {
		if len(p) < 2 {
			return samples, dive.Errorf(dive.KindDataFormat, "samples", "profile not terminated")
		}
		if p[0] == profileEnd[0] && p[1] == profileEnd[1] {
			return samples, nil
		}
		if len(p) < 3 {
			return samples, dive.Errorf(dive.KindDataFormat, "samples", "truncated sample %d", i)
		}
		s := dive.Sample{
			Time:  time.Duration(i+1) * interval,
			Depth: float64(binary.LittleEndian.Uint16(p)) / 100,
		}
		flags := p[2]
		n := int(flags & extraMask)
		p = p[3:]
		if len(p) < n {
			return samples, dive.Errorf(dive.KindDataFormat, "samples", "truncated extra bytes in sample %d", i)
		}
		extra := p[:n]
		p = p[n:]

		if flags&flagEvent != 0 && len(extra) != 0 {
			e := extra[0]
			extra = extra[1:]
			if a := int(e & eventAlarmMask); a != 0 {
				s.Events = append(s.Events, dive.Event{Type: dive.EventAlarm, Value: a})
			}
			if e&eventGasSwitch != 0 && len(extra) != 0 {
				s.GasMix = int(extra[0])
				s.Fields |= dive.HasGasMix
				s.Events = append(s.Events, dive.Event{Type: dive.EventGasSwitch, Value: s.GasMix})
				extra = extra[1:]
			}
			if e&eventBookmark != 0 {
				s.Events = append(s.Events, dive.Event{Type: dive.EventBookmark})
			}
		}
		if tempDiv != 0 && (i+1)%tempDiv == 0 && len(extra) >= 2 {
			s.Temperature = float64(int16(binary.LittleEndian.Uint16(extra))) / 10
			s.Fields |= dive.HasTemperature
			extra = extra[2:]
		}
		if decoDiv != 0 && (i+1)%decoDiv == 0 && len(extra) >= 2 {
			if extra[0] == 0 {
				s.NDL = time.Duration(extra[1]) * time.Minute
				s.Fields |= dive.HasNDL
			} else {
				s.Deco = dive.Deco{Depth: float64(extra[0]), Time: time.Duration(extra[1]) * time.Minute}
				s.Fields |= dive.HasDeco
			}
		}
		samples = append(samples, s)
	}
}
