// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package shearwater

import (
	"encoding/binary"
	"time"

	"github.com/wyvernp/pelagic-sub001/dive"
)

// Petrel native format record types. Each record is 32 bytes.
const (
	pnfSample      = 0x01
	pnfOpening0    = 0x10 // units, interval and start time
	pnfOpeningLast = 0x1f
	pnfClosing0    = 0x20
	pnfClosingLast = 0x2f
	pnfFinal       = 0xff
	pnfSize        = 32
)

// Opening record 0 fields.
const (
	openingUnits    = 1  // 0 metric, 1 imperial
	openingInterval = 2  // seconds
	openingTime     = 12 // BE32 Unix time
)

// Sample record fields. Depths are in tenths of the dive units and
// the temperature is in whole units.
const (
	sampleDepth       = 1 // BE16
	sampleStopDepth   = 3 // whole units
	sampleStopTime    = 4 // minutes
	sampleNDL         = 5 // minutes
	samplePPO2        = 6 // hundredths of a bar
	sampleGas         = 7
	sampleCNS         = 8 // percent
	sampleTemperature = 13
	samplePressure    = 27 // BE16 in units of 2 psi; 0 and 0xffff are absent
)

const defaultInterval = 10 * time.Second

// Samples decodes a dive in Petrel native format.
func (d *Device) Samples(data []byte) ([]dive.Sample, error) {
	var (
		samples  []dive.Sample
		imperial bool
		interval = defaultInterval
		opened   bool
	)
	for off := 0; off+pnfSize <= len(data); off += pnfSize {
		r := data[off : off+pnfSize]
		switch typ := r[0]; {
		case typ == pnfOpening0:
			opened = true
			imperial = r[openingUnits] == 1
			if r[openingInterval] != 0 {
				interval = time.Duration(r[openingInterval]) * time.Second
			}
		case typ > pnfOpening0 && typ <= pnfOpeningLast,
			typ >= pnfClosing0 && typ <= pnfClosingLast:
		case typ == pnfSample:
			if !opened {
				return nil, dive.Errorf(dive.KindDataFormat, "samples", "sample before opening record")
			}
			samples = append(samples, d.sample(r, len(samples), interval, imperial, samples))
		case typ == pnfFinal:
			return samples, nil
		default:
			d.cfg.Logger.Debug().Int("offset", off).Uint8("type", typ).Msg("skipping unknown record")
		}
	}
	if !opened {
		return nil, dive.Errorf(dive.KindDataFormat, "samples", "no opening record")
	}
	return samples, nil
}

func (d *Device) sample(r []byte, i int, interval time.Duration, imperial bool, prev []dive.Sample) dive.Sample {
	depth := float64(binary.BigEndian.Uint16(r[sampleDepth:])) / 10
	stop := float64(r[sampleStopDepth])
	temp := float64(int8(r[sampleTemperature]))
	if imperial {
		depth = dive.FeetToMeters(depth)
		stop = dive.FeetToMeters(stop)
		temp = dive.FahrenheitToCelsius(temp)
	}
	s := dive.Sample{
		Time:        time.Duration(i+1) * interval,
		Depth:       depth,
		Temperature: temp,
		PPO2:        float64(r[samplePPO2]) / 100,
		GasMix:      int(r[sampleGas]),
		CNS:         float64(r[sampleCNS]) / 100,
		Fields:      dive.HasTemperature | dive.HasPPO2 | dive.HasGasMix | dive.HasCNS,
	}
	if r[sampleStopDepth] != 0 {
		s.Deco = dive.Deco{Depth: stop, Time: time.Duration(r[sampleStopTime]) * time.Minute}
		s.Fields |= dive.HasDeco
	} else {
		s.NDL = time.Duration(r[sampleNDL]) * time.Minute
		s.Fields |= dive.HasNDL
	}
	if p := binary.BigEndian.Uint16(r[samplePressure:]); p != 0 && p != 0xffff {
		s.Pressure = []dive.TankPressure{{Tank: 0, Bar: dive.PSIToBar(2 * float64(p))}}
		s.Fields |= dive.HasPressure
	}
	if n := len(prev); n != 0 && prev[n-1].GasMix != s.GasMix {
		s.Events = append(s.Events, dive.Event{Type: dive.EventGasSwitch, Value: s.GasMix})
	}
	return s
}
