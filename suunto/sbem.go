// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package suunto

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
	"time"

	"github.com/wyvernp/pelagic-sub001/dive"
)

// SBEM log layout. A log is the "SBEM" magic and four reserved bytes
// followed by records of an id byte, a length byte and the payload. A
// length of 0xff is followed by the LE32 payload length. Records with
// id 0 are descriptors binding a record id to a value path and format.
const (
	sbemMagic      = "SBEM"
	sbemHeaderSize = 8
	sbemLongLength = 0xff
	descriptorID   = 0
)

// descriptor describes the values carried by records with one id.
type descriptor struct {
	path   string
	format string
}

var formatSize = map[string]int{
	"uint8":   1,
	"int8":    1,
	"uint16":  2,
	"int16":   2,
	"uint32":  4,
	"int32":   4,
	"float32": 4,
}

func (d descriptor) value(p []byte) (float64, bool) {
	if len(p) != formatSize[d.format] {
		return 0, false
	}
	switch d.format {
	case "uint8":
		return float64(p[0]), true
	case "int8":
		return float64(int8(p[0])), true
	case "uint16":
		return float64(binary.LittleEndian.Uint16(p)), true
	case "int16":
		return float64(int16(binary.LittleEndian.Uint16(p))), true
	case "uint32":
		return float64(binary.LittleEndian.Uint32(p)), true
	case "int32":
		return float64(int32(binary.LittleEndian.Uint32(p))), true
	case "float32":
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(p))), true
	}
	return 0, false
}

// parseDescriptor decodes a descriptor payload: the LE16 record id it
// defines followed by "<PTH>path" and "<FRM>format" lines.
func parseDescriptor(p []byte) (id uint16, desc descriptor, ok bool) {
	if len(p) < 2 {
		return 0, descriptor{}, false
	}
	id = binary.LittleEndian.Uint16(p)
	for _, line := range strings.Split(string(p[2:]), "\n") {
		if v, ok := strings.CutPrefix(line, "<PTH>"); ok {
			desc.path = v
		} else if v, ok := strings.CutPrefix(line, "<FRM>"); ok {
			desc.format = v
		}
	}
	_, known := formatSize[desc.format]
	return id, desc, desc.path != "" && known
}

const samplePath = "Samples/Sample/"

// sampleFields maps value paths below samplePath to the sample fields
// they set. A Time value starts a new sample.
var sampleFields = map[string]func(s *dive.Sample, v float64){
	"Depth": func(s *dive.Sample, v float64) {
		s.Depth = v / 100
	},
	"Temperature": func(s *dive.Sample, v float64) {
		s.Temperature = v / 10
		s.Fields |= dive.HasTemperature
	},
	"Cylinders/Cylinder/Pressure": func(s *dive.Sample, v float64) {
		s.Pressure = append(s.Pressure, dive.TankPressure{Tank: len(s.Pressure), Bar: v / 100})
		s.Fields |= dive.HasPressure
	},
	"NoDecTime": func(s *dive.Sample, v float64) {
		s.NDL = time.Duration(v) * time.Second
		s.Fields |= dive.HasNDL
	},
	"Ceiling": func(s *dive.Sample, v float64) {
		s.Deco.Depth = v / 100
		s.Fields |= dive.HasDeco
	},
	"HeartRate": func(s *dive.Sample, v float64) {
		s.Heartbeat = int(v)
		s.Fields |= dive.HasHeartbeat
	},
	"Cns": func(s *dive.Sample, v float64) {
		s.CNS = v / 100
		s.Fields |= dive.HasCNS
	},
	"Ppo2": func(s *dive.Sample, v float64) {
		s.PPO2 = v / 1000
		s.Fields |= dive.HasPPO2
	},
	"Events/Bookmark": func(s *dive.Sample, v float64) {
		s.Events = append(s.Events, dive.Event{Type: dive.EventBookmark})
	},
	"Events/GasSwitch": func(s *dive.Sample, v float64) {
		s.GasMix = int(v)
		s.Fields |= dive.HasGasMix
		s.Events = append(s.Events, dive.Event{Type: dive.EventGasSwitch, Value: int(v)})
	},
	"Events/Alarm": func(s *dive.Sample, v float64) {
		s.Events = append(s.Events, dive.Event{Type: dive.EventAlarm, Value: int(v)})
	},
}

// Samples decodes the SBEM log that follows the four byte start time.
func (d *Device) Samples(data []byte) ([]dive.Sample, error) {
	if len(data) < 4+sbemHeaderSize || !bytes.Equal(data[4:4+len(sbemMagic)], []byte(sbemMagic)) {
		return nil, dive.Errorf(dive.KindDataFormat, "samples", "missing SBEM header")
	}
	var (
		samples []dive.Sample
		elapsed time.Duration
		descs   = make(map[uint16]descriptor)
	)
	for off := 4 + sbemHeaderSize; off < len(data); {
		if off+2 > len(data) {
			return nil, dive.Errorf(dive.KindDataFormat, "samples", "truncated record at offset %d", off)
		}
		id := uint16(data[off])
		n := int(data[off+1])
		off += 2
		if n == sbemLongLength {
			if off+4 > len(data) {
				return nil, dive.Errorf(dive.KindDataFormat, "samples", "truncated record length at offset %d", off)
			}
			n = int(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
		if n > len(data)-off {
			return nil, dive.Errorf(dive.KindDataFormat, "samples", "truncated record at offset %d", off)
		}
		p := data[off : off+n]
		off += n

		if id == descriptorID {
			rid, desc, ok := parseDescriptor(p)
			if !ok {
				d.cfg.Logger.Debug().Int("offset", off-n).Msg("skipping invalid descriptor")
				continue
			}
			descs[rid] = desc
			continue
		}
		desc, ok := descs[id]
		if !ok {
			d.cfg.Logger.Debug().Int("id", int(id)).Int("offset", off-n).Msg("skipping undescribed record")
			continue
		}
		field, ok := strings.CutPrefix(desc.path, samplePath)
		if !ok {
			continue
		}
		v, ok := desc.value(p)
		if !ok {
			return nil, dive.Errorf(dive.KindDataFormat, "samples", "%s value of %d bytes for format %s", desc.path, len(p), desc.format)
		}
		if field == "Time" {
			elapsed += time.Duration(v) * time.Millisecond
			samples = append(samples, dive.Sample{Time: elapsed})
			continue
		}
		set, ok := sampleFields[field]
		if !ok {
			continue
		}
		if len(samples) == 0 {
			d.cfg.Logger.Debug().Str("path", desc.path).Msg("value before first sample")
			continue
		}
		set(&samples[len(samples)-1], v)
	}
	return samples, nil
}
