// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mares

import (
	"encoding/binary"
	"time"

	"github.com/wyvernp/pelagic-sub001/dive"
	"github.com/wyvernp/pelagic-sub001/wire"
)

// Record tags.
const (
	TagDiveStart  = "DSTR"
	TagTissue     = "TISS"
	TagSample     = "DPRS"
	TagDecoStop   = "SDPT"
	TagAirSample  = "AIRS"
	TagDiveEnd    = "DEND"
	tagSize       = 4
	crcSize       = 2
	timestampSize = 7
)

// payloadSize is the payload length of each known record.
var payloadSize = map[string]int{
	TagDiveStart: 16,
	TagTissue:    32,
	TagSample:    8,
	TagDecoStop:  8,
	TagAirSample: 8,
	TagDiveEnd:   16,
}

var tags = []string{TagDiveStart, TagTissue, TagSample, TagDecoStop, TagAirSample, TagDiveEnd}

// Record is a validated record.
type Record struct {
	Tag     string
	Payload []byte
}

// EncodeRecord returns a framed record: tag, payload, big-endian
// CRC-16/CCITT of the payload and the tag again.
func EncodeRecord(tag string, payload []byte) []byte {
	b := append([]byte(tag), payload...)
	b = binary.BigEndian.AppendUint16(b, wire.CRC16CCITT(payload))
	return append(b, tag...)
}

// Records returns the valid records in data. Bytes that do not form a
// valid record are skipped up to the next known tag and reported to
// skip, which may be nil.
func Records(data []byte, skip func(off, n int)) []Record {
	var recs []Record
	for p := 0; p+tagSize <= len(data); {
		tag := string(data[p : p+tagSize])
		if n, ok := payloadSize[tag]; ok {
			total := tagSize + n + crcSize + tagSize
			if p+total <= len(data) {
				payload := data[p+tagSize : p+tagSize+n]
				crc := binary.BigEndian.Uint16(data[p+tagSize+n:])
				closing := string(data[p+total-tagSize : p+total])
				if closing == tag && crc == wire.CRC16CCITT(payload) {
					recs = append(recs, Record{Tag: tag, Payload: payload})
					p += total
					continue
				}
			}
		}
		next := resync(data, p+1)
		if skip != nil {
			skip(p, next-p)
		}
		p = next
	}
	return recs
}

// resync returns the offset of the next known tag at or after from.
func resync(data []byte, from int) int {
	next := len(data)
	for _, t := range tags {
		i := wire.SearchForward(data, []byte(t), from)
		if i >= 0 && i < next {
			next = i
		}
	}
	return next
}

func (d *Device) records(data []byte) []Record {
	return Records(data, func(off, n int) {
		d.cfg.Logger.Debug().Int("offset", off).Int("length", n).Msg("skipping corrupt record")
	})
}

// start returns the payload of the first valid dive start record.
func (d *Device) start(data []byte) ([]byte, bool) {
	for _, r := range d.records(data) {
		if r.Tag == TagDiveStart {
			return r.Payload, true
		}
	}
	return nil, false
}

func timestamp(start []byte) time.Time {
	return time.Date(
		int(binary.LittleEndian.Uint16(start)), time.Month(start[2]), int(start[3]),
		int(start[4]), int(start[5]), int(start[6]), 0, time.UTC,
	)
}

// Sample record flags.
const (
	flagDeco   = 1 << 0
	flagAscent = 1 << 1
	flagAlarm  = 1 << 2
)

const defaultInterval = 5 * time.Second

// Samples decodes the records of a downloaded dive. Each sample record
// starts a new sample; deco stop and air records attach to the most
// recent sample.
func (d *Device) Samples(data []byte) ([]dive.Sample, error) {
	var (
		samples  []dive.Sample
		interval = defaultInterval
		started  bool
	)
	for _, r := range d.records(data) {
		p := r.Payload
		switch r.Tag {
		case TagDiveStart:
			started = true
			if p[7] != 0 {
				interval = time.Duration(p[7]) * time.Second
			}
		case TagSample:
			s := dive.Sample{
				Time:        time.Duration(len(samples)+1) * interval,
				Depth:       float64(binary.LittleEndian.Uint16(p[0:])) / 100,
				Temperature: float64(int16(binary.LittleEndian.Uint16(p[2:]))) / 10,
				GasMix:      int(p[7]),
				Fields:      dive.HasTemperature | dive.HasGasMix,
			}
			minutes := time.Duration(binary.LittleEndian.Uint16(p[4:])) * time.Minute
			if p[6]&flagDeco != 0 {
				s.Deco.Time = minutes
				s.Fields |= dive.HasDeco
			} else {
				s.NDL = minutes
				s.Fields |= dive.HasNDL
			}
			if p[6]&flagAscent != 0 {
				s.Events = append(s.Events, dive.Event{Type: dive.EventAscent})
			}
			if p[6]&flagAlarm != 0 {
				s.Events = append(s.Events, dive.Event{Type: dive.EventAlarm})
			}
			if n := len(samples); n != 0 && samples[n-1].GasMix != s.GasMix {
				s.Events = append(s.Events, dive.Event{Type: dive.EventGasSwitch, Value: s.GasMix})
			}
			samples = append(samples, s)
		case TagDecoStop:
			if len(samples) == 0 {
				continue
			}
			s := &samples[len(samples)-1]
			s.Deco = dive.Deco{
				Depth: float64(binary.LittleEndian.Uint16(p[0:])) / 100,
				Time:  time.Duration(binary.LittleEndian.Uint16(p[2:])) * time.Minute,
			}
			s.Fields |= dive.HasDeco
			s.Fields &^= dive.HasNDL
			s.NDL = 0
		case TagAirSample:
			if len(samples) == 0 {
				continue
			}
			s := &samples[len(samples)-1]
			s.Pressure = append(s.Pressure, dive.TankPressure{
				Tank: int(p[0]),
				Bar:  float64(binary.LittleEndian.Uint16(p[1:])) / 100,
			})
			s.Fields |= dive.HasPressure
		case TagDiveEnd:
			return samples, nil
		}
	}
	if !started {
		return nil, dive.Errorf(dive.KindDataFormat, "samples", "no dive start record")
	}
	return samples, nil
}
