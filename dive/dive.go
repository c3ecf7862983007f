// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dive

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Protocol is a connection to a dive computer.
//
// Implementations are not safe for concurrent use; exactly one request
// is in flight at a time. Dive identifiers returned by ListDives are
// valid only until Disconnect.
type Protocol interface {
	// Connect opens a transport to the device at address and performs
	// the handshake. All session state is rebuilt on every call.
	Connect(ctx context.Context, address string) error
	// Disconnect closes the transport and drops the session state.
	Disconnect() error
	// IsConnected returns whether a handshake has completed and the
	// transport is open.
	IsConnected() bool
	// DeviceInfo returns the identity read during the handshake.
	DeviceInfo() (DeviceInfo, bool)

	// SetFingerprint sets the fingerprint of the most recently synced
	// dive. A nil fingerprint downloads everything.
	SetFingerprint(fp []byte)
	// Fingerprint returns the configured fingerprint.
	Fingerprint() []byte

	// ListDives returns the identifiers of the dives on the device,
	// newest first.
	ListDives(ctx context.Context) ([]string, error)
	// DownloadDive downloads the dive with the given identifier. A nil
	// dive with a nil error indicates an empty slot.
	DownloadDive(ctx context.Context, id string) (*ProtocolDive, error)
}

// SampleDecoder decodes the profile region of a downloaded dive.
type SampleDecoder interface {
	Samples(data []byte) ([]Sample, error)
}

// DeviceInfo is the identity of a connected dive computer.
type DeviceInfo struct {
	Model    string
	Firmware string
	Serial   string
	Hardware string // empty when the device does not report it
	Features []string
}

func (i DeviceInfo) String() string {
	var s strings.Builder
	fmt.Fprintf(&s, "%s serial=%s firmware=%s", i.Model, i.Serial, i.Firmware)
	if i.Hardware != "" {
		fmt.Fprintf(&s, " hardware=%s", i.Hardware)
	}
	if len(i.Features) != 0 {
		fmt.Fprintf(&s, " features=%s", strings.Join(i.Features, "|"))
	}
	return s.String()
}

// ProtocolDive is a downloaded dive.
type ProtocolDive struct {
	// Fingerprint identifies the dive for incremental downloads.
	Fingerprint []byte
	// Timestamp is the start of the dive, always in UTC. Devices
	// that keep a wall clock report its fields unchanged.
	Timestamp time.Time
	// Data is the raw dive memory including its header, decompressed
	// where the device compresses it.
	Data []byte
}

// Fields is the set of optional values present in a Sample.
type Fields uint16

const (
	HasTemperature Fields = 1 << iota
	HasPressure
	HasNDL
	HasDeco
	HasHeartbeat
	HasGasMix
	HasPPO2
	HasCNS
)

// Sample is one entry in a dive profile.
type Sample struct {
	Time        time.Duration // since the start of the dive
	Depth       float64       // m
	Temperature float64       // °C
	Pressure    []TankPressure
	NDL         time.Duration
	Deco        Deco
	Heartbeat   int     // bpm
	GasMix      int     // index into the dive's gas mixes
	PPO2        float64 // bar
	CNS         float64 // fraction

	Fields Fields
	Events []Event
}

// Has returns whether all of f are present in the sample.
func (s Sample) Has(f Fields) bool { return s.Fields&f == f }

// TankPressure is a tank pressure reading.
type TankPressure struct {
	Tank int
	Bar  float64
}

// Deco is a decompression ceiling.
type Deco struct {
	Depth float64 // m
	Time  time.Duration
}

// EventType is the type of a sample event.
type EventType uint8

const (
	EventAlarm EventType = iota + 1
	EventGasSwitch
	EventDecoStop
	EventAscent
	EventBookmark
	EventViolation
	EventSafetyStop
)

var eventNames = [...]string{
	EventAlarm:      "alarm",
	EventGasSwitch:  "gas switch",
	EventDecoStop:   "deco stop",
	EventAscent:     "ascent",
	EventBookmark:   "bookmark",
	EventViolation:  "violation",
	EventSafetyStop: "safety stop",
}

func (e EventType) String() string {
	if int(e) < len(eventNames) && eventNames[e] != "" {
		return eventNames[e]
	}
	return fmt.Sprintf("event(%d)", e)
}

// Event is a flagged occurrence attached to a sample.
type Event struct {
	Type  EventType
	Value int
}
