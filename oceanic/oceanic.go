// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package oceanic implements the Oceanic Atom2 family download protocol.
//
// The device memory is read in 16 byte pages. Dives are located through
// a ring of 8 byte logbook entries, each pointing into a ring of profile
// memory.
package oceanic

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wyvernp/pelagic-sub001/dive"
	"github.com/wyvernp/pelagic-sub001/internal/ring"
	"github.com/wyvernp/pelagic-sub001/transport"
	"github.com/wyvernp/pelagic-sub001/wire"
)

// Wire constants.
const (
	ACK = 0x5a
	NAK = 0xa5

	CmdVersion   = 0x84
	CmdRead      = 0xb1
	CmdKeepalive = 0x91
	CmdQuit      = 0x6a

	// PageSize is the size of a memory page.
	PageSize = 16
)

// Memory layout.
const (
	DeviceInfoAddress = 0x0000
	PointersAddress   = 0x0040

	// LogbookEntrySize is the size of a logbook ring entry.
	LogbookEntrySize = 8
)

var (
	// LogbookRing holds the dive logbook entries.
	LogbookRing = ring.Region{Begin: 0x0240, End: 0x0a40}
	// ProfileRing holds the dive profiles.
	ProfileRing = ring.Region{Begin: 0x0a40, End: 0xfe00}
)

// Params returns the transport parameters for the Atom2 family.
func Params(cfg dive.Config) transport.Params {
	return transport.Params{
		Kinds: transport.Serial | transport.BLE,
		Line: dive.LineConfig{
			Baud:     38400,
			DataBits: 8,
			Parity:   dive.NoParity,
			StopBits: dive.OneStopBit,
		},
		Logger: cfg.Logger,
	}
}

// Device is an Oceanic Atom2 family dive computer.
type Device struct {
	cfg  dive.Config
	fp   []byte
	sess *session
}

var (
	_ dive.Protocol      = (*Device)(nil)
	_ dive.SampleDecoder = (*Device)(nil)
)

// New returns a new Device.
func New(opts ...dive.Option) *Device {
	return &Device{cfg: dive.NewConfig(dive.DefaultConfig(), opts...)}
}

// session is the state of one connection.
type session struct {
	t    dive.Transport
	info dive.DeviceInfo

	// cache is a single page cache.
	cachePage  uint32
	cacheValid bool
	cache      [PageSize]byte

	// dives maps listed identifiers to logbook addresses.
	dives map[string]uint32
}

// Connect opens the transport and reads the device version.
func (d *Device) Connect(ctx context.Context, address string) error {
	if d.sess != nil {
		d.Disconnect()
	}
	t, err := d.cfg.Open(ctx, address, transport.NewDialer(Params(d.cfg)))
	if err != nil {
		return fmt.Errorf("failed to open transport: %w", err)
	}
	s := &session{t: t}
	err = d.handshake(ctx, s)
	if err != nil {
		t.Close()
		return err
	}
	d.sess = s
	d.cfg.Logger.Debug().Stringer("device", s.info).Msg("connected")
	return nil
}

func (d *Device) handshake(ctx context.Context, s *session) error {
	if l, ok := s.t.(dive.Line); ok {
		err := l.SetDTR(true)
		if err != nil {
			return err
		}
		err = l.SetRTS(false)
		if err != nil {
			return err
		}
		err = dive.Sleep(ctx, 100*time.Millisecond)
		if err != nil {
			return err
		}
	}
	err := s.t.Purge(dive.Input)
	if err != nil {
		return err
	}

	version := make([]byte, PageSize)
	err = d.transfer(ctx, s, []byte{CmdVersion, 0x00}, version)
	if err != nil {
		return fmt.Errorf("failed to read version: %w", err)
	}
	info := make([]byte, PageSize)
	err = d.read(ctx, s, DeviceInfoAddress, info)
	if err != nil {
		return fmt.Errorf("failed to read device info: %w", err)
	}
	s.info = dive.DeviceInfo{
		Model:    strings.TrimRight(string(version[:10]), " \x00"),
		Firmware: strings.TrimRight(string(version[10:]), " \x00"),
		Serial:   fmt.Sprintf("%02d%02d%02d", wire.BCD(info[0]), wire.BCD(info[1]), wire.BCD(info[2])),
	}
	return nil
}

// transfer sends cmd, waits for the ACK byte and, when answer is not
// empty, reads the answer followed by its add8 checksum.
func (d *Device) transfer(ctx context.Context, s *session, cmd, answer []byte) error {
	return d.cfg.Retry(ctx, fmt.Sprintf("command %#02x", cmd[0]),
		func() error { return s.t.Purge(dive.Input) },
		func() error {
			_, err := s.t.Write(cmd)
			if err != nil {
				return err
			}
			var ack [1]byte
			_, err = s.t.Read(ack[:])
			if err != nil {
				return err
			}
			switch ack[0] {
			case ACK:
			case NAK:
				return dive.Errorf(dive.KindProtocol, "transfer", "command %#02x rejected", cmd[0])
			default:
				return dive.Errorf(dive.KindProtocol, "transfer", "unexpected ack byte %#02x", ack[0])
			}
			if len(answer) == 0 {
				return nil
			}
			buf := make([]byte, len(answer)+1)
			_, err = s.t.Read(buf)
			if err != nil {
				return err
			}
			if sum := wire.Add8(buf[:len(answer)], 0); sum != buf[len(answer)] {
				return dive.Errorf(dive.KindDataFormat, "transfer", "checksum mismatch: got:%#02x want:%#02x", buf[len(answer)], sum)
			}
			copy(answer, buf)
			return nil
		},
	)
}

// readPage reads one page through the page cache.
func (d *Device) readPage(ctx context.Context, s *session, page uint32) ([]byte, error) {
	if s.cacheValid && s.cachePage == page {
		return s.cache[:], nil
	}
	if err := dive.CheckContext(ctx); err != nil {
		return nil, err
	}
	s.cacheValid = false
	err := d.transfer(ctx, s, []byte{CmdRead, byte(page >> 8), byte(page), 0x00}, s.cache[:])
	if err != nil {
		return nil, err
	}
	s.cachePage = page
	s.cacheValid = true
	return s.cache[:], nil
}

// read fills buf from memory starting at addr.
func (d *Device) read(ctx context.Context, s *session, addr uint32, buf []byte) error {
	for n := 0; n < len(buf); {
		a := addr + uint32(n)
		page, err := d.readPage(ctx, s, a/PageSize)
		if err != nil {
			return fmt.Errorf("failed to read address %#04x: %w", a, err)
		}
		n += copy(buf[n:], page[a%PageSize:])
	}
	return nil
}

// Disconnect sends the quit command and closes the transport.
func (d *Device) Disconnect() error {
	s := d.sess
	if s == nil {
		return nil
	}
	d.sess = nil
	_, err := s.t.Write([]byte{CmdQuit, 0x05, 0xa5, 0x00})
	if err != nil {
		d.cfg.Logger.Debug().Err(err).Msg("quit failed")
	}
	return s.t.Close()
}

// Keepalive prevents the device from leaving download mode.
func (d *Device) Keepalive(ctx context.Context) error {
	s, err := d.session()
	if err != nil {
		return err
	}
	return d.transfer(ctx, s, []byte{CmdKeepalive, 0x05, 0xa5, 0x00}, nil)
}

func (d *Device) session() (*session, error) {
	if d.sess == nil {
		return nil, dive.Errorf(dive.KindIO, "oceanic", "not connected")
	}
	return d.sess, nil
}

func (d *Device) IsConnected() bool { return d.sess != nil }

func (d *Device) DeviceInfo() (dive.DeviceInfo, bool) {
	if d.sess == nil {
		return dive.DeviceInfo{}, false
	}
	return d.sess.info, true
}

func (d *Device) SetFingerprint(fp []byte) { d.fp = append([]byte(nil), fp...) }
func (d *Device) Fingerprint() []byte      { return d.fp }

// ListDives walks the logbook ring from the newest entry back to the
// oldest. Identifiers are the hex logbook entry addresses.
func (d *Device) ListDives(ctx context.Context) ([]string, error) {
	s, err := d.session()
	if err != nil {
		return nil, err
	}
	ptrs := make([]byte, PageSize)
	err = d.read(ctx, s, PointersAddress, ptrs)
	if err != nil {
		return nil, fmt.Errorf("failed to read pointers: %w", err)
	}
	first := uint32(binary.LittleEndian.Uint16(ptrs[4:]))
	last := uint32(binary.LittleEndian.Uint16(ptrs[6:]))
	s.dives = make(map[string]uint32)
	if !validEntry(first) || !validEntry(last) {
		d.cfg.Logger.Debug().Uint32("first", first).Uint32("last", last).Msg("empty logbook")
		return nil, nil
	}
	limit := int(LogbookRing.Size() / LogbookEntrySize)
	var ids []string
	for _, a := range LogbookRing.Entries(first, last, LogbookEntrySize, limit) {
		id := fmt.Sprintf("%04x", a)
		s.dives[id] = a
		ids = append(ids, id)
	}
	return ids, nil
}

func validEntry(a uint32) bool {
	return LogbookRing.Contains(a) && (a-LogbookRing.Begin)%LogbookEntrySize == 0
}

// DownloadDive reads the logbook entry and the profile it points to.
func (d *Device) DownloadDive(ctx context.Context, id string) (*dive.ProtocolDive, error) {
	s, err := d.session()
	if err != nil {
		return nil, err
	}
	a, ok := s.dives[id]
	if !ok {
		v, err := strconv.ParseUint(id, 16, 32)
		if err != nil || !validEntry(uint32(v)) {
			return nil, dive.Errorf(dive.KindProtocol, "download", "unknown dive %q", id)
		}
		a = uint32(v)
	}
	entry := make([]byte, LogbookEntrySize)
	err = d.read(ctx, s, a, entry)
	if err != nil {
		return nil, err
	}
	if isBlank(entry) {
		return nil, nil
	}
	begin := uint32(binary.LittleEndian.Uint16(entry[4:])) * PageSize
	end := uint32(binary.LittleEndian.Uint16(entry[6:])) * PageSize
	if !ProfileRing.Contains(begin) || !ProfileRing.Contains(end) {
		return nil, dive.Errorf(dive.KindDataFormat, "download", "profile pointers %#04x-%#04x outside ring", begin, end)
	}
	n := ProfileRing.Distance(begin, end)
	if n == 0 {
		// Equal pointers mark a profile that fills the ring.
		n = ProfileRing.Size()
	}
	profile, err := ProfileRing.Read(begin, n, func(a uint32, p []byte) error {
		return d.read(ctx, s, a, p)
	})
	if err != nil {
		return nil, err
	}
	data := append(append([]byte(nil), entry...), profile...)
	return &dive.ProtocolDive{
		Fingerprint: append([]byte(nil), entry...),
		Timestamp:   timestamp(entry, profile),
		Data:        data,
	}, nil
}

func isBlank(b []byte) bool {
	for _, c := range b {
		if c != 0xff {
			return false
		}
	}
	return true
}
