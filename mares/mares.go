// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mares implements the Mares Icon HD and Genius download
// protocol.
package mares

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/wyvernp/pelagic-sub001/dive"
	"github.com/wyvernp/pelagic-sub001/internal/ring"
	"github.com/wyvernp/pelagic-sub001/transport"
)

// Wire constants.
const (
	ACK  = 0x55
	NAK  = 0xaa
	BUSY = 0x66
	END  = 0xea

	CmdVersion = 0xc2
	CmdRead    = 0xe7

	// PacketSize is the largest memory read in one command.
	PacketSize = 256

	// VersionSize is the size of the version reply.
	VersionSize = 140
)

// Version reply layout.
const (
	serialOffset   = 0x0c
	firmwareOffset = 0x10
	firmwareLen    = 8
	modelOffset    = 0x46
	modelLen       = 16
	flashOffset    = 0x60 // LE32 flash size; zero selects DefaultFlashSize
)

// Memory layout.
const (
	// PointerAddress holds the LE32 end of profile pointer.
	PointerAddress = 0x00000000

	// ProfileBegin is the start of the profile ring.
	ProfileBegin = 0x00010000

	// DefaultFlashSize is the flash size used when the device does
	// not report one.
	DefaultFlashSize = 0x00100000
)

// Params returns the transport parameters for Mares devices.
func Params(cfg dive.Config) transport.Params {
	return transport.Params{
		Kinds: transport.Serial | transport.BLE,
		Line: dive.LineConfig{
			Baud:     115200,
			DataBits: 8,
			Parity:   dive.EvenParity,
			StopBits: dive.OneStopBit,
		},
		Logger: cfg.Logger,
	}
}

// Device is a Mares Icon HD or Genius dive computer.
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

type session struct {
	t       dive.Transport
	info    dive.DeviceInfo
	profile ring.Region
	dives   map[string]span
}

// span is the location of a dive in the profile ring.
type span struct {
	addr, size uint32
}

// Connect opens the transport, toggles RTS and reads the version.
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
		for _, on := range []bool{false, true} {
			err := l.SetRTS(on)
			if err != nil {
				return err
			}
			err = dive.Sleep(ctx, 100*time.Millisecond)
			if err != nil {
				return err
			}
		}
	}
	err := s.t.Purge(dive.All)
	if err != nil {
		return err
	}
	version := make([]byte, VersionSize)
	err = d.transfer(ctx, s, CmdVersion, nil, version)
	if err != nil {
		return fmt.Errorf("failed to read version: %w", err)
	}
	flash := binary.LittleEndian.Uint32(version[flashOffset:])
	if flash <= ProfileBegin {
		flash = DefaultFlashSize
	}
	s.profile = ring.Region{Begin: ProfileBegin, End: flash}
	s.info = dive.DeviceInfo{
		Model:    text(version[modelOffset : modelOffset+modelLen]),
		Firmware: text(version[firmwareOffset : firmwareOffset+firmwareLen]),
		Serial:   fmt.Sprint(binary.LittleEndian.Uint32(version[serialOffset:])),
	}
	return nil
}

func text(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(string(b))
}

// transfer sends the two byte command, waits for its acknowledgement,
// sends params when present and reads answer followed by the END byte.
func (d *Device) transfer(ctx context.Context, s *session, cmd byte, params, answer []byte) error {
	return d.cfg.Retry(ctx, fmt.Sprintf("command %#02x", cmd),
		func() error { return s.t.Purge(dive.Input) },
		func() error {
			_, err := s.t.Write([]byte{cmd, cmd ^ 0xa5})
			if err != nil {
				return err
			}
			err = ack(s, cmd)
			if err != nil {
				return err
			}
			if len(params) != 0 {
				_, err = s.t.Write(params)
				if err != nil {
					return err
				}
				err = ack(s, cmd)
				if err != nil {
					return err
				}
			}
			_, err = s.t.Read(answer)
			if err != nil {
				return err
			}
			var end [1]byte
			_, err = s.t.Read(end[:])
			if err != nil {
				return err
			}
			if end[0] != END {
				return dive.Errorf(dive.KindProtocol, "transfer", "unexpected trailer %#02x", end[0])
			}
			return nil
		},
	)
}

func ack(s *session, cmd byte) error {
	var b [1]byte
	_, err := s.t.Read(b[:])
	if err != nil {
		return err
	}
	switch b[0] {
	case ACK:
		return nil
	case NAK:
		return dive.Errorf(dive.KindProtocol, "transfer", "command %#02x rejected", cmd)
	case BUSY:
		return dive.Errorf(dive.KindTimeout, "transfer", "device busy")
	default:
		return dive.Errorf(dive.KindProtocol, "transfer", "unexpected header %#02x", b[0])
	}
}

// read fills buf from memory starting at addr in packets.
func (d *Device) read(ctx context.Context, s *session, addr uint32, buf []byte) error {
	for n := 0; n < len(buf); n += PacketSize {
		if err := dive.CheckContext(ctx); err != nil {
			return err
		}
		p := buf[n:min(n+PacketSize, len(buf))]
		a := addr + uint32(n)
		params := binary.LittleEndian.AppendUint32(nil, a)
		params = binary.LittleEndian.AppendUint32(params, uint32(len(p)))
		err := d.transfer(ctx, s, CmdRead, params, p)
		if err != nil {
			return fmt.Errorf("failed to read %d bytes at %#08x: %w", len(p), a, err)
		}
	}
	return nil
}

func (d *Device) readRing(ctx context.Context, s *session, addr, n uint32) ([]byte, error) {
	return s.profile.Read(addr, n, func(a uint32, p []byte) error {
		return d.read(ctx, s, a, p)
	})
}

// Disconnect closes the transport.
func (d *Device) Disconnect() error {
	s := d.sess
	if s == nil {
		return nil
	}
	d.sess = nil
	return s.t.Close()
}

func (d *Device) session() (*session, error) {
	if d.sess == nil {
		return nil, dive.Errorf(dive.KindIO, "mares", "not connected")
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

// trailerSize is the size of the LE32 length that ends each dive.
const trailerSize = 4

// ListDives walks the profile ring backward from the end of profile
// pointer. Each dive ends with its total length, including the length
// field, which locates the start of the dive and the end of the one
// before it. Identifiers are the hex dive start addresses.
func (d *Device) ListDives(ctx context.Context) ([]string, error) {
	s, err := d.session()
	if err != nil {
		return nil, err
	}
	var ptr [4]byte
	err = d.read(ctx, s, PointerAddress, ptr[:])
	if err != nil {
		return nil, fmt.Errorf("failed to read end of profile pointer: %w", err)
	}
	end := binary.LittleEndian.Uint32(ptr[:])
	s.dives = make(map[string]span)
	if !s.profile.Contains(end) {
		d.cfg.Logger.Debug().Uint32("pointer", end).Msg("empty profile ring")
		return nil, nil
	}
	var (
		ids    []string
		walked uint32
	)
	for walked < s.profile.Size() {
		trailer, err := d.readRing(ctx, s, s.profile.Decrement(end, trailerSize), trailerSize)
		if err != nil {
			return nil, err
		}
		size := binary.LittleEndian.Uint32(trailer)
		if size <= trailerSize || size == 0xffffffff || walked+size > s.profile.Size() {
			break
		}
		start := s.profile.Decrement(end, size)
		id := fmt.Sprintf("%08x", start)
		s.dives[id] = span{addr: start, size: size}
		ids = append(ids, id)
		walked += size
		end = start
	}
	return ids, nil
}

// DownloadDive reads the records of a listed dive.
func (d *Device) DownloadDive(ctx context.Context, id string) (*dive.ProtocolDive, error) {
	s, err := d.session()
	if err != nil {
		return nil, err
	}
	sp, ok := s.dives[id]
	if !ok {
		return nil, dive.Errorf(dive.KindProtocol, "download", "unknown dive %q", id)
	}
	data, err := d.readRing(ctx, s, sp.addr, sp.size-trailerSize)
	if err != nil {
		return nil, err
	}
	start, ok := d.start(data)
	if !ok {
		return nil, dive.Errorf(dive.KindDataFormat, "download", "dive %s has no valid start record", id)
	}
	return &dive.ProtocolDive{
		Fingerprint: append([]byte(nil), start[:timestampSize]...),
		Timestamp:   timestamp(start),
		Data:        data,
	}, nil
}
