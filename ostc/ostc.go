// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ostc implements the Heinrichs-Weikamp OSTC3, OSTC4 and OSTC
// Sport download protocol.
package ostc

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wyvernp/pelagic-sub001/dive"
	"github.com/wyvernp/pelagic-sub001/transport"
)

// Wire constants.
const (
	CmdInit     = 0xbb
	CmdIdentity = 0x69
	CmdHeaders  = 0x61
	CmdDive     = 0x66
	CmdExit     = 0xff

	// Ready terminates every command reply.
	Ready = 0x4d

	IdentitySize = 64

	// HeaderSize is the size of one logbook header and Slots the
	// number of header slots.
	HeaderSize = 256
	Slots      = 256
)

// Header layout.
var (
	headerBegin = []byte{0xfa, 0xfa}
	headerEnd   = []byte{0xfb, 0xfb}
)

const (
	lengthOffset    = 2  // uint24 LE profile length
	dateOffset      = 12 // year-2000, month, day, hour, minute
	dateSize        = 5
	numberOffset    = 80 // LE16 dive number
	headerEndOffset = 254
)

// Params returns the transport parameters for OSTC devices.
func Params(cfg dive.Config) transport.Params {
	return transport.Params{
		Kinds: transport.Serial | transport.BLE | transport.Bluetooth,
		Line: dive.LineConfig{
			Baud:     115200,
			DataBits: 8,
			Parity:   dive.NoParity,
			StopBits: dive.OneStopBit,
		},
		Logger: cfg.Logger,
	}
}

// Device is an OSTC dive computer.
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
	headers []byte
}

// Connect opens the transport, enters download mode and reads the
// device identity.
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
	err := s.t.Purge(dive.Input)
	if err != nil {
		return err
	}
	err = d.command(ctx, s, CmdInit, nil)
	if err != nil {
		return fmt.Errorf("failed to enter download mode: %w", err)
	}
	id := make([]byte, IdentitySize)
	err = d.command(ctx, s, CmdIdentity, id)
	if err != nil {
		return fmt.Errorf("failed to read identity: %w", err)
	}
	s.info = dive.DeviceInfo{
		Model:    "OSTC",
		Serial:   strconv.Itoa(int(binary.LittleEndian.Uint16(id))),
		Firmware: fmt.Sprintf("%d.%02d", id[2], id[3]),
	}
	if text := strings.TrimRight(string(id[4:]), " \x00"); text != "" {
		s.info.Features = []string{text}
	}
	return nil
}

// command sends cmd followed by params, checks the echo and reads
// answer and the ready byte.
func (d *Device) command(ctx context.Context, s *session, cmd byte, answer []byte, params ...byte) error {
	return d.cfg.Retry(ctx, fmt.Sprintf("command %#02x", cmd),
		func() error { return s.t.Purge(dive.Input) },
		func() error {
			_, err := s.t.Write([]byte{cmd})
			if err != nil {
				return err
			}
			var echo [1]byte
			_, err = s.t.Read(echo[:])
			if err != nil {
				return err
			}
			if echo[0] != cmd {
				return dive.Errorf(dive.KindProtocol, "command", "unexpected echo %#02x for command %#02x", echo[0], cmd)
			}
			if len(params) != 0 {
				_, err = s.t.Write(params)
				if err != nil {
					return err
				}
			}
			if cmd == CmdExit {
				return nil
			}
			if len(answer) != 0 {
				_, err = s.t.Read(answer)
				if err != nil {
					return err
				}
			}
			var ready [1]byte
			_, err = s.t.Read(ready[:])
			if err != nil {
				return err
			}
			if ready[0] != Ready {
				return dive.Errorf(dive.KindProtocol, "command", "unexpected ready byte %#02x", ready[0])
			}
			return nil
		},
	)
}

// Disconnect leaves download mode and closes the transport.
func (d *Device) Disconnect() error {
	s := d.sess
	if s == nil {
		return nil
	}
	d.sess = nil
	err := d.command(context.Background(), s, CmdExit, nil)
	if err != nil {
		d.cfg.Logger.Debug().Err(err).Msg("exit failed")
	}
	return s.t.Close()
}

func (d *Device) session() (*session, error) {
	if d.sess == nil {
		return nil, dive.Errorf(dive.KindIO, "ostc", "not connected")
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

func validHeader(h []byte) bool {
	return bytes.HasPrefix(h, headerBegin) && bytes.Equal(h[headerEndOffset:HeaderSize], headerEnd)
}

func header(headers []byte, slot int) []byte {
	return headers[slot*HeaderSize : (slot+1)*HeaderSize]
}

// ListDives reads the logbook headers and walks the slot ring from the
// dive with the highest dive number back to the first empty slot.
// Identifiers are slot numbers.
func (d *Device) ListDives(ctx context.Context) ([]string, error) {
	s, err := d.session()
	if err != nil {
		return nil, err
	}
	headers := make([]byte, Slots*HeaderSize)
	err = d.command(ctx, s, CmdHeaders, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to read headers: %w", err)
	}
	s.headers = headers

	newest, highest := -1, -1
	for slot := range Slots {
		h := header(headers, slot)
		if !validHeader(h) {
			continue
		}
		if n := int(binary.LittleEndian.Uint16(h[numberOffset:])); n > highest {
			newest, highest = slot, n
		}
	}
	if newest < 0 {
		return nil, nil
	}
	var ids []string
	for i := range Slots {
		slot := (newest - i + Slots) % Slots
		if !validHeader(header(headers, slot)) {
			break
		}
		ids = append(ids, strconv.Itoa(slot))
	}
	return ids, nil
}

// DownloadDive downloads the header and profile in a slot.
func (d *Device) DownloadDive(ctx context.Context, id string) (*dive.ProtocolDive, error) {
	s, err := d.session()
	if err != nil {
		return nil, err
	}
	slot, err := strconv.Atoi(id)
	if err != nil || slot < 0 || slot >= Slots || s.headers == nil {
		return nil, dive.Errorf(dive.KindProtocol, "download", "unknown dive %q", id)
	}
	h := header(s.headers, slot)
	if !validHeader(h) {
		return nil, nil
	}
	n := profileLength(h)
	data := make([]byte, HeaderSize+n)
	err = d.command(ctx, s, CmdDive, data, byte(slot))
	if err != nil {
		return nil, fmt.Errorf("failed to read dive %d: %w", slot, err)
	}
	if !bytes.Equal(data[:HeaderSize], h) {
		return nil, dive.Errorf(dive.KindDataFormat, "download", "dive %d header differs from logbook", slot)
	}
	return &dive.ProtocolDive{
		Fingerprint: append([]byte(nil), h[dateOffset:dateOffset+dateSize]...),
		Timestamp:   timestamp(h),
		Data:        data,
	}, nil
}

func profileLength(h []byte) int {
	return int(h[lengthOffset]) | int(h[lengthOffset+1])<<8 | int(h[lengthOffset+2])<<16
}

func timestamp(h []byte) time.Time {
	t := h[dateOffset:]
	return time.Date(2000+int(t[0]), time.Month(t[1]), int(t[2]), int(t[3]), int(t[4]), 0, 0, time.UTC)
}
