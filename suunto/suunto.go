// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package suunto implements the Suunto EON Steel, EON Core and D5
// download protocol.
//
// Every request and reply starts with a twelve byte little endian
// header holding the command, the session magic, a sequence number and
// the payload length. The device exposes its dive logs through a small
// set of filesystem commands.
package suunto

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/wyvernp/pelagic-sub001/dive"
	"github.com/wyvernp/pelagic-sub001/transport"
)

// Commands.
const (
	CmdInit      = 0x0000
	CmdFileOpen  = 0x0010
	CmdFileRead  = 0x0110
	CmdFileClose = 0x0510
	CmdFileStat  = 0x0710
	CmdDirOpen   = 0x0810
	CmdDirRead   = 0x0910
	CmdDirClose  = 0x0a10
)

const (
	// HeaderSize is the size of the packet header.
	HeaderSize = 12

	// MaxPayload bounds the payload length of a reply.
	MaxPayload = 1 << 16

	// ChunkSize is the size of file reads.
	ChunkSize = 1024

	// MagicStep is the difference between the magic of a request and
	// that of its reply.
	MagicStep = 5

	// Suunto USB IDs.
	VendorID      = 0x1493
	ProductEON    = 0x0030
	ProductCore   = 0x0033
	ProductD5     = 0x0035
	hidReportID   = 0x3f
	hidReportSize = 64
)

var initPayload = []byte{0x02, 0x00, 0x2a, 0x00}

// INIT reply layout.
const (
	identModel    = 0
	identSerial   = 16
	identFirmware = 32
	identHardware = 36
	identSize     = 40
)

// Params returns the transport parameters for Suunto devices.
func Params(cfg dive.Config) transport.Params {
	return transport.Params{
		Kinds:  transport.USBHID | transport.BLE,
		Report: transport.ReportFormat{Size: hidReportSize, ID: hidReportID, HasID: true},
		VID:    VendorID,
		PID:    ProductEON,
		Logger: cfg.Logger,
	}
}

// Device is a Suunto EON Steel family dive computer.
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
	t     dive.Transport
	info  dive.DeviceInfo
	magic uint32
	seq   uint16

	// lost is set when a reply breaks the magic or sequence
	// discipline. It is returned by all later requests.
	lost error

	dives map[string]uint32
}

// Connect opens the transport and establishes the session magic.
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
	d.cfg.Logger.Debug().Stringer("device", s.info).Uint32("magic", s.magic).Msg("connected")
	return nil
}

func (d *Device) handshake(ctx context.Context, s *session) error {
	err := s.t.Purge(dive.All)
	if err != nil {
		return err
	}
	ident, err := d.transfer(ctx, s, CmdInit, initPayload)
	if err != nil {
		return fmt.Errorf("failed to initialise session: %w", err)
	}
	if len(ident) < identSize {
		return dive.Errorf(dive.KindDataFormat, "handshake", "short identity: %d bytes", len(ident))
	}
	fw := ident[identFirmware:]
	hw := ident[identHardware:]
	s.info = dive.DeviceInfo{
		Model:    text(ident[identModel:identSerial]),
		Serial:   text(ident[identSerial:identFirmware]),
		Firmware: fmt.Sprintf("%d.%d.%d", fw[0], fw[1], fw[2]),
		Hardware: fmt.Sprintf("%d.%d.%d", hw[0], hw[1], hw[2]),
	}
	return nil
}

func text(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(string(b))
}

// header is a packet header.
type header struct {
	cmd   uint16
	magic uint32
	seq   uint16
	len   uint32
}

func (h header) append(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, h.cmd)
	dst = binary.LittleEndian.AppendUint32(dst, h.magic)
	dst = binary.LittleEndian.AppendUint16(dst, h.seq)
	return binary.LittleEndian.AppendUint32(dst, h.len)
}

func parseHeader(b []byte) header {
	return header{
		cmd:   binary.LittleEndian.Uint16(b),
		magic: binary.LittleEndian.Uint32(b[2:]),
		seq:   binary.LittleEndian.Uint16(b[6:]),
		len:   binary.LittleEndian.Uint32(b[8:]),
	}
}

// transfer sends one request and returns the reply payload. The INIT
// reply establishes the session magic. Every other reply must echo the
// command and carry the session magic plus MagicStep and the request
// sequence number. A reply that does not loses the session.
func (d *Device) transfer(ctx context.Context, s *session, cmd uint16, payload []byte) ([]byte, error) {
	if s.lost != nil {
		return nil, s.lost
	}
	var reply []byte
	err := d.cfg.Retry(ctx, fmt.Sprintf("command %#04x", cmd),
		func() error { return s.t.Purge(dive.Input) },
		func() error {
			req := header{cmd: cmd, magic: s.magic, seq: s.seq, len: uint32(len(payload))}.append(nil)
			_, err := s.t.Write(append(req, payload...))
			if err != nil {
				return err
			}
			var b [HeaderSize]byte
			_, err = s.t.Read(b[:])
			if err != nil {
				return err
			}
			h := parseHeader(b[:])
			switch {
			case h.cmd != cmd:
				s.lost = dive.Errorf(dive.KindProtocol, "transfer", "%w: reply command %#04x to command %#04x", dive.ErrSessionLost, h.cmd, cmd)
			case cmd != CmdInit && h.magic != s.magic+MagicStep:
				s.lost = dive.Errorf(dive.KindProtocol, "transfer", "%w: reply magic %#08x, want %#08x", dive.ErrSessionLost, h.magic, s.magic+MagicStep)
			case h.seq != s.seq:
				s.lost = dive.Errorf(dive.KindProtocol, "transfer", "%w: reply sequence %d, want %d", dive.ErrSessionLost, h.seq, s.seq)
			case h.len > MaxPayload:
				return dive.Errorf(dive.KindDataFormat, "transfer", "reply length %d exceeds limit", h.len)
			}
			if s.lost != nil {
				return s.lost
			}
			reply = make([]byte, h.len)
			_, err = s.t.Read(reply)
			if err != nil {
				return err
			}
			if cmd == CmdInit {
				s.magic = h.magic
			}
			s.seq++
			return nil
		},
	)
	return reply, err
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
		return nil, dive.Errorf(dive.KindIO, "suunto", "not connected")
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
