// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package shearwater implements the Shearwater Petrel, Perdix and Teric
// download protocol.
//
// Requests and replies are SLIP framed packets with a four byte header.
// Device memory is read with a block transfer that is optionally
// compressed with a run length encoding followed by a stride XOR delta.
package shearwater

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/wyvernp/pelagic-sub001/dive"
	"github.com/wyvernp/pelagic-sub001/transport"
	"github.com/wyvernp/pelagic-sub001/wire"
)

// Wire constants.
const (
	CmdRDBI     = 0x22
	RspRDBI     = 0x62
	CmdInit     = 0x35
	RspInit     = 0x75
	CmdBlock    = 0x36
	RspBlock    = 0x76
	CmdQuit     = 0x37
	RspQuit     = 0x77
	RspNAK      = 0x7f
	compression = 0x10

	// Data identifiers read with RDBI.
	IDSerial   = 0x8010
	IDFirmware = 0x8011
	IDHardware = 0x8050

	// MaxPacket is the largest packet payload.
	MaxPacket = 254
)

// Memory layout.
const (
	ManifestAddress = 0xe0000000
	ManifestSize    = 0x600
	ManifestPages   = 8
	RecordSize      = 32
	DiveBase        = 0xc0000000

	// MaxDiveSize bounds a decompressed dive.
	MaxDiveSize = 0xffffff

	manifestValid   = 0xa5c4
	manifestDeleted = 0x5a23
)

var (
	requestHeader = []byte{0xff, 0x01}
	replyHeader   = []byte{0x01, 0xff}
)

// Params returns the transport parameters for Shearwater devices.
func Params(cfg dive.Config) transport.Params {
	return transport.Params{
		Kinds: transport.Serial | transport.BLE | transport.Bluetooth,
		Line: dive.LineConfig{
			Baud:     115200,
			DataBits: 8,
			Parity:   dive.NoParity,
			StopBits: dive.OneStopBit,
		},
		Framing: transport.CountIndexFraming,
		Logger:  cfg.Logger,
	}
}

// Device is a Shearwater dive computer.
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
	dives map[string]manifestRecord
}

// Connect opens the transport and reads the device identity.
func (d *Device) Connect(ctx context.Context, address string) error {
	if d.sess != nil {
		d.Disconnect()
	}
	t, err := d.cfg.Open(ctx, address, transport.NewDialer(Params(d.cfg)))
	if err != nil {
		return fmt.Errorf("failed to open transport: %w", err)
	}
	s := &session{t: t}
	err = d.identify(ctx, s)
	if err != nil {
		t.Close()
		return err
	}
	d.sess = s
	d.cfg.Logger.Debug().Stringer("device", s.info).Msg("connected")
	return nil
}

func (d *Device) identify(ctx context.Context, s *session) error {
	err := s.t.Purge(dive.All)
	if err != nil {
		return err
	}
	serial, err := d.rdbi(ctx, s, IDSerial)
	if err != nil {
		return fmt.Errorf("failed to read serial number: %w", err)
	}
	firmware, err := d.rdbi(ctx, s, IDFirmware)
	if err != nil {
		return fmt.Errorf("failed to read firmware version: %w", err)
	}
	hardware, err := d.rdbi(ctx, s, IDHardware)
	if err != nil {
		return fmt.Errorf("failed to read hardware type: %w", err)
	}
	if len(hardware) < 2 {
		return dive.Errorf(dive.KindDataFormat, "identify", "short hardware type: %x", hardware)
	}
	hw := binary.BigEndian.Uint16(hardware)
	s.info = dive.DeviceInfo{
		Model:    modelName(hw),
		Serial:   serialNumber(serial),
		Firmware: firmwareVersion(firmware),
		Hardware: fmt.Sprintf("%#04x", hw),
	}
	return nil
}

var models = map[uint16]string{
	0x0404: "Petrel",
	0x0505: "Petrel",
	0x0808: "Petrel 2",
	0x0909: "Petrel 2",
	0x0a0a: "Perdix",
	0x0b0b: "Perdix AI",
	0x0c0c: "Teric",
	0x0d0d: "Peregrine",
	0x0e0e: "Petrel 3",
	0x0f0f: "Perdix 2",
}

func modelName(hw uint16) string {
	if name, ok := models[hw]; ok {
		return name
	}
	return fmt.Sprintf("Shearwater (%#04x)", hw)
}

// serialNumber decodes the eight ASCII hex digit serial number.
func serialNumber(b []byte) string {
	s := strings.TrimRight(string(b), "\x00 ")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return s
	}
	return strconv.FormatUint(v, 10)
}

// firmwareVersion strips the leading letter of the firmware string.
func firmwareVersion(b []byte) string {
	s := strings.TrimRight(string(b), "\x00 ")
	if len(s) > 1 && (s[0] < '0' || s[0] > '9') {
		s = s[1:]
	}
	return s
}

// send writes one SLIP framed request packet.
func send(s *session, payload []byte) error {
	if len(payload) > MaxPacket {
		return dive.Errorf(dive.KindProtocol, "send", "packet too long: %d bytes", len(payload))
	}
	pkt := append([]byte(nil), requestHeader...)
	pkt = append(pkt, byte(len(payload)+1), 0x00)
	_, err := s.t.Write(wire.SLIPEncode(append(pkt, payload...)))
	return err
}

// receive reads one SLIP framed reply packet and returns its payload.
// Empty frames are skipped.
func receive(s *session) ([]byte, error) {
	dec := wire.SLIPDecoder{Max: MaxPacket + 4}
	var b [1]byte
	for {
		_, err := s.t.Read(b[:])
		if err != nil {
			return nil, err
		}
		done, err := dec.Feed(b[0])
		if err != nil {
			return nil, dive.Errorf(dive.KindDataFormat, "receive", "%w", err)
		}
		if !done {
			continue
		}
		frame := dec.Frame()
		if len(frame) == 0 {
			continue
		}
		if len(frame) < 4 || frame[0] != replyHeader[0] || frame[1] != replyHeader[1] || frame[3] != 0 {
			return nil, dive.Errorf(dive.KindProtocol, "receive", "unexpected packet header: %x", frame[:min(len(frame), 4)])
		}
		if n := int(frame[2]); n != len(frame)-3 {
			return nil, dive.Errorf(dive.KindDataFormat, "receive", "packet length %d does not match frame length %d", n-1, len(frame)-4)
		}
		return frame[4:], nil
	}
}

// transfer sends req and returns the reply payload, checking that it
// starts with rsp and is at least n bytes long.
func (d *Device) transfer(ctx context.Context, s *session, req []byte, rsp byte, n int) ([]byte, error) {
	var reply []byte
	err := d.cfg.Retry(ctx, fmt.Sprintf("request %#02x", req[0]),
		func() error { return s.t.Purge(dive.Input) },
		func() error {
			err := send(s, req)
			if err != nil {
				return err
			}
			reply, err = receive(s)
			if err != nil {
				return err
			}
			if len(reply) >= 3 && reply[0] == RspNAK {
				return dive.Errorf(dive.KindProtocol, "transfer", "request %#02x rejected with code %#02x", reply[1], reply[2])
			}
			if len(reply) < n || reply[0] != rsp {
				return dive.Errorf(dive.KindProtocol, "transfer", "unexpected reply %x to request %#02x", reply, req[0])
			}
			return nil
		},
	)
	return reply, err
}

// rdbi reads the data identifier id.
func (d *Device) rdbi(ctx context.Context, s *session, id uint16) ([]byte, error) {
	req := []byte{CmdRDBI, byte(id >> 8), byte(id)}
	reply, err := d.transfer(ctx, s, req, RspRDBI, 3)
	if err != nil {
		return nil, err
	}
	if binary.BigEndian.Uint16(reply[1:]) != id {
		return nil, dive.Errorf(dive.KindProtocol, "rdbi", "reply for identifier %#04x", binary.BigEndian.Uint16(reply[1:]))
	}
	return reply[3:], nil
}

// download reads size bytes of memory at addr. When compressed is true
// the transfer ends at the end of the compressed stream and the
// decompressed data is returned.
func (d *Device) download(ctx context.Context, s *session, addr uint32, size int, compressed bool) ([]byte, error) {
	var flag byte
	if compressed {
		flag = compression
	}
	req := []byte{CmdInit, flag, 0x34}
	req = binary.BigEndian.AppendUint32(req, addr)
	req = append(req, byte(size>>16), byte(size>>8), byte(size))
	reply, err := d.transfer(ctx, s, req, RspInit, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise download at %#08x: %w", addr, err)
	}
	if reply[1] != 0x10 {
		return nil, dive.Errorf(dive.KindProtocol, "download", "unexpected init reply %x", reply)
	}

	var (
		raw []byte
		lre = lreDecoder{max: MaxDiveSize}
	)
	for block := 1; ; block++ {
		if err := dive.CheckContext(ctx); err != nil {
			return nil, err
		}
		reply, err := d.transfer(ctx, s, []byte{CmdBlock, byte(block)}, RspBlock, 2)
		if err != nil {
			return nil, fmt.Errorf("failed to read block %d: %w", block, err)
		}
		if reply[1] != byte(block) {
			return nil, dive.Errorf(dive.KindProtocol, "download", "block %d reply for block %d", block, reply[1])
		}
		data := reply[2:]
		if len(data) == 0 {
			return nil, dive.Errorf(dive.KindProtocol, "download", "empty block %d", block)
		}
		if compressed {
			done, err := lre.Write(data)
			if err != nil {
				return nil, dive.Errorf(dive.KindDataFormat, "download", "%w", err)
			}
			if done {
				break
			}
			continue
		}
		raw = append(raw, data...)
		if len(raw) >= size {
			raw = raw[:size]
			break
		}
	}

	_, err = d.transfer(ctx, s, []byte{CmdQuit}, RspQuit, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to finish download: %w", err)
	}
	if compressed {
		out := lre.Bytes()
		unxor(out)
		return out, nil
	}
	return raw, nil
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
		return nil, dive.Errorf(dive.KindIO, "shearwater", "not connected")
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
