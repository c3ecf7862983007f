// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package uwatec implements the Scubapro G2, Aladin and Galileo
// download protocol.
//
// The device returns every dive newer than a timestamp threshold as a
// single blob in which each dive starts with a header marker.
package uwatec

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/wyvernp/pelagic-sub001/dive"
	"github.com/wyvernp/pelagic-sub001/transport"
	"github.com/wyvernp/pelagic-sub001/wire"
)

// Wire constants.
const (
	CmdHandshake1 = 0x1b
	CmdHandshake2 = 0x1c
	CmdModel      = 0x10
	CmdSerial     = 0x14
	CmdClock      = 0x1a
	CmdSize       = 0xc6
	CmdData       = 0xc4

	handshakeOK = 0x01

	// ChunkSize is the size of the reads used for the dive blob.
	ChunkSize = 1024

	// Scubapro USB IDs.
	VendorID  = 0x2e6c
	ProductID = 0x3201
)

// Marker starts every dive header in the dive blob.
var Marker = []byte{0xa5, 0xa5, 0x5a, 0x5a}

// magic is sent with the second handshake and the download commands.
var magic = []byte{0x10, 0x27, 0x00, 0x00}

// Epoch is the origin of device timestamps which count half seconds.
var Epoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Time returns the time of a device timestamp.
func Time(ticks uint32) time.Time {
	return Epoch.Add(time.Duration(ticks) * time.Second / 2)
}

var models = map[byte]string{
	0x11: "Galileo Sol",
	0x22: "Aladin Tec",
	0x30: "Aladin Tec 2G",
	0x32: "G2",
	0x34: "Aladin Square",
	0x36: "G2 Console",
	0x38: "Aladin A1",
	0x42: "G2 HUD",
	0x44: "Aladin A2",
	0xa4: "Luna 2.0 AI",
	0xa5: "Luna 2.0",
}

func modelName(m byte) string {
	if name, ok := models[m]; ok {
		return name
	}
	return fmt.Sprintf("Uwatec (%#02x)", m)
}

// Params returns the transport parameters for Scubapro devices.
func Params(cfg dive.Config) transport.Params {
	return transport.Params{
		Kinds:  transport.USBHID | transport.BLE,
		Report: transport.ReportFormat{Size: 32},
		VID:    VendorID,
		PID:    ProductID,
		Logger: cfg.Logger,
	}
}

// Device is a Scubapro dive computer.
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
	clock uint32
	blob  []byte
	dives map[string][]byte
}

// Connect opens the transport, performs the handshake and reads the
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
	d.cfg.Logger.Debug().Stringer("device", s.info).Uint32("clock", s.clock).Msg("connected")
	return nil
}

func (d *Device) handshake(ctx context.Context, s *session) error {
	err := s.t.Purge(dive.All)
	if err != nil {
		return err
	}
	for _, req := range [][]byte{{CmdHandshake1}, append([]byte{CmdHandshake2}, magic...)} {
		var b [1]byte
		err = d.transfer(ctx, s, req, b[:])
		if err != nil {
			return fmt.Errorf("failed handshake %#02x: %w", req[0], err)
		}
		if b[0] != handshakeOK {
			return dive.Errorf(dive.KindProtocol, "handshake", "command %#02x answered %#02x", req[0], b[0])
		}
	}

	var model [1]byte
	err = d.transfer(ctx, s, []byte{CmdModel}, model[:])
	if err != nil {
		return fmt.Errorf("failed to read model: %w", err)
	}
	var serial, clock [4]byte
	err = d.transfer(ctx, s, []byte{CmdSerial}, serial[:])
	if err != nil {
		return fmt.Errorf("failed to read serial number: %w", err)
	}
	err = d.transfer(ctx, s, []byte{CmdClock}, clock[:])
	if err != nil {
		return fmt.Errorf("failed to read clock: %w", err)
	}
	s.clock = binary.LittleEndian.Uint32(clock[:])
	s.info = dive.DeviceInfo{
		Model:    modelName(model[0]),
		Serial:   fmt.Sprint(binary.LittleEndian.Uint32(serial[:])),
		Hardware: fmt.Sprintf("%#02x", model[0]),
	}
	return nil
}

// transfer writes req and reads len(answer) bytes of reply.
func (d *Device) transfer(ctx context.Context, s *session, req, answer []byte) error {
	return d.cfg.Retry(ctx, fmt.Sprintf("command %#02x", req[0]),
		func() error { return s.t.Purge(dive.Input) },
		func() error {
			_, err := s.t.Write(req)
			if err != nil {
				return err
			}
			_, err = s.t.Read(answer)
			return err
		},
	)
}

// threshold returns the timestamp request argument. Only dives newer
// than the fingerprint are requested.
func (d *Device) threshold() []byte {
	if len(d.fp) == 4 {
		return append([]byte(nil), d.fp...)
	}
	return []byte{0, 0, 0, 0}
}

// download reads the dive blob newer than the fingerprint.
func (d *Device) download(ctx context.Context, s *session) ([]byte, error) {
	args := append(d.threshold(), magic...)
	var size [4]byte
	err := d.transfer(ctx, s, append([]byte{CmdSize}, args...), size[:])
	if err != nil {
		return nil, fmt.Errorf("failed to read data size: %w", err)
	}
	n := binary.LittleEndian.Uint32(size[:])
	if n == 0 {
		return nil, nil
	}

	var total [4]byte
	err = d.transfer(ctx, s, append([]byte{CmdData}, args...), total[:])
	if err != nil {
		return nil, fmt.Errorf("failed to request data: %w", err)
	}
	if got := binary.LittleEndian.Uint32(total[:]); got != n+4 {
		return nil, dive.Errorf(dive.KindProtocol, "download", "data length %d does not match size %d", got, n)
	}
	blob := make([]byte, n)
	for off := 0; off < len(blob); off += ChunkSize {
		if err := dive.CheckContext(ctx); err != nil {
			return nil, err
		}
		_, err = s.t.Read(blob[off:min(off+ChunkSize, len(blob))])
		if err != nil {
			return nil, fmt.Errorf("failed to read data at offset %d: %w", off, err)
		}
	}
	return blob, nil
}

// Header layout.
const (
	headerLength    = 4 // LE32 total length including the header
	headerTimestamp = 8 // LE32 half seconds since Epoch
	headerModel     = 12
	headerInterval  = 13 // seconds
	headerTemp      = 14 // LE16 0.1 °C at the start of the dive
	HeaderSize      = 32

	fingerprintSize = 4
)

// ListDives downloads the dive blob and scans it backward for dive
// headers. Identifiers are the hex offsets of the headers, newest first.
func (d *Device) ListDives(ctx context.Context) ([]string, error) {
	s, err := d.session()
	if err != nil {
		return nil, err
	}
	blob, err := d.download(ctx, s)
	if err != nil {
		return nil, err
	}
	s.blob = blob
	s.dives = make(map[string][]byte)
	var ids []string
	end := len(blob)
	for off := wire.SearchBackward(blob, Marker, end); off >= 0; off = wire.SearchBackward(blob, Marker, off+len(Marker)-1) {
		if off+HeaderSize > end {
			d.cfg.Logger.Debug().Int("offset", off).Msg("skipping truncated header")
			continue
		}
		n := int(binary.LittleEndian.Uint32(blob[off+headerLength:]))
		if n < HeaderSize || off+n > end {
			d.cfg.Logger.Debug().Int("offset", off).Int("length", n).Msg("skipping marker with invalid length")
			continue
		}
		id := fmt.Sprintf("%08x", off)
		s.dives[id] = blob[off : off+n]
		ids = append(ids, id)
		end = off
	}
	return ids, nil
}

// DownloadDive returns a dive from the blob read by ListDives.
func (d *Device) DownloadDive(ctx context.Context, id string) (*dive.ProtocolDive, error) {
	s, err := d.session()
	if err != nil {
		return nil, err
	}
	data, ok := s.dives[id]
	if !ok {
		return nil, dive.Errorf(dive.KindProtocol, "download", "unknown dive %q", id)
	}
	fp := data[headerTimestamp : headerTimestamp+fingerprintSize]
	return &dive.ProtocolDive{
		Fingerprint: append([]byte(nil), fp...),
		Timestamp:   Time(binary.LittleEndian.Uint32(fp)),
		Data:        append([]byte(nil), data...),
	}, nil
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
		return nil, dive.Errorf(dive.KindIO, "uwatec", "not connected")
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
