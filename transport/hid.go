// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"
	"github.com/rs/zerolog"

	"github.com/wyvernp/pelagic-sub001/dive"
)

// ReportFormat describes how a payload stream is carried in fixed size
// HID reports. Each report holds an optional report ID byte, a payload
// length byte and up to Size minus the header bytes of payload, padded
// with zeros.
type ReportFormat struct {
	// Size is the total report size including the header bytes.
	Size int

	// ID is the report ID. It is sent as the first byte of each
	// report when HasID is true.
	ID    byte
	HasID bool
}

func (f ReportFormat) header() int {
	if f.HasID {
		return 2
	}
	return 1
}

// MaxPayload returns the number of payload bytes carried by one report.
func (f ReportFormat) MaxPayload() int {
	return min(f.Size-f.header(), 0xff)
}

// Encode splits p into reports.
func (f ReportFormat) Encode(p []byte) [][]byte {
	size := f.MaxPayload()
	var reports [][]byte
	for {
		n := min(len(p), size)
		r := make([]byte, f.Size)
		i := 0
		if f.HasID {
			r[0] = f.ID
			i++
		}
		r[i] = byte(n)
		copy(r[i+1:], p[:n])
		reports = append(reports, r)
		p = p[n:]
		if len(p) == 0 {
			return reports
		}
	}
}

// Decode returns the payload carried by the report r.
func (f ReportFormat) Decode(r []byte) ([]byte, error) {
	h := f.header()
	if len(r) < h {
		return nil, dive.Errorf(dive.KindDataFormat, "decode report", "short report: %d bytes", len(r))
	}
	if f.HasID && r[0] != f.ID {
		return nil, dive.Errorf(dive.KindDataFormat, "decode report", "unexpected report id %#02x", r[0])
	}
	n := int(r[h-1])
	if n > len(r)-h {
		return nil, dive.Errorf(dive.KindDataFormat, "decode report", "payload length %d exceeds report", n)
	}
	return r[h : h+n], nil
}

// HID is a USB HID transport implemented with gousb. Reports are read
// from the interrupt IN endpoint. Writes use the interrupt OUT endpoint
// when the interface has one and HID SET_REPORT control transfers
// otherwise.
type HID struct {
	*fifo

	vid, pid gousb.ID
	format   ReportFormat
	log      zerolog.Logger

	mu      sync.Mutex
	usb     *gousb.Context
	dev     *gousb.Device
	intf    *gousb.Interface
	release func()
	in      *gousb.InEndpoint
	out     *gousb.OutEndpoint
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ dive.Transport = (*HID)(nil)

// NewHID returns an unopened HID transport for the device with the given
// vendor and product IDs.
func NewHID(vid, pid uint16, format ReportFormat, log zerolog.Logger) *HID {
	return &HID{
		fifo:   newFIFO(DefaultFIFOSize),
		vid:    gousb.ID(vid),
		pid:    gousb.ID(pid),
		format: format,
		log:    log.With().Str("transport", "usbhid").Str("device", fmt.Sprintf("%s:%s", gousb.ID(vid), gousb.ID(pid))).Logger(),
	}
}

// Open opens the device, claims its default interface and starts the
// report reader.
func (h *HID) Open(ctx context.Context) error {
	if err := dive.CheckContext(ctx); err != nil {
		return err
	}
	usb := gousb.NewContext()
	dev, err := usb.OpenDeviceWithVIDPID(h.vid, h.pid)
	if err != nil {
		usb.Close()
		return &dive.Error{Kind: dive.KindIO, Op: "open", Err: err}
	}
	if dev == nil {
		usb.Close()
		return dive.Errorf(dive.KindNoDevice, "open", "no usb device %s:%s", h.vid, h.pid)
	}
	err = dev.SetAutoDetach(true)
	if err != nil {
		h.log.Debug().Err(err).Msg("auto detach unavailable")
	}
	intf, release, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		usb.Close()
		return &dive.Error{Kind: dive.KindIO, Op: "claim interface", Err: err}
	}

	var in *gousb.InEndpoint
	var out *gousb.OutEndpoint
	for _, ep := range intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeInterrupt {
			continue
		}
		switch ep.Direction {
		case gousb.EndpointDirectionIn:
			if in == nil {
				in, err = intf.InEndpoint(ep.Number)
			}
		case gousb.EndpointDirectionOut:
			if out == nil {
				out, err = intf.OutEndpoint(ep.Number)
			}
		}
		if err != nil {
			release()
			dev.Close()
			usb.Close()
			return &dive.Error{Kind: dive.KindIO, Op: "open endpoint", Err: err}
		}
	}
	if in == nil {
		release()
		dev.Close()
		usb.Close()
		return dive.Errorf(dive.KindUnsupported, "open", "no interrupt in endpoint")
	}

	rctx, cancel := context.WithCancel(context.Background())
	h.mu.Lock()
	h.usb, h.dev, h.intf, h.release = usb, dev, intf, release
	h.in, h.out = in, out
	h.cancel = cancel
	h.mu.Unlock()
	h.fifo.reset()

	h.wg.Add(1)
	go h.read(rctx, in)
	h.log.Debug().Bool("out_endpoint", out != nil).Msg("opened")
	return nil
}

func (h *HID) read(ctx context.Context, in *gousb.InEndpoint) {
	defer h.wg.Done()
	buf := make([]byte, max(in.Desc.MaxPacketSize, h.format.Size))
	for {
		n, err := in.ReadContext(ctx, buf)
		if err != nil {
			if ctx.Err() == nil {
				h.log.Debug().Err(err).Msg("reader stopped")
				h.fifo.fail(err)
			}
			return
		}
		p, err := h.format.Decode(buf[:n])
		if err != nil {
			h.log.Debug().Err(err).Hex("report", buf[:n]).Msg("dropping report")
			continue
		}
		h.fifo.push(p)
	}
}

// Close stops the reader and releases the device.
func (h *HID) Close() error {
	h.mu.Lock()
	cancel := h.cancel
	h.cancel = nil
	h.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	h.wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.release()
	err := errors.Join(h.dev.Close(), h.usb.Close())
	h.usb, h.dev, h.intf, h.release, h.in, h.out = nil, nil, nil, nil, nil, nil
	if err != nil {
		return &dive.Error{Kind: dive.KindIO, Op: "close", Err: err}
	}
	return nil
}

// hidSetReport is the HID class SET_REPORT request with an output
// report type.
const (
	hidSetReport    = 0x09
	hidOutputReport = 0x02
)

// writeTimeout bounds each report transfer.
const writeTimeout = time.Second

// Write sends p split across as many reports as needed.
func (h *HID) Write(p []byte) (int, error) {
	h.mu.Lock()
	dev, intf, out := h.dev, h.intf, h.out
	h.mu.Unlock()
	if dev == nil {
		return 0, dive.Errorf(dive.KindIO, "write", "device not open")
	}
	var n int
	for _, r := range h.format.Encode(p) {
		var err error
		if out != nil {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			_, err = out.WriteContext(ctx, r)
			cancel()
		} else {
			req := uint8(gousb.ControlOut | gousb.ControlClass | gousb.ControlInterface)
			_, err = dev.Control(req, hidSetReport, hidOutputReport<<8|uint16(h.format.ID), uint16(intf.Setting.Number), r)
		}
		if err != nil {
			return n, &dive.Error{Kind: dive.KindIO, Op: "write", Err: err}
		}
		n += min(len(p)-n, h.format.MaxPayload())
	}
	return n, nil
}

// Purge discards received data. HID has no output buffer to discard.
func (h *HID) Purge(dir dive.Direction) error {
	if dir&dive.Input != 0 {
		h.fifo.reset()
	}
	return nil
}
