// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"net"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"tinygo.org/x/bluetooth"

	"github.com/wyvernp/pelagic-sub001/dive"
	"github.com/wyvernp/pelagic-sub001/internal/forkbeard"
)

// attHeader is the ATT protocol overhead of a write.
const attHeader = 3

// defaultMTU is the ATT MTU assumed when the stack cannot report it.
const defaultMTU = 23

// BLEPort is a Bluetooth LE GATT transport carrying a serial byte stream
// over a vendor serial service.
type BLEPort struct {
	*fifo

	mac     net.HardwareAddr
	adapter *bluetooth.Adapter
	framing Framing
	log     zerolog.Logger

	mu      sync.Mutex
	dev     *bluetooth.Device
	channel forkbeard.Channel
	mtu     int
}

var _ dive.Transport = (*BLEPort)(nil)

// Framing is a per-packet header used by some devices over BLE.
type Framing uint8

const (
	// NoFraming carries the stream unchanged.
	NoFraming Framing = iota
	// CountIndexFraming prefixes each packet of a write with the
	// total number of packets and the packet index, and strips the
	// same two bytes from each notification.
	CountIndexFraming
)

// NewBLE returns an unopened BLE transport to the device with the given
// address using the default adapter.
func NewBLE(mac net.HardwareAddr, framing Framing, log zerolog.Logger) *BLEPort {
	return &BLEPort{
		fifo:    newFIFO(DefaultFIFOSize),
		mac:     mac,
		adapter: bluetooth.DefaultAdapter,
		framing: framing,
		log:     log.With().Str("transport", "ble").Str("address", strings.ToUpper(mac.String())).Logger(),
	}
}

// Open connects to the device and subscribes to the serial channel.
func (b *BLEPort) Open(ctx context.Context) error {
	if err := dive.CheckContext(ctx); err != nil {
		return err
	}
	err := b.adapter.Enable()
	if err != nil {
		return &dive.Error{Kind: dive.KindIO, Op: "enable adapter", Err: err}
	}
	var addr bluetooth.Address
	err = addr.UnmarshalText([]byte(strings.ToUpper(b.mac.String())))
	if err != nil {
		return &dive.Error{Kind: dive.KindNoDevice, Op: "open", Err: err}
	}
	dev, err := b.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return &dive.Error{Kind: dive.KindNoDevice, Op: "connect", Err: err}
	}
	b.fifo.reset()
	ch, err := forkbeard.SerialChannel(&dev, b.notify)
	if err != nil {
		dev.Disconnect()
		return &dive.Error{Kind: dive.KindUnsupported, Op: "discover", Err: err}
	}
	mtu := defaultMTU
	m, err := ch.Tx.GetMTU()
	if err == nil && m > attHeader {
		mtu = int(m)
	}
	b.mu.Lock()
	b.dev = &dev
	b.channel = ch
	b.mtu = mtu
	b.mu.Unlock()
	b.log.Debug().Str("vendor", ch.Service.Vendor).Int("mtu", mtu).Msg("opened")
	return nil
}

func (b *BLEPort) notify(p []byte) {
	p, err := b.framing.strip(p)
	if err != nil {
		b.log.Debug().Err(err).Msg("dropping notification")
		return
	}
	b.fifo.push(p)
}

// Close unsubscribes and disconnects.
func (b *BLEPort) Close() error {
	b.mu.Lock()
	dev, ch := b.dev, b.channel
	b.dev = nil
	b.mu.Unlock()
	if dev == nil {
		return nil
	}
	ch.Rx.EnableNotifications(nil)
	err := dev.Disconnect()
	if err != nil {
		return &dive.Error{Kind: dive.KindIO, Op: "close", Err: err}
	}
	return nil
}

// Write sends p in packets that fit the ATT MTU.
func (b *BLEPort) Write(p []byte) (int, error) {
	b.mu.Lock()
	dev, tx, mtu := b.dev, b.channel.Tx, b.mtu
	b.mu.Unlock()
	if dev == nil {
		return 0, dive.Errorf(dive.KindIO, "write", "device not connected")
	}
	var n int
	for _, pkt := range b.framing.split(p, mtu-attHeader) {
		_, err := tx.WriteWithoutResponse(pkt)
		if err != nil {
			return n, &dive.Error{Kind: dive.KindIO, Op: "write", Err: err}
		}
		n += len(pkt) - b.framing.overhead()
	}
	return n, nil
}

// Purge discards received data.
func (b *BLEPort) Purge(dir dive.Direction) error {
	if dir&dive.Input != 0 {
		b.fifo.reset()
	}
	return nil
}

func (f Framing) overhead() int {
	if f == CountIndexFraming {
		return 2
	}
	return 0
}

// split divides p into packets of at most size bytes including the
// framing header.
func (f Framing) split(p []byte, size int) [][]byte {
	h := f.overhead()
	payload := max(size-h, 1)
	count := max((len(p)+payload-1)/payload, 1)
	pkts := make([][]byte, 0, count)
	for i := range count {
		chunk := p[min(i*payload, len(p)):min((i+1)*payload, len(p))]
		pkt := make([]byte, 0, h+len(chunk))
		if f == CountIndexFraming {
			pkt = append(pkt, byte(count), byte(i))
		}
		pkts = append(pkts, append(pkt, chunk...))
	}
	return pkts
}

// strip removes the framing header from a received packet.
func (f Framing) strip(p []byte) ([]byte, error) {
	h := f.overhead()
	if len(p) < h {
		return nil, dive.Errorf(dive.KindDataFormat, "notify", "short packet: %d bytes", len(p))
	}
	if f == CountIndexFraming && p[1] >= p[0] {
		return nil, dive.Errorf(dive.KindDataFormat, "notify", "packet index %d of %d", p[1], p[0])
	}
	return p[h:], nil
}
