// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/wyvernp/pelagic-sub001/dive"
)

// RFCOMM is a Bluetooth Classic serial port profile transport.
type RFCOMM struct {
	*fifo

	mac     net.HardwareAddr
	channel uint8
	log     zerolog.Logger

	mu   sync.Mutex
	fd   int
	done chan struct{}
	wg   sync.WaitGroup
}

var _ dive.Transport = (*RFCOMM)(nil)

// NewRFCOMM returns an unopened RFCOMM transport to the device with the
// given address and channel.
func NewRFCOMM(mac net.HardwareAddr, channel uint8, log zerolog.Logger) *RFCOMM {
	if channel == 0 {
		channel = DefaultRFCOMMChannel
	}
	return &RFCOMM{
		fifo:    newFIFO(DefaultFIFOSize),
		mac:     mac,
		channel: channel,
		fd:      -1,
		log:     log.With().Str("transport", "rfcomm").Str("address", strings.ToUpper(mac.String())).Uint8("channel", channel).Logger(),
	}
}

// bdaddr returns mac in the little-endian order used by the kernel.
func bdaddr(mac net.HardwareAddr) [6]uint8 {
	var a [6]uint8
	for i := range a {
		a[i] = mac[len(a)-1-i]
	}
	return a
}

// Open connects the socket and starts the reader.
func (r *RFCOMM) Open(ctx context.Context) error {
	if err := dive.CheckContext(ctx); err != nil {
		return err
	}
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		if errors.Is(err, unix.EAFNOSUPPORT) {
			return &dive.Error{Kind: dive.KindUnsupported, Op: "open", Err: err}
		}
		return &dive.Error{Kind: dive.KindIO, Op: "open", Err: err}
	}
	err = unix.Connect(fd, &unix.SockaddrRFCOMM{Addr: bdaddr(r.mac), Channel: r.channel})
	if err != nil {
		unix.Close(fd)
		kind := dive.KindIO
		if errors.Is(err, unix.EHOSTDOWN) || errors.Is(err, unix.EHOSTUNREACH) || errors.Is(err, unix.ECONNREFUSED) {
			kind = dive.KindNoDevice
		}
		return &dive.Error{Kind: kind, Op: "connect", Err: err}
	}
	r.mu.Lock()
	r.fd = fd
	r.done = make(chan struct{})
	r.mu.Unlock()
	r.fifo.reset()

	r.wg.Add(1)
	go r.read(fd, r.done)
	r.log.Debug().Msg("opened")
	return nil
}

// pollMillis is the reader's poll timeout so that Close can stop it.
const pollMillis = 50

func (r *RFCOMM) read(fd int, done chan struct{}) {
	defer r.wg.Done()
	buf := make([]byte, 1024)
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		select {
		case <-done:
			return
		default:
		}
		n, err := unix.Poll(fds, pollMillis)
		if err == unix.EINTR || n == 0 {
			continue
		}
		if err == nil {
			n, err = unix.Read(fd, buf)
			if err == nil && n == 0 {
				err = errors.New("connection closed by device")
			}
		}
		if err != nil {
			select {
			case <-done:
			default:
				r.log.Debug().Err(err).Msg("reader stopped")
				r.fifo.fail(err)
			}
			return
		}
		r.fifo.push(buf[:n])
	}
}

// Close stops the reader and closes the socket.
func (r *RFCOMM) Close() error {
	r.mu.Lock()
	fd := r.fd
	r.fd = -1
	if fd >= 0 {
		close(r.done)
	}
	r.mu.Unlock()
	if fd < 0 {
		return nil
	}
	r.wg.Wait()
	err := unix.Close(fd)
	if err != nil {
		return &dive.Error{Kind: dive.KindIO, Op: "close", Err: err}
	}
	return nil
}

// Write writes p to the socket.
func (r *RFCOMM) Write(p []byte) (int, error) {
	r.mu.Lock()
	fd := r.fd
	r.mu.Unlock()
	if fd < 0 {
		return 0, dive.Errorf(dive.KindIO, "write", "socket not open")
	}
	var n int
	for n < len(p) {
		m, err := unix.Write(fd, p[n:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return n, &dive.Error{Kind: dive.KindIO, Op: "write", Err: err}
		}
		n += m
	}
	return n, nil
}

// Purge discards received data.
func (r *RFCOMM) Purge(dir dive.Direction) error {
	if dir&dive.Input != 0 {
		r.fifo.reset()
	}
	return nil
}
