// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"

	"github.com/wyvernp/pelagic-sub001/dive"
)

// SerialPort is a serial port transport. It implements dive.Transport
// and dive.Line.
type SerialPort struct {
	*fifo

	path string
	cfg  dive.LineConfig
	log  zerolog.Logger

	mu   sync.Mutex
	port serial.Port
	done chan struct{}
	wg   sync.WaitGroup
}

var (
	_ dive.Transport = (*SerialPort)(nil)
	_ dive.Line      = (*SerialPort)(nil)
)

// NewSerialPort returns an unopened serial transport for the device at
// path using the line configuration cfg.
func NewSerialPort(path string, cfg dive.LineConfig, log zerolog.Logger) *SerialPort {
	return &SerialPort{
		fifo: newFIFO(DefaultFIFOSize),
		path: path,
		cfg:  cfg,
		log:  log.With().Str("transport", "serial").Str("path", path).Logger(),
	}
}

// readInterval is the blocking read timeout of the port reader so that
// Close can stop it.
const readInterval = 50 * time.Millisecond

// Open opens the port and starts the reader.
func (s *SerialPort) Open(ctx context.Context) error {
	if err := dive.CheckContext(ctx); err != nil {
		return err
	}
	mode, err := serialMode(s.cfg)
	if err != nil {
		return err
	}
	port, err := serial.Open(s.path, mode)
	if err != nil {
		return serialError("open", err)
	}
	err = port.SetReadTimeout(readInterval)
	if err != nil {
		port.Close()
		return serialError("open", err)
	}
	s.mu.Lock()
	s.port = port
	s.done = make(chan struct{})
	s.mu.Unlock()
	s.fifo.reset()

	s.wg.Add(1)
	go s.read(port, s.done)
	s.log.Debug().Int("baud", s.cfg.Baud).Msg("opened")
	return nil
}

func (s *SerialPort) read(port serial.Port, done chan struct{}) {
	defer s.wg.Done()
	buf := make([]byte, 1024)
	for {
		select {
		case <-done:
			return
		default:
		}
		n, err := port.Read(buf)
		if err != nil {
			select {
			case <-done:
			default:
				s.log.Debug().Err(err).Msg("reader stopped")
				s.fifo.fail(err)
			}
			return
		}
		s.fifo.push(buf[:n])
	}
}

// Close stops the reader and closes the port.
func (s *SerialPort) Close() error {
	s.mu.Lock()
	port := s.port
	s.port = nil
	if port != nil {
		close(s.done)
	}
	s.mu.Unlock()
	if port == nil {
		return nil
	}
	err := port.Close()
	s.wg.Wait()
	if err != nil {
		return serialError("close", err)
	}
	return nil
}

func (s *SerialPort) handle(op string) (serial.Port, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil, dive.Errorf(dive.KindIO, op, "port not open")
	}
	return s.port, nil
}

// Write writes p to the port.
func (s *SerialPort) Write(p []byte) (int, error) {
	port, err := s.handle("write")
	if err != nil {
		return 0, err
	}
	n, err := port.Write(p)
	if err != nil {
		return n, serialError("write", err)
	}
	return n, nil
}

// Purge discards buffered data.
func (s *SerialPort) Purge(dir dive.Direction) error {
	port, err := s.handle("purge")
	if err != nil {
		return err
	}
	if dir&dive.Input != 0 {
		err = port.ResetInputBuffer()
		if err != nil {
			return serialError("purge", err)
		}
		s.fifo.reset()
	}
	if dir&dive.Output != 0 {
		err = port.ResetOutputBuffer()
		if err != nil {
			return serialError("purge", err)
		}
	}
	return nil
}

// Configure changes the line settings of an open port.
func (s *SerialPort) Configure(cfg dive.LineConfig) error {
	mode, err := serialMode(cfg)
	if err != nil {
		return err
	}
	port, err := s.handle("configure")
	if err != nil {
		return err
	}
	err = port.SetMode(mode)
	if err != nil {
		return serialError("configure", err)
	}
	s.cfg = cfg
	return nil
}

// SetDTR sets the data terminal ready line.
func (s *SerialPort) SetDTR(on bool) error {
	port, err := s.handle("set dtr")
	if err != nil {
		return err
	}
	return serialError("set dtr", port.SetDTR(on))
}

// SetRTS sets the request to send line.
func (s *SerialPort) SetRTS(on bool) error {
	port, err := s.handle("set rts")
	if err != nil {
		return err
	}
	return serialError("set rts", port.SetRTS(on))
}

func serialMode(cfg dive.LineConfig) (*serial.Mode, error) {
	if cfg.FlowControl != dive.NoFlowControl {
		return nil, dive.Errorf(dive.KindUnsupported, "configure", "flow control %d", cfg.FlowControl)
	}
	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: cfg.DataBits,
	}
	if mode.DataBits == 0 {
		mode.DataBits = 8
	}
	switch cfg.Parity {
	case dive.NoParity:
		mode.Parity = serial.NoParity
	case dive.OddParity:
		mode.Parity = serial.OddParity
	case dive.EvenParity:
		mode.Parity = serial.EvenParity
	case dive.MarkParity:
		mode.Parity = serial.MarkParity
	case dive.SpaceParity:
		mode.Parity = serial.SpaceParity
	default:
		return nil, dive.Errorf(dive.KindUnsupported, "configure", "parity %d", cfg.Parity)
	}
	switch cfg.StopBits {
	case dive.OneStopBit:
		mode.StopBits = serial.OneStopBit
	case dive.OnePointFiveStopBits:
		mode.StopBits = serial.OnePointFiveStopBits
	case dive.TwoStopBits:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, dive.Errorf(dive.KindUnsupported, "configure", "stop bits %d", cfg.StopBits)
	}
	return mode, nil
}

// serialError classifies errors from the serial library.
func serialError(op string, err error) error {
	if err == nil {
		return nil
	}
	var perr *serial.PortError
	if errors.As(err, &perr) {
		switch perr.Code() {
		case serial.PortNotFound:
			return &dive.Error{Kind: dive.KindNoDevice, Op: op, Err: err}
		case serial.InvalidSpeed, serial.InvalidDataBits, serial.InvalidParity,
			serial.InvalidStopBits, serial.FunctionNotImplemented:
			return &dive.Error{Kind: dive.KindUnsupported, Op: op, Err: err}
		}
	}
	return &dive.Error{Kind: dive.KindIO, Op: op, Err: err}
}
