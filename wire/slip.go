// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wire

import (
	"errors"
	"fmt"
)

// SLIP special bytes.
const (
	SLIPEnd    = 0xc0
	SLIPEsc    = 0xdb
	SLIPEscEnd = 0xdc
	SLIPEscEsc = 0xdd
)

var (
	// ErrSLIPUnterminated is returned by SLIPDecode when the frame has no
	// END byte.
	ErrSLIPUnterminated = errors.New("slip: unterminated frame")
	// ErrSLIPFrameTooLong is returned by SLIPDecoder when a frame exceeds
	// the decoder limit.
	ErrSLIPFrameTooLong = errors.New("slip: frame too long")
)

// SLIPEncode returns data escaped for SLIP with a trailing END byte.
func SLIPEncode(data []byte) []byte {
	dst := make([]byte, 0, len(data)+len(data)/8+1)
	for _, b := range data {
		switch b {
		case SLIPEnd:
			dst = append(dst, SLIPEsc, SLIPEscEnd)
		case SLIPEsc:
			dst = append(dst, SLIPEsc, SLIPEscEsc)
		default:
			dst = append(dst, b)
		}
	}
	return append(dst, SLIPEnd)
}

// SLIPDecode unescapes frame up to the first unescaped END byte. It
// returns the payload and the number of bytes of frame consumed,
// including the END byte.
func SLIPDecode(frame []byte) (payload []byte, n int, err error) {
	var d SLIPDecoder
	for i, b := range frame {
		done, err := d.Feed(b)
		if err != nil {
			return nil, i + 1, err
		}
		if done {
			return d.Frame(), i + 1, nil
		}
	}
	return nil, len(frame), ErrSLIPUnterminated
}

// SLIPDecoder is an incremental SLIP decoder for byte streams.
// The zero value is ready for use and has no frame size limit.
type SLIPDecoder struct {
	// Max is the maximum frame payload length. Zero means no limit.
	Max int

	buf  []byte
	esc  bool
	done bool
}

// Feed adds b to the frame under construction. It returns true when b
// terminated the frame. An escape followed by a byte other than ESC_END
// or ESC_ESC is passed through unchanged.
func (d *SLIPDecoder) Feed(b byte) (done bool, err error) {
	if d.done {
		d.Reset()
	}
	if d.esc {
		d.esc = false
		switch b {
		case SLIPEscEnd:
			b = SLIPEnd
		case SLIPEscEsc:
			b = SLIPEsc
		}
	} else {
		switch b {
		case SLIPEnd:
			d.done = true
			return true, nil
		case SLIPEsc:
			d.esc = true
			return false, nil
		}
	}
	if d.Max > 0 && len(d.buf) >= d.Max {
		return false, fmt.Errorf("%w: limit %d", ErrSLIPFrameTooLong, d.Max)
	}
	d.buf = append(d.buf, b)
	return false, nil
}

// Frame returns the decoded payload of the last completed frame.
func (d *SLIPDecoder) Frame() []byte {
	if d.buf == nil {
		return []byte{}
	}
	return d.buf
}

// Reset discards any partial frame.
func (d *SLIPDecoder) Reset() {
	d.buf = nil
	d.esc = false
	d.done = false
}
