// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package shearwater

import "errors"

// errLREOverflow is returned when a decompressed dive exceeds the
// decoder limit.
var errLREOverflow = errors.New("decompressed data exceeds limit")

// lreDecoder decodes the 9-bit run length encoding used for compressed
// downloads. Values are read most significant bit first. A value with
// bit 8 set is a literal byte, any other non-zero value is a run of that
// many zero bytes and zero ends the stream.
type lreDecoder struct {
	// max is the output limit. Zero means no limit.
	max int

	out  []byte
	bits uint32
	n    uint
	done bool
}

// Write feeds compressed bytes to the decoder. It returns true once the
// end of stream value has been decoded; bytes after it are ignored.
func (d *lreDecoder) Write(p []byte) (done bool, err error) {
	for _, b := range p {
		if d.done {
			return true, nil
		}
		d.bits = d.bits<<8 | uint32(b)
		d.n += 8
		for d.n >= 9 {
			d.n -= 9
			v := d.bits >> d.n & 0x1ff
			d.bits &= 1<<d.n - 1
			switch {
			case v&0x100 != 0:
				d.out = append(d.out, byte(v))
			case v == 0:
				d.done = true
				return true, nil
			default:
				d.out = append(d.out, make([]byte, v)...)
			}
			if d.max > 0 && len(d.out) > d.max {
				return false, errLREOverflow
			}
		}
	}
	return d.done, nil
}

// Bytes returns the decoded data.
func (d *lreDecoder) Bytes() []byte { return d.out }

// xorStride is the distance of the XOR delta applied after LRE decoding.
const xorStride = 32

// unxor reverses the stride XOR delta in place: each byte from offset
// 32 on was stored XORed with the byte 32 positions before it.
func unxor(data []byte) {
	for i := xorStride; i < len(data); i++ {
		data[i] ^= data[i-xorStride]
	}
}

// decompress decodes a complete LRE stream and reverses the XOR delta.
func decompress(data []byte) ([]byte, error) {
	var d lreDecoder
	done, err := d.Write(data)
	if err != nil {
		return nil, err
	}
	if !done {
		return nil, errors.New("compressed stream not terminated")
	}
	out := d.Bytes()
	unxor(out)
	return out, nil
}
