// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package shearwater

import (
	"bytes"
	"math/rand/v2"
	"testing"
)

// lreEncode is the inverse of the LRE decoder.
func lreEncode(data []byte) []byte {
	var (
		out  []byte
		bits uint32
		n    uint
	)
	emit := func(v uint32) {
		bits = bits<<9 | v
		n += 9
		for n >= 8 {
			n -= 8
			out = append(out, byte(bits>>n))
			bits &= 1<<n - 1
		}
	}
	for i := 0; i < len(data); {
		if data[i] != 0 {
			emit(0x100 | uint32(data[i]))
			i++
			continue
		}
		run := 0
		for i < len(data) && data[i] == 0 && run < 0xff {
			run++
			i++
		}
		emit(uint32(run))
	}
	emit(0)
	if n > 0 {
		out = append(out, byte(bits<<(8-n)))
	}
	return out
}

// xor applies the stride XOR delta reversed by unxor.
func xor(data []byte) []byte {
	out := append([]byte(nil), data...)
	for i := len(out) - 1; i >= xorStride; i-- {
		out[i] ^= out[i-xorStride]
	}
	return out
}

func compress(data []byte) []byte { return lreEncode(xor(data)) }

func TestLREFixtures(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want []byte
	}{
		{
			// Literal 0x41, run of 3 zeros, end:
			// 1_0100_0001 0_0000_0011 0_0000_0000 padded.
			name: "literal_run",
			in:   []byte{0xa0, 0x80, 0xc0, 0x00},
			want: []byte{0x41, 0, 0, 0},
		},
		{
			name: "empty",
			in:   []byte{0x00, 0x00},
			want: nil,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var d lreDecoder
			done, err := d.Write(test.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !done {
				t.Fatal("stream not terminated")
			}
			if !bytes.Equal(d.Bytes(), test.want) {
				t.Errorf("unexpected output: got:%x want:%x", d.Bytes(), test.want)
			}
			if got := lreEncode(test.want); !bytes.Equal(got, test.in) {
				t.Errorf("unexpected encoding: got:%x want:%x", got, test.in)
			}
		})
	}
}

func TestXOR(t *testing.T) {
	data := make([]byte, 70)
	for i := range data {
		data[i] = byte(i)
	}
	enc := xor(data)
	if enc[32] != 32^0 || enc[65] != 65^33 {
		t.Errorf("unexpected delta: %x", enc)
	}
	unxor(enc)
	if !bytes.Equal(enc, data) {
		t.Errorf("unexpected round trip:\ngot: %x\nwant:%x", enc, data)
	}
}

func TestDecompressRoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewPCG(1, 2))
	for range 50 {
		data := make([]byte, rnd.IntN(2048))
		for i := range data {
			if rnd.IntN(3) == 0 {
				data[i] = byte(rnd.IntN(256))
			}
		}
		got, err := decompress(compress(data))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !bytes.Equal(got, data) && !(len(got) == 0 && len(data) == 0) {
			t.Fatalf("round trip mismatch for %d bytes", len(data))
		}
	}
}

func TestLREStreaming(t *testing.T) {
	data := bytes.Repeat([]byte{1, 0, 0, 0, 0, 2, 0xff}, 100)
	enc := lreEncode(data)
	var d lreDecoder
	var done bool
	for i := 0; i < len(enc); i += 7 {
		var err error
		done, err = d.Write(enc[i:min(i+7, len(enc))])
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if !done {
		t.Fatal("stream not terminated")
	}
	if !bytes.Equal(d.Bytes(), data) {
		t.Error("streamed decode mismatch")
	}

	d = lreDecoder{max: 10}
	_, err := d.Write(enc)
	if err != errLREOverflow {
		t.Errorf("expected overflow error, got: %v", err)
	}
}
