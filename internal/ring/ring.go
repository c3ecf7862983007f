// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ring implements address arithmetic over circular regions of
// device memory.
package ring

import "fmt"

// Region is a circular address range [Begin, End).
type Region struct {
	Begin, End uint32
}

// Size returns the number of addresses in the region.
func (r Region) Size() uint32 { return r.End - r.Begin }

// Contains returns whether a is inside the region.
func (r Region) Contains(a uint32) bool { return r.Begin <= a && a < r.End }

// Valid returns an error if the region is empty or a is outside it.
func (r Region) Valid(a uint32) error {
	if r.End <= r.Begin {
		return fmt.Errorf("empty ring region [%#x, %#x)", r.Begin, r.End)
	}
	if !r.Contains(a) {
		return fmt.Errorf("address %#x outside ring region [%#x, %#x)", a, r.Begin, r.End)
	}
	return nil
}

// Increment returns a advanced by n, wrapping from End to Begin.
func (r Region) Increment(a, n uint32) uint32 {
	off := (a - r.Begin + n%r.Size()) % r.Size()
	return r.Begin + off
}

// Decrement returns a moved back by n, wrapping from Begin to End.
func (r Region) Decrement(a, n uint32) uint32 {
	n %= r.Size()
	off := a - r.Begin
	if n <= off {
		return a - n
	}
	return r.End - (n - off)
}

// Distance returns the number of addresses from a forward to b. When a
// equals b the distance is zero.
func (r Region) Distance(a, b uint32) uint32 {
	if b >= a {
		return b - a
	}
	return r.Size() - (a - b)
}

// Count returns the number of fixed size entries in the span from the
// entry at first to the entry at last inclusive.
func (r Region) Count(first, last, entry uint32) uint32 {
	return r.Distance(first, last)/entry + 1
}

// Entries returns the addresses of the entries from last back to first
// inclusive, newest first. The walk stops after max entries when max is
// positive.
func (r Region) Entries(first, last, entry uint32, max int) []uint32 {
	n := int(r.Count(first, last, entry))
	if max > 0 {
		n = min(n, max)
	}
	addrs := make([]uint32, 0, n)
	a := last
	for range n {
		addrs = append(addrs, a)
		a = r.Decrement(a, entry)
	}
	return addrs
}

// Copy copies n bytes starting at address a out of the memory image mem
// into a new slice, wrapping at the end of the region. The image must
// cover the region with mem[0] at address base.
func (r Region) Copy(mem []byte, base, a, n uint32) ([]byte, error) {
	if err := r.Valid(a); err != nil {
		return nil, err
	}
	if n > r.Size() {
		return nil, fmt.Errorf("span %d exceeds ring size %d", n, r.Size())
	}
	if r.Begin < base || int(r.End-base) > len(mem) {
		return nil, fmt.Errorf("memory image does not cover ring region")
	}
	dst := make([]byte, 0, n)
	first := min(n, r.End-a)
	dst = append(dst, mem[a-base:a-base+first]...)
	if first < n {
		dst = append(dst, mem[r.Begin-base:r.Begin-base+n-first]...)
	}
	return dst, nil
}

// Read reads n bytes starting at address a using read, wrapping at the
// end of the region. read is called at most twice.
func (r Region) Read(a, n uint32, read func(a uint32, p []byte) error) ([]byte, error) {
	if err := r.Valid(a); err != nil {
		return nil, err
	}
	if n > r.Size() {
		return nil, fmt.Errorf("span %d exceeds ring size %d", n, r.Size())
	}
	buf := make([]byte, n)
	first := min(n, r.End-a)
	err := read(a, buf[:first])
	if err != nil {
		return nil, err
	}
	if first < n {
		err = read(r.Begin, buf[first:])
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}
