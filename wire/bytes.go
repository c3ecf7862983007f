// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wire

// SearchForward returns the index of the first occurrence of pattern in
// data at or after start, or -1.
func SearchForward(data, pattern []byte, start int) int {
	if len(pattern) == 0 || start < 0 {
		return -1
	}
	for i := start; i+len(pattern) <= len(data); i++ {
		if match(data[i:], pattern) {
			return i
		}
	}
	return -1
}

// SearchBackward returns the index of the last occurrence of pattern in
// data that ends at or before end, or -1.
func SearchBackward(data, pattern []byte, end int) int {
	if len(pattern) == 0 {
		return -1
	}
	end = min(end, len(data))
	for i := end - len(pattern); i >= 0; i-- {
		if match(data[i:], pattern) {
			return i
		}
	}
	return -1
}

func match(data, pattern []byte) bool {
	for j, p := range pattern {
		if data[j] != p {
			return false
		}
	}
	return true
}

// BCD returns the decimal value of a packed BCD byte.
func BCD(b byte) int {
	return int(b>>4&0xf)*10 + int(b&0xf)
}

// ToBCD returns v packed as BCD. Values outside [0, 99] are truncated
// to their last two decimal digits.
func ToBCD(v int) byte {
	v %= 100
	return byte(v/10<<4 | v%10)
}
