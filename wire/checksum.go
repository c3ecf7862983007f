// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wire

import "hash/crc32"

// Add8 returns the 8-bit additive checksum of data starting from init.
func Add8(data []byte, init byte) byte {
	sum := init
	for _, b := range data {
		sum += b
	}
	return sum
}

// Add16 returns the additive checksum of data starting from init,
// truncated to 16 bits. Devices transmit the result little-endian.
func Add16(data []byte, init uint16) uint16 {
	sum := init
	for _, b := range data {
		sum += uint16(b)
	}
	return sum
}

// Xor8 returns the running XOR of data starting from init.
func Xor8(data []byte, init byte) byte {
	x := init
	for _, b := range data {
		x ^= b
	}
	return x
}

// CRC-16/CCITT-FALSE parameters.
const (
	crc16Init = 0xffff
	crc16Poly = 0x1021
)

// CRC16CCITT returns the CRC-16/CCITT-FALSE checksum of data: initial
// value 0xffff, polynomial 0x1021, MSB first, no final XOR.
func CRC16CCITT(data []byte) uint16 {
	return UpdateCRC16CCITT(crc16Init, data)
}

// UpdateCRC16CCITT continues a CRC-16/CCITT-FALSE calculation.
func UpdateCRC16CCITT(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ crc16Poly
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// crc32Table is the reflected 0xedb88320 lookup table. It is built once
// and never mutated.
var crc32Table = crc32.MakeTable(crc32.IEEE)

// CRC32R returns the reflected CRC-32 (ISO-HDLC) of data: initial value
// 0xffffffff, reflected polynomial 0xedb88320, final XOR 0xffffffff.
func CRC32R(data []byte) uint32 {
	return crc32.Checksum(data, crc32Table)
}
