// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wire implements the byte level primitives shared by the dive
// computer protocols: additive and XOR checksums, CRC-16/CCITT-FALSE,
// reflected CRC-32, SLIP framing, byte pattern search and BCD conversion.
//
// All functions are pure and safe for concurrent use.
package wire
