// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dive defines the contract shared by the dive computer
// protocols: the Protocol and Transport interfaces, the values they
// produce, error classification, configuration and the incremental
// download algorithm.
//
// A protocol downloads dives as opaque ProtocolDive values holding the
// raw dive memory. Fingerprints bound incremental downloads: dives are
// listed newest first and a download stops at the first dive whose
// fingerprint equals the one set on the protocol.
package dive
