// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package shearwater

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/wyvernp/pelagic-sub001/dive"
)

// manifestRecord is one valid manifest entry.
type manifestRecord struct {
	fingerprint []byte
	addr        uint32
}

const (
	fingerprintOffset = 4
	fingerprintSize   = 4
	addressOffset     = 20
)

// parseManifest returns the valid records of a manifest page, skipping
// deleted and unknown ones. It reports whether the page was full, in
// which case the following page may hold more records.
func (d *Device) parseManifest(page []byte) (recs []manifestRecord, full bool) {
	full = true
	for off := 0; off+RecordSize <= len(page); off += RecordSize {
		r := page[off : off+RecordSize]
		switch sig := binary.BigEndian.Uint16(r); sig {
		case manifestValid:
			recs = append(recs, manifestRecord{
				fingerprint: append([]byte(nil), r[fingerprintOffset:fingerprintOffset+fingerprintSize]...),
				addr:        binary.BigEndian.Uint32(r[addressOffset:]),
			})
		case manifestDeleted:
		case 0xffff:
			full = false
		default:
			d.cfg.Logger.Debug().Int("offset", off).Uint16("signature", sig).Msg("skipping unknown manifest record")
		}
	}
	return recs, full
}

// ListDives reads the manifest. Identifiers are the hex dive addresses,
// newest first.
func (d *Device) ListDives(ctx context.Context) ([]string, error) {
	s, err := d.session()
	if err != nil {
		return nil, err
	}
	s.dives = make(map[string]manifestRecord)
	var ids []string
	for p := range ManifestPages {
		addr := uint32(ManifestAddress) + uint32(p)*ManifestSize
		page, err := d.download(ctx, s, addr, ManifestSize, false)
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest: %w", err)
		}
		recs, full := d.parseManifest(page)
		for _, r := range recs {
			id := fmt.Sprintf("%08x", r.addr)
			if _, dup := s.dives[id]; dup {
				continue
			}
			s.dives[id] = r
			ids = append(ids, id)
		}
		if !full {
			break
		}
	}
	return ids, nil
}

// DownloadDive downloads and decompresses a dive listed in the manifest.
func (d *Device) DownloadDive(ctx context.Context, id string) (*dive.ProtocolDive, error) {
	s, err := d.session()
	if err != nil {
		return nil, err
	}
	r, ok := s.dives[id]
	if !ok {
		return nil, dive.Errorf(dive.KindProtocol, "download", "unknown dive %q", id)
	}
	data, err := d.download(ctx, s, DiveBase+r.addr, MaxDiveSize, true)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || bytes.Count(data, []byte{0xff}) == len(data) {
		return nil, nil
	}
	return &dive.ProtocolDive{
		Fingerprint: r.fingerprint,
		Timestamp:   time.Unix(int64(binary.BigEndian.Uint32(r.fingerprint)), 0).UTC(),
		Data:        data,
	}, nil
}
