// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package suunto

import (
	"cmp"
	"context"
	"encoding/binary"
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/wyvernp/pelagic-sub001/dive"
)

// DiveDir is the directory holding the dive logs.
const DiveDir = "0:/dives"

// Directory entry types.
const (
	EntryFile = 1
	EntryDir  = 2
)

// Entry is a directory entry.
type Entry struct {
	Name string
	Type uint32
}

func pathPayload(name string) []byte {
	p := binary.LittleEndian.AppendUint32(nil, 0)
	p = append(p, name...)
	return append(p, 0)
}

func handlePayload(h uint32) []byte { return binary.LittleEndian.AppendUint32(nil, h) }

func (d *Device) open(ctx context.Context, s *session, cmd uint16, name string) (uint32, error) {
	reply, err := d.transfer(ctx, s, cmd, pathPayload(name))
	if err != nil {
		return 0, err
	}
	if len(reply) < 4 {
		return 0, dive.Errorf(dive.KindDataFormat, "open", "short reply opening %s", name)
	}
	return binary.LittleEndian.Uint32(reply), nil
}

// readDir returns the entries of the directory name, reading pages
// until the device flags the last one.
func (d *Device) readDir(ctx context.Context, s *session, name string) (entries []Entry, err error) {
	h, err := d.open(ctx, s, CmdDirOpen, name)
	if err != nil {
		return nil, fmt.Errorf("failed to open directory %s: %w", name, err)
	}
	defer d.close(ctx, s, CmdDirClose, h, name, &err)
	for {
		if err := dive.CheckContext(ctx); err != nil {
			return nil, err
		}
		page, err := d.transfer(ctx, s, CmdDirRead, handlePayload(h))
		if err != nil {
			return nil, fmt.Errorf("failed to read directory %s: %w", name, err)
		}
		last, ents, err := parseDirPage(page)
		if err != nil {
			return nil, err
		}
		entries = append(entries, ents...)
		if last {
			return entries, nil
		}
	}
}

// close releases the handle h, reporting a failure through errp when no
// earlier error is held there.
func (d *Device) close(ctx context.Context, s *session, cmd uint16, h uint32, name string, errp *error) {
	_, err := d.transfer(ctx, s, cmd, handlePayload(h))
	if err != nil {
		if *errp == nil {
			*errp = fmt.Errorf("failed to close %s: %w", name, err)
			return
		}
		d.cfg.Logger.Debug().Err(err).Str("name", name).Msg("failed to close handle")
	}
}

// parseDirPage decodes a directory page: LE32 last page flag, LE32
// entry count, then for each entry LE32 type, LE32 name length and the
// name.
func parseDirPage(page []byte) (last bool, entries []Entry, err error) {
	if len(page) < 8 {
		return false, nil, dive.Errorf(dive.KindDataFormat, "read directory", "short page: %d bytes", len(page))
	}
	last = binary.LittleEndian.Uint32(page) != 0
	n := binary.LittleEndian.Uint32(page[4:])
	p := page[8:]
	for i := range n {
		if len(p) < 8 {
			return false, nil, dive.Errorf(dive.KindDataFormat, "read directory", "truncated entry %d", i)
		}
		typ := binary.LittleEndian.Uint32(p)
		l := int(binary.LittleEndian.Uint32(p[4:]))
		p = p[8:]
		if l > len(p) {
			return false, nil, dive.Errorf(dive.KindDataFormat, "read directory", "truncated name in entry %d", i)
		}
		entries = append(entries, Entry{Name: strings.TrimRight(string(p[:l]), "\x00"), Type: typ})
		p = p[l:]
	}
	return last, entries, nil
}

// readFile returns the contents of the file name, read in chunks
// against the size reported by the device.
func (d *Device) readFile(ctx context.Context, s *session, name string) (data []byte, err error) {
	h, err := d.open(ctx, s, CmdFileOpen, name)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer d.close(ctx, s, CmdFileClose, h, name, &err)
	stat, err := d.transfer(ctx, s, CmdFileStat, handlePayload(h))
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	if len(stat) < 8 {
		return nil, dive.Errorf(dive.KindDataFormat, "stat", "short reply for %s", name)
	}
	size := int(binary.LittleEndian.Uint32(stat[4:]))
	data = make([]byte, 0, size)
	for len(data) < size {
		if err := dive.CheckContext(ctx); err != nil {
			return nil, err
		}
		want := min(ChunkSize, size-len(data))
		req := binary.LittleEndian.AppendUint32(handlePayload(h), uint32(want))
		reply, err := d.transfer(ctx, s, CmdFileRead, req)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s at offset %d: %w", name, len(data), err)
		}
		if len(reply) < 4 {
			return nil, dive.Errorf(dive.KindDataFormat, "read", "short reply for %s", name)
		}
		n := int(binary.LittleEndian.Uint32(reply))
		if n == 0 || n > want || n > len(reply)-4 {
			return nil, dive.Errorf(dive.KindDataFormat, "read", "invalid chunk length %d for %s", n, name)
		}
		data = append(data, reply[4:4+n]...)
	}
	return data, nil
}

// diveTime returns the start time encoded in a dive log file name.
func diveTime(name string) (uint32, bool) {
	base, ok := strings.CutSuffix(strings.ToUpper(name), ".LOG")
	if !ok || len(base) != 8 {
		return 0, false
	}
	v, err := strconv.ParseUint(base, 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// ListDives lists the dive log files. Identifiers are the file names,
// newest first.
func (d *Device) ListDives(ctx context.Context) ([]string, error) {
	s, err := d.session()
	if err != nil {
		return nil, err
	}
	entries, err := d.readDir(ctx, s, DiveDir)
	if err != nil {
		return nil, err
	}
	s.dives = make(map[string]uint32)
	var ids []string
	for _, e := range entries {
		if e.Type != EntryFile {
			continue
		}
		t, ok := diveTime(e.Name)
		if !ok {
			d.cfg.Logger.Debug().Str("name", e.Name).Msg("skipping file")
			continue
		}
		s.dives[e.Name] = t
		ids = append(ids, e.Name)
	}
	slices.SortFunc(ids, func(a, b string) int {
		return cmp.Compare(s.dives[b], s.dives[a])
	})
	return ids, nil
}

// DownloadDive reads a dive log file. The data is the LE32 start time
// followed by the file contents.
func (d *Device) DownloadDive(ctx context.Context, id string) (*dive.ProtocolDive, error) {
	s, err := d.session()
	if err != nil {
		return nil, err
	}
	t, ok := s.dives[id]
	if !ok {
		return nil, dive.Errorf(dive.KindProtocol, "download", "unknown dive %q", id)
	}
	file, err := d.readFile(ctx, s, path.Join(DiveDir, id))
	if err != nil {
		return nil, err
	}
	data := binary.LittleEndian.AppendUint32(make([]byte, 0, 4+len(file)), t)
	data = append(data, file...)
	return &dive.ProtocolDive{
		Fingerprint: append([]byte(nil), data[:4]...),
		Timestamp:   time.Unix(int64(t), 0).UTC(),
		Data:        data,
	}, nil
}
