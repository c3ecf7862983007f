// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dive

import (
	"bytes"
	"context"
	"iter"

	"github.com/rs/zerolog"
)

// DiveFunc is called for each newly downloaded dive. Returning false
// stops the download after the current dive.
type DiveFunc func(d ProtocolDive, i, total int) bool

// ProgressFunc is called before each dive download and once more when
// the download is complete.
type ProgressFunc func(current, total int)

// DownloadAll downloads the dives listed by p newest first, stopping at
// the first dive whose fingerprint equals p.Fingerprint(). That dive and
// the dives listed after it were synced previously and are neither
// returned nor passed to onDive.
//
// A failure to download an individual dive is logged to the logger in
// ctx and the dive is skipped. Cancellation of ctx is checked between
// dives, as is the onDive return value. Either callback may be nil.
func DownloadAll(ctx context.Context, p Protocol, onDive DiveFunc, onProgress ProgressFunc) ([]ProtocolDive, error) {
	r, err := Download(ctx, p, onDive, onProgress)
	return r.Dives, err
}

// Report is the outcome of Download.
type Report struct {
	// Dives holds the downloaded dives, newest first.
	Dives []ProtocolDive
	// Failed holds the identifiers of dives that could not be
	// downloaded.
	Failed []string
	// Resume is the fingerprint to set for the next incremental
	// download. It is the newest dive downloaded after the last
	// failure, so that failed dives are listed again, and nil when
	// the stored fingerprint should be kept.
	Resume []byte
}

// Download is DownloadAll with a report of skipped dives and the
// fingerprint to resume from.
func Download(ctx context.Context, p Protocol, onDive DiveFunc, onProgress ProgressFunc) (Report, error) {
	log := zerolog.Ctx(ctx)
	var r Report
	ids, err := p.ListDives(ctx)
	if err != nil {
		return r, err
	}
	fp := p.Fingerprint()
	total := len(ids)
	var stopped bool
	for i, id := range ids {
		if err := ctxErr(ctx); err != nil {
			return r, err
		}
		if onProgress != nil {
			onProgress(i, total)
		}
		d, err := p.DownloadDive(ctx, id)
		if err != nil {
			if k, _ := KindOf(err); k == KindCancelled {
				return r, err
			}
			log.Warn().Err(err).Str("dive", id).Int("index", i).Msg("skipping dive")
			r.Failed = append(r.Failed, id)
			r.Resume = nil
			continue
		}
		if d == nil {
			continue
		}
		if len(fp) != 0 && bytes.Equal(d.Fingerprint, fp) {
			log.Debug().Str("dive", id).Int("index", i).Msg("fingerprint matched")
			break
		}
		r.Dives = append(r.Dives, *d)
		if r.Resume == nil {
			r.Resume = d.Fingerprint
		}
		if onDive != nil && !onDive(*d, i, total) {
			log.Debug().Str("dive", id).Int("index", i).Msg("download cancelled by callback")
			stopped = true
			break
		}
	}
	if stopped {
		// Older new dives were not visited.
		r.Resume = nil
	}
	if onProgress != nil {
		onProgress(total, total)
	}
	return r, nil
}

// Dives returns an iterator over the new dives on p with the same
// ordering and fingerprint semantics as DownloadAll. Dive download
// failures are yielded with a zero ProtocolDive and iteration continues
// unless the consumer stops. onProgress may be nil.
func Dives(ctx context.Context, p Protocol, onProgress ProgressFunc) iter.Seq2[ProtocolDive, error] {
	return func(yield func(ProtocolDive, error) bool) {
		ids, err := p.ListDives(ctx)
		if err != nil {
			yield(ProtocolDive{}, err)
			return
		}
		fp := p.Fingerprint()
		total := len(ids)
		for i, id := range ids {
			if err := ctxErr(ctx); err != nil {
				yield(ProtocolDive{}, err)
				return
			}
			if onProgress != nil {
				onProgress(i, total)
			}
			d, err := p.DownloadDive(ctx, id)
			if err != nil {
				if !yield(ProtocolDive{}, err) {
					return
				}
				continue
			}
			if d == nil {
				continue
			}
			if len(fp) != 0 && bytes.Equal(d.Fingerprint, fp) {
				break
			}
			if !yield(*d, nil) {
				return
			}
		}
		if onProgress != nil {
			onProgress(total, total)
		}
	}
}
