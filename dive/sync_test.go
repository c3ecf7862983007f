// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dive

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"
)

// listProtocol is a Protocol serving a fixed newest first dive list.
type listProtocol struct {
	dives []ProtocolDive
	fail  map[string]error
	fp    []byte

	downloaded []string
}

func newListProtocol(n int) *listProtocol {
	p := &listProtocol{fail: make(map[string]error)}
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	for i := range n {
		p.dives = append(p.dives, ProtocolDive{
			Fingerprint: []byte{byte(n - i), 0xfe},
			Timestamp:   start.Add(-time.Duration(i) * 24 * time.Hour),
			Data:        []byte{byte(i)},
		})
	}
	return p
}

func (p *listProtocol) Connect(context.Context, string) error { return nil }
func (p *listProtocol) Disconnect() error                     { return nil }
func (p *listProtocol) IsConnected() bool                     { return true }
func (p *listProtocol) DeviceInfo() (DeviceInfo, bool)        { return DeviceInfo{Model: "list"}, true }
func (p *listProtocol) SetFingerprint(fp []byte)              { p.fp = fp }
func (p *listProtocol) Fingerprint() []byte                   { return p.fp }

func (p *listProtocol) ListDives(context.Context) ([]string, error) {
	ids := make([]string, len(p.dives))
	for i := range p.dives {
		ids[i] = fmt.Sprint(i)
	}
	return ids, nil
}

func (p *listProtocol) DownloadDive(_ context.Context, id string) (*ProtocolDive, error) {
	p.downloaded = append(p.downloaded, id)
	if err := p.fail[id]; err != nil {
		return nil, err
	}
	var i int
	fmt.Sscan(id, &i)
	d := p.dives[i]
	return &d, nil
}

func TestDownloadAllFingerprint(t *testing.T) {
	p := newListProtocol(5)
	p.SetFingerprint(p.dives[2].Fingerprint)

	var (
		calls    []int
		progress [][2]int
	)
	got, err := DownloadAll(context.Background(), p,
		func(d ProtocolDive, i, total int) bool {
			calls = append(calls, i)
			return true
		},
		func(current, total int) {
			progress = append(progress, [2]int{current, total})
		},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, p.dives[:2]) {
		t.Errorf("unexpected dives:\ngot: %v\nwant:%v", got, p.dives[:2])
	}
	if want := []int{0, 1}; !reflect.DeepEqual(calls, want) {
		t.Errorf("unexpected callback calls: got:%v want:%v", calls, want)
	}
	if want := []string{"0", "1", "2"}; !reflect.DeepEqual(p.downloaded, want) {
		t.Errorf("unexpected downloads: got:%v want:%v", p.downloaded, want)
	}
	wantProgress := [][2]int{{0, 5}, {1, 5}, {2, 5}, {5, 5}}
	if !reflect.DeepEqual(progress, wantProgress) {
		t.Errorf("unexpected progress: got:%v want:%v", progress, wantProgress)
	}
}

func TestDownloadAllNoFingerprint(t *testing.T) {
	p := newListProtocol(5)
	got, err := DownloadAll(context.Background(), p, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 5 {
		t.Errorf("unexpected number of dives: got:%d want:5", len(got))
	}
}

func TestDownloadAllCallbackCancel(t *testing.T) {
	p := newListProtocol(5)
	got, err := DownloadAll(context.Background(), p, func(d ProtocolDive, i, total int) bool {
		return i < 1
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("unexpected number of dives: got:%d want:2", len(got))
	}
	if len(p.downloaded) != 2 {
		t.Errorf("dives downloaded after cancellation: %v", p.downloaded)
	}
}

func TestDownloadAllSkipsFailures(t *testing.T) {
	p := newListProtocol(4)
	p.fail["1"] = Errorf(KindDataFormat, "read", "checksum mismatch")
	got, err := DownloadAll(context.Background(), p, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []ProtocolDive{p.dives[0], p.dives[2], p.dives[3]}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("unexpected dives:\ngot: %v\nwant:%v", got, want)
	}
}

func TestDownloadResume(t *testing.T) {
	tests := []struct {
		name       string
		n          int
		fp         int // index of the synced dive, -1 for none
		fail       []string
		wantDives  []int
		wantResume int // index of the resume dive, -1 for none
	}{
		{name: "clean", n: 3, fp: -1, wantDives: []int{0, 1, 2}, wantResume: 0},
		{name: "middle", n: 3, fp: -1, fail: []string{"1"}, wantDives: []int{0, 2}, wantResume: 2},
		{name: "newest", n: 3, fp: -1, fail: []string{"0"}, wantDives: []int{1, 2}, wantResume: 1},
		{name: "oldest", n: 3, fp: -1, fail: []string{"2"}, wantDives: []int{0, 1}, wantResume: -1},
		{name: "two", n: 5, fp: -1, fail: []string{"0", "2"}, wantDives: []int{1, 3, 4}, wantResume: 3},
		{name: "above_synced", n: 5, fp: 3, fail: []string{"1"}, wantDives: []int{0, 2}, wantResume: 2},
		{name: "oldest_new", n: 5, fp: 3, fail: []string{"2"}, wantDives: []int{0, 1}, wantResume: -1},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			p := newListProtocol(test.n)
			if test.fp >= 0 {
				p.SetFingerprint(p.dives[test.fp].Fingerprint)
			}
			for _, id := range test.fail {
				p.fail[id] = Errorf(KindDataFormat, "read", "checksum mismatch")
			}
			got, err := Download(context.Background(), p, nil, nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var want []ProtocolDive
			for _, i := range test.wantDives {
				want = append(want, p.dives[i])
			}
			if !reflect.DeepEqual(got.Dives, want) {
				t.Errorf("unexpected dives:\ngot: %v\nwant:%v", got.Dives, want)
			}
			if !reflect.DeepEqual(got.Failed, test.fail) {
				t.Errorf("unexpected failures: got:%v want:%v", got.Failed, test.fail)
			}
			var wantResume []byte
			if test.wantResume >= 0 {
				wantResume = p.dives[test.wantResume].Fingerprint
			}
			if !reflect.DeepEqual(got.Resume, wantResume) {
				t.Errorf("unexpected resume fingerprint: got:%x want:%x", got.Resume, wantResume)
			}
		})
	}
}

func TestDownloadResumeCallbackStop(t *testing.T) {
	p := newListProtocol(5)
	got, err := Download(context.Background(), p, func(d ProtocolDive, i, total int) bool {
		return i < 1
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Resume != nil {
		t.Errorf("unexpected resume fingerprint after callback stop: %x", got.Resume)
	}
}

func TestDownloadAllContext(t *testing.T) {
	p := newListProtocol(3)
	ctx, cancel := context.WithCancel(context.Background())
	got, err := DownloadAll(ctx, p, func(ProtocolDive, int, int) bool {
		cancel()
		return true
	}, nil)
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("expected cancelled error, got: %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("unexpected number of dives: got:%d want:1", len(got))
	}
}

func TestDives(t *testing.T) {
	p := newListProtocol(5)
	p.SetFingerprint(p.dives[3].Fingerprint)
	p.fail["1"] = ErrTimeout

	var (
		got  []ProtocolDive
		errs int
	)
	for d, err := range Dives(context.Background(), p, nil) {
		if err != nil {
			errs++
			continue
		}
		got = append(got, d)
	}
	want := []ProtocolDive{p.dives[0], p.dives[2]}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("unexpected dives:\ngot: %v\nwant:%v", got, want)
	}
	if errs != 1 {
		t.Errorf("unexpected error count: got:%d want:1", errs)
	}

	var n int
	for range Dives(context.Background(), newListProtocol(5), nil) {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Errorf("iteration did not stop: %d", n)
	}
}
