// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ring

import (
	"bytes"
	"reflect"
	"testing"
)

var logbook = Region{Begin: 0x0240, End: 0x0a40}

var regionTests = []struct {
	name string
	ops  func() any
	want any
}{
	{
		name: "increment_inside",
		ops:  func() any { return logbook.Increment(0x0240, 8) },
		want: uint32(0x0248),
	},
	{
		name: "increment_wrap",
		ops:  func() any { return logbook.Increment(0x0a38, 8) },
		want: uint32(0x0240),
	},
	{
		name: "decrement_inside",
		ops:  func() any { return logbook.Decrement(0x0248, 8) },
		want: uint32(0x0240),
	},
	{
		name: "decrement_wrap",
		ops:  func() any { return logbook.Decrement(0x0240, 8) },
		want: uint32(0x0a38),
	},
	{
		name: "distance_forward",
		ops:  func() any { return logbook.Distance(0x0240, 0x0a38) },
		want: uint32(0x07f8),
	},
	{
		name: "distance_wrapped",
		ops:  func() any { return logbook.Distance(0x0a38, 0x0240) },
		want: uint32(8),
	},
	{
		name: "count_not_wrapped",
		ops:  func() any { return logbook.Count(0x0240, 0x0a38, 8) },
		want: uint32(256),
	},
	{
		name: "count_wrapped",
		ops:  func() any { return logbook.Count(0x0a40-8, 0x0240, 8) },
		want: uint32(2),
	},
	{
		name: "count_single",
		ops:  func() any { return logbook.Count(0x0300, 0x0300, 8) },
		want: uint32(1),
	},
	{
		name: "entries_wrapped",
		ops:  func() any { return logbook.Entries(0x0a40-8, 0x0248, 8, 0) },
		want: []uint32{0x0248, 0x0240, 0x0a38},
	},
	{
		name: "entries_limited",
		ops:  func() any { return logbook.Entries(0x0240, 0x0a38, 8, 2) },
		want: []uint32{0x0a38, 0x0a30},
	},
}

func TestRegion(t *testing.T) {
	for _, test := range regionTests {
		t.Run(test.name, func(t *testing.T) {
			got := test.ops()
			if !reflect.DeepEqual(got, test.want) {
				t.Errorf("unexpected result:\ngot: %#v\nwant:%#v", got, test.want)
			}
		})
	}
}

func TestEntriesStayInRegion(t *testing.T) {
	const entry = 8
	for first := logbook.Begin; first < logbook.End; first += 0x40 {
		for last := logbook.Begin; last < logbook.End; last += 0x48 {
			var want uint32
			if last >= first {
				want = (last-first)/entry + 1
			} else {
				want = (logbook.End-first+last-logbook.Begin)/entry + 1
			}
			addrs := logbook.Entries(first, last, entry, 0)
			if uint32(len(addrs)) != want {
				t.Errorf("unexpected entry count for first=%#x last=%#x: got:%d want:%d",
					first, last, len(addrs), want)
			}
			for _, a := range addrs {
				if !logbook.Contains(a) {
					t.Errorf("address %#x outside region for first=%#x last=%#x", a, first, last)
				}
			}
			if len(addrs) != 0 && addrs[len(addrs)-1] != first {
				t.Errorf("walk did not end at first=%#x: got:%#x", first, addrs[len(addrs)-1])
			}
		}
	}
}

func TestCopy(t *testing.T) {
	r := Region{Begin: 4, End: 12}
	mem := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}

	got, err := r.Copy(mem, 0, 10, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []byte{10, 11, 4, 5}; !bytes.Equal(got, want) {
		t.Errorf("unexpected wrapped copy: got:%v want:%v", got, want)
	}

	if _, err = r.Copy(mem, 0, 2, 1); err == nil {
		t.Error("expected error for address outside region")
	}
	if _, err = r.Copy(mem, 0, 4, 9); err == nil {
		t.Error("expected error for span larger than region")
	}
}

func TestRead(t *testing.T) {
	r := Region{Begin: 4, End: 12}
	mem := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	var calls int
	read := func(a uint32, p []byte) error {
		calls++
		copy(p, mem[a:])
		return nil
	}
	got, err := r.Read(10, 4, read)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []byte{10, 11, 4, 5}; !bytes.Equal(got, want) {
		t.Errorf("unexpected wrapped read: got:%v want:%v", got, want)
	}
	if calls != 2 {
		t.Errorf("unexpected number of reads: got:%d want:2", calls)
	}
	got, err = r.Read(5, 3, read)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []byte{5, 6, 7}; !bytes.Equal(got, want) {
		t.Errorf("unexpected read: got:%v want:%v", got, want)
	}
}
