// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package battery

import (
	"context"
	"errors"
	"testing"

	"github.com/wyvernp/pelagic-sub001/dive"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		value   []byte
		want    int
		wantErr bool
	}{
		{value: []byte{0}, want: 0},
		{value: []byte{57}, want: 57},
		{value: []byte{100, 0xff}, want: 100},
		{value: []byte{101}, wantErr: true},
		{value: nil, wantErr: true},
	}
	for _, test := range tests {
		got, err := parseLevel(test.value)
		if (err != nil) != test.wantErr {
			t.Errorf("unexpected error for %x: %v", test.value, err)
			continue
		}
		if err != nil {
			if !errors.Is(err, dive.ErrDataFormat) {
				t.Errorf("unexpected error kind for %x: %v", test.value, err)
			}
			continue
		}
		if got != test.want {
			t.Errorf("unexpected level for %x: got:%d want:%d", test.value, got, test.want)
		}
	}
}

func TestQueryNotBLE(t *testing.T) {
	for _, addr := range []string{"/dev/ttyUSB0", "BT:00:11:22:33:44:55", "usb"} {
		_, err := Query(context.Background(), addr)
		if !errors.Is(err, dive.ErrUnsupported) {
			t.Errorf("unexpected error for %q: got:%v want:%v", addr, err, dive.ErrUnsupported)
		}
	}
}
