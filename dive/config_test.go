// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dive

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	tests := []struct {
		name     string
		retries  int
		err      func(n int) error
		attempts int
		purges   int
		wantErr  error
	}{
		{
			name:     "success",
			retries:  2,
			err:      func(int) error { return nil },
			attempts: 1,
		},
		{
			name:     "always_bad_checksum",
			retries:  2,
			err:      func(int) error { return Errorf(KindDataFormat, "read", "checksum") },
			attempts: 3,
			purges:   2,
			wantErr:  ErrDataFormat,
		},
		{
			name:    "recovers",
			retries: 3,
			err: func(n int) error {
				if n < 2 {
					return ErrTimeout
				}
				return nil
			},
			attempts: 3,
			purges:   2,
		},
		{
			name:     "io_not_retried",
			retries:  3,
			err:      func(int) error { return Errorf(KindIO, "write", "broken pipe") },
			attempts: 1,
			wantErr:  ErrIO,
		},
		{
			name:     "session_lost",
			retries:  3,
			err:      func(int) error { return Errorf(KindProtocol, "read", "%w: bad sequence", ErrSessionLost) },
			attempts: 1,
			wantErr:  ErrProtocol,
		},
		{
			name:     "no_retries",
			retries:  0,
			err:      func(int) error { return ErrProtocol },
			attempts: 1,
			wantErr:  ErrProtocol,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := NewConfig(DefaultConfig(), WithRetries(test.retries), WithRetryDelay(time.Millisecond, 2*time.Millisecond))
			var attempts, purges int
			err := cfg.Retry(context.Background(), "test",
				func() error { purges++; return nil },
				func() error {
					err := test.err(attempts)
					attempts++
					return err
				},
			)
			if !errors.Is(err, test.wantErr) && !(err == nil && test.wantErr == nil) {
				t.Errorf("unexpected error: got:%v want:%v", err, test.wantErr)
			}
			if attempts != test.attempts {
				t.Errorf("unexpected attempts: got:%d want:%d", attempts, test.attempts)
			}
			if purges != test.purges {
				t.Errorf("unexpected purges: got:%d want:%d", purges, test.purges)
			}
		})
	}
}

func TestRetryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := NewConfig(DefaultConfig(), WithRetryDelay(time.Hour, time.Hour))
	err := cfg.Retry(ctx, "test", nil, func() error { return ErrTimeout })
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("expected cancelled error, got: %v", err)
	}
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("download: %w", Errorf(KindProtocol, "handshake", "bad magic %#x", 0x1234))
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("expected protocol kind: %v", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Errorf("unexpected timeout kind: %v", err)
	}
	k, ok := KindOf(err)
	if !ok || k != KindProtocol {
		t.Errorf("unexpected kind: got:%v,%t want:Protocol,true", k, ok)
	}
	if got, want := err.Error(), "download: handshake: Protocol: bad magic 0x1234"; got != want {
		t.Errorf("unexpected message:\ngot: %q\nwant:%q", got, want)
	}
	if k, _ := KindOf(context.Canceled); k != KindCancelled {
		t.Errorf("unexpected kind for context error: %v", k)
	}
	if got := Kind(42).String(); got != "Kind(42)" {
		t.Errorf("unexpected invalid kind string: %q", got)
	}
}

func TestUnits(t *testing.T) {
	const tol = 1e-6
	if got, want := FeetToMeters(16.0/16), 0.3048; math.Abs(got-want) > tol {
		t.Errorf("unexpected depth: got:%v want:%v", got, want)
	}
	if got, want := FahrenheitToCelsius(100.0/10), (10.0-32)*5/9; math.Abs(got-want) > tol {
		t.Errorf("unexpected temperature: got:%v want:%v", got, want)
	}
	if got, want := PSIToBar(3000), 206.8428; math.Abs(got-want) > 1e-4 {
		t.Errorf("unexpected pressure: got:%v want:%v", got, want)
	}
	if got, want := MillibarToBar(1013), 1.013; math.Abs(got-want) > tol {
		t.Errorf("unexpected pressure: got:%v want:%v", got, want)
	}
}
