// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dive

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the protocol configuration.
type Config struct {
	// Logger receives protocol diagnostics.
	Logger zerolog.Logger

	// Timeout is the transport read timeout.
	Timeout time.Duration

	// Retries is the number of additional attempts made for a
	// request that fails validation.
	Retries int

	// RetryDelay is the delay before the first retry. Each further
	// retry waits RetryDelay longer, up to MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration

	// Dialer opens the transport. When nil the protocol's default
	// dialer is used.
	Dialer Dialer
}

// DefaultConfig returns the configuration used when no options are given.
func DefaultConfig() Config {
	return Config{
		Logger:        zerolog.Nop(),
		Timeout:       3 * time.Second,
		Retries:       2,
		RetryDelay:    100 * time.Millisecond,
		MaxRetryDelay: time.Second,
	}
}

// NewConfig returns base with opts applied.
func NewConfig(base Config, opts ...Option) Config {
	for _, opt := range opts {
		opt(&base)
	}
	return base
}

// Option is a functional option for configuring a Protocol.
type Option func(*Config)

// WithLogger sets the protocol logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

// WithTimeout sets the transport read timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Timeout = d
		}
	}
}

// WithRetries sets the number of retries for failed requests.
func WithRetries(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.Retries = n
		}
	}
}

// WithRetryDelay sets the retry delay step and ceiling.
func WithRetryDelay(step, ceiling time.Duration) Option {
	return func(c *Config) {
		c.RetryDelay = max(step, 0)
		c.MaxRetryDelay = max(ceiling, c.RetryDelay)
	}
}

// WithDialer sets the dialer used by Connect.
func WithDialer(d Dialer) Option {
	return func(c *Config) {
		c.Dialer = d
	}
}

// Retryable returns whether err is a validation failure that may succeed
// when the request is repeated.
func Retryable(err error) bool {
	k, ok := KindOf(err)
	if !ok || errors.Is(err, ErrSessionLost) {
		return false
	}
	switch k {
	case KindTimeout, KindDataFormat, KindProtocol:
		return true
	}
	return false
}

// Retry calls attempt until it succeeds, returns an error that is not
// Retryable, or has been called Retries+1 times. Before each retry purge
// is called to flush the input buffer and Retry waits for a delay that
// grows by RetryDelay up to MaxRetryDelay. The last error is returned.
func (c Config) Retry(ctx context.Context, op string, purge func() error, attempt func() error) error {
	var err error
	for n := 0; n <= c.Retries; n++ {
		if n != 0 {
			delay := min(time.Duration(n)*c.RetryDelay, c.MaxRetryDelay)
			c.Logger.Debug().Str("op", op).Int("attempt", n+1).Dur("delay", delay).Err(err).Msg("retrying")
			if err := sleep(ctx, delay); err != nil {
				return err
			}
			if purge != nil {
				if perr := purge(); perr != nil {
					return perr
				}
			}
		}
		err = attempt()
		if err == nil || !Retryable(err) {
			return err
		}
	}
	c.Logger.Debug().Str("op", op).Int("attempts", c.Retries+1).Err(err).Msg("retries exhausted")
	return err
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	return sleep(ctx, d)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctxErr(ctx)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctxErr(ctx)
	case <-t.C:
		return nil
	}
}

// ctxErr returns the context error classified as KindCancelled.
func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &Error{Kind: KindCancelled, Err: err}
	}
	return nil
}

// CheckContext returns a KindCancelled error if ctx is done.
func CheckContext(ctx context.Context) error { return ctxErr(ctx) }

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Open dials address with the configured dialer, or def when none is
// configured, opens the transport and applies the read timeout.
func (c Config) Open(ctx context.Context, address string, def Dialer) (Transport, error) {
	dial := c.Dialer
	if dial == nil {
		dial = def
	}
	if dial == nil {
		return nil, Errorf(KindUnsupported, "dial", "no dialer for %q", address)
	}
	t, err := dial(ctx, address)
	if err != nil {
		return nil, err
	}
	err = t.Open(ctx)
	if err != nil {
		return nil, err
	}
	err = t.SetTimeout(c.Timeout)
	if err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}
