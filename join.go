//----------------------------------------------------------------------
// This file is part of mdnsboot.
// Copyright (C) 2024-present Bernd Fix   >Y<
//
// mdnsboot is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// mdnsboot is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later
//----------------------------------------------------------------------

package mdnsboot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"time"
)

// Join defaults
const (
	DefaultMaxAttempts  = 3
	DefaultPollInterval = 100 * time.Millisecond
)

// Credentials for a wireless network
type Credentials struct {
	SSID       string // network name
	Passphrase string // passphrase (empty for open networks)
	Security   string // security mode name ("open", "wpa", "wpa2", "wpa3")
}

// JoinOutcome of a join attempt
type JoinOutcome int

// Join outcomes
const (
	JoinPending JoinOutcome = iota // attempt in progress
	JoinJoined                     // associated with the network
	JoinFailed                     // attempt failed
)

// String returns a readable outcome.
func (o JoinOutcome) String() string {
	switch o {
	case JoinPending:
		return "pending"
	case JoinJoined:
		return "joined"
	case JoinFailed:
		return "failed"
	}
	return "unknown"
}

// JoinAttemptState is reported to an observer on every state change.
type JoinAttemptState struct {
	Attempt int         // 1..MaxAttempts
	Outcome JoinOutcome // current outcome
	Err     error       // reason for failure (if any)
}

// JoinConfig controls the join sequence.
type JoinConfig struct {
	MaxAttempts    int           // number of join attempts (default 3)
	RetryDelay     time.Duration // delay between failed attempts (default none)
	AttemptTimeout time.Duration // bound on a single link join (default none)
	PollInterval   time.Duration // address poll interval (default 100ms)
	Logger         *slog.Logger

	// Observer is called on every attempt state change (optional).
	Observer func(JoinAttemptState)
}

// DefaultJoinConfig returns the baseline join settings.
func DefaultJoinConfig() JoinConfig {
	return JoinConfig{
		MaxAttempts:  DefaultMaxAttempts,
		PollInterval: DefaultPollInterval,
	}
}

// return a logger that does no logging if none is set.
func logOrDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(127),
		}))
	}
	return logger
}

// Join associates the link with the network and waits for the stack to
// report an IPv4 address. Link failures are retried up to MaxAttempts
// times; an unsupported security mode aborts without retry.
func Join(ctx context.Context, link Link, stack Stack, cred Credentials, cfg JoinConfig) (netip.Addr, error) {
	logger := logOrDiscard(cfg.Logger)
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	report := func(s JoinAttemptState) {
		if cfg.Observer != nil {
			cfg.Observer(s)
		}
	}
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		logger.Info("joining wifi network",
			slog.Int("attempt", attempt),
			slog.String("ssid", cred.SSID),
			slog.String("security", cred.Security))

		auth, err := ParseSecurity(cred.Security)
		if err != nil {
			logger.Error("security mode not supported", slog.String("security", cred.Security))
			report(JoinAttemptState{Attempt: attempt, Outcome: JoinFailed, Err: err})
			return netip.Addr{}, err
		}
		report(JoinAttemptState{Attempt: attempt, Outcome: JoinPending})

		if err = joinOnce(ctx, link, cred, auth, cfg.AttemptTimeout); err == nil {
			logger.Info("joined wifi network", slog.String("ssid", cred.SSID))
			report(JoinAttemptState{Attempt: attempt, Outcome: JoinJoined})
			return WaitForAddress(ctx, stack, cfg.PollInterval, logger)
		}
		report(JoinAttemptState{Attempt: attempt, Outcome: JoinFailed, Err: err})
		if errors.Is(err, ErrUnsupportedSecurity) {
			logger.Error("link can't use security mode", slog.String("err", err.Error()))
			return netip.Addr{}, err
		}
		if ctx.Err() != nil {
			return netip.Addr{}, ctx.Err()
		}
		lastErr = err
		logger.Warn("wifi join failed", slog.Int("attempt", attempt), slog.String("err", err.Error()))

		if cfg.RetryDelay > 0 && attempt < cfg.MaxAttempts {
			select {
			case <-ctx.Done():
				return netip.Addr{}, ctx.Err()
			case <-time.After(cfg.RetryDelay):
			}
		}
	}
	return netip.Addr{}, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, cfg.MaxAttempts, lastErr)
}

// run a single link join, optionally bounded by a timeout. The link call
// itself is not cancellable: on timeout the attempt counts as rejected,
// but the call is waited for so that the link never sees two joins at
// once.
func joinOnce(ctx context.Context, link Link, cred Credentials, auth AuthMode, timeout time.Duration) error {
	wrap := func(err error) error {
		if err == nil || errors.Is(err, ErrUnsupportedSecurity) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrJoinRejected, err)
	}
	if timeout <= 0 {
		return wrap(link.Join(cred.SSID, cred.Passphrase, auth))
	}
	done := make(chan error, 1)
	go func() {
		done <- link.Join(cred.SSID, cred.Passphrase, auth)
	}()
	select {
	case err := <-done:
		return wrap(err)
	case <-time.After(timeout):
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		return fmt.Errorf("%w: timeout after %s", ErrJoinRejected, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitForAddress polls the stack until it reports a configured address.
func WaitForAddress(ctx context.Context, stack Stack, interval time.Duration, logger *slog.Logger) (netip.Addr, error) {
	logger = logOrDiscard(logger)
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	logger.Info("waiting for an IP address")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for !stack.IsAddressConfigured() {
		select {
		case <-ctx.Done():
			return netip.Addr{}, ctx.Err()
		case <-ticker.C:
		}
	}
	cfg, ok := stack.CurrentIPv4Config()
	if !ok || !cfg.Address.IsValid() {
		return netip.Addr{}, ErrAddressConfigMissing
	}
	logger.Info("address configured",
		slog.String("ip", cfg.Address.String()),
		slog.Int("prefix", cfg.PrefixLen),
		slog.String("gateway", cfg.Gateway.String()))
	return cfg.Address, nil
}
