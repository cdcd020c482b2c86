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
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
)

// ResponderState of a responder session
type ResponderState int32

// Responder states
const (
	StateIdle       ResponderState = iota // not started
	StateBinding                          // opening the socket
	StateListening                        // waiting for queries
	StateAnswering                        // sending a response
	StateTerminated                       // session ended
)

// String returns the state name.
func (s ResponderState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBinding:
		return "binding"
	case StateListening:
		return "listening"
	case StateAnswering:
		return "answering"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// ResponderStats are the session counters.
type ResponderStats struct {
	Received  uint64 // datagrams received
	Answered  uint64 // responses sent
	Malformed uint64 // datagrams that did not parse as DNS messages
	Ignored   uint64 // valid messages without relevant questions
	SendFails uint64 // failed sends
}

// MaxMessageSize is the largest mDNS message (RFC 6762, 17).
const MaxMessageSize = 9000

// ResponderConfig controls a responder session.
type ResponderConfig struct {
	Announcements    int           // unsolicited announcements at start (0: none)
	AnnounceInterval time.Duration // delay between announcements
	BufferSize       int           // receive buffer size
	Logger           *slog.Logger
}

// DefaultResponderConfig returns the baseline responder settings.
func DefaultResponderConfig() ResponderConfig {
	return ResponderConfig{
		Announcements:    2,
		AnnounceInterval: time.Second,
		BufferSize:       MaxMessageSize,
	}
}

// Responder answers mDNS queries for one host and service.
type Responder struct {
	stack Stack
	zone  *Zone
	cfg   ResponderConfig
	log   *slog.Logger

	state     atomic.Int32
	received  atomic.Uint64
	answered  atomic.Uint64
	malformed atomic.Uint64
	ignored   atomic.Uint64
	sendFails atomic.Uint64
}

// NewResponder for the given stack, host and service.
func NewResponder(stack Stack, host *HostRecord, svc *ServiceDescriptor, cfg ResponderConfig) *Responder {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = MaxMessageSize
	}
	if cfg.AnnounceInterval <= 0 {
		cfg.AnnounceInterval = time.Second
	}
	return &Responder{
		stack: stack,
		zone:  NewZone(host, svc),
		cfg:   cfg,
		log:   logOrDiscard(cfg.Logger),
	}
}

// RunResponder announces the service on the stack and answers queries
// until the socket fails or the context is cancelled.
func RunResponder(ctx context.Context, stack Stack, ip netip.Addr, port uint16,
	serial, model, service, protocol string, logger *slog.Logger) error {
	host := NewHostRecord(DefaultHostname, ip)
	svc := NewServiceDescriptor(serial, model, service, protocol, port)
	cfg := DefaultResponderConfig()
	cfg.Logger = logger
	return NewResponder(stack, host, svc, cfg).Run(ctx)
}

// State of the session
func (r *Responder) State() ResponderState {
	return ResponderState(r.state.Load())
}

// Stats returns a snapshot of the session counters.
func (r *Responder) Stats() ResponderStats {
	return ResponderStats{
		Received:  r.received.Load(),
		Answered:  r.answered.Load(),
		Malformed: r.malformed.Load(),
		Ignored:   r.ignored.Load(),
		SendFails: r.sendFails.Load(),
	}
}

// Zone answered by the responder
func (r *Responder) Zone() *Zone {
	return r.zone
}

func (r *Responder) setState(s ResponderState) {
	r.state.Store(int32(s))
}

// Run the responder session. A bind failure returns ErrSocketBindFailed;
// a receive failure ends the session with that error. Cancelling the
// context sends a goodbye and returns the context error.
func (r *Responder) Run(ctx context.Context) error {
	r.setState(StateBinding)
	conn, err := r.stack.OpenUDP(netip.AddrPortFrom(netip.IPv4Unspecified(), MDNSPort))
	if err != nil {
		r.setState(StateTerminated)
		r.log.Error("could not bind mDNS socket", slog.String("err", err.Error()))
		return fmt.Errorf("%w: %w", ErrSocketBindFailed, err)
	}
	r.setState(StateListening)
	r.log.Info("starting mDNS responder",
		slog.String("service", r.zone.svcType),
		slog.String("instance", r.zone.instance),
		slog.String("host", r.zone.hostName),
		slog.String("ip", r.zone.host.IPv4.String()))

	// watch for cancellation; the socket is closed exactly once
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			r.send(conn, r.zone.Announcement(true), MDNSEndpoint)
		case <-done:
		}
		conn.Close()
	}()
	defer func() {
		close(done)
		wg.Wait()
		r.setState(StateTerminated)
		r.log.Info("exiting mDNS responder")
	}()

	if r.cfg.Announcements > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.announce(ctx, conn, done)
		}()
	}

	buf := make([]byte, r.cfg.BufferSize)
	for {
		n, src, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Error("mDNS receive failed", slog.String("err", err.Error()))
			return fmt.Errorf("mdns receive: %w", err)
		}
		r.received.Add(1)
		r.handle(conn, buf[:n], src)
	}
}

// handle a single datagram
func (r *Responder) handle(conn PacketConn, data []byte, src netip.AddrPort) {
	query := new(dns.Msg)
	if err := query.Unpack(data); err != nil {
		r.malformed.Add(1)
		r.log.Debug("dropped datagram",
			slog.String("src", src.String()),
			slog.String("err", fmt.Errorf("%w: %w", ErrMalformedQuery, err).Error()))
		return
	}
	resp, unicast := r.zone.Respond(query, src.Port() != MDNSPort)
	if resp == nil {
		r.ignored.Add(1)
		return
	}
	dst := MDNSEndpoint
	if unicast {
		dst = src
	}
	r.setState(StateAnswering)
	if r.send(conn, resp, dst) {
		r.answered.Add(1)
	}
	r.setState(StateListening)
}

// send a message; failures are logged and counted.
func (r *Responder) send(conn PacketConn, msg *dns.Msg, dst netip.AddrPort) bool {
	data, err := msg.Pack()
	if err == nil {
		_, err = conn.WriteTo(data, dst)
	}
	if err != nil {
		if !errors.Is(err, net.ErrClosed) {
			r.sendFails.Add(1)
			r.log.Warn("mDNS send failed", slog.String("dst", dst.String()), slog.String("err", err.Error()))
		}
		return false
	}
	r.log.Debug("mDNS response sent",
		slog.String("dst", dst.String()),
		slog.Int("answers", len(msg.Answer)),
		slog.Int("extra", len(msg.Extra)))
	return true
}

// send the configured number of unsolicited announcements.
func (r *Responder) announce(ctx context.Context, conn PacketConn, done <-chan struct{}) {
	msg := r.zone.Announcement(false)
	for i := 0; i < r.cfg.Announcements; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-time.After(r.cfg.AnnounceInterval):
			}
		}
		r.send(conn, msg, MDNSEndpoint)
	}
}
