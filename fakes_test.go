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
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// fakeLink answers join requests with a function of the attempt number.
type fakeLink struct {
	mtx    sync.Mutex
	join   func(attempt int) error
	calls  int
	active int // joins in flight
	peak   int // maximum of active
	auths  []AuthMode
	groups []net.HardwareAddr
}

func (l *fakeLink) Join(ssid, passphrase string, auth AuthMode) error {
	l.mtx.Lock()
	l.calls++
	n := l.calls
	l.active++
	l.peak = max(l.peak, l.active)
	l.auths = append(l.auths, auth)
	l.mtx.Unlock()
	defer func() {
		l.mtx.Lock()
		l.active--
		l.mtx.Unlock()
	}()
	if l.join == nil {
		return nil
	}
	return l.join(n)
}

func (l *fakeLink) Peak() int {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.peak
}

func (l *fakeLink) AddMulticastMembership(mac net.HardwareAddr) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.groups = append(l.groups, mac)
	return nil
}

func (l *fakeLink) Calls() int {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.calls
}

//----------------------------------------------------------------------

// fakeStack reports "not configured" for notReady polls.
type fakeStack struct {
	mtx      sync.Mutex
	notReady int
	polls    int
	cfg      AddressConfig
	hasCfg   bool
	conn     *fakeConn
	openErr  error
	opened   netip.AddrPort
}

func newFakeStack(addr string) *fakeStack {
	return &fakeStack{
		cfg:    AddressConfig{Address: netip.MustParseAddr(addr), PrefixLen: 24},
		hasCfg: true,
		conn:   newFakeConn(),
	}
}

func (s *fakeStack) IsAddressConfigured() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.polls++
	return s.polls > s.notReady
}

func (s *fakeStack) CurrentIPv4Config() (AddressConfig, bool) {
	return s.cfg, s.hasCfg
}

func (s *fakeStack) OpenUDP(local netip.AddrPort) (PacketConn, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.opened = local
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s.conn, nil
}

func (s *fakeStack) Polls() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.polls
}

//----------------------------------------------------------------------

// sent datagram
type sentPacket struct {
	data []byte
	dst  netip.AddrPort
}

// fakeConn delivers injected datagrams and records sent ones.
type fakeConn struct {
	rx     chan datagram
	errc   chan error
	sent   chan sentPacket
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		rx:     make(chan datagram, 16),
		errc:   make(chan error, 1),
		sent:   make(chan sentPacket, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrom(buf []byte) (int, netip.AddrPort, error) {
	select {
	case d := <-c.rx:
		return copy(buf, d.data), d.src, nil
	case err := <-c.errc:
		return 0, netip.AddrPort{}, err
	case <-c.closed:
		return 0, netip.AddrPort{}, net.ErrClosed
	}
}

func (c *fakeConn) WriteTo(buf []byte, dst netip.AddrPort) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}
	c.sent <- sentPacket{data: append([]byte(nil), buf...), dst: dst}
	return len(buf), nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// inject a datagram from src
func (c *fakeConn) inject(data []byte, src string) {
	c.rx <- datagram{data: data, src: netip.MustParseAddrPort(src)}
}

// next sent datagram (fails after a timeout)
func (c *fakeConn) next(t *testing.T) sentPacket {
	t.Helper()
	select {
	case p := <-c.sent:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no datagram sent")
	}
	return sentPacket{}
}

// assert that nothing is sent for a while
func (c *fakeConn) none(t *testing.T) {
	t.Helper()
	select {
	case p := <-c.sent:
		t.Fatalf("unexpected datagram to %s", p.dst)
	case <-time.After(100 * time.Millisecond):
	}
}

//----------------------------------------------------------------------

// packed mDNS query
func packQuery(t *testing.T, name string, qtype uint16) []byte {
	t.Helper()
	m := new(dns.Msg)
	m.SetQuestion(name, qtype)
	m.Id = 0
	m.RecursionDesired = false
	data, err := m.Pack()
	require.NoError(t, err)
	return data
}

// unpack a sent response
func unpack(t *testing.T, data []byte) *dns.Msg {
	t.Helper()
	m := new(dns.Msg)
	require.NoError(t, m.Unpack(data))
	return m
}

// logger writing to the test log
func testLogger(t *testing.T) *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// test host and service
func testZone() (*HostRecord, *ServiceDescriptor) {
	host := NewHostRecord("host1", netip.MustParseAddr("192.168.1.42"))
	svc := NewServiceDescriptor("123456789", "Pi Pico W", ServiceName, ServiceProtocol, 1234)
	return host, svc
}
