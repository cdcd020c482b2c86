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
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevice wires a fake link and stack.
type fakeDevice struct {
	link     *fakeLink
	stack    *fakeStack
	startErr error
	lst      net.Listener
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		link:  &fakeLink{},
		stack: newFakeStack("192.168.1.42"),
	}
}

func (d *fakeDevice) LED(bool)                 {}
func (d *fakeDevice) Start(*slog.Logger) error { return d.startErr }
func (d *fakeDevice) Link() Link               { return d.link }
func (d *fakeDevice) Stack() Stack             { return d.stack }

func (d *fakeDevice) Listen(uint16) (lst net.Listener, err error) {
	if lst, err = net.Listen("tcp", "127.0.0.1:0"); err == nil {
		d.lst = lst
	}
	return
}

func (d *fakeDevice) HardwareAddr() net.HardwareAddr {
	return net.HardwareAddr{0x28, 0xcd, 0xc1, 0x01, 0x02, 0x03}
}

func bootConfig() *Config {
	cfg := DefaultConfig()
	cfg.WiFi.SSID = "home"
	cfg.Join.PollInterval = Duration(time.Millisecond)
	cfg.Announce.Count = 0
	return cfg
}

func TestBootstrap(t *testing.T) {
	dev := newFakeDevice()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- Bootstrap(ctx, dev, bootConfig(), nil, nil)
	}()

	dev.stack.conn.inject(packQuery(t, ServiceType, dns.TypePTR), "192.168.1.10:5353")
	resp := unpack(t, dev.stack.conn.next(t).data)
	require.Len(t, resp.Answer, 1)
	instance := DeriveSerial(dev.HardwareAddr()) + "._pigg._tcp.local."
	assert.Equal(t, instance, resp.Answer[0].(*dns.PTR).Ptr)

	assert.Equal(t, 1, dev.link.Calls())
	assert.Equal(t, []net.HardwareAddr{MDNSMulticastMAC}, dev.link.groups)

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("bootstrap did not return")
	}
}

func TestBootstrapJoinFailure(t *testing.T) {
	dev := newFakeDevice()
	dev.link.join = func(int) error { return errRadio }

	err := Bootstrap(context.Background(), dev, bootConfig(), nil, nil)
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, DefaultMaxAttempts, dev.link.Calls())
	assert.Nil(t, dev.lst)
}

func TestBootstrapDeviceFailure(t *testing.T) {
	dev := newFakeDevice()
	dev.startErr = errors.New("no radio")

	err := Bootstrap(context.Background(), dev, bootConfig(), nil, nil)
	require.ErrorIs(t, err, dev.startErr)
	assert.Zero(t, dev.link.Calls())
}

func TestBootstrapInvalidService(t *testing.T) {
	dev := newFakeDevice()
	cfg := bootConfig()
	cfg.Service.Protocol = "_sctp"

	err := Bootstrap(context.Background(), dev, cfg, nil, nil)
	require.ErrorIs(t, err, ErrInvalidService)
	assert.Nil(t, dev.lst)
}
