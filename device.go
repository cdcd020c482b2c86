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
)

// Device is a hardware abstraction. It owns the radio and the IP stack
// and hands out the two capabilities the bootstrap sequence works with.
type Device interface {
	// LED on or off (if applicable)
	LED(on bool)

	// Start brings up the radio and the network stack processing loop.
	Start(logger *slog.Logger) error

	// Link control handle
	Link() Link

	// Network stack handle
	Stack() Stack

	// Listen returns a TCP listener on the given port (served after
	// the address is configured).
	Listen(port uint16) (net.Listener, error)

	// HardwareAddr of the network interface
	HardwareAddr() net.HardwareAddr
}

// Link controls the association with a wireless access point.
type Link interface {
	// Join the named network with passphrase and authentication mode.
	Join(ssid, passphrase string, auth AuthMode) error

	// AddMulticastMembership lets frames for the given group MAC pass.
	AddMulticastMembership(mac net.HardwareAddr) error
}

// AddressConfig is the IPv4 configuration reported by the stack.
type AddressConfig struct {
	Address   netip.Addr // assigned address
	PrefixLen int        // network prefix length
	Gateway   netip.Addr // default gateway (may be invalid)
}

// Stack is the network stack handle.
type Stack interface {
	// IsAddressConfigured returns true once an address is assigned.
	IsAddressConfigured() bool

	// CurrentIPv4Config returns the active configuration (if any).
	CurrentIPv4Config() (AddressConfig, bool)

	// OpenUDP binds a UDP socket to the local endpoint.
	OpenUDP(local netip.AddrPort) (PacketConn, error)
}

// PacketConn is a bound UDP socket.
type PacketConn interface {
	// ReadFrom blocks until a datagram arrives; the returned error
	// is fatal for the socket.
	ReadFrom(buf []byte) (n int, src netip.AddrPort, err error)

	// WriteTo sends a datagram to the destination.
	WriteTo(buf []byte, dst netip.AddrPort) (int, error)

	// Close the socket; blocked readers return net.ErrClosed.
	Close() error
}
