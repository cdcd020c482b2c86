//go:build !rp2350

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
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// Error messages
var (
	errNoInterface = errors.New("no usable network interface")
	errIfaceDown   = errors.New("interface is down")
	errNoGroupMAC  = errors.New("not an IPv4 multicast MAC")
)

// LinuxDevice runs the bootstrap on a host whose network interface is
// managed by the operating system (for testing purposes).
type LinuxDevice struct {
	ifname string
	iface  *net.Interface
	log    *slog.Logger

	mtx    sync.Mutex
	groups []net.HardwareAddr
}

// Initialize device
func InitDevice() Device {
	return NewLinuxDevice("")
}

// NewLinuxDevice for the named interface (empty: first usable one).
func NewLinuxDevice(ifname string) *LinuxDevice {
	return &LinuxDevice{
		ifname: ifname,
		log:    logOrDiscard(nil),
	}
}

// LED on or off (not applicable)
func (dev *LinuxDevice) LED(on bool) {}

// Start selects the network interface.
func (dev *LinuxDevice) Start(logger *slog.Logger) (err error) {
	dev.log = logOrDiscard(logger)
	if dev.ifname != "" {
		if dev.iface, err = net.InterfaceByName(dev.ifname); err != nil {
			return err
		}
	} else if dev.iface, err = pickInterface(); err != nil {
		return err
	}
	dev.log.Info("using network interface",
		slog.String("name", dev.iface.Name),
		slog.String("mac", dev.iface.HardwareAddr.String()))
	return nil
}

// first interface that is up, multicast capable, not loopback and
// has an IPv4 address
func pickInterface() (*net.Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		ifc := &ifaces[i]
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagLoopback != 0 || ifc.Flags&net.FlagMulticast == 0 {
			continue
		}
		if _, ok := ifaceIPv4(ifc); ok {
			return ifc, nil
		}
	}
	return nil, errNoInterface
}

// first IPv4 configuration of an interface
func ifaceIPv4(ifc *net.Interface) (AddressConfig, bool) {
	addrs, err := ifc.Addrs()
	if err != nil {
		return AddressConfig{}, false
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.To4() == nil {
			continue
		}
		addr, _ := netip.AddrFromSlice(ipnet.IP.To4())
		ones, _ := ipnet.Mask.Size()
		return AddressConfig{Address: addr, PrefixLen: ones}, true
	}
	return AddressConfig{}, false
}

// Link handle
func (dev *LinuxDevice) Link() Link { return dev }

// Stack handle
func (dev *LinuxDevice) Stack() Stack { return dev }

// HardwareAddr of the interface
func (dev *LinuxDevice) HardwareAddr() net.HardwareAddr {
	if dev.iface == nil {
		return nil
	}
	return dev.iface.HardwareAddr
}

// Join checks that the interface is up; association is managed by the
// operating system.
func (dev *LinuxDevice) Join(ssid, _ string, auth AuthMode) error {
	if dev.iface == nil {
		return errNoInterface
	}
	ifc, err := net.InterfaceByIndex(dev.iface.Index)
	if err != nil {
		return err
	}
	if ifc.Flags&net.FlagUp == 0 {
		return fmt.Errorf("%w: %s", errIfaceDown, ifc.Name)
	}
	dev.iface = ifc
	dev.log.Debug("interface up, association left to the host",
		slog.String("ssid", ssid), slog.String("auth", auth.String()))
	return nil
}

// AddMulticastMembership records a group; it is joined on the socket.
func (dev *LinuxDevice) AddMulticastMembership(mac net.HardwareAddr) error {
	if len(mac) != 6 || !bytes.Equal(mac[:3], []byte{0x01, 0x00, 0x5e}) {
		return fmt.Errorf("%w: %s", errNoGroupMAC, mac)
	}
	dev.mtx.Lock()
	defer dev.mtx.Unlock()
	dev.groups = append(dev.groups, mac)
	return nil
}

// is the group MAC of an address registered?
func (dev *LinuxDevice) member(group netip.Addr) bool {
	mac := multicastMAC(group)
	dev.mtx.Lock()
	defer dev.mtx.Unlock()
	for _, g := range dev.groups {
		if bytes.Equal(g, mac) {
			return true
		}
	}
	return false
}

// IsAddressConfigured returns true if the interface has an IPv4 address.
func (dev *LinuxDevice) IsAddressConfigured() bool {
	_, ok := dev.CurrentIPv4Config()
	return ok
}

// CurrentIPv4Config of the interface
func (dev *LinuxDevice) CurrentIPv4Config() (AddressConfig, bool) {
	if dev.iface == nil {
		return AddressConfig{}, false
	}
	return ifaceIPv4(dev.iface)
}

// OpenUDP binds a UDP socket (shared with other mDNS responders on the
// host). A socket on the mDNS port joins the discovery group.
func (dev *LinuxDevice) OpenUDP(local netip.AddrPort) (PacketConn, error) {
	if dev.iface == nil {
		return nil, errNoInterface
	}
	lc := net.ListenConfig{Control: reuseAddr}
	pc, err := lc.ListenPacket(context.Background(), "udp4", local.String())
	if err != nil {
		return nil, err
	}
	conn := pc.(*net.UDPConn)
	p := ipv4.NewPacketConn(conn)
	if local.Port() == MDNSPort && dev.member(MDNSGroup) {
		if err = p.JoinGroup(dev.iface, &net.UDPAddr{IP: net.IP(MDNSGroup.AsSlice())}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("join group: %w", err)
		}
	}
	if err = p.SetMulticastInterface(dev.iface); err != nil {
		dev.log.Warn("can't set multicast interface", slog.String("err", err.Error()))
	}
	if err = p.SetMulticastTTL(255); err != nil {
		dev.log.Warn("can't set multicast TTL", slog.String("err", err.Error()))
	}
	if err = p.SetMulticastLoopback(true); err != nil {
		dev.log.Warn("can't set multicast loopback", slog.String("err", err.Error()))
	}
	// the socket is bound on all interfaces; answers only carry the
	// address of ours
	if err = p.SetControlMessage(ipv4.FlagInterface, true); err != nil {
		dev.log.Warn("can't receive interface info", slog.String("err", err.Error()))
	}
	return &udpConn{conn: conn, pc: p, ifindex: dev.iface.Index}, nil
}

// Listen returns a TCP listener on the given port.
func (dev *LinuxDevice) Listen(port uint16) (net.Listener, error) {
	cfg := new(net.ListenConfig)
	return cfg.Listen(context.Background(), "tcp", fmt.Sprintf(":%d", port))
}

// set SO_REUSEADDR and SO_REUSEPORT on a socket
func reuseAddr(_, _ string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if serr == nil {
			serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
		}
	})
	if err != nil {
		return err
	}
	return serr
}

//----------------------------------------------------------------------

// udpConn is a host UDP socket receiving on one interface.
type udpConn struct {
	conn    *net.UDPConn
	pc      *ipv4.PacketConn
	ifindex int
}

// ReadFrom the socket; datagrams from other interfaces are dropped.
func (c *udpConn) ReadFrom(buf []byte) (int, netip.AddrPort, error) {
	for {
		n, cm, src, err := c.pc.ReadFrom(buf)
		if err != nil {
			return 0, netip.AddrPort{}, err
		}
		if !c.accept(cm) {
			continue
		}
		from, ok := src.(*net.UDPAddr)
		if !ok {
			continue
		}
		addr := from.AddrPort()
		return n, netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port()), nil
	}
}

// did the datagram arrive on our interface? (unknown counts as yes)
func (c *udpConn) accept(cm *ipv4.ControlMessage) bool {
	return cm == nil || cm.IfIndex == 0 || cm.IfIndex == c.ifindex
}

// WriteTo a destination
func (c *udpConn) WriteTo(buf []byte, dst netip.AddrPort) (int, error) {
	return c.conn.WriteToUDPAddrPort(buf, dst)
}

// Close the socket
func (c *udpConn) Close() error {
	return c.conn.Close()
}
