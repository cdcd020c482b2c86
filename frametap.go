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
	"errors"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Error messages
var (
	errPortInUse = errors.New("udp port in use")
	errNoAddr    = errors.New("no local address")
	errNoRoute   = errors.New("no hardware address for destination")
	errTxFull    = errors.New("transmit queue full")
	errFrameSize = errors.New("frame exceeds buffer")
)

// datagrams buffered per socket
const rxQueueLength = 4

var broadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// FrameTap carries UDP sockets directly on Ethernet frames. It sits in
// front of a network stack: frames addressed to an open tap port are
// consumed by the tap, everything else is left to the stack. Outgoing
// datagrams are queued as complete frames for the NIC loop.
type FrameTap struct {
	mac  net.HardwareAddr  // our hardware address
	addr func() netip.Addr // our current IPv4 address

	mu     sync.Mutex
	groups map[string]bool                 // accepted multicast MACs
	socks  map[uint16]*tapConn             // open sockets by local port
	peers  map[netip.Addr]net.HardwareAddr // learned from received frames

	tx   chan []byte   // outgoing frames
	ipID atomic.Uint32 // IPv4 identification counter
}

// NewFrameTap for the given hardware address. addr returns the current
// IPv4 address (invalid while unconfigured); queue is the number of
// outgoing frames buffered.
func NewFrameTap(mac net.HardwareAddr, addr func() netip.Addr, queue int) *FrameTap {
	if queue <= 0 {
		queue = 4
	}
	return &FrameTap{
		mac:    mac,
		addr:   addr,
		groups: make(map[string]bool),
		socks:  make(map[uint16]*tapConn),
		peers:  make(map[netip.Addr]net.HardwareAddr),
		tx:     make(chan []byte, queue),
	}
}

// AcceptMulticast lets frames for the given group MAC pass.
func (t *FrameTap) AcceptMulticast(mac net.HardwareAddr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.groups[string(mac)] = true
}

// Open a UDP socket on the local port. The address part of the endpoint
// is ignored: the socket receives unicast and accepted multicast.
func (t *FrameTap) Open(local netip.AddrPort) (PacketConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.socks[local.Port()]; ok {
		return nil, errPortInUse
	}
	c := &tapConn{
		tap:    t,
		port:   local.Port(),
		rx:     make(chan datagram, rxQueueLength),
		closed: make(chan struct{}),
	}
	t.socks[c.port] = c
	return c, nil
}

// RecvEth inspects an incoming frame. It returns true if the frame was
// consumed by an open tap socket.
func (t *FrameTap) RecvEth(frame []byte) bool {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	eth, _ := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if eth == nil || eth.EthernetType != layers.EthernetTypeIPv4 {
		return false
	}
	ip, _ := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if ip == nil || ip.Protocol != layers.IPProtocolUDP {
		return false
	}
	udp, _ := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if udp == nil {
		return false
	}
	src, ok1 := netip.AddrFromSlice(ip.SrcIP)
	dst, ok2 := netip.AddrFromSlice(ip.DstIP)
	if !ok1 || !ok2 {
		return false
	}
	src, dst = src.Unmap(), dst.Unmap()

	t.mu.Lock()
	sock, ok := t.socks[uint16(udp.DstPort)]
	accept := bytes.Equal(eth.DstMAC, t.mac) ||
		bytes.Equal(eth.DstMAC, broadcastMAC) ||
		t.groups[string(eth.DstMAC)]
	if !ok || !accept || !(dst.IsMulticast() || dst == t.addr()) {
		t.mu.Unlock()
		return false
	}
	t.peers[src] = append(net.HardwareAddr(nil), eth.SrcMAC...)
	t.mu.Unlock()

	sock.deliver(datagram{
		data: append([]byte(nil), udp.Payload...),
		src:  netip.AddrPortFrom(src, uint16(udp.SrcPort)),
	})
	return true
}

// HandleEth copies the next outgoing frame into buf and returns its
// length (0 if nothing is queued).
func (t *FrameTap) HandleEth(buf []byte) (int, error) {
	select {
	case frame := <-t.tx:
		if len(frame) > len(buf) {
			return 0, errFrameSize
		}
		return copy(buf, frame), nil
	default:
		return 0, nil
	}
}

// build a complete UDP/IPv4/Ethernet frame.
func (t *FrameTap) frame(srcPort uint16, dst netip.AddrPort, payload []byte) ([]byte, error) {
	src := t.addr()
	if !src.Is4() {
		return nil, errNoAddr
	}
	var dstMAC net.HardwareAddr
	if dst.Addr().IsMulticast() {
		dstMAC = multicastMAC(dst.Addr())
	} else {
		t.mu.Lock()
		dstMAC = t.peers[dst.Addr()]
		t.mu.Unlock()
		if dstMAC == nil {
			return nil, errNoRoute
		}
	}
	eth := &layers.Ethernet{
		SrcMAC:       t.mac,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      255,
		Id:       uint16(t.ipID.Add(1)),
		Protocol: layers.IPProtocolUDP,
		SrcIP:    src.AsSlice(),
		DstIP:    dst.Addr().AsSlice(),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(dst.Port()),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// multicastMAC maps an IPv4 group to its link-layer address.
func multicastMAC(group netip.Addr) net.HardwareAddr {
	a := group.As4()
	return net.HardwareAddr{0x01, 0x00, 0x5e, a[1] & 0x7f, a[2], a[3]}
}

//----------------------------------------------------------------------

// received datagram
type datagram struct {
	data []byte
	src  netip.AddrPort
}

// tapConn is a UDP socket of a FrameTap.
type tapConn struct {
	tap     *FrameTap
	port    uint16
	rx      chan datagram
	closed  chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

// queue a received datagram; drop it if the reader falls behind.
func (c *tapConn) deliver(d datagram) {
	select {
	case c.rx <- d:
	default:
		c.dropped.Add(1)
	}
}

// ReadFrom blocks until a datagram arrives or the socket is closed.
func (c *tapConn) ReadFrom(buf []byte) (int, netip.AddrPort, error) {
	select {
	case d := <-c.rx:
		return copy(buf, d.data), d.src, nil
	case <-c.closed:
		return 0, netip.AddrPort{}, net.ErrClosed
	}
}

// WriteTo queues a datagram for sending.
func (c *tapConn) WriteTo(buf []byte, dst netip.AddrPort) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}
	frame, err := c.tap.frame(c.port, dst, buf)
	if err != nil {
		return 0, err
	}
	select {
	case c.tap.tx <- frame:
		return len(buf), nil
	default:
		return 0, errTxFull
	}
}

// Close the socket and release its port.
func (c *tapConn) Close() error {
	c.once.Do(func() {
		close(c.closed)
		c.tap.mu.Lock()
		delete(c.tap.socks, c.port)
		c.tap.mu.Unlock()
	})
	return nil
}
