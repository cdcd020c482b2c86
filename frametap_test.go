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
	"net"
	"net/netip"
	"sync/atomic"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tapMAC  = net.HardwareAddr{0x28, 0xcd, 0xc1, 0x00, 0x00, 0x01}
	peerMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	tapIP   = netip.MustParseAddr("192.168.1.42")
	peerIP  = netip.MustParseAddr("192.168.1.10")
)

// build an Ethernet/IPv4/UDP frame
func udpFrame(t *testing.T, dstMAC net.HardwareAddr, src, dst netip.AddrPort, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       peerMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      255,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    src.Addr().AsSlice(),
		DstIP:    dst.Addr().AsSlice(),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(src.Port()),
		DstPort: layers.UDPPort(dst.Port()),
	}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func newTestTap(configured bool) *FrameTap {
	var addr atomic.Pointer[netip.Addr]
	if configured {
		addr.Store(&tapIP)
	}
	tap := NewFrameTap(tapMAC, func() netip.Addr {
		if a := addr.Load(); a != nil {
			return *a
		}
		return netip.Addr{}
	}, 4)
	tap.AcceptMulticast(MDNSMulticastMAC)
	return tap
}

func TestMulticastMAC(t *testing.T) {
	assert.Equal(t, MDNSMulticastMAC, multicastMAC(MDNSGroup))
	assert.Equal(t, net.HardwareAddr{0x01, 0x00, 0x5e, 0x7f, 0x01, 0x02},
		multicastMAC(netip.MustParseAddr("239.255.1.2")))
}

func TestFrameTapReceive(t *testing.T) {
	tap := newTestTap(true)
	conn, err := tap.Open(netip.AddrPortFrom(netip.IPv4Unspecified(), MDNSPort))
	require.NoError(t, err)
	defer conn.Close()

	payload := []byte("query payload")
	src := netip.AddrPortFrom(peerIP, MDNSPort)
	require.True(t, tap.RecvEth(udpFrame(t, MDNSMulticastMAC, src, MDNSEndpoint, payload)))

	buf := make([]byte, 1500)
	n, from, err := conn.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])
	assert.Equal(t, src, from)

	// unicast to our address
	require.True(t, tap.RecvEth(udpFrame(t, tapMAC, src, netip.AddrPortFrom(tapIP, MDNSPort), payload)))
	_, _, err = conn.ReadFrom(buf)
	require.NoError(t, err)
}

func TestFrameTapPassesForeignFrames(t *testing.T) {
	tap := newTestTap(true)
	conn, err := tap.Open(netip.AddrPortFrom(netip.IPv4Unspecified(), MDNSPort))
	require.NoError(t, err)
	defer conn.Close()

	src := netip.AddrPortFrom(peerIP, MDNSPort)
	payload := []byte("x")
	// closed port
	assert.False(t, tap.RecvEth(udpFrame(t, tapMAC, src, netip.AddrPortFrom(tapIP, 80), payload)))
	// group not accepted
	other := netip.MustParseAddrPort("239.1.2.3:5353")
	assert.False(t, tap.RecvEth(udpFrame(t, multicastMAC(other.Addr()), src, other, payload)))
	// someone else's address
	assert.False(t, tap.RecvEth(udpFrame(t, tapMAC, src, netip.MustParseAddrPort("192.168.1.99:5353"), payload)))
	// not a frame at all
	assert.False(t, tap.RecvEth([]byte{0x01, 0x02}))
}

func TestFrameTapSendMulticast(t *testing.T) {
	tap := newTestTap(true)
	conn, err := tap.Open(netip.AddrPortFrom(netip.IPv4Unspecified(), MDNSPort))
	require.NoError(t, err)
	defer conn.Close()

	payload := []byte("response payload")
	n, err := conn.WriteTo(payload, MDNSEndpoint)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	buf := make([]byte, 1500)
	n, err = tap.HandleEth(buf)
	require.NoError(t, err)
	require.Positive(t, n)

	pkt := gopacket.NewPacket(buf[:n], layers.LayerTypeEthernet, gopacket.Default)
	eth := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	assert.Equal(t, MDNSMulticastMAC, eth.DstMAC)
	assert.Equal(t, tapMAC, eth.SrcMAC)
	ip := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	assert.Equal(t, uint8(255), ip.TTL)
	assert.Equal(t, tapIP.AsSlice(), []byte(ip.SrcIP.To4()))
	assert.Equal(t, MDNSGroup.AsSlice(), []byte(ip.DstIP.To4()))
	udp := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	assert.Equal(t, layers.UDPPort(MDNSPort), udp.SrcPort)
	assert.Equal(t, layers.UDPPort(MDNSPort), udp.DstPort)
	assert.Equal(t, payload, udp.Payload)

	// queue drained
	n, err = tap.HandleEth(buf)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFrameTapSendUnicast(t *testing.T) {
	tap := newTestTap(true)
	conn, err := tap.Open(netip.AddrPortFrom(netip.IPv4Unspecified(), MDNSPort))
	require.NoError(t, err)
	defer conn.Close()

	dst := netip.AddrPortFrom(peerIP, 49152)
	_, err = conn.WriteTo([]byte("x"), dst)
	require.ErrorIs(t, err, errNoRoute)

	// learn the peer from a received frame
	require.True(t, tap.RecvEth(udpFrame(t, MDNSMulticastMAC, dst, MDNSEndpoint, []byte("q"))))
	_, err = conn.WriteTo([]byte("x"), dst)
	require.NoError(t, err)

	buf := make([]byte, 1500)
	n, err := tap.HandleEth(buf)
	require.NoError(t, err)
	pkt := gopacket.NewPacket(buf[:n], layers.LayerTypeEthernet, gopacket.Default)
	assert.Equal(t, peerMAC, pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet).DstMAC)
	assert.Equal(t, layers.UDPPort(49152), pkt.Layer(layers.LayerTypeUDP).(*layers.UDP).DstPort)
}

func TestFrameTapErrors(t *testing.T) {
	tap := newTestTap(false)
	conn, err := tap.Open(netip.AddrPortFrom(netip.IPv4Unspecified(), MDNSPort))
	require.NoError(t, err)

	_, err = tap.Open(netip.AddrPortFrom(netip.IPv4Unspecified(), MDNSPort))
	assert.ErrorIs(t, err, errPortInUse)

	_, err = conn.WriteTo([]byte("x"), MDNSEndpoint)
	assert.ErrorIs(t, err, errNoAddr)

	require.NoError(t, conn.Close())
	_, _, err = conn.ReadFrom(make([]byte, 16))
	assert.ErrorIs(t, err, net.ErrClosed)
	_, err = conn.WriteTo([]byte("x"), MDNSEndpoint)
	assert.ErrorIs(t, err, net.ErrClosed)

	// port is free again
	conn, err = tap.Open(netip.AddrPortFrom(netip.IPv4Unspecified(), MDNSPort))
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}

func TestFrameTapQueueFull(t *testing.T) {
	tap := newTestTap(true)
	conn, err := tap.Open(netip.AddrPortFrom(netip.IPv4Unspecified(), MDNSPort))
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 4; i++ {
		_, err = conn.WriteTo([]byte("x"), MDNSEndpoint)
		require.NoError(t, err)
	}
	_, err = conn.WriteTo([]byte("x"), MDNSEndpoint)
	assert.ErrorIs(t, err, errTxFull)

	_, err = tap.HandleEth(make([]byte, 16))
	assert.ErrorIs(t, err, errFrameSize)
}
