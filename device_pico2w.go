//go:build rp2350

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
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/soypat/cyw43439"
	"github.com/soypat/seqs/eth/dhcp"
	"github.com/soypat/seqs/stacks"
)

const mtu = cyw43439.MTU

var errNotStarted = errors.New("device not started")

// Raspberry Pico2 W  [RP2350]
type Pico2WDevice struct {
	ref   *cyw43439.Device   // reference to device
	stack *stacks.PortStack  // IP stack
	dhcpc *stacks.DHCPClient // address configuration
	tap   *FrameTap          // UDP sockets for mDNS
	mac   net.HardwareAddr   // radio MAC
	addr  atomic.Pointer[netip.Addr]
	log   *slog.Logger
}

// LED on or off (if applicable)
func (dev *Pico2WDevice) LED(on bool) {
	dev.ref.GPIOSet(0, on)
}

// Initialize device
func InitDevice() Device {
	// access device
	dev := new(Pico2WDevice)
	dev.ref = cyw43439.NewPicoWDevice()
	return dev
}

// Start loads the radio firmware, creates the IP stack and starts the
// packet handling loop.
func (dev *Pico2WDevice) Start(logger *slog.Logger) error {
	dev.log = logOrDiscard(logger)
	wificfg := cyw43439.DefaultWifiConfig()
	wificfg.Logger = dev.log
	dev.log.Info("initializing pico W device...")
	devInitTime := time.Now()
	if err := dev.ref.Init(wificfg); err != nil {
		return err
	}
	dev.log.Info("cyw43439:Init", slog.Duration("duration", time.Since(devInitTime)))

	mac, err := dev.ref.HardwareAddr6()
	if err != nil {
		return err
	}
	dev.mac = net.HardwareAddr(mac[:])
	dev.stack = stacks.NewPortStack(stacks.PortStackConfig{
		MAC:             mac,
		MaxOpenPortsUDP: 1, // DHCP client
		MaxOpenPortsTCP: 1, // 9p namespace
		MTU:             mtu,
		Logger:          dev.log,
	})
	dev.tap = NewFrameTap(dev.mac, dev.currentAddr, 4)

	// mDNS frames go to the tap, everything else to the stack
	dev.ref.RecvEthHandle(func(pkt []byte) error {
		if dev.tap.RecvEth(pkt) {
			return nil
		}
		return dev.stack.RecvEth(pkt)
	})

	// Begin asynchronous packet handling.
	go nicLoop(dev.ref, dev.stack, dev.tap)

	dev.dhcpc = stacks.NewDHCPClient(dev.stack, dhcp.DefaultClientPort)
	return nil
}

// address set after DHCP completed
func (dev *Pico2WDevice) currentAddr() netip.Addr {
	if a := dev.addr.Load(); a != nil {
		return *a
	}
	return netip.Addr{}
}

// Link handle
func (dev *Pico2WDevice) Link() Link { return dev }

// Stack handle
func (dev *Pico2WDevice) Stack() Stack { return dev }

// HardwareAddr of the radio
func (dev *Pico2WDevice) HardwareAddr() net.HardwareAddr {
	return dev.mac
}

// Join the network and begin the DHCP request. The driver joins open
// and WPA2 networks only.
func (dev *Pico2WDevice) Join(ssid, passwd string, auth AuthMode) error {
	if dev.stack == nil {
		return errNotStarted
	}
	switch auth {
	case AuthOpen:
		passwd = ""
		dev.log.Info("joining open network:", slog.String("ssid", ssid))
	case AuthWPA2:
		dev.log.Info("joining WPA secure network", slog.String("ssid", ssid), slog.Int("passlen", len(passwd)))
	default:
		return fmt.Errorf("%w: %s not available on cyw43439", ErrUnsupportedSecurity, auth)
	}
	if err := dev.ref.JoinWPA2(ssid, passwd); err != nil {
		return err
	}
	dev.log.Info("wifi join success!", slog.String("mac", dev.mac.String()))

	// Perform DHCP request.
	return dev.dhcpc.BeginRequest(stacks.DHCPRequestConfig{
		Xid:      uint32(time.Now().Nanosecond()),
		Hostname: DefaultHostname,
	})
}

// AddMulticastMembership lets frames for the group pass the tap.
// The radio's own multicast filter stays as set up by its firmware.
func (dev *Pico2WDevice) AddMulticastMembership(mac net.HardwareAddr) error {
	if dev.tap == nil {
		return errNotStarted
	}
	dev.tap.AcceptMulticast(mac)
	return nil
}

// IsAddressConfigured returns true once DHCP is bound. The address is
// set on the stack on first success.
func (dev *Pico2WDevice) IsAddressConfigured() bool {
	if dev.dhcpc == nil || dev.dhcpc.State() != dhcp.StateBound {
		return false
	}
	if dev.addr.Load() == nil {
		ip := dev.dhcpc.Offer()
		dev.stack.SetAddr(ip) // It's important to set the IP address after DHCP completes.
		dev.addr.Store(&ip)
		dev.log.Info("DHCP complete",
			slog.Uint64("cidrbits", uint64(dev.dhcpc.CIDRBits())),
			slog.String("ourIP", ip.String()),
			slog.String("gateway", dev.dhcpc.Gateway().String()),
			slog.Duration("lease", dev.dhcpc.IPLeaseTime()))
	}
	return true
}

// CurrentIPv4Config returns the DHCP lease (if bound).
func (dev *Pico2WDevice) CurrentIPv4Config() (AddressConfig, bool) {
	ip := dev.currentAddr()
	if !ip.IsValid() {
		return AddressConfig{}, false
	}
	return AddressConfig{
		Address:   ip,
		PrefixLen: int(dev.dhcpc.CIDRBits()),
		Gateway:   dev.dhcpc.Gateway(),
	}, true
}

// OpenUDP returns a socket on the frame tap.
func (dev *Pico2WDevice) OpenUDP(local netip.AddrPort) (PacketConn, error) {
	if dev.tap == nil {
		return nil, errNotStarted
	}
	return dev.tap.Open(local)
}

// Listen returns a TCP listener on the given port.
func (dev *Pico2WDevice) Listen(port uint16) (net.Listener, error) {
	if dev.stack == nil {
		return nil, errNotStarted
	}
	listener, err := stacks.NewTCPListener(dev.stack, stacks.TCPListenerConfig{
		MaxConnections: 3,
		ConnTxBufSize:  512,
		ConnRxBufSize:  512,
	})
	if err != nil {
		return nil, err
	}
	if err = listener.StartListening(port); err != nil {
		return nil, err
	}
	return listener, nil
}

// nicLoop moves frames between the radio, the stack and the tap.
func nicLoop(dev *cyw43439.Device, stack *stacks.PortStack, tap *FrameTap) {
	// Maximum number of packets to queue before sending them.
	const (
		queueSize                = 3
		maxRetriesBeforeDropping = 3
	)
	var queue [queueSize][mtu]byte
	var lenBuf [queueSize]int
	var retries [queueSize]int
	markSent := func(i int) {
		lenBuf[i] = 0
		retries[i] = 0
	}
	for {
		stallRx := true
		// Poll for incoming packets.
		gotPacket, err := dev.PollOne()
		if err != nil {
			println("poll error:", err.Error())
		}
		if gotPacket {
			stallRx = false
		}

		// Queue packets to be sent: stack first, then tap.
		for i := range queue {
			if retries[i] != 0 {
				continue // Packet currently queued for retransmission.
			}
			buf := queue[i][:]
			lenBuf[i], err = stack.HandleEth(buf)
			if err != nil {
				println("stack error n(should be 0)=", lenBuf[i], "err=", err.Error())
				lenBuf[i] = 0
			}
			if lenBuf[i] == 0 {
				if lenBuf[i], err = tap.HandleEth(buf); err != nil {
					println("tap error:", err.Error())
					lenBuf[i] = 0
				}
			}
			if lenBuf[i] == 0 {
				break
			}
		}
		stallTx := lenBuf == [queueSize]int{}
		if stallTx {
			if stallRx {
				// Avoid busy waiting when both Rx and Tx stall.
				time.Sleep(51 * time.Millisecond)
			}
			continue
		}

		// Send queued packets.
		for i := range queue {
			n := lenBuf[i]
			if n <= 0 {
				continue
			}
			err := dev.SendEth(queue[i][:n])
			if err != nil {
				// Queue packet for retransmission.
				retries[i]++
				if retries[i] > maxRetriesBeforeDropping {
					markSent(i)
					println("dropped outgoing packet:", err.Error())
				}
			} else {
				markSent(i)
			}
		}
	}
}
