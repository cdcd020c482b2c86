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
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Well-known service labels
const (
	ServiceName     = "_pigg"
	ServiceProtocol = "_tcp"
	ServiceType     = "_pigg._tcp.local."
	Domain          = "local."
)

// mDNS endpoint
const (
	MDNSPort   = 5353
	DefaultTTL = 60 * time.Second
)

var (
	// MDNSGroup is the IPv4 multicast discovery group.
	MDNSGroup = netip.MustParseAddr("224.0.0.251")

	// MDNSEndpoint is the group address and port.
	MDNSEndpoint = netip.AddrPortFrom(MDNSGroup, MDNSPort)

	// MDNSMulticastMAC is the link-layer address of MDNSGroup.
	MDNSMulticastMAC = net.HardwareAddr{0x01, 0x00, 0x5e, 0x00, 0x00, 0xfb}
)

// Application identification (set with -ldflags "-X ...")
var (
	AppName    = "mdnsboot"
	AppVersion = "0.1.0"
)

// DefaultHostname announced if none is configured
const DefaultHostname = "host1"

//----------------------------------------------------------------------

// HostRecord describes the host announcing the service.
type HostRecord struct {
	Hostname string        // host name (without ".local.")
	IPv4     netip.Addr    // resolved address
	IPv6     netip.Addr    // may be invalid or unspecified
	TTL      time.Duration // record TTL
}

// NewHostRecord for a resolved IPv4 address.
func NewHostRecord(hostname string, ipv4 netip.Addr) *HostRecord {
	if hostname == "" {
		hostname = DefaultHostname
	}
	return &HostRecord{
		Hostname: hostname,
		IPv4:     ipv4,
		IPv6:     netip.IPv6Unspecified(),
		TTL:      DefaultTTL,
	}
}

// FQDN of the host ("<hostname>.local.")
func (h *HostRecord) FQDN() string {
	return h.Hostname + "." + Domain
}

// TTL in seconds
func (h *HostRecord) ttlSecs() uint32 {
	return uint32(h.TTL / time.Second)
}

//----------------------------------------------------------------------

// TXTPair is a single TXT attribute.
type TXTPair struct {
	Key   string
	Value string
}

// String returns the "key=value" form used on the wire.
func (p TXTPair) String() string {
	return p.Key + "=" + p.Value
}

// ServiceDescriptor describes the advertised service.
type ServiceDescriptor struct {
	Name     string    // instance name (device serial number)
	Service  string    // service label ("_pigg")
	Protocol string    // protocol label ("_tcp")
	Port     uint16    // service port
	Priority uint16    // SRV priority
	Weight   uint16    // SRV weight
	Subtypes []string  // service subtypes (labels)
	TXT      []TXTPair // ordered attributes
}

// NewServiceDescriptor with the default attribute set.
func NewServiceDescriptor(serial, model, service, protocol string, port uint16) *ServiceDescriptor {
	return &ServiceDescriptor{
		Name:     serial,
		Service:  service,
		Protocol: protocol,
		Port:     port,
		Priority: 1,
		Weight:   5,
		TXT: []TXTPair{
			{"Serial", serial},
			{"Model", model},
			{"AppName", AppName},
			{"AppVersion", AppVersion},
		},
	}
}

// ServiceType returns "<service>.<protocol>.local."
func (s *ServiceDescriptor) ServiceType() string {
	return s.Service + "." + s.Protocol + "." + Domain
}

// InstanceName returns "<name>.<service>.<protocol>.local."
func (s *ServiceDescriptor) InstanceName() string {
	return escapeLabel(s.Name) + "." + s.ServiceType()
}

// SubtypeNames returns "<subtype>._sub.<service>.<protocol>.local." names.
func (s *ServiceDescriptor) SubtypeNames() []string {
	names := make([]string, 0, len(s.Subtypes))
	for _, sub := range s.Subtypes {
		names = append(names, sub+"._sub."+s.ServiceType())
	}
	return names
}

// TXTStrings returns the attributes in wire form.
func (s *ServiceDescriptor) TXTStrings() []string {
	txt := make([]string, 0, len(s.TXT))
	for _, p := range s.TXT {
		txt = append(txt, p.String())
	}
	return txt
}

// Validate the descriptor: labels must fit into DNS names, TXT keys
// must be unique and each TXT string must fit into 255 bytes.
func (s *ServiceDescriptor) Validate() error {
	if len(s.Name) == 0 || len(s.Name) > 63 {
		return fmt.Errorf("%w: instance name length %d", ErrInvalidService, len(s.Name))
	}
	for _, label := range []string{s.Service, s.Protocol} {
		if !strings.HasPrefix(label, "_") || len(label) < 2 || len(label) > 63 {
			return fmt.Errorf("%w: label '%s'", ErrInvalidService, label)
		}
	}
	if s.Protocol != "_tcp" && s.Protocol != "_udp" {
		return fmt.Errorf("%w: protocol '%s'", ErrInvalidService, s.Protocol)
	}
	seen := make(map[string]bool)
	for _, p := range s.TXT {
		key := strings.ToLower(p.Key)
		switch {
		case len(p.Key) == 0 || strings.Contains(p.Key, "="):
			return fmt.Errorf("%w: TXT key '%s'", ErrInvalidService, p.Key)
		case seen[key]:
			return fmt.Errorf("%w: duplicate TXT key '%s'", ErrInvalidService, p.Key)
		case len(p.String()) > 255:
			return fmt.Errorf("%w: TXT entry '%s' too long", ErrInvalidService, p.Key)
		}
		seen[key] = true
	}
	return nil
}

// escape dots and backslashes in an instance label.
func escapeLabel(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, ".", `\.`)
}

// DeriveSerial returns a stable serial number for a hardware address.
func DeriveSerial(mac net.HardwareAddr) string {
	id := uuid.NewSHA1(uuid.NameSpaceOID, mac)
	return strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:12])
}
