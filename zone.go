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
	"strings"

	"github.com/miekg/dns"
)

const (
	// DNS-SD service type enumeration name
	servicesEnum = "_services._dns-sd._udp." + Domain

	// top bit of the class: cache-flush in answers, QU in questions
	classCacheFlush = 1 << 15
	qClassUnicast   = 1 << 15

	// TTL cap for legacy unicast responses (RFC 6762, 6.7)
	legacyMaxTTL = 10
)

// Zone synthesizes mDNS answer records for one host and one service.
// It is immutable and safe for concurrent use.
type Zone struct {
	host     *HostRecord
	svc      *ServiceDescriptor
	hostName string   // "<host>.local."
	svcType  string   // "_pigg._tcp.local."
	instance string   // "<serial>._pigg._tcp.local."
	subtypes []string // "<sub>._sub._pigg._tcp.local."
}

// NewZone for the given host and service.
func NewZone(host *HostRecord, svc *ServiceDescriptor) *Zone {
	return &Zone{
		host:     host,
		svc:      svc,
		hostName: host.FQDN(),
		svcType:  svc.ServiceType(),
		instance: svc.InstanceName(),
		subtypes: svc.SubtypeNames(),
	}
}

// Records returns the answers for a question and the additional records
// that go with them. Names are compared case-insensitively.
func (z *Zone) Records(q dns.Question) (answers, extras []dns.RR) {
	class := q.Qclass &^ qClassUnicast
	if class != dns.ClassINET && class != dns.ClassANY {
		return nil, nil
	}
	match := func(t uint16) bool {
		return q.Qtype == t || q.Qtype == dns.TypeANY
	}
	switch {
	case sameName(q.Name, servicesEnum):
		if match(dns.TypePTR) {
			answers = append(answers, z.ptr(servicesEnum, z.svcType))
		}
	case sameName(q.Name, z.svcType) || z.isSubtype(q.Name):
		if match(dns.TypePTR) {
			answers = append(answers, z.ptr(q.Name, z.instance))
			extras = append(extras, z.srv(), z.txt())
			extras = append(extras, z.addrs(true, true)...)
		}
	case sameName(q.Name, z.instance):
		if match(dns.TypeSRV) {
			answers = append(answers, z.srv())
			extras = append(extras, z.addrs(true, true)...)
		}
		if match(dns.TypeTXT) {
			answers = append(answers, z.txt())
		}
	case sameName(q.Name, z.hostName):
		answers = append(answers, z.addrs(match(dns.TypeA), match(dns.TypeAAAA))...)
	}
	return
}

// Respond builds the response for a query. It returns nil if nothing in
// the query concerns this zone, or if the message is not a query at all.
// A legacy (non-5353 source port) query gets a unicast DNS response that
// echoes its ID and questions. unicast is set if the reply should go
// directly to the querier.
func (z *Zone) Respond(query *dns.Msg, legacy bool) (resp *dns.Msg, unicast bool) {
	if query == nil || query.Response || query.Opcode != dns.OpcodeQuery || len(query.Question) == 0 {
		return nil, false
	}
	resp = newResponse()
	seen := make(map[string]bool)
	add := func(list, rrs []dns.RR) []dns.RR {
		for _, rr := range rrs {
			key := rr.String()
			if !seen[key] {
				seen[key] = true
				list = append(list, rr)
			}
		}
		return list
	}
	var extras []dns.RR
	unicast = true
	for _, q := range query.Question {
		ans, extra := z.Records(q)
		if len(ans) == 0 {
			continue
		}
		if q.Qclass&qClassUnicast == 0 {
			unicast = false
		}
		resp.Answer = add(resp.Answer, ans)
		extras = append(extras, extra...)
	}
	if len(resp.Answer) == 0 {
		return nil, false
	}
	resp.Extra = add(resp.Extra, extras)

	if legacy {
		resp.Id = query.Id
		for _, q := range query.Question {
			q.Qclass &^= qClassUnicast
			resp.Question = append(resp.Question, q)
		}
		for _, rr := range append(resp.Answer, resp.Extra...) {
			hdr := rr.Header()
			hdr.Class &^= classCacheFlush
			hdr.Ttl = min(hdr.Ttl, legacyMaxTTL)
		}
		unicast = true
	}
	return resp, unicast
}

// Announcement returns an unsolicited response carrying all records of
// the zone. A goodbye announcement has all TTLs set to zero.
func (z *Zone) Announcement(goodbye bool) *dns.Msg {
	resp := newResponse()
	resp.Answer = append(resp.Answer, z.ptr(z.svcType, z.instance))
	for _, sub := range z.subtypes {
		resp.Answer = append(resp.Answer, z.ptr(sub, z.instance))
	}
	resp.Answer = append(resp.Answer, z.srv(), z.txt())
	resp.Answer = append(resp.Answer, z.addrs(true, true)...)
	resp.Answer = append(resp.Answer, z.ptr(servicesEnum, z.svcType))
	if goodbye {
		for _, rr := range resp.Answer {
			rr.Header().Ttl = 0
		}
	}
	return resp
}

func newResponse() *dns.Msg {
	resp := new(dns.Msg)
	resp.Response = true
	resp.Authoritative = true
	resp.Compress = true
	return resp
}

func (z *Zone) isSubtype(name string) bool {
	for _, sub := range z.subtypes {
		if sameName(name, sub) {
			return true
		}
	}
	return false
}

// header for a record; unique records carry the cache-flush bit.
func (z *Zone) hdr(name string, rrtype uint16, unique bool) dns.RR_Header {
	class := uint16(dns.ClassINET)
	if unique {
		class |= classCacheFlush
	}
	return dns.RR_Header{
		Name:   name,
		Rrtype: rrtype,
		Class:  class,
		Ttl:    z.host.ttlSecs(),
	}
}

func (z *Zone) ptr(name, target string) dns.RR {
	return &dns.PTR{
		Hdr: z.hdr(name, dns.TypePTR, false),
		Ptr: target,
	}
}

func (z *Zone) srv() dns.RR {
	return &dns.SRV{
		Hdr:      z.hdr(z.instance, dns.TypeSRV, true),
		Priority: z.svc.Priority,
		Weight:   z.svc.Weight,
		Port:     z.svc.Port,
		Target:   z.hostName,
	}
}

func (z *Zone) txt() dns.RR {
	txt := z.svc.TXTStrings()
	if len(txt) == 0 {
		txt = []string{""} // RFC 6763, 6.1
	}
	// dns.TXT holds presentation format
	for i, s := range txt {
		txt[i] = txtEscaper.Replace(s)
	}
	return &dns.TXT{
		Hdr: z.hdr(z.instance, dns.TypeTXT, true),
		Txt: txt,
	}
}

// address records of the host (A and/or AAAA)
func (z *Zone) addrs(v4, v6 bool) (rrs []dns.RR) {
	if v4 && z.host.IPv4.Is4() {
		rrs = append(rrs, &dns.A{
			Hdr: z.hdr(z.hostName, dns.TypeA, true),
			A:   net.IP(z.host.IPv4.AsSlice()),
		})
	}
	if v6 && z.host.IPv6.Is6() && !z.host.IPv6.IsUnspecified() {
		rrs = append(rrs, &dns.AAAA{
			Hdr:  z.hdr(z.hostName, dns.TypeAAAA, true),
			AAAA: net.IP(z.host.IPv6.AsSlice()),
		})
	}
	return
}

var txtEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func sameName(a, b string) bool {
	return strings.EqualFold(dns.Fqdn(a), dns.Fqdn(b))
}
