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

package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/bfix/mdnsboot"
	"github.com/enbility/zeroconf/v3"
	"github.com/gookit/color"
	"github.com/spf13/cobra"
)

func newBrowseCmd() *cobra.Command {
	var (
		service string
		iface   string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "List announced services on the local network",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			var opts []zeroconf.ClientOption
			if iface != "" {
				ifc, err := net.InterfaceByName(iface)
				if err != nil {
					return err
				}
				opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*ifc}))
			}
			entries := make(chan *zeroconf.ServiceEntry)
			removed := make(chan *zeroconf.ServiceEntry)
			errc := make(chan error, 1)
			go func() {
				errc <- zeroconf.Browse(ctx, service, strings.TrimSuffix(mdnsboot.Domain, "."), entries, removed, opts...)
			}()

			out := cmd.OutOrStdout()
			seen := make(map[string]bool)
			for {
				select {
				case e, ok := <-entries:
					if !ok {
						entries = nil
						continue
					}
					if !seen[e.Instance] {
						seen[e.Instance] = true
						printEntry(out, e)
					}
				case e, ok := <-removed:
					if !ok {
						removed = nil
						continue
					}
					delete(seen, e.Instance)
					fmt.Fprintln(out, color.Yellow.Sprintf("- %s", e.Instance))
				case err := <-errc:
					if err != nil && ctx.Err() == nil {
						return err
					}
					errc = nil
				case <-ctx.Done():
					if len(seen) == 0 {
						fmt.Fprintln(out, color.Gray.Sprint("no services found"))
					}
					return nil
				}
			}
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&service, "service", "s", strings.TrimSuffix(mdnsboot.ServiceType, "."+mdnsboot.Domain), "service type")
	fl.StringVarP(&iface, "interface", "i", "", "network interface (default: all)")
	fl.DurationVarP(&timeout, "timeout", "t", 5*time.Second, "browse duration")
	return cmd
}

// print a discovered service with its addresses and attributes
func printEntry(out io.Writer, e *zeroconf.ServiceEntry) {
	fmt.Fprintln(out, color.Green.Sprintf("+ %s", e.Instance))
	fmt.Fprintf(out, "    host  %s:%d\n", e.HostName, e.Port)
	for _, ip := range e.AddrIPv4 {
		fmt.Fprintf(out, "    ipv4  %s\n", ip)
	}
	for _, ip := range e.AddrIPv6 {
		fmt.Fprintf(out, "    ipv6  %s\n", ip)
	}
	for _, txt := range e.Text {
		key, val, _ := strings.Cut(txt, "=")
		fmt.Fprintf(out, "    %s  %s\n", color.Cyan.Sprint(key), val)
	}
}
