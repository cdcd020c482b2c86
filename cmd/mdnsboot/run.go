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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bfix/mdnsboot"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// command line overrides for the configuration file
type runFlags struct {
	config   string
	iface    string
	ssid     string
	security string
	hostname string
	serial   string
	port     uint16
	logLevel string
	announce int
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Bootstrap the network and run the mDNS responder",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			lvl, _ := cfg.Level()
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dev := mdnsboot.NewLinuxDevice(cfg.Interface)
			err = mdnsboot.Bootstrap(ctx, dev, cfg, nil, logger)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.config, "config", "c", "", "YAML configuration file")
	fl.StringVarP(&f.iface, "interface", "i", "", "network interface (default: first usable)")
	fl.StringVar(&f.ssid, "ssid", "", "network name")
	fl.StringVar(&f.security, "security", "", "security mode (open, wpa, wpa2, wpa3)")
	fl.StringVar(&f.hostname, "hostname", "", "announced host name")
	fl.StringVar(&f.serial, "serial", "", "serial number (default: derived from MAC)")
	fl.Uint16VarP(&f.port, "port", "p", 0, "service port")
	fl.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fl.IntVar(&f.announce, "announce", -1, "number of unsolicited announcements")
	return cmd
}

// load the configuration and apply the flags
func (f *runFlags) load() (cfg *mdnsboot.Config, err error) {
	cfg = mdnsboot.DefaultConfig()
	if f.config != "" {
		if cfg, err = mdnsboot.LoadConfig(f.config); err != nil {
			return
		}
	}
	set := func(dst *string, val string) {
		if val != "" {
			*dst = val
		}
	}
	set(&cfg.Interface, f.iface)
	set(&cfg.WiFi.SSID, f.ssid)
	set(&cfg.WiFi.Security, f.security)
	set(&cfg.Service.Hostname, f.hostname)
	set(&cfg.Service.Serial, f.serial)
	set(&cfg.LogLevel, f.logLevel)
	if f.port != 0 {
		cfg.Service.Port = f.port
	}
	if f.announce >= 0 {
		cfg.Announce.Count = f.announce
	}
	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the default configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := yaml.Marshal(mdnsboot.DefaultConfig())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
