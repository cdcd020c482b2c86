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

package main

import (
	"context"
	"log/slog"
	"machine"
	"strconv"
	"time"

	"github.com/bfix/mdnsboot"
)

// WiFi credentials and service identification
// (set with -ldflags "-X main.SSID=...")
var (
	SSID     string
	Passwd   string
	Security = "wpa2"
	Host     string
	Serial   string
	Model    = "Pi Pico 2 W"
	Port     = "1234"
)

// join the network and announce the service
func main() {
	// access device
	dev := mdnsboot.InitDevice()
	state := mdnsboot.NewStatus(dev)
	logger := slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{Level: slog.LevelInfo}))
	defer state.Trap(logger, 30*time.Second)
	time.Sleep(2 * time.Second)

	cfg := mdnsboot.DefaultConfig()
	cfg.WiFi = mdnsboot.WiFiConfig{
		SSID:       SSID,
		Passphrase: Passwd,
		Security:   Security,
	}
	if Host != "" {
		cfg.Service.Hostname = Host
	}
	cfg.Service.Serial = Serial
	cfg.Service.Model = Model
	port, err := strconv.ParseUint(Port, 10, 16)
	if err != nil {
		state.Set(mdnsboot.StatPORT, 0)
		return
	}
	cfg.Service.Port = uint16(port)

	// runs until the responder terminates; the status stays visible
	// for a while before the device exits
	if err = mdnsboot.Bootstrap(context.Background(), dev, cfg, state, logger); err != nil {
		logger.Error("bootstrap ended", slog.String("err", err.Error()))
	}
}
