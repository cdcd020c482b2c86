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
	"context"
	"fmt"
	"log/slog"
)

// Bootstrap brings the device onto the network and announces its
// service: start the device, let mDNS frames pass, join the network,
// serve the device namespace on the service port and run the mDNS
// responder until it terminates or the context is cancelled.
func Bootstrap(ctx context.Context, dev Device, cfg *Config, status *Status, logger *slog.Logger) error {
	logger = logOrDiscard(logger)
	if err := dev.Start(logger); err != nil {
		status.Set(StatDEV, 0)
		return fmt.Errorf("device start: %w", err)
	}
	link, stack := dev.Link(), dev.Stack()

	// queries must be receivable as soon as the responder starts
	if err := link.AddMulticastMembership(MDNSMulticastMAC); err != nil {
		logger.Warn("can't add mDNS multicast membership", slog.String("err", err.Error()))
	}
	ip, err := Join(ctx, link, stack, cfg.Credentials(), cfg.JoinConfig(logger))
	if err != nil {
		status.Set(StatusOf(err), 0)
		return err
	}
	logger.Info("assigned IP", slog.String("ip", ip.String()))

	serial := cfg.Service.Serial
	if serial == "" {
		serial = DeriveSerial(dev.HardwareAddr())
		logger.Info("derived serial number", slog.String("serial", serial))
	}
	host := cfg.HostRecord(ip)
	svc := cfg.ServiceDescriptor(serial)
	if err = svc.Validate(); err != nil {
		status.Set(StatusOf(err), 0)
		return err
	}
	resp := NewResponder(stack, host, svc, cfg.ResponderConfig(logger))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ns, err := NewDeviceNamespace(cfg.Namespace.User, cfg.Namespace.Group, host, svc, resp, status)
	if err != nil {
		status.Set(StatNS, 0)
		return fmt.Errorf("namespace: %w", err)
	}
	lst, err := dev.Listen(svc.Port)
	if err != nil {
		status.Set(StatLISTEN, 0)
		return fmt.Errorf("listen on port %d: %w", svc.Port, err)
	}
	go Serve9P(ctx, lst, ns, logger, status)

	err = resp.Run(ctx)
	status.Set(StatusOf(err), 0)
	return err
}
