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

import "errors"

// Error messages
var (
	// configuration errors (not retried)
	ErrUnsupportedSecurity = errors.New("security mode not supported")

	// transient radio/authentication failure (retried)
	ErrJoinRejected = errors.New("join rejected")

	// all join attempts failed
	ErrRetriesExhausted = errors.New("join retries exhausted")

	// stack reports "configured" without an address
	ErrAddressConfigMissing = errors.New("address configuration missing")

	// responder can't bind its socket
	ErrSocketBindFailed = errors.New("socket bind failed")

	// datagram is not a valid mDNS query (dropped, never returned)
	ErrMalformedQuery = errors.New("malformed query")

	// invalid service or host description
	ErrInvalidService = errors.New("invalid service description")
)
