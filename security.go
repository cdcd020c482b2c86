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

import "fmt"

// AuthMode selects the authentication used when joining a network.
type AuthMode uint8

// Authentication modes
const (
	AuthOpen AuthMode = iota // no authentication
	AuthWPA                  // WPA-PSK (TKIP)
	AuthWPA2                 // WPA2-PSK (AES)
	AuthWPA3                 // WPA3-SAE
)

// security mode names (exact, case-sensitive)
var authNames = map[string]AuthMode{
	"open": AuthOpen,
	"wpa":  AuthWPA,
	"wpa2": AuthWPA2,
	"wpa3": AuthWPA3,
}

// ParseSecurity maps a security mode name to an authentication mode.
func ParseSecurity(mode string) (AuthMode, error) {
	if auth, ok := authNames[mode]; ok {
		return auth, nil
	}
	return AuthOpen, fmt.Errorf("%w: '%s'", ErrUnsupportedSecurity, mode)
}

// String returns the security mode name.
func (a AuthMode) String() string {
	switch a {
	case AuthOpen:
		return "open"
	case AuthWPA:
		return "wpa"
	case AuthWPA2:
		return "wpa2"
	case AuthWPA3:
		return "wpa3"
	}
	return fmt.Sprintf("auth(%d)", uint8(a))
}
