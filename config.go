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
	"log/slog"
	"net/netip"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for YAML ("100ms", "1m")
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

//----------------------------------------------------------------------

// WiFiConfig holds the network credentials.
type WiFiConfig struct {
	SSID       string `yaml:"ssid"`
	Passphrase string `yaml:"passphrase"`
	Security   string `yaml:"security"`
}

// JoinSettings control the join sequence.
type JoinSettings struct {
	MaxAttempts    int      `yaml:"max_attempts"`
	RetryDelay     Duration `yaml:"retry_delay"`
	PollInterval   Duration `yaml:"poll_interval"`
	AttemptTimeout Duration `yaml:"attempt_timeout"`
}

// ServiceConfig describes the announced host and service.
type ServiceConfig struct {
	Hostname   string   `yaml:"hostname"`
	Serial     string   `yaml:"serial"`
	Model      string   `yaml:"model"`
	AppName    string   `yaml:"app_name"`
	AppVersion string   `yaml:"app_version"`
	Service    string   `yaml:"service"`
	Protocol   string   `yaml:"protocol"`
	Port       uint16   `yaml:"port"`
	TTL        Duration `yaml:"ttl"`
	Subtypes   []string `yaml:"subtypes,omitempty"`
}

// NamespaceConfig sets the owner of the 9p namespace.
type NamespaceConfig struct {
	User  string `yaml:"user"`
	Group string `yaml:"group"`
}

// AnnounceConfig controls unsolicited announcements.
type AnnounceConfig struct {
	Count    int      `yaml:"count"`
	Interval Duration `yaml:"interval"`
}

// Config of a bootstrap run
type Config struct {
	Interface string          `yaml:"interface"`
	LogLevel  string          `yaml:"log_level"`
	WiFi      WiFiConfig      `yaml:"wifi"`
	Join      JoinSettings    `yaml:"join"`
	Service   ServiceConfig   `yaml:"service"`
	Namespace NamespaceConfig `yaml:"namespace"`
	Announce  AnnounceConfig  `yaml:"announce"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		LogLevel: "info",
		WiFi:     WiFiConfig{Security: "wpa2"},
		Announce: AnnounceConfig{Count: 2},
	}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.Join.MaxAttempts <= 0 {
		c.Join.MaxAttempts = DefaultMaxAttempts
	}
	if c.Join.PollInterval <= 0 {
		c.Join.PollInterval = Duration(DefaultPollInterval)
	}
	if c.Service.Hostname == "" {
		c.Service.Hostname = DefaultHostname
	}
	if c.Service.Model == "" {
		c.Service.Model = "Pi Pico W"
	}
	if c.Service.AppName == "" {
		c.Service.AppName = AppName
	}
	if c.Service.AppVersion == "" {
		c.Service.AppVersion = AppVersion
	}
	if c.Service.Service == "" {
		c.Service.Service = ServiceName
	}
	if c.Service.Protocol == "" {
		c.Service.Protocol = ServiceProtocol
	}
	if c.Service.Port == 0 {
		c.Service.Port = 1234
	}
	if c.Service.TTL <= 0 {
		c.Service.TTL = Duration(DefaultTTL)
	}
	if c.Namespace.User == "" {
		c.Namespace.User = "sys"
	}
	if c.Namespace.Group == "" {
		c.Namespace.Group = "sys"
	}
	if c.Announce.Interval <= 0 {
		c.Announce.Interval = Duration(time.Second)
	}
}

// Validate the configuration.
func (c *Config) Validate() error {
	if c.WiFi.SSID == "" {
		return fmt.Errorf("wifi: missing ssid")
	}
	if _, err := ParseSecurity(c.WiFi.Security); err != nil {
		return fmt.Errorf("wifi: %w", err)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.Service.Serial == "" {
		// derived from the hardware address at startup
		return nil
	}
	return c.ServiceDescriptor(c.Service.Serial).Validate()
}

// Level returns the configured log level.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return lvl, fmt.Errorf("log_level: %w", err)
	}
	return lvl, nil
}

// Credentials for the join sequence
func (c *Config) Credentials() Credentials {
	return Credentials{
		SSID:       c.WiFi.SSID,
		Passphrase: c.WiFi.Passphrase,
		Security:   c.WiFi.Security,
	}
}

// JoinConfig for the join sequence
func (c *Config) JoinConfig(logger *slog.Logger) JoinConfig {
	return JoinConfig{
		MaxAttempts:    c.Join.MaxAttempts,
		RetryDelay:     c.Join.RetryDelay.Duration(),
		AttemptTimeout: c.Join.AttemptTimeout.Duration(),
		PollInterval:   c.Join.PollInterval.Duration(),
		Logger:         logger,
	}
}

// ResponderConfig for the mDNS session
func (c *Config) ResponderConfig(logger *slog.Logger) ResponderConfig {
	cfg := DefaultResponderConfig()
	cfg.Announcements = c.Announce.Count
	cfg.AnnounceInterval = c.Announce.Interval.Duration()
	cfg.Logger = logger
	return cfg
}

// HostRecord for a resolved address
func (c *Config) HostRecord(ip netip.Addr) *HostRecord {
	host := NewHostRecord(c.Service.Hostname, ip)
	host.TTL = c.Service.TTL.Duration()
	return host
}

// ServiceDescriptor for the given serial number
func (c *Config) ServiceDescriptor(serial string) *ServiceDescriptor {
	svc := NewServiceDescriptor(serial, c.Service.Model, c.Service.Service, c.Service.Protocol, c.Service.Port)
	svc.Subtypes = c.Service.Subtypes
	svc.TXT = []TXTPair{
		{"Serial", serial},
		{"Model", c.Service.Model},
		{"AppName", c.Service.AppName},
		{"AppVersion", c.Service.AppVersion},
	}
	return svc
}
