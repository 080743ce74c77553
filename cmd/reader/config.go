// go-pn5180
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-pn5180.
//
// go-pn5180 is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-pn5180 is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-pn5180; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package main

import (
	"bytes"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ZaparooProject/go-pn5180"
	"github.com/ZaparooProject/go-pn5180/polling"
	"gopkg.in/yaml.v3"
)

const (
	defaultSPIPort = "/dev/spidev0.0"
	defaultBusyPin = "GPIO25"
	defaultNSSPin  = "GPIO8"
)

// fileConfig is the YAML configuration file. Unset keys keep their
// defaults.
type fileConfig struct {
	PollIntervalMs       *int   `yaml:"poll_interval_ms"`
	CardRemovalTimeoutMs *int   `yaml:"card_removal_timeout_ms"`
	TypeA                *bool  `yaml:"type_a"`
	TypeB                *bool  `yaml:"type_b"`
	SPIPort              string `yaml:"spi_port"`
	BusyPin              string `yaml:"busy_pin"`
	NSSPin               string `yaml:"nss_pin"`
	ResetPin             string `yaml:"reset_pin"`
}

// loadConfigFile reads and validates a YAML configuration file.
func loadConfigFile(path string) (*fileConfig, error) {
	content, err := os.ReadFile(path) //nolint:gosec // path is chosen by the operator
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg fileConfig
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the reader cannot run with.
func (c *fileConfig) Validate() error {
	if c.PollIntervalMs != nil && *c.PollIntervalMs <= 0 {
		return errors.New("config.poll_interval_ms must be > 0")
	}
	if c.CardRemovalTimeoutMs != nil && *c.CardRemovalTimeoutMs <= 0 {
		return errors.New("config.card_removal_timeout_ms must be > 0")
	}
	if c.TypeA != nil && c.TypeB != nil && !*c.TypeA && !*c.TypeB {
		return errors.New("config.type_a and config.type_b cannot both be false")
	}
	return nil
}

// config is the effective reader configuration: defaults, overridden by
// the config file, overridden by flags given on the command line.
type config struct {
	polling  *polling.Config
	spiPort  string
	busyPin  string
	nssPin   string
	resetPin string
	apdu     []byte
	stress   int
	debug    bool
	list     bool
}

func newFlagSet(output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("reader", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.String("config", "", "YAML configuration file")
	fs.String("spi", defaultSPIPort, "SPI port name or device node")
	fs.String("busy", defaultBusyPin, "GPIO pin wired to BUSY")
	fs.String("nss", defaultNSSPin, "GPIO pin wired to NSS")
	fs.String("reset", "", "GPIO pin wired to RST (optional)")
	fs.Bool("debug", false, "Enable debug output and write a session log")
	fs.String("apdu", "", "Hex APDU sent to every selected Type B card")
	fs.Int("stress", 0, "Repeat the APDU this many times per card and report failures")
	fs.Bool("list", false, "List SPI ports and GPIO pins, then exit")
	return fs
}

// parseConfig parses args into the effective configuration.
func parseConfig(args []string, output io.Writer) (*config, error) {
	fs := newFlagSet(output)
	if err := fs.Parse(args); err != nil {
		return nil, err //nolint:wrapcheck // flag errors are already descriptive
	}

	cfg := &config{
		polling: polling.DefaultConfig(),
		spiPort: defaultSPIPort,
		busyPin: defaultBusyPin,
		nssPin:  defaultNSSPin,
	}

	if path := fs.Lookup("config").Value.String(); path != "" {
		file, err := loadConfigFile(path)
		if err != nil {
			return nil, err
		}
		cfg.applyFile(file)
	}

	var flagErr error
	fs.Visit(func(f *flag.Flag) {
		if err := cfg.applyFlag(f); err != nil && flagErr == nil {
			flagErr = err
		}
	})
	if flagErr != nil {
		return nil, flagErr
	}

	if cfg.stress > 0 && len(cfg.apdu) == 0 {
		return nil, errors.New("-stress needs -apdu")
	}
	if err := cfg.polling.Validate(); err != nil {
		return nil, fmt.Errorf("polling config: %w", err)
	}
	return cfg, nil
}

func (c *config) applyFile(file *fileConfig) {
	if file.SPIPort != "" {
		c.spiPort = file.SPIPort
	}
	if file.BusyPin != "" {
		c.busyPin = file.BusyPin
	}
	if file.NSSPin != "" {
		c.nssPin = file.NSSPin
	}
	c.resetPin = file.ResetPin
	if file.PollIntervalMs != nil {
		c.polling.PollInterval = time.Duration(*file.PollIntervalMs) * time.Millisecond
	}
	if file.CardRemovalTimeoutMs != nil {
		c.polling.CardRemovalTimeout = time.Duration(*file.CardRemovalTimeoutMs) * time.Millisecond
	}
	if file.TypeA != nil {
		c.polling.EnableTypeA = *file.TypeA
	}
	if file.TypeB != nil {
		c.polling.EnableTypeB = *file.TypeB
	}
}

func (c *config) applyFlag(f *flag.Flag) error {
	value := f.Value.String()
	switch f.Name {
	case "spi":
		c.spiPort = value
	case "busy":
		c.busyPin = value
	case "nss":
		c.nssPin = value
	case "reset":
		c.resetPin = value
	case "debug":
		c.debug = value == "true"
	case "list":
		c.list = value == "true"
	case "stress":
		getter, _ := f.Value.(flag.Getter)
		c.stress, _ = getter.Get().(int)
		if c.stress < 0 {
			return fmt.Errorf("-stress must be >= 0, got %d", c.stress)
		}
	case "apdu":
		apdu, err := hex.DecodeString(strings.ReplaceAll(value, " ", ""))
		if err != nil {
			return fmt.Errorf("-apdu: %w", err)
		}
		if len(apdu) == 0 || len(apdu) > pn5180.MaxSendDataLength-2 {
			return fmt.Errorf("-apdu must be 1 to %d bytes", pn5180.MaxSendDataLength-2)
		}
		c.apdu = apdu
	}
	return nil
}
