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
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ZaparooProject/go-pn5180"
	"github.com/ZaparooProject/go-pn5180/polling"
	"github.com/ZaparooProject/go-pn5180/transport/spi"
)

// newTransport opens the SPI transport described by cfg.
func newTransport(cfg *config) (pn5180.Transport, error) {
	var opts []spi.Option
	if cfg.resetPin != "" {
		opts = append(opts, spi.WithResetPin(cfg.resetPin))
	}
	transport, err := spi.New(cfg.spiPort, cfg.busyPin, cfg.nssPin, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SPI transport for %s: %w", cfg.spiPort, err)
	}
	return transport, nil
}

func connectToDevice(ctx context.Context, cfg *config, out io.Writer) (*pn5180.Device, error) {
	if cfg.debug {
		_, _ = fmt.Fprintf(out, "Opening %s (BUSY %s, NSS %s)\n", cfg.spiPort, cfg.busyPin, cfg.nssPin)
	}

	device, err := pn5180.ConnectDevice(ctx, func() (pn5180.Transport, error) {
		return newTransport(cfg)
	}, pn5180.WithConnectionRetries(3))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PN5180 device: %w", err)
	}

	if fw := device.CachedFirmwareVersion(); fw != nil {
		_, _ = fmt.Fprintf(out, "PN5180 %s\n", fw)
	}
	return device, nil
}

// reader is the device surface the read loop needs.
type reader interface {
	polling.Reader
	Transceiver
}

// cardHandler prints cards as they come and go and runs the configured
// APDU against selected Type B cards.
type cardHandler struct {
	device  Transceiver
	out     io.Writer
	cfg     *config
	results []*StressTestResult
}

func (h *cardHandler) detected(card polling.Card) error {
	_, _ = fmt.Fprintf(h.out, "Card detected: type %s UID=%X", card.Protocol, card.UID)
	if card.Protocol == polling.ProtocolTypeB {
		_, _ = fmt.Fprintf(h.out, " target=%d selected=%t", card.TargetNumber, card.Selected)
	}
	_, _ = fmt.Fprintln(h.out)

	if len(h.cfg.apdu) == 0 || card.Protocol != polling.ProtocolTypeB || !card.Selected {
		return nil
	}

	if h.cfg.stress > 0 {
		result := runStressForCard(h.device, card, h.cfg.apdu, h.cfg.stress, ".")
		h.results = append(h.results, result)
		printTagTestSummary(h.out, result)
		return nil
	}

	resp := make([]byte, maxResponse)
	n, err := h.device.Transceive(card.TargetNumber, h.cfg.apdu, resp)
	if err != nil {
		// The card may have left mid-exchange; keep polling.
		_, _ = fmt.Fprintf(h.out, "  APDU failed: %v\n", err)
		return nil
	}
	_, _ = fmt.Fprintf(h.out, "  > %s\n  < %s\n", formatHexString(h.cfg.apdu), formatHexString(resp[:n]))
	return nil
}

func (h *cardHandler) removed(card polling.Card) {
	_, _ = fmt.Fprintf(h.out, "Card removed: type %s UID=%X\n", card.Protocol, card.UID)
}

func runReadMode(ctx context.Context, device reader, cfg *config, out io.Writer) error {
	session := polling.NewSession(device, cfg.polling)
	handler := &cardHandler{device: device, out: out, cfg: cfg}
	session.SetOnCardDetected(handler.detected)
	session.SetOnCardRemoved(handler.removed)

	_, _ = fmt.Fprintln(out, "Starting continuous card monitoring. Press Ctrl+C to stop...")
	err := session.Start(ctx)
	printFinalSummary(out, handler.results)
	if err != nil {
		return fmt.Errorf("polling session: %w", err)
	}
	return nil
}

func listHardware(out io.Writer) error {
	ports, err := spi.Ports()
	if err != nil {
		return fmt.Errorf("list SPI ports: %w", err)
	}
	_, _ = fmt.Fprintln(out, "SPI ports:")
	for _, p := range ports {
		if len(p.Aliases) > 0 {
			_, _ = fmt.Fprintf(out, "  %s (%s)\n", p.Name, strings.Join(p.Aliases, ", "))
		} else {
			_, _ = fmt.Fprintf(out, "  %s\n", p.Name)
		}
	}

	pins, err := spi.Pins()
	if err != nil {
		return fmt.Errorf("list GPIO pins: %w", err)
	}
	_, _ = fmt.Fprintf(out, "GPIO pins: %s\n", strings.Join(pins, " "))
	return nil
}

func run(ctx context.Context, cfg *config, out io.Writer) error {
	if cfg.list {
		return listHardware(out)
	}

	device, err := connectToDevice(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer func() {
		if err := device.Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close device: %v\n", err)
		}
	}()

	return runReadMode(ctx, device, cfg, out)
}

func main() {
	os.Exit(mainWithExitCode(os.Args[1:]))
}

func mainWithExitCode(args []string) int {
	cfg, err := parseConfig(args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	if cfg.debug {
		pn5180.SetDebugEnabled(true)
		if path, logErr := pn5180.InitSessionLog(""); logErr == nil {
			_, _ = fmt.Fprintf(os.Stderr, "Debug log: %s\n", path)
			defer func() { _ = pn5180.CloseSessionLog() }()
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		_, _ = fmt.Print("\nShutting down gracefully...\n")
		cancel()
	}()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		if errors.Is(err, context.Canceled) {
			// User requested shutdown, exit cleanly
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
