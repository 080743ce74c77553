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

package spi

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sort"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// PortInfo describes an SPI port the host exposes.
type PortInfo struct {
	Name    string
	Aliases []string
	Number  int
}

// Ports lists the SPI ports registered by periph. On Linux, /dev/spidev*
// nodes the drivers did not claim are appended.
func Ports() ([]PortInfo, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	seen := make(map[string]bool)
	var ports []PortInfo
	for _, ref := range spireg.All() {
		ports = append(ports, PortInfo{Name: ref.Name, Aliases: ref.Aliases, Number: ref.Number})
		seen[ref.Name] = true
		for _, alias := range ref.Aliases {
			seen[alias] = true
		}
	}

	if runtime.GOOS == "linux" {
		nodes, err := filepath.Glob("/dev/spidev*")
		if err == nil {
			for _, node := range nodes {
				if !seen[node] {
					ports = append(ports, PortInfo{Name: node, Number: -1})
				}
			}
		}
	}
	return ports, nil
}

// Pins lists the names of the GPIO pins usable for BUSY, NSS and RESET_N.
func Pins() ([]string, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	all := gpioreg.All()
	names := make([]string, 0, len(all))
	for _, pin := range all {
		names = append(names, pin.Name())
	}
	sort.Strings(names)
	return names, nil
}
