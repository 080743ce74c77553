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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZaparooProject/go-pn5180"
	"github.com/ZaparooProject/go-pn5180/polling"
)

// maxResponse is the largest unwrapped answer a single continuation can
// carry.
const maxResponse = 512

// Transceiver is the part of *pn5180.Device the stress run uses.
type Transceiver interface {
	Transceive(targetNumber byte, out, in []byte) (int, error)
}

// StressTestResult holds the final result for a card.
type StressTestResult struct {
	UID       string
	CrashFile string
	Passed    int
	Failed    int
	Duration  time.Duration
	Fastest   time.Duration
	Slowest   time.Duration
}

// Success reports whether every exchange passed.
func (r *StressTestResult) Success() bool {
	return r.Failed == 0 && r.Passed > 0
}

// CrashReport contains all information for debugging a failure.
type CrashReport struct {
	Timestamp    time.Time  `json:"timestamp"`
	CardUID      string     `json:"card_uid"`
	Error        string     `json:"error"`
	CommandHex   string     `json:"command_hex"`
	WireTrace    []string   `json:"wire_trace,omitempty"`
	OperationLog []LogEntry `json:"operation_log"`
	Round        int        `json:"round"`
	Target       byte       `json:"target"`
}

// LogEntry represents a single exchange in the log.
type LogEntry struct {
	Timestamp time.Time     `json:"timestamp"`
	Response  string        `json:"response_hex,omitempty"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latency_ns"`
	Success   bool          `json:"success"`
}

// maxLogEntries bounds the operation log kept for a crash report.
const maxLogEntries = 32

// runStressForCard sends apdu rounds times to a selected Type B card. The
// first failure ends the run and, when crashDir is not empty, is written
// to a crash report there.
func runStressForCard(dev Transceiver, card polling.Card, apdu []byte, rounds int, crashDir string) *StressTestResult {
	result := &StressTestResult{UID: fmt.Sprintf("%X", card.UID)}
	var log []LogEntry
	resp := make([]byte, maxResponse)
	start := time.Now()

	for round := 1; round <= rounds; round++ {
		t0 := time.Now()
		n, err := dev.Transceive(card.TargetNumber, apdu, resp)
		latency := time.Since(t0)

		entry := LogEntry{Timestamp: t0, Latency: latency, Success: err == nil}
		if err != nil {
			entry.Error = err.Error()
		} else {
			entry.Response = formatHexString(resp[:n])
		}
		log = append(log, entry)
		if len(log) > maxLogEntries {
			log = log[1:]
		}

		if err != nil {
			result.Failed++
			report := createCrashReport(card, apdu, round, err, log)
			if crashDir != "" {
				path, writeErr := writeCrashReportToFile(crashDir, report)
				if writeErr != nil {
					pn5180.Debugf("crash report: %v", writeErr)
				}
				result.CrashFile = path
			}
			break
		}

		result.Passed++
		if result.Fastest == 0 || latency < result.Fastest {
			result.Fastest = latency
		}
		if latency > result.Slowest {
			result.Slowest = latency
		}
	}

	result.Duration = time.Since(start)
	return result
}

func createCrashReport(card polling.Card, apdu []byte, round int, err error, log []LogEntry) *CrashReport {
	report := &CrashReport{
		Timestamp:    time.Now(),
		CardUID:      fmt.Sprintf("%X", card.UID),
		Target:       card.TargetNumber,
		Round:        round,
		Error:        err.Error(),
		CommandHex:   formatHexString(apdu),
		OperationLog: append([]LogEntry(nil), log...),
	}
	if trace := pn5180.GetTrace(err); trace != nil {
		report.WireTrace = strings.Split(strings.TrimSpace(trace.FormatTrace()), "\n")
	}
	return report
}

func writeCrashReportToFile(dir string, report *CrashReport) (string, error) {
	timestamp := report.Timestamp.Format("20060102_150405")
	filename := filepath.Join(dir, fmt.Sprintf("stress_test_crash_%s_%s.json", report.CardUID, timestamp))

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal crash report: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write crash report: %w", err)
	}

	return filename, nil
}

func formatHexString(data []byte) string {
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}

func printTagTestSummary(w io.Writer, result *StressTestResult) {
	status := "PASS"
	if !result.Success() {
		status = "FAIL"
	}

	_, _ = fmt.Fprintf(w, "  [%s] %s - %d passed, %d failed - %s (fastest %s, slowest %s)\n",
		status,
		result.UID,
		result.Passed,
		result.Failed,
		result.Duration.Round(time.Millisecond),
		result.Fastest.Round(time.Microsecond),
		result.Slowest.Round(time.Microsecond),
	)
	if result.CrashFile != "" {
		_, _ = fmt.Fprintf(w, "  crash report: %s\n", result.CrashFile)
	}
}

func printFinalSummary(w io.Writer, results []*StressTestResult) {
	if len(results) == 0 {
		return
	}

	passCount := 0
	for _, r := range results {
		if r.Success() {
			passCount++
		}
	}

	_, _ = fmt.Fprintln(w, strings.Repeat("=", 80))
	_, _ = fmt.Fprintf(w, "Cards tested: %d\n", len(results))
	for _, r := range results {
		printTagTestSummary(w, r)
	}
	_, _ = fmt.Fprintf(w, "Overall: %d PASS, %d FAIL\n", passCount, len(results)-passCount)
	_, _ = fmt.Fprintln(w, strings.Repeat("=", 80))
}
