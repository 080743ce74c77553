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

package polling

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-pn5180"
	"github.com/ZaparooProject/go-pn5180/internal/syncutil"
)

// ErrSessionRunning is returned by Start when the session is already
// polling.
var ErrSessionRunning = errors.New("polling session already running")

// Reader is the part of *pn5180.Device a session drives.
type Reader interface {
	ListenTypeA(ctx context.Context, cfg pn5180.RFConfig, pollTimeout time.Duration) (*pn5180.TypeACard, bool, error)
	ListenTypeB(ctx context.Context, cfg pn5180.RFConfig, pollTimeout time.Duration) (*pn5180.TypeBCard, bool, error)
	Targets() []pn5180.CardTarget
	RFOff() error
}

// Metrics tracks operational counters of a session.
type Metrics struct {
	PollCycles      int64         // Total number of polling cycles
	PollErrors      int64         // Number of failed cycles
	CardsDetected   int64         // Number of OnCardDetected events
	CardsRemoved    int64         // Number of OnCardRemoved events
	CallbackErrors  int64         // Number of callback errors
	Recoveries      int64         // Number of recovery runs
	LastPollLatency time.Duration // Duration of last polling cycle
}

// Session handles continuous card monitoring. Each cycle runs Type A
// discovery, then Type B discovery, which also drops Type B targets that
// stopped answering. Every card found, and every Type B target still
// registered, counts as a sighting.
//
// A selected Type A card ignores REQA until it loses power, so while one is
// in the field every cycle starts by switching the field off. That also
// powers down the active Type B cards: they are activated again by the
// following Type B round and lose any ISO-DEP state held between cycles.
// Without a Type A card the field stays on and Type B targets persist.
type Session struct {
	reader         Reader
	recoverer      Recoverer
	config         *Config
	onCardDetected func(Card) error
	onCardRemoved  func(Card)
	state          *presenceTracker
	pauseChan      chan struct{}
	resumeChan     chan struct{}
	ackChan        chan struct{}
	stateMutex     syncutil.RWMutex

	pollCycles      atomic.Int64
	pollErrors      atomic.Int64
	cardsDetected   atomic.Int64
	cardsRemoved    atomic.Int64
	callbackErrors  atomic.Int64
	recoveries      atomic.Int64
	lastPollLatency atomic.Int64
	running         atomic.Bool
	isPaused        atomic.Bool
	// typeAHeld is set while a Type A card may sit selected in the field.
	// Only the Start goroutine touches it.
	typeAHeld bool
}

// NewSession creates a new card monitoring session. When reader can be
// re-initialized (as *pn5180.Device can), a DefaultRecoverer built from
// config.SleepRecovery is installed.
func NewSession(reader Reader, config *Config) *Session {
	if config == nil {
		config = DefaultConfig()
	}
	s := &Session{
		reader:     reader,
		config:     config,
		state:      newPresenceTracker(),
		pauseChan:  make(chan struct{}, 1),
		resumeChan: make(chan struct{}, 1),
		ackChan:    make(chan struct{}, 1),
	}
	if device, ok := reader.(Initializer); ok {
		s.recoverer = NewDefaultRecoverer(device,
			config.SleepRecovery.RecoveryBackoff, config.SleepRecovery.MaxRecoveryAttempts)
	}
	return s
}

// SetOnCardDetected sets the callback for when a card is detected. An
// error returned by the callback ends Start.
func (s *Session) SetOnCardDetected(callback func(Card) error) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.onCardDetected = callback
}

// SetOnCardRemoved sets the callback for when a card is removed.
func (s *Session) SetOnCardRemoved(callback func(Card)) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.onCardRemoved = callback
}

// SetRecoverer replaces the recoverer. nil disables recovery, so fatal
// errors end Start.
func (s *Session) SetRecoverer(r Recoverer) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.recoverer = r
}

// Cards returns the cards currently considered present, sorted by ID.
func (s *Session) Cards() []Card {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.state.present()
}

// Metrics returns current operational metrics
func (s *Session) Metrics() Metrics {
	return Metrics{
		PollCycles:      s.pollCycles.Load(),
		PollErrors:      s.pollErrors.Load(),
		CardsDetected:   s.cardsDetected.Load(),
		CardsRemoved:    s.cardsRemoved.Load(),
		CallbackErrors:  s.callbackErrors.Load(),
		Recoveries:      s.recoveries.Load(),
		LastPollLatency: time.Duration(s.lastPollLatency.Load()),
	}
}

// Start polls until ctx ends and returns ctx.Err(). It returns early when a
// callback fails or the device cannot be recovered.
func (s *Session) Start(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return err
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrSessionRunning
	}
	defer s.running.Store(false)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	lastPoll := time.Now()
	failures := 0
	s.typeAHeld = true
	for {
		if err := s.waitWhilePaused(ctx); err != nil {
			return err
		}

		if s.config.SleepRecovery.DetectSleep(time.Since(lastPoll), s.config.PollInterval) {
			pn5180.Debugf("Polling gap of %v, re-initializing device", time.Since(lastPoll))
			if err := s.recover(ctx, nil); err != nil {
				return err
			}
		}
		lastPoll = time.Now()

		err := s.cycle(ctx)
		switch {
		case err == nil:
			failures = 0
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, errCallback):
			return err
		default:
			failures++
			recovered, herr := s.handlePollingError(ctx, err, failures)
			if herr != nil {
				return herr
			}
			if recovered {
				failures = 0
			}
		}

		select {
		case <-ticker.C:
		case <-s.pauseChan:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

var errCallback = errors.New("callback error during polling")

// cycle runs one discovery round and reports arrivals and removals. The
// round error is returned after sightings made before it are recorded.
func (s *Session) cycle(ctx context.Context) error {
	start := time.Now()
	seen, pollErr := s.poll(ctx)
	s.pollCycles.Add(1)
	s.lastPollLatency.Store(int64(time.Since(start)))

	for _, card := range seen {
		if err := s.report(card); err != nil {
			return err
		}
	}
	s.expire(time.Now())
	return pollErr
}

func (s *Session) poll(ctx context.Context) ([]Card, error) {
	var seen []Card

	if s.config.EnableTypeA {
		if s.typeAHeld {
			if err := s.reader.RFOff(); err != nil {
				return seen, fmt.Errorf("reset field: %w", err)
			}
		}
		card, found, err := s.reader.ListenTypeA(ctx, s.config.RFConfigA, s.config.ListenTimeout)
		if err != nil {
			return seen, fmt.Errorf("listen Type A: %w", err)
		}
		s.typeAHeld = found
		if found {
			seen = append(seen, cardFromTypeA(card))
		}
	}

	if s.config.EnableTypeB {
		card, found, err := s.reader.ListenTypeB(ctx, s.config.RFConfigB, s.config.ListenTimeout)
		if err != nil {
			return seen, fmt.Errorf("listen Type B: %w", err)
		}
		if found {
			seen = append(seen, cardFromTypeB(card))
		}
		for _, target := range s.reader.Targets() {
			if found && card.Selected && target.Number == card.TargetNumber {
				continue
			}
			seen = append(seen, cardFromTarget(target))
		}
	}

	return seen, nil
}

func (s *Session) report(card Card) error {
	s.stateMutex.Lock()
	isNew := s.state.see(card, time.Now())
	onDetected := s.onCardDetected
	s.stateMutex.Unlock()

	if !isNew {
		return nil
	}
	s.cardsDetected.Add(1)
	pn5180.Debugf("Card %s detected", card.ID())
	if onDetected == nil {
		return nil
	}
	if err := safeCallCallback(func() error { return onDetected(card) }, "OnCardDetected"); err != nil {
		s.callbackErrors.Add(1)
		return err
	}
	return nil
}

func (s *Session) expire(now time.Time) {
	s.stateMutex.Lock()
	gone := s.state.expire(now, s.config.CardRemovalTimeout)
	onRemoved := s.onCardRemoved
	s.stateMutex.Unlock()

	for _, card := range gone {
		s.cardsRemoved.Add(1)
		pn5180.Debugf("Card %s removed", card.ID())
		if onRemoved == nil {
			continue
		}
		if err := safeCallCallback(func() error { onRemoved(card); return nil }, "OnCardRemoved"); err != nil {
			s.callbackErrors.Add(1)
			pn5180.Debugf("%v", err)
		}
	}
}

// handlePollingError re-initializes the device after a fatal error or too
// many failed rounds. Other errors switch the field off, which returns
// every card to idle for the next round.
func (s *Session) handlePollingError(ctx context.Context, err error, failures int) (bool, error) {
	s.pollErrors.Add(1)
	if pn5180.IsFatal(err) || failures >= s.config.MaxConsecutiveErrors {
		pn5180.Debugf("Polling failed %d time(s), recovering: %v", failures, err)
		return true, s.recover(ctx, err)
	}

	pn5180.Debugf("Polling cycle failed: %v", err)
	if offErr := s.reader.RFOff(); offErr != nil {
		pn5180.Debugf("RF off after failed cycle: %v", offErr)
	}
	return false, nil
}

func (s *Session) recover(ctx context.Context, cause error) error {
	s.stateMutex.RLock()
	recoverer := s.recoverer
	s.stateMutex.RUnlock()

	if recoverer == nil {
		if cause == nil {
			return nil
		}
		return fmt.Errorf("polling stopped: %w", cause)
	}

	s.recoveries.Add(1)
	if err := recoverer.AttemptRecovery(ctx); err != nil {
		return fmt.Errorf("device recovery failed: %w", err)
	}
	return nil
}

// Pause stops polling after the current cycle so the caller can use the
// device exclusively, e.g. for a long APDU exchange that a field reset
// would break. It blocks until the loop acknowledges or ctx ends; a
// session that is not running is paused immediately.
func (s *Session) Pause(ctx context.Context) error {
	if s.isPaused.Load() {
		return nil
	}
	select {
	case <-s.ackChan:
	default:
	}
	if !s.isPaused.CompareAndSwap(false, true) {
		return nil
	}
	if !s.running.Load() {
		return nil
	}

	select {
	case s.pauseChan <- struct{}{}:
	default:
	}

	select {
	case <-s.ackChan:
		return nil
	case <-ctx.Done():
		s.Resume()
		return ctx.Err()
	}
}

// Resume restarts polling after Pause.
func (s *Session) Resume() {
	if s.isPaused.CompareAndSwap(true, false) {
		select {
		case s.resumeChan <- struct{}{}:
		default:
		}
	}
}

// IsPaused reports whether polling is paused.
func (s *Session) IsPaused() bool {
	return s.isPaused.Load()
}

func (s *Session) waitWhilePaused(ctx context.Context) error {
	if !s.isPaused.Load() {
		return nil
	}
	select {
	case s.ackChan <- struct{}{}:
	default:
	}
	for s.isPaused.Load() {
		select {
		case <-s.resumeChan:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func safeCallCallback(callback func() error, callbackName string) error {
	var callbackErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				callbackErr = fmt.Errorf("%s callback panicked: %v", callbackName, r)
			}
		}()
		callbackErr = callback()
	}()
	if callbackErr != nil {
		return fmt.Errorf("%w: %s callback failed: %w", errCallback, callbackName, callbackErr)
	}
	return nil
}
