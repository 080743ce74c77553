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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZaparooProject/go-pn5180"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader scripts discovery results for session tests.
type fakeReader struct {
	errB      error
	cardA     *pn5180.TypeACard
	cardB     *pn5180.TypeBCard
	errsLeft  int
	targets   []pn5180.CardTarget
	firstWait time.Duration
	listens   int
	rfOffs    int
	mu        sync.Mutex
}

func (f *fakeReader) ListenTypeA(context.Context, pn5180.RFConfig, time.Duration) (*pn5180.TypeACard, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cardA, f.cardA != nil, nil
}

func (f *fakeReader) setCardA(card *pn5180.TypeACard) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cardA = card
}

func (f *fakeReader) ListenTypeB(context.Context, pn5180.RFConfig, time.Duration) (*pn5180.TypeBCard, bool, error) {
	f.mu.Lock()
	f.listens++
	wait := f.firstWait
	f.firstWait = 0
	var err error
	if f.errB != nil && f.errsLeft != 0 {
		err = f.errB
		f.errsLeft--
	}
	card := f.cardB
	f.mu.Unlock()

	time.Sleep(wait)
	if err != nil {
		return nil, false, err
	}
	return card, card != nil, nil
}

func (f *fakeReader) Targets() []pn5180.CardTarget {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pn5180.CardTarget(nil), f.targets...)
}

func (f *fakeReader) RFOff() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rfOffs++
	return nil
}

func (f *fakeReader) counts() (listens, rfOffs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listens, f.rfOffs
}

// countingRecoverer records recovery runs and fails with err.
type countingRecoverer struct {
	err   error
	calls atomic.Int32
}

func (r *countingRecoverer) AttemptRecovery(context.Context) error {
	r.calls.Add(1)
	return r.err
}

func typeBOnlyConfig() *Config {
	cfg := testConfig()
	cfg.EnableTypeA = false
	return cfg
}

func TestSession_ConsecutiveErrorsTriggerRecovery(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{errB: pn5180.NewTimeoutError("Transfer", "fake"), errsLeft: -1}
	recoverer := &countingRecoverer{}
	cfg := typeBOnlyConfig()
	cfg.MaxConsecutiveErrors = 3

	s := NewSession(reader, cfg)
	s.SetRecoverer(recoverer)
	stop := runSession(t, s)

	require.Eventually(t, func() bool {
		return recoverer.calls.Load() >= 2
	}, 5*time.Second, time.Millisecond)
	require.ErrorIs(t, stop(), context.Canceled)

	m := s.Metrics()
	assert.Equal(t, m.PollErrors/3, m.Recoveries)
	assert.Equal(t, int64(recoverer.calls.Load()), m.Recoveries)

	// Every failed round without recovery switches the field off.
	_, rfOffs := reader.counts()
	assert.Equal(t, m.PollErrors-m.Recoveries, int64(rfOffs))
}

func TestSession_TransientErrorResetsField(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{errB: pn5180.NewTimeoutError("Transfer", "fake"), errsLeft: 1}
	s := NewSession(reader, typeBOnlyConfig())
	stop := runSession(t, s)

	waitCycles(t, s, 3)
	require.ErrorIs(t, stop(), context.Canceled)

	_, rfOffs := reader.counts()
	assert.Equal(t, 1, rfOffs)
	assert.Equal(t, int64(1), s.Metrics().PollErrors)
	assert.Zero(t, s.Metrics().Recoveries)
}

func TestSession_FatalErrorWithoutRecoverer(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{errB: pn5180.NewTransportClosedError("Transfer", "fake"), errsLeft: -1}
	s := NewSession(reader, typeBOnlyConfig())
	s.SetRecoverer(nil)

	err := s.Start(context.Background())
	require.ErrorIs(t, err, pn5180.ErrTransportClosed)
	assert.Contains(t, err.Error(), "polling stopped")
	assert.Equal(t, int64(1), s.Metrics().PollErrors)
}

func TestSession_RecovererError(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{errB: pn5180.NewBusyNotAssertedError("Transfer", "fake"), errsLeft: -1}
	recoverer := &countingRecoverer{err: errors.New("chip gone")}
	s := NewSession(reader, typeBOnlyConfig())
	s.SetRecoverer(recoverer)

	err := s.Start(context.Background())
	require.ErrorContains(t, err, "device recovery failed: chip gone")
	assert.Equal(t, int32(1), recoverer.calls.Load())
}

func TestSession_TargetsAreSightings(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{
		cardB: &pn5180.TypeBCard{UID: [4]byte{0xAA, 0xBB, 0xCC, 0xDD}, TargetNumber: 3},
		targets: []pn5180.CardTarget{
			{Number: 1, UID: [4]byte{0x01, 0x02, 0x03, 0x04}},
			{Number: 2, UID: [4]byte{0x05, 0x06, 0x07, 0x08}},
		},
	}
	s := NewSession(reader, typeBOnlyConfig())
	stop := runSession(t, s)

	waitCycles(t, s, 2)
	require.ErrorIs(t, stop(), context.Canceled)

	assert.Equal(t, []Card{
		{UID: []byte{0x01, 0x02, 0x03, 0x04}, TargetNumber: 1, Protocol: ProtocolTypeB, Selected: true},
		{UID: []byte{0x05, 0x06, 0x07, 0x08}, TargetNumber: 2, Protocol: ProtocolTypeB, Selected: true},
		{UID: []byte{0xAA, 0xBB, 0xCC, 0xDD}, Protocol: ProtocolTypeB},
	}, s.Cards())
	assert.Equal(t, int64(3), s.Metrics().CardsDetected)
}

func TestSession_SleepTriggersRecovery(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{firstWait: 60 * time.Millisecond}
	recoverer := &countingRecoverer{}
	cfg := typeBOnlyConfig()
	cfg.SleepRecovery.Enabled = true
	cfg.SleepRecovery.TimeDiscontinuityThreshold = 20 * time.Millisecond

	s := NewSession(reader, cfg)
	s.SetRecoverer(recoverer)
	stop := runSession(t, s)

	waitCycles(t, s, 3)
	require.ErrorIs(t, stop(), context.Canceled)
	assert.GreaterOrEqual(t, recoverer.calls.Load(), int32(1))
	assert.Zero(t, s.Metrics().PollErrors)
}

func TestSession_FieldResetFollowsTypeACard(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{cardA: &pn5180.TypeACard{UID: []byte{0x01, 0x02, 0x03, 0x04}}}
	cfg := testConfig()
	cfg.EnableTypeB = false
	s := NewSession(reader, cfg)
	stop := runSession(t, s)

	// Every cycle with a selected Type A card starts from a reset field.
	waitCycles(t, s, 3)
	cycles := s.Metrics().PollCycles
	_, rfOffs := reader.counts()
	assert.GreaterOrEqual(t, int64(rfOffs), cycles)

	// Once the card is gone the field stays on: only the cycle that noticed
	// the absence still reset it.
	reader.setCardA(nil)
	waitCycles(t, s, 2)
	_, before := reader.counts()
	waitCycles(t, s, 5)
	_, after := reader.counts()
	assert.Equal(t, before, after)

	require.ErrorIs(t, stop(), context.Canceled)
	assert.Zero(t, s.Metrics().PollErrors)
}
