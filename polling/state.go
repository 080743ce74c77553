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
	"fmt"
	"sort"
	"time"

	"github.com/ZaparooProject/go-pn5180"
)

// Protocol is the air interface a card was seen on.
type Protocol int

const (
	ProtocolTypeA Protocol = iota + 1
	ProtocolTypeB
)

func (p Protocol) String() string {
	switch p {
	case ProtocolTypeA:
		return "A"
	case ProtocolTypeB:
		return "B"
	default:
		return fmt.Sprintf("Protocol(%d)", int(p))
	}
}

// Card is a card seen by a polling session. Two sightings are the same
// card when protocol and UID match.
type Card struct {
	UID []byte
	// TargetNumber is the registry number of a selected Type B card and 0
	// otherwise.
	TargetNumber byte
	Protocol     Protocol
	// Selected is false for a Type B card that rejected ATTRIB. Type A
	// cards are always selected.
	Selected bool
}

// ID identifies the card across sightings, e.g. "B:01020304".
func (c Card) ID() string {
	return fmt.Sprintf("%s:%X", c.Protocol, c.UID)
}

func cardFromTypeA(card *pn5180.TypeACard) Card {
	return Card{
		UID:      append([]byte(nil), card.UID...),
		Protocol: ProtocolTypeA,
		Selected: true,
	}
}

func cardFromTypeB(card *pn5180.TypeBCard) Card {
	c := Card{
		UID:      append([]byte(nil), card.UID[:]...),
		Protocol: ProtocolTypeB,
		Selected: card.Selected,
	}
	if card.Selected {
		c.TargetNumber = card.TargetNumber
	}
	return c
}

func cardFromTarget(target pn5180.CardTarget) Card {
	return Card{
		UID:          append([]byte(nil), target.UID[:]...),
		TargetNumber: target.Number,
		Protocol:     ProtocolTypeB,
		Selected:     true,
	}
}

// cardState tracks one present card.
type cardState struct {
	lastSeen time.Time
	card     Card
}

// presenceTracker is the set of cards currently considered present.
type presenceTracker struct {
	cards map[string]*cardState
}

func newPresenceTracker() *presenceTracker {
	return &presenceTracker{cards: make(map[string]*cardState)}
}

// see records a sighting and reports whether the card is new. A known card
// keeps its entry but takes the latest target number.
func (p *presenceTracker) see(card Card, now time.Time) bool {
	if state, ok := p.cards[card.ID()]; ok {
		state.card = card
		state.lastSeen = now
		return false
	}
	p.cards[card.ID()] = &cardState{card: card, lastSeen: now}
	return true
}

// expire removes and returns the cards not seen for longer than timeout.
func (p *presenceTracker) expire(now time.Time, timeout time.Duration) []Card {
	var gone []Card
	for id, state := range p.cards {
		if now.Sub(state.lastSeen) > timeout {
			gone = append(gone, state.card)
			delete(p.cards, id)
		}
	}
	sortCards(gone)
	return gone
}

func (p *presenceTracker) present() []Card {
	cards := make([]Card, 0, len(p.cards))
	for _, state := range p.cards {
		cards = append(cards, state.card)
	}
	sortCards(cards)
	return cards
}

func sortCards(cards []Card) {
	sort.Slice(cards, func(i, j int) bool { return cards[i].ID() < cards[j].ID() })
}
