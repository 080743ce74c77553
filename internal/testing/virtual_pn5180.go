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

package testing

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-pn5180/internal/syncutil"
	"github.com/ZaparooProject/go-pn5180/iso14443"
)

// PN5180 host interface commands understood by the simulator.
const (
	CmdWriteRegister        byte = 0x00
	CmdWriteRegisterOrMask  byte = 0x01
	CmdWriteRegisterAndMask byte = 0x02
	CmdReadRegister         byte = 0x04
	CmdWriteEEPROM          byte = 0x06
	CmdReadEEPROM           byte = 0x07
	CmdSendData             byte = 0x09
	CmdReadData             byte = 0x0A
	CmdMifareAuthenticate   byte = 0x0C
	CmdLoadRFConfig         byte = 0x11
	CmdRetrieveRFConfigSize byte = 0x13
	CmdRetrieveRFConfig     byte = 0x14
	CmdRFOn                 byte = 0x16
	CmdRFOff                byte = 0x17
)

// Registers the simulator gives meaning to.
const (
	RegSystemConfig byte = 0x00
	RegIRQStatus    byte = 0x02
	RegIRQClear     byte = 0x03
	RegCRCRxConfig  byte = 0x12
	RegRxStatus     byte = 0x13
	RegCRCTxConfig  byte = 0x19
	RegRFStatus     byte = 0x1D
)

const (
	commandTransceive uint32 = 0x03
	rfConfigTypeBMin  byte   = 0x04
	rfConfigTypeBMax  byte   = 0x07
	eepromSize               = 0xFF
	rfConfigEntries          = 2
)

// TransportType mirrors pn5180.TransportType to avoid import cycle
type TransportType string

const (
	// TransportMock represents a mock transport for testing
	TransportMock TransportType = "mock"
)

// Protocol is the modulation a card answers to.
type Protocol int

const (
	// ProtocolA is ISO/IEC 14443 Type A.
	ProtocolA Protocol = iota
	// ProtocolB is ISO/IEC 14443 Type B.
	ProtocolB
)

// ErrSimulatorClosed is returned by every call after Close.
var ErrSimulatorClosed = errors.New("virtual PN5180 closed")

// Card is a contactless card the simulator can place in its field.
type Card interface {
	// protocol reports which RF configuration the card answers to.
	protocol() Protocol
	// receive processes one air frame and returns the air answer, or nil
	// when the card stays silent.
	receive(frame []byte, validBits int) []byte
	// authenticate runs MIFARE_AUTHENTICATE against the card.
	authenticate(key [6]byte, keyType, block byte, uid [4]byte) byte
	// powerOff resets the card as when the field drops.
	powerOff()
}

// CommandLogEntry records one host command.
type CommandLogEntry struct {
	Timestamp time.Time
	Data      []byte
	Cmd       byte
}

// VirtualPN5180 simulates a PN5180 at the host command level. It implements
// the Write/Transfer pair of the transport interface, so a Device can run on
// it unchanged.
//
// The simulator enforces the parts of the chip behaviour the driver relies
// on:
//   - SEND_DATA only transmits in the Transceive state
//   - CRC is appended and checked according to CRC_TX_CONFIG and CRC_RX_CONFIG
//   - cards only answer while the field is on with a matching RF configuration
//   - RF_OFF powers every card in the field down
type VirtualPN5180 struct {
	failNext      error
	cards         []Card
	commandLog    []CommandLogEntry
	frames        [][]byte
	rxBuffer      []byte
	registers     map[byte]uint32
	registerReads map[byte]int
	eeprom        [eepromSize]byte
	timeout       time.Duration
	rxVisible     int
	rxArrivalStep int
	collisions    int
	mu            syncutil.Mutex
	rfConfigTX    byte
	rfConfigRX    byte
	rfOn          bool
	closed        bool
}

// NewVirtualPN5180 creates a simulator with an empty field and the field off.
// The EEPROM version block reports product 3.5, firmware 3.5, EEPROM 14.0.
func NewVirtualPN5180() *VirtualPN5180 {
	v := &VirtualPN5180{
		registers:     make(map[byte]uint32),
		registerReads: make(map[byte]int),
		timeout:       time.Second,
	}
	copy(v.eeprom[0x10:], []byte{0x05, 0x03, 0x05, 0x03, 0x00, 0x0E})
	return v
}

// AddCard places a card in the field.
func (v *VirtualPN5180) AddCard(card Card) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cards = append(v.cards, card)
}

// RemoveCard takes a card out of the field. It loses power.
func (v *VirtualPN5180) RemoveCard(card Card) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, c := range v.cards {
		if c == card {
			card.powerOff()
			v.cards = append(v.cards[:i], v.cards[i+1:]...)
			return
		}
	}
}

// RemoveAllCards empties the field.
func (v *VirtualPN5180) RemoveAllCards() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, c := range v.cards {
		c.powerOff()
	}
	v.cards = nil
}

// SetVersion overwrites the EEPROM version block.
func (v *VirtualPN5180) SetVersion(block [6]byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	copy(v.eeprom[0x10:], block[:])
}

// SetRxArrivalStep makes received frames appear step bytes per RX_STATUS
// read, as if they were still arriving. 0 delivers them at once.
func (v *VirtualPN5180) SetRxArrivalStep(step int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rxArrivalStep = step
}

// FailNext makes the next host command fail with err.
func (v *VirtualPN5180) FailNext(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failNext = err
}

// Register returns the current value of a register.
func (v *VirtualPN5180) Register(addr byte) uint32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.registers[addr]
}

// RegisterReads returns how often a register was read.
func (v *VirtualPN5180) RegisterReads(addr byte) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.registerReads[addr]
}

// RFOn reports whether the field is on.
func (v *VirtualPN5180) RFOn() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rfOn
}

// RFConfig returns the last loaded TX and RX configuration.
func (v *VirtualPN5180) RFConfig() (tx, rx byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rfConfigTX, v.rfConfigRX
}

// Frames returns the payloads passed to SEND_DATA, without CRC.
func (v *VirtualPN5180) Frames() [][]byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([][]byte, len(v.frames))
	for i, f := range v.frames {
		out[i] = append([]byte(nil), f...)
	}
	return out
}

// CountFrames returns how many transmitted frames start with prefix.
func (v *VirtualPN5180) CountFrames(prefix ...byte) int {
	count := 0
	for _, f := range v.Frames() {
		if bytes.HasPrefix(f, prefix) {
			count++
		}
	}
	return count
}

// ClearLogs forgets the command and frame logs.
func (v *VirtualPN5180) ClearLogs() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.commandLog = nil
	v.frames = nil
	v.registerReads = make(map[byte]int)
}

// CommandLog returns a copy of the host commands received so far.
func (v *VirtualPN5180) CommandLog() []CommandLogEntry {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]CommandLogEntry(nil), v.commandLog...)
}

// GetCommandCount returns how often cmd was received.
func (v *VirtualPN5180) GetCommandCount(cmd byte) int {
	count := 0
	for _, entry := range v.CommandLog() {
		if entry.Cmd == cmd {
			count++
		}
	}
	return count
}

// Collisions returns how many frames were answered by more than one card.
func (v *VirtualPN5180) Collisions() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.collisions
}

// Write executes a command that has no answer.
func (v *VirtualPN5180) Write(cmd []byte) error {
	return v.Transfer(cmd, nil)
}

// Transfer executes a command and copies len(resp) bytes of its answer.
func (v *VirtualPN5180) Transfer(cmd []byte, resp []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return ErrSimulatorClosed
	}
	if len(cmd) == 0 {
		return errors.New("empty command")
	}
	v.commandLog = append(v.commandLog, CommandLogEntry{
		Cmd:       cmd[0],
		Data:      append([]byte(nil), cmd[1:]...),
		Timestamp: time.Now(),
	})
	if err := v.failNext; err != nil {
		v.failNext = nil
		return err
	}

	answer, err := v.execute(cmd[0], cmd[1:], len(resp))
	if err != nil {
		return err
	}
	for i := range resp {
		if i < len(answer) {
			resp[i] = answer[i]
		} else {
			resp[i] = 0
		}
	}
	return nil
}

// SetTimeout records the BUSY budget. The simulator never stalls.
func (v *VirtualPN5180) SetTimeout(timeout time.Duration) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.timeout = timeout
	return nil
}

// Timeout returns the last BUSY budget set.
func (v *VirtualPN5180) Timeout() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.timeout
}

// Close closes the simulator.
func (v *VirtualPN5180) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	return nil
}

// IsConnected reports whether Close has not been called.
func (v *VirtualPN5180) IsConnected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return !v.closed
}

// Type returns the transport type.
func (*VirtualPN5180) Type() TransportType {
	return TransportMock
}

func (v *VirtualPN5180) execute(cmd byte, args []byte, respLen int) ([]byte, error) {
	switch cmd {
	case CmdWriteRegister, CmdWriteRegisterOrMask, CmdWriteRegisterAndMask:
		return nil, v.handleWriteRegister(cmd, args)
	case CmdReadRegister:
		return v.handleReadRegister(args)
	case CmdWriteEEPROM:
		return nil, v.handleWriteEEPROM(args)
	case CmdReadEEPROM:
		return v.handleReadEEPROM(args)
	case CmdSendData:
		return nil, v.handleSendData(args)
	case CmdReadData:
		return v.handleReadData(respLen), nil
	case CmdMifareAuthenticate:
		return v.handleMifareAuthenticate(args)
	case CmdLoadRFConfig:
		return nil, v.handleLoadRFConfig(args)
	case CmdRetrieveRFConfigSize:
		return []byte{rfConfigEntries}, nil
	case CmdRetrieveRFConfig:
		return v.handleRetrieveRFConfig(args)
	case CmdRFOn:
		v.rfOn = true
		return nil, nil
	case CmdRFOff:
		v.rfOn = false
		for _, c := range v.cards {
			c.powerOff()
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown command 0x%02X", cmd)
	}
}

func (v *VirtualPN5180) handleWriteRegister(cmd byte, args []byte) error {
	if len(args) != 5 {
		return fmt.Errorf("register write with %d argument bytes", len(args))
	}
	addr := args[0]
	value := binary.LittleEndian.Uint32(args[1:5])

	if addr == RegIRQClear {
		v.registers[RegIRQStatus] &^= value
		return nil
	}

	switch cmd {
	case CmdWriteRegister:
		v.registers[addr] = value
	case CmdWriteRegisterOrMask:
		v.registers[addr] |= value
	case CmdWriteRegisterAndMask:
		v.registers[addr] &= value
	}
	return nil
}

func (v *VirtualPN5180) handleReadRegister(args []byte) ([]byte, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("register read with %d argument bytes", len(args))
	}
	addr := args[0]
	v.registerReads[addr]++

	value := v.registers[addr]
	if addr == RegRxStatus {
		value = v.rxStatus()
	}

	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, value)
	return out, nil
}

// rxStatus advances the visible part of a frame still arriving and encodes
// the byte count.
func (v *VirtualPN5180) rxStatus() uint32 {
	if v.rxArrivalStep > 0 {
		v.rxVisible = min(len(v.rxBuffer), v.rxVisible+v.rxArrivalStep)
	} else {
		v.rxVisible = len(v.rxBuffer)
	}
	return uint32(v.rxVisible & 0x1FF)
}

func (v *VirtualPN5180) handleWriteEEPROM(args []byte) error {
	if len(args) < 2 || int(args[0])+len(args)-1 > eepromSize {
		return errors.New("EEPROM write out of range")
	}
	copy(v.eeprom[args[0]:], args[1:])
	return nil
}

func (v *VirtualPN5180) handleReadEEPROM(args []byte) ([]byte, error) {
	if len(args) != 2 || int(args[0])+int(args[1]) > eepromSize {
		return nil, errors.New("EEPROM read out of range")
	}
	return append([]byte(nil), v.eeprom[args[0]:int(args[0])+int(args[1])]...), nil
}

func (v *VirtualPN5180) handleLoadRFConfig(args []byte) error {
	if len(args) != 2 {
		return fmt.Errorf("LOAD_RF_CONFIG with %d argument bytes", len(args))
	}
	v.rfConfigTX, v.rfConfigRX = args[0], args[1]
	return nil
}

func (*VirtualPN5180) handleRetrieveRFConfig(args []byte) ([]byte, error) {
	if len(args) != 1 {
		return nil, errors.New("RETRIEVE_RF_CONFIG needs a configuration byte")
	}
	out := make([]byte, 0, rfConfigEntries*5)
	for i := range rfConfigEntries {
		out = append(out, byte(0x10+i), args[0], 0x00, 0x00, byte(i))
	}
	return out, nil
}

func (v *VirtualPN5180) fieldProtocol() Protocol {
	if v.rfConfigTX >= rfConfigTypeBMin && v.rfConfigTX <= rfConfigTypeBMax {
		return ProtocolB
	}
	return ProtocolA
}

func (v *VirtualPN5180) appendCRC(frame []byte) []byte {
	if v.fieldProtocol() == ProtocolB {
		return iso14443.AppendCRCB(frame)
	}
	return iso14443.AppendCRCA(frame)
}

func (v *VirtualPN5180) checkCRC(frame []byte) ([]byte, bool) {
	if len(frame) < iso14443.CRCSize {
		return nil, false
	}
	payload := frame[:len(frame)-iso14443.CRCSize]
	var want [2]byte
	if v.fieldProtocol() == ProtocolB {
		want = iso14443.CRCB(payload)
	} else {
		want = iso14443.CRCA(payload)
	}
	return payload, frame[len(frame)-2] == want[0] && frame[len(frame)-1] == want[1]
}

func (v *VirtualPN5180) handleSendData(args []byte) error {
	if len(args) < 1 {
		return errors.New("SEND_DATA without bit count")
	}
	v.rxBuffer = nil
	v.rxVisible = 0

	if v.registers[RegSystemConfig]&0x07 != commandTransceive {
		// The chip silently drops data outside Transceive.
		return nil
	}

	validBits := int(args[0] & 0x07)
	if validBits == 0 {
		validBits = 8
	}
	payload := append([]byte(nil), args[1:]...)
	v.frames = append(v.frames, payload)

	if !v.rfOn {
		return nil
	}

	air := payload
	if v.registers[RegCRCTxConfig]&0x01 != 0 {
		air = v.appendCRC(append([]byte(nil), payload...))
	}

	var answers [][]byte
	for _, c := range v.cards {
		if c.protocol() != v.fieldProtocol() {
			continue
		}
		if answer := c.receive(air, validBits); answer != nil {
			answers = append(answers, answer)
		}
	}
	switch {
	case len(answers) > 1:
		v.collisions++
		return nil
	case len(answers) == 0:
		return nil
	}

	rx := answers[0]
	if v.registers[RegCRCRxConfig]&0x01 != 0 {
		payload, ok := v.checkCRC(rx)
		if !ok {
			return nil
		}
		rx = payload
	}
	v.rxBuffer = append([]byte(nil), rx...)
	return nil
}

func (v *VirtualPN5180) handleReadData(n int) []byte {
	out := make([]byte, n)
	copy(out, v.rxBuffer)
	return out
}

func (v *VirtualPN5180) handleMifareAuthenticate(args []byte) ([]byte, error) {
	if len(args) != 12 {
		return nil, fmt.Errorf("MIFARE_AUTHENTICATE with %d argument bytes", len(args))
	}
	var key [6]byte
	var uid [4]byte
	copy(key[:], args[0:6])
	keyType, block := args[6], args[7]
	copy(uid[:], args[8:12])

	if v.rfOn && v.fieldProtocol() == ProtocolA {
		for _, c := range v.cards {
			if c.protocol() != ProtocolA {
				continue
			}
			if status := c.authenticate(key, keyType, block, uid); status != mifareAuthTimeout {
				return []byte{status}, nil
			}
		}
	}
	return []byte{mifareAuthTimeout}, nil
}
