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

package pn5180

import "time"

// ReceiveStatus is the decoded RX_STATUS register.
type ReceiveStatus struct {
	// ByteCount is the number of bytes waiting in the receive buffer.
	ByteCount int
	// ValidBits is the number of valid bits in the last byte, 0 meaning all.
	ValidBits int
}

func decodeReceiveStatus(raw [4]byte) ReceiveStatus {
	return ReceiveStatus{
		ByteCount: int(raw[0]) | int(raw[1]&0x01)<<8,
		ValidBits: int(raw[1]&0xE0) >> 5,
	}
}

// SendData transmits data over the air. validBits is the number of bits of
// the last byte to send, 1 to 8.
func (d *Device) SendData(data []byte, validBits int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sendData(data, validBits)
}

func (d *Device) sendData(data []byte, validBits int) error {
	if len(data) > MaxSendDataLength {
		panicArgument("SendData", "%d bytes exceeds %d", len(data), MaxSendDataLength)
	}
	if validBits < 1 || validBits > 8 {
		panicArgument("SendData", "valid bits %d outside 1..8", validBits)
	}

	if err := d.startTransceive(); err != nil {
		return err
	}

	cmd := make([]byte, 0, 2+len(data))
	cmd = append(cmd, cmdSendData, byte(validBits&0x07))
	cmd = append(cmd, data...)
	return d.transport.Write(cmd)
}

// ReadData copies len(buf) bytes out of the receive buffer.
func (d *Device) ReadData(buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readData(buf)
}

func (d *Device) readData(buf []byte) error {
	if len(buf) > MaxReadDataLength {
		panicArgument("ReadData", "%d bytes exceeds %d", len(buf), MaxReadDataLength)
	}
	if len(buf) == 0 {
		return nil
	}
	return d.transport.Transfer([]byte{cmdReadData, 0x00}, buf)
}

// ReceiveStatus reads and decodes RX_STATUS.
func (d *Device) ReceiveStatus() (ReceiveStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.receiveStatus()
}

func (d *Device) receiveStatus() (ReceiveStatus, error) {
	raw, err := d.readRegister(RegRxStatus)
	if err != nil {
		return ReceiveStatus{}, err
	}
	return decodeReceiveStatus(raw), nil
}

// ReadWithTimeout waits up to timeout for a frame and copies it into buf.
// The frame is complete once two consecutive polls report the same nonzero
// byte count. It returns the number of bytes read; nothing received within
// the timeout is 0 with a nil error.
func (d *Device) ReadWithTimeout(buf []byte, timeout time.Duration) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readWithTimeout(buf, timeout)
}

func (d *Device) readWithTimeout(buf []byte, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	last := 0

	for {
		status, err := d.receiveStatus()
		if err != nil {
			return 0, err
		}
		count := status.ByteCount
		if count > 0 && count == last {
			break
		}
		last = count

		if !time.Now().Before(deadline) {
			if count == 0 {
				return 0, nil
			}
			break
		}
		time.Sleep(ReceivePollInterval)
	}

	n := min(last, len(buf), MaxReadDataLength)
	if err := d.readData(buf[:n]); err != nil {
		return 0, err
	}
	return n, nil
}

// exchange sends a full-byte frame and waits for the answer.
func (d *Device) exchange(data, buf []byte, timeout time.Duration) (int, error) {
	if err := d.sendData(data, 8); err != nil {
		return 0, err
	}
	return d.readWithTimeout(buf, timeout)
}
