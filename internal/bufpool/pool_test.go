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

package bufpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPool_SizeClasses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		size    int
		wantCap int
	}{
		{name: "register read", size: 4, wantCap: SmallBufferSize},
		{name: "small boundary", size: SmallBufferSize, wantCap: SmallBufferSize},
		{name: "send data", size: 262, wantCap: CommandBufferSize},
		{name: "read data", size: 508, wantCap: LargeBufferSize},
		{name: "oversized", size: 600, wantCap: 600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pool := New()
			buf := pool.Get(tt.size)
			assert.Len(t, buf, tt.size)
			assert.Equal(t, tt.wantCap, cap(buf))
			pool.Put(buf)
		})
	}
}

func TestPool_PutClears(t *testing.T) {
	t.Parallel()
	pool := New()

	buf := pool.Get(8)
	for i := range buf {
		buf[i] = 0xFF
	}
	pool.Put(buf)

	// Whatever the pool hands out next must not carry old data.
	again := pool.Get(SmallBufferSize)
	assert.Equal(t, make([]byte, SmallBufferSize), again)
	pool.Put(nil)
}

// FuzzPool ensures the pool handles arbitrary sizes without panicking.
func FuzzPool(f *testing.F) {
	for _, size := range []int{0, 1, 16, 17, 262, 263, 508, 512, 10000} {
		f.Add(size)
	}

	f.Fuzz(func(t *testing.T, size int) {
		if size < 0 || size > 1_000_000 {
			return
		}

		buf := Get(size)
		if len(buf) != size {
			t.Errorf("Get(%d) returned buffer of length %d", size, len(buf))
		}
		for i := range buf {
			buf[i] = byte(i)
		}
		Put(buf)
	})
}
