package memory

/*
 * GSCX Cell - Shared memory tests
 *
 * Copyright 2025, GSCX Authors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

import (
	"testing"
)

func TestSize(t *testing.T) {
	mem := New(64 * 1024)
	if r := mem.Size(); r != 64*1024 {
		t.Errorf("Size not correct got: %d expected: %d", r, 64*1024)
	}
}

// Words are stored big-endian: most significant byte at the lowest address.
func TestBigEndian(t *testing.T) {
	mem := New(1024)
	if err := mem.Write32(0x100, 0x12345678); err != nil {
		t.Errorf("Write32 failed: %v", err)
	}
	for i, want := range []uint8{0x12, 0x34, 0x56, 0x78} {
		r, err := mem.Read8(0x100 + uint64(i))
		if err != nil {
			t.Errorf("Read8 failed: %v", err)
		}
		if r != want {
			t.Errorf("Byte %d not correct got: %02x expected: %02x", i, r, want)
		}
	}
}

func TestReadWriteWidths(t *testing.T) {
	mem := New(1024)
	if err := mem.Write8(0x10, 0xab); err != nil {
		t.Errorf("Write8 failed: %v", err)
	}
	if err := mem.Write16(0x20, 0xbeef); err != nil {
		t.Errorf("Write16 failed: %v", err)
	}
	if err := mem.Write64(0x40, 0x0102030405060708); err != nil {
		t.Errorf("Write64 failed: %v", err)
	}

	r8, _ := mem.Read8(0x10)
	if r8 != 0xab {
		t.Errorf("Read8 not correct got: %02x expected: %02x", r8, 0xab)
	}
	r16, _ := mem.Read16(0x20)
	if r16 != 0xbeef {
		t.Errorf("Read16 not correct got: %04x expected: %04x", r16, 0xbeef)
	}
	r64, _ := mem.Read64(0x40)
	if r64 != 0x0102030405060708 {
		t.Errorf("Read64 not correct got: %016x expected: %016x", r64, uint64(0x0102030405060708))
	}
}

func TestBoundsChecks(t *testing.T) {
	mem := New(256)
	if _, err := mem.Read32(256); err == nil {
		t.Errorf("Read32 past end did not fail")
	}
	if _, err := mem.Read32(254); err == nil {
		t.Errorf("Read32 straddling end did not fail")
	}
	if err := mem.Write32(253, 0); err == nil {
		t.Errorf("Write32 straddling end did not fail")
	}
	if _, err := mem.Read8(255); err != nil {
		t.Errorf("Read8 of last byte failed: %v", err)
	}
	// Address arithmetic must not wrap.
	if mem.CheckAddr(^uint64(0)-1, 4) {
		t.Errorf("CheckAddr accepted wrapping range")
	}
}

func TestReadWriteBytes(t *testing.T) {
	mem := New(256)
	data := []byte{1, 2, 3, 4, 5}
	if err := mem.WriteBytes(0x80, data); err != nil {
		t.Errorf("WriteBytes failed: %v", err)
	}
	buf, err := mem.ReadBytes(0x80, 5)
	if err != nil {
		t.Errorf("ReadBytes failed: %v", err)
	}
	for i := range data {
		if buf[i] != data[i] {
			t.Errorf("ReadBytes byte %d not correct got: %d expected: %d", i, buf[i], data[i])
		}
	}
	if err := mem.WriteBytes(254, data); err == nil {
		t.Errorf("WriteBytes past end did not fail")
	}
}

func TestClear(t *testing.T) {
	mem := New(128)
	_ = mem.Write32(0, 0xdeadbeef)
	mem.Clear()
	r, _ := mem.Read32(0)
	if r != 0 {
		t.Errorf("Clear did not zero memory got: %08x expected: %08x", r, 0)
	}
}
