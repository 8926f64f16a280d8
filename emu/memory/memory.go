package memory

/*
 * GSCX Cell - Shared physical memory image
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
	"encoding/binary"
	"fmt"
)

// Memory holds the shared physical address space seen by the PPU cores and
// by SPU DMA. All multi-byte accessors are big-endian. One instance is owned
// by the system; cores receive a reference at construction.
type Memory struct {
	data []byte
}

// Create memory image of size bytes.
func New(size uint32) *Memory {
	return &Memory{data: make([]byte, size)}
}

// Return size of memory in bytes.
func (m *Memory) Size() uint32 {
	return uint32(len(m.data))
}

// Reset all of memory to zero.
func (m *Memory) Clear() {
	for i := range m.data {
		m.data[i] = 0
	}
}

// Check if addr through addr+size-1 is inside the image.
func (m *Memory) CheckAddr(addr uint64, size uint32) bool {
	return addr+uint64(size) <= uint64(len(m.data)) && addr <= addr+uint64(size)
}

func (m *Memory) rangeErr(addr uint64, size uint32) error {
	return fmt.Errorf("memory access out of range: addr=%#x size=%d image=%d", addr, size, len(m.data))
}

func (m *Memory) Read8(addr uint64) (uint8, error) {
	if !m.CheckAddr(addr, 1) {
		return 0, m.rangeErr(addr, 1)
	}
	return m.data[addr], nil
}

func (m *Memory) Read16(addr uint64) (uint16, error) {
	if !m.CheckAddr(addr, 2) {
		return 0, m.rangeErr(addr, 2)
	}
	return binary.BigEndian.Uint16(m.data[addr:]), nil
}

func (m *Memory) Read32(addr uint64) (uint32, error) {
	if !m.CheckAddr(addr, 4) {
		return 0, m.rangeErr(addr, 4)
	}
	return binary.BigEndian.Uint32(m.data[addr:]), nil
}

func (m *Memory) Read64(addr uint64) (uint64, error) {
	if !m.CheckAddr(addr, 8) {
		return 0, m.rangeErr(addr, 8)
	}
	return binary.BigEndian.Uint64(m.data[addr:]), nil
}

func (m *Memory) Write8(addr uint64, data uint8) error {
	if !m.CheckAddr(addr, 1) {
		return m.rangeErr(addr, 1)
	}
	m.data[addr] = data
	return nil
}

func (m *Memory) Write16(addr uint64, data uint16) error {
	if !m.CheckAddr(addr, 2) {
		return m.rangeErr(addr, 2)
	}
	binary.BigEndian.PutUint16(m.data[addr:], data)
	return nil
}

func (m *Memory) Write32(addr uint64, data uint32) error {
	if !m.CheckAddr(addr, 4) {
		return m.rangeErr(addr, 4)
	}
	binary.BigEndian.PutUint32(m.data[addr:], data)
	return nil
}

func (m *Memory) Write64(addr uint64, data uint64) error {
	if !m.CheckAddr(addr, 8) {
		return m.rangeErr(addr, 8)
	}
	binary.BigEndian.PutUint64(m.data[addr:], data)
	return nil
}

// Copy size bytes starting at addr into a fresh slice.
func (m *Memory) ReadBytes(addr uint64, size uint32) ([]byte, error) {
	if !m.CheckAddr(addr, size) {
		return nil, m.rangeErr(addr, size)
	}
	buf := make([]byte, size)
	copy(buf, m.data[addr:addr+uint64(size)])
	return buf, nil
}

// Copy data into the image starting at addr.
func (m *Memory) WriteBytes(addr uint64, data []byte) error {
	if !m.CheckAddr(addr, uint32(len(data))) {
		return m.rangeErr(addr, uint32(len(data)))
	}
	copy(m.data[addr:], data)
	return nil
}
