/* Hypervisor memory manager tests.

   Copyright 2025, GSCX Authors

   Permission is hereby granted, free of charge, to any person obtaining a
   copy of this software and associated documentation files (the "Software"),
   to deal in the Software without restriction, including without limitation
   the rights to use, copy, modify, merge, publish, distribute, sublicense,
   and/or sell copies of the Software, and to permit persons to whom the
   Software is furnished to do so, subject to the following conditions:

   The above copyright notice and this permission notice shall be included in
   all copies or substantial portions of the Software.

   THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
   IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
   FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.  IN NO EVENT SHALL
   THE AUTHORS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
   IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
   CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

*/

package hypervisor

import (
	"testing"
)

func testMemMgr(t *testing.T) *MemoryManager {
	t.Helper()
	m := NewMemoryManager()
	if err := m.Initialize(0x1000, 0x10000); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return m
}

func TestAllocateFirstFit(t *testing.T) {
	m := testMemMgr(t)
	a := m.AllocateLPARMemory(0x1000)
	if a != 0x1000 {
		t.Errorf("First allocation base not correct got: %#x expected: %#x", a, 0x1000)
	}
	b := m.AllocateLPARMemory(0x2000)
	if b != 0x2000 {
		t.Errorf("Second allocation base not correct got: %#x expected: %#x", b, 0x2000)
	}
	if r := m.FreeTotal(); r != 0x10000-0x3000 {
		t.Errorf("Free total not correct got: %#x expected: %#x", r, 0x10000-0x3000)
	}

	// Freeing the first span leaves a hole that a fitting request reuses.
	m.FreeLPARMemory(a, 0x1000)
	c := m.AllocateLPARMemory(0x800)
	if c != 0x1000 {
		t.Errorf("Hole not reused got: %#x expected: %#x", c, 0x1000)
	}
}

func TestAllocateZeroAndTooLarge(t *testing.T) {
	m := testMemMgr(t)
	if r := m.AllocateLPARMemory(0); r != 0 {
		t.Errorf("Zero size allocation did not fail got: %#x", r)
	}
	if r := m.AllocateLPARMemory(0x20000); r != 0 {
		t.Errorf("Oversized allocation did not fail got: %#x", r)
	}
}

func TestCoalesce(t *testing.T) {
	m := testMemMgr(t)
	a := m.AllocateLPARMemory(0x4000)
	b := m.AllocateLPARMemory(0x4000)
	c := m.AllocateLPARMemory(0x4000)
	m.FreeLPARMemory(a, 0x4000)
	m.FreeLPARMemory(c, 0x4000)
	m.FreeLPARMemory(b, 0x4000)
	// All free space merges back; the whole pool fits again.
	if r := m.AllocateLPARMemory(0x10000); r != 0x1000 {
		t.Errorf("Coalesced pool not allocatable got: %#x expected: %#x", r, 0x1000)
	}
}

func TestTranslate(t *testing.T) {
	m := testMemMgr(t)
	if err := m.MapMemory(7, 0x100000, 0x200000, 0x1000, MemRead); err != nil {
		t.Fatalf("MapMemory failed: %v", err)
	}
	paddr, flags, ok := m.Translate(7, 0x100800)
	if !ok {
		t.Fatalf("Translate missed a live mapping")
	}
	if paddr != 0x200800 {
		t.Errorf("Translation not correct got: %#x expected: %#x", paddr, 0x200800)
	}
	if flags != MemRead {
		t.Errorf("Flags not correct got: %#x expected: %#x", flags, MemRead)
	}
	// Another partition does not see the mapping.
	if _, _, ok := m.Translate(8, 0x100800); ok {
		t.Errorf("Mapping leaked across partitions")
	}
	if _, _, ok := m.Translate(7, 0x101000); ok {
		t.Errorf("Translate hit past the end of the range")
	}

	if r := m.MappingCount(7); r != 1 {
		t.Errorf("Mapping count not correct got: %d expected: %d", r, 1)
	}
}

func TestMapRejectsWrap(t *testing.T) {
	m := testMemMgr(t)
	if err := m.MapMemory(1, ^uint64(0)-0x10, 0x1000, 0x100, MemRead); err == nil {
		t.Errorf("Wrapping virtual range accepted")
	}
}

func TestProtectUpdatesFlags(t *testing.T) {
	m := testMemMgr(t)
	if err := m.MapMemory(1, 0x1000, 0x2000, 0x1000, MemRead|MemWrite); err != nil {
		t.Fatalf("MapMemory failed: %v", err)
	}
	if err := m.ProtectMemory(1, 0x1000, 0x1000, MemRead); err != nil {
		t.Fatalf("ProtectMemory failed: %v", err)
	}
	_, flags, ok := m.Translate(1, 0x1000)
	if !ok || flags != MemRead {
		t.Errorf("Protection not updated got: %#x expected: %#x", flags, MemRead)
	}
	if err := m.ProtectMemory(1, 0x9000, 0x1000, MemRead); err == nil {
		t.Errorf("Protect of unmapped range did not fail")
	}
}
