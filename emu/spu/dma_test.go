/* SPU DMA engine tests.

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

package spu

import (
	"testing"

	"github.com/gscx/cell/emu/memory"
)

// After a get and a wait on its tag, the external data is visible in the
// Local Store.
func TestDMAGetVisibleAfterWait(t *testing.T) {
	mem := memory.New(64 * 1024)
	c := NewCore(0, mem)
	defer c.Shutdown()

	pattern := make([]byte, 64)
	for i := range pattern {
		pattern[i] = byte(i ^ 0x5a)
	}
	if err := mem.WriteBytes(0x2000, pattern); err != nil {
		t.Fatalf("could not seed memory: %v", err)
	}

	if !c.DMAGet(0x100, 0x2000, 64, 3) {
		t.Fatalf("DMAGet rejected a valid descriptor")
	}
	c.DMAWait(1 << 3)

	for i := range pattern {
		if c.LocalStore()[0x100+i] != pattern[i] {
			t.Errorf("Byte %d not transferred got: %02x expected: %02x",
				i, c.LocalStore()[0x100+i], pattern[i])
		}
	}
}

func TestDMAPutVisibleAfterWait(t *testing.T) {
	mem := memory.New(64 * 1024)
	c := NewCore(0, mem)
	defer c.Shutdown()

	for i := 0; i < 32; i++ {
		c.LocalStore()[0x200+i] = byte(i + 1)
	}
	if !c.DMAPut(0x200, 0x3000, 32, 5) {
		t.Fatalf("DMAPut rejected a valid descriptor")
	}
	c.DMAWait(1 << 5)

	buf, err := mem.ReadBytes(0x3000, 32)
	if err != nil {
		t.Fatalf("ReadBytes failed: %v", err)
	}
	for i := range buf {
		if buf[i] != byte(i+1) {
			t.Errorf("Byte %d not transferred got: %02x expected: %02x", i, buf[i], i+1)
		}
	}
}

// Transfers with the same tag complete in issue order.
func TestDMASameTagOrdering(t *testing.T) {
	mem := memory.New(64 * 1024)
	c := NewCore(0, mem)
	defer c.Shutdown()

	c.LocalStore()[0x100] = 0x11
	c.LocalStore()[0x110] = 0x22
	if !c.DMAPut(0x100, 0x4000, 1, 7) {
		t.Fatalf("First put rejected")
	}
	if !c.DMAPut(0x110, 0x4000, 1, 7) {
		t.Fatalf("Second put rejected")
	}
	c.DMAWait(1 << 7)

	r, _ := mem.Read8(0x4000)
	if r != 0x22 {
		t.Errorf("Same tag ordering not correct got: %02x expected: %02x", r, 0x22)
	}
}

// Waiting on tags with nothing outstanding returns immediately even while
// other tags are in flight.
func TestDMAWaitUnrelatedTag(t *testing.T) {
	mem := memory.New(64 * 1024)
	c := NewCore(0, mem)
	defer c.Shutdown()

	for i := 0; i < 8; i++ {
		if !c.DMAGet(uint32(i)*0x100, uint64(i)*0x100, 0x100, 1) {
			t.Fatalf("Get %d rejected", i)
		}
	}
	// Tag 9 was never issued; this must not block.
	c.DMAWait(1 << 9)
	c.DMAWait(1 << 1)
}

func TestDMARejectsBadRanges(t *testing.T) {
	mem := memory.New(4096)
	c := NewCore(0, mem)
	defer c.Shutdown()

	if c.DMAGet(LocalStoreSize-8, 0, 64, 0) {
		t.Errorf("Get with local store overrun accepted")
	}
	if c.DMAGet(0, 4096, 64, 0) {
		t.Errorf("Get with external overrun accepted")
	}
	if c.DMAPut(0, 4090, 64, 0) {
		t.Errorf("Put with external overrun accepted")
	}
	// Rejected descriptors never become outstanding.
	c.DMAWait(^uint32(0))
}
