/* Hypervisor memory manager: LPAR region allocation and guest mappings.

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
	"fmt"
	"log/slog"
	"sync"

	"github.com/gscx/cell/util/logger"
)

// region is one contiguous span of the privileged pool. The pool is a
// sorted free/allocated list; adjacent free spans are coalesced on free.
type region struct {
	base      uint64
	size      uint64
	allocated bool
}

// mapping is one guest visible translation owned by an LPAR.
type mapping struct {
	lparID uint32
	vaddr  uint64
	paddr  uint64
	size   uint64
	flags  uint32
}

// MemoryManager tracks the privileged physical pool and the per LPAR
// virtual mappings. The pool is bookkeeping only; the privileged region
// sits outside the emulated physical address space.
type MemoryManager struct {
	log *slog.Logger

	mu       sync.Mutex
	base     uint64
	size     uint64
	regions  []region
	mappings []mapping
}

func NewMemoryManager() *MemoryManager {
	return &MemoryManager{log: logger.Component("HVMemory")}
}

// Initialize sets up the pool as one free region covering the whole span.
func (m *MemoryManager) Initialize(base, size uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if size == 0 {
		return fmt.Errorf("memory pool size is zero")
	}
	m.base = base
	m.size = size
	m.regions = []region{{base: base, size: size}}
	m.mappings = nil
	m.log.Info("Memory pool initialized",
		"base", fmt.Sprintf("%#x", base), "size", fmt.Sprintf("%#x", size))
	return nil
}

func (m *MemoryManager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regions = nil
	m.mappings = nil
}

// AllocateLPARMemory carves a span off the first free region large enough
// to hold it. Returns the base address, or zero when the pool cannot
// satisfy the request.
func (m *MemoryManager) AllocateLPARMemory(size uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if size == 0 {
		return 0
	}
	for i := range m.regions {
		r := &m.regions[i]
		if r.allocated || r.size < size {
			continue
		}
		base := r.base
		if r.size == size {
			r.allocated = true
		} else {
			rest := region{base: r.base + size, size: r.size - size}
			r.size = size
			r.allocated = true
			m.regions = append(m.regions, region{})
			copy(m.regions[i+2:], m.regions[i+1:])
			m.regions[i+1] = rest
		}
		m.log.Debug("Allocated LPAR memory",
			"base", fmt.Sprintf("%#x", base), "size", fmt.Sprintf("%#x", size))
		return base
	}
	m.log.Warn("LPAR allocation failed", "size", fmt.Sprintf("%#x", size))
	return 0
}

// FreeLPARMemory releases a previously allocated span and merges the
// resulting free region with free neighbors.
func (m *MemoryManager) FreeLPARMemory(base, size uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.regions {
		r := &m.regions[i]
		if r.base != base || r.size != size || !r.allocated {
			continue
		}
		r.allocated = false
		m.coalesce()
		m.log.Debug("Freed LPAR memory",
			"base", fmt.Sprintf("%#x", base), "size", fmt.Sprintf("%#x", size))
		return
	}
	m.log.Warn("Free of unknown LPAR region",
		"base", fmt.Sprintf("%#x", base), "size", fmt.Sprintf("%#x", size))
}

// coalesce merges adjacent free regions. Caller holds the lock.
func (m *MemoryManager) coalesce() {
	for i := 0; i < len(m.regions)-1; {
		cur := &m.regions[i]
		next := &m.regions[i+1]
		if !cur.allocated && !next.allocated && cur.base+cur.size == next.base {
			cur.size += next.size
			m.regions = append(m.regions[:i+1], m.regions[i+2:]...)
			continue
		}
		i++
	}
}

// FreeTotal reports the sum of all free region sizes.
func (m *MemoryManager) FreeTotal() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total uint64
	for _, r := range m.regions {
		if !r.allocated {
			total += r.size
		}
	}
	return total
}

// MapMemory records a guest translation for the LPAR. A virtual range
// overlapping an existing mapping of the same LPAR is rejected.
func (m *MemoryManager) MapMemory(lparID uint32, vaddr, paddr, size uint64, flags uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if size == 0 {
		return fmt.Errorf("map of zero size")
	}
	if vaddr+size < vaddr || paddr+size < paddr {
		return fmt.Errorf("map range wraps address space")
	}
	for _, mp := range m.mappings {
		if mp.lparID == lparID && vaddr < mp.vaddr+mp.size && mp.vaddr < vaddr+size {
			return fmt.Errorf("map overlaps existing mapping at %#x", mp.vaddr)
		}
	}
	m.mappings = append(m.mappings, mapping{
		lparID: lparID, vaddr: vaddr, paddr: paddr, size: size, flags: flags,
	})
	return nil
}

// UnmapMemory removes a translation previously established with MapMemory.
// The range must match an existing mapping exactly.
func (m *MemoryManager) UnmapMemory(lparID uint32, vaddr, size uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, mp := range m.mappings {
		if mp.lparID == lparID && mp.vaddr == vaddr && mp.size == size {
			m.mappings = append(m.mappings[:i], m.mappings[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("no mapping at %#x size %#x for LPAR %d", vaddr, size, lparID)
}

// ProtectMemory replaces the protection flags on an existing mapping.
func (m *MemoryManager) ProtectMemory(lparID uint32, vaddr, size uint64, protection uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, mp := range m.mappings {
		if mp.lparID == lparID && mp.vaddr == vaddr && mp.size == size {
			m.mappings[i].flags = protection
			return nil
		}
	}
	return fmt.Errorf("no mapping at %#x size %#x for LPAR %d", vaddr, size, lparID)
}

// Translate resolves a guest virtual address for the LPAR to its mapped
// physical address and flags.
func (m *MemoryManager) Translate(lparID uint32, vaddr uint64) (uint64, uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, mp := range m.mappings {
		if mp.lparID == lparID && vaddr >= mp.vaddr && vaddr < mp.vaddr+mp.size {
			return mp.paddr + (vaddr - mp.vaddr), mp.flags, true
		}
	}
	return 0, 0, false
}

// MappingCount reports the number of live translations for the LPAR.
func (m *MemoryManager) MappingCount(lparID uint32) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, mp := range m.mappings {
		if mp.lparID == lparID {
			count++
		}
	}
	return count
}
