/* Hypervisor privilege authority for the GSCX Cell emulator.

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

/*
   The hypervisor partitions the privileged physical region into logical
   partitions (LPARs) and mediates every privileged service behind a single
   call dispatch entry point. Cores never reach the memory manager or the
   security manager directly; a call names a partition, the security
   manager vets the partition's granted privileges, and only then does a
   mapping operation touch the memory manager.

   All partition state lives on the Hypervisor instance. Several instances
   can coexist (the tests rely on that) without interfering.
*/

const (
	// Version reported by the get-version call.
	Version = 0x00030041

	// Privileged physical region managed by the hypervisor.
	BaseAddr = 0x8000000000000000
	PoolSize = 0x1000000 // 16 MiB

	// defaultLPARSize is the partition created at start-up for the
	// primary guest operating environment.
	defaultLPARSize = 0x100000 // 1 MiB
)

// Hypervisor call opcodes. The space is partitioned by leading hex digit:
// 0x1xxx version/partition lifecycle, 0x2xxx memory, 0x3xxx security.
const (
	HVGetVersion       = 0x1000
	HVCreateLPAR       = 0x1001
	HVDestroyLPAR      = 0x1002
	HVMemoryMap        = 0x2000
	HVMemoryUnmap      = 0x2001
	HVMemoryProtect    = 0x2002
	HVSecurityCheck    = 0x3000
	HVGrantPrivileges  = 0x3001
	HVRevokePrivileges = 0x3002
)

// LPAR privilege bits.
const (
	PrivBasic     = 0x00000001 // Basic LPAR operations
	PrivMemory    = 0x00000002 // Memory management
	PrivIO        = 0x00000004 // I/O operations
	PrivInterrupt = 0x00000008 // Interrupt handling
	PrivSyscall   = 0x00000010 // System calls
	PrivDebug     = 0x00000020 // Debug operations
	PrivAdmin     = 0x80000000 // Administrative privileges
)

// Memory protection flags.
const (
	MemRead     = 0x01
	MemWrite    = 0x02
	MemExecute  = 0x04
	MemCached   = 0x08
	MemCoherent = 0x10
)

// HVErr is the distinguished error value written to the result slot when
// a call fails. The slot is always written, even on failure.
const HVErr = ^uint64(0)

// LPAR is one logical partition: a privilege and memory scoped guest
// execution domain.
type LPAR struct {
	ID         uint32
	BaseAddr   uint64
	Size       uint64
	Privileges uint64
	Active     bool
}

// Hypervisor is the privilege authority. State machine:
// Uninitialized -> Initialized -> Shutdown.
type Hypervisor struct {
	log      *slog.Logger
	memory   *MemoryManager
	security *SecurityManager

	mu          sync.RWMutex
	initialized bool
	lpars       map[uint32]*LPAR
	nextLPARID  uint32
}

func New() *Hypervisor {
	return &Hypervisor{
		log:      logger.Component("Hypervisor"),
		memory:   NewMemoryManager(),
		security: NewSecurityManager(),
	}
}

// Initialize brings up both sub-managers and creates the default partition
// for the primary guest environment. Failure of either sub-manager leaves
// the hypervisor uninitialized.
func (hv *Hypervisor) Initialize() error {
	hv.mu.Lock()
	defer hv.mu.Unlock()

	if hv.initialized {
		hv.log.Warn("Hypervisor already initialized")
		return nil
	}

	hv.log.Info("Initializing hypervisor", "version", fmt.Sprintf("%#08x", Version))

	if err := hv.memory.Initialize(BaseAddr, PoolSize); err != nil {
		hv.log.Error("Failed to initialize memory manager: " + err.Error())
		return err
	}
	if err := hv.security.Initialize(); err != nil {
		hv.log.Error("Failed to initialize security manager: " + err.Error())
		hv.memory.Shutdown()
		return err
	}

	hv.lpars = map[uint32]*LPAR{}
	hv.nextLPARID = 1
	hv.initialized = true

	// Default partition for the primary guest operating environment.
	if id := hv.createLPAR(defaultLPARSize, PrivBasic); id == 0 {
		hv.log.Error("Failed to create default LPAR")
	} else {
		hv.log.Info("Created default LPAR", "id", id)
	}

	hv.log.Info("Hypervisor initialization complete")
	return nil
}

// Shutdown destroys every partition, releasing its memory, then tears down
// the sub-managers. Idempotent.
func (hv *Hypervisor) Shutdown() {
	hv.mu.Lock()
	defer hv.mu.Unlock()

	if !hv.initialized {
		return
	}
	hv.log.Info("Shutting down hypervisor")

	for id := range hv.lpars {
		hv.destroyLPAR(id)
	}
	hv.lpars = nil

	hv.security.Shutdown()
	hv.memory.Shutdown()
	hv.initialized = false
	hv.log.Info("Hypervisor shutdown complete")
}

func (hv *Hypervisor) Initialized() bool {
	hv.mu.RLock()
	defer hv.mu.RUnlock()
	return hv.initialized
}

func (hv *Hypervisor) GetVersion() uint32 { return Version }

// CreateLPAR allocates a region of the requested size and records a new
// partition under a fresh monotonically increasing identity. The zero
// identity is the failure sentinel; no partial mutation happens on that
// path.
func (hv *Hypervisor) CreateLPAR(size uint64, privileges uint64) uint32 {
	hv.mu.Lock()
	defer hv.mu.Unlock()
	return hv.createLPAR(size, privileges)
}

func (hv *Hypervisor) createLPAR(size uint64, privileges uint64) uint32 {
	if !hv.initialized {
		hv.log.Error("Hypervisor not initialized")
		return 0
	}

	base := hv.memory.AllocateLPARMemory(size)
	if base == 0 {
		hv.log.Error("Failed to allocate LPAR memory", "size", fmt.Sprintf("%#x", size))
		return 0
	}

	id := hv.nextLPARID
	hv.nextLPARID++
	hv.lpars[id] = &LPAR{
		ID:         id,
		BaseAddr:   base,
		Size:       size,
		Privileges: privileges,
		Active:     true,
	}
	hv.security.Register(id, privileges)

	hv.log.Info("Created LPAR", "id", id,
		"base", fmt.Sprintf("%#x", base), "size", fmt.Sprintf("%#x", size),
		"priv", fmt.Sprintf("%#x", privileges))
	return id
}

// DestroyLPAR frees the partition's region and removes the entry. Unknown
// identities fail; identities are never reused.
func (hv *Hypervisor) DestroyLPAR(id uint32) error {
	hv.mu.Lock()
	defer hv.mu.Unlock()
	return hv.destroyLPAR(id)
}

func (hv *Hypervisor) destroyLPAR(id uint32) error {
	lpar, ok := hv.lpars[id]
	if !ok {
		return fmt.Errorf("LPAR %d not found", id)
	}
	hv.memory.FreeLPARMemory(lpar.BaseAddr, lpar.Size)
	hv.security.Remove(id)
	delete(hv.lpars, id)
	hv.log.Info("Destroyed LPAR", "id", id)
	return nil
}

// LPAR returns a copy of the partition entry, or false for an unknown
// identity.
func (hv *Hypervisor) LPAR(id uint32) (LPAR, bool) {
	hv.mu.RLock()
	defer hv.mu.RUnlock()
	lpar, ok := hv.lpars[id]
	if !ok {
		return LPAR{}, false
	}
	return *lpar, true
}

// LPARs lists the live partition entries.
func (hv *Hypervisor) LPARs() []LPAR {
	hv.mu.RLock()
	defer hv.mu.RUnlock()
	list := make([]LPAR, 0, len(hv.lpars))
	for _, lpar := range hv.lpars {
		list = append(list, *lpar)
	}
	return list
}

// HandleHVCall is the single privileged entry point. It dispatches on the
// opcode and always writes the result slot, HVErr on any failure.
func (hv *Hypervisor) HandleHVCall(opcode uint32, args []uint64, result *uint64) error {
	*result = HVErr

	if !hv.Initialized() {
		return fmt.Errorf("hypervisor not initialized")
	}

	hv.log.Debug("HV call", "opcode", fmt.Sprintf("%#x", opcode))

	switch opcode {
	case HVGetVersion:
		*result = Version
		return nil

	case HVCreateLPAR:
		if len(args) < 2 {
			return fmt.Errorf("create LPAR: missing arguments")
		}
		id := hv.CreateLPAR(args[0], args[1])
		*result = uint64(id)
		if id == 0 {
			return fmt.Errorf("create LPAR failed")
		}
		return nil

	case HVDestroyLPAR:
		if len(args) < 1 {
			return fmt.Errorf("destroy LPAR: missing arguments")
		}
		if err := hv.DestroyLPAR(uint32(args[0])); err != nil {
			return err
		}
		*result = 0
		return nil

	case HVMemoryMap:
		return hv.handleMemoryMap(args, result)

	case HVMemoryUnmap:
		return hv.handleMemoryUnmap(args, result)

	case HVMemoryProtect:
		return hv.handleMemoryProtect(args, result)

	case HVSecurityCheck:
		if len(args) < 2 {
			return fmt.Errorf("security check: missing arguments")
		}
		id := uint32(args[0])
		if _, ok := hv.LPAR(id); !ok {
			return fmt.Errorf("invalid LPAR id for security check: %d", id)
		}
		if hv.security.CheckPrivileges(id, args[1]) {
			*result = 1
		} else {
			*result = 0
		}
		return nil

	case HVGrantPrivileges:
		if len(args) < 2 {
			return fmt.Errorf("grant privileges: missing arguments")
		}
		if err := hv.adjustPrivileges(uint32(args[0]), args[1], true); err != nil {
			return err
		}
		*result = 0
		return nil

	case HVRevokePrivileges:
		if len(args) < 2 {
			return fmt.Errorf("revoke privileges: missing arguments")
		}
		if err := hv.adjustPrivileges(uint32(args[0]), args[1], false); err != nil {
			return err
		}
		*result = 0
		return nil

	default:
		hv.log.Warn("Unknown HV call", "opcode", fmt.Sprintf("%#x", opcode))
		return fmt.Errorf("unknown hypervisor call: %#x", opcode)
	}
}

// Mapping mutations resolve the partition first, then consult the security
// manager. A mapping that skipped the privilege check would be a
// correctness bug, so the check sits in front of every path into the
// memory manager.
func (hv *Hypervisor) handleMemoryMap(args []uint64, result *uint64) error {
	if len(args) < 5 {
		return fmt.Errorf("memory map: missing arguments")
	}
	id := uint32(args[0])
	vaddr, paddr, size := args[1], args[2], args[3]
	flags := uint32(args[4])

	if _, ok := hv.LPAR(id); !ok {
		return fmt.Errorf("invalid LPAR id for memory map: %d", id)
	}
	if !hv.security.ValidateMemoryAccess(id, flags) {
		return fmt.Errorf("LPAR %d lacks privilege for memory map", id)
	}
	if err := hv.memory.MapMemory(id, vaddr, paddr, size, flags); err != nil {
		return err
	}
	*result = 0
	hv.log.Debug("Mapped memory", "lpar", id,
		"vaddr", fmt.Sprintf("%#x", vaddr), "paddr", fmt.Sprintf("%#x", paddr),
		"size", fmt.Sprintf("%#x", size))
	return nil
}

func (hv *Hypervisor) handleMemoryUnmap(args []uint64, result *uint64) error {
	if len(args) < 3 {
		return fmt.Errorf("memory unmap: missing arguments")
	}
	id := uint32(args[0])
	vaddr, size := args[1], args[2]

	if _, ok := hv.LPAR(id); !ok {
		return fmt.Errorf("invalid LPAR id for memory unmap: %d", id)
	}
	if !hv.security.CheckPrivileges(id, PrivBasic) {
		return fmt.Errorf("LPAR %d lacks privilege for memory unmap", id)
	}
	if err := hv.memory.UnmapMemory(id, vaddr, size); err != nil {
		return err
	}
	*result = 0
	hv.log.Debug("Unmapped memory", "lpar", id,
		"vaddr", fmt.Sprintf("%#x", vaddr), "size", fmt.Sprintf("%#x", size))
	return nil
}

func (hv *Hypervisor) handleMemoryProtect(args []uint64, result *uint64) error {
	if len(args) < 4 {
		return fmt.Errorf("memory protect: missing arguments")
	}
	id := uint32(args[0])
	vaddr, size := args[1], args[2]
	protection := uint32(args[3])

	if _, ok := hv.LPAR(id); !ok {
		return fmt.Errorf("invalid LPAR id for memory protect: %d", id)
	}
	if !hv.security.CheckPrivileges(id, PrivBasic) {
		return fmt.Errorf("LPAR %d lacks privilege for memory protect", id)
	}
	if err := hv.memory.ProtectMemory(id, vaddr, size, protection); err != nil {
		return err
	}
	*result = 0
	return nil
}

func (hv *Hypervisor) adjustPrivileges(id uint32, privileges uint64, grant bool) error {
	lpar, ok := hv.LPAR(id)
	if !ok {
		return fmt.Errorf("invalid LPAR id for privilege change: %d", id)
	}

	var err error
	if grant {
		err = hv.security.GrantPrivileges(id, privileges)
	} else {
		err = hv.security.RevokePrivileges(id, privileges)
	}
	if err != nil {
		return err
	}

	hv.mu.Lock()
	if entry, live := hv.lpars[lpar.ID]; live {
		if grant {
			entry.Privileges |= privileges
		} else {
			entry.Privileges &^= privileges
		}
	}
	hv.mu.Unlock()
	return nil
}

// FreeMemory reports the unallocated total of the privileged region.
func (hv *Hypervisor) FreeMemory() uint64 {
	return hv.memory.FreeTotal()
}
