/* SPU thread groups and the system wide SPU manager.

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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gscx/cell/emu/memory"
	"github.com/gscx/cell/util/logger"
)

// DefaultSPUs is how many coprocessors guest software can use.
const DefaultSPUs = 6

// ThreadGroup aggregates a set of SPU cores scheduled as a unit, which is
// how guest software spreads cooperative work across several SPUs.
type ThreadGroup struct {
	log *slog.Logger
	id  uint32
	mem *memory.Memory

	mu      sync.Mutex
	threads map[uint32]*Core
}

func newThreadGroup(id uint32, mem *memory.Memory) *ThreadGroup {
	return &ThreadGroup{
		log:     logger.Component(fmt.Sprintf("SPUGroup%d", id)),
		id:      id,
		mem:     mem,
		threads: map[uint32]*Core{},
	}
}

func (g *ThreadGroup) ID() uint32 { return g.id }

// CreateThread allocates a core inside the group and installs its program.
func (g *ThreadGroup) CreateThread(spuID uint32, program []byte, entry uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.threads[spuID]; ok {
		return fmt.Errorf("SPU %d already in group %d", spuID, g.id)
	}
	core := NewCore(spuID, g.mem)
	if err := core.LoadProgram(program, entry); err != nil {
		core.Shutdown()
		return err
	}
	g.threads[spuID] = core
	g.log.Info("Created SPU thread", "spu", spuID)
	return nil
}

// DestroyThread stops and releases a member core.
func (g *ThreadGroup) DestroyThread(spuID uint32) error {
	g.mu.Lock()
	core, ok := g.threads[spuID]
	if ok {
		delete(g.threads, spuID)
	}
	g.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown SPU %d in group %d", spuID, g.id)
	}
	core.Shutdown()
	g.log.Info("Destroyed SPU thread", "spu", spuID)
	return nil
}

// Thread returns a member core by SPU identity.
func (g *ThreadGroup) Thread(spuID uint32) *Core {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.threads[spuID]
}

func (g *ThreadGroup) ThreadCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.threads)
}

func (g *ThreadGroup) members() []*Core {
	g.mu.Lock()
	defer g.mu.Unlock()
	cores := make([]*Core, 0, len(g.threads))
	for _, core := range g.threads {
		cores = append(cores, core)
	}
	return cores
}

// StartAll fans out to every member.
func (g *ThreadGroup) StartAll() {
	for _, core := range g.members() {
		core.Start()
	}
	g.log.Info("SPU group started")
}

// StopAll quiesces every member.
func (g *ThreadGroup) StopAll() {
	for _, core := range g.members() {
		core.Stop()
	}
	g.log.Info("SPU group stopped")
}

// WaitAll blocks until every member has halted. Halting is observed at
// instruction boundary granularity, so this polls.
func (g *ThreadGroup) WaitAll() {
	for _, core := range g.members() {
		for core.Running() && !core.Halted() {
			time.Sleep(time.Millisecond)
		}
	}
}

// Shutdown releases every member core.
func (g *ThreadGroup) Shutdown() {
	g.mu.Lock()
	cores := make([]*Core, 0, len(g.threads))
	for _, core := range g.threads {
		cores = append(cores, core)
	}
	g.threads = map[uint32]*Core{}
	g.mu.Unlock()

	for _, core := range cores {
		core.Shutdown()
	}
}

// Manager owns the physical SPU pool and the live thread groups. Group
// identities are assigned once and never reused.
type Manager struct {
	log *slog.Logger
	mem *memory.Memory

	mu          sync.Mutex
	numSPUs     uint32
	allocated   map[uint32]bool
	groups      map[uint32]*ThreadGroup
	nextGroupID uint32
}

func NewManager(mem *memory.Memory, numSPUs uint32) *Manager {
	if numSPUs == 0 {
		numSPUs = DefaultSPUs
	}
	mgr := &Manager{
		log:         logger.Component("SPUManager"),
		mem:         mem,
		numSPUs:     numSPUs,
		allocated:   map[uint32]bool{},
		groups:      map[uint32]*ThreadGroup{},
		nextGroupID: 1,
	}
	mgr.log.Info("SPU manager initialized", "spus", numSPUs)
	return mgr
}

// CreateGroup allocates a fresh thread group and returns its identity.
func (m *Manager) CreateGroup() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextGroupID
	m.nextGroupID++
	m.groups[id] = newThreadGroup(id, m.mem)
	m.log.Info("Created SPU thread group", "group", id)
	return id
}

// DestroyGroup shuts down a group and all of its members.
func (m *Manager) DestroyGroup(id uint32) error {
	m.mu.Lock()
	group, ok := m.groups[id]
	if ok {
		delete(m.groups, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown SPU thread group: %d", id)
	}
	group.Shutdown()
	m.log.Info("Destroyed SPU thread group", "group", id)
	return nil
}

func (m *Manager) Group(id uint32) *ThreadGroup {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groups[id]
}

// AllocateSPU reserves a physical SPU identity from the pool.
func (m *Manager) AllocateSPU() (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := uint32(0); id < m.numSPUs; id++ {
		if !m.allocated[id] {
			m.allocated[id] = true
			return id, nil
		}
	}
	return 0, fmt.Errorf("no SPU available")
}

// DeallocateSPU returns an identity to the pool.
func (m *Manager) DeallocateSPU(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.allocated, id)
}

// AvailableSPUs reports how many identities remain in the pool.
func (m *Manager) AvailableSPUs() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.numSPUs - uint32(len(m.allocated))
}

// Shutdown releases every group.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	groups := make([]*ThreadGroup, 0, len(m.groups))
	for _, group := range m.groups {
		groups = append(groups, group)
	}
	m.groups = map[uint32]*ThreadGroup{}
	m.mu.Unlock()

	for _, group := range groups {
		group.Shutdown()
	}
	m.log.Info("SPU manager shut down")
}
