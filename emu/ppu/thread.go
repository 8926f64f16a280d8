/* PPU thread and thread manager.

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

package ppu

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/gscx/cell/emu/memory"
	"github.com/gscx/cell/util/logger"
)

const mainThreadID = 1

// Thread wraps a core with an identity and an entry/stack context. Guest
// software creates secondary threads through the manager; the primary
// thread always exists.
type Thread struct {
	log  *slog.Logger
	id   uint32
	core *Core

	entry     uint64
	stackAddr uint64
	stackSize uint64
}

func newThread(id uint32, mem *memory.Memory) *Thread {
	name := fmt.Sprintf("PPU%d", id)
	return &Thread{
		log:  logger.Component(name),
		id:   id,
		core: NewCore(name, mem),
	}
}

// Create installs the entry point and stack context on the thread's core.
// The stack pointer convention puts r1 at the top of the stack region.
func (t *Thread) Create(entry, stackAddr, stackSize uint64) error {
	if err := t.core.LoadProgram(nil, entry); err != nil {
		return err
	}
	t.entry = entry
	t.stackAddr = stackAddr
	t.stackSize = stackSize
	t.core.SetGPR(1, stackAddr+stackSize)
	t.log.Info("PPU thread created",
		"entry", fmt.Sprintf("%#x", entry), "stack", fmt.Sprintf("%#x", stackAddr))
	return nil
}

func (t *Thread) ID() uint32    { return t.id }
func (t *Thread) Core() *Core   { return t.core }
func (t *Thread) Start()        { t.core.Start() }
func (t *Thread) Stop()         { t.core.Stop() }
func (t *Thread) Running() bool { return t.core.Running() }

// Manager owns the mandatory primary thread and a registry of secondary
// threads keyed by a manager assigned identity. Identities are never
// reused within a manager's lifetime.
type Manager struct {
	log *slog.Logger
	mem *memory.Memory

	mu         sync.Mutex
	mainThread *Thread
	threads    map[uint32]*Thread
	nextID     uint32
}

func NewManager(mem *memory.Memory) *Manager {
	mgr := &Manager{
		log:        logger.Component("PPUManager"),
		mem:        mem,
		mainThread: newThread(mainThreadID, mem),
		threads:    map[uint32]*Thread{},
		nextID:     mainThreadID + 1,
	}
	mgr.log.Info("PPU manager initialized")
	return mgr
}

// CreateThread allocates a new core, installs its context and returns the
// assigned thread identity.
func (m *Manager) CreateThread(entry, stackAddr, stackSize uint64) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	thread := newThread(id, m.mem)
	if err := thread.Create(entry, stackAddr, stackSize); err != nil {
		return 0, err
	}
	m.nextID++
	m.threads[id] = thread
	m.log.Info("Created PPU thread", "id", id)
	return id, nil
}

// DestroyThread stops the thread's core and removes it from the registry.
// The primary thread cannot be destroyed.
func (m *Manager) DestroyThread(id uint32) error {
	m.mu.Lock()
	thread, ok := m.threads[id]
	if ok {
		delete(m.threads, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown PPU thread: %d", id)
	}
	thread.Stop()
	m.log.Info("Destroyed PPU thread", "id", id)
	return nil
}

// Thread looks up a thread by identity; the primary thread answers to its
// own well known id.
func (m *Manager) Thread(id uint32) *Thread {
	if id == mainThreadID {
		return m.mainThread
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threads[id]
}

func (m *Manager) MainThread() *Thread {
	return m.mainThread
}

// ThreadCount includes the primary thread.
func (m *Manager) ThreadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.threads) + 1
}

// ActiveThreads returns the identities of all threads, primary first.
func (m *Manager) ActiveThreads() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []uint32{mainThreadID}
	rest := make([]uint32, 0, len(m.threads))
	for id := range m.threads {
		rest = append(rest, id)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	return append(ids, rest...)
}

// Shutdown stops every thread including the primary one.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	threads := make([]*Thread, 0, len(m.threads))
	for _, t := range m.threads {
		threads = append(threads, t)
	}
	m.mu.Unlock()

	for _, t := range threads {
		t.Stop()
	}
	m.mainThread.Stop()
	m.log.Info("PPU manager shut down")
}
