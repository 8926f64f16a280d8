/* System façade wiring memory, hypervisor, PPU and SPU managers.

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

package core

import (
	"fmt"
	"log/slog"

	"github.com/gscx/cell/emu/hypervisor"
	"github.com/gscx/cell/emu/memory"
	"github.com/gscx/cell/emu/ppu"
	"github.com/gscx/cell/emu/spu"
	"github.com/gscx/cell/util/logger"
)

// DefaultMemSize is the shared memory image size when none is configured.
const DefaultMemSize = 256 * 1024 * 1024

// Config carries the tunables the configuration file can set.
type Config struct {
	MemSize uint32
	NumSPUs uint32
}

// System bundles the whole emulated machine: one shared memory image, the
// hypervisor, the PPU thread manager and the SPU pool. The console and the
// entry point drive everything through it.
type System struct {
	log *slog.Logger

	mem     *memory.Memory
	hv      *hypervisor.Hypervisor
	ppus    *ppu.Manager
	spus    *spu.Manager
	started bool
}

func New(cfg Config) *System {
	if cfg.MemSize == 0 {
		cfg.MemSize = DefaultMemSize
	}
	mem := memory.New(cfg.MemSize)
	sys := &System{
		log:  logger.Component("System"),
		mem:  mem,
		hv:   hypervisor.New(),
		ppus: ppu.NewManager(mem),
		spus: spu.NewManager(mem, cfg.NumSPUs),
	}
	sys.log.Info("System created",
		"memory", fmt.Sprintf("%dM", cfg.MemSize/(1024*1024)))
	return sys
}

// Start brings up the hypervisor. Cores stay halted until the console (or
// guest software) starts them.
func (s *System) Start() error {
	if s.started {
		return nil
	}
	if err := s.hv.Initialize(); err != nil {
		return err
	}
	s.started = true
	s.log.Info("System started")
	return nil
}

// Stop quiesces every core and tears down the hypervisor. Idempotent.
func (s *System) Stop() {
	if !s.started {
		return
	}
	s.spus.Shutdown()
	s.ppus.Shutdown()
	s.hv.Shutdown()
	s.started = false
	s.log.Info("System stopped")
}

func (s *System) Memory() *memory.Memory             { return s.mem }
func (s *System) Hypervisor() *hypervisor.Hypervisor { return s.hv }
func (s *System) PPUs() *ppu.Manager                 { return s.ppus }
func (s *System) SPUs() *spu.Manager                 { return s.spus }

// StartCPU starts the primary PPU thread's execution loop.
func (s *System) StartCPU() {
	s.ppus.MainThread().Start()
}

// HaltCPU pauses the primary PPU at the next instruction boundary.
func (s *System) HaltCPU() {
	s.ppus.MainThread().Core().Halt()
}

// StopCPU stops the primary PPU and joins its loop.
func (s *System) StopCPU() {
	s.ppus.MainThread().Stop()
}

// Examine reads a 32 bit word from the shared memory image.
func (s *System) Examine(addr uint64) (uint32, error) {
	return s.mem.Read32(addr)
}

// Deposit writes a 32 bit word into the shared memory image.
func (s *System) Deposit(addr uint64, value uint32) error {
	return s.mem.Write32(addr, value)
}

// HVCall forwards a privileged call to the hypervisor dispatch.
func (s *System) HVCall(opcode uint32, args []uint64) (uint64, error) {
	var result uint64
	err := s.hv.HandleHVCall(opcode, args, &result)
	return result, err
}
