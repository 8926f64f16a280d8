/* SPU core for the GSCX Cell emulator.

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
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gscx/cell/emu/decoder"
	"github.com/gscx/cell/emu/memory"
	"github.com/gscx/cell/emu/vector"
	"github.com/gscx/cell/util/logger"
)

/*
   Each SPU is an independent SIMD coprocessor with a private 256 KiB Local
   Store holding both code and data, and 128 128-bit registers. The program
   counter is an offset into the Local Store; nothing a SPU executes can
   reach the shared address space except through DMA.

   Every arithmetic instruction is lane-wise over the element size of the
   operation; there is no scalar fallback. Addresses used by the quadword
   memory instructions are 16 byte aligned and land entirely inside the
   Local Store or the instruction has no effect.
*/

const (
	// LocalStoreSize is the private memory per core.
	LocalStoreSize = 256 * 1024

	// NumRegisters in the SPU register file.
	NumRegisters = 128

	// pcMask keeps the program counter 4 byte aligned inside the Local
	// Store after a branch.
	pcMask = LocalStoreSize - 4
)

// SPU opcodes (top 11 bits of the instruction word).
const (
	opSTOP  = 0x000 // Stop and signal
	opLNOP  = 0x001 // No operation
	opIL    = 0x040 // Immediate load word
	opILH   = 0x041 // Immediate load halfword
	opILHU  = 0x042 // Immediate load halfword upper
	opA     = 0x080 // Add word
	opAH    = 0x081 // Add halfword
	opSF    = 0x088 // Subtract from word
	opAND   = 0x0c0 // AND
	opOR    = 0x0c1 // OR
	opXOR   = 0x0c2 // XOR
	opLQA   = 0x100 // Load quadword absolute
	opLQX   = 0x101 // Load quadword indexed
	opSTQA  = 0x104 // Store quadword absolute
	opSTQX  = 0x105 // Store quadword indexed
	opBR    = 0x180 // Branch relative
	opBRA   = 0x181 // Branch absolute
	opBRZ   = 0x182 // Branch if zero
	opBRNZ  = 0x183 // Branch if not zero
	opMFSPR = 0x200 // Move from special register
	opMTSPR = 0x201 // Move to special register
)

// Special register numbers.
const (
	sprID = 0 // Core identity
)

// Core is one SPU execution context.
type Core struct {
	log *slog.Logger
	id  uint32

	ls   []byte
	regs [NumRegisters]vector.Register
	pc   uint32

	running  atomic.Bool
	halted   atomic.Bool
	stopCode uint32
	wg       sync.WaitGroup

	dma *dmaEngine
}

// NewCore creates an SPU core with a zeroed Local Store and register file.
// The shared memory image is only reachable through the DMA engine.
func NewCore(id uint32, mem *memory.Memory) *Core {
	name := fmt.Sprintf("SPU%d", id)
	core := &Core{
		log: logger.Component(name),
		id:  id,
		ls:  make([]byte, LocalStoreSize),
	}
	core.dma = newDMAEngine(core.log, core.ls, mem)
	core.log.Info("SPU core initialized")
	return core
}

func (c *Core) ID() uint32 { return c.id }

// StopCode returns the operand of the last stop instruction, for host
// inspection.
func (c *Core) StopCode() uint32 { return c.stopCode }

// LocalStore exposes the private memory for loaders and debuggers.
func (c *Core) LocalStore() []byte { return c.ls }

func (c *Core) Register(reg uint32) vector.Register {
	return c.regs[reg&0x7f]
}

func (c *Core) SetRegister(reg uint32, v vector.Register) {
	c.regs[reg&0x7f] = v
}

func (c *Core) PC() uint32     { return c.pc }
func (c *Core) SetPC(v uint32) { c.pc = v & pcMask }

// LoadProgram copies the image into the Local Store at offset zero and
// points the program counter at the entry offset. Nothing is mutated when
// the image or entry do not fit.
func (c *Core) LoadProgram(image []byte, entry uint32) error {
	if len(image) > LocalStoreSize {
		err := fmt.Errorf("program size %d exceeds local store size %d", len(image), LocalStoreSize)
		c.log.Error(err.Error())
		return err
	}
	if entry >= LocalStoreSize {
		err := fmt.Errorf("entry point %#x outside local store", entry)
		c.log.Error(err.Error())
		return err
	}
	copy(c.ls, image)
	c.pc = entry
	c.log.Info("Loaded SPU program", "size", len(image), "entry", fmt.Sprintf("%#x", entry))
	return nil
}

// Start begins (or resumes) the fetch-decode-execute loop.
func (c *Core) Start() {
	if c.running.Load() {
		if c.halted.Load() {
			c.halted.Store(false)
			c.log.Info("SPU resumed")
			return
		}
		c.log.Warn("SPU already running")
		return
	}
	c.running.Store(true)
	c.halted.Store(false)
	c.wg.Add(1)
	go c.run()
	c.log.Info("SPU started execution")
}

// Halt requests the loop to pause at the next instruction boundary.
func (c *Core) Halt() {
	c.halted.Store(true)
	c.log.Info("SPU halted")
}

// Stop quiesces the execution loop and joins it.
func (c *Core) Stop() {
	if !c.running.Load() {
		return
	}
	c.running.Store(false)
	c.wg.Wait()
	c.log.Info("SPU stopped execution")
}

// Shutdown stops the core and releases the DMA engine.
func (c *Core) Shutdown() {
	c.Stop()
	c.dma.close()
}

func (c *Core) Running() bool { return c.running.Load() }
func (c *Core) Halted() bool  { return c.halted.Load() }

func (c *Core) run() {
	defer c.wg.Done()
	c.log.Info("SPU execution loop started", "pc", fmt.Sprintf("%#x", c.pc))
	for c.running.Load() {
		if c.halted.Load() {
			time.Sleep(time.Millisecond)
			continue
		}
		if err := c.Step(); err != nil {
			c.log.Error("SPU execution error: " + err.Error())
			c.halted.Store(true)
		}
	}
	c.log.Info("SPU execution loop ended")
}

// Step fetches, decodes and executes one instruction. A fetch within 3
// bytes of the end of the Local Store is the one fatal condition: the core
// halts rather than read undefined memory.
func (c *Core) Step() error {
	if c.pc >= LocalStoreSize-3 {
		return fmt.Errorf("instruction fetch at %#x outside local store", c.pc)
	}
	word := binary.BigEndian.Uint32(c.ls[c.pc:])
	c.pc += 4
	c.execute(decoder.DecodeSPU(word))
	return nil
}

func (c *Core) execute(inst decoder.Instruction) {
	switch inst.Opcode {
	case opSTOP:
		c.stopCode = inst.I14
		c.halted.Store(true)
		c.log.Info("SPU stop", "code", fmt.Sprintf("%#x", c.stopCode))

	case opLNOP:

	case opIL:
		// Sign extended immediate broadcast across all word lanes.
		value := uint32(int32(int16(inst.UImm)))
		for i := 0; i < vector.WordLanes; i++ {
			c.regs[inst.RT].SetWord(i, value)
		}

	case opILH:
		// Immediate replicated across all halfword lanes.
		for i := 0; i < vector.HalfwordLanes; i++ {
			c.regs[inst.RT].SetHalfword(i, uint16(inst.UImm))
		}

	case opILHU:
		// Immediate shifted into the upper half of each word lane.
		for i := 0; i < vector.WordLanes; i++ {
			c.regs[inst.RT].SetWord(i, uint32(inst.UImm)<<16)
		}

	case opA:
		for i := 0; i < vector.WordLanes; i++ {
			c.regs[inst.RT].SetWord(i, c.regs[inst.RA].Word(i)+c.regs[inst.RB].Word(i))
		}

	case opAH:
		for i := 0; i < vector.HalfwordLanes; i++ {
			c.regs[inst.RT].SetHalfword(i, c.regs[inst.RA].Halfword(i)+c.regs[inst.RB].Halfword(i))
		}

	case opSF:
		for i := 0; i < vector.WordLanes; i++ {
			c.regs[inst.RT].SetWord(i, c.regs[inst.RB].Word(i)-c.regs[inst.RA].Word(i))
		}

	case opAND:
		for i := 0; i < vector.WordLanes; i++ {
			c.regs[inst.RT].SetWord(i, c.regs[inst.RA].Word(i)&c.regs[inst.RB].Word(i))
		}

	case opOR:
		for i := 0; i < vector.WordLanes; i++ {
			c.regs[inst.RT].SetWord(i, c.regs[inst.RA].Word(i)|c.regs[inst.RB].Word(i))
		}

	case opXOR:
		for i := 0; i < vector.WordLanes; i++ {
			c.regs[inst.RT].SetWord(i, c.regs[inst.RA].Word(i)^c.regs[inst.RB].Word(i))
		}

	case opLQA:
		c.loadQuad(inst.RT, inst.I14<<4)
	case opLQX:
		c.loadQuad(inst.RT, c.indexedAddr(inst))
	case opSTQA:
		c.storeQuad(inst.RT, inst.I14<<4)
	case opSTQX:
		c.storeQuad(inst.RT, c.indexedAddr(inst))

	case opBR:
		c.branchRelative(inst.UImm)
	case opBRA:
		c.pc = (inst.I14 << 2) & pcMask
	case opBRZ:
		if c.regs[inst.RT].Word(0) == 0 {
			c.branchRelative(inst.UImm)
		}
	case opBRNZ:
		if c.regs[inst.RT].Word(0) != 0 {
			c.branchRelative(inst.UImm)
		}

	case opMFSPR:
		c.moveFromSPR(inst.RT, inst.RA)
	case opMTSPR:
		c.moveToSPR(inst.RT, inst.RA)

	default:
		c.log.Warn("Unknown SPU instruction",
			"opcode", fmt.Sprintf("%#x", inst.Opcode), "pc", fmt.Sprintf("%#x", c.pc-4))
	}
}

// Indexed quadword address: sum of lane 0 of both registers, forced to a
// 16 byte boundary.
func (c *Core) indexedAddr(inst decoder.Instruction) uint32 {
	return (c.regs[inst.RA].Word(0) + c.regs[inst.RB].Word(0)) &^ 0xf
}

func (c *Core) loadQuad(rt, addr uint32) {
	if addr+16 > LocalStoreSize {
		c.log.Error("Load quadword address outside local store", "addr", fmt.Sprintf("%#x", addr))
		return
	}
	copy(c.regs[rt][:], c.ls[addr:addr+16])
}

func (c *Core) storeQuad(rt, addr uint32) {
	if addr+16 > LocalStoreSize {
		c.log.Error("Store quadword address outside local store", "addr", fmt.Sprintf("%#x", addr))
		return
	}
	copy(c.ls[addr:addr+16], c.regs[rt][:])
}

// Relative branch: word offset from the next instruction, masked back to
// a 4 byte aligned Local Store offset.
func (c *Core) branchRelative(offset uint32) {
	disp := int32(int16(offset)) << 2
	c.pc = uint32(int32(c.pc)+disp) & pcMask
}

func (c *Core) moveFromSPR(rt, spr uint32) {
	switch spr {
	case sprID:
		c.regs[rt].Clear()
		c.regs[rt].SetWord(0, c.id)
	default:
		c.log.Warn("Unknown SPR read", "spr", spr)
	}
}

func (c *Core) moveToSPR(_, spr uint32) {
	c.log.Warn("Unknown SPR write", "spr", spr)
}

// DMAGet starts an asynchronous transfer from the shared address space
// into the Local Store. It validates the ranges, queues a descriptor and
// returns without waiting for completion.
func (c *Core) DMAGet(lsAddr uint32, ea uint64, size uint32, tag uint32) bool {
	return c.dma.submit(dmaDescriptor{lsAddr: lsAddr, ea: ea, size: size, tag: tag, put: false})
}

// DMAPut starts an asynchronous transfer from the Local Store into the
// shared address space.
func (c *Core) DMAPut(lsAddr uint32, ea uint64, size uint32, tag uint32) bool {
	return c.dma.submit(dmaDescriptor{lsAddr: lsAddr, ea: ea, size: size, tag: tag, put: true})
}

// DMAWait blocks the caller until every outstanding descriptor whose tag
// intersects the mask has completed. A mask with no matching transfers
// returns immediately.
func (c *Core) DMAWait(tagMask uint32) {
	c.dma.wait(tagMask)
}
