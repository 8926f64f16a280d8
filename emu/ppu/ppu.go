/* PPU core for the GSCX Cell emulator.

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
	"sync"
	"sync/atomic"
	"time"

	"github.com/gscx/cell/emu/decoder"
	"github.com/gscx/cell/emu/memory"
	"github.com/gscx/cell/emu/vector"
	"github.com/gscx/cell/util/logger"
)

/*
   The PPU is the scalar/vector general purpose core of the complex. It is a
   64 bit machine with 32 general registers, 32 floating point registers and
   32 128-bit vector registers, plus the usual special registers: link,
   count, a 32 bit condition register split into eight 4 bit fields, the
   fixed point exception register and the machine state register.

   Register 0 has no special storage; the D form instructions treat index 0
   as a literal zero operand. That convention lives in the executors, never
   in the register file.

   Each core runs its fetch-decode-execute loop on its own goroutine once
   started. Halting is cooperative: the loop polls the halt flag at every
   instruction boundary and parks without releasing the goroutine, so a
   halted core can resume without thread churn. Stop quiesces the loop and
   joins it.
*/

const (
	numGPRs = 32
	numFPRs = 32
	numVRs  = 32

	// MSR mode bits.
	msr64Bit = 0x8000

	// Condition register field 0 bits (IBM bit order, field 0 is the
	// top nibble).
	crLT = 0x80000000
	crGT = 0x40000000
	crEQ = 0x20000000
	crSO = 0x10000000

	// XER summary overflow.
	xerSO = 0x80000000
)

// Primary opcodes.
const (
	opADDI  = 0x0e // Add immediate
	opADDIS = 0x0f // Add immediate shifted
	opBC    = 0x10 // Branch conditional
	opSC    = 0x11 // System call
	opB     = 0x12 // Branch
	opORI   = 0x18 // OR immediate
	opORIS  = 0x19 // OR immediate shifted
	opXORI  = 0x1a // XOR immediate
	opXORIS = 0x1b // XOR immediate shifted
	opANDI  = 0x1c // AND immediate and record
	opANDIS = 0x1d // AND immediate shifted and record
	opEXT31 = 0x1f // Extended opcode family
	opLWZ   = 0x20 // Load word and zero
	opLBZ   = 0x22 // Load byte and zero
	opSTW   = 0x24 // Store word
	opSTB   = 0x26 // Store byte
	opLHZ   = 0x28 // Load halfword and zero
	opSTH   = 0x2c // Store halfword
)

// Extended opcodes under primary 31.
const (
	xoAND   = 0x01c // AND
	xoSUBF  = 0x028 // Subtract from
	xoNEG   = 0x068 // Negate
	xoMULLW = 0x0eb // Multiply low word
	xoADD   = 0x10a // Add
	xoXOR   = 0x13c // XOR
	xoOR    = 0x1bc // OR
	xoDIVWU = 0x1cb // Divide word unsigned
	xoDIVW  = 0x1eb // Divide word
	xoEXTSH = 0x39a // Extend sign halfword
	xoEXTSB = 0x3ba // Extend sign byte
)

// Guest system call numbers, keyed on r0.
const (
	sysExit  = 1
	sysWrite = 4
)

// Core is one PPU execution context.
type Core struct {
	log *slog.Logger
	mem *memory.Memory

	running atomic.Bool
	halted  atomic.Bool
	wg      sync.WaitGroup

	pc  uint64
	gpr [numGPRs]uint64
	fpr [numFPRs]float64
	vr  [numVRs]vector.Register

	lr  uint64 // Link register
	ctr uint64 // Count register
	cr  uint32 // Condition register
	xer uint32 // Fixed point exception register
	msr uint64 // Machine state register
}

// State is a serializable snapshot of the architectural register file,
// saved and restored at thread switch boundaries.
type State struct {
	PC, LR, CTR uint64
	CR, XER     uint32
	MSR         uint64
	GPR         [numGPRs]uint64
	FPR         [numFPRs]float64
	VR          [numVRs]vector.Register
}

// NewCore creates a PPU core over the shared memory image. All registers
// are cleared and the MSR set for 64 bit addressing mode.
func NewCore(name string, mem *memory.Memory) *Core {
	core := &Core{
		log: logger.Component(name),
		mem: mem,
	}
	core.Reset()
	core.log.Info("PPU core initialized")
	return core
}

// Reset clears all register state. The memory image is untouched.
func (c *Core) Reset() {
	c.pc = 0
	c.lr = 0
	c.ctr = 0
	c.cr = 0
	c.xer = 0
	c.msr = msr64Bit
	for i := range c.gpr {
		c.gpr[i] = 0
	}
	for i := range c.fpr {
		c.fpr[i] = 0
	}
	for i := range c.vr {
		c.vr[i].Clear()
	}
}

// LoadProgram copies the program image into the shared memory at entry and
// points the program counter there. Execution state is unchanged.
func (c *Core) LoadProgram(image []byte, entry uint64) error {
	if len(image) != 0 {
		if err := c.mem.WriteBytes(entry, image); err != nil {
			c.log.Error("PPU program load failed: " + err.Error())
			return err
		}
	}
	c.pc = entry
	c.log.Info("Loaded PPU program", "size", len(image), "entry", fmt.Sprintf("%#x", entry))
	return nil
}

// Start begins (or resumes) the fetch-decode-execute loop.
func (c *Core) Start() {
	if c.running.Load() {
		if c.halted.Load() {
			c.halted.Store(false)
			c.log.Info("PPU resumed")
			return
		}
		c.log.Warn("PPU already running")
		return
	}
	c.running.Store(true)
	c.halted.Store(false)
	c.wg.Add(1)
	go c.run()
	c.log.Info("PPU started execution")
}

// Halt requests the loop to pause at the next instruction boundary. Thread
// resources stay allocated.
func (c *Core) Halt() {
	c.halted.Store(true)
	c.log.Info("PPU halted")
}

// Stop quiesces the execution loop and joins it. After Stop returns the
// core is fully stopped, not merely flagged.
func (c *Core) Stop() {
	if !c.running.Load() {
		return
	}
	c.running.Store(false)
	c.wg.Wait()
	c.log.Info("PPU stopped execution")
}

func (c *Core) Running() bool { return c.running.Load() }
func (c *Core) Halted() bool  { return c.halted.Load() }

func (c *Core) run() {
	defer c.wg.Done()
	c.log.Info("PPU execution loop started", "pc", fmt.Sprintf("%#x", c.pc))
	for c.running.Load() {
		if c.halted.Load() {
			time.Sleep(time.Millisecond)
			continue
		}
		if err := c.Step(); err != nil {
			c.log.Error("PPU execution error: " + err.Error())
			c.halted.Store(true)
		}
	}
	c.log.Info("PPU execution loop ended")
}

// Step fetches, decodes and executes one instruction. The only error path
// is an instruction fetch outside the memory image, which is fatal to the
// core; everything the execute stage dislikes is logged and skipped.
func (c *Core) Step() error {
	word, err := c.mem.Read32(c.pc)
	if err != nil {
		return fmt.Errorf("instruction fetch at %#x: %w", c.pc, err)
	}
	c.pc += 4
	c.execute(decoder.DecodePPU(word))
	return nil
}

func (c *Core) execute(inst decoder.Instruction) {
	switch inst.Opcode {
	case opADDI:
		c.gpr[inst.RT] = c.regOrZero(inst.RA) + uint64(inst.Imm)

	case opADDIS:
		c.gpr[inst.RT] = c.regOrZero(inst.RA) + uint64(inst.Imm<<16)

	case opORI:
		c.gpr[inst.RT] = c.gpr[inst.RA] | uint64(inst.UImm)

	case opORIS:
		c.gpr[inst.RT] = c.gpr[inst.RA] | (uint64(inst.UImm) << 16)

	case opXORI:
		c.gpr[inst.RT] = c.gpr[inst.RA] ^ uint64(inst.UImm)

	case opXORIS:
		c.gpr[inst.RT] = c.gpr[inst.RA] ^ (uint64(inst.UImm) << 16)

	case opANDI:
		c.gpr[inst.RT] = c.gpr[inst.RA] & uint64(inst.UImm)
		c.updateCR0(c.gpr[inst.RT])

	case opANDIS:
		c.gpr[inst.RT] = c.gpr[inst.RA] & (uint64(inst.UImm) << 16)
		c.updateCR0(c.gpr[inst.RT])

	case opEXT31:
		c.executeExt31(inst)

	case opLBZ:
		c.load(inst, 1)
	case opLHZ:
		c.load(inst, 2)
	case opLWZ:
		c.load(inst, 4)
	case opSTB:
		c.store(inst, 1)
	case opSTH:
		c.store(inst, 2)
	case opSTW:
		c.store(inst, 4)

	case opBC:
		c.branchConditional(inst)
	case opB:
		c.branch(inst)
	case opSC:
		c.syscall()

	default:
		c.log.Warn("Unknown PPU instruction",
			"opcode", fmt.Sprintf("%#x", inst.Opcode), "pc", fmt.Sprintf("%#x", c.pc-4))
	}
}

// Extended arithmetic and logical family under primary opcode 31. The low
// bit of the word is the record flag.
func (c *Core) executeExt31(inst decoder.Instruction) {
	ra := c.gpr[inst.RA]
	rb := c.gpr[inst.RB]
	result := uint64(0)
	wrote := true

	switch inst.XO {
	case xoADD:
		result = ra + rb
	case xoSUBF:
		result = rb - ra
	case xoNEG:
		result = -ra
	case xoMULLW:
		result = uint64(uint32(ra) * uint32(rb))
	case xoDIVW:
		if int32(rb) == 0 {
			c.log.Error("Division by zero", "pc", fmt.Sprintf("%#x", c.pc-4))
			return
		}
		result = uint64(int64(int32(ra) / int32(rb)))
	case xoDIVWU:
		if uint32(rb) == 0 {
			c.log.Error("Division by zero", "pc", fmt.Sprintf("%#x", c.pc-4))
			return
		}
		result = uint64(uint32(ra) / uint32(rb))
	case xoAND:
		result = ra & rb
	case xoOR:
		result = ra | rb
	case xoXOR:
		result = ra ^ rb
	case xoEXTSB:
		result = uint64(int64(int8(ra)))
	case xoEXTSH:
		result = uint64(int64(int16(ra)))
	default:
		wrote = false
		c.log.Warn("Unknown extended opcode",
			"xo", fmt.Sprintf("31.%#x", inst.XO), "pc", fmt.Sprintf("%#x", c.pc-4))
	}

	if wrote {
		c.gpr[inst.RT] = result
		if inst.LK { // Record form.
			c.updateCR0(result)
		}
	}
}

// Effective address for the D form: base register or literal zero when the
// index is register 0, plus the sign extended displacement.
func (c *Core) effectiveAddr(inst decoder.Instruction) uint64 {
	return c.regOrZero(inst.RA) + uint64(inst.Imm)
}

func (c *Core) regOrZero(index uint32) uint64 {
	if index == 0 {
		return 0
	}
	return c.gpr[index]
}

func (c *Core) load(inst decoder.Instruction, width int) {
	ea := c.effectiveAddr(inst)
	var value uint64
	var err error
	switch width {
	case 1:
		var v uint8
		v, err = c.mem.Read8(ea)
		value = uint64(v)
	case 2:
		var v uint16
		v, err = c.mem.Read16(ea)
		value = uint64(v)
	case 4:
		var v uint32
		v, err = c.mem.Read32(ea)
		value = uint64(v)
	}
	if err != nil {
		c.log.Error("PPU load rejected: " + err.Error())
		return
	}
	c.gpr[inst.RT] = value
}

func (c *Core) store(inst decoder.Instruction, width int) {
	ea := c.effectiveAddr(inst)
	value := c.gpr[inst.RT]
	var err error
	switch width {
	case 1:
		err = c.mem.Write8(ea, uint8(value))
	case 2:
		err = c.mem.Write16(ea, uint16(value))
	case 4:
		err = c.mem.Write32(ea, uint32(value))
	}
	if err != nil {
		c.log.Error("PPU store rejected: " + err.Error())
	}
}

// Conditional branch. BO bit 4 takes the branch unconditionally, otherwise
// BO bit 3 selects branch-if-true against the CR bit named by BI.
func (c *Core) branchConditional(inst decoder.Instruction) {
	taken := false
	if (inst.BO & 0x10) != 0 {
		taken = true
	} else {
		crBit := (c.cr & (1 << (31 - inst.BI))) != 0
		if (inst.BO & 0x08) != 0 {
			taken = crBit
		} else {
			taken = !crBit
		}
	}
	if !taken {
		return
	}
	if inst.LK {
		c.lr = c.pc
	}
	if inst.AA {
		c.pc = uint64(inst.BD)
	} else {
		c.pc = c.pc - 4 + uint64(inst.BD)
	}
}

func (c *Core) branch(inst decoder.Instruction) {
	if inst.LK {
		c.lr = c.pc
	}
	if inst.AA {
		c.pc = uint64(inst.LI)
	} else {
		c.pc = c.pc - 4 + uint64(inst.LI)
	}
}

// System call, keyed on r0 with arguments in r3 upward. The return value
// lands in r3. sys_exit sets the halt flag, a guest requested exit.
func (c *Core) syscall() {
	switch c.gpr[0] {
	case sysExit:
		c.log.Info("sys_exit", "code", int64(c.gpr[3]))
		c.halted.Store(true)
	case sysWrite:
		c.log.Info("sys_write",
			"fd", int64(c.gpr[3]), "buf", fmt.Sprintf("%#x", c.gpr[4]), "count", int64(c.gpr[5]))
		c.gpr[3] = c.gpr[5]
	default:
		c.log.Warn("Unknown system call", "number", c.gpr[0])
		c.gpr[3] = ^uint64(0)
	}
}

// updateCR0 sets condition register field 0 from a result: LT, EQ or GT,
// plus a mirror of the XER summary overflow bit.
func (c *Core) updateCR0(value uint64) {
	c.cr &= 0x0fffffff
	switch {
	case int64(value) < 0:
		c.cr |= crLT
	case value == 0:
		c.cr |= crEQ
	default:
		c.cr |= crGT
	}
	if (c.xer & xerSO) != 0 {
		c.cr |= crSO
	}
}

// Snapshot captures the full architectural register state.
func (c *Core) Snapshot() State {
	return State{
		PC: c.pc, LR: c.lr, CTR: c.ctr,
		CR: c.cr, XER: c.xer, MSR: c.msr,
		GPR: c.gpr, FPR: c.fpr, VR: c.vr,
	}
}

// Restore installs a previously captured register state.
func (c *Core) Restore(state State) {
	c.pc = state.PC
	c.lr = state.LR
	c.ctr = state.CTR
	c.cr = state.CR
	c.xer = state.XER
	c.msr = state.MSR
	c.gpr = state.GPR
	c.fpr = state.FPR
	c.vr = state.VR
}

// Register accessors, used by debugging layers between instructions.

func (c *Core) GPR(reg uint32) uint64         { return c.gpr[reg&0x1f] }
func (c *Core) SetGPR(reg uint32, v uint64)   { c.gpr[reg&0x1f] = v }
func (c *Core) FPR(reg uint32) float64        { return c.fpr[reg&0x1f] }
func (c *Core) SetFPR(reg uint32, v float64)  { c.fpr[reg&0x1f] = v }
func (c *Core) VR(reg uint32) vector.Register { return c.vr[reg&0x1f] }
func (c *Core) SetVR(reg uint32, v vector.Register) {
	c.vr[reg&0x1f] = v
}

func (c *Core) PC() uint64      { return c.pc }
func (c *Core) SetPC(v uint64)  { c.pc = v }
func (c *Core) LR() uint64      { return c.lr }
func (c *Core) SetLR(v uint64)  { c.lr = v }
func (c *Core) CTR() uint64     { return c.ctr }
func (c *Core) SetCTR(v uint64) { c.ctr = v }
func (c *Core) CR() uint32      { return c.cr }
func (c *Core) SetCR(v uint32)  { c.cr = v }
func (c *Core) XER() uint32     { return c.xer }
func (c *Core) SetXER(v uint32) { c.xer = v }
func (c *Core) MSR() uint64     { return c.msr }
func (c *Core) SetMSR(v uint64) { c.msr = v }
