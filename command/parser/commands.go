/* Monitor command handlers.

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

package parser

import (
	"errors"
	"fmt"
	"sort"

	"github.com/gscx/cell/emu/core"
)

var cmdList = []cmd{
	{Name: "start", Min: 3, Process: start},
	{Name: "stop", Min: 3, Process: stop},
	{Name: "halt", Min: 1, Process: halt},
	{Name: "examine", Min: 2, Process: examine},
	{Name: "deposit", Min: 2, Process: deposit},
	{Name: "registers", Min: 3, Process: registers},
	{Name: "lpar", Min: 1, Process: lpar},
	{Name: "hvcall", Min: 2, Process: hvcall},
	{Name: "quit", Min: 1, Process: quit},
}

// Start the primary PPU.
func start(line *cmdLine, sys *core.System) (bool, error) {
	line.skipSpace()
	if !line.isEOL() {
		return false, errors.New("start takes no arguments")
	}
	sys.StartCPU()
	return false, nil
}

// Stop the primary PPU and join its loop.
func stop(line *cmdLine, sys *core.System) (bool, error) {
	line.skipSpace()
	if !line.isEOL() {
		return false, errors.New("stop takes no arguments")
	}
	sys.StopCPU()
	return false, nil
}

// Pause the primary PPU at the next instruction boundary.
func halt(line *cmdLine, sys *core.System) (bool, error) {
	line.skipSpace()
	if !line.isEOL() {
		return false, errors.New("halt takes no arguments")
	}
	sys.HaltCPU()
	return false, nil
}

// Examine a memory word: examine <hexaddr>.
func examine(line *cmdLine, sys *core.System) (bool, error) {
	addr, err := line.getHex()
	if err != nil {
		return false, errors.New("examine requires a hex address")
	}
	value, err := sys.Examine(addr)
	if err != nil {
		return false, err
	}
	fmt.Printf("%08x: %08x\n", addr, value)
	return false, nil
}

// Deposit a memory word: deposit <hexaddr> <hexvalue>.
func deposit(line *cmdLine, sys *core.System) (bool, error) {
	addr, err := line.getHex()
	if err != nil {
		return false, errors.New("deposit requires a hex address")
	}
	value, err := line.getHex()
	if err != nil {
		return false, errors.New("deposit requires a hex value")
	}
	if err := sys.Deposit(addr, uint32(value)); err != nil {
		return false, err
	}
	return false, nil
}

// Dump the primary PPU register file.
func registers(line *cmdLine, sys *core.System) (bool, error) {
	line.skipSpace()
	if !line.isEOL() {
		return false, errors.New("registers takes no arguments")
	}
	c := sys.PPUs().MainThread().Core()
	fmt.Printf("PC:  %016x  LR:  %016x  CTR: %016x\n", c.PC(), c.LR(), c.CTR())
	fmt.Printf("CR:  %08x  XER: %08x  MSR: %016x\n", c.CR(), c.XER(), c.MSR())
	for reg := uint32(0); reg < 32; reg += 4 {
		fmt.Printf("R%-2d: %016x %016x %016x %016x\n",
			reg, c.GPR(reg), c.GPR(reg+1), c.GPR(reg+2), c.GPR(reg+3))
	}
	return false, nil
}

// List the live logical partitions.
func lpar(line *cmdLine, sys *core.System) (bool, error) {
	line.skipSpace()
	if !line.isEOL() {
		return false, errors.New("lpar takes no arguments")
	}
	lpars := sys.Hypervisor().LPARs()
	sort.Slice(lpars, func(i, j int) bool { return lpars[i].ID < lpars[j].ID })
	for _, p := range lpars {
		fmt.Printf("LPAR %d: base %016x size %08x priv %08x\n",
			p.ID, p.BaseAddr, p.Size, p.Privileges)
	}
	fmt.Printf("free pool: %08x\n", sys.Hypervisor().FreeMemory())
	return false, nil
}

// Issue a raw hypervisor call: hvcall <hexop> [hexarg ...].
func hvcall(line *cmdLine, sys *core.System) (bool, error) {
	opcode, err := line.getHex()
	if err != nil {
		return false, errors.New("hvcall requires a hex opcode")
	}
	var args []uint64
	for {
		line.skipSpace()
		if line.isEOL() {
			break
		}
		arg, err := line.getHex()
		if err != nil {
			return false, errors.New("hvcall arguments must be hex")
		}
		args = append(args, arg)
	}
	result, err := sys.HVCall(uint32(opcode), args)
	if err != nil {
		fmt.Printf("hvcall failed: %v (result %016x)\n", err, result)
		return false, nil
	}
	fmt.Printf("result: %016x\n", result)
	return false, nil
}

// Leave the monitor.
func quit(line *cmdLine, sys *core.System) (bool, error) {
	return true, nil
}
