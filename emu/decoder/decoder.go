package decoder

/*
 * GSCX Cell - Instruction word decoder
 *
 * Copyright 2025, GSCX Authors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

/*
   Both core families use fixed 32 bit instruction words. The decoder is a
   pure field extractor; it never fails. Field combinations that name no
   instruction are carried through faithfully and classified by the execute
   stage.

   PPU (PowerPC style), primary opcode in the top 6 bits:

     D form:
       +--------+------+------+----------------+
       |   op   |  RT  |  RA  |       SI       |
       +--------+------+------+----------------+

     X/XO form (op 31), extended opcode in bits 21-30:
       +--------+------+------+------+----------+-+
       |   op   |  RT  |  RA  |  RB  |    XO    |R|
       +--------+------+------+------+----------+-+

     B form:
       +--------+------+------+--------------+-+-+
       |   op   |  BO  |  BI  |      BD      |A|L|
       +--------+------+------+--------------+-+-+

     I form:
       +--------+--------------------------+-+-+
       |   op   |            LI            |A|L|
       +--------+--------------------------+-+-+

   SPU, opcode in the top 11 bits, register fields packed low:

       +-------------+-------+-------+-------+
       |   opcode    |  RA   |  RT   |  RB   |
       +-------------+-------+-------+-------+
        31         21 20   14 13    7 6     0

   Immediate forms overlay the low 16 (I16) or 14 (I14) bits.
*/

// Instruction is the record handed from fetch to execute. It is immutable
// once decoded and consumed exactly once.
type Instruction struct {
	Raw    uint32 // Undecoded instruction word.
	Opcode uint32 // Primary opcode.
	RT     uint32 // Target register.
	RA     uint32 // Source A register.
	RB     uint32 // Source B register.
	XO     uint32 // Extended opcode selector.
	UImm   uint32 // Unsigned 16 bit immediate.
	Imm    int64  // Sign extended 16 bit immediate.
	SH     uint32 // Shift amount.
	LI     int64  // Sign extended 26 bit branch target.
	BO     uint32 // Branch options field.
	BI     uint32 // Condition register bit selector.
	BD     int64  // Sign extended branch displacement.
	AA     bool   // Absolute address flag.
	LK     bool   // Link flag.
	I14    uint32 // SPU 14 bit address/stop-code field.
}

// DecodePPU extracts the PPU view of an instruction word.
func DecodePPU(word uint32) Instruction {
	inst := Instruction{
		Raw:    word,
		Opcode: (word >> 26) & 0x3f,
		RT:     (word >> 21) & 0x1f,
		RA:     (word >> 16) & 0x1f,
		RB:     (word >> 11) & 0x1f,
		XO:     (word >> 1) & 0x3ff,
		UImm:   word & 0xffff,
		Imm:    int64(int16(word & 0xffff)),
		SH:     (word >> 11) & 0x1f,
		BO:     (word >> 21) & 0x1f,
		BI:     (word >> 16) & 0x1f,
		BD:     int64(int16(word & 0xfffc)),
		AA:     (word & 0x2) != 0,
		LK:     (word & 0x1) != 0,
	}

	li := int64(word & 0x03fffffc)
	if (word & 0x02000000) != 0 {
		li |= ^int64(0x03ffffff)
	}
	inst.LI = li
	return inst
}

// DecodeSPU extracts the SPU view of an instruction word.
func DecodeSPU(word uint32) Instruction {
	return Instruction{
		Raw:    word,
		Opcode: (word >> 21) & 0x7ff,
		RT:     (word >> 7) & 0x7f,
		RA:     (word >> 14) & 0x7f,
		RB:     word & 0x7f,
		UImm:   word & 0xffff,
		Imm:    int64(int16(word & 0xffff)),
		I14:    word & 0x3fff,
	}
}
