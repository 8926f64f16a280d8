package vector

/*
 * GSCX Cell - 128 bit register storage
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

import (
	"encoding/binary"
	"math"
)

// Register is one 128 bit register: 16 bytes of storage viewed as byte,
// halfword, word, doubleword or float lanes. The views share the same
// bytes; lane indexing does the reinterpretation, no type punning. Lane 0
// is the most significant (leftmost) element.
type Register [16]byte

const (
	ByteLanes     = 16
	HalfwordLanes = 8
	WordLanes     = 4
	DwordLanes    = 2
)

func (r *Register) Byte(lane int) uint8 {
	return r[lane&0xf]
}

func (r *Register) SetByte(lane int, v uint8) {
	r[lane&0xf] = v
}

func (r *Register) Halfword(lane int) uint16 {
	return binary.BigEndian.Uint16(r[(lane&0x7)*2:])
}

func (r *Register) SetHalfword(lane int, v uint16) {
	binary.BigEndian.PutUint16(r[(lane&0x7)*2:], v)
}

func (r *Register) Word(lane int) uint32 {
	return binary.BigEndian.Uint32(r[(lane&0x3)*4:])
}

func (r *Register) SetWord(lane int, v uint32) {
	binary.BigEndian.PutUint32(r[(lane&0x3)*4:], v)
}

func (r *Register) Dword(lane int) uint64 {
	return binary.BigEndian.Uint64(r[(lane&0x1)*8:])
}

func (r *Register) SetDword(lane int, v uint64) {
	binary.BigEndian.PutUint64(r[(lane&0x1)*8:], v)
}

func (r *Register) Float32(lane int) float32 {
	return math.Float32frombits(r.Word(lane))
}

func (r *Register) SetFloat32(lane int, v float32) {
	r.SetWord(lane, math.Float32bits(v))
}

func (r *Register) Float64(lane int) float64 {
	return math.Float64frombits(r.Dword(lane))
}

func (r *Register) SetFloat64(lane int, v float64) {
	r.SetDword(lane, math.Float64bits(v))
}

func (r *Register) Clear() {
	for i := range r {
		r[i] = 0
	}
}
