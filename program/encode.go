// Copyright 2024 The Probevm Authors
// This file is part of Probevm.
//
// Probevm is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Probevm is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Probevm. If not, see <http://www.gnu.org/licenses/>.

package program

import "encoding/binary"

// Instruction is a decoded instruction word.
type Instruction struct {
	Op   Opcode
	A    uint8
	B    uint8
	C    uint8
	Imm  uint16 // meaningful only when Op.IsWideImmediate()
}

// EncodeStd appends a standard three-address instruction word to code.
func EncodeStd(code []byte, op Opcode, a, b, c uint8) []byte {
	return append(code, byte(op), a, b, c)
}

// EncodeWide appends a wide-immediate instruction word to code.
func EncodeWide(code []byte, op Opcode, a uint8, imm uint16) []byte {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], imm)
	return append(code, byte(op), a, buf[0], buf[1])
}

// Decode reads the instruction word at code[pc:pc+4].
func Decode(code []byte, pc uint32) (Instruction, error) {
	if int(pc)+InstructionWidth > len(code) {
		return Instruction{}, &DecodeError{PC: pc, Reason: "instruction word runs past end of code"}
	}
	word := code[pc : pc+InstructionWidth]
	op := Opcode(word[0])
	if op >= opcodeCount {
		return Instruction{}, &DecodeError{PC: pc, Reason: "unknown opcode"}
	}
	if op.IsWideImmediate() {
		return Instruction{Op: op, A: word[1], Imm: binary.LittleEndian.Uint16(word[2:4])}, nil
	}
	return Instruction{Op: op, A: word[1], B: word[2], C: word[3]}, nil
}

// DecodeError reports a malformed instruction word encountered while
// decoding or verifying a code stream.
type DecodeError struct {
	PC     uint32
	Reason string
}

func (e *DecodeError) Error() string {
	return "program: decode error at pc=" + itoa(e.PC) + ": " + e.Reason
}

func itoa(u uint32) string {
	if u == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for u > 0 {
		i--
		buf[i] = byte('0' + u%10)
		u /= 10
	}
	return string(buf[i:])
}
