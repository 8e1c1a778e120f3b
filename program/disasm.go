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

import (
	"fmt"
	"strings"
)

// Disassemble renders p's full code stream as human-readable assembly,
// one instruction per line, grouped under each function's name, in the
// style of the teacher corpus's own VM disassembler.
func Disassemble(p *CompiledProgram) string {
	var sb strings.Builder
	for _, fn := range p.Functions {
		fmt.Fprintf(&sb, "func %s(params=%d locals=%d rets=%d):\n", fn.Name, fn.NumParams, fn.NumLocals, fn.NumRets)
		for pc := fn.Entry; pc < fn.End; pc += InstructionWidth {
			insn, err := Decode(p.Code, pc)
			if err != nil {
				fmt.Fprintf(&sb, "  %04d  <decode error: %v>\n", pc, err)
				continue
			}
			fmt.Fprintf(&sb, "  %04d  %s\n", pc, formatInstruction(insn))
		}
	}
	return sb.String()
}

func formatInstruction(insn Instruction) string {
	if insn.Op.IsWideImmediate() {
		return fmt.Sprintf("%-14s r%d, #%d", insn.Op, insn.A, insn.Imm)
	}
	return fmt.Sprintf("%-14s r%d, r%d, r%d", insn.Op, insn.A, insn.B, insn.C)
}
