package x64

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Disassemble lists code with offsets relative to its start.
func Disassemble(code []byte) string {
	return disassemble(code, 0, false)
}

// DisassembleAt lists code as if loaded at base, resolving branch targets.
func DisassembleAt(code []byte, base uintptr) string {
	return disassemble(code, base, true)
}

func disassemble(code []byte, base uintptr, absolute bool) string {
	var sb strings.Builder
	offset := 0
	for offset < len(code) {
		inst, err := x86asm.Decode(code[offset:], 64)
		if err != nil {
			sb.WriteString(fmt.Sprintf("0x%04x: db 0x%02x\n", uint64(base)+uint64(offset), code[offset]))
			offset++
			continue
		}
		var hexBytes []string
		for i := 0; i < inst.Len; i++ {
			hexBytes = append(hexBytes, fmt.Sprintf("%02x", code[offset+i]))
		}
		text := inst.String()
		addr := uint64(offset)
		if absolute {
			addr += uint64(base)
			text = x86asm.IntelSyntax(inst, addr, nil)
		}
		sb.WriteString(fmt.Sprintf("0x%04x: %-16s %s\n", addr, strings.Join(hexBytes, " "), text))
		offset += inst.Len
	}
	return sb.String()
}

// InstLengths returns the decoded length of each instruction in code, or an
// error at the first undecodable byte.
func InstLengths(code []byte) ([]int, error) {
	var out []int
	for offset := 0; offset < len(code); {
		inst, err := x86asm.Decode(code[offset:], 64)
		if err != nil {
			return out, fmt.Errorf("decode at +%#x: %w", offset, err)
		}
		out = append(out, inst.Len)
		offset += inst.Len
	}
	return out, nil
}
