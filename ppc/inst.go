package ppc

// Inst is one big-endian Gekko instruction word.
type Inst uint32

func (i Inst) OPCD() uint32 { return uint32(i) >> 26 }
func (i Inst) RD() int { return int(uint32(i)>>21) & 31 }
func (i Inst) RS() int { return i.RD() }
func (i Inst) RA() int { return int(uint32(i)>>16) & 31 }
func (i Inst) RB() int { return int(uint32(i)>>11) & 31 }
func (i Inst) RC() int { return int(uint32(i)>>6) & 31 }
func (i Inst) SIMM() int32 { return int32(int16(uint16(i))) }
func (i Inst) UIMM() uint32 { return uint32(i) & 0xFFFF }
func (i Inst) SUBOP10() uint32 { return uint32(i) >> 1 & 0x3FF }
func (i Inst) SUBOP5() uint32 { return uint32(i) >> 1 & 0x1F }
func (i Inst) Rc() bool { return uint32(i)&1 != 0 }
func (i Inst) LK() bool { return uint32(i)&1 != 0 }
func (i Inst) AA() bool { return uint32(i)&2 != 0 }
func (i Inst) OE() bool { return uint32(i)&(1<<10) != 0 }
func (i Inst) BO() uint32 { return uint32(i) >> 21 & 31 }
func (i Inst) BI() int { return int(uint32(i)>>16) & 31 }
func (i Inst) CRFD() int { return int(uint32(i)>>23) & 7 }
func (i Inst) SH() uint32 { return uint32(i) >> 11 & 31 }
func (i Inst) MB() uint32 { return uint32(i) >> 6 & 31 }
func (i Inst) ME() uint32 { return uint32(i) >> 1 & 31 }

// LI is the sign-extended byte displacement of b/bl.
func (i Inst) LI() int32 { return int32(uint32(i)<<6) >> 6 &^ 3 }

// BD is the sign-extended byte displacement of bc.
func (i Inst) BD() int32 { return int32(int16(uint16(i) &^ 3)) }

// SPR decodes the split spr field of mfspr/mtspr.
func (i Inst) SPR() uint32 {
	f := uint32(i) >> 11 & 0x3FF
	return (f&0x1F)<<5 | f>>5
}

// Paired-single quantized load/store fields.
func (i Inst) PsqW() bool { return uint32(i)&(1<<15) != 0 }
func (i Inst) PsqI() int { return int(uint32(i)>>12) & 7 }
func (i Inst) PsqD() int32 { return int32(uint32(i)<<20) >> 20 }
func (i Inst) PsqXW() bool { return uint32(i)&(1<<10) != 0 }
func (i Inst) PsqXI() int { return int(uint32(i)>>7) & 7 }

// BO field bits.
const (
	BODontDecrement  = 0x04
	BODontCheckCond  = 0x10
	BOBranchIfTrue   = 0x08
	BOBranchIfCTR0   = 0x02
	BOAlways         = BODontDecrement | BODontCheckCond
)

// BranchTarget resolves the destination of b/bl at address pc.
func (i Inst) BranchTarget(pc uint32) uint32 {
	if i.AA() {
		return uint32(i.LI())
	}
	return pc + uint32(i.LI())
}

// CondBranchTarget resolves the destination of bc at address pc.
func (i Inst) CondBranchTarget(pc uint32) uint32 {
	if i.AA() {
		return uint32(i.BD())
	}
	return pc + uint32(i.BD())
}

// Encoders used by tests and the CLI assembler helpers.

func EncodeD(opcd uint32, rd, ra int, imm uint16) Inst {
	return Inst(opcd<<26 | uint32(rd)<<21 | uint32(ra)<<16 | uint32(imm))
}

func EncodeX(opcd uint32, rd, ra, rb int, sub uint32, rc bool) Inst {
	v := opcd<<26 | uint32(rd)<<21 | uint32(ra)<<16 | uint32(rb)<<11 | sub<<1
	if rc {
		v |= 1
	}
	return Inst(v)
}

func EncodeB(offset int32, aa, lk bool) Inst {
	v := uint32(18)<<26 | uint32(offset)&0x03FFFFFC
	if aa {
		v |= 2
	}
	if lk {
		v |= 1
	}
	return Inst(v)
}

func EncodeBC(bo uint32, bi int, offset int32, lk bool) Inst {
	v := uint32(16)<<26 | bo<<21 | uint32(bi)<<16 | uint32(offset)&0xFFFC
	if lk {
		v |= 1
	}
	return Inst(v)
}

func EncodeSPR(opcd31sub uint32, rd int, spr uint32) Inst {
	f := (spr&0x1F)<<5 | spr>>5
	return Inst(31<<26 | uint32(rd)<<21 | f<<11 | opcd31sub<<1)
}

func EncodePsq(opcd uint32, frd, ra int, w bool, i int, d int32) Inst {
	v := opcd<<26 | uint32(frd)<<21 | uint32(ra)<<16 | uint32(i)<<12 | uint32(d)&0xFFF
	if w {
		v |= 1 << 15
	}
	return Inst(v)
}
