package interpreter

import (
	"math"

	"github.com/colorfulnotion/gekko/ppc"
)

func (in *Interpreter) dsi(ea uint32, store bool) { in.st.RaiseDSI(ea, store) }

func (in *Interpreter) read(ea uint32, size int) (uint64, bool) {
	v, ok := in.mem.Read(ea, size)
	if !ok {
		in.dsi(ea, false)
	}
	return v, ok
}

func (in *Interpreter) write(ea uint32, size int, v uint64) bool {
	ok := in.mem.Write(ea, size, v)
	if !ok {
		in.dsi(ea, true)
	}
	return ok
}

func signExtend(v uint64, size int) uint32 {
	switch size {
	case 1:
		return uint32(int32(int8(v)))
	case 2:
		return uint32(int32(int16(v)))
	}
	return uint32(v)
}

func init() {
	load := func(id ppc.OpID, update, indexed bool) {
		info := ppc.ByID(id)
		register(id, func(in *Interpreter, i ppc.Inst) {
			ea := in.effectiveAddress(i, update, indexed)
			v, ok := in.read(ea, info.AccessSize)
			if !ok {
				return
			}
			if info.SignExtend {
				in.st.SetGPR(i.RD(), signExtend(v, info.AccessSize))
			} else {
				in.st.SetGPR(i.RD(), uint32(v))
			}
			if update {
				in.st.SetGPR(i.RA(), ea)
			}
		})
	}
	store := func(id ppc.OpID, update, indexed bool) {
		info := ppc.ByID(id)
		register(id, func(in *Interpreter, i ppc.Inst) {
			ea := in.effectiveAddress(i, update, indexed)
			if !in.write(ea, info.AccessSize, uint64(in.st.GPR(i.RS()))) {
				return
			}
			if update {
				in.st.SetGPR(i.RA(), ea)
			}
		})
	}
	load(ppc.OpLwz, false, false)
	load(ppc.OpLwzu, true, false)
	load(ppc.OpLbz, false, false)
	load(ppc.OpLbzu, true, false)
	load(ppc.OpLhz, false, false)
	load(ppc.OpLhzu, true, false)
	load(ppc.OpLha, false, false)
	load(ppc.OpLhau, true, false)
	load(ppc.OpLwzx, false, true)
	load(ppc.OpLbzx, false, true)
	load(ppc.OpLhzx, false, true)
	store(ppc.OpStw, false, false)
	store(ppc.OpStwu, true, false)
	store(ppc.OpStb, false, false)
	store(ppc.OpStbu, true, false)
	store(ppc.OpSth, false, false)
	store(ppc.OpSthu, true, false)
	store(ppc.OpStwx, false, true)
	store(ppc.OpStbx, false, true)
	store(ppc.OpSthx, false, true)

	register(ppc.OpLfs, func(in *Interpreter, i ppc.Inst) {
		v, ok := in.read(in.effectiveAddress(i, false, false), 4)
		if !ok {
			return
		}
		f := float64(math.Float32frombits(uint32(v)))
		in.st.SetPS0(i.RD(), f)
		in.st.SetPS1(i.RD(), f)
	})
	register(ppc.OpLfd, func(in *Interpreter, i ppc.Inst) {
		v, ok := in.read(in.effectiveAddress(i, false, false), 8)
		if !ok {
			return
		}
		in.st.SetPS0(i.RD(), math.Float64frombits(v))
	})
	register(ppc.OpStfs, func(in *Interpreter, i ppc.Inst) {
		bits := math.Float32bits(float32(in.st.PS0(i.RS())))
		in.write(in.effectiveAddress(i, false, false), 4, uint64(bits))
	})
	register(ppc.OpStfd, func(in *Interpreter, i ppc.Inst) {
		in.write(in.effectiveAddress(i, false, false), 8, math.Float64bits(in.st.PS0(i.RS())))
	})
	register(ppc.OpDcbz, func(in *Interpreter, i ppc.Inst) {
		ea := (in.gprOr0(i.RA()) + in.st.GPR(i.RB())) &^ 31
		for off := uint32(0); off < 32; off += 8 {
			if !in.write(ea+off, 8, 0) {
				return
			}
		}
	})

	psqLoad := func(id ppc.OpID, update bool) {
		register(id, func(in *Interpreter, i ppc.Inst) {
			ea := in.gprOr0Update(i, update) + uint32(i.PsqD())
			ps0, ps1, ok := QuantizedLoad(in.mem, ea, in.st.GQR(i.PsqI()), i.PsqW())
			if !ok {
				in.dsi(ea, false)
				return
			}
			in.st.SetPS0(i.RD(), ps0)
			in.st.SetPS1(i.RD(), ps1)
			if update {
				in.st.SetGPR(i.RA(), ea)
			}
		})
	}
	psqStore := func(id ppc.OpID, update bool) {
		register(id, func(in *Interpreter, i ppc.Inst) {
			ea := in.gprOr0Update(i, update) + uint32(i.PsqD())
			ok := QuantizedStore(in.mem, ea, in.st.GQR(i.PsqI()), i.PsqW(), in.st.PS0(i.RS()), in.st.PS1(i.RS()))
			if !ok {
				in.dsi(ea, true)
				return
			}
			if update {
				in.st.SetGPR(i.RA(), ea)
			}
		})
	}
	psqLoad(ppc.OpPsqL, false)
	psqLoad(ppc.OpPsqLu, true)
	psqStore(ppc.OpPsqSt, false)
	psqStore(ppc.OpPsqStu, true)
}

func (in *Interpreter) gprOr0Update(i ppc.Inst, update bool) uint32 {
	if update {
		return in.st.GPR(i.RA())
	}
	return in.gprOr0(i.RA())
}

func (in *Interpreter) effectiveAddress(i ppc.Inst, update, indexed bool) uint32 {
	base := in.gprOr0Update(i, update)
	if indexed {
		return base + in.st.GPR(i.RB())
	}
	return base + uint32(i.SIMM())
}
