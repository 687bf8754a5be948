package ppc

// OpType groups instructions the way the compiler dispatches them.
type OpType uint8

const (
	OpTypeUnknown OpType = iota
	OpTypeInteger
	OpTypeCR
	OpTypeLoad
	OpTypeStore
	OpTypeLoadFP
	OpTypeStoreFP
	OpTypeLoadPS
	OpTypeStorePS
	OpTypeBranch
	OpTypeSystem
	OpTypeSPR
	OpTypeFloat
	OpTypePaired
	OpTypeCache
)

// Flags describe register usage and block-level effects.
type Flags uint32

const (
	FlEndBlock Flags = 1 << iota
	FlUseFPU
	FlLoadStore
	FlInA
	FlInA0 // rA, where r0 reads as literal zero
	FlInB
	FlInS
	FlOutD
	FlOutA
	FlSetCR0
	FlSetCRn
	FlReadCR
	FlSetCA
	FlReadCA
	FlRcBit // Rc=1 sets cr0
	FlProgramException
)

// OpID identifies an instruction independent of its encoding table.
type OpID uint16

const (
	OpUnknown OpID = iota
	OpHLE
	// integer
	OpAddi
	OpAddis
	OpAddic
	OpAddicRc
	OpMulli
	OpSubfic
	OpOri
	OpOris
	OpXori
	OpXoris
	OpAndiRc
	OpAndisRc
	OpCmpi
	OpCmpli
	OpCmp
	OpCmpl
	OpRlwinm
	OpRlwimi
	OpAdd
	OpAddc
	OpAdde
	OpSubf
	OpSubfc
	OpNeg
	OpMullw
	OpDivw
	OpDivwu
	OpAnd
	OpAndc
	OpOr
	OpNor
	OpXor
	OpSlw
	OpSrw
	OpSraw
	OpSrawi
	OpExtsb
	OpExtsh
	OpCntlzw
	// load/store
	OpLwz
	OpLwzu
	OpLbz
	OpLbzu
	OpLhz
	OpLhzu
	OpLha
	OpLhau
	OpStw
	OpStwu
	OpStb
	OpStbu
	OpSth
	OpSthu
	OpLwzx
	OpLbzx
	OpLhzx
	OpStwx
	OpStbx
	OpSthx
	OpLfs
	OpLfd
	OpStfs
	OpStfd
	OpPsqL
	OpPsqLu
	OpPsqSt
	OpPsqStu
	OpDcbz
	// branch
	OpB
	OpBc
	OpBclr
	OpBcctr
	// system
	OpSc
	OpRfi
	OpIsync
	OpSync
	OpEieio
	OpMfmsr
	OpMtmsr
	OpMfspr
	OpMtspr
	OpMfcr
	OpMtcrf
	OpMcrf
	OpCrxor
	OpDcbf
	OpDcbst
	OpDcbi
	OpIcbi
	// floating point
	OpFadds
	OpFsubs
	OpFmuls
	OpFdivs
	OpFadd
	OpFsub
	OpFmul
	OpFdiv
	OpFmr
	OpFneg
	OpFabs
	OpFcmpu
	OpFrsp
	// paired single
	OpPsAdd
	OpPsSub
	OpPsMul
	OpPsMr
	OpPsMerge00
	NumOps
)

// OpInfo is the static description of one instruction form.
type OpInfo struct {
	ID     OpID
	Name   string
	Type   OpType
	Flags  Flags
	Cycles int
	// AccessSize is the memory access width in bytes for load/store forms.
	AccessSize int
	SignExtend bool
}

func (o *OpInfo) Has(f Flags) bool { return o.Flags&f != 0 }

var unknownOp = &OpInfo{ID: OpUnknown, Name: "unknown", Type: OpTypeUnknown, Flags: FlEndBlock | FlProgramException, Cycles: 1}

var (
	primaryTable = map[uint32]*OpInfo{}
	table4       = map[uint32]*OpInfo{}
	table19      = map[uint32]*OpInfo{}
	table31      = map[uint32]*OpInfo{}
	table59      = map[uint32]*OpInfo{}
	table63      = map[uint32]*OpInfo{}
	byID         [NumOps]*OpInfo
)

func def(t map[uint32]*OpInfo, key uint32, info OpInfo) {
	if info.Cycles == 0 {
		info.Cycles = 1
	}
	p := &info
	t[key] = p
	byID[info.ID] = p
}

func init() {
	// HLE hooks replace an instruction word with opcode 1.
	def(primaryTable, 1, OpInfo{ID: OpHLE, Name: "hle", Type: OpTypeSystem, Flags: FlEndBlock})

	def(primaryTable, 7, OpInfo{ID: OpMulli, Name: "mulli", Type: OpTypeInteger, Flags: FlOutD | FlInA, Cycles: 3})
	def(primaryTable, 8, OpInfo{ID: OpSubfic, Name: "subfic", Type: OpTypeInteger, Flags: FlOutD | FlInA | FlSetCA})
	def(primaryTable, 10, OpInfo{ID: OpCmpli, Name: "cmpli", Type: OpTypeInteger, Flags: FlInA | FlSetCRn})
	def(primaryTable, 11, OpInfo{ID: OpCmpi, Name: "cmpi", Type: OpTypeInteger, Flags: FlInA | FlSetCRn})
	def(primaryTable, 12, OpInfo{ID: OpAddic, Name: "addic", Type: OpTypeInteger, Flags: FlOutD | FlInA | FlSetCA})
	def(primaryTable, 13, OpInfo{ID: OpAddicRc, Name: "addic.", Type: OpTypeInteger, Flags: FlOutD | FlInA | FlSetCA | FlSetCR0})
	def(primaryTable, 14, OpInfo{ID: OpAddi, Name: "addi", Type: OpTypeInteger, Flags: FlOutD | FlInA0})
	def(primaryTable, 15, OpInfo{ID: OpAddis, Name: "addis", Type: OpTypeInteger, Flags: FlOutD | FlInA0})
	def(primaryTable, 16, OpInfo{ID: OpBc, Name: "bcx", Type: OpTypeBranch, Flags: FlEndBlock | FlReadCR})
	def(primaryTable, 17, OpInfo{ID: OpSc, Name: "sc", Type: OpTypeSystem, Flags: FlEndBlock, Cycles: 2})
	def(primaryTable, 18, OpInfo{ID: OpB, Name: "bx", Type: OpTypeBranch, Flags: FlEndBlock})
	def(primaryTable, 20, OpInfo{ID: OpRlwimi, Name: "rlwimix", Type: OpTypeInteger, Flags: FlOutA | FlInA | FlInS | FlRcBit})
	def(primaryTable, 21, OpInfo{ID: OpRlwinm, Name: "rlwinmx", Type: OpTypeInteger, Flags: FlOutA | FlInS | FlRcBit})
	def(primaryTable, 24, OpInfo{ID: OpOri, Name: "ori", Type: OpTypeInteger, Flags: FlOutA | FlInS})
	def(primaryTable, 25, OpInfo{ID: OpOris, Name: "oris", Type: OpTypeInteger, Flags: FlOutA | FlInS})
	def(primaryTable, 26, OpInfo{ID: OpXori, Name: "xori", Type: OpTypeInteger, Flags: FlOutA | FlInS})
	def(primaryTable, 27, OpInfo{ID: OpXoris, Name: "xoris", Type: OpTypeInteger, Flags: FlOutA | FlInS})
	def(primaryTable, 28, OpInfo{ID: OpAndiRc, Name: "andi.", Type: OpTypeInteger, Flags: FlOutA | FlInS | FlSetCR0})
	def(primaryTable, 29, OpInfo{ID: OpAndisRc, Name: "andis.", Type: OpTypeInteger, Flags: FlOutA | FlInS | FlSetCR0})

	ls := FlLoadStore
	def(primaryTable, 32, OpInfo{ID: OpLwz, Name: "lwz", Type: OpTypeLoad, Flags: ls | FlOutD | FlInA0, AccessSize: 4})
	def(primaryTable, 33, OpInfo{ID: OpLwzu, Name: "lwzu", Type: OpTypeLoad, Flags: ls | FlOutD | FlInA | FlOutA, AccessSize: 4})
	def(primaryTable, 34, OpInfo{ID: OpLbz, Name: "lbz", Type: OpTypeLoad, Flags: ls | FlOutD | FlInA0, AccessSize: 1})
	def(primaryTable, 35, OpInfo{ID: OpLbzu, Name: "lbzu", Type: OpTypeLoad, Flags: ls | FlOutD | FlInA | FlOutA, AccessSize: 1})
	def(primaryTable, 36, OpInfo{ID: OpStw, Name: "stw", Type: OpTypeStore, Flags: ls | FlInS | FlInA0, AccessSize: 4})
	def(primaryTable, 37, OpInfo{ID: OpStwu, Name: "stwu", Type: OpTypeStore, Flags: ls | FlInS | FlInA | FlOutA, AccessSize: 4})
	def(primaryTable, 38, OpInfo{ID: OpStb, Name: "stb", Type: OpTypeStore, Flags: ls | FlInS | FlInA0, AccessSize: 1})
	def(primaryTable, 39, OpInfo{ID: OpStbu, Name: "stbu", Type: OpTypeStore, Flags: ls | FlInS | FlInA | FlOutA, AccessSize: 1})
	def(primaryTable, 40, OpInfo{ID: OpLhz, Name: "lhz", Type: OpTypeLoad, Flags: ls | FlOutD | FlInA0, AccessSize: 2})
	def(primaryTable, 41, OpInfo{ID: OpLhzu, Name: "lhzu", Type: OpTypeLoad, Flags: ls | FlOutD | FlInA | FlOutA, AccessSize: 2})
	def(primaryTable, 42, OpInfo{ID: OpLha, Name: "lha", Type: OpTypeLoad, Flags: ls | FlOutD | FlInA0, AccessSize: 2, SignExtend: true})
	def(primaryTable, 43, OpInfo{ID: OpLhau, Name: "lhau", Type: OpTypeLoad, Flags: ls | FlOutD | FlInA | FlOutA, AccessSize: 2, SignExtend: true})
	def(primaryTable, 44, OpInfo{ID: OpSth, Name: "sth", Type: OpTypeStore, Flags: ls | FlInS | FlInA0, AccessSize: 2})
	def(primaryTable, 45, OpInfo{ID: OpSthu, Name: "sthu", Type: OpTypeStore, Flags: ls | FlInS | FlInA | FlOutA, AccessSize: 2})
	def(primaryTable, 48, OpInfo{ID: OpLfs, Name: "lfs", Type: OpTypeLoadFP, Flags: ls | FlUseFPU | FlInA0, AccessSize: 4})
	def(primaryTable, 50, OpInfo{ID: OpLfd, Name: "lfd", Type: OpTypeLoadFP, Flags: ls | FlUseFPU | FlInA0, AccessSize: 8})
	def(primaryTable, 52, OpInfo{ID: OpStfs, Name: "stfs", Type: OpTypeStoreFP, Flags: ls | FlUseFPU | FlInA0, AccessSize: 4})
	def(primaryTable, 54, OpInfo{ID: OpStfd, Name: "stfd", Type: OpTypeStoreFP, Flags: ls | FlUseFPU | FlInA0, AccessSize: 8})
	def(primaryTable, 56, OpInfo{ID: OpPsqL, Name: "psq_l", Type: OpTypeLoadPS, Flags: ls | FlUseFPU | FlInA0})
	def(primaryTable, 57, OpInfo{ID: OpPsqLu, Name: "psq_lu", Type: OpTypeLoadPS, Flags: ls | FlUseFPU | FlInA | FlOutA})
	def(primaryTable, 60, OpInfo{ID: OpPsqSt, Name: "psq_st", Type: OpTypeStorePS, Flags: ls | FlUseFPU | FlInA0})
	def(primaryTable, 61, OpInfo{ID: OpPsqStu, Name: "psq_stu", Type: OpTypeStorePS, Flags: ls | FlUseFPU | FlInA | FlOutA})

	def(table4, 21, OpInfo{ID: OpPsAdd, Name: "ps_add", Type: OpTypePaired, Flags: FlUseFPU})
	def(table4, 20, OpInfo{ID: OpPsSub, Name: "ps_sub", Type: OpTypePaired, Flags: FlUseFPU})
	def(table4, 25, OpInfo{ID: OpPsMul, Name: "ps_mul", Type: OpTypePaired, Flags: FlUseFPU})
	def(table4, 72, OpInfo{ID: OpPsMr, Name: "ps_mr", Type: OpTypePaired, Flags: FlUseFPU})
	def(table4, 528, OpInfo{ID: OpPsMerge00, Name: "ps_merge00", Type: OpTypePaired, Flags: FlUseFPU})

	def(table19, 0, OpInfo{ID: OpMcrf, Name: "mcrf", Type: OpTypeCR, Flags: FlReadCR})
	def(table19, 16, OpInfo{ID: OpBclr, Name: "bclrx", Type: OpTypeBranch, Flags: FlEndBlock | FlReadCR})
	def(table19, 50, OpInfo{ID: OpRfi, Name: "rfi", Type: OpTypeSystem, Flags: FlEndBlock, Cycles: 2})
	def(table19, 150, OpInfo{ID: OpIsync, Name: "isync", Type: OpTypeSystem})
	def(table19, 193, OpInfo{ID: OpCrxor, Name: "crxor", Type: OpTypeCR, Flags: FlReadCR})
	def(table19, 528, OpInfo{ID: OpBcctr, Name: "bcctrx", Type: OpTypeBranch, Flags: FlEndBlock | FlReadCR})

	def(table31, 0, OpInfo{ID: OpCmp, Name: "cmp", Type: OpTypeInteger, Flags: FlInA | FlInB | FlSetCRn})
	def(table31, 8, OpInfo{ID: OpSubfc, Name: "subfcx", Type: OpTypeInteger, Flags: FlOutD | FlInA | FlInB | FlSetCA | FlRcBit})
	def(table31, 10, OpInfo{ID: OpAddc, Name: "addcx", Type: OpTypeInteger, Flags: FlOutD | FlInA | FlInB | FlSetCA | FlRcBit})
	def(table31, 11, OpInfo{ID: OpAdde, Name: "addex", Type: OpTypeInteger, Flags: FlOutD | FlInA | FlInB | FlReadCA | FlSetCA | FlRcBit})
	def(table31, 19, OpInfo{ID: OpMfcr, Name: "mfcr", Type: OpTypeCR, Flags: FlOutD | FlReadCR})
	def(table31, 23, OpInfo{ID: OpLwzx, Name: "lwzx", Type: OpTypeLoad, Flags: ls | FlOutD | FlInA0 | FlInB, AccessSize: 4})
	def(table31, 24, OpInfo{ID: OpSlw, Name: "slwx", Type: OpTypeInteger, Flags: FlOutA | FlInS | FlInB | FlRcBit})
	def(table31, 26, OpInfo{ID: OpCntlzw, Name: "cntlzwx", Type: OpTypeInteger, Flags: FlOutA | FlInS | FlRcBit})
	def(table31, 28, OpInfo{ID: OpAnd, Name: "andx", Type: OpTypeInteger, Flags: FlOutA | FlInS | FlInB | FlRcBit})
	def(table31, 32, OpInfo{ID: OpCmpl, Name: "cmpl", Type: OpTypeInteger, Flags: FlInA | FlInB | FlSetCRn})
	def(table31, 40, OpInfo{ID: OpSubf, Name: "subfx", Type: OpTypeInteger, Flags: FlOutD | FlInA | FlInB | FlRcBit})
	def(table31, 54, OpInfo{ID: OpDcbst, Name: "dcbst", Type: OpTypeCache})
	def(table31, 60, OpInfo{ID: OpAndc, Name: "andcx", Type: OpTypeInteger, Flags: FlOutA | FlInS | FlInB | FlRcBit})
	def(table31, 83, OpInfo{ID: OpMfmsr, Name: "mfmsr", Type: OpTypeSystem, Flags: FlOutD})
	def(table31, 86, OpInfo{ID: OpDcbf, Name: "dcbf", Type: OpTypeCache})
	def(table31, 87, OpInfo{ID: OpLbzx, Name: "lbzx", Type: OpTypeLoad, Flags: ls | FlOutD | FlInA0 | FlInB, AccessSize: 1})
	def(table31, 104, OpInfo{ID: OpNeg, Name: "negx", Type: OpTypeInteger, Flags: FlOutD | FlInA | FlRcBit})
	def(table31, 124, OpInfo{ID: OpNor, Name: "norx", Type: OpTypeInteger, Flags: FlOutA | FlInS | FlInB | FlRcBit})
	def(table31, 144, OpInfo{ID: OpMtcrf, Name: "mtcrf", Type: OpTypeCR, Flags: FlInS})
	def(table31, 146, OpInfo{ID: OpMtmsr, Name: "mtmsr", Type: OpTypeSystem, Flags: FlInS | FlEndBlock})
	def(table31, 151, OpInfo{ID: OpStwx, Name: "stwx", Type: OpTypeStore, Flags: ls | FlInS | FlInA0 | FlInB, AccessSize: 4})
	def(table31, 215, OpInfo{ID: OpStbx, Name: "stbx", Type: OpTypeStore, Flags: ls | FlInS | FlInA0 | FlInB, AccessSize: 1})
	def(table31, 235, OpInfo{ID: OpMullw, Name: "mullwx", Type: OpTypeInteger, Flags: FlOutD | FlInA | FlInB | FlRcBit, Cycles: 5})
	def(table31, 266, OpInfo{ID: OpAdd, Name: "addx", Type: OpTypeInteger, Flags: FlOutD | FlInA | FlInB | FlRcBit})
	def(table31, 279, OpInfo{ID: OpLhzx, Name: "lhzx", Type: OpTypeLoad, Flags: ls | FlOutD | FlInA0 | FlInB, AccessSize: 2})
	def(table31, 316, OpInfo{ID: OpXor, Name: "xorx", Type: OpTypeInteger, Flags: FlOutA | FlInS | FlInB | FlRcBit})
	def(table31, 339, OpInfo{ID: OpMfspr, Name: "mfspr", Type: OpTypeSPR, Flags: FlOutD})
	def(table31, 407, OpInfo{ID: OpSthx, Name: "sthx", Type: OpTypeStore, Flags: ls | FlInS | FlInA0 | FlInB, AccessSize: 2})
	def(table31, 444, OpInfo{ID: OpOr, Name: "orx", Type: OpTypeInteger, Flags: FlOutA | FlInS | FlInB | FlRcBit})
	def(table31, 459, OpInfo{ID: OpDivwu, Name: "divwux", Type: OpTypeInteger, Flags: FlOutD | FlInA | FlInB | FlRcBit, Cycles: 40})
	def(table31, 467, OpInfo{ID: OpMtspr, Name: "mtspr", Type: OpTypeSPR, Flags: FlInS})
	def(table31, 470, OpInfo{ID: OpDcbi, Name: "dcbi", Type: OpTypeCache})
	def(table31, 491, OpInfo{ID: OpDivw, Name: "divwx", Type: OpTypeInteger, Flags: FlOutD | FlInA | FlInB | FlRcBit, Cycles: 40})
	def(table31, 536, OpInfo{ID: OpSrw, Name: "srwx", Type: OpTypeInteger, Flags: FlOutA | FlInS | FlInB | FlRcBit})
	def(table31, 598, OpInfo{ID: OpSync, Name: "sync", Type: OpTypeSystem, Cycles: 3})
	def(table31, 792, OpInfo{ID: OpSraw, Name: "srawx", Type: OpTypeInteger, Flags: FlOutA | FlInS | FlInB | FlSetCA | FlRcBit})
	def(table31, 824, OpInfo{ID: OpSrawi, Name: "srawix", Type: OpTypeInteger, Flags: FlOutA | FlInS | FlSetCA | FlRcBit})
	def(table31, 854, OpInfo{ID: OpEieio, Name: "eieio", Type: OpTypeSystem})
	def(table31, 922, OpInfo{ID: OpExtsh, Name: "extshx", Type: OpTypeInteger, Flags: FlOutA | FlInS | FlRcBit})
	def(table31, 954, OpInfo{ID: OpExtsb, Name: "extsbx", Type: OpTypeInteger, Flags: FlOutA | FlInS | FlRcBit})
	def(table31, 982, OpInfo{ID: OpIcbi, Name: "icbi", Type: OpTypeCache, Flags: FlEndBlock | FlInA0 | FlInB, Cycles: 4})
	def(table31, 1014, OpInfo{ID: OpDcbz, Name: "dcbz", Type: OpTypeStore, Flags: ls | FlInA0 | FlInB, AccessSize: 32, Cycles: 3})

	def(table59, 18, OpInfo{ID: OpFdivs, Name: "fdivsx", Type: OpTypeFloat, Flags: FlUseFPU, Cycles: 17})
	def(table59, 20, OpInfo{ID: OpFsubs, Name: "fsubsx", Type: OpTypeFloat, Flags: FlUseFPU})
	def(table59, 21, OpInfo{ID: OpFadds, Name: "faddsx", Type: OpTypeFloat, Flags: FlUseFPU})
	def(table59, 25, OpInfo{ID: OpFmuls, Name: "fmulsx", Type: OpTypeFloat, Flags: FlUseFPU})

	def(table63, 0, OpInfo{ID: OpFcmpu, Name: "fcmpu", Type: OpTypeFloat, Flags: FlUseFPU | FlSetCRn})
	def(table63, 12, OpInfo{ID: OpFrsp, Name: "frspx", Type: OpTypeFloat, Flags: FlUseFPU})
	def(table63, 18, OpInfo{ID: OpFdiv, Name: "fdivx", Type: OpTypeFloat, Flags: FlUseFPU, Cycles: 31})
	def(table63, 20, OpInfo{ID: OpFsub, Name: "fsubx", Type: OpTypeFloat, Flags: FlUseFPU})
	def(table63, 21, OpInfo{ID: OpFadd, Name: "faddx", Type: OpTypeFloat, Flags: FlUseFPU})
	def(table63, 25, OpInfo{ID: OpFmul, Name: "fmulx", Type: OpTypeFloat, Flags: FlUseFPU, Cycles: 2})
	def(table63, 40, OpInfo{ID: OpFneg, Name: "fnegx", Type: OpTypeFloat, Flags: FlUseFPU})
	def(table63, 72, OpInfo{ID: OpFmr, Name: "fmrx", Type: OpTypeFloat, Flags: FlUseFPU})
	def(table63, 264, OpInfo{ID: OpFabs, Name: "fabsx", Type: OpTypeFloat, Flags: FlUseFPU})
}

// Lookup returns the description of inst; undecodable words map to an
// end-of-block "unknown" entry that raises a program exception.
func Lookup(inst Inst) *OpInfo {
	var info *OpInfo
	switch op := inst.OPCD(); op {
	case 4:
		info = aForm(table4, inst)
	case 19:
		info = table19[inst.SUBOP10()]
	case 31:
		info = table31[inst.SUBOP10()]
	case 59:
		info = table59[inst.SUBOP5()]
	case 63:
		info = aForm(table63, inst)
	default:
		info = primaryTable[op]
	}
	if info == nil {
		return unknownOp
	}
	return info
}

// aForm resolves tables that mix A-form (5-bit xo, frC in bits 6-10) and
// X-form (10-bit xo) encodings.
func aForm(t map[uint32]*OpInfo, inst Inst) *OpInfo {
	if sub := inst.SUBOP5(); sub >= 18 {
		if info := t[sub]; info != nil {
			return info
		}
	}
	return t[inst.SUBOP10()]
}

// ByID returns the table entry for id.
func ByID(id OpID) *OpInfo {
	if int(id) < len(byID) && byID[id] != nil {
		return byID[id]
	}
	return unknownOp
}

// RegsIn returns the general registers inst reads.
func RegsIn(inst Inst, info *OpInfo) BitSet32 {
	var s BitSet32
	if info.Has(FlInA) {
		s = s.With(inst.RA())
	}
	if info.Has(FlInA0) && inst.RA() != 0 {
		s = s.With(inst.RA())
	}
	if info.Has(FlInB) {
		s = s.With(inst.RB())
	}
	if info.Has(FlInS) {
		s = s.With(inst.RS())
	}
	return s
}

// RegsOut returns the general registers inst writes.
func RegsOut(inst Inst, info *OpInfo) BitSet32 {
	var s BitSet32
	if info.Has(FlOutD) {
		s = s.With(inst.RD())
	}
	if info.Has(FlOutA) {
		s = s.With(inst.RA())
	}
	return s
}

// Name returns the mnemonic of inst.
func Name(inst Inst) string { return Lookup(inst).Name }
