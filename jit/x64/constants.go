package x64

// REX Prefix Constants
const (
	X86_REX   = 0x40
	X86_REX_W = 0x08 // REX.W - 64-bit operand size
	X86_REX_R = 0x04 // REX.R - Extension of ModRM reg field
	X86_REX_X = 0x02 // REX.X - Extension of SIB index field
	X86_REX_B = 0x01 // REX.B - Extension of ModRM r/m, SIB base, or opcode reg field
)

// ModRM Mode Constants
const (
	X86_MOD_INDIRECT        = 0x00 // [reg]
	X86_MOD_INDIRECT_DISP8  = 0x01 // [reg + disp8]
	X86_MOD_INDIRECT_DISP32 = 0x02 // [reg + disp32]
	X86_MOD_REGISTER        = 0x03 // reg
)

// Primary Opcodes
const (
	X86_OP_OPSIZE          = 0x66 // operand size override
	X86_OP_PUSH_R          = 0x50 // PUSH r64 (+ reg)
	X86_OP_POP_R           = 0x58 // POP r64 (+ reg)
	X86_OP_MOVSXD          = 0x63 // MOVSXD r64, r/m32
	X86_OP_PUSH_IMM32      = 0x68 // PUSH imm32
	X86_OP_IMUL_IMM32      = 0x69 // IMUL r, r/m, imm32
	X86_OP_PUSH_IMM8       = 0x6A // PUSH imm8
	X86_OP_IMUL_IMM8       = 0x6B // IMUL r, r/m, imm8
	X86_OP_JCC_REL8        = 0x70 // Jcc rel8 (+ cc)
	X86_OP_GROUP1_RM8_IMM8 = 0x80 // Group 1 r/m8, imm8
	X86_OP_GROUP1_RM_IMM32 = 0x81 // Group 1 operations with imm32
	X86_OP_GROUP1_RM_IMM8  = 0x83 // Group 1 operations with imm8
	X86_OP_TEST_RM8_R8     = 0x84 // TEST r/m8, r8
	X86_OP_TEST_RM_R       = 0x85 // TEST r/m, r
	X86_OP_MOV_RM8_R8      = 0x88 // MOV r/m8, r8
	X86_OP_MOV_RM_R        = 0x89 // MOV r/m, r
	X86_OP_MOV_R8_RM8      = 0x8A // MOV r8, r/m8
	X86_OP_MOV_R_RM        = 0x8B // MOV r, r/m
	X86_OP_LEA             = 0x8D // LEA r, m
	X86_OP_NOP             = 0x90
	X86_OP_MOV_R_IMM       = 0xB8 // MOV r, imm (+ reg)
	X86_OP_GROUP2_RM_IMM8  = 0xC1 // Group 2 shift operations with imm8
	X86_OP_RET             = 0xC3 // RET
	X86_OP_MOV_RM8_IMM8    = 0xC6 // MOV r/m8, imm8
	X86_OP_MOV_RM_IMM      = 0xC7 // MOV r/m, imm32
	X86_OP_INT3            = 0xCC
	X86_OP_GROUP2_RM_1     = 0xD1 // Group 2 shift operations by 1
	X86_OP_GROUP2_RM_CL    = 0xD3 // Group 2 shift operations by CL
	X86_OP_CALL_REL32      = 0xE8 // CALL rel32
	X86_OP_JMP_REL32       = 0xE9 // JMP rel32
	X86_OP_JMP_REL8        = 0xEB // JMP rel8
	X86_OP_GROUP3_RM8      = 0xF6 // Group 3 r/m8
	X86_OP_GROUP3_RM       = 0xF7 // Group 3 unary operations
	X86_OP_GROUP5_RM       = 0xFF // Group 5 operations (INC, DEC, CALL, JMP, PUSH)
)

// Two-byte Opcodes (0x0F prefix)
const (
	X86_OP2_ESCAPE       = 0x0F
	X86_OP2_UD2          = 0x0B
	X86_OP2_NOP_RM       = 0x1F // multi-byte NOP
	X86_OP2_JCC_REL32    = 0x80 // Jcc rel32 (+ cc)
	X86_OP2_SETCC        = 0x90 // SETcc r/m8 (+ cc)
	X86_OP2_IMUL_R_RM    = 0xAF // IMUL r, r/m
	X86_OP2_MOVZX_R_RM8  = 0xB6 // MOVZX r, r/m8
	X86_OP2_MOVZX_R_RM16 = 0xB7 // MOVZX r, r/m16
	X86_OP2_MOVSX_R_RM8  = 0xBE // MOVSX r, r/m8
	X86_OP2_MOVSX_R_RM16 = 0xBF // MOVSX r, r/m16
	X86_OP2_BSWAP        = 0xC8 // BSWAP r32/r64 (+ reg)
)

// Group 1 extensions.
const (
	aluADD = 0
	aluOR  = 1
	aluADC = 2
	aluSBB = 3
	aluAND = 4
	aluSUB = 5
	aluXOR = 6
	aluCMP = 7
)

// Group 2 extensions.
const (
	shROL = 0
	shROR = 1
	shSHL = 4
	shSHR = 5
	shSAR = 7
)

// CCFlags are x86 condition codes.
type CCFlags byte

const (
	CC_O  CCFlags = 0x0
	CC_NO CCFlags = 0x1
	CC_B  CCFlags = 0x2
	CC_AE CCFlags = 0x3
	CC_Z  CCFlags = 0x4
	CC_NZ CCFlags = 0x5
	CC_BE CCFlags = 0x6
	CC_A  CCFlags = 0x7
	CC_S  CCFlags = 0x8
	CC_NS CCFlags = 0x9
	CC_P  CCFlags = 0xA
	CC_NP CCFlags = 0xB
	CC_L  CCFlags = 0xC
	CC_GE CCFlags = 0xD
	CC_LE CCFlags = 0xE
	CC_G  CCFlags = 0xF

	CC_C  = CC_B
	CC_NC = CC_AE
	CC_E  = CC_Z
	CC_NE = CC_NZ
)

// Invert returns the opposite condition.
func (c CCFlags) Invert() CCFlags { return c ^ 1 }
