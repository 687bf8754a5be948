package analyst

import (
	"testing"

	"github.com/colorfulnotion/gekko/ppc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wordFetcher map[uint32]ppc.Inst

func (w wordFetcher) FetchInstruction(addr uint32) (ppc.Inst, uint32, bool) {
	inst, ok := w[addr]
	return inst, addr & 0x3FFFFFFF, ok
}

func program(base uint32, insts ...ppc.Inst) wordFetcher {
	w := wordFetcher{}
	for i, inst := range insts {
		w[base+uint32(4*i)] = inst
	}
	return w
}

var blr = ppc.EncodeX(19, ppc.BOAlways, 0, 0, 16, false)

func TestAnalyzeEndsAtBranch(t *testing.T) {
	code := program(0x80003000,
		ppc.EncodeD(14, 3, 0, 1),                  // li r3,1
		ppc.EncodeX(31, 4, 3, 5, 266, false),      // add r4,r3,r5
		ppc.EncodeD(36, 4, 1, 8),                  // stw r4,8(r1)
		blr,
		ppc.EncodeD(14, 6, 0, 1),
	)
	var block CodeBlock
	buf := make([]CodeOp, 32)
	next := New().Analyze(0x80003000, &block, buf, code)

	assert.Equal(t, 4, block.NumInstructions)
	assert.False(t, block.Broken)
	assert.False(t, block.MemoryException)
	assert.Equal(t, uint32(0x80003010), next)
	assert.Equal(t, []int{1, 5}, block.GprInputs.Indices())
	assert.Len(t, block.PhysicalAddresses, 4)

	// r3 is read by add; nothing reads it afterwards.
	assert.True(t, buf[0].GprInUse.Has(3))
	assert.False(t, buf[1].GprInUse.Has(3))
	assert.True(t, buf[1].GprInUse.Has(4))
	assert.True(t, buf[3].CanEndBlock)
}

func TestAnalyzeDiscardable(t *testing.T) {
	code := program(0x1000,
		ppc.EncodeD(14, 3, 0, 1), // li r3,1
		ppc.EncodeD(14, 3, 0, 2), // li r3,2
		ppc.EncodeD(36, 3, 1, 0), // stw r3,0(r1)
		ppc.EncodeD(14, 3, 0, 3), // li r3,3
		blr,
	)
	var block CodeBlock
	buf := make([]CodeOp, 8)
	New().Analyze(0x1000, &block, buf, code)

	assert.True(t, buf[0].GprDiscardable.Has(3))
	assert.False(t, buf[1].GprDiscardable.Has(3))
	assert.True(t, buf[2].GprDiscardable.Has(3))

	code = program(0x1000,
		ppc.EncodeD(14, 3, 0, 1), // li r3,1
		ppc.EncodeD(36, 4, 1, 0), // stw r4,0(r1)
		ppc.EncodeD(14, 3, 0, 2), // li r3,2
		blr,
	)
	New().Analyze(0x1000, &block, buf, code)
	// The store can fault, so r3 must reach memory before it.
	assert.False(t, buf[0].GprDiscardable.Has(3))
	assert.True(t, buf[1].GprDiscardable.Has(3))
}

func TestAnalyzeBrokenAndUnmapped(t *testing.T) {
	code := program(0x2000,
		ppc.EncodeD(14, 3, 0, 1),
		ppc.EncodeD(14, 4, 0, 1),
		ppc.EncodeD(14, 5, 0, 1),
	)
	var block CodeBlock
	buf := make([]CodeOp, 2)
	next := New().Analyze(0x2000, &block, buf, code)
	assert.True(t, block.Broken)
	assert.Equal(t, 2, block.NumInstructions)
	assert.Equal(t, uint32(0x2008), next)

	buf = make([]CodeOp, 8)
	next = New().Analyze(0x2000, &block, buf, code)
	assert.True(t, block.Broken)
	assert.False(t, block.MemoryException)
	assert.Equal(t, 3, block.NumInstructions)
	assert.Equal(t, uint32(0x200C), next)

	New().Analyze(0x9000, &block, buf, code)
	assert.True(t, block.MemoryException)
	assert.Zero(t, block.NumInstructions)
}

func TestAnalyzeBranchFollow(t *testing.T) {
	code := program(0x3000,
		ppc.EncodeD(14, 3, 0, 1),
		ppc.EncodeB(0x10, false, false), // b 0x3014
	)
	code[0x3014] = ppc.EncodeD(14, 4, 0, 1)
	code[0x3018] = blr

	a := New()
	a.SetOption(OptionBranchFollow)
	var block CodeBlock
	buf := make([]CodeOp, 8)
	next := a.Analyze(0x3000, &block, buf, code)
	require.Equal(t, 4, block.NumInstructions)
	assert.True(t, buf[1].Skip)
	assert.Equal(t, uint32(0x3014), buf[1].BranchTo)
	assert.Equal(t, uint32(0x3014), buf[2].Address)
	assert.Equal(t, uint32(0x301C), next)

	a.ClearOptions()
	a.Analyze(0x3000, &block, buf, code)
	assert.Equal(t, 2, block.NumInstructions)
	assert.False(t, buf[1].Skip)
}

func TestAnalyzeIdleLoops(t *testing.T) {
	a := New()
	a.SetOption(OptionIdleDetection)

	self := program(0x4000, ppc.EncodeB(0, false, false))
	var block CodeBlock
	buf := make([]CodeOp, 4)
	a.Analyze(0x4000, &block, buf, self)
	assert.True(t, buf[0].BranchIsIdleLoop)

	poll := program(0x5000,
		ppc.EncodeD(32, 0, 13, 0x10), // lwz r0,16(r13)
		ppc.EncodeD(11, 0, 0, 0),     // cmpwi r0,0
		ppc.EncodeBC(ppc.BOBranchIfTrue|ppc.BODontDecrement, 2, -8, false),
	)
	a.Analyze(0x5000, &block, buf, poll)
	require.Equal(t, 3, block.NumInstructions)
	assert.True(t, buf[2].BranchIsIdleLoop)
}

func TestAnalyzeGQRUsage(t *testing.T) {
	code := program(0x6000,
		ppc.EncodePsq(56, 1, 3, false, 2, 0),
		ppc.EncodeSPR(467, 4, ppc.SPRNumGQR0+5),
		blr,
	)
	var block CodeBlock
	buf := make([]CodeOp, 4)
	New().Analyze(0x6000, &block, buf, code)
	assert.True(t, block.GqrUsed.Has(2))
	assert.True(t, block.GqrModified.Has(5))
	assert.False(t, block.GqrModified.Has(2))
}

func TestAnalyzeFollowCalls(t *testing.T) {
	code := program(0x3000,
		ppc.EncodeB(0x20, false, true), // bl 0x3020
		ppc.EncodeD(14, 3, 0, 1),
		blr,
	)
	code[0x3020] = ppc.EncodeD(14, 4, 0, 2)
	code[0x3024] = blr

	a := New()
	a.SetOption(OptionBranchFollow)
	var block CodeBlock
	buf := make([]CodeOp, 8)
	a.Analyze(0x3000, &block, buf, code)
	assert.Equal(t, 1, block.NumInstructions)
	assert.False(t, buf[0].Skip)

	a.SetOption(OptionFollowCalls)
	next := a.Analyze(0x3000, &block, buf, code)
	require.Equal(t, 3, block.NumInstructions)
	assert.True(t, buf[0].Skip)
	assert.Equal(t, uint32(0x3020), buf[1].Address)
	assert.Equal(t, uint32(0x3028), next)
}
