package krm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aos-project/aos-core/krm"
)

func TestAnalyzeTrapFramePageFaultDecodesBits(t *testing.T) {
	analysis := krm.AnalyzeTrapFrame(krm.VectorPageFault, 0x02)
	require.Contains(t, analysis.Explanation, "Page fault")
	require.NotEmpty(t, analysis.Suggestions)
	require.Contains(t, analysis.Suggestions, "The faulting page was not present; check the page table entry for this address.")
	require.Contains(t, analysis.Suggestions, "The fault occurred on a write; check for a missing writable mapping.")
}

func TestAnalyzeMessageMatchesPrefix(t *testing.T) {
	analysis := krm.AnalyzeMessage("assertion failed: x != nil")
	require.Contains(t, analysis.Explanation, "consistency check")
}

func TestAnalyzeMessageFallsBackToGeneric(t *testing.T) {
	analysis := krm.AnalyzeMessage("something bizarre happened")
	require.Equal(t, "An unclassified kernel panic occurred.", analysis.Explanation)
}

type fakeStack struct {
	words map[uint32]uint32
}

func (s fakeStack) ReadUint32(addr uint32) (uint32, bool) {
	v, ok := s.words[addr]
	return v, ok
}

func TestWalkStackStopsOnMisaligned(t *testing.T) {
	backtrace := krm.WalkStack(fakeStack{words: map[uint32]uint32{}}, 0xC0001001)
	require.Empty(t, backtrace)
}

func TestWalkStackFollowsValidChain(t *testing.T) {
	stack := fakeStack{words: map[uint32]uint32{
		0xC0001000: 0xC0002000, // saved fp link
		0xC0001004: 0xC0100000, // return address
		0xC0002000: 0xC0001000, // link back to a lower frame: stop here
		0xC0002004: 0xC0100004,
	}}

	backtrace := krm.WalkStack(stack, 0xC0001000)
	require.Equal(t, []uint32{0xC0100000, 0xC0100004}, backtrace)
}
