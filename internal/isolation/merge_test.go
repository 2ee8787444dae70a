package isolation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/strongdm/promptwheel/internal/model"
)

func TestStructuralMergeTakesTheChangedSide(t *testing.T) {
	base := "package p\n\nfunc A() {\n\treturn 1\n}\n\nfunc B() {\n\treturn 2\n}"
	syms := []model.SymbolRange{
		{Name: "A", StartLine: 3, EndLine: 5},
		{Name: "B", StartLine: 7, EndLine: 9},
	}
	variantA := "package p\n\nfunc A() {\n\treturn 100\n}\n\nfunc B() {\n\treturn 2\n}"
	variantB := base // unchanged

	merged, ok := StructuralMerge(base, variantA, variantB, syms, syms, syms)
	require.True(t, ok)
	require.Contains(t, merged, "return 100")
	require.Contains(t, merged, "return 2")
}

func TestStructuralMergeBailsOutOnSameBlockChangedBothSides(t *testing.T) {
	base := "func A() {\n\treturn 1\n}"
	syms := []model.SymbolRange{{Name: "A", StartLine: 1, EndLine: 3}}
	variantA := "func A() {\n\treturn 100\n}"
	variantB := "func A() {\n\treturn 200\n}"

	_, ok := StructuralMerge(base, variantA, variantB, syms, syms, syms)
	require.False(t, ok)
}

func TestStructuralMergeBailsOutOnBlockCountMismatch(t *testing.T) {
	base := "func A() {\n\treturn 1\n}"
	baseSyms := []model.SymbolRange{{Name: "A", StartLine: 1, EndLine: 3}}
	variantA := "func A() {\n\treturn 1\n}\n\nfunc B() {\n\treturn 2\n}"
	aSyms := []model.SymbolRange{
		{Name: "A", StartLine: 1, EndLine: 3},
		{Name: "B", StartLine: 5, EndLine: 7},
	}

	_, ok := StructuralMerge(base, variantA, base, baseSyms, aSyms, baseSyms)
	require.False(t, ok)
}

func TestStructuralMergeKeepsBaseWhenNeitherSideChangedABlock(t *testing.T) {
	base := "func A() {\n\treturn 1\n}\n\nfunc B() {\n\treturn 2\n}"
	syms := []model.SymbolRange{
		{Name: "A", StartLine: 1, EndLine: 3},
		{Name: "B", StartLine: 5, EndLine: 7},
	}
	variantA := "func A() {\n\treturn 999\n}\n\nfunc B() {\n\treturn 2\n}"

	merged, ok := StructuralMerge(base, variantA, base, syms, syms, syms)
	require.True(t, ok)
	require.Contains(t, merged, "return 999")
	require.Contains(t, merged, "return 2")
}

func TestSplitIntoBlocksPreservesGaps(t *testing.T) {
	content := "// header\n\nfunc A() {\n\treturn 1\n}\n\n// trailer"
	syms := []model.SymbolRange{{Name: "A", StartLine: 3, EndLine: 5}}
	blocks := splitIntoBlocks(content, syms)
	require.Len(t, blocks, 3)
	require.Equal(t, "", blocks[0].name)
	require.Equal(t, "A", blocks[1].name)
	require.Equal(t, "", blocks[2].name)
}
