package isolation

import (
	"sort"
	"strings"

	"github.com/strongdm/promptwheel/internal/model"
)

// block is one unit of a structurally-split file: either a named symbol or
// the (possibly empty) gap of lines between two symbols.
type block struct {
	name  string // empty for a gap
	lines []string
}

func (b block) text() string { return strings.Join(b.lines, "\n") }

// splitIntoBlocks implements spec §4.C8's structural-merge split: symbol
// ranges are 1-based and inclusive, converted to 0-based slice indices.
func splitIntoBlocks(content string, symbols []model.SymbolRange) []block {
	lines := strings.Split(content, "\n")
	sorted := make([]model.SymbolRange, len(symbols))
	copy(sorted, symbols)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartLine < sorted[j].StartLine })

	var blocks []block
	cursor := 0 // 0-based next unconsumed line
	for _, sym := range sorted {
		start := sym.StartLine - 1
		end := sym.EndLine // exclusive in 0-based terms, since EndLine is inclusive 1-based
		if start < cursor {
			start = cursor
		}
		if start > len(lines) {
			start = len(lines)
		}
		if end > len(lines) {
			end = len(lines)
		}
		if start > cursor {
			blocks = append(blocks, block{name: "", lines: lines[cursor:start]})
		}
		if end < start {
			end = start
		}
		blocks = append(blocks, block{name: sym.Name, lines: lines[start:end]})
		cursor = end
	}
	if cursor < len(lines) {
		blocks = append(blocks, block{name: "", lines: lines[cursor:]})
	}
	return blocks
}

// StructuralMerge implements spec §4.C8's AST-aware three-way merge. It
// returns (mergedContent, true) when every block resolves, or ("", false)
// ("unresolved") when the block structure diverges or both sides touch the
// same block.
func StructuralMerge(base, variantA, variantB string, baseSyms, aSyms, bSyms []model.SymbolRange) (string, bool) {
	blocksBase := splitIntoBlocks(base, baseSyms)
	blocksA := splitIntoBlocks(variantA, aSyms)
	blocksB := splitIntoBlocks(variantB, bSyms)

	if len(blocksBase) != len(blocksA) || len(blocksBase) != len(blocksB) {
		return "", false
	}
	for i := range blocksBase {
		if blocksBase[i].name != blocksA[i].name || blocksBase[i].name != blocksB[i].name {
			return "", false
		}
	}

	resolved := make([]string, len(blocksBase))
	for i := range blocksBase {
		baseText := blocksBase[i].text()
		aText := blocksA[i].text()
		bText := blocksB[i].text()
		changedA := aText != baseText
		changedB := bText != baseText

		switch {
		case changedA && changedB:
			return "", false
		case changedA:
			resolved[i] = aText
		case changedB:
			resolved[i] = bText
		default:
			resolved[i] = baseText
		}
	}
	return strings.Join(resolved, "\n"), true
}
