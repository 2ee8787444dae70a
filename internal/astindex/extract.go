package astindex

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/strongdm/promptwheel/internal/model"
)

// extraction is the raw per-file result produced by either backend, before
// it is wrapped into a CacheEntry.
type extraction struct {
	Imports    []string
	Exports    []model.Export
	Symbols    []model.SymbolRange
	CallEdges  []model.CallEdge
	Complexity int
}

// treeSitterLanguage maps a file extension to a tree-sitter grammar. Only
// Go/JS/TS are wired to tree-sitter (spec §4.C2a); everything else falls
// through to the regex extractor, which is the documented "else" branch of
// spec.md step 3, not a degraded default.
func treeSitterLanguage(ext string) *sitter.Language {
	switch ext {
	case ".go":
		return golang.GetLanguage()
	case ".js", ".jsx", ".mjs", ".cjs":
		return javascript.GetLanguage()
	case ".ts", ".tsx":
		return typescript.GetLanguage()
	default:
		return nil
	}
}

// extractFile parses content with tree-sitter when a grammar is registered
// for the file's extension, falling back to the regex extractor otherwise
// or when the parse fails.
func extractFile(relPath string, content []byte) extraction {
	ext := strings.ToLower(filepath.Ext(relPath))
	if lang := treeSitterLanguage(ext); lang != nil {
		if ex, ok := extractWithTreeSitter(lang, ext, content); ok {
			return ex
		}
	}
	return extractWithRegex(relPath, content)
}

func extractWithTreeSitter(lang *sitter.Language, ext string, content []byte) (extraction, bool) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)
	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil || tree == nil {
		return extraction{}, false
	}
	defer tree.Close()
	root := tree.RootNode()
	if root == nil {
		return extraction{}, false
	}

	var ex extraction
	switch ext {
	case ".go":
		ex = walkGo(root, content)
	default:
		ex = walkJSLike(root, content)
	}
	ex.Imports = extractImportsRegex(content)
	ex.Complexity = cyclomaticComplexity(content)
	return ex, true
}

func nodeLine(n *sitter.Node, startOf bool) int {
	p := n.StartPoint()
	if !startOf {
		p = n.EndPoint()
	}
	return int(p.Row) + 1
}

func walkGo(root *sitter.Node, content []byte) extraction {
	var ex extraction
	n := int(root.ChildCount())
	for i := 0; i < n; i++ {
		child := root.Child(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case "function_declaration":
			nameNode := child.ChildByFieldName("name")
			if nameNode == nil {
				continue
			}
			name := nameNode.Content(content)
			kind := model.SymbolFunction
			ex.Symbols = append(ex.Symbols, model.SymbolRange{Name: name, StartLine: nodeLine(child, true), EndLine: nodeLine(child, false)})
			if isExportedGoName(name) {
				ex.Exports = append(ex.Exports, model.Export{Name: name, Kind: kind})
			}
			collectGoCalls(child, content, name, &ex.CallEdges)
		case "method_declaration":
			nameNode := child.ChildByFieldName("name")
			if nameNode == nil {
				continue
			}
			name := nameNode.Content(content)
			ex.Symbols = append(ex.Symbols, model.SymbolRange{Name: name, StartLine: nodeLine(child, true), EndLine: nodeLine(child, false)})
			if isExportedGoName(name) {
				ex.Exports = append(ex.Exports, model.Export{Name: name, Kind: model.SymbolFunction})
			}
			collectGoCalls(child, content, name, &ex.CallEdges)
		case "type_declaration":
			for j := 0; j < int(child.ChildCount()); j++ {
				spec := child.Child(j)
				if spec == nil || spec.Type() != "type_spec" {
					continue
				}
				nameNode := spec.ChildByFieldName("name")
				if nameNode == nil {
					continue
				}
				name := nameNode.Content(content)
				kind := model.SymbolType
				if t := spec.ChildByFieldName("type"); t != nil && t.Type() == "interface_type" {
					kind = model.SymbolInterface
				}
				ex.Symbols = append(ex.Symbols, model.SymbolRange{Name: name, StartLine: nodeLine(child, true), EndLine: nodeLine(child, false)})
				if isExportedGoName(name) {
					ex.Exports = append(ex.Exports, model.Export{Name: name, Kind: kind})
				}
			}
		}
	}
	return ex
}

func isExportedGoName(name string) bool {
	return name != "" && name[0] >= 'A' && name[0] <= 'Z'
}

func collectGoCalls(fn *sitter.Node, content []byte, callerName string, edges *[]model.CallEdge) {
	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		if n.Type() == "call_expression" {
			if fnNode := n.ChildByFieldName("function"); fnNode != nil {
				callee := lastIdentSegment(fnNode.Content(content))
				if callee != "" {
					*edges = append(*edges, model.CallEdge{Caller: callerName, Callee: callee})
				}
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(fn)
}

func lastIdentSegment(expr string) string {
	expr = strings.TrimSpace(expr)
	if idx := strings.LastIndex(expr, "."); idx != -1 {
		return expr[idx+1:]
	}
	return expr
}

// walkJSLike handles both JavaScript and TypeScript top-level declarations;
// the two grammars share enough node-type names for a single walker.
func walkJSLike(root *sitter.Node, content []byte) extraction {
	var ex extraction
	var walkTop func(n *sitter.Node, exported bool)
	walkTop = func(n *sitter.Node, exported bool) {
		if n == nil {
			return
		}
		switch n.Type() {
		case "function_declaration", "generator_function_declaration":
			nameNode := n.ChildByFieldName("name")
			if nameNode != nil {
				name := nameNode.Content(content)
				ex.Symbols = append(ex.Symbols, model.SymbolRange{Name: name, StartLine: nodeLine(n, true), EndLine: nodeLine(n, false)})
				if exported {
					ex.Exports = append(ex.Exports, model.Export{Name: name, Kind: model.SymbolFunction})
				}
				collectJSCalls(n, content, name, &ex.CallEdges)
			}
		case "class_declaration":
			nameNode := n.ChildByFieldName("name")
			if nameNode != nil {
				name := nameNode.Content(content)
				ex.Symbols = append(ex.Symbols, model.SymbolRange{Name: name, StartLine: nodeLine(n, true), EndLine: nodeLine(n, false)})
				if exported {
					ex.Exports = append(ex.Exports, model.Export{Name: name, Kind: model.SymbolClass})
				}
			}
		case "export_statement":
			inner := n.NamedChild(0)
			walkTop(inner, true)
		case "lexical_declaration", "variable_declaration":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				decl := n.NamedChild(i)
				if decl == nil || decl.Type() != "variable_declarator" {
					continue
				}
				nameNode := decl.ChildByFieldName("name")
				if nameNode == nil {
					continue
				}
				name := nameNode.Content(content)
				ex.Symbols = append(ex.Symbols, model.SymbolRange{Name: name, StartLine: nodeLine(n, true), EndLine: nodeLine(n, false)})
				if exported {
					ex.Exports = append(ex.Exports, model.Export{Name: name, Kind: model.SymbolVariable})
				}
			}
		}
	}
	for i := 0; i < int(root.ChildCount()); i++ {
		walkTop(root.Child(i), false)
	}
	return ex
}

func collectJSCalls(fn *sitter.Node, content []byte, callerName string, edges *[]model.CallEdge) {
	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		if n.Type() == "call_expression" {
			if fnNode := n.ChildByFieldName("function"); fnNode != nil {
				callee := lastIdentSegment(fnNode.Content(content))
				if callee != "" {
					*edges = append(*edges, model.CallEdge{Caller: callerName, Callee: callee})
				}
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(fn)
}

// --- Regex fallback extractor (spec §4.C2 step 3 "else") ---

var (
	reGoFunc      = regexp.MustCompile(`(?m)^func\s+(?:\([^)]*\)\s*)?([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	reGoType      = regexp.MustCompile(`(?m)^type\s+([A-Za-z_][A-Za-z0-9_]*)\s+`)
	reJSFunc      = regexp.MustCompile(`(?m)^\s*(?:export\s+)?(?:async\s+)?function\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*\(`)
	reJSClass     = regexp.MustCompile(`(?m)^\s*(?:export\s+)?class\s+([A-Za-z_$][A-Za-z0-9_$]*)`)
	rePyFunc      = regexp.MustCompile(`(?m)^\s*def\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	rePyClass     = regexp.MustCompile(`(?m)^\s*class\s+([A-Za-z_][A-Za-z0-9_]*)`)
	reImportGo    = regexp.MustCompile(`(?m)^\s*"([^"]+)"`)
	reImportJSish = regexp.MustCompile(`(?m)(?:from\s+['"]([^'"]+)['"]|require\(\s*['"]([^'"]+)['"]\s*\)|^\s*import\s+['"]([^'"]+)['"])`)
	rePyImport    = regexp.MustCompile(`(?m)^\s*(?:from\s+([\w.]+)\s+import|import\s+([\w.]+))`)
)

func extractWithRegex(relPath string, content []byte) extraction {
	ext := strings.ToLower(filepath.Ext(relPath))
	var ex extraction
	lines := splitLines(content)
	addSymbol := func(name string, kind model.SymbolKind, lineIdx int, exported bool) {
		ex.Symbols = append(ex.Symbols, model.SymbolRange{Name: name, StartLine: lineIdx + 1, EndLine: lineIdx + 1})
		if exported {
			ex.Exports = append(ex.Exports, model.Export{Name: name, Kind: kind})
		}
	}

	switch ext {
	case ".go":
		for i, line := range lines {
			if m := reGoFunc.FindStringSubmatch(line); m != nil {
				addSymbol(m[1], model.SymbolFunction, i, isExportedGoName(m[1]))
			}
			if m := reGoType.FindStringSubmatch(line); m != nil {
				addSymbol(m[1], model.SymbolType, i, isExportedGoName(m[1]))
			}
		}
		ex.Imports = extractImportsRegex(content)
	case ".py":
		for i, line := range lines {
			if m := rePyFunc.FindStringSubmatch(line); m != nil {
				addSymbol(m[1], model.SymbolFunction, i, !strings.HasPrefix(m[1], "_"))
			}
			if m := rePyClass.FindStringSubmatch(line); m != nil {
				addSymbol(m[1], model.SymbolClass, i, !strings.HasPrefix(m[1], "_"))
			}
		}
		ex.Imports = extractImportsRegex(content)
	default:
		for i, line := range lines {
			exported := strings.Contains(line, "export")
			if m := reJSFunc.FindStringSubmatch(line); m != nil {
				addSymbol(m[1], model.SymbolFunction, i, exported)
			}
			if m := reJSClass.FindStringSubmatch(line); m != nil {
				addSymbol(m[1], model.SymbolClass, i, exported)
			}
		}
		ex.Imports = extractImportsRegex(content)
	}
	ex.Complexity = cyclomaticComplexity(content)
	return ex
}

func splitLines(content []byte) []string {
	return strings.Split(string(content), "\n")
}

// extractImportsRegex is used by both backends: import *statement* syntax
// varies too much across languages to be worth a grammar-specific walk when
// all callers just need the raw specifier list.
func extractImportsRegex(content []byte) []string {
	s := string(content)
	var out []string
	seen := map[string]struct{}{}
	add := func(v string) {
		v = strings.TrimSpace(v)
		if v == "" {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	for _, m := range reImportGo.FindAllStringSubmatch(s, -1) {
		add(m[1])
	}
	for _, m := range reImportJSish.FindAllStringSubmatch(s, -1) {
		for _, g := range m[1:] {
			add(g)
		}
	}
	for _, m := range rePyImport.FindAllStringSubmatch(s, -1) {
		for _, g := range m[1:] {
			add(g)
		}
	}
	return out
}

// cyclomaticComplexity is a cheap proxy: count branch/loop/logical-operator
// keywords plus 1, a common approximation when a full CFG isn't available.
var reBranchKeyword = regexp.MustCompile(`\b(if|for|while|case|catch|except|elif)\b|&&|\|\|`)

func cyclomaticComplexity(content []byte) int {
	return 1 + len(reBranchKeyword.FindAll(content, -1))
}
