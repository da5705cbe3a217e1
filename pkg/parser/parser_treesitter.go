// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package parser

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/php"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// languageSpec carries the Tree-sitter grammar and the node-type tables
// for one language: which node types denote classes, callables, and
// imports. Parsers are pooled because they are not thread-safe.
type languageSpec struct {
	pool        sync.Pool
	classNodes  map[string]bool
	funcNodes   map[string]bool
	importNodes map[string]bool
}

// TreeSitterParser is a generic multi-language structural parser. It walks
// the syntax tree with per-language node-type tables; parameter and base
// class extraction is best-effort (names where the grammar exposes them,
// counts otherwise).
type TreeSitterParser struct {
	logger *slog.Logger
	specs  map[string]*languageSpec
}

// NewTreeSitterParser creates a parser with grammars for JavaScript,
// TypeScript (incl. JSX/TSX), Python, Java, Rust, C, C++, and PHP.
func NewTreeSitterParser(logger *slog.Logger) *TreeSitterParser {
	if logger == nil {
		logger = slog.Default()
	}
	p := &TreeSitterParser{
		logger: logger,
		specs:  make(map[string]*languageSpec),
	}

	p.addSpec([]string{"javascript", "jsx"}, javascript.GetLanguage(),
		[]string{"class_declaration"},
		[]string{"function_declaration", "generator_function_declaration", "method_definition"},
		[]string{"import_statement"},
	)
	p.addSpec([]string{"typescript"}, typescript.GetLanguage(),
		[]string{"class_declaration", "abstract_class_declaration"},
		[]string{"function_declaration", "generator_function_declaration", "method_definition"},
		[]string{"import_statement"},
	)
	p.addSpec([]string{"tsx"}, tsx.GetLanguage(),
		[]string{"class_declaration", "abstract_class_declaration"},
		[]string{"function_declaration", "generator_function_declaration", "method_definition"},
		[]string{"import_statement"},
	)
	p.addSpec([]string{"python"}, python.GetLanguage(),
		[]string{"class_definition"},
		[]string{"function_definition"},
		[]string{"import_statement", "import_from_statement"},
	)
	p.addSpec([]string{"java"}, java.GetLanguage(),
		[]string{"class_declaration", "interface_declaration", "enum_declaration"},
		[]string{"method_declaration", "constructor_declaration"},
		[]string{"import_declaration"},
	)
	p.addSpec([]string{"rust"}, rust.GetLanguage(),
		[]string{"struct_item", "trait_item", "impl_item", "enum_item"},
		[]string{"function_item"},
		[]string{"use_declaration"},
	)
	p.addSpec([]string{"c"}, c.GetLanguage(),
		[]string{"struct_specifier"},
		[]string{"function_definition"},
		[]string{"preproc_include"},
	)
	p.addSpec([]string{"cpp"}, cpp.GetLanguage(),
		[]string{"class_specifier", "struct_specifier"},
		[]string{"function_definition"},
		[]string{"preproc_include"},
	)
	p.addSpec([]string{"php"}, php.GetLanguage(),
		[]string{"class_declaration", "interface_declaration", "trait_declaration"},
		[]string{"function_definition", "method_declaration"},
		[]string{"namespace_use_declaration"},
	)

	return p
}

func (p *TreeSitterParser) addSpec(names []string, lang *sitter.Language, classNodes, funcNodes, importNodes []string) {
	spec := &languageSpec{
		classNodes:  toSet(classNodes),
		funcNodes:   toSet(funcNodes),
		importNodes: toSet(importNodes),
	}
	spec.pool.New = func() any {
		parser := sitter.NewParser()
		parser.SetLanguage(lang)
		return parser
	}
	for _, name := range names {
		p.specs[name] = spec
	}
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, s := range items {
		set[s] = true
	}
	return set
}

// Languages returns the language names this parser handles, sorted.
func (p *TreeSitterParser) Languages() []string {
	langs := make([]string, 0, len(p.specs))
	for name := range p.specs {
		langs = append(langs, name)
	}
	sort.Strings(langs)
	return langs
}

// Parse extracts classes, functions, and imports from a source file.
// Files whose tree contains syntax errors are rejected; the registry
// records the error and stores the file without structure.
func (p *TreeSitterParser) Parse(code, path, language string) (*Result, error) {
	spec, ok := p.specs[language]
	if !ok {
		return nil, fmt.Errorf("no grammar registered for language %q", language)
	}

	parserObj := spec.pool.Get()
	parser, ok := parserObj.(*sitter.Parser)
	if !ok {
		return nil, fmt.Errorf("invalid parser type from %s pool", language)
	}
	defer spec.pool.Put(parser)

	src := []byte(code)
	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", language, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, fmt.Errorf("syntax error in %s", path)
	}

	res := &Result{}
	p.walk(root, src, language, spec, nil, res)
	mergeClasses(res)
	return res, nil
}

// walk visits named nodes recursively. Callables found while cls is non-nil
// become methods of that class; decorated Python definitions are unwrapped
// so decorator flags survive.
func (p *TreeSitterParser) walk(node *sitter.Node, src []byte, lang string, spec *languageSpec, cls *ClassRecord, res *Result) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		nodeType := child.Type()

		switch {
		case spec.importNodes[nodeType]:
			res.Imports = append(res.Imports, extractImports(child, src, lang)...)

		case nodeType == "decorated_definition":
			p.walkDecorated(child, src, lang, spec, cls, res)

		case spec.classNodes[nodeType]:
			record := p.classRecord(child, src, lang)
			if record == nil {
				// Anonymous or unnamed declaration; descend anyway.
				p.walk(child, src, lang, spec, cls, res)
				continue
			}
			p.walk(child, src, lang, spec, record, res)
			res.Classes = append(res.Classes, *record)

		case spec.funcNodes[nodeType]:
			fn := p.functionRecord(child, src, lang)
			if fn == nil {
				continue
			}
			if cls != nil {
				cls.Methods = append(cls.Methods, *fn)
			} else {
				res.Functions = append(res.Functions, *fn)
			}
			// Nested definitions (closures, local helpers) inside the body
			// are standalone callables, not methods of the enclosing class.
			if body := child.ChildByFieldName("body"); body != nil {
				p.walk(body, src, lang, spec, nil, res)
			}

		default:
			p.walk(child, src, lang, spec, cls, res)
		}
	}
}

// walkDecorated handles Python decorated_definition nodes: decorator flags
// are applied to the wrapped function or class.
func (p *TreeSitterParser) walkDecorated(node *sitter.Node, src []byte, lang string, spec *languageSpec, cls *ClassRecord, res *Result) {
	var isStatic, isClassMethod bool
	var inner *sitter.Node

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "decorator":
			text := child.Content(src)
			if strings.Contains(text, "staticmethod") {
				isStatic = true
			}
			if strings.Contains(text, "classmethod") {
				isClassMethod = true
			}
		default:
			inner = child
		}
	}
	if inner == nil {
		return
	}

	switch {
	case spec.classNodes[inner.Type()]:
		record := p.classRecord(inner, src, lang)
		if record == nil {
			return
		}
		record.LineStart = int(node.StartPoint().Row) + 1
		p.walk(inner, src, lang, spec, record, res)
		res.Classes = append(res.Classes, *record)
	case spec.funcNodes[inner.Type()]:
		fn := p.functionRecord(inner, src, lang)
		if fn == nil {
			return
		}
		fn.IsStatic = isStatic
		fn.IsClassMethod = isClassMethod
		if cls != nil {
			cls.Methods = append(cls.Methods, *fn)
		} else {
			res.Functions = append(res.Functions, *fn)
		}
	}
}

// classRecord builds a class record from a class-like node. Returns nil
// for anonymous declarations.
func (p *TreeSitterParser) classRecord(node *sitter.Node, src []byte, lang string) *ClassRecord {
	name := classNameOf(node, src)
	if name == "" {
		return nil
	}
	record := &ClassRecord{
		Name:        name,
		LineStart:   int(node.StartPoint().Row) + 1,
		LineEnd:     int(node.EndPoint().Row) + 1,
		BaseClasses: baseClasses(node, src),
	}
	if lang == "python" {
		record.Docstring = pythonDocstring(node, src)
	}
	return record
}

// classNameOf resolves the name of a class-like node. Rust impl blocks name
// the type they attach methods to.
func classNameOf(node *sitter.Node, src []byte) string {
	if node.Type() == "impl_item" {
		if t := node.ChildByFieldName("type"); t != nil {
			return strings.TrimLeft(t.Content(src), "&*")
		}
		return ""
	}
	if n := node.ChildByFieldName("name"); n != nil {
		return n.Content(src)
	}
	return ""
}

// functionRecord builds a function record from a callable node.
func (p *TreeSitterParser) functionRecord(node *sitter.Node, src []byte, lang string) *FunctionRecord {
	name := functionNameOf(node, src)
	if name == "" {
		return nil
	}

	fn := &FunctionRecord{
		Name:       name,
		LineStart:  int(node.StartPoint().Row) + 1,
		LineEnd:    int(node.EndPoint().Row) + 1,
		Parameters: parameterNames(node, src),
		IsAsync:    hasKeywordChild(node, "async"),
		Signature:  signatureOf(node, src),
	}

	if rt := node.ChildByFieldName("return_type"); rt != nil {
		fn.ReturnType = strings.TrimSpace(strings.TrimPrefix(rt.Content(src), "->"))
	} else if lang == "java" {
		if t := node.ChildByFieldName("type"); t != nil {
			fn.ReturnType = t.Content(src)
		}
	}
	if lang == "python" {
		fn.Docstring = pythonDocstring(node, src)
	}
	if mods := childOfType(node, "modifiers"); mods != nil && strings.Contains(mods.Content(src), "static") {
		fn.IsStatic = true
	}
	return fn
}

// functionNameOf resolves a callable's name, descending C/C++ declarator
// chains when the grammar has no direct name field.
func functionNameOf(node *sitter.Node, src []byte) string {
	if n := node.ChildByFieldName("name"); n != nil {
		return n.Content(src)
	}
	decl := node.ChildByFieldName("declarator")
	for decl != nil {
		switch decl.Type() {
		case "identifier", "field_identifier", "qualified_identifier", "destructor_name", "operator_name":
			return decl.Content(src)
		}
		next := decl.ChildByFieldName("declarator")
		if next == nil {
			// Pointer declarators nest the function declarator as a child.
			next = namedDescendantOfTypes(decl, "identifier", "field_identifier", "qualified_identifier")
		}
		decl = next
	}
	return ""
}

// parameterNames extracts parameter names best-effort: the first identifier
// inside each parameter entry, with defaults and type annotations stripped.
func parameterNames(node *sitter.Node, src []byte) []string {
	params := node.ChildByFieldName("parameters")
	if params == nil {
		if decl := node.ChildByFieldName("declarator"); decl != nil {
			params = decl.ChildByFieldName("parameters")
		}
	}
	if params == nil {
		return nil
	}

	var names []string
	for i := 0; i < int(params.NamedChildCount()); i++ {
		entry := params.NamedChild(i)
		if entry.Type() == "comment" {
			continue
		}
		switch entry.Type() {
		case "identifier", "variable_name", "self", "this":
			names = append(names, entry.Content(src))
			continue
		case "self_parameter":
			names = append(names, "self")
			continue
		}
		if id := namedDescendantOfTypes(entry, "identifier", "variable_name", "field_identifier"); id != nil {
			names = append(names, id.Content(src))
			continue
		}
		if text := strings.TrimSpace(entry.Content(src)); text != "" && text != "void" {
			names = append(names, text)
		}
	}
	return names
}

// signatureOf renders the declaration header: everything before the body,
// collapsed to a single line.
func signatureOf(node *sitter.Node, src []byte) string {
	end := node.EndByte()
	if body := node.ChildByFieldName("body"); body != nil {
		end = body.StartByte()
	}
	sig := string(src[node.StartByte():end])
	sig = strings.TrimRight(strings.TrimSpace(sig), "{:")
	return strings.Join(strings.Fields(sig), " ")
}

// baseClasses collects superclass/interface names from the heritage clause.
func baseClasses(node *sitter.Node, src []byte) []string {
	clauseTypes := map[string]bool{
		"superclasses":     true, // python
		"class_heritage":   true, // javascript/typescript
		"superclass":       true, // java
		"super_interfaces": true, // java
		"base_clause":      true, // cpp/php
		"extends_clause":   true,
		"implements_clause": true,
	}

	var bases []string
	if supers := node.ChildByFieldName("superclasses"); supers != nil {
		collectTypeNames(supers, src, &bases)
		return bases
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if !clauseTypes[child.Type()] {
			continue
		}
		collectTypeNames(child, src, &bases)
	}
	return bases
}

// collectTypeNames gathers identifier-like descendants of a heritage clause.
func collectTypeNames(node *sitter.Node, src []byte, out *[]string) {
	switch node.Type() {
	case "identifier", "type_identifier", "attribute", "scoped_identifier", "scoped_type_identifier", "qualified_name", "name":
		*out = append(*out, node.Content(src))
		return
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		collectTypeNames(node.NamedChild(i), src, out)
	}
}

// pythonDocstring returns the leading string expression of a body block.
func pythonDocstring(node *sitter.Node, src []byte) string {
	body := node.ChildByFieldName("body")
	if body == nil || body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	str := first.NamedChild(0)
	if str.Type() != "string" {
		return ""
	}
	text := str.Content(src)
	text = strings.Trim(text, "\"'")
	return strings.TrimSpace(text)
}

// extractImports pulls the raw import strings out of an import node.
func extractImports(node *sitter.Node, src []byte, lang string) []string {
	switch lang {
	case "python":
		if node.Type() == "import_from_statement" {
			if mod := node.ChildByFieldName("module_name"); mod != nil {
				return []string{mod.Content(src)}
			}
			return nil
		}
		var mods []string
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			switch child.Type() {
			case "dotted_name":
				mods = append(mods, child.Content(src))
			case "aliased_import":
				if name := child.ChildByFieldName("name"); name != nil {
					mods = append(mods, name.Content(src))
				}
			}
		}
		return mods

	case "javascript", "jsx", "typescript", "tsx":
		if source := node.ChildByFieldName("source"); source != nil {
			return []string{strings.Trim(source.Content(src), "\"'`")}
		}
		return nil

	case "c", "cpp":
		if path := node.ChildByFieldName("path"); path != nil {
			return []string{strings.Trim(path.Content(src), "\"<>")}
		}
		return nil

	case "php":
		var uses []string
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			if name := namedDescendantOfTypes(child, "qualified_name", "name"); name != nil {
				uses = append(uses, name.Content(src))
			}
		}
		return uses
	}

	// java import_declaration, rust use_declaration: first named child text.
	if node.NamedChildCount() > 0 {
		return []string{node.NamedChild(0).Content(src)}
	}
	return nil
}

// hasKeywordChild reports whether the node carries an anonymous keyword
// token of the given type (e.g. "async").
func hasKeywordChild(node *sitter.Node, keyword string) bool {
	for i := 0; i < int(node.ChildCount()); i++ {
		if node.Child(i).Type() == keyword {
			return true
		}
	}
	return false
}

// childOfType returns the first named child of the given type.
func childOfType(node *sitter.Node, nodeType string) *sitter.Node {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() == nodeType {
			return child
		}
	}
	return nil
}

// namedDescendantOfTypes returns the first descendant matching any of the
// given node types, depth-first.
func namedDescendantOfTypes(node *sitter.Node, types ...string) *sitter.Node {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		for _, t := range types {
			if child.Type() == t {
				return child
			}
		}
		if found := namedDescendantOfTypes(child, types...); found != nil {
			return found
		}
	}
	return nil
}

// mergeClasses merges class records sharing a name. Rust splits a type
// across struct_item and impl_item nodes; the merged record spans both and
// carries the union of methods.
func mergeClasses(res *Result) {
	if len(res.Classes) < 2 {
		return
	}
	byName := make(map[string]int)
	merged := make([]ClassRecord, 0, len(res.Classes))
	for _, cls := range res.Classes {
		idx, seen := byName[cls.Name]
		if !seen {
			byName[cls.Name] = len(merged)
			merged = append(merged, cls)
			continue
		}
		existing := &merged[idx]
		if cls.LineStart < existing.LineStart {
			existing.LineStart = cls.LineStart
		}
		if cls.LineEnd > existing.LineEnd {
			existing.LineEnd = cls.LineEnd
		}
		existing.Methods = append(existing.Methods, cls.Methods...)
		existing.BaseClasses = append(existing.BaseClasses, cls.BaseClasses...)
		if existing.Docstring == "" {
			existing.Docstring = cls.Docstring
		}
	}
	res.Classes = merged
}
