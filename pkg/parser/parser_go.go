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
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"
)

// ParseGo parses a Go source file with go/ast. Struct and interface type
// declarations become class records; methods attach to their receiver's
// base type. Doc comments become docstrings.
func ParseGo(code, path, _ string) (*Result, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, code, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("parse go source: %w", err)
	}

	res := &Result{}
	classes := make(map[string]*ClassRecord)
	var classOrder []string

	for _, imp := range file.Imports {
		if p, err := strconv.Unquote(imp.Path.Value); err == nil {
			res.Imports = append(res.Imports, p)
		}
	}

	for _, decl := range file.Decls {
		gd, ok := decl.(*ast.GenDecl)
		if !ok || gd.Tok != token.TYPE {
			continue
		}
		for _, spec := range gd.Specs {
			ts, ok := spec.(*ast.TypeSpec)
			if !ok {
				continue
			}
			cls := goClassRecord(fset, gd, ts)
			if cls == nil {
				continue
			}
			classes[cls.Name] = cls
			classOrder = append(classOrder, cls.Name)
		}
	}

	for _, decl := range file.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if !ok {
			continue
		}
		fn := goFunctionRecord(fset, fd)
		if fd.Recv == nil || len(fd.Recv.List) == 0 {
			res.Functions = append(res.Functions, fn)
			continue
		}
		recvType := receiverTypeName(fd.Recv.List[0].Type)
		if cls, ok := classes[recvType]; ok {
			cls.Methods = append(cls.Methods, fn)
		} else {
			// Receiver type declared in another file of the package.
			fn.ParentClass = recvType
			fn.IsMethod = true
			res.Functions = append(res.Functions, fn)
		}
	}

	for _, name := range classOrder {
		res.Classes = append(res.Classes, *classes[name])
	}
	return res, nil
}

// goClassRecord builds a class record from a struct or interface type
// declaration. Other type kinds (aliases, basic types) are skipped.
func goClassRecord(fset *token.FileSet, gd *ast.GenDecl, ts *ast.TypeSpec) *ClassRecord {
	var fields *ast.FieldList
	var isInterface bool

	switch t := ts.Type.(type) {
	case *ast.StructType:
		fields = t.Fields
	case *ast.InterfaceType:
		fields = t.Methods
		isInterface = true
	default:
		return nil
	}

	cls := &ClassRecord{
		Name:      ts.Name.Name,
		LineStart: fset.Position(gd.Pos()).Line,
		LineEnd:   fset.Position(gd.End()).Line,
	}
	if doc := gd.Doc; doc != nil {
		cls.Docstring = strings.TrimSpace(doc.Text())
	} else if ts.Doc != nil {
		cls.Docstring = strings.TrimSpace(ts.Doc.Text())
	}

	if fields == nil {
		return cls
	}
	for _, f := range fields.List {
		if len(f.Names) == 0 {
			// Embedded type: treat as a base class.
			cls.BaseClasses = append(cls.BaseClasses, typeString(f.Type))
			continue
		}
		if !isInterface {
			continue
		}
		ft, ok := f.Type.(*ast.FuncType)
		if !ok {
			continue
		}
		for _, name := range f.Names {
			m := FunctionRecord{
				Name:       name.Name,
				LineStart:  fset.Position(f.Pos()).Line,
				LineEnd:    fset.Position(f.End()).Line,
				Parameters: paramNames(ft.Params),
				ReturnType: resultString(ft.Results),
			}
			m.Signature = "func " + m.Name + signatureSuffix(ft)
			if f.Doc != nil {
				m.Docstring = strings.TrimSpace(f.Doc.Text())
			}
			cls.Methods = append(cls.Methods, m)
		}
	}
	return cls
}

// goFunctionRecord builds a function record from a declaration.
func goFunctionRecord(fset *token.FileSet, fd *ast.FuncDecl) FunctionRecord {
	fn := FunctionRecord{
		Name:       fd.Name.Name,
		LineStart:  fset.Position(fd.Pos()).Line,
		LineEnd:    fset.Position(fd.End()).Line,
		Parameters: paramNames(fd.Type.Params),
		ReturnType: resultString(fd.Type.Results),
	}
	if fd.Doc != nil {
		fn.Docstring = strings.TrimSpace(fd.Doc.Text())
	}

	var sig strings.Builder
	sig.WriteString("func ")
	if fd.Recv != nil && len(fd.Recv.List) > 0 {
		sig.WriteString("(" + fieldString(fd.Recv.List[0]) + ") ")
	}
	sig.WriteString(fd.Name.Name)
	sig.WriteString(signatureSuffix(fd.Type))
	fn.Signature = sig.String()
	return fn
}

// receiverTypeName returns the base type name of a method receiver,
// stripping pointers and generic type parameters.
func receiverTypeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverTypeName(t.X)
	case *ast.IndexExpr:
		return receiverTypeName(t.X)
	case *ast.IndexListExpr:
		return receiverTypeName(t.X)
	case *ast.Ident:
		return t.Name
	default:
		return ""
	}
}

// paramNames extracts parameter names; unnamed parameters contribute their
// type so the count stays right.
func paramNames(params *ast.FieldList) []string {
	if params == nil {
		return nil
	}
	var names []string
	for _, f := range params.List {
		if len(f.Names) == 0 {
			names = append(names, typeString(f.Type))
			continue
		}
		for _, n := range f.Names {
			names = append(names, n.Name)
		}
	}
	return names
}

// signatureSuffix renders "(params) results" for a function type.
func signatureSuffix(ft *ast.FuncType) string {
	var b strings.Builder
	b.WriteString("(")
	if ft.Params != nil {
		parts := make([]string, 0, len(ft.Params.List))
		for _, f := range ft.Params.List {
			parts = append(parts, fieldString(f))
		}
		b.WriteString(strings.Join(parts, ", "))
	}
	b.WriteString(")")
	if ret := resultString(ft.Results); ret != "" {
		b.WriteString(" " + ret)
	}
	return b.String()
}

// resultString renders a result list: "error", "(int, error)", or "".
func resultString(results *ast.FieldList) string {
	if results == nil || len(results.List) == 0 {
		return ""
	}
	var parts []string
	for _, f := range results.List {
		t := typeString(f.Type)
		if n := len(f.Names); n > 0 {
			for i := 0; i < n; i++ {
				parts = append(parts, t)
			}
		} else {
			parts = append(parts, t)
		}
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// fieldString renders "name type" or just the type for unnamed fields.
func fieldString(f *ast.Field) string {
	t := typeString(f.Type)
	if len(f.Names) == 0 {
		return t
	}
	names := make([]string, len(f.Names))
	for i, n := range f.Names {
		names[i] = n.Name
	}
	return strings.Join(names, ", ") + " " + t
}

// typeString renders a type expression to source form.
func typeString(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + typeString(t.X)
	case *ast.SelectorExpr:
		return typeString(t.X) + "." + t.Sel.Name
	case *ast.ArrayType:
		if t.Len == nil {
			return "[]" + typeString(t.Elt)
		}
		return "[...]" + typeString(t.Elt)
	case *ast.MapType:
		return "map[" + typeString(t.Key) + "]" + typeString(t.Value)
	case *ast.ChanType:
		switch t.Dir {
		case ast.RECV:
			return "<-chan " + typeString(t.Value)
		case ast.SEND:
			return "chan<- " + typeString(t.Value)
		default:
			return "chan " + typeString(t.Value)
		}
	case *ast.FuncType:
		return "func" + signatureSuffix(t)
	case *ast.InterfaceType:
		return "interface{}"
	case *ast.StructType:
		return "struct{}"
	case *ast.Ellipsis:
		return "..." + typeString(t.Elt)
	case *ast.IndexExpr:
		return typeString(t.X) + "[" + typeString(t.Index) + "]"
	case *ast.IndexListExpr:
		parts := make([]string, len(t.Indices))
		for i, idx := range t.Indices {
			parts[i] = typeString(idx)
		}
		return typeString(t.X) + "[" + strings.Join(parts, ", ") + "]"
	default:
		return "any"
	}
}
