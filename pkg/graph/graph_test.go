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

package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_Python(t *testing.T) {
	files := []FileImports{
		{Path: "src/main.py", Language: "python", Imports: []string{"os", "numpy.linalg"}},
		{Path: "src/util.py", Language: "python", Imports: []string{"src.main", "json"}},
		{Path: "src/pkg/__init__.py", Language: "python", Imports: []string{}},
		{Path: "src/pkg/worker.py", Language: "python", Imports: []string{"..util", "src.pkg"}},
	}

	deps := Resolve(files)

	assert.Empty(t, deps["src/main.py"].Imports)
	assert.Equal(t, []string{"numpy", "os"}, deps["src/main.py"].ExternalImports)
	assert.Equal(t, []string{"src/util.py"}, deps["src/main.py"].ImportedBy)

	assert.Equal(t, []string{"src/main.py"}, deps["src/util.py"].Imports)
	assert.Equal(t, []string{"json"}, deps["src/util.py"].ExternalImports)

	// Relative import climbs one package, dotted import lands on __init__.
	assert.Equal(t, []string{"src/pkg/__init__.py", "src/util.py"}, deps["src/pkg/worker.py"].Imports)
	assert.Equal(t, []string{"src/pkg/worker.py"}, deps["src/pkg/__init__.py"].ImportedBy)
}

func TestResolve_JavaScript(t *testing.T) {
	files := []FileImports{
		{Path: "src/app.ts", Language: "typescript", Imports: []string{"./components", "../lib/http", "react", "@scope/pkg/deep"}},
		{Path: "src/components/index.tsx", Language: "tsx", Imports: []string{"react"}},
		{Path: "lib/http.ts", Language: "typescript", Imports: []string{}},
	}

	deps := Resolve(files)

	assert.Equal(t, []string{"lib/http.ts", "src/components/index.tsx"}, deps["src/app.ts"].Imports)
	assert.Equal(t, []string{"@scope/pkg", "react"}, deps["src/app.ts"].ExternalImports)
	assert.Equal(t, []string{"src/app.ts"}, deps["lib/http.ts"].ImportedBy)
}

func TestResolve_Go(t *testing.T) {
	files := []FileImports{
		{Path: "cmd/tool/main.go", Language: "go", Imports: []string{"example.com/tool/pkg/engine", "fmt"}},
		{Path: "pkg/engine/engine.go", Language: "go", Imports: []string{"context"}},
		{Path: "pkg/engine/engine_test.go", Language: "go", Imports: []string{}},
	}

	deps := Resolve(files)

	assert.Equal(t, []string{"pkg/engine/engine.go"}, deps["cmd/tool/main.go"].Imports)
	assert.Equal(t, []string{"fmt"}, deps["cmd/tool/main.go"].ExternalImports)
	assert.Equal(t, []string{"cmd/tool/main.go"}, deps["pkg/engine/engine.go"].ImportedBy)
}

func TestResolve_Rust(t *testing.T) {
	files := []FileImports{
		{Path: "src/main.rs", Language: "rust", Imports: []string{"crate::net::server", "std::io", "serde::Deserialize"}},
		{Path: "src/net/mod.rs", Language: "rust", Imports: []string{}},
		{Path: "src/net/server.rs", Language: "rust", Imports: []string{"super::mod_helpers"}},
	}

	deps := Resolve(files)

	assert.Equal(t, []string{"src/net/server.rs"}, deps["src/main.rs"].Imports)
	assert.Equal(t, []string{"serde"}, deps["src/main.rs"].ExternalImports)
	assert.Equal(t, []string{"src/main.rs"}, deps["src/net/server.rs"].ImportedBy)
}

func TestResolve_CIncludes(t *testing.T) {
	files := []FileImports{
		{Path: "src/main.c", Language: "c", Imports: []string{"util.h", "stdio.h"}},
		{Path: "src/util.h", Language: "c", Imports: []string{}},
	}

	deps := Resolve(files)

	assert.Equal(t, []string{"src/util.h"}, deps["src/main.c"].Imports)
	assert.Equal(t, []string{"stdio.h"}, deps["src/main.c"].ExternalImports)
}

func TestResolve_ReverseEdgeInvariant(t *testing.T) {
	files := []FileImports{
		{Path: "a.py", Language: "python", Imports: []string{"b"}},
		{Path: "b.py", Language: "python", Imports: []string{"c"}},
		{Path: "c.py", Language: "python", Imports: []string{"a"}}, // cycle
	}

	deps := Resolve(files)

	for src, d := range deps {
		for _, target := range d.Imports {
			assert.Contains(t, deps[target].ImportedBy, src,
				"forward edge %s -> %s missing reverse edge", src, target)
		}
	}
	assert.Equal(t, []string{"b.py"}, deps["a.py"].Imports)
	assert.Equal(t, []string{"c.py"}, deps["a.py"].ImportedBy)
}

func TestResolve_Deterministic(t *testing.T) {
	files := []FileImports{
		{Path: "src/x.py", Language: "python", Imports: []string{"src.y", "os", "requests"}},
		{Path: "src/y.py", Language: "python", Imports: []string{"src.x"}},
	}

	first := Resolve(files)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, Resolve(files))
	}
}

func TestResolve_SelfImportIgnored(t *testing.T) {
	files := []FileImports{
		{Path: "src/a.py", Language: "python", Imports: []string{"src.a"}},
	}
	deps := Resolve(files)
	assert.Empty(t, deps["src/a.py"].Imports)
	assert.Empty(t, deps["src/a.py"].ImportedBy)
}
