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

package githubapi

import (
	"sort"
	"strings"
)

// maxFileSize is the inclusion cutoff: anything larger is skipped.
const maxFileSize = 100_000

// TreeNode is one node of the nested file tree. Folder nodes carry
// Children keyed by entry name; file nodes carry the full path, size, and
// blob URL. Every leaf path equals the concatenation of its ancestor keys.
type TreeNode struct {
	Type     string               `json:"type"`
	Path     string               `json:"path,omitempty"`
	Size     int64                `json:"size,omitempty"`
	URL      string               `json:"url,omitempty"`
	Children map[string]*TreeNode `json:"children,omitempty"`
}

// FileRef is one retained file of the flattened tree.
type FileRef struct {
	Path string
	Size int64
	URL  string
}

// treeEntry is one row of GitHub's flat recursive tree response.
type treeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// BuildNestedTree converts GitHub's flat listing into a nested tree,
// dropping everything the inclusion filter rejects and files over 100 KB.
func BuildNestedTree(entries []treeEntry) *TreeNode {
	root := &TreeNode{
		Type:     "folder",
		Children: make(map[string]*TreeNode),
	}

	for _, entry := range entries {
		if entry.Type != "blob" {
			continue
		}
		if ShouldIgnorePath(entry.Path) {
			continue
		}
		if entry.Size > maxFileSize {
			continue
		}

		parts := strings.Split(entry.Path, "/")
		current := root
		for i, part := range parts {
			if i == len(parts)-1 {
				current.Children[part] = &TreeNode{
					Type: "file",
					Path: entry.Path,
					Size: entry.Size,
					URL:  entry.URL,
				}
				continue
			}
			next, ok := current.Children[part]
			if !ok {
				next = &TreeNode{
					Type:     "folder",
					Children: make(map[string]*TreeNode),
				}
				current.Children[part] = next
			}
			current = next
		}
	}
	return root
}

// FlattenTree returns every file of a nested tree, sorted by path.
func FlattenTree(root *TreeNode) []FileRef {
	var files []FileRef
	flattenInto(root, &files)
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files
}

func flattenInto(node *TreeNode, out *[]FileRef) {
	if node == nil {
		return
	}
	if node.Type == "file" {
		*out = append(*out, FileRef{Path: node.Path, Size: node.Size, URL: node.URL})
		return
	}
	for _, child := range node.Children {
		flattenInto(child, out)
	}
}

// CountFiles returns the number of file leaves in a tree.
func CountFiles(root *TreeNode) int {
	return len(FlattenTree(root))
}
