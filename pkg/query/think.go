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

package query

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// ThinkFilter strips <think>...</think> regions from streamed content on
// the fly. It holds back at most len(thinkClose) bytes of a potential tag
// split across deltas; Flush releases whatever remains when the stream
// ends.
type ThinkFilter struct {
	pending  string
	thinking bool
}

// Feed consumes one content delta and returns the text safe to emit.
func (f *ThinkFilter) Feed(chunk string) string {
	f.pending += chunk
	var out strings.Builder

	for {
		if f.thinking {
			idx := strings.Index(f.pending, thinkClose)
			if idx < 0 {
				// Drop everything but a possible partial closing tag.
				f.pending = tailPartial(f.pending, thinkClose)
				return out.String()
			}
			f.pending = f.pending[idx+len(thinkClose):]
			f.thinking = false
			continue
		}

		idx := strings.Index(f.pending, thinkOpen)
		if idx < 0 {
			keep := tailPartial(f.pending, thinkOpen)
			out.WriteString(f.pending[:len(f.pending)-len(keep)])
			f.pending = keep
			return out.String()
		}
		out.WriteString(f.pending[:idx])
		f.pending = f.pending[idx+len(thinkOpen):]
		f.thinking = true
	}
}

// Flush returns any held-back text. A partial opening tag at stream end is
// real content; a partial closing tag inside a think region is dropped
// with the region.
func (f *ThinkFilter) Flush() string {
	if f.thinking {
		f.pending = ""
		return ""
	}
	out := f.pending
	f.pending = ""
	return out
}

// tailPartial returns the longest suffix of s that is a proper prefix of
// tag.
func tailPartial(s, tag string) string {
	max := len(tag) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(s, tag[:n]) {
			return s[len(s)-n:]
		}
	}
	return ""
}
