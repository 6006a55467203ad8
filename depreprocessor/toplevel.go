// Copyright 2020-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package depreprocessor

import (
	"github.com/bufbuild/ccp/ppresult"
	"github.com/bufbuild/ccp/token"
)

// AppendTopLevel appends everything the root file ref contributed to the
// output: headers it includes directly become #includes, and its own tokens
// become one chunk per top-level declaration or statement, copied
// unchanged. If expand is set, macro invocations in those chunks are
// written expanded.
func (d *Depreprocessor) AppendTopLevel(ref ppresult.NodeRef, expand bool) {
	node := d.res.Node(ref)
	var includes []ppresult.NodeRef
	d.res.Descendants(ref, func(child ppresult.NodeRef, n *ppresult.Node) {
		if n.Kind == ppresult.HeaderChild && d.res.Header(n.Parent) == ref {
			includes = append(includes, child)
		}
	})

	begin := node.Range.Begin
	for _, inc := range includes {
		n := d.res.Node(inc)
		d.appendDeclarations(d.res.RawToPP(token.Range{Begin: begin, End: n.Include.Begin}), expand)
		d.AppendInclude(inc)
		begin = n.Range.End
	}
	d.appendDeclarations(d.res.RawToPP(token.Range{Begin: begin, End: node.Range.End}), expand)
}

// appendDeclarations splits the expanded tokens rng after every ";" or "}"
// outside of parentheses, brackets and braces, and appends a chunk for each
// piece. A "}" directly followed by ";" ends the piece after the ";".
func (d *Depreprocessor) appendDeclarations(rng token.Range, expand bool) {
	pp := d.res.PP()
	begin := rng.Begin
	flush := func(end int) {
		b := token.Range{Begin: begin, End: end}
		begin = end
		for b.Begin < b.End && pp[b.Begin].Kind.IsTrivial() {
			b.Begin++
		}
		for b.End > b.Begin && pp[b.End-1].Kind.IsTrivial() {
			b.End--
		}
		if b.IsEmpty() {
			return
		}
		c := NewChunk(d.res, b)
		c.CopyRange(b, false)
		if expand {
			c.EmitExpanded(b)
		}
		d.AppendChunk(c)
	}

	depth := 0
	for t := rng.Begin; t < rng.End; t++ {
		tok := pp[t]
		switch {
		case tok.Is("(") || tok.Is("[") || tok.Is("{"):
			depth++
			continue
		case tok.Is(")") || tok.Is("]"):
			depth = max(0, depth-1)
			continue
		case tok.Is("}"):
			depth = max(0, depth-1)
		case !tok.Is(";"):
			continue
		}
		if depth > 0 {
			continue
		}

		end := t + 1
		if tok.Is("}") {
			next := end
			for next < rng.End && pp[next].Kind.IsTrivial() {
				next++
			}
			if next < rng.End && pp[next].Is(";") {
				end, t = next+1, next
			}
		}
		if inv := d.res.InvocationOf(end - 1); inv != nil && inv.PP.End > end {
			// The invocation goes on; so does the piece.
			continue
		}
		flush(end)
	}
	flush(rng.End)
}
