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
	"slices"

	"github.com/bufbuild/ccp/ppresult"
)

// rewriteInvocations turns invocations whose expansion was only edited by
// replacing argument tokens passed through unchanged into rewrite ops, so
// that the invocation is kept with the replaced arguments instead of being
// written expanded.
func (c *Chunk) rewriteInvocations() {
	if c.bounds.IsEmpty() {
		return
	}
	var invs []*ppresult.Invocation
	for inv := range c.res.Invocations(c.res.PPToRaw(c.bounds)) {
		if c.bounds.Covers(inv.PP) && !c.isForced(inv.PP) && !hasDirective(c.res, inv.Raw) {
			invs = append(invs, inv)
		}
	}

	for _, inv := range invs {
		subst, ok := c.substitutions(inv)
		if !ok {
			continue
		}
		i := c.prepareInsert(inv.PP)
		c.ops = slices.Insert(c.ops, i, op{action: rewriteOp, rng: inv.PP, inv: inv, subst: subst})
	}
}

// substitutions returns the replacements of inv's raw argument tokens if the
// ops over inv's expansion amount to such replacements alone.
func (c *Chunk) substitutions(inv *ppresult.Invocation) (map[int]op, bool) {
	i := 0
	for i < len(c.ops) && c.ops[i].rng.End <= inv.PP.Begin {
		i++
	}

	replaced := make(map[int]op)
	next := inv.PP.Begin
	for ; i < len(c.ops) && c.ops[i].rng.Begin < inv.PP.End; i++ {
		o := c.ops[i]
		if o.action != copyOp && o.action != replaceOp || o.rng.Begin > next {
			return nil, false
		}
		if o.action == replaceOp {
			replaced[o.rng.Begin] = o
		}
		next = o.rng.End
	}
	if next < inv.PP.End || len(replaced) == 0 {
		return nil, false
	}

	rawOf := make(map[int]int, len(inv.Passthrough))
	for _, p := range inv.Passthrough {
		rawOf[p.PP] = p.Raw
	}
	subst := make(map[int]op)
	for pp, o := range replaced {
		raw, ok := rawOf[pp]
		if !ok {
			return nil, false
		}
		if prev, ok := subst[raw]; ok && !sameReplacement(prev, o) {
			return nil, false
		}
		subst[raw] = o
	}

	// Every copy of a replaced argument token must be replaced the same way.
	for _, p := range inv.Passthrough {
		want, ok := subst[p.Raw]
		if !ok {
			continue
		}
		if got, ok := replaced[p.PP]; !ok || !sameReplacement(got, want) {
			return nil, false
		}
	}
	return subst, true
}

func sameReplacement(a, b op) bool {
	return a.tok.Kind == b.tok.Kind && a.tok.Value == b.tok.Value && a.deref == b.deref
}

// joinable returns whether next directly continues c and a keepable
// invocation spans the boundary between the two.
func (c *Chunk) joinable(next *Chunk) bool {
	if len(c.ops) == 0 || len(next.ops) == 0 || c.bounds.End > next.bounds.Begin {
		return false
	}
	last, first := &c.ops[len(c.ops)-1], &next.ops[0]
	if last.action != copyOp || first.action != copyOp || !c.onlyWS(last.rng.End, first.rng.Begin) {
		return false
	}
	inv := c.res.InvocationOf(last.rng.End - 1)
	return inv != nil && inv.PP.End > last.rng.End && first.rng.Begin < inv.PP.End &&
		!c.isForced(inv.PP) && !next.isForced(inv.PP)
}

// join appends next to c.
func (c *Chunk) join(next *Chunk) {
	first := next.ops[0]
	c.ops[len(c.ops)-1].rng.End = first.rng.End
	c.ops = append(c.ops, next.ops[1:]...)
	c.forced = append(c.forced, next.forced...)
	c.bounds.End = next.bounds.End
}
