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
	"fmt"
	"io"
	"slices"

	"github.com/bufbuild/ccp/ppresult"
	"github.com/bufbuild/ccp/source"
	"github.com/bufbuild/ccp/token"
)

const (
	fromMarker     = "/* klp-ccp: from %s */\n"
	nonTakenBranch = "#error \"klp-ccp: non-taken branch\"\n"
)

// output writes the elements of a depreprocessor.
type output struct {
	d    *Depreprocessor
	res  *ppresult.Result
	w    *source.Writer
	name string

	// The file raw text was last copied from.
	file string
	// The last two bytes written.
	tail string

	// Whether whitespace was written since the last token.
	spaced    bool
	lastKind  token.Kind
	lastValue string
	// The raw token last copied, or -1 if something else was written since.
	lastRaw int

	afterUndef bool
}

func newOutput(d *Depreprocessor, name string, w io.Writer) *output {
	return &output{
		d:       d,
		res:     d.res,
		w:       source.NewWriter(w),
		name:    name,
		spaced:  true,
		lastRaw: -1,
	}
}

func (o *output) write() {
	prevHeader := false
	for i, e := range o.d.elems {
		slices.SortStableFunc(e.emits, compareEmissions)
		switch e.kind {
		case chunkElem:
			if i > 0 {
				o.blankLine()
			}
			o.chunk(e)
			prevHeader = false

		case headerElem:
			if i > 0 && (!prevHeader || len(e.emits) > 0) {
				o.blankLine()
			}
			o.emissions(e.emits, true)
			o.include(e.header)
			prevHeader = true

		case transitionElem:
			o.emissions(e.emits, true)
			o.transitions(e.trans)
		}
	}
	o.endLine()
}

func (o *output) append(text string) {
	if text == "" {
		return
	}
	o.w.Append(text)
	o.noteTail(text)
}

func (o *output) noteTail(text string) {
	s := o.tail + text
	o.tail = s[max(0, len(s)-2):]
	o.afterUndef = false
}

func (o *output) endLine() {
	if !o.w.AtLineStart() {
		o.append("\n")
	}
	o.spaced = true
	o.lastRaw = -1
}

// blankLine ends the current line and makes sure it is followed by a blank
// one, except at the start of the output and after a synthesized #undef.
func (o *output) blankLine() {
	if o.tail == "" || o.afterUndef {
		return
	}
	o.endLine()
	if o.tail != "\n\n" {
		o.append("\n")
	}
}

// token writes a token, separating it from the previous one if they would
// otherwise run together.
func (o *output) token(kind token.Kind, value string) {
	switch kind {
	case token.WS:
		if !o.spaced {
			o.append(" ")
		}
		o.spaced = true
	case token.Newline:
		o.append("\n")
		o.spaced = true
	case token.Empty, token.EOF:
	default:
		if !o.spaced && token.Adjacency(o.lastKind, o.lastValue, kind, value) != token.NoSeparation {
			o.append(" ")
		}
		o.append(token.Stringify(kind, value))
		o.lastKind, o.lastValue = kind, value
		o.spaced = false
	}
	o.lastRaw = -1
}

// rawToken copies the text of the raw token at index verbatim.
func (o *output) rawToken(index int) {
	tok := o.res.Raw()[index]
	if tok.Kind == token.EOF {
		return
	}
	file := o.res.File(index)
	if path := file.Path(); path != o.file {
		o.endLine()
		o.append(fmt.Sprintf(fromMarker, path))
		o.file = path
	}

	if tok.Kind.IsTrivial() {
		o.spaced = true
	} else {
		if o.lastRaw != index-1 && !o.spaced &&
			token.Adjacency(o.lastKind, o.lastValue, tok.Kind, tok.Value) != token.NoSeparation {
			o.append(" ")
		}
		o.lastKind, o.lastValue = tok.Kind, tok.Value
		o.spaced = false
	}
	o.w.AppendRange(file, tok.Offset, tok.End)
	if text, err := file.Slice(max(tok.Offset, tok.End-2), tok.End); err == nil {
		o.noteTail(text)
	}
	o.lastRaw = index
}

// directive copies the directive spanning the raw tokens rng on lines of its
// own.
func (o *output) directive(rng token.Range) {
	o.endLine()
	for r := rng.Begin; r < rng.End; r++ {
		o.rawToken(r)
	}
	o.endLine()
}

func (o *output) chunk(e *element) {
	c := e.chunk
	next := 0
	flush := func(p chunkPos) {
		for next < len(e.emits) && e.emits[next].pos.compare(p) <= 0 {
			end := next + 1
			for end < len(e.emits) && e.emits[end].pos == e.emits[next].pos {
				end++
			}
			o.emissions(e.emits[next:end], e.emits[next].pos.compare(c.begin()) <= 0)
			next = end
		}
	}

	for k := range c.ops {
		op := &c.ops[k]
		if op.action != copyOp {
			flush(chunkPos{op: k})
		}
		switch op.action {
		case copyOp:
			for t := op.rng.Begin; t < op.rng.End; {
				flush(chunkPos{k, t})
				t = o.copied(c, op, t)
			}
		case replaceOp:
			o.replacement(op.tok, op.deref)
		case insertOp:
			o.token(op.tok.Kind, op.tok.Value)
		case insertWSOp:
			o.token(token.WS, " ")
		case transitionOp:
			o.transitions(op.trans)
		case rewriteOp:
			for r := op.inv.Raw.Begin; r < op.inv.Raw.End; r++ {
				if sub, ok := op.subst[r]; ok {
					o.replacement(sub.tok, sub.deref)
					continue
				}
				o.rawToken(r)
			}
		}
	}
	flush(chunkPos{op: len(c.ops) + 1})
	o.endLine()
}

// copied writes the copied expanded token t, or the whole invocation it
// starts, and returns the next token to write.
func (o *output) copied(c *Chunk, op *op, t int) int {
	tok := o.res.PP()[t]
	if c.isExpanded(t) {
		o.token(tok.Kind, tok.Value)
		return t + 1
	}
	if inv := o.res.InvocationOf(t); inv != nil {
		for r := inv.Raw.Begin; r < inv.Raw.End; r++ {
			o.rawToken(r)
		}
		return max(t+1, min(inv.PP.End, op.rng.End))
	}
	if tok.Source.IsEmpty() {
		o.token(tok.Kind, tok.Value)
		return t + 1
	}
	for r := tok.Source.Begin; r < tok.Source.End; r++ {
		o.rawToken(r)
	}
	return t + 1
}

func (o *output) replacement(tok token.Token, deref bool) {
	if !deref {
		o.token(tok.Kind, tok.Value)
		return
	}
	o.token(token.Punctuator, "(")
	o.token(token.Punctuator, "*")
	o.token(tok.Kind, tok.Value)
	o.token(token.Punctuator, ")")
}

// emissions writes the #defines and #undefs placed at one position. An
// #undef is written right before a #define of the same name.
func (o *output) emissions(group []emission, top bool) {
	if len(group) == 0 {
		return
	}
	o.endLine()
	defined := make(map[string]bool)
	for _, em := range group {
		if em.define != nil {
			defined[em.define.Name] = true
		}
	}
	for i := range group {
		em := &group[i]
		switch {
		case em.define != nil:
			for j := range group {
				if u := &group[j]; u.define == nil && u.macroName() == em.define.Name {
					o.undef(u)
				}
			}
			o.define(em.define)
		case !defined[em.macroName()]:
			o.undef(em)
		}
	}
	if top {
		o.blankLine()
	}
}

func (o *output) define(m *ppresult.Macro) {
	switch {
	case m.Origin == ppresult.FromSource:
		o.directive(m.Directive)
	case m.IsSpecial():
		pos := source.Pos{Filename: o.name, Line: o.w.Line(), Col: 1}
		o.d.handler.HandleFatalRemarkf(pos, "unable to emit define for required special macro %q", m.Name)
		o.append(fmt.Sprintf("#error \"required special macro %s has been undefined before\"\n", m.Name))
	default:
		text := "#define " + m.Signature()
		if repl := m.ReplacementText(); repl != "" {
			text += " " + repl
		}
		o.append(text + "\n")
	}
	o.spaced, o.lastRaw = true, -1
}

func (o *output) undef(em *emission) {
	if em.undef != nil {
		o.directive(em.undef.Directive)
		return
	}
	o.append("#undef " + em.name + "\n")
	o.spaced, o.lastRaw = true, -1
	o.afterUndef = true
}

func (o *output) include(ref ppresult.NodeRef) {
	n := o.res.Node(ref)
	if n.Kind == ppresult.HeaderChild && !n.Include.IsEmpty() {
		o.directive(n.Include)
		return
	}
	o.endLine()
	o.append("#include \"" + token.Quote(n.File.Path()) + "\"\n")
}

// transitions writes the directives entering or leaving the taken branches
// of conditionals. Branches not taken are stubbed out with an #error.
func (o *output) transitions(trs []transition) {
	o.endLine()
	for _, tr := range trs {
		n := o.res.Node(tr.node)
		if n.Taken < 0 {
			continue
		}
		if tr.enter {
			for _, b := range n.Branches[:n.Taken] {
				o.directive(b)
				o.append(nonTakenBranch)
			}
			o.directive(n.Branches[n.Taken])
			continue
		}

		for _, b := range n.Branches[n.Taken+1:] {
			o.directive(b)
			o.append(nonTakenBranch)
		}
		if !n.HasElse(o.res) {
			o.append("#else\n")
			o.append(nonTakenBranch)
		}
		if n.EndIf.IsEmpty() {
			o.append("#endif\n")
		} else {
			o.directive(n.EndIf)
		}
	}
}
