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

// Package depreprocessor regenerates C source from the result of a
// preprocessor run.
//
// The output is assembled from elements appended in output order: chunks of
// expanded tokens, which may be edited before being written, and #include
// directives for whole headers. Macro invocations in chunks are kept as
// written where possible. Every #define and #undef the output needs for
// them to expand as they originally did is placed automatically, reusing the
// original directives where their position allows, and conditionals
// surrounding the written tokens are reproduced with their taken branch
// only.
package depreprocessor

import (
	"cmp"
	"errors"
	"io"
	"maps"
	"slices"

	"github.com/bufbuild/ccp/ppresult"
	"github.com/bufbuild/ccp/reporter"
	"github.com/bufbuild/ccp/source"
	"github.com/bufbuild/ccp/token"
)

type elementKind uint8

const (
	chunkElem elementKind = iota
	headerElem
	transitionElem
)

// element is one top-level piece of the output.
type element struct {
	kind elementKind

	chunk   *Chunk
	header  ppresult.NodeRef
	summary *headerSummary
	trans   []transition

	raw    token.Range
	hasRaw bool
	recs   records
	emits  []emission
}

// Depreprocessor assembles regenerated source. Elements are appended in the
// order they are to be written; [Depreprocessor.Write] then places the
// needed macro directives and writes the output.
type Depreprocessor struct {
	res     *ppresult.Result
	handler *reporter.Handler
	elems   []*element
	written bool

	ordered []int // Elements in raw order, see findRecords.
	states  map[string]*macroState
	floors  map[string]outPos
	seq     int
}

// New returns a depreprocessor for the result of a preprocessor run.
// Remarks about the output are reported to handler.
func New(res *ppresult.Result, handler *reporter.Handler) *Depreprocessor {
	return &Depreprocessor{res: res, handler: handler}
}

// Result returns the preprocessor result the depreprocessor works on.
func (d *Depreprocessor) Result() *ppresult.Result {
	return d.res
}

// AppendChunk appends a chunk. Chunks without any content are dropped.
func (d *Depreprocessor) AppendChunk(c *Chunk) {
	if c.res != d.res {
		panic("depreprocessor: chunk belongs to a different result")
	}
	c.trim()
	if len(c.ops) == 0 {
		return
	}
	d.elems = append(d.elems, &element{kind: chunkElem, chunk: c})
}

// AppendInclude appends an #include of the header node ref, which must be a
// header included from another file.
func (d *Depreprocessor) AppendInclude(ref ppresult.NodeRef) {
	if d.res.Node(ref).Kind != ppresult.HeaderChild {
		panic("depreprocessor: node is not an included header")
	}
	d.elems = append(d.elems, &element{kind: headerElem, header: ref})
}

// AppendRoot appends an #include of a root file, such as one included
// with -include.
func (d *Depreprocessor) AppendRoot(ref ppresult.NodeRef) {
	if d.res.Node(ref).Kind != ppresult.HeaderRoot {
		panic("depreprocessor: node is not a root")
	}
	d.elems = append(d.elems, &element{kind: headerElem, header: ref})
}

// Write places the macro directives the output needs and writes it to w.
// name is the output's file name, used in remarks about it. Write may only
// be called once.
func (d *Depreprocessor) Write(name string, w io.Writer) error {
	if d.written {
		return errors.New("depreprocessor: output already written")
	}
	d.written = true

	d.mergeChunks()
	for _, e := range d.elems {
		if e.kind == chunkElem {
			e.chunk.rewriteInvocations()
		}
	}
	d.insertTransitions()
	d.findRecords()
	d.placeDirectives()

	out := newOutput(d, name, w)
	out.write()
	if err := out.w.Flush(); err != nil {
		return d.handler.HandleErrorf(source.Pos{Filename: name}, reporter.ErrIO, "writing output: %v", err)
	}
	return d.handler.Error()
}

// mergeChunks joins neighboring chunks a keepable invocation spans.
func (d *Depreprocessor) mergeChunks() {
	out := d.elems[:0]
	for _, e := range d.elems {
		if n := len(out); n > 0 && e.kind == chunkElem && out[n-1].kind == chunkElem && out[n-1].chunk.joinable(e.chunk) {
			out[n-1].chunk.join(e.chunk)
			continue
		}
		out = append(out, e)
	}
	d.elems = out
}

// outPos is a position in the output: within the element at index elem.
type outPos struct {
	elem int
	pos  chunkPos
}

func (p outPos) compare(q outPos) int {
	if c := cmp.Compare(p.elem, q.elem); c != 0 {
		return c
	}
	return p.pos.compare(q.pos)
}

func (d *Depreprocessor) elemStart(i int) outPos {
	if i < len(d.elems) && d.elems[i].kind == chunkElem {
		return outPos{i, d.elems[i].chunk.begin()}
	}
	return outPos{elem: i}
}

// after returns the first position past the record or element at p.
func (d *Depreprocessor) after(p outPos) outPos {
	if e := d.elems[p.elem]; e.kind == chunkElem && p.pos.op < len(e.chunk.ops) {
		return outPos{p.elem, e.chunk.next(p.pos)}
	}
	return outPos{elem: p.elem + 1}
}

// findRecords computes every element's raw range and dependencies. The
// elements are walked back to front, which also yields the ones appearing
// in raw order when read front to back.
func (d *Depreprocessor) findRecords() {
	nextIsParen := false
	d.ordered = nil
	for i := len(d.elems) - 1; i >= 0; i-- {
		e := d.elems[i]
		switch e.kind {
		case chunkElem:
			e.raw, e.hasRaw = e.chunk.rawRange(), true
			e.recs, nextIsParen = e.chunk.findConstraints(nextIsParen)

		case headerElem:
			node := d.res.Node(e.header)
			e.raw, e.hasRaw = node.Range, true
			if node.Kind == ppresult.HeaderChild {
				e.raw.Begin = node.Include.Begin
			}
			e.summary = summarizeHeader(d.res, e.header)
			nextIsParen = false

		case transitionElem:
			for _, tr := range e.trans {
				if tr.enter {
					n := d.res.Node(tr.node)
					e.recs.use(chunkPos{}, n.Used)
					e.recs.constrainAll(chunkPos{}, n.Constraints)
				}
			}
			e.recs.finish()
			nextIsParen = false
		}

		if !e.hasRaw {
			continue
		}
		if n := len(d.ordered); n == 0 || e.raw.End <= d.elems[d.ordered[n-1]].raw.Begin {
			d.ordered = append(d.ordered, i)
		}
	}
	slices.Reverse(d.ordered)
}

// macroState is a macro defined in the output so far.
type macroState struct {
	m *ppresult.Macro
	// The last position the definition is needed at.
	lastUsage outPos
}

// placeDirectives walks the elements front to back, keeping track of the
// macros defined in the output, and places a #define or #undef wherever the
// output depends on a different state.
func (d *Depreprocessor) placeDirectives() {
	d.states = make(map[string]*macroState)
	d.floors = make(map[string]outPos)
	for _, m := range d.res.Macros() {
		if m.Origin == ppresult.Builtin || m.Origin == ppresult.BuiltinSpecial {
			d.states[m.Name] = &macroState{m: m, lastUsage: outPos{elem: -1}}
		}
	}

	for i, e := range d.elems {
		switch e.kind {
		case chunkElem, transitionElem:
			for _, rec := range e.recs {
				at := outPos{i, rec.pos}
				if rec.macro != nil {
					d.use(rec.macro, at)
				} else {
					d.constrain(rec.constraint, at)
				}
			}

		case headerElem:
			d.include(i, e.summary)
		}
	}
}

func (d *Depreprocessor) use(m *ppresult.Macro, at outPos) {
	st := d.states[m.Name]
	if st != nil && st.m == m {
		st.lastUsage = at
		return
	}
	if st != nil {
		d.placeUndef(st, at)
	}
	d.placeDefine(m, at)
	d.states[m.Name] = &macroState{m: m, lastUsage: at}
	d.raiseFloor(m.Name, d.after(at))
}

func (d *Depreprocessor) constrain(c ppresult.Constraint, at outPos) {
	if st := d.states[c.Name]; st != nil && !c.Allows(st.m) {
		d.placeUndef(st, at)
		delete(d.states, c.Name)
	}
	d.raiseFloor(c.Name, d.after(at))
}

func (d *Depreprocessor) include(i int, s *headerSummary) {
	at := outPos{elem: i}
	for _, name := range sortedNames(d.states) {
		if st := d.states[name]; s.needsUndef(st.m) {
			d.placeUndef(st, at)
			delete(d.states, name)
		}
	}
	for _, m := range s.used.Sorted() {
		d.use(m, at)
	}
	for _, name := range sortedNames(d.states) {
		if !s.unmodified(d.states[name].m) {
			delete(d.states, name)
		}
	}
	for name := range s.constraints {
		d.raiseFloor(name, outPos{elem: i + 1})
	}
	for name := range s.defines {
		d.raiseFloor(name, outPos{elem: i + 1})
	}
	for name := range s.undefs {
		d.raiseFloor(name, outPos{elem: i + 1})
	}
	for _, m := range s.newDefines {
		d.states[m.Name] = &macroState{m: m, lastUsage: at}
	}
}

// raiseFloor records that no #define of name may be placed before p.
func (d *Depreprocessor) raiseFloor(name string, p outPos) {
	if floor, ok := d.floors[name]; !ok || floor.compare(p) < 0 {
		d.floors[name] = p
	}
}

// placeDefine places a #define of m at or before need.
func (d *Depreprocessor) placeDefine(m *ppresult.Macro, need outPos) {
	floor := d.floors[m.Name]
	at, ok := outPos{}, false
	if m.Origin == ppresult.FromSource {
		at, ok = d.locate(m.Directive, need.elem)
		ok = ok && at.compare(need) <= 0 && at.compare(floor) >= 0
	}
	if !ok {
		at = d.elemStart(need.elem)
		if at.compare(floor) < 0 || at.compare(need) > 0 {
			at = need
		}
	}
	d.emit(at, emission{define: m})
	d.raiseFloor(m.Name, at)
}

// placeUndef places an #undef of the macro st after its last usage and at
// or before need.
func (d *Depreprocessor) placeUndef(st *macroState, need outPos) {
	name := st.m.Name
	limit := len(d.res.Raw())
	if e := d.elems[need.elem]; e.hasRaw {
		limit = e.raw.End
	}
	for _, u := range d.res.Undefs() {
		if u.Origin != ppresult.FromSource || u.Name != name {
			continue
		}
		if st.m.Origin == ppresult.FromSource && u.Directive.Begin < st.m.Directive.End {
			continue
		}
		if u.Directive.End > limit {
			break
		}
		at, ok := d.locate(u.Directive, need.elem)
		if ok && at.compare(st.lastUsage) > 0 && at.compare(need) <= 0 {
			d.emit(at, emission{undef: u})
			d.raiseFloor(name, at)
			return
		}
	}

	at := d.elemStart(need.elem)
	if at.compare(st.lastUsage) <= 0 || at.compare(need) > 0 {
		at = need
	}
	d.emit(at, emission{name: name})
	d.raiseFloor(name, at)
}

// locate returns the output position a directive with the raw range dir
// would keep its place at, preferring the elements in raw order and falling
// back to the run of elements in raw order ending at elem.
func (d *Depreprocessor) locate(dir token.Range, elem int) (outPos, bool) {
	if at, ok := d.locateIn(dir, d.ordered); ok {
		return at, true
	}

	var run []int
	for i := elem; i >= 0; i-- {
		e := d.elems[i]
		if !e.hasRaw {
			continue
		}
		if len(run) > 0 && e.raw.End > d.elems[run[len(run)-1]].raw.Begin {
			break
		}
		run = append(run, i)
	}
	slices.Reverse(run)
	return d.locateIn(dir, run)
}

// locateIn is locate over elems, which are in raw order.
func (d *Depreprocessor) locateIn(dir token.Range, elems []int) (outPos, bool) {
	k, _ := slices.BinarySearchFunc(elems, dir.Begin, func(i, begin int) int {
		if d.elems[i].raw.End <= begin {
			return -1
		}
		return 1
	})
	if k == len(elems) {
		return outPos{}, false
	}
	i := elems[k]
	e := d.elems[i]
	switch {
	case dir.End <= e.raw.Begin:
		return d.elemStart(i), true
	case e.kind == chunkElem:
		return outPos{i, e.chunk.directiveRangeToPos(dir)}, true
	default:
		// Within the header.
		return outPos{}, false
	}
}

// emission is a directive to be written at some position of an element.
type emission struct {
	pos chunkPos

	define *ppresult.Macro
	undef  *ppresult.MacroUndef
	name   string // An #undef without an original directive.
	seq    int
}

func (em *emission) macroName() string {
	switch {
	case em.define != nil:
		return em.define.Name
	case em.undef != nil:
		return em.undef.Name
	default:
		return em.name
	}
}

// class orders emissions at the same position: macros not from source
// first, then directives from source in source order, then synthesized
// ones.
func (em *emission) class() (int, int) {
	switch {
	case em.define != nil && em.define.Origin != ppresult.FromSource:
		return 0, em.define.PredefPos
	case em.define != nil:
		return 1, em.define.Directive.Begin
	case em.undef != nil:
		return 1, em.undef.Directive.Begin
	default:
		return 2, em.seq
	}
}

func compareEmissions(a, b emission) int {
	if c := a.pos.compare(b.pos); c != 0 {
		return c
	}
	ac, ak := a.class()
	bc, bk := b.class()
	if c := cmp.Compare(ac, bc); c != 0 {
		return c
	}
	return cmp.Compare(ak, bk)
}

func (d *Depreprocessor) emit(at outPos, em emission) {
	em.pos = at.pos
	em.seq = d.seq
	d.seq++
	e := d.elems[at.elem]
	e.emits = append(e.emits, em)
}

func sortedNames(states map[string]*macroState) []string {
	return slices.Sorted(maps.Keys(states))
}
