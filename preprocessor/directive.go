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

package preprocessor

import (
	"strings"

	"github.com/bufbuild/ccp/ppresult"
	"github.com/bufbuild/ccp/reporter"
	"github.com/bufbuild/ccp/source"
	"github.com/bufbuild/ccp/token"
)

// dirLine is a directive line: the raw tokens from the introducing # up to
// and including the terminating newline, if any.
type dirLine struct {
	p   *Preprocessor
	rng token.Range
	// The end of the directive's tokens, excluding the newline.
	end int
}

func (d dirLine) at(i int) token.Raw {
	return d.p.b.Result().Raw()[i].Raw
}

// skip returns the index of the first token at or after i that is not
// whitespace.
func (d dirLine) skip(i int) int {
	for i < d.end && d.at(i).Kind == token.WS {
		i++
	}
	return i
}

func (d dirLine) src(i int) token.Range {
	if i >= d.end {
		return token.Point(d.end)
	}
	return token.Range{Begin: i, End: i + 1}
}

func (d dirLine) slice(i int) []token.Raw {
	raw := d.p.b.Result().Raw()[i:d.end]
	toks := make([]token.Raw, len(raw))
	for j, tok := range raw {
		toks[j] = tok.Raw
	}
	return toks
}

// text spells out the tokens from i to the end of the line.
func (d dirLine) text(i int) string {
	var b strings.Builder
	for _, tok := range d.slice(d.skip(i)) {
		if tok.Kind == token.WS {
			b.WriteByte(' ')
			continue
		}
		b.WriteString(tok.String())
	}
	return strings.TrimSpace(b.String())
}

// directive reads and handles the directive introduced by the # at raw
// index hash.
func (p *Preprocessor) directive(f *fileState, hash int) error {
	end := hash + 1
	for {
		raw, err := f.lex.Next()
		if err != nil {
			return err
		}
		if raw.Kind == token.EOF {
			// Left for readPlain, which closes the file.
			break
		}
		end = p.b.AppendRaw(raw) + 1
		if raw.Kind == token.Newline {
			break
		}
	}

	d := dirLine{p: p, rng: token.Range{Begin: hash, End: end}, end: end}
	if end > hash+1 && d.at(end-1).Kind == token.Newline {
		d.end--
	}

	i := d.skip(hash + 1)
	if i == d.end {
		if !p.inactive() {
			p.b.AddDirective(ppresult.Directive{Range: d.rng})
		}
		return nil
	}
	name := d.at(i)
	if name.Kind != token.ID {
		if p.inactive() {
			return nil
		}
		return p.errorf(d.src(i), reporter.ErrDirective, "identifier expected in preprocessor directive")
	}
	i++

	// Conditionals are tracked even within branches not taken.
	switch name.Value {
	case "if", "ifdef", "ifndef":
		return p.openCond(f, d, name.Value, i)
	case "elif", "else":
		return p.nextBranch(f, d, name.Value, i)
	case "endif":
		return p.closeCond(f, d, i)
	}

	if p.inactive() {
		return nil
	}
	p.b.AddDirective(ppresult.Directive{Name: name.Value, Range: d.rng})
	switch name.Value {
	case "define":
		return p.define(d, i)
	case "undef":
		return p.undef(d, i)
	case "include", "include_next":
		return p.include(f, d, i, name.Value == "include_next")
	case "error":
		return p.errorf(d.src(i-1), reporter.ErrDirective, "#error %s", d.text(i))
	case "warning":
		p.warnf(d.src(i-1), "#warning %s", d.text(i))
		return nil
	case "pragma":
		if j := d.skip(i); j < d.end && d.at(j).IsID("once") {
			p.once[f.file.Path()] = true
		}
		return nil
	case "line", "ident", "sccs":
		return nil
	default:
		return p.errorf(d.src(i-1), reporter.ErrDirective, "invalid preprocessing directive #%s", name.Value)
	}
}

func (p *Preprocessor) openCond(f *fileState, d dirLine, name string, i int) error {
	if p.inactive() {
		p.skipDepth++
		return nil
	}
	p.b.AddDirective(ppresult.Directive{Name: name, Range: d.rng})
	p.b.EnterConditional(d.rng)
	cs := &condState{file: f}
	p.conds = append(p.conds, cs)

	var taken bool
	var dp deps
	var err error
	if name == "if" {
		taken, dp, err = p.evalCondition(d, i)
	} else {
		taken, dp, err = p.evalDefined(d, name, i)
	}
	if err != nil {
		return err
	}
	p.b.AddConditionDeps(dp.used, dp.constraints)
	p.setBranch(cs, taken, d.rng)
	return nil
}

// evalDefined evaluates the condition of an #ifdef or #ifndef.
func (p *Preprocessor) evalDefined(d dirLine, name string, i int) (bool, deps, error) {
	var dp deps
	j := d.skip(i)
	if j == d.end || d.at(j).Kind != token.ID {
		return false, dp, p.errorf(d.src(j), reporter.ErrDirective, "identifier expected after #%s", name)
	}
	id := d.at(j).Value
	if k := d.skip(j + 1); k < d.end {
		p.warnf(d.src(k), "extra tokens at end of #%s directive", name)
	}

	m := p.macros[id]
	if m != nil {
		dp.used.Add(m)
	} else {
		dp.constraints.Add(id, false)
	}
	return (m != nil) == (name == "ifdef"), dp, nil
}

func (p *Preprocessor) setBranch(cs *condState, taken bool, directive token.Range) {
	cs.active = taken
	if taken {
		cs.taken = true
		p.b.TakeBranch()
	} else {
		cs.skipFrom = directive.End
	}
}

// topCond returns the innermost open conditional if it was opened in f.
func (p *Preprocessor) topCond(f *fileState) *condState {
	if len(p.conds) == 0 {
		return nil
	}
	cs := p.conds[len(p.conds)-1]
	if cs.file != f {
		return nil
	}
	return cs
}

func (p *Preprocessor) nextBranch(f *fileState, d dirLine, name string, i int) error {
	if p.skipDepth > 0 {
		return nil
	}
	cs := p.topCond(f)
	if cs == nil {
		return p.errorf(d.src(i-1), reporter.ErrStructural, "#%s without #if", name)
	}
	if cs.elseSeen {
		return p.errorf(d.src(i-1), reporter.ErrStructural, "#%s after #else", name)
	}
	if !cs.active {
		p.b.AddSkipped(token.Range{Begin: cs.skipFrom, End: d.rng.Begin})
	}
	p.b.AddDirective(ppresult.Directive{Name: name, Range: d.rng})
	p.b.AddBranch(d.rng)

	if name == "else" {
		cs.elseSeen = true
		if k := d.skip(i); k < d.end {
			p.warnf(d.src(k), "extra tokens at end of #else directive")
		}
		p.setBranch(cs, !cs.taken, d.rng)
		return nil
	}
	if cs.taken {
		// Not evaluated, so it depends on nothing.
		p.setBranch(cs, false, d.rng)
		return nil
	}
	taken, dp, err := p.evalCondition(d, i)
	if err != nil {
		return err
	}
	p.b.AddConditionDeps(dp.used, dp.constraints)
	p.setBranch(cs, taken, d.rng)
	return nil
}

func (p *Preprocessor) closeCond(f *fileState, d dirLine, i int) error {
	if p.skipDepth > 0 {
		p.skipDepth--
		return nil
	}
	cs := p.topCond(f)
	if cs == nil {
		return p.errorf(d.src(i-1), reporter.ErrStructural, "#endif without #if")
	}
	if !cs.active {
		p.b.AddSkipped(token.Range{Begin: cs.skipFrom, End: d.rng.Begin})
	}
	p.b.AddDirective(ppresult.Directive{Name: "endif", Range: d.rng})
	p.b.LeaveConditional(d.rng)
	p.conds = p.conds[:len(p.conds)-1]

	if k := d.skip(i); k < d.end {
		p.warnf(d.src(k), "garbage after #endif")
	}
	return nil
}

func (p *Preprocessor) define(d dirLine, i int) error {
	m, err := p.parseDefinition(d.slice(i), func(k int) source.Pos {
		return p.pos(token.Point(i + k))
	})
	if err != nil {
		return err
	}
	m.Origin = ppresult.FromSource
	m.Directive = d.rng
	return p.addMacro(m, p.pos(d.rng))
}

func (p *Preprocessor) addMacro(m *ppresult.Macro, pos source.Pos) error {
	if existing := p.macros[m.Name]; existing != nil {
		if !existing.Equal(m) {
			return p.handler.HandleErrorf(pos, reporter.ErrMacro, "macro %s redefined in an incompatible way", m.Name)
		}
		return nil
	}
	p.b.AddMacro(m)
	p.macros[m.Name] = m
	return nil
}

func (p *Preprocessor) undef(d dirLine, i int) error {
	j := d.skip(i)
	if j == d.end || d.at(j).Kind != token.ID {
		return p.errorf(d.src(j), reporter.ErrDirective, "identifier expected after #undef")
	}
	if k := d.skip(j + 1); k < d.end {
		return p.errorf(d.src(k), reporter.ErrDirective, "garbage after #undef")
	}
	name := d.at(j).Value
	if name == "defined" {
		return p.errorf(d.src(j), reporter.ErrDirective, "\"defined\" cannot be used as a macro name")
	}

	if m := p.macros[name]; m != nil {
		if m.IsSpecial() {
			p.warnf(d.src(j), "undefining \"%s\"", name)
		}
		p.b.AddUndef(&ppresult.MacroUndef{
			Name:      name,
			Origin:    ppresult.FromSource,
			Directive: d.rng,
		})
		delete(p.macros, name)
	}
	return nil
}

func (p *Preprocessor) include(f *fileState, d dirLine, i int, next bool) error {
	if p.collecting > 0 {
		return p.errorf(d.src(i-1), reporter.ErrDirective, "#include within macro arguments")
	}

	var name string
	var mode source.IncludeMode
	var dp deps
	j := d.skip(i)
	switch tok := d.at(min(j, d.rng.End-1)); {
	case j >= d.end:
		return p.errorf(d.src(d.rng.Begin), reporter.ErrDirective, "#include expects \"FILENAME\" or <FILENAME>")
	case tok.Kind == token.QStr || tok.Kind == token.HStr:
		name = tok.Value
		mode = source.Angle
		if tok.Kind == token.QStr {
			mode = source.Quoted
		}
		if k := d.skip(j + 1); k < d.end {
			return p.errorf(d.src(k), reporter.ErrDirective, "garbage after #include")
		}
	default:
		var err error
		if name, mode, dp, err = p.computedInclude(d, j); err != nil {
			return err
		}
	}
	if next {
		mode = source.Angle
	}

	path := p.resolver.Resolve(name, f.file.Path(), mode)
	if next && path == f.file.Path() {
		path = ""
	}
	if path == "" {
		return p.errorf(d.src(d.rng.Begin), reporter.ErrResolution, "could not find header %q from #include", name)
	}
	if p.once[path] {
		return nil
	}
	if len(p.files) >= MaxIncludeDepth {
		return p.errorf(d.src(d.rng.Begin), reporter.ErrDirective, "#include nested too deeply")
	}
	file, err := p.opener.Open(path)
	if err != nil {
		return p.errorf(d.src(d.rng.Begin), reporter.ErrIO, "%v", err)
	}

	p.b.EnterHeader(file, d.rng, dp.used, dp.constraints)
	p.pushFile(file)
	return nil
}

// computedInclude macro-expands the operand of an #include, starting at raw
// index i, and parses the result as a header name.
func (p *Preprocessor) computedInclude(d dirLine, i int) (string, source.IncludeMode, deps, error) {
	toks, dp, err := p.expandLine(i, d.end, false)
	if err != nil {
		return "", 0, dp, err
	}
	at := d.src(d.rng.Begin)
	toks = significant(toks)
	if len(toks) == 0 {
		return "", 0, dp, p.errorf(at, reporter.ErrDirective, "macro expansion at #include evaluated to nothing")
	}

	switch first := toks[0]; {
	case first.is("<"):
		last := toks[len(toks)-1]
		if len(toks) == 1 || !last.is(">") {
			return "", 0, dp, p.errorf(at, reporter.ErrDirective, "macro expansion at #include does not end with '>'")
		}
		var b strings.Builder
		for _, tok := range toks[1 : len(toks)-1] {
			b.WriteString(token.Stringify(tok.kind, tok.value))
		}
		if b.Len() == 0 {
			return "", 0, dp, p.errorf(at, reporter.ErrDirective, "macro expansion at #include gives \"<>\"")
		}
		return b.String(), source.Angle, dp, nil

	case first.kind == token.Str:
		if len(toks) > 1 {
			return "", 0, dp, p.errorf(at, reporter.ErrDirective, "macro expansion at #include yields garbage at end")
		}
		return first.value, source.Quoted, dp, nil

	default:
		return "", 0, dp, p.errorf(at, reporter.ErrDirective, "macro expansion at #include doesn't conform")
	}
}

// significant filters out whitespace and empty markers.
func significant(toks []ptoken) []ptoken {
	var out []ptoken
	for _, tok := range toks {
		if !tok.kind.IsTrivial() {
			out = append(out, tok)
		}
	}
	return out
}

// expandLine macro-expands the raw tokens from index from up to to. The
// expansion is appended to the result to find out which invocations it
// performed, and then dropped again.
func (p *Preprocessor) expandLine(from, to int, inCond bool) ([]ptoken, deps, error) {
	var st expansionState
	var dp deps
	rec := recorder{b: p.b}
	mark := p.b.PPLen()
	read := p.lineReader(from, to)

	var out []ptoken
	for {
		tok, err := p.expand(&st, read, inCond)
		if err != nil {
			p.b.DropPPTail(mark)
			return nil, dp, err
		}
		if tok.kind == token.EOF {
			break
		}
		rec.record(tok)
		dp.used.AddAll(tok.used)
		dp.constraints.AddAll(tok.constraints)
		out = append(out, tok)
	}

	used, constraints := p.b.DropPPTail(mark)
	dp.used.AddAll(used)
	dp.constraints.AddAll(constraints)
	return out, dp, nil
}

func (p *Preprocessor) lineReader(from, to int) reader {
	i := from
	return func() (ptoken, error) {
		if i >= to {
			return eofToken(to), nil
		}
		raw := p.b.Result().Raw()[i].Raw
		tok := ptoken{
			kind:  raw.Kind,
			value: raw.Value,
			src:   token.Range{Begin: i, End: i + 1},
			raw:   i,
		}
		i++
		return tok, nil
	}
}
