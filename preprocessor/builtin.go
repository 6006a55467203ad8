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
	"strconv"

	"github.com/bufbuild/ccp/lexer"
	"github.com/bufbuild/ccp/ppresult"
	"github.com/bufbuild/ccp/source"
	"github.com/bufbuild/ccp/token"
)

const (
	builtinFile     = "<builtin>"
	commandLineFile = "<command-line>"
)

// Specials are builtin macros whose expansion is computed.
var specials = []string{
	"__FILE__",
	"__LINE__",
	"__BASE_FILE__",
	"__INCLUDE_LEVEL__",
	"__COUNTER__",
}

func (p *Preprocessor) registerSpecials() {
	for _, name := range specials {
		m := ppresult.NewMacro(name, false, false, nil, nil)
		m.Origin = ppresult.BuiltinSpecial
		p.register(m)
	}
}

func (p *Preprocessor) register(m *ppresult.Macro) {
	m.PredefPos = p.predefs
	p.predefs++
	p.b.AddMacro(m)
	p.macros[m.Name] = m
}

// special expands the special macro m, whose name is tok.
func (p *Preprocessor) special(m *ppresult.Macro, tok ptoken) ptoken {
	out := ptoken{
		src:         tok.src,
		used:        tok.used,
		constraints: tok.constraints,
		top:         tok.top,
		raw:         -1,
	}
	if out.top == nil {
		out.top = m
	}
	out.addDeps(ppresult.UsedMacros{m: {}}, nil)

	// The position of the last token of the invocation, as GCC does.
	pos := p.pos(token.Point(max(tok.src.End-1, tok.src.Begin)))
	switch m.Name {
	case "__FILE__":
		out.kind, out.value = token.Str, token.Quote(pos.Filename)
	case "__LINE__":
		out.kind, out.value = token.PPNumber, strconv.Itoa(pos.Line)
	case "__BASE_FILE__":
		out.kind, out.value = token.Str, token.Quote(p.roots[len(p.roots)-1].Path())
	case "__INCLUDE_LEVEL__":
		out.kind, out.value = token.PPNumber, strconv.Itoa(len(p.files)-1)
	case "__COUNTER__":
		out.kind, out.value = token.PPNumber, strconv.Itoa(p.counter)
		p.counter++
	}
	return out
}

// RegisterBuiltin registers an object-like builtin macro, such as
// __STDC__, as defined by the target.
func (p *Preprocessor) RegisterBuiltin(name, repl string) error {
	return p.RegisterBuiltinFunc(name, nil, false, repl)
}

// RegisterBuiltinFunc registers a builtin macro. A nil params makes the
// macro object-like; an empty non-nil one makes it function-like without
// parameters.
func (p *Preprocessor) RegisterBuiltinFunc(name string, params []string, variadic bool, repl string) error {
	toks, err := p.lexString(builtinFile, repl)
	if err != nil {
		return err
	}
	pos := func(int) source.Pos {
		return source.Pos{Filename: builtinFile}
	}
	funcLike := params != nil
	if variadic {
		params = append(params, "__VA_ARGS__")
	}
	normalized, err := p.normalizeRepl(toks, funcLike, params, pos)
	if err != nil {
		return err
	}
	m := ppresult.NewMacro(name, funcLike, variadic, params, normalized)
	m.Origin = ppresult.Builtin
	return p.registerChecked(m, pos(0))
}

// RegisterPredefined registers a macro given on the command line, as with
// -D. The signature is the macro name, optionally followed by a parameter
// list.
func (p *Preprocessor) RegisterPredefined(signature, repl string) error {
	text := signature
	if repl != "" {
		text += " " + repl
	}
	file := source.NewFile(commandLineFile, text)
	toks, err := p.lexString(commandLineFile, text)
	if err != nil {
		return err
	}
	m, err := p.parseDefinition(toks, func(k int) source.Pos {
		if k >= len(toks) {
			return file.Pos(len(text))
		}
		return file.Pos(toks[k].Offset)
	})
	if err != nil {
		return err
	}
	m.Origin = ppresult.Predefined
	return p.registerChecked(m, file.Pos(0))
}

// RegisterPredefinedUndef undefines a macro given on the command line, as
// with -U.
func (p *Preprocessor) RegisterPredefinedUndef(name string) {
	m := p.macros[name]
	if m == nil {
		return
	}
	if m.IsSpecial() {
		p.handler.HandleWarningf(source.Pos{Filename: commandLineFile}, "undefining \"%s\"", name)
	}
	p.b.AddUndef(&ppresult.MacroUndef{
		Name:      name,
		Origin:    ppresult.Predefined,
		PredefPos: p.predefs,
	})
	p.predefs++
	delete(p.macros, name)
}

func (p *Preprocessor) registerChecked(m *ppresult.Macro, pos source.Pos) error {
	m.PredefPos = p.predefs
	if err := p.addMacro(m, pos); err != nil {
		return err
	}
	if p.macros[m.Name] == m {
		p.predefs++
	}
	return nil
}

// lexString lexes text, dropping the trailing EOF.
func (p *Preprocessor) lexString(path, text string) ([]token.Raw, error) {
	toks, err := lexer.Tokenize(source.NewFile(path, text), p.handler)
	if err != nil {
		return nil, err
	}
	return toks[:len(toks)-1], nil
}
