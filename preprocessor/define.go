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
	"slices"

	"github.com/bufbuild/ccp/ppresult"
	"github.com/bufbuild/ccp/reporter"
	"github.com/bufbuild/ccp/source"
	"github.com/bufbuild/ccp/token"
)

// parseDefinition parses the operand of a #define: a name, an optional
// parameter list, and the replacement list. pos maps an index into toks to a
// source position; it must accept len(toks) too.
//
// The returned macro's origin is left for the caller to fill in.
func (p *Preprocessor) parseDefinition(toks []token.Raw, pos func(int) source.Pos) (*ppresult.Macro, error) {
	skip := func(i int) int {
		for i < len(toks) && toks[i].Kind == token.WS {
			i++
		}
		return i
	}
	fail := func(i int, format string, args ...any) error {
		return p.handler.HandleErrorf(pos(i), reporter.ErrDirective, format, args...)
	}

	i := skip(0)
	if i == len(toks) || toks[i].Kind != token.ID {
		return nil, fail(i, "no identifier following #define")
	}
	name := toks[i].Value
	if name == "defined" {
		return nil, fail(i, "\"defined\" cannot be used as a macro name")
	}
	i++

	var params []string
	var funcLike, variadic bool
	if i < len(toks) && toks[i].Is("(") {
		funcLike = true
		seen := make(map[string]bool)
		i = skip(i + 1)
		for i < len(toks) && !toks[i].Is(")") {
			if variadic {
				return nil, fail(i, "garbage in macro argument list after ...")
			}
			switch {
			case len(params) > 0 && !toks[i].Is(","):
				return nil, fail(i, "comma expected in macro argument list")
			case toks[i].Is(","):
				if len(params) == 0 {
					return nil, fail(i, "leading comma in macro argument list")
				}
				i = skip(i + 1)
				if i == len(toks) || toks[i].Is(")") {
					return nil, fail(i, "trailing comma in macro argument list")
				}
			}

			switch tok := toks[i]; {
			case tok.Is("..."):
				variadic = true
				params = append(params, "__VA_ARGS__")
				i = skip(i + 1)
			case tok.Kind == token.ID:
				if tok.Value == "__VA_ARGS__" {
					return nil, fail(i, "__VA_ARGS__ not allowed as a macro argument name")
				}
				if seen[tok.Value] {
					return nil, fail(i, "duplicate macro argument name %s", tok.Value)
				}
				seen[tok.Value] = true
				params = append(params, tok.Value)
				i = skip(i + 1)
				if i < len(toks) && toks[i].Is("...") {
					variadic = true
					i = skip(i + 1)
				}
			default:
				return nil, fail(i, "garbage in macro argument list")
			}
		}
		if i == len(toks) {
			return nil, fail(i, "macro argument list not closed")
		}
		i++
	}

	if i < len(toks) && toks[i].Kind != token.WS {
		p.handler.HandleWarningf(pos(i), "no whitespace before macro replacement list")
	}

	repl, err := p.normalizeRepl(toks[i:], funcLike, params, func(k int) source.Pos {
		return pos(i + k)
	})
	if err != nil {
		return nil, err
	}
	return ppresult.NewMacro(name, funcLike, variadic, params, repl), nil
}

// normalizeRepl normalizes a replacement list: whitespace is collapsed into
// single spaces and dropped at both ends and around ## operators, runs of ##
// become one, and # is joined with its parameter operand.
func (p *Preprocessor) normalizeRepl(toks []token.Raw, funcLike bool, params []string, pos func(int) source.Pos) ([]token.Raw, error) {
	type entry struct {
		tok token.Raw
		at  int
	}
	var seq []entry
	for k, tok := range toks {
		if tok.Kind.IsTrivial() {
			if len(seq) > 0 && seq[len(seq)-1].tok.Kind != token.WS {
				seq = append(seq, entry{token.Raw{Kind: token.WS, Value: " ", Offset: tok.Offset, End: tok.End}, k})
			}
			continue
		}
		seq = append(seq, entry{tok, k})
	}
	if n := len(seq); n > 0 && seq[n-1].tok.Kind == token.WS {
		seq = seq[:n-1]
	}
	if len(seq) == 0 {
		return nil, nil
	}

	fail := func(e entry, msg string) error {
		return p.handler.HandleErrorf(pos(e.at), reporter.ErrMacro, "%s", msg)
	}
	if seq[0].tok.Is("##") {
		return nil, fail(seq[0], "## at beginning of macro replacement list")
	}
	if last := seq[len(seq)-1]; last.tok.Is("##") {
		return nil, fail(last, "## at end of macro replacement list")
	}

	out := make([]token.Raw, 0, len(seq))
	for k := 0; k < len(seq); {
		tok := seq[k].tok
		switch {
		case tok.Is("##"):
			if n := len(out); out[n-1].Kind == token.WS {
				out = out[:n-1]
			}
			out = append(out, tok)
			for k < len(seq) && (seq[k].tok.Kind == token.WS || seq[k].tok.Is("##")) {
				k++
			}

		case funcLike && tok.Is("#"):
			j := k + 1
			if j < len(seq) && seq[j].tok.Kind == token.WS {
				j++
			}
			if j == len(seq) || seq[j].tok.Kind != token.ID || !slices.Contains(params, seq[j].tok.Value) {
				return nil, fail(seq[k], "# in func-like macro not followed by parameter")
			}
			out = append(out, tok, seq[j].tok)
			k = j + 1

		default:
			out = append(out, tok)
			k++
		}
	}
	return out, nil
}
