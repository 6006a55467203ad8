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

package ppresult

import (
	"cmp"
	"maps"
	"slices"

	"github.com/bufbuild/ccp/token"
)

// Origin says where a macro or macro undef came from.
type Origin uint8

const (
	// FromSource is a #define or #undef directive in some source file.
	FromSource Origin = iota
	// Builtin is a macro registered by the target, such as __STDC__.
	Builtin
	// BuiltinSpecial is a builtin whose expansion is computed rather than
	// replaced, such as __LINE__.
	BuiltinSpecial
	// Predefined is a macro or undef from the command line (-D, -U).
	Predefined
)

// String implements [fmt.Stringer].
func (o Origin) String() string {
	switch o {
	case FromSource:
		return "source"
	case Builtin:
		return "builtin"
	case BuiltinSpecial:
		return "builtin-special"
	case Predefined:
		return "predefined"
	default:
		return "unknown"
	}
}

// Macro is a macro definition. Macros are never mutated once registered
// with a [Builder].
type Macro struct {
	Name     string
	FuncLike bool
	Variadic bool
	// Parameter names. A variadic macro's last parameter is __VA_ARGS__
	// unless it was named explicitly, as in "args...".
	Params []string
	// The normalized replacement list: no leading or trailing whitespace, at
	// most one whitespace token in a row, and no whitespace around # and ##
	// operators.
	Repl []token.Raw

	Origin Origin
	// The raw range of the #define directive, for macros from source.
	Directive token.Range
	// The order of registration, for macros not from source.
	PredefPos int

	expandParam []bool
}

// NewMacro creates a new macro, computing for each parameter whether its
// argument needs to be macro-expanded before substitution.
func NewMacro(name string, funcLike, variadic bool, params []string, repl []token.Raw) *Macro {
	m := &Macro{
		Name:     name,
		FuncLike: funcLike,
		Variadic: variadic,
		Params:   params,
		Repl:     repl,
	}

	m.expandParam = make([]bool, len(params))
	for i, tok := range repl {
		if tok.Kind != token.ID {
			continue
		}
		p := m.ParamIndex(tok.Value)
		if p < 0 {
			continue
		}
		operand := i > 0 && (repl[i-1].Is("##") || repl[i-1].Is("#")) ||
			i+1 < len(repl) && repl[i+1].Is("##")
		if !operand {
			m.expandParam[p] = true
		}
	}
	return m
}

// ParamIndex returns the index of the named parameter, or -1.
func (m *Macro) ParamIndex(name string) int {
	if !m.FuncLike {
		return -1
	}
	return slices.Index(m.Params, name)
}

// ExpandsParam returns whether the i-th argument is used anywhere other than
// as an operand of # or ##, and thus needs to be macro-expanded.
func (m *Macro) ExpandsParam(i int) bool {
	return m.expandParam[i]
}

// NonVariadicParams returns the number of named, non-variadic parameters.
func (m *Macro) NonVariadicParams() int {
	if m.Variadic {
		return len(m.Params) - 1
	}
	return len(m.Params)
}

// IsSpecial returns whether this is a builtin computed at expansion time.
func (m *Macro) IsSpecial() bool {
	return m.Origin == BuiltinSpecial
}

// Equal returns whether two definitions are the same in the sense of C99
// 6.10.3p2, which governs whether a redefinition is allowed. Special builtins
// compare by name.
func (m *Macro) Equal(that *Macro) bool {
	if m == that {
		return true
	}
	if m.IsSpecial() || that.IsSpecial() {
		return m.IsSpecial() && that.IsSpecial() && m.Name == that.Name
	}
	if m.Name != that.Name || m.FuncLike != that.FuncLike || m.Variadic != that.Variadic ||
		!slices.Equal(m.Params, that.Params) || len(m.Repl) != len(that.Repl) {
		return false
	}
	for i, a := range m.Repl {
		b := that.Repl[i]
		if a.Kind != b.Kind || (a.Kind != token.WS && a.Value != b.Value) {
			return false
		}
	}
	return true
}

// Signature returns the macro's name and, for function-like macros, its
// parameter list, as written in a #define.
func (m *Macro) Signature() string {
	if !m.FuncLike {
		return m.Name
	}
	sig := m.Name + "("
	for i, p := range m.Params {
		if i > 0 {
			sig += ", "
		}
		switch {
		case m.Variadic && i == len(m.Params)-1 && p == "__VA_ARGS__":
			sig += "..."
		case m.Variadic && i == len(m.Params)-1:
			sig += p + "..."
		default:
			sig += p
		}
	}
	return sig + ")"
}

// ReplacementText returns the replacement list spelled out.
func (m *Macro) ReplacementText() string {
	var text string
	for _, tok := range m.Repl {
		if tok.Kind == token.WS {
			text += " "
			continue
		}
		text += tok.String()
	}
	return text
}

// CompareMacros orders macros by when they were defined: everything not from
// source comes first in registration order, then source macros by directive
// position.
func CompareMacros(a, b *Macro) int {
	return compareOrigins(a.Origin, a.PredefPos, a.Directive, b.Origin, b.PredefPos, b.Directive)
}

// MacroUndef is a #undef directive or a -U on the command line.
type MacroUndef struct {
	Name string

	// Either FromSource or Predefined.
	Origin    Origin
	Directive token.Range
	PredefPos int
}

// CompareUndefs orders undefs the way [CompareMacros] orders macros.
func CompareUndefs(a, b *MacroUndef) int {
	return compareOrigins(a.Origin, a.PredefPos, a.Directive, b.Origin, b.PredefPos, b.Directive)
}

func compareOrigins(ao Origin, apos int, ar token.Range, bo Origin, bpos int, br token.Range) int {
	switch {
	case ao != FromSource && bo != FromSource:
		return cmp.Compare(apos, bpos)
	case ao != FromSource:
		return -1
	case bo != FromSource:
		return 1
	default:
		return cmp.Compare(ar.Begin, br.Begin)
	}
}

// UsedMacros is a set of macros some output depended on being defined the
// way they were.
type UsedMacros map[*Macro]struct{}

// Add adds m to the set.
func (u *UsedMacros) Add(m *Macro) {
	if *u == nil {
		*u = make(UsedMacros)
	}
	(*u)[m] = struct{}{}
}

// AddAll adds every macro of that to the set.
func (u *UsedMacros) AddAll(that UsedMacros) {
	if len(that) == 0 {
		return
	}
	if *u == nil {
		*u = make(UsedMacros, len(that))
	}
	maps.Copy(*u, that)
}

// Has returns whether m is in the set.
func (u UsedMacros) Has(m *Macro) bool {
	_, ok := u[m]
	return ok
}

// Sorted returns the set's macros ordered by [CompareMacros].
func (u UsedMacros) Sorted() []*Macro {
	return slices.SortedFunc(maps.Keys(u), CompareMacros)
}

// Clone returns a copy of the set.
func (u UsedMacros) Clone() UsedMacros {
	return maps.Clone(u)
}

// Constraint records that some output depended on an identifier not being a
// macro.
type Constraint struct {
	Name string
	// Whether the identifier may be a function-like macro, which is the case
	// if it is not followed by an opening parenthesis.
	FuncLikeAllowed bool
}

// Allows returns whether m being defined does not violate this constraint.
func (c Constraint) Allows(m *Macro) bool {
	return m.Name != c.Name || (c.FuncLikeAllowed && m.FuncLike)
}

// Constraints is a set of non-definedness constraints, keyed by name. Adding
// a constraint for a name already present keeps the stricter one.
type Constraints map[string]bool

// Add adds a constraint to the set.
func (c *Constraints) Add(name string, funcLikeAllowed bool) {
	if *c == nil {
		*c = make(Constraints)
	}
	if allowed, ok := (*c)[name]; ok {
		funcLikeAllowed = funcLikeAllowed && allowed
	}
	(*c)[name] = funcLikeAllowed
}

// AddAll adds every constraint of that to the set.
func (c *Constraints) AddAll(that Constraints) {
	for name, allowed := range that {
		c.Add(name, allowed)
	}
}

// Sorted returns the constraints ordered by name.
func (c Constraints) Sorted() []Constraint {
	out := make([]Constraint, 0, len(c))
	for _, name := range slices.Sorted(maps.Keys(c)) {
		out = append(out, Constraint{name, c[name]})
	}
	return out
}
