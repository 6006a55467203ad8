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
	"cmp"
	"slices"

	"github.com/bufbuild/ccp/ppresult"
	"github.com/bufbuild/ccp/token"
)

// headerSummary is the effect of including a header on the macro state, and
// what the header needs of the state before it.
type headerSummary struct {
	// Macros defined by the header before any #undef of the same name.
	defines map[string]*ppresult.Macro
	// Names undefined by the header before any #define of the same name.
	undefs map[string]bool
	// Macros the header leaves defined, by name.
	newDefines []*ppresult.Macro

	used        ppresult.UsedMacros
	constraints ppresult.Constraints

	ownDefines map[*ppresult.Macro]bool
	firstUndef map[string]token.Range
}

// summarizeHeader walks the header node ref once and summarizes it.
func summarizeHeader(res *ppresult.Result, ref ppresult.NodeRef) *headerSummary {
	node := res.Node(ref)
	s := &headerSummary{
		defines:    make(map[string]*ppresult.Macro),
		undefs:     make(map[string]bool),
		ownDefines: make(map[*ppresult.Macro]bool),
		firstUndef: make(map[string]token.Range),
	}

	macros := res.MacrosIn(node.Range)
	undefs := res.UndefsIn(node.Range)
	active := make(map[string]*ppresult.Macro)
	for i, j := 0, 0; i < len(macros) || j < len(undefs); {
		if j == len(undefs) || i < len(macros) && macros[i].Directive.Begin < undefs[j].Directive.Begin {
			m := macros[i]
			i++
			if _, ok := s.defines[m.Name]; !ok && !s.undefs[m.Name] {
				s.defines[m.Name] = m
			}
			s.ownDefines[m] = true
			active[m.Name] = m
			continue
		}

		u := undefs[j]
		j++
		delete(active, u.Name)
		if _, ok := s.defines[u.Name]; !ok {
			s.undefs[u.Name] = true
		}
		if _, ok := s.firstUndef[u.Name]; !ok {
			s.firstUndef[u.Name] = u.Directive
		}
	}
	for _, m := range active {
		s.newDefines = append(s.newDefines, m)
	}
	slices.SortFunc(s.newDefines, func(a, b *ppresult.Macro) int { return cmp.Compare(a.Name, b.Name) })

	if node.Kind == ppresult.HeaderChild {
		s.addDeps(node.Used, node.Constraints, node.Include.Begin)
	}
	res.Descendants(ref, func(_ ppresult.NodeRef, n *ppresult.Node) {
		switch n.Kind {
		case ppresult.HeaderChild:
			s.addDeps(n.Used, n.Constraints, n.Include.Begin)
		case ppresult.Conditional:
			if len(n.Branches) > 0 {
				s.addDeps(n.Used, n.Constraints, n.Branches[0].Begin)
			}
		}
	})

	pp := res.PP()
	rng := res.RawToPP(node.Range)
	for t := rng.Begin; t < rng.End; t++ {
		if inv := res.InvocationOf(t); inv != nil {
			s.addDeps(inv.Used, inv.Constraints, inv.Raw.Begin)
			t = inv.PP.End - 1
			continue
		}
		tok := pp[t]
		if tok.Kind != token.ID {
			continue
		}
		next := t + 1
		for next < len(pp) && pp[next].Kind.IsTrivial() {
			next++
		}
		allowed := next == len(pp) || !pp[next].Is("(") || res.InvocationOf(next) != nil
		s.addConstraint(tok.Value, allowed, tok.Source.Begin)
	}
	return s
}

func (s *headerSummary) addDeps(used ppresult.UsedMacros, cs ppresult.Constraints, pos int) {
	for m := range used {
		if !s.ownDefines[m] {
			s.used.Add(m)
		}
	}
	for name, allowed := range cs {
		s.addConstraint(name, allowed, pos)
	}
}

func (s *headerSummary) addConstraint(name string, allowed bool, pos int) {
	if u, ok := s.firstUndef[name]; ok && u.End <= pos {
		return
	}
	s.constraints.Add(name, allowed)
}

// needsUndef returns whether m must be undefined before the header is
// included.
func (s *headerSummary) needsUndef(m *ppresult.Macro) bool {
	if allowed, ok := s.constraints[m.Name]; ok && !(ppresult.Constraint{Name: m.Name, FuncLikeAllowed: allowed}).Allows(m) {
		return true
	}
	if def, ok := s.defines[m.Name]; ok && !def.Equal(m) {
		return true
	}
	return false
}

// unmodified returns whether m is still defined after the header.
func (s *headerSummary) unmodified(m *ppresult.Macro) bool {
	_, ok := s.defines[m.Name]
	return !ok && !s.undefs[m.Name]
}

// touches returns whether the header defines or undefines name.
func (s *headerSummary) touches(name string) bool {
	_, ok := s.defines[name]
	return ok || s.undefs[name]
}
