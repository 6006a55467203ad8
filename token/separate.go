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

package token

// Separation says whether two adjacent tokens need whitespace in between so
// that lexing their concatenated spelling yields the same two tokens again.
type Separation uint8

const (
	// Adjacent tokens may be written without whitespace.
	NoSeparation Separation = iota
	// Adjacent tokens always need whitespace.
	Separate
	// Adjacent tokens need whitespace only if they did not already appear
	// next to each other in the input, e.g. ": :" which is only at risk when
	// one of the colons stems from a macro.
	SeparateIfSynthesized
)

type tokenClass struct {
	kind  Kind
	value string // Only meaningful for punctuators.
}

// Keys are the left token; values list the right tokens which must be
// separated from it.
var separations = map[tokenClass][]tokenClass{
	{PPNumber, ""}: {
		punct("-"), punct("+"), punct("--"), punct("++"), punct("-="), punct("+="),
		punct("."), {ID, ""}, {PPNumber, ""},
	},
	{Punctuator, "."}: {{PPNumber, ""}},
	{ID, ""}:          {{ID, ""}, {PPNumber, ""}},
	punct("+"):        {punct("+"), punct("++"), punct("=")},
	punct("-"):        {punct("-"), punct("--"), punct("="), punct(">")},
	punct("!"):        {punct("=")},
	punct("*"):        {punct("=")},
	punct("/"):        {punct("=")},
	punct("^"):        {punct("=")},
	punct("<"):        {punct("<"), punct("="), punct("<="), punct("<<="), punct(":"), punct("%")},
	punct("<<"):       {punct("=")},
	punct(">"):        {punct(">"), punct("="), punct(">="), punct(">>=")},
	punct(">>"):       {punct("=")},
	punct("&"):        {punct("="), punct("&")},
	punct("|"):        {punct("="), punct("|")},
	punct("%"):        {punct("="), punct(">"), punct(":")},
	punct("%:"):       {punct("%:")},
	punct(":"):        {punct(">")},
}

// Pairs which lex identically when written adjacent in the input, but would
// form a longer token when a third one follows.
var conditionalSeparations = map[string]string{
	":": ":",
	".": ".",
	"#": "#",
}

func punct(p string) tokenClass {
	return tokenClass{Punctuator, p}
}

func classOf(kind Kind, value string) tokenClass {
	if kind == Punctuator {
		return tokenClass{kind, value}
	}
	return tokenClass{kind, ""}
}

// Adjacency returns whether a token (lk, lv) immediately followed by a token
// (rk, rv) needs whitespace in between.
func Adjacency(lk Kind, lv string, rk Kind, rv string) Separation {
	if lk == Punctuator && rk == Punctuator {
		if want, ok := conditionalSeparations[lv]; ok && want == rv {
			return SeparateIfSynthesized
		}
	}

	right := classOf(rk, rv)
	for _, r := range separations[classOf(lk, lv)] {
		if r == right {
			return Separate
		}
	}
	return NoSeparation
}
