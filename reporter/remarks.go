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

package reporter

import (
	"cmp"
	"fmt"
	"io"
	"slices"

	"github.com/bufbuild/ccp/source"
)

// Severity is how bad a remark is.
type Severity uint8

const (
	Warning Severity = iota
	Fatal
)

// String implements [fmt.Stringer].
func (s Severity) String() string {
	switch s {
	case Fatal:
		return "fatal"
	case Warning:
		return "warning"
	default:
		return fmt.Sprintf("Severity(%d)", s)
	}
}

// Remark is one diagnostic, collected for batch printing.
//
// Pos refers to an input location for preprocessing remarks and to an output
// location for remarks raised while writing regenerated source.
type Remark struct {
	Severity Severity
	Pos      source.Pos
	Message  string
}

// String implements [fmt.Stringer].
func (r Remark) String() string {
	return fmt.Sprintf("%s: %s: %s", r.Pos, r.Severity, r.Message)
}

// Remarks is a batch of remarks.
type Remarks []Remark

// Warnf appends a warning.
func (r *Remarks) Warnf(pos source.Pos, format string, args ...any) {
	*r = append(*r, Remark{Warning, pos, fmt.Sprintf(format, args...)})
}

// Fatalf appends a fatal remark.
func (r *Remarks) Fatalf(pos source.Pos, format string, args ...any) {
	*r = append(*r, Remark{Fatal, pos, fmt.Sprintf(format, args...)})
}

// AnyFatal returns whether any remark is fatal.
func (r Remarks) AnyFatal() bool {
	return slices.ContainsFunc(r, func(r Remark) bool { return r.Severity == Fatal })
}

// Sort sorts remarks by file, then by position. The sort is stable, so
// remarks at the same position stay in the order they were raised.
func (r Remarks) Sort() {
	slices.SortStableFunc(r, func(a, b Remark) int {
		return cmp.Or(
			cmp.Compare(a.Pos.Filename, b.Pos.Filename),
			cmp.Compare(a.Pos.Offset, b.Pos.Offset),
		)
	})
}

// Print writes one remark per line.
func (r Remarks) Print(w io.Writer) error {
	for _, remark := range r {
		if _, err := fmt.Fprintln(w, remark); err != nil {
			return err
		}
	}
	return nil
}
