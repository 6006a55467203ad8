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

package source

import (
	"fmt"
	"slices"
	"sync"

	"github.com/rivo/uniseg"
)

// Pos is a location in a source file, used for diagnostics.
//
// Line and Col are 1-indexed. Col counts grapheme clusters, which is what a
// user sees in an editor.
type Pos struct {
	Filename  string
	Line, Col int
	Offset    int
}

// String implements [fmt.Stringer].
func (p Pos) String() string {
	if p.Line <= 0 {
		if p.Filename == "" {
			return "<input>"
		}
		return p.Filename
	}
	return fmt.Sprintf("%s:%d:%d", p.Filename, p.Line, p.Col)
}

// LineMap maps byte offsets to lines. It is built incrementally, one line
// length at a time, as the lexer encounters physical line breaks.
//
// A zero LineMap is ready to use.
type LineMap struct {
	// starts[n] is the offset of the first byte of line n+1. The first line
	// implicitly starts at zero.
	starts []int
}

// AddLine records the length of the next physical line, including its
// terminating newline.
func (m *LineMap) AddLine(length int) {
	prev := 0
	if len(m.starts) > 0 {
		prev = m.starts[len(m.starts)-1]
	}
	m.starts = append(m.starts, prev+length)
}

// Lines returns the number of complete lines recorded so far.
func (m *LineMap) Lines() int {
	return len(m.starts)
}

// Line returns the 1-indexed line containing offset, and the offset at which
// that line starts.
func (m *LineMap) Line(offset int) (line, start int) {
	// Find the number of lines ending at or before offset.
	n, exact := slices.BinarySearch(m.starts, offset)
	if exact {
		n++
	}
	if n > 0 {
		start = m.starts[n-1]
	}
	return n + 1, start
}

// File is a source file: a path plus its contents.
//
// Files are immutable once created. A nil *File behaves like an empty file
// with the path "".
type File struct {
	path, text string

	once  sync.Once
	lines LineMap
}

// NewFile constructs a new source file.
func NewFile(path, text string) *File {
	return &File{path: path, text: text}
}

// Path returns this file's path. It need not be a real filesystem path.
func (f *File) Path() string {
	if f == nil {
		return ""
	}
	return f.path
}

// Text returns this file's contents.
func (f *File) Text() string {
	if f == nil {
		return ""
	}
	return f.text
}

// Slice returns the bytes in [start, end).
//
// This implements [Reader].
func (f *File) Slice(start, end int) (string, error) {
	text := f.Text()
	if start < 0 || end > len(text) || start > end {
		return "", fmt.Errorf("%s: range [%d, %d) out of bounds", f.Path(), start, end)
	}
	return text[start:end], nil
}

// Pos returns the position of the given byte offset.
//
// This operation is O(log n).
func (f *File) Pos(offset int) Pos {
	if f == nil {
		return Pos{Line: 1, Col: 1}
	}
	f.once.Do(func() {
		text := f.text
		for i := range len(text) {
			if text[i] == '\n' {
				f.lines.AddLine(i + 1 - f.lines.lastStart())
			}
		}
	})
	return PosIn(f.path, f.text, &f.lines, offset)
}

// PosIn computes a position in text using a line map that may be only
// partially built.
func PosIn(path, text string, lines *LineMap, offset int) Pos {
	offset = min(offset, len(text))
	line, start := lines.Line(offset)
	start = min(start, offset)
	return Pos{
		Filename: path,
		Line:     line,
		Col:      uniseg.GraphemeClusterCount(text[start:offset]) + 1,
		Offset:   offset,
	}
}

func (m *LineMap) lastStart() int {
	if len(m.starts) == 0 {
		return 0
	}
	return m.starts[len(m.starts)-1]
}
