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

// Package corpora runs golden tests over C source files kept in a test data
// directory.
//
// Each file with the corpus's extension is one test case. Its expected
// outputs live next to it, in files named after the case with the output's
// extension appended: the expected preprocessed text of foo.c could be in
// foo.c.pp. Files with other extensions, such as headers, are only read by
// the tests themselves.
package corpora

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fatih/color"
	"github.com/pmezard/go-difflib/difflib"
)

// Corpus describes a directory of test cases.
type Corpus struct {
	// The test data directory, relative to the directory of the file that
	// calls [Corpus.Run].
	Root string

	// An environment variable holding a doublestar glob. Cases whose path
	// matches it have their expected outputs rewritten from what the test
	// produced, and the test fails so that refreshing is never silent.
	Refresh string

	// The extension, without a dot, of the files that are test cases.
	Extension string
	// The outputs each case produces. A missing output file is the same as
	// an empty one.
	Outputs []Output

	// Test runs one case. path is relative to the calling test's directory,
	// which is the working directory of the test binary, so it can be opened
	// as-is. The result holds one string per element of Outputs.
	Test func(t *testing.T, path, text string) []string
}

// Output is one output of a test case.
type Output struct {
	// The extension of the file holding the expected output, appended to the
	// name of the case: for case "foo.c" and extension "pp" it is "foo.c.pp".
	Extension string

	// Compares the output. If nil, outputs must match byte for byte.
	Compare Compare
}

// Compare compares a test output with the expected one. It returns "" if
// they match, and a description of the difference otherwise.
type Compare func(got, want string) string

// Run runs every case of the corpus as a subtest of t.
func (c Corpus) Run(t *testing.T) {
	testDir := callerDir(0)
	root := filepath.Join(testDir, c.Root)

	var cases []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.TrimPrefix(filepath.Ext(path), ".") == c.Extension {
			cases = append(cases, path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("corpora: cannot list %q: %v", root, err)
	}
	if len(cases) == 0 {
		t.Fatalf("corpora: no .%s files in %q", c.Extension, root)
	}

	var refresh string
	if c.Refresh != "" {
		refresh = os.Getenv(c.Refresh)
		if !doublestar.ValidatePattern(refresh) {
			t.Fatalf("corpora: %s=%q is not a valid glob", c.Refresh, refresh)
		}
	}
	if refresh != "" {
		t.Logf("corpora: refreshing test data because %s=%s", c.Refresh, refresh)
		t.Fail()
	}

	for _, path := range cases {
		name, err := filepath.Rel(testDir, path)
		if err != nil {
			t.Fatal(err)
		}
		name = filepath.ToSlash(name)
		t.Run(name, func(t *testing.T) {
			text, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("corpora: cannot read test case: %v", err)
			}
			results := c.Test(t, name, string(text))
			if len(results) != len(c.Outputs) {
				t.Fatalf("corpora: test produced %d outputs, want %d", len(results), len(c.Outputs))
			}

			refreshing, _ := doublestar.Match(refresh, name)
			for i, output := range c.Outputs {
				path := path + "." + output.Extension
				if refreshing {
					if err := rewrite(path, results[i]); err != nil {
						t.Errorf("corpora: %v", err)
					}
					continue
				}

				want, err := os.ReadFile(path)
				if err != nil && !errors.Is(err, fs.ErrNotExist) {
					t.Errorf("corpora: cannot read expected output: %v", err)
					continue
				}
				compare := output.Compare
				if compare == nil {
					compare = defaultCompare
				}
				if diff := compare(results[i], string(want)); diff != "" {
					t.Errorf("output mismatch for %q:\n%s", filepath.Base(path), diff)
				}
			}
		})
	}
}

// rewrite replaces the expected output at path with text, deleting the file
// if text is empty.
func rewrite(path, text string) error {
	if text == "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	return os.WriteFile(path, []byte(text), 0o644)
}

var (
	added   = color.New(color.Bold, color.FgHiGreen)
	removed = color.New(color.Bold, color.FgHiRed)
)

func defaultCompare(got, want string) string {
	if got == want {
		return ""
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(want),
		B:        difflib.SplitLines(got),
		FromFile: "want",
		ToFile:   "got",
		Context:  2,
	})
	if err != nil {
		return err.Error()
	}

	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "+"):
			lines[i] = added.Sprint(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = removed.Sprint(line)
		}
	}
	return strings.Join(lines, "\n")
}

func callerDir(skip int) string {
	_, file, _, ok := runtime.Caller(skip + 2)
	if !ok {
		panic("corpora: could not determine test file's directory")
	}
	return filepath.Dir(file)
}
