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
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// IncludeMode selects the search rules used to resolve a header name.
type IncludeMode uint8

const (
	// Quoted is #include "name": the referring file's directory comes first.
	Quoted IncludeMode = iota
	// Angle is #include <name>: only the include directories are searched.
	Angle
	// CWD resolves relative to the working directory first, as used for
	// -include on the command line.
	CWD
)

// Resolver resolves header names to paths.
type Resolver interface {
	// Resolve returns the path of the header, or "" if it cannot be found.
	Resolve(name, referrer string, mode IncludeMode) string
}

// SearchPath is a [Resolver] and [Opener] that looks headers up in a list of
// directories, the way a C compiler does.
//
// Files are opened through Opener and cached, so that a header found by
// Resolve is not read twice.
type SearchPath struct {
	Opener Opener

	// Directories searched for quoted includes only (-iquote).
	QuoteDirs []string
	// Directories searched for all includes (-I).
	IncludeDirs []string
	// The working directory, used for [CWD] lookups. If empty, os.Getwd is
	// consulted.
	WorkDir string

	cache map[string]*File
}

// Resolve implements [Resolver].
func (s *SearchPath) Resolve(name, referrer string, mode IncludeMode) string {
	if filepath.IsAbs(name) {
		if s.exists(name) {
			return name
		}
		return ""
	}

	var dirs []string
	switch mode {
	case Quoted:
		dirs = append(dirs, filepath.Dir(referrer))
		dirs = append(dirs, s.QuoteDirs...)
	case CWD:
		wd := s.WorkDir
		if wd == "" {
			wd, _ = os.Getwd()
		}
		dirs = append(dirs, wd)
	}
	dirs = append(dirs, s.IncludeDirs...)

	for _, dir := range dirs {
		candidate := filepath.Join(dir, name)
		if s.exists(candidate) {
			return candidate
		}
	}
	return ""
}

// Open implements [Opener].
func (s *SearchPath) Open(path string) (*File, error) {
	if f, ok := s.cache[path]; ok {
		return f, nil
	}
	opener := s.Opener
	if opener == nil {
		opener = OS()
	}
	f, err := opener.Open(path)
	if err != nil {
		return nil, err
	}
	if s.cache == nil {
		s.cache = make(map[string]*File)
	}
	s.cache[path] = f
	return f, nil
}

func (s *SearchPath) exists(path string) bool {
	_, err := s.Open(path)
	return err == nil
}

// ExpandDirs expands doublestar glob patterns among dirs into the matching
// directories on the host filesystem, in lexical order. Entries that are not
// patterns are kept verbatim, even if they do not exist.
func ExpandDirs(dirs []string) ([]string, error) {
	var out []string
	for _, dir := range dirs {
		if !hasMeta(dir) {
			out = append(out, dir)
			continue
		}
		if !doublestar.ValidatePattern(filepath.ToSlash(dir)) {
			return nil, errors.New("invalid include directory pattern: " + dir)
		}
		matches, err := doublestar.FilepathGlob(dir)
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		for _, match := range matches {
			info, err := os.Stat(match)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			} else if err != nil {
				return nil, err
			}
			if info.IsDir() {
				out = append(out, match)
			}
		}
	}
	return out, nil
}

func hasMeta(path string) bool {
	for i := range len(path) {
		switch path[i] {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}
