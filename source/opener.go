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
	"io"
	"io/fs"
	"os"
	"strings"
)

// Opener is a mechanism for opening files.
type Opener interface {
	// Open opens a file, potentially returning an error.
	//
	// A return value of [fs.ErrNotExist] is given special treatment by some
	// Opener adapters, such as the [Openers] type, and by [SearchPath].
	Open(path string) (*File, error)
}

// Reader gives access to byte ranges of one file. [File] implements it.
type Reader interface {
	Path() string
	Slice(start, end int) (string, error)
}

// Map implements [Opener] via lookup of a built-in map.
//
// Missing entries result in [fs.ErrNotExist].
type Map map[string]*File

// NewMap creates a new [Map] with the given path to contents entries.
func NewMap(files map[string]string) Map {
	m := make(Map, len(files))
	for path, text := range files {
		m.Add(path, text)
	}
	return m
}

// Add adds a new file to this map.
func (m Map) Add(path, text string) {
	m[path] = NewFile(path, text)
}

// Open implements [Opener].
func (m Map) Open(path string) (*File, error) {
	file, ok := m[path]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	return file, nil
}

// FS wraps an [fs.FS] to give it an [Opener] interface.
type FS struct {
	fs.FS

	// If not nil, paths are passed to this function before being forwarded
	// to fs.
	PathMapper func(string) string
}

// OS returns an [Opener] over the host filesystem. Paths are used verbatim,
// so both absolute and working-directory-relative paths work.
func OS() Opener {
	return osOpener{}
}

// Open implements [Opener].
func (fs *FS) Open(path string) (*File, error) {
	mapped := path
	if fs.PathMapper != nil {
		mapped = fs.PathMapper(path)
	}

	file, err := fs.FS.Open(mapped)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var buf strings.Builder
	if _, err := io.Copy(&buf, file); err != nil {
		return nil, err
	}
	return NewFile(path, buf.String()), nil
}

type osOpener struct{}

func (osOpener) Open(path string) (*File, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewFile(path, string(text)), nil
}

// Openers wraps a sequence of [Opener]s.
//
// When calling Open, it calls each Opener in sequence until one does not return
// [fs.ErrNotExist].
type Openers []Opener

// Open implements [Opener].
func (o Openers) Open(path string) (*File, error) {
	for _, opener := range o {
		file, err := opener.Open(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return file, err
	}
	return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
}
