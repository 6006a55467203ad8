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

// Package ccp provides the entry point for preprocessing C translation units
// and regenerating minimal C source from the results.
//
// Preprocessing a translation unit involves these steps:
//  1. Resolving its headers against the configured search path.
//     Also see: source.SearchPath
//  2. Registering the target's builtin macros and the command-line
//     definitions.
//  3. Expanding macros and handling directives, recording where every
//     output token came from.
//     Also see: preprocessor.Preprocessor
//
// The recorded provenance is what makes it possible to write a file back
// out: a depreprocessor keeps macro invocations and #includes intact where
// it can and emits exactly the #define and #undef directives the written
// tokens need.
// Also see: depreprocessor.Depreprocessor
//
// # Runner
//
// A Runner accepts a list of file names and preprocesses each of them as an
// independent translation unit. Units share nothing, so they are processed
// in parallel, bounded by the runner's MaxParallelism. A minimal Runner,
// that reads files from the host filesystem and defines nothing beyond the
// standard builtins, can be had with:
//
//	runner := ccp.Runner{}
//	units, err := runner.Run(ctx, "main.c")
//
// # Configuration
//
// Include directories, definitions and preincluded files can be loaded from
// a YAML document with [LoadConfig]; see [Config] for the recognized keys.
package ccp
