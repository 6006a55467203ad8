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

package depreprocessor_test

import (
	"strings"
	"testing"

	"github.com/bufbuild/ccp/depreprocessor"
	"github.com/bufbuild/ccp/internal/corpora"
	"github.com/bufbuild/ccp/preprocessor"
	"github.com/bufbuild/ccp/reporter"
	"github.com/bufbuild/ccp/source"
)

func TestCorpus(t *testing.T) {
	t.Parallel()
	corpora.Corpus{
		Root:      "testdata",
		Refresh:   "CCP_REFRESH",
		Extension: "c",
		Outputs: []corpora.Output{
			{Extension: "out"},
			{Extension: "stderr"},
		},
		Test: func(t *testing.T, path, _ string) []string {
			handler := reporter.NewHandler(nil)
			res, err := preprocessor.New(&source.SearchPath{}, nil, handler).Run(path)

			var out strings.Builder
			if err == nil {
				d := depreprocessor.New(res, handler)
				roots := res.Roots()
				d.AppendTopLevel(roots[len(roots)-1], false)
				_ = d.Write(path+".out", &out)
			}
			var stderr strings.Builder
			remarks := handler.Remarks()
			remarks.Sort()
			if err := remarks.Print(&stderr); err != nil {
				t.Fatal(err)
			}
			return []string{out.String(), stderr.String()}
		},
	}.Run(t)
}
