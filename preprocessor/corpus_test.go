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

package preprocessor_test

import (
	"strings"
	"testing"

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
			{Extension: "pp"},
			{Extension: "stderr"},
		},
		Test: func(t *testing.T, path, _ string) []string {
			sp := &source.SearchPath{IncludeDirs: []string{"testdata/include"}}
			handler := reporter.NewHandler(nil)
			res, err := preprocessor.New(sp, nil, handler).Run(path)

			var pp strings.Builder
			if err == nil {
				if err := preprocessor.Format(&pp, res); err != nil {
					t.Fatal(err)
				}
			}
			var stderr strings.Builder
			remarks := handler.Remarks()
			remarks.Sort()
			if err := remarks.Print(&stderr); err != nil {
				t.Fatal(err)
			}
			return []string{pp.String(), stderr.String()}
		},
	}.Run(t)
}
