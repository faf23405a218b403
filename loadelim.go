/*
 * Copyright 2022 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package loadelim eliminates redundant memory operations from an SSA graph.
//
// Analyze walks the graph forward, tracking which objects provably do not
// alias, an approximation of their shapes, and the last known value of every
// memory location it has seen. Loads whose value is already known are
// replaced with that value, stores that write the value the memory already
// holds are removed, and 64-bit loads that are only ever truncated to 32 bits
// are narrowed. The graph itself is left untouched: the decisions are
// returned as one Verdict per operation, for a rewriter to apply.
package loadelim

import (
	"github.com/cloudwego/loadelim/internal/memopt"
	"github.com/cloudwego/loadelim/internal/opts"
	"github.com/cloudwego/loadelim/ssa"
	"github.com/cockroachdb/errors"
)

type (
	Verdict     = memopt.Verdict
	VerdictKind = memopt.VerdictKind
	Stats       = memopt.Stats
)

const (
	VerdictNone             = memopt.VerdictNone
	VerdictReuseValue       = memopt.VerdictReuseValue
	VerdictNarrowLoadFusion = memopt.VerdictNarrowLoadFusion
	VerdictBitcastElision   = memopt.VerdictBitcastElision
	VerdictTruncationFusion = memopt.VerdictTruncationFusion
)

// Result holds the verdicts of an analysis, indexed by ssa.OpIndex.
type Result struct {
	Verdicts []Verdict
	Stats    Stats
}

// Get returns the verdict of operation i.
func (self Result) Get(i ssa.OpIndex) Verdict {
	return self.Verdicts[i]
}

// Analyze decides which memory operations of g are redundant. The graph is
// only read.
//
// When contract checks are enabled (the default), the graph is verified
// first, and a malformed graph panics with an assertion failure, see
// IsContractViolation.
func Analyze(g *ssa.Graph, options ...Option) Result {
	o := opts.GetDefaultOptions()
	for _, fn := range options {
		fn(&o)
	}

	/* the analysis relies on the structural contracts of the graph */
	if o.CheckContracts {
		if err := g.Verify(); err != nil {
			panic(errors.NewAssertionErrorWithWrappedErrf(err, "loadelim: invalid graph"))
		}
	}

	/* run the analysis */
	az := memopt.NewAnalyzer(g, o)
	vv := az.Run()
	return Result{Verdicts: vv, Stats: az.Stats()}
}
