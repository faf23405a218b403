/*
 * Copyright 2022 ByteDance Inc.
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

package memopt

import (
	"fmt"

	"github.com/cloudwego/loadelim/ssa"
)

type VerdictKind uint8

const (
	VerdictNone VerdictKind = iota
	VerdictReuseValue
	VerdictNarrowLoadFusion
	VerdictBitcastElision
	VerdictTruncationFusion
)

func (self VerdictKind) String() string {
	switch self {
	case VerdictNone:
		return "none"
	case VerdictReuseValue:
		return "reuse"
	case VerdictNarrowLoadFusion:
		return "narrow-load"
	case VerdictBitcastElision:
		return "elide-bitcast"
	case VerdictTruncationFusion:
		return "fuse-truncation"
	default:
		panic("unreachable")
	}
}

// Verdict tells the rewriter what to do with an operation. Value is the
// replacement for ReuseValue, the fused load for TruncationFusion, and
// ssa.NoOp otherwise.
type Verdict struct {
	Kind  VerdictKind
	Value ssa.OpIndex
}

var NoVerdict = Verdict{
	Kind:  VerdictNone,
	Value: ssa.NoOp,
}

func ReuseValue(v ssa.OpIndex) Verdict {
	return Verdict{Kind: VerdictReuseValue, Value: v}
}

func TruncationFusion(load ssa.OpIndex) Verdict {
	return Verdict{Kind: VerdictTruncationFusion, Value: load}
}

func (self Verdict) String() string {
	switch self.Kind {
	case VerdictReuseValue, VerdictTruncationFusion:
		return fmt.Sprintf("%s(%s)", self.Kind, self.Value)
	default:
		return self.Kind.String()
	}
}
