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
	"github.com/cloudwego/loadelim/ssa"
)

type _TruncSite struct {
	trunc   ssa.OpIndex
	bitcast ssa.OpIndex
}

// TruncationTracker collects the 64-bit loads whose value is only ever used
// through a 32-bit truncation, so the load itself can be narrowed.
type TruncationTracker struct {
	loads []ssa.OpIndex
	sites map[ssa.OpIndex][]_TruncSite
}

func NewTruncationTracker() *TruncationTracker {
	return &TruncationTracker{
		sites: make(map[ssa.OpIndex][]_TruncSite),
	}
}

// Record notes that trunc truncates the value of load, possibly through
// bitcast (ssa.NoOp if none). Recording the same truncation twice has no
// effect.
func (self *TruncationTracker) Record(load ssa.OpIndex, trunc ssa.OpIndex, bitcast ssa.OpIndex) {
	sites, ok := self.sites[load]
	if !ok {
		self.loads = append(self.loads, load)
	}

	/* check for duplicates */
	for _, s := range sites {
		if s.trunc == trunc {
			return
		}
	}

	/* add to the sites */
	self.sites[load] = append(sites, _TruncSite{
		trunc:   trunc,
		bitcast: bitcast,
	})
}

// Len returns the number of candidate loads.
func (self *TruncationTracker) Len() int {
	return len(self.loads)
}

// Commit writes the fusion verdicts of every candidate whose uses are all
// truncations, given the use counts of the rewritten graph. It returns the
// number of fused truncations.
func (self *TruncationTracker) Commit(verdicts []Verdict, uses []int) int {
	n := 0
	for _, load := range self.loads {
		if self.fusable(load, verdicts, uses) {
			n += self.commit(load, verdicts)
		}
	}
	return n
}

func (self *TruncationTracker) fusable(load ssa.OpIndex, verdicts []Verdict, uses []int) bool {
	sites := self.sites[load]

	/* the load must survive, and every use must be one of the truncations */
	if verdicts[load].Kind != VerdictNone || uses[load] != len(sites) {
		return false
	}

	/* the truncations and the bitcasts must not have been rewritten already */
	for _, s := range sites {
		if verdicts[s.trunc].Kind != VerdictNone {
			return false
		}
		if s.bitcast.Valid() && (verdicts[s.bitcast].Kind != VerdictNone || uses[s.bitcast] != 1) {
			return false
		}
	}
	return true
}

func (self *TruncationTracker) commit(load ssa.OpIndex, verdicts []Verdict) int {
	sites := self.sites[load]
	verdicts[load] = Verdict{Kind: VerdictNarrowLoadFusion, Value: ssa.NoOp}

	/* the truncations read the narrowed load directly */
	for _, s := range sites {
		verdicts[s.trunc] = TruncationFusion(load)
		if s.bitcast.Valid() {
			verdicts[s.bitcast] = Verdict{Kind: VerdictBitcastElision, Value: ssa.NoOp}
		}
	}
	return len(sites)
}
