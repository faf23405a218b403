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

package ssa

// CountUses counts the uses of every operation. Operations for which dead
// returns true do not use their inputs, and every input is first mapped
// through resolve, which lets callers count uses over a rewritten graph.
// Either function may be nil.
func (self *Graph) CountUses(dead func(OpIndex) bool, resolve func(OpIndex) OpIndex) []int {
	ret := make([]int, len(self.ops))

	/* scan every reachable operation */
	for _, bb := range self.rpo {
		for i := bb.begin; i < bb.end; i++ {
			if dead != nil && dead(i) {
				continue
			}

			/* mark all usages */
			for _, r := range self.ops[i].Inputs() {
				if resolve != nil {
					r = resolve(r)
				}
				if r.Valid() {
					ret[r]++
				}
			}
		}
	}

	/* all done */
	return ret
}
