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

// intersect walks both blocks up the partially built tree until they meet.
// Blocks are identified by their reverse post-order number, so a dominator
// always has a smaller number than the blocks it dominates.
func intersect(idom []int, a int, b int) int {
	for a != b {
		for a > b {
			a = idom[a]
		}
		for b > a {
			b = idom[b]
		}
	}
	return a
}

// buildDominatorTree fills the DominatedBy and DominatorOf relations of g
// with the iterative algorithm of Cooper, Harvey and Kennedy ("A Simple, Fast
// Dominance Algorithm"). The reverse post-order of g must be computed first.
func buildDominatorTree(g *Graph) {
	idom := make([]int, len(g.rpo))
	domby := make(map[int]*BasicBlock, len(g.rpo))
	domof := make(map[int][]*BasicBlock, len(g.rpo))

	/* nothing is known but the entry */
	for i := range idom {
		idom[i] = -1
	}

	/* refine until nothing changes, reducible graphs settle in two rounds */
	idom[0] = 0
	for changed := true; changed; {
		changed = false
		for i := 1; i < len(g.rpo); i++ {
			nd := -1

			/* meet of every predecessor processed so far */
			for _, p := range g.rpo[i].Pred {
				if j, ok := g.order[p.Id]; !ok || idom[j] < 0 {
					continue
				} else if nd < 0 {
					nd = j
				} else {
					nd = intersect(idom, nd, j)
				}
			}

			/* update the immediate dominator */
			if idom[i] != nd {
				idom[i] = nd
				changed = true
			}
		}
	}

	/* children are added in reverse post-order */
	for i := 1; i < len(g.rpo); i++ {
		bb, dom := g.rpo[i], g.rpo[idom[i]]
		domby[bb.Id] = dom
		domof[dom.Id] = append(domof[dom.Id], bb)
	}

	/* update the graph */
	g.DominatedBy = domby
	g.DominatorOf = domof
}
