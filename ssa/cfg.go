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

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/oleiade/lane"
)

// Graph is a finalized SSA control-flow graph. It is read-only once built.
type Graph struct {
	Root        *BasicBlock
	Blocks      []*BasicBlock
	DominatedBy map[int]*BasicBlock
	DominatorOf map[int][]*BasicBlock

	ops   []Operation
	owner []*BasicBlock
	order map[int]int
	rpo   []*BasicBlock
	lin   []*BasicBlock
	pos   map[int]int
	body  map[int]map[int]bool
	latch map[int]*BasicBlock
	head  map[int]*BasicBlock
}

// Len returns the number of operations in the graph.
func (self *Graph) Len() int {
	return len(self.ops)
}

func (self *Graph) Get(i OpIndex) Operation {
	if i < 0 || int(i) >= len(self.ops) {
		panic(errors.AssertionFailedf("operation index %d out of range [0, %d)", i, len(self.ops)))
	} else {
		return self.ops[i]
	}
}

// BlockOf returns the block that owns operation i.
func (self *Graph) BlockOf(i OpIndex) *BasicBlock {
	self.Get(i)
	return self.owner[i]
}

func (self *Graph) Terminator(bb *BasicBlock) Terminator {
	if tr, ok := self.Get(bb.LastOperation()).(Terminator); !ok {
		panic(errors.AssertionFailedf("bb_%d does not terminate", bb.Id))
	} else {
		return tr
	}
}

func (self *Graph) Successors(bb *BasicBlock) []*BasicBlock {
	return self.Terminator(bb).Successors()
}

// ReversePostOrder returns the reachable blocks in reverse post-order.
func (self *Graph) ReversePostOrder() []*BasicBlock {
	return self.rpo
}

// Order returns the reverse post-order number of bb.
func (self *Graph) Order(bb *BasicBlock) int {
	if i, ok := self.order[bb.Id]; !ok {
		panic(errors.AssertionFailedf("bb_%d is not reachable", bb.Id))
	} else {
		return i
	}
}

// Dominates tells whether a dominates b. Every block dominates itself.
func (self *Graph) Dominates(a *BasicBlock, b *BasicBlock) bool {
	for p := b; p != nil; p = self.DominatedBy[p.Id] {
		if p == a {
			return true
		}
	}
	return false
}

func (self *Graph) IsLoopHeader(bb *BasicBlock) bool {
	return self.latch[bb.Id] != nil
}

// Backedge returns the block that closes the loop headed by bb.
func (self *Graph) Backedge(header *BasicBlock) *BasicBlock {
	return self.latch[header.Id]
}

// ForwardPredecessor returns the block that enters the loop headed by bb.
func (self *Graph) ForwardPredecessor(header *BasicBlock) *BasicBlock {
	if !self.IsLoopHeader(header) {
		panic(errors.AssertionFailedf("bb_%d is not a loop header", header.Id))
	} else {
		return header.Pred[0]
	}
}

// InLoop tells whether bb belongs to the loop headed by header.
func (self *Graph) InLoop(header *BasicBlock, bb *BasicBlock) bool {
	return self.body[header.Id][bb.Id]
}

// Layout returns the reachable blocks in a topological order of the forward
// edges where the blocks of every loop are contiguous, starting with the
// header and ending with the block that jumps back to it.
func (self *Graph) Layout() []*BasicBlock {
	return self.lin
}

// LoopHeaderOf returns the loop header that bb jumps back to, or nil if bb
// is not a backedge block.
func (self *Graph) LoopHeaderOf(bb *BasicBlock) *BasicBlock {
	return self.head[bb.Id]
}

func (self *Graph) rebuild() {
	self.rpo = self.rpo[:0]
	self.order = make(map[int]int, len(self.Blocks))
	self.latch = make(map[int]*BasicBlock)
	self.head = make(map[int]*BasicBlock)
	self.body = make(map[int]map[int]bool)

	/* compute the reverse post-order */
	for _, bb := range self.postOrder() {
		self.rpo = append(self.rpo, bb)
	}

	/* reverse the order */
	for i, j := 0, len(self.rpo)-1; i < j; i, j = i+1, j-1 {
		self.rpo[i], self.rpo[j] = self.rpo[j], self.rpo[i]
	}

	/* renumber with the reversed order */
	for i, bb := range self.rpo {
		self.order[bb.Id] = i
	}

	/* build the dominator tree */
	buildDominatorTree(self)

	/* an edge into a dominator closes a loop */
	for _, bb := range self.rpo {
		for _, s := range self.Successors(bb) {
			if self.Dominates(s, bb) {
				self.head[bb.Id] = s
				self.latch[s.Id] = bb
				self.body[s.Id] = self.loopBody(s, bb)
			}
		}
	}

	/* lay out the blocks with contiguous loops */
	self.linearize()
}

func (self *Graph) loopBody(header *BasicBlock, latch *BasicBlock) map[int]bool {
	q := lane.NewQueue()
	ret := map[int]bool{header.Id: true}

	/* every block that reaches the latch without passing the header */
	for q.Enqueue(latch); !q.Empty(); {
		p := q.Dequeue().(*BasicBlock)
		if !ret[p.Id] {
			ret[p.Id] = true
			for _, v := range p.Pred {
				q.Enqueue(v)
			}
		}
	}

	/* all done */
	return ret
}

func (self *Graph) linearize() {
	vis := make(map[int]bool, len(self.rpo))
	self.lin = self.lin[:0]
	self.pos = make(map[int]int, len(self.rpo))

	/* place the blocks in reverse post-order, pulling in whole loops */
	for _, bb := range self.rpo {
		self.place(bb, vis)
	}

	/* number the blocks */
	for i, bb := range self.lin {
		self.pos[bb.Id] = i
	}
}

func (self *Graph) place(bb *BasicBlock, vis map[int]bool) {
	if vis[bb.Id] {
		return
	}

	/* place the block */
	vis[bb.Id] = true
	self.lin = append(self.lin, bb)

	/* a loop header is followed by its body */
	if body := self.body[bb.Id]; body != nil {
		for _, v := range self.rpo {
			if body[v.Id] {
				self.place(v, vis)
			}
		}
	}
}

func (self *Graph) postOrder() []*BasicBlock {
	type _Frame struct {
		bb *BasicBlock
		ns int
	}

	/* iterative DFS, so deep graphs don't blow the stack */
	ret := make([]*BasicBlock, 0, len(self.Blocks))
	vis := map[int]bool{self.Root.Id: true}
	stk := lane.NewStack()

	/* visit every successor before emitting the block */
	for stk.Push(&_Frame{bb: self.Root}); !stk.Empty(); {
		fp := stk.Head().(*_Frame)
		ss := self.Successors(fp.bb)

		/* find the next unvisited successor */
		for fp.ns < len(ss) && vis[ss[fp.ns].Id] {
			fp.ns++
		}

		/* all the successors are visited, pop the current node */
		if fp.ns == len(ss) {
			ret = append(ret, stk.Pop().(*_Frame).bb)
			continue
		}

		/* descend into the successor */
		vis[ss[fp.ns].Id] = true
		stk.Push(&_Frame{bb: ss[fp.ns]})
	}

	/* all done */
	return ret
}

func (self *Graph) String() string {
	var buf []string
	for _, bb := range self.Blocks {
		buf = append(buf, bb.String()+":")
		for i := bb.begin; i < bb.end; i++ {
			buf = append(buf, fmt.Sprintf("    %-6s = %s", i, self.ops[i]))
		}
	}
	return strings.Join(buf, "\n")
}
