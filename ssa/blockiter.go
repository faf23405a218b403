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
	"github.com/cockroachdb/errors"
)

// BlockIter walks the blocks of a Graph in Layout order, so every forward
// predecessor of a block is visited before the block itself, and a loop is
// entirely visited before any block after it. A loop can be visited again
// with MarkLoopForRevisit.
type BlockIter struct {
	g   *Graph
	i   int
	b   *BasicBlock
	r   bool
	rev bool
}

// Iter returns a new iterator over the graph.
func (self *Graph) Iter() *BlockIter {
	return &BlockIter{g: self}
}

func (self *BlockIter) Next() bool {
	if self.i >= len(self.g.lin) {
		self.b = nil
		self.rev = false
		return false
	}

	/* move to the next block, and consume the revisit request */
	self.b = self.g.lin[self.i]
	self.rev, self.r = self.r, false
	self.i++
	return true
}

func (self *BlockIter) Block() *BasicBlock {
	return self.b
}

// Revisiting tells whether the current block is a loop header visited again
// because of MarkLoopForRevisit.
func (self *BlockIter) Revisiting() bool {
	return self.rev
}

// MarkLoopForRevisit makes the iterator continue with the loop headed by
// header, and then with the blocks following that loop.
func (self *BlockIter) MarkLoopForRevisit(header *BasicBlock) {
	if !self.g.IsLoopHeader(header) {
		panic(errors.AssertionFailedf("bb_%d is not a loop header", header.Id))
	}

	/* rewind to the header */
	self.r = true
	self.i = self.g.pos[header.Id]
}

func (self *BlockIter) ForEach(action func(bb *BasicBlock)) {
	for self.Next() {
		action(self.b)
	}
}
