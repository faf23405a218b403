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

// Builder constructs a Graph block by block. Blocks are bound one at a time
// and every bound block must be terminated before the next one is bound, so
// each block owns a contiguous range of operations.
type Builder struct {
	g   *Graph
	cur *BasicBlock
}

func NewBuilder() *Builder {
	return &Builder{
		g: new(Graph),
	}
}

// NewBlock creates an unbound block.
func (self *Builder) NewBlock() *BasicBlock {
	bb := &BasicBlock{
		Id:    len(self.g.Blocks),
		begin: NoOp,
		end:   NoOp,
	}

	/* add to the block list */
	self.g.Blocks = append(self.g.Blocks, bb)
	return bb
}

// Bind starts emitting operations into bb.
func (self *Builder) Bind(bb *BasicBlock) {
	if self.cur != nil && !self.cur.term {
		panic(errors.AssertionFailedf("bb_%d is not terminated", self.cur.Id))
	} else if bb.begin != NoOp {
		panic(errors.AssertionFailedf("bb_%d is already bound", bb.Id))
	}

	/* the first bound block is the entry */
	if self.g.Root == nil {
		self.g.Root = bb
	}

	/* mark the start of the block */
	self.cur = bb
	bb.begin = OpIndex(len(self.g.ops))
	bb.end = bb.begin
}

// Current returns the block being emitted, or nil.
func (self *Builder) Current() *BasicBlock {
	return self.cur
}

func (self *Builder) emit(op Operation) OpIndex {
	if self.cur == nil {
		panic(errors.AssertionFailedf("no block is bound"))
	} else if self.cur.term {
		panic(errors.AssertionFailedf("bb_%d is already terminated", self.cur.Id))
	}

	/* append the operation */
	id := OpIndex(len(self.g.ops))
	self.g.ops = append(self.g.ops, op)
	self.g.owner = append(self.g.owner, self.cur)
	self.cur.end = id + 1

	/* terminators link the successors back to this block */
	if tr, ok := op.(Terminator); ok {
		self.cur.term = true
		for _, s := range tr.Successors() {
			s.Pred = append(s.Pred, self.cur)
		}
	}

	/* all done */
	return id
}

func (self *Builder) Parameter(i int) OpIndex {
	return self.emit(&Parameter{Index: i})
}

func (self *Builder) Constant(v int64) OpIndex {
	return self.emit(&Constant{Value: v})
}

func (self *Builder) Allocate(size int64, shape Shape) OpIndex {
	return self.emit(&Allocate{Size: size, Shape: shape})
}

func (self *Builder) Load(mem Access) OpIndex {
	return self.emit(&Load{Access: mem})
}

func (self *Builder) Store(mem Access, val OpIndex) OpIndex {
	return self.emit(&Store{Access: mem, Value: val})
}

func (self *Builder) Call(fn OpIndex, args ...OpIndex) OpIndex {
	return self.emit(&Call{Callee: fn, Args: args})
}

// CallNoWrite emits a call to a function that never writes the heap.
func (self *Builder) CallNoWrite(fn OpIndex, args ...OpIndex) OpIndex {
	return self.emit(&Call{Callee: fn, Args: args, NoWrite: true})
}

func (self *Builder) AssumeShape(obj OpIndex, shapes ...Shape) OpIndex {
	return self.emit(&AssumeShape{Object: obj, Shapes: shapes})
}

func (self *Builder) Bitcast(v OpIndex) OpIndex {
	return self.emit(&Bitcast{Input: v})
}

func (self *Builder) Truncate(v OpIndex) OpIndex {
	return self.emit(&Truncate{Input: v})
}

func (self *Builder) Binary(op BinaryOp, x OpIndex, y OpIndex) OpIndex {
	return self.emit(&Binary{Op: op, X: x, Y: y})
}

// Phi emits a Phi node. Inputs coming from blocks that are not emitted yet
// may be NoOp and filled in later with SetPhiInput.
func (self *Builder) Phi(values ...OpIndex) OpIndex {
	return self.emit(&Phi{Values: append([]OpIndex(nil), values...)})
}

func (self *Builder) SetPhiInput(phi OpIndex, i int, v OpIndex) {
	if p, ok := self.g.Get(phi).(*Phi); !ok {
		panic(errors.AssertionFailedf("%s is not a Phi node", phi))
	} else {
		for len(p.Values) <= i {
			p.Values = append(p.Values, NoOp)
		}
		p.Values[i] = v
	}
}

func (self *Builder) Goto(to *BasicBlock) {
	self.emit(&Goto{Target: to})
}

func (self *Builder) Branch(cond OpIndex, t *BasicBlock, f *BasicBlock) {
	self.emit(&Branch{Cond: cond, IfTrue: t, IfFalse: f})
}

func (self *Builder) Return(values ...OpIndex) {
	self.emit(&Return{Values: values})
}

// Build finalizes and verifies the graph. The Builder must not be used after.
func (self *Builder) Build() (*Graph, error) {
	g := self.g
	self.g, self.cur = nil, nil

	/* the graph must not be empty */
	if g.Root == nil {
		return nil, errors.New("graph has no blocks")
	}

	/* every block must be bound and terminated before analyzing the structure */
	for _, bb := range g.Blocks {
		if bb.begin == NoOp {
			return nil, errors.Newf("bb_%d is never bound", bb.Id)
		} else if !bb.term {
			return nil, errors.Newf("bb_%d is not terminated", bb.Id)
		}
	}

	/* compute the orders, dominators and loops */
	g.rebuild()
	if err := g.Verify(); err != nil {
		return nil, err
	} else {
		return g, nil
	}
}
