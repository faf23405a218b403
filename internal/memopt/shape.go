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
	"math"

	"github.com/bytedance/gopkg/util/xxhash3"
	"github.com/cloudwego/loadelim/internal/snapshot"
	"github.com/cloudwego/loadelim/ssa"
)

// ShapeMask approximates the set of shapes an object may have: And is the
// bitwise AND and Or the bitwise OR of the hashes of every possible shape.
type ShapeMask struct {
	Or  uint64
	And uint64
}

// NoShapeInfo is the mask of an object about which nothing is known.
var NoShapeInfo = ShapeMask{
	Or:  0,
	And: math.MaxUint64,
}

func ShapeHash(shape ssa.Shape) uint64 {
	return xxhash3.HashString(string(shape))
}

// MaskOf returns the mask of an object known to have one of shapes.
func MaskOf(shapes []ssa.Shape) ShapeMask {
	ret := NoShapeInfo
	for _, s := range shapes {
		h := ShapeHash(s)
		ret = ret.Narrow(ShapeMask{Or: h, And: h})
	}
	return ret
}

func (self ShapeMask) Known() bool {
	return self != NoShapeInfo
}

// Narrow adds the facts of other to the mask. Narrowing only ever shrinks And
// and grows Or.
func (self ShapeMask) Narrow(other ShapeMask) ShapeMask {
	if !self.Known() {
		return other
	} else if !other.Known() {
		return self
	} else {
		return ShapeMask{Or: self.Or | other.Or, And: self.And & other.And}
	}
}

// Join returns a mask that covers both self and other. Knowing nothing on
// either side means knowing nothing.
func (self ShapeMask) Join(other ShapeMask) ShapeMask {
	if !self.Known() || !other.Known() {
		return NoShapeInfo
	} else {
		return ShapeMask{Or: self.Or | other.Or, And: self.And & other.And}
	}
}

func (self ShapeMask) String() string {
	if !self.Known() {
		return "shape(?)"
	} else {
		return fmt.Sprintf("shape(and=%#016x, or=%#016x)", self.And, self.Or)
	}
}

// CouldShareShape returns false only if a and b provably never have the
// same shape. Any shape common to both has a hash h with a.And ⊆ h ⊆ b.Or,
// so a false answer is never wrong.
func CouldShareShape(a ShapeMask, b ShapeMask) bool {
	if !a.Known() || !b.Known() {
		return true
	} else {
		return (a.And&b.Or) == a.And || (b.And&a.Or) == b.And
	}
}

// ShapeTable tracks a ShapeMask per object.
type ShapeTable struct {
	tab *snapshot.Table[ssa.OpIndex, ShapeMask]
}

func NewShapeTable() *ShapeTable {
	return &ShapeTable{
		tab: snapshot.New[ssa.OpIndex, ShapeMask](NoShapeInfo),
	}
}

func (self *ShapeTable) Get(obj ssa.OpIndex) ShapeMask {
	return self.tab.Get(obj)
}

// Assume narrows the mask of obj with the knowledge that it has one of shapes.
func (self *ShapeTable) Assume(obj ssa.OpIndex, shapes []ssa.Shape) {
	self.tab.Set(obj, self.tab.Get(obj).Narrow(MaskOf(shapes)))
}

// CouldShareShape tells whether objects a and b may have the same shape.
func (self *ShapeTable) CouldShareShape(a ssa.OpIndex, b ssa.OpIndex) bool {
	return a == b || CouldShareShape(self.Get(a), self.Get(b))
}

func mergeShapes(_ ssa.OpIndex, vals []ShapeMask) ShapeMask {
	ret := vals[0]
	for _, v := range vals[1:] {
		ret = ret.Join(v)
	}
	return ret
}
