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

// Verify checks the structural contracts the analyses rely on.
func (self *Graph) Verify() error {
	if len(self.Root.Pred) != 0 {
		return errors.Newf("entry block bb_%d has predecessors", self.Root.Id)
	}

	/* check the blocks */
	for _, bb := range self.Blocks {
		if _, ok := self.order[bb.Id]; !ok {
			return errors.Newf("bb_%d is not reachable from the entry", bb.Id)
		} else if err := self.verifyBlock(bb); err != nil {
			return errors.Wrapf(err, "bb_%d", bb.Id)
		}
	}

	/* check the loops */
	for _, bb := range self.rpo {
		for _, s := range self.Successors(bb) {
			if err := self.verifyEdge(bb, s); err != nil {
				return err
			}
		}
	}

	/* check the field layout */
	return self.verifyLayout()
}

type _Field struct {
	off  int32
	size uint8
}

func (self _Field) overlaps(other _Field) bool {
	return self.off < other.off+int32(other.size) && other.off < self.off+int32(self.size)
}

// verifyLayout checks that statically addressed accesses through the same
// object either address the same field or disjoint ones.
func (self *Graph) verifyLayout() error {
	objs := make(map[OpIndex]map[_Field]OpIndex)
	for i, op := range self.ops {
		var mem Access
		switch v := op.(type) {
		case *Load:
			mem = v.Access
		case *Store:
			mem = v.Access
		default:
			continue
		}

		/* dynamic elements are not fields */
		if mem.Dynamic() {
			continue
		}

		/* the fields seen so far on this object */
		fv := _Field{off: mem.Offset, size: mem.Size}
		obj := self.objectOf(mem.Base)
		fields := objs[obj]

		/* first access to this object */
		if fields == nil {
			fields = make(map[_Field]OpIndex)
			objs[obj] = fields
		}

		/* the same field again */
		if _, ok := fields[fv]; ok {
			continue
		}

		/* must not partially overlap any other field */
		for f, j := range fields {
			if f.overlaps(fv) {
				return errors.Newf("%s = %s overlaps %s = %s", OpIndex(i), op, j, self.ops[j])
			}
		}

		/* add to the fields */
		fields[fv] = OpIndex(i)
	}
	return nil
}

// objectOf looks through bitcasts.
func (self *Graph) objectOf(v OpIndex) OpIndex {
	for {
		if bc, ok := self.ops[v].(*Bitcast); ok {
			v = bc.Input
		} else {
			return v
		}
	}
}

func (self *Graph) verifyEdge(bb *BasicBlock, s *BasicBlock) error {
	if !self.Dominates(s, bb) {
		if self.order[s.Id] <= self.order[bb.Id] {
			return errors.Newf("irreducible edge bb_%d -> bb_%d", bb.Id, s.Id)
		} else {
			return nil
		}
	}

	/* edges into a dominator are backedges, one per loop */
	if self.latch[s.Id] != bb {
		return errors.Newf("loop header bb_%d has more than one backedge", s.Id)
	} else if len(s.Pred) != 2 || s.Pred[1] != bb || s.Pred[0] == bb {
		return errors.Newf("loop header bb_%d must have exactly a forward predecessor and a backedge", s.Id)
	} else if _, ok := self.Terminator(bb).(*Goto); !ok {
		return errors.Newf("backedge bb_%d -> bb_%d is not a goto", bb.Id, s.Id)
	} else {
		return nil
	}
}

func (self *Graph) verifyBlock(bb *BasicBlock) error {
	phi := true
	for i := bb.begin; i < bb.end; i++ {
		op := self.ops[i]

		/* Phi nodes must come first */
		if _, ok := op.(*Phi); !ok {
			phi = false
		} else if !phi {
			return errors.Newf("%s: Phi node after a non-Phi operation", i)
		}

		/* only the last operation may terminate the block */
		if _, ok := op.(Terminator); ok != (i == bb.end-1) {
			return errors.Newf("%s: terminator must be the last operation", i)
		}

		/* check the operands */
		if err := self.verifyOperation(bb, i, op); err != nil {
			return errors.Wrapf(err, "%s = %s", i, op)
		}
	}
	return nil
}

func (self *Graph) verifyOperation(bb *BasicBlock, i OpIndex, op Operation) error {
	switch v := op.(type) {
	case *Phi:
		if len(v.Values) != len(bb.Pred) {
			return errors.Newf("%d inputs for %d predecessors", len(v.Values), len(bb.Pred))
		}
		for j, r := range v.Values {
			if err := self.verifyDefinition(r, bb.Pred[j], OpIndex(self.Len())); err != nil {
				return err
			}
		}
		return nil
	case *Load:
		if err := verifyAccess(v.Access); err != nil {
			return err
		}
	case *Store:
		if err := verifyAccess(v.Access); err != nil {
			return err
		}
	}

	/* every operand must dominate its use */
	for _, r := range op.Inputs() {
		if err := self.verifyDefinition(r, bb, i); err != nil {
			return err
		}
	}
	return nil
}

func (self *Graph) verifyDefinition(r OpIndex, bb *BasicBlock, at OpIndex) error {
	if r < 0 || int(r) >= len(self.ops) {
		return errors.Newf("operand %s out of range", r)
	} else if !producesValue(self.ops[r]) {
		return errors.Newf("operand %s = %s does not produce a value", r, self.ops[r])
	} else if db := self.owner[r]; !self.Dominates(db, bb) {
		return errors.Newf("operand %s does not dominate its use", r)
	} else if db == bb && r >= at {
		return errors.Newf("operand %s is used before its definition", r)
	} else {
		return nil
	}
}

func producesValue(op Operation) bool {
	switch op.(type) {
	case *Store, *AssumeShape, Terminator:
		return false
	default:
		return true
	}
}

func verifyAccess(mem Access) error {
	switch {
	case mem.Size != 1 && mem.Size != 2 && mem.Size != 4 && mem.Size != 8:
		return errors.Newf("invalid access size %d", mem.Size)
	case mem.ElemSizeLog2 > 3:
		return errors.Newf("invalid element size 1<<%d", mem.ElemSizeLog2)
	case !mem.Dynamic() && mem.ElemSizeLog2 != 0:
		return errors.New("element size on a statically addressed access")
	default:
		return nil
	}
}
