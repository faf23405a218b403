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
)

// OpIndex identifies an operation inside a Graph.
type OpIndex int32

// NoOp is the absent operation, used for optional operands.
const NoOp OpIndex = -1

func (self OpIndex) Valid() bool {
	return self >= 0
}

func (self OpIndex) String() string {
	if self.Valid() {
		return fmt.Sprintf("%%%d", int32(self))
	} else {
		return "∅"
	}
}

// Shape names a runtime object layout (a "hidden class").
type Shape string

type Operation interface {
	fmt.Stringer
	Inputs() []OpIndex
	irnode()
}

type Terminator interface {
	Operation
	Successors() []*BasicBlock
	irterminator()
}

func (*Parameter) irnode()   {}
func (*Constant) irnode()    {}
func (*Allocate) irnode()    {}
func (*Load) irnode()        {}
func (*Store) irnode()       {}
func (*Call) irnode()        {}
func (*AssumeShape) irnode() {}
func (*Bitcast) irnode()     {}
func (*Truncate) irnode()    {}
func (*Binary) irnode()      {}
func (*Phi) irnode()         {}
func (*Goto) irnode()        {}
func (*Branch) irnode()      {}
func (*Return) irnode()      {}

func (*Goto) irterminator()   {}
func (*Branch) irterminator() {}
func (*Return) irterminator() {}

func opslice(v []OpIndex) string {
	ret := make([]string, 0, len(v))
	for _, r := range v {
		ret = append(ret, r.String())
	}
	return strings.Join(ret, ", ")
}

// Access describes the memory operand of a Load or a Store, addressing
// `Base + (Index << ElemSizeLog2) + Offset`, Size bytes wide.
type Access struct {
	Base         OpIndex
	Index        OpIndex
	Offset       int32
	ElemSizeLog2 uint8
	Size         uint8
	Immutable    bool
	Raw          bool
	Atomic       bool
}

// Field addresses a statically-offset field of base.
func Field(base OpIndex, offset int32, size uint8) Access {
	return Access{
		Base:   base,
		Index:  NoOp,
		Offset: offset,
		Size:   size,
	}
}

// Element addresses a dynamically-indexed element of base.
func Element(base OpIndex, index OpIndex, offset int32, log2 uint8, size uint8) Access {
	return Access{
		Base:         base,
		Index:        index,
		Offset:       offset,
		ElemSizeLog2: log2,
		Size:         size,
	}
}

func (self Access) Dynamic() bool {
	return self.Index != NoOp
}

func (self Access) inputs() []OpIndex {
	if self.Dynamic() {
		return []OpIndex{self.Base, self.Index}
	} else {
		return []OpIndex{self.Base}
	}
}

func (self Access) String() string {
	var buf []string
	var flags []string

	/* address expression */
	if buf = append(buf, self.Base.String()); self.Dynamic() {
		buf = append(buf, fmt.Sprintf("%s<<%d", self.Index, self.ElemSizeLog2))
	}

	/* static offset, if any */
	if self.Offset != 0 {
		buf = append(buf, fmt.Sprintf("%d", self.Offset))
	}

	/* access kind flags */
	if self.Immutable {
		flags = append(flags, "immutable")
	}
	if self.Raw {
		flags = append(flags, "raw")
	}
	if self.Atomic {
		flags = append(flags, "atomic")
	}

	/* no flags */
	if len(flags) == 0 {
		return fmt.Sprintf("u%d [%s]", int(self.Size)*8, strings.Join(buf, " + "))
	}

	/* join them together */
	return fmt.Sprintf(
		"u%d.%s [%s]",
		int(self.Size)*8,
		strings.Join(flags, "."),
		strings.Join(buf, " + "),
	)
}

type Parameter struct {
	Index int
}

func (self *Parameter) String() string {
	return fmt.Sprintf("param #%d", self.Index)
}

func (self *Parameter) Inputs() []OpIndex {
	return nil
}

type Constant struct {
	Value int64
}

func (self *Constant) String() string {
	return fmt.Sprintf("const.i64 %d", self.Value)
}

func (self *Constant) Inputs() []OpIndex {
	return nil
}

// Allocate creates a fresh object that no other reference points to yet.
type Allocate struct {
	Size  int64
	Shape Shape
}

func (self *Allocate) String() string {
	if self.Shape == "" {
		return fmt.Sprintf("allocate %d", self.Size)
	} else {
		return fmt.Sprintf("allocate %d <%s>", self.Size, self.Shape)
	}
}

func (self *Allocate) Inputs() []OpIndex {
	return nil
}

type Load struct {
	Access
}

func (self *Load) String() string {
	return "load." + self.Access.String()
}

func (self *Load) Inputs() []OpIndex {
	return self.inputs()
}

type Store struct {
	Access
	Value OpIndex
}

func (self *Store) String() string {
	return fmt.Sprintf("store.%s <- %s", self.Access.String(), self.Value)
}

func (self *Store) Inputs() []OpIndex {
	return append(self.inputs(), self.Value)
}

// Call invokes unknown code. NoWrite calls are known not to write the heap.
type Call struct {
	Callee  OpIndex
	Args    []OpIndex
	NoWrite bool
}

func (self *Call) String() string {
	if self.NoWrite {
		return fmt.Sprintf("call.nowrite %s(%s)", self.Callee, opslice(self.Args))
	} else {
		return fmt.Sprintf("call %s(%s)", self.Callee, opslice(self.Args))
	}
}

func (self *Call) Inputs() []OpIndex {
	return append([]OpIndex{self.Callee}, self.Args...)
}

// AssumeShape asserts that Object has one of the listed shapes.
type AssumeShape struct {
	Object OpIndex
	Shapes []Shape
}

func (self *AssumeShape) String() string {
	buf := make([]string, 0, len(self.Shapes))
	for _, s := range self.Shapes {
		buf = append(buf, string(s))
	}
	return fmt.Sprintf("assume.shape %s in {%s}", self.Object, strings.Join(buf, ", "))
}

func (self *AssumeShape) Inputs() []OpIndex {
	return []OpIndex{self.Object}
}

// Bitcast reinterprets a tagged reference as a machine word.
type Bitcast struct {
	Input OpIndex
}

func (self *Bitcast) String() string {
	return fmt.Sprintf("bitcast.tagged.word %s", self.Input)
}

func (self *Bitcast) Inputs() []OpIndex {
	return []OpIndex{self.Input}
}

// Truncate narrows a 64-bit word to its low 32 bits.
type Truncate struct {
	Input OpIndex
}

func (self *Truncate) String() string {
	return fmt.Sprintf("truncate.i64.i32 %s", self.Input)
}

func (self *Truncate) Inputs() []OpIndex {
	return []OpIndex{self.Input}
}

type BinaryOp uint8

const (
	BinaryAdd BinaryOp = iota
	BinarySub
	BinaryMul
	BinaryAnd
	BinaryOr
	BinaryXor
	BinaryCmpEq
	BinaryCmpLt
)

func (self BinaryOp) String() string {
	switch self {
	case BinaryAdd:
		return "+"
	case BinarySub:
		return "-"
	case BinaryMul:
		return "*"
	case BinaryAnd:
		return "&"
	case BinaryOr:
		return "|"
	case BinaryXor:
		return "^"
	case BinaryCmpEq:
		return "=="
	case BinaryCmpLt:
		return "<"
	default:
		panic("unreachable")
	}
}

type Binary struct {
	Op BinaryOp
	X  OpIndex
	Y  OpIndex
}

func (self *Binary) String() string {
	return fmt.Sprintf("%s %s %s", self.X, self.Op, self.Y)
}

func (self *Binary) Inputs() []OpIndex {
	return []OpIndex{self.X, self.Y}
}

// Phi selects Values[i] when control arrives from the i-th predecessor.
type Phi struct {
	Values []OpIndex
}

func (self *Phi) String() string {
	return fmt.Sprintf("φ(%s)", opslice(self.Values))
}

func (self *Phi) Inputs() []OpIndex {
	return self.Values
}

type Goto struct {
	Target *BasicBlock
}

func (self *Goto) String() string {
	return fmt.Sprintf("goto bb_%d", self.Target.Id)
}

func (self *Goto) Inputs() []OpIndex {
	return nil
}

func (self *Goto) Successors() []*BasicBlock {
	return []*BasicBlock{self.Target}
}

type Branch struct {
	Cond    OpIndex
	IfTrue  *BasicBlock
	IfFalse *BasicBlock
}

func (self *Branch) String() string {
	return fmt.Sprintf("branch %s ? bb_%d : bb_%d", self.Cond, self.IfTrue.Id, self.IfFalse.Id)
}

func (self *Branch) Inputs() []OpIndex {
	return []OpIndex{self.Cond}
}

func (self *Branch) Successors() []*BasicBlock {
	return []*BasicBlock{self.IfTrue, self.IfFalse}
}

type Return struct {
	Values []OpIndex
}

func (self *Return) String() string {
	return fmt.Sprintf("ret {%s}", opslice(self.Values))
}

func (self *Return) Inputs() []OpIndex {
	return self.Values
}

func (self *Return) Successors() []*BasicBlock {
	return nil
}
