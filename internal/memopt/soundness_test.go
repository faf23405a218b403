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
	"testing"

	gofakeit "github.com/brianvoe/gofakeit/v6"
	"github.com/cloudwego/loadelim/internal/opts"
	"github.com/cloudwego/loadelim/ssa"
	"github.com/stretchr/testify/require"
)

const (
	_RefBase  = int64(1) << 40
	_MaxTrips = 3
	_MaxDepth = 3
)

var (
	testShapes  = []ssa.Shape{"", "Point", "Array"}
	testOffsets = []int32{0, 8, 16, 24}
	testFrozen  = []int32{64, 72}
)

// progGen emits random structured programs: straight-line memory operations,
// if-else diamonds and loops, nested up to _MaxDepth. Diamonds and loops may
// merge references and values with Phi nodes.
type progGen struct {
	f      *gofakeit.Faker
	b      *ssa.Builder
	fn     ssa.OpIndex
	cond   ssa.OpIndex
	index  []ssa.OpIndex
	params []ssa.OpIndex
	shapes []ssa.Shape
	refs   []ssa.OpIndex
	vals   []ssa.OpIndex
	budget int
}

func generate(f *gofakeit.Faker) (*progGen, *ssa.Graph, error) {
	b := ssa.NewBuilder()
	self := &progGen{f: f, b: b, budget: f.Number(4, 48)}

	/* the callee, the branch condition, and 4 objects */
	b.Bind(b.NewBlock())
	self.fn = b.Parameter(0)
	self.cond = b.Parameter(1)
	for i := 0; i < 4; i++ {
		p := b.Parameter(i + 2)
		s := testShapes[f.Number(0, len(testShapes)-1)]
		self.refs = append(self.refs, p)
		self.params = append(self.params, p)
		self.shapes = append(self.shapes, s)
	}

	/* the shape facts */
	for i, p := range self.params {
		if self.shapes[i] != "" {
			b.AssumeShape(p, self.shapes[i])
		}
	}

	/* the element indices */
	for i := int64(0); i < int64(len(testOffsets)); i++ {
		self.index = append(self.index, b.Constant(i))
	}

	/* the body */
	self.vals = append(self.vals, self.index...)
	self.block(0)
	b.Return()
	g, err := b.Build()
	return self, g, err
}

func (self *progGen) pickRef() ssa.OpIndex {
	return self.refs[self.f.Number(0, len(self.refs)-1)]
}

func (self *progGen) pickVal() ssa.OpIndex {
	if self.f.Number(0, 9) == 0 {
		return self.pickRef()
	} else {
		return self.vals[self.f.Number(0, len(self.vals)-1)]
	}
}

func (self *progGen) pickOffset() int32 {
	return testOffsets[self.f.Number(0, len(testOffsets)-1)]
}

func (self *progGen) pickIndex() ssa.OpIndex {
	return self.index[self.f.Number(0, len(self.index)-1)]
}

func (self *progGen) raw(mem ssa.Access) ssa.Access {
	mem.Raw = self.f.Number(0, 3) == 0
	return mem
}

func (self *progGen) scoped(fn func()) {
	nr, nv := len(self.refs), len(self.vals)
	fn()
	self.refs, self.vals = self.refs[:nr], self.vals[:nv]
}

func (self *progGen) block(depth int) {
	for n := self.f.Number(1, 6); n > 0 && self.budget > 0; n-- {
		self.budget--
		self.stmt(depth)
	}
}

func (self *progGen) stmt(depth int) {
	b := self.b
	switch self.f.Number(0, 15) {
	case 0, 1:
		self.vals = append(self.vals, b.Load(self.raw(ssa.Field(self.pickRef(), self.pickOffset(), 8))))
	case 2:
		self.vals = append(self.vals, b.Load(self.raw(ssa.Element(self.pickRef(), self.pickIndex(), 0, 3, 8))))
	case 3:
		mem := ssa.Field(self.params[self.f.Number(0, len(self.params)-1)], testFrozen[self.f.Number(0, 1)], 8)
		mem.Immutable = true
		self.vals = append(self.vals, b.Load(mem))
	case 4, 5:
		b.Store(self.raw(ssa.Field(self.pickRef(), self.pickOffset(), 8)), self.pickVal())
	case 6:
		b.Store(self.raw(ssa.Element(self.pickRef(), self.pickIndex(), 0, 3, 8)), self.pickVal())
	case 7:
		mem := ssa.Field(self.pickRef(), self.pickOffset(), 8)
		mem.Atomic = true
		if self.f.Bool() {
			self.vals = append(self.vals, b.Load(mem))
		} else {
			b.Store(mem, self.pickVal())
		}
	case 8:
		var args []ssa.OpIndex
		for n := self.f.Number(0, 2); n > 0; n-- {
			args = append(args, self.pickVal())
		}
		if self.f.Number(0, 2) == 0 {
			self.vals = append(self.vals, b.CallNoWrite(self.fn, args...))
		} else {
			self.vals = append(self.vals, b.Call(self.fn, args...))
		}
	case 9:
		self.refs = append(self.refs, b.Allocate(32, testShapes[self.f.Number(0, len(testShapes)-1)]))
	case 10:
		self.refs = append(self.refs, b.Bitcast(self.pickRef()))
	case 11:
		self.vals = append(self.vals, b.Binary(ssa.BinaryAdd, self.pickVal(), self.pickVal()))
	case 12:
		self.vals = append(self.vals, b.Truncate(self.pickVal()))
	case 13:
		if i := self.f.Number(0, len(self.params)-1); self.shapes[i] != "" {
			b.AssumeShape(self.params[i], self.shapes[i])
		}
	case 14:
		if depth < _MaxDepth {
			self.emitIf(depth)
		}
	case 15:
		if depth < _MaxDepth {
			self.emitLoop(depth)
		}
	}
}

func (self *progGen) emitIf(depth int) {
	b := self.b
	bt, bf, join := b.NewBlock(), b.NewBlock(), b.NewBlock()
	b.Branch(self.cond, bt, bf)

	/* what each arm passes to the join */
	var refs [2]ssa.OpIndex
	var vals [2]ssa.OpIndex

	/* both arms jump to the join */
	for i, bb := range []*ssa.BasicBlock{bt, bf} {
		b.Bind(bb)
		self.scoped(func() {
			self.block(depth + 1)
			refs[i], vals[i] = self.pickRef(), self.pickVal()
		})
		b.Goto(join)
	}

	/* continue after the diamond, possibly merging what the arms produced */
	if b.Bind(join); self.f.Bool() {
		self.refs = append(self.refs, b.Phi(refs[:]...))
		self.vals = append(self.vals, b.Phi(vals[:]...))
	}
}

func (self *progGen) emitLoop(depth int) {
	b := self.b
	header, body, exit := b.NewBlock(), b.NewBlock(), b.NewBlock()
	entry := self.pickRef()
	b.Goto(header)
	b.Bind(header)

	/* a reference carried around the loop */
	phi := ssa.NoOp
	if self.f.Bool() {
		phi = b.Phi(entry, ssa.NoOp)
		self.refs = append(self.refs, phi)
	}

	/* a load in the header is visible after the loop */
	if self.f.Bool() {
		self.vals = append(self.vals, b.Load(ssa.Field(self.pickRef(), self.pickOffset(), 8)))
	}

	/* the body jumps back to the header */
	b.Branch(self.cond, body, exit)
	b.Bind(body)
	self.scoped(func() {
		if self.block(depth + 1); phi.Valid() {
			b.SetPhiInput(phi, 1, self.pickRef())
		}
	})
	b.Goto(header)
	b.Bind(exit)
}

// machine executes a graph concretely and checks every replacement against
// the values actually observed. Unknown callees write random values into
// every object that has escaped, and so do raw stores when raw accesses may
// use interior pointers.
type machine struct {
	t        *testing.T
	f        *gofakeit.Faker
	g        *ssa.Graph
	interior bool
	verdict  []Verdict
	args     []int64
	vals     []int64
	heap     map[int64]map[int32]int64
	shape    map[int64]ssa.Shape
	escaped  map[int64]bool
	objects  []int64
	trips    map[int]int
}

func newMachine(t *testing.T, f *gofakeit.Faker, g *ssa.Graph, o opts.Options, verdict []Verdict) *machine {
	return &machine{
		t:        t,
		f:        f,
		g:        g,
		interior: o.InteriorPointers,
		verdict:  verdict,
		vals:     make([]int64, g.Len()),
		heap:     make(map[int64]map[int32]int64),
		shape:    make(map[int64]ssa.Shape),
		escaped:  make(map[int64]bool),
		trips:    make(map[int]int),
	}
}

func (self *machine) alloc(shape ssa.Shape) int64 {
	ref := _RefBase + int64(len(self.heap))
	self.heap[ref] = make(map[int32]int64)
	self.shape[ref] = shape
	return ref
}

// bind creates the parameter objects. Parameters may be the same object
// unless their shapes tell them apart.
func (self *machine) bind(gen *progGen) {
	var objs []int64
	self.args = []int64{0, 0}

	/* create or share the objects */
	for _, s := range gen.shapes {
		var cands []int64
		for _, o := range objs {
			if s == "" || self.shape[o] == s {
				cands = append(cands, o)
			}
		}

		/* share an existing object */
		if len(cands) != 0 && self.f.Bool() {
			self.args = append(self.args, cands[self.f.Number(0, len(cands)-1)])
			continue
		}

		/* objects without a known shape still have one */
		if s == "" {
			s = testShapes[self.f.Number(1, len(testShapes)-1)]
		}

		/* a new object with random contents, visible to the callee */
		ref := self.alloc(s)
		for _, off := range append(testOffsets, testFrozen...) {
			self.heap[ref][off] = self.f.Int64()
		}
		self.escape(ref)
		objs = append(objs, ref)
		self.args = append(self.args, ref)
	}
}

func (self *machine) escape(v int64) {
	if _, ok := self.heap[v]; ok && !self.escaped[v] {
		self.escaped[v] = true
		self.objects = append(self.objects, v)
	}
}

func (self *machine) clobber() {
	for _, ref := range self.objects {
		for _, off := range testOffsets {
			if self.f.Bool() {
				self.heap[ref][off] = self.f.Int64()
			}
		}
	}
}

func (self *machine) address(mem ssa.Access) (int64, int32) {
	ref := self.vals[mem.Base]
	off := mem.Offset

	/* dynamic element */
	if mem.Dynamic() {
		off += int32(self.vals[mem.Index] << mem.ElemSizeLog2)
	}

	/* must be a real object */
	_, ok := self.heap[ref]
	require.True(self.t, ok, "%s is not a reference", mem.Base)
	return ref, off
}

func (self *machine) run() {
	var prev *ssa.BasicBlock
	for bb := self.g.Root; bb != nil; prev, bb = bb, self.jump(bb) {
		for i := self.merge(prev, bb); i < bb.LastOperation(); i++ {
			self.exec(i)
		}
	}
}

// merge evaluates the leading Phi nodes of bb all at once, on the edge from
// prev, and returns the first operation after them.
func (self *machine) merge(prev *ssa.BasicBlock, bb *ssa.BasicBlock) ssa.OpIndex {
	var vals []int64
	i := bb.FirstOperation()

	/* read every input before writing any result */
	for ; i < bb.LastOperation(); i++ {
		if phi, ok := self.g.Get(i).(*ssa.Phi); !ok {
			break
		} else {
			n := bb.PredIndex(prev)
			require.GreaterOrEqual(self.t, n, 0, "%s is not a predecessor of %s", prev, bb)
			vals = append(vals, self.vals[phi.Values[n]])
		}
	}

	/* merged references are visible to callees */
	for j, v := range vals {
		self.vals[bb.FirstOperation()+ssa.OpIndex(j)] = v
		self.escape(v)
	}
	return i
}

func (self *machine) jump(bb *ssa.BasicBlock) *ssa.BasicBlock {
	switch tr := self.g.Terminator(bb).(type) {
	case *ssa.Goto:
		if self.g.IsLoopHeader(tr.Target) && self.g.Backedge(tr.Target) != bb {
			self.trips[tr.Target.Id] = 0
		}
		return tr.Target
	case *ssa.Branch:
		if !self.g.IsLoopHeader(bb) {
			if self.f.Bool() {
				return tr.IfTrue
			} else {
				return tr.IfFalse
			}
		}
		if self.trips[bb.Id] < _MaxTrips && self.f.Bool() {
			self.trips[bb.Id]++
			return tr.IfTrue
		} else {
			return tr.IfFalse
		}
	default:
		return nil
	}
}

func (self *machine) exec(i ssa.OpIndex) {
	vd := self.verdict[i]
	switch op := self.g.Get(i).(type) {
	case *ssa.Parameter:
		self.vals[i] = self.args[op.Index]
	case *ssa.Constant:
		self.vals[i] = op.Value
	case *ssa.Allocate:
		self.vals[i] = self.alloc(op.Shape)
	case *ssa.AssumeShape:
		require.Equal(self.t, op.Shapes[0], self.shape[self.vals[op.Object]])
	case *ssa.Bitcast:
		self.vals[i] = self.vals[op.Input]
	case *ssa.Truncate:
		self.vals[i] = int64(int32(self.vals[op.Input]))
	case *ssa.Binary:
		self.vals[i] = self.vals[op.X] + self.vals[op.Y]
	case *ssa.Load:
		ref, off := self.address(op.Access)
		if self.vals[i] = self.heap[ref][off]; vd.Kind == VerdictReuseValue {
			require.Equal(self.t, self.vals[vd.Value], self.vals[i], "%s = %s is replaced with %s", i, op, vd.Value)
		}
	case *ssa.Store:
		ref, off := self.address(op.Access)
		if vd.Kind == VerdictReuseValue {
			require.Equal(self.t, self.vals[vd.Value], self.heap[ref][off], "%s = %s is redundant with %s", i, op, vd.Value)
		}
		self.heap[ref][off] = self.vals[op.Value]
		self.escape(self.vals[op.Value])

		/* an interior pointer may point into any object that escaped */
		if op.Raw && self.interior {
			self.clobber()
		}
	case *ssa.Call:
		for _, v := range op.Args {
			self.escape(self.vals[v])
		}
		if self.vals[i] = self.f.Int64(); !op.NoWrite {
			self.clobber()
		}
	default:
		self.t.Fatalf("unexpected operation %s = %s", i, op)
	}
}

func checkFusions(t *testing.T, g *ssa.Graph, vv []Verdict) {
	for i, v := range vv {
		if v.Kind != VerdictTruncationFusion {
			continue
		}

		/* the truncation reads a narrowed 64-bit load */
		_, ok := g.Get(ssa.OpIndex(i)).(*ssa.Truncate)
		require.True(t, ok)
		ld, ok := g.Get(v.Value).(*ssa.Load)
		require.True(t, ok)
		require.Equal(t, uint8(8), ld.Size)
		require.Equal(t, VerdictNarrowLoadFusion, vv[v.Value].Kind)
	}
}

func TestAnalyzer_Soundness(t *testing.T) {
	variants := []func(*opts.Options){
		func(o *opts.Options) {},
		func(o *opts.Options) { o.MaxEntries = 3 },
		func(o *opts.Options) { o.MaxLoopRevisits = 1 },
		func(o *opts.Options) { o.InteriorPointers = true },
	}

	/* random programs */
	for seed := int64(0); seed < 300; seed++ {
		gen, g, err := generate(gofakeit.New(seed))
		require.NoError(t, err, "seed %d", seed)

		/* analyze with every configuration */
		for _, fn := range variants {
			var o opts.Options
			fn(&o)
			vv, _ := analyze(t, g, fn)
			checkFusions(t, g, vv)

			/* run it a few times with different aliasing and paths */
			for run := int64(0); run < 8; run++ {
				m := newMachine(t, gofakeit.New(seed*100+run), g, o, vv)
				m.bind(gen)
				m.run()
			}
		}
	}
}
