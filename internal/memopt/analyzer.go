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
	"github.com/cloudwego/loadelim/internal/opts"
	"github.com/cloudwego/loadelim/internal/snapshot"
	"github.com/cloudwego/loadelim/ssa"
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

type _State struct {
	alias  snapshot.Snapshot
	shapes snapshot.Snapshot
	memory snapshot.Snapshot
}

var _TopState = _State{
	alias:  snapshot.None,
	shapes: snapshot.None,
	memory: snapshot.None,
}

// Analyzer walks a graph once (revisiting loops until their header state is
// stable) and decides which loads and stores are redundant.
type Analyzer struct {
	g       *ssa.Graph
	opts    opts.Options
	log     *slog.Logger
	alias   *AliasTable
	shapes  *ShapeTable
	memory  *MemoryContent
	truncs  *TruncationTracker
	verdict []Verdict
	ends    map[int]_State
	heads   map[int]_State
	pending map[int]_State
	loops   map[int]int
	top     map[int]bool
	stats   Stats
}

func NewAnalyzer(g *ssa.Graph, options opts.Options) *Analyzer {
	ret := &Analyzer{
		g:       g,
		opts:    options,
		log:     options.Logger,
		alias:   NewAliasTable(),
		shapes:  NewShapeTable(),
		truncs:  NewTruncationTracker(),
		verdict: make([]Verdict, g.Len()),
		ends:    make(map[int]_State, len(g.Blocks)),
		heads:   make(map[int]_State),
		pending: make(map[int]_State),
		loops:   make(map[int]int),
		top:     make(map[int]bool),
	}

	/* every operation starts with no verdict */
	for i := range ret.verdict {
		ret.verdict[i] = NoVerdict
	}

	/* memory locations are keyed by the canonical base */
	ret.memory = NewMemoryContent(ret.alias, ret.shapes, options.MaxEntries, ret.resolveBase)
	return ret
}

// Run analyzes the whole graph and returns the verdict of every operation.
func (self *Analyzer) Run() []Verdict {
	it := self.g.Iter()

	/* visit every block, revisiting loops as requested */
	for it.Next() {
		bb := it.Block()
		self.stats.Blocks++
		self.enter(bb, it.Revisiting())

		/* process every operation of the block */
		for i := bb.FirstOperation(); i <= bb.LastOperation(); i++ {
			self.process(i)
		}

		/* a backedge closes one round of the loop */
		if self.ends[bb.Id] = self.seal(); self.g.LoopHeaderOf(bb) != nil {
			self.checkLoop(it, self.g.LoopHeaderOf(bb))
		}
	}

	/* commit the truncation fusions over the rewritten graph */
	self.finish()
	return self.verdict
}

func (self *Analyzer) Stats() Stats {
	return self.stats
}

func (self *Analyzer) debug(msg string, args ...any) {
	if self.log != nil {
		self.log.Debug(msg, args...)
	}
}

func (self *Analyzer) enter(bb *ssa.BasicBlock, revisit bool) {
	switch {
	case bb == self.g.Root:
		self.start(_TopState)
	case self.g.IsLoopHeader(bb):
		self.enterLoop(bb, revisit)
	case len(bb.Pred) == 1:
		self.start(self.endOf(bb.Pred[0]))
	default:
		self.merge(bb.Pred)
	}
}

func (self *Analyzer) enterLoop(bb *ssa.BasicBlock, revisit bool) {
	switch {
	case !revisit:
		delete(self.top, bb.Id)
		delete(self.loops, bb.Id)
		self.start(self.endOf(self.g.ForwardPredecessor(bb)))
	case self.top[bb.Id]:
		self.start(_TopState)
	default:
		self.start(self.pending[bb.Id])
	}

	/* remember the state the loop was entered with */
	self.heads[bb.Id] = self.seal()
	self.start(self.heads[bb.Id])
}

func (self *Analyzer) checkLoop(it *ssa.BlockIter, header *ssa.BasicBlock) {
	if self.top[header.Id] {
		return
	}

	/* the state the header would start with in the next round */
	self.merge(header.Pred)
	next := self.seal()

	/* nothing changed, the loop is done */
	if self.equal(next, self.heads[header.Id]) {
		return
	}

	/* run the loop again with the widened state, or give up on it */
	if n := self.loops[header.Id]; self.opts.CanRevisit(n) {
		self.loops[header.Id] = n + 1
		self.pending[header.Id] = next
		self.stats.LoopRevisits++
		self.debug("revisiting loop", "header", header.Id, "round", n+1)
	} else {
		self.top[header.Id] = true
		self.stats.LoopsCapped++
		self.debug("loop did not converge, restarting from the empty state", "header", header.Id, "rounds", n)
	}

	/* schedule the loop */
	it.MarkLoopForRevisit(header)
}

func (self *Analyzer) endOf(bb *ssa.BasicBlock) _State {
	if st, ok := self.ends[bb.Id]; !ok {
		panic(errors.AssertionFailedf("bb_%d has not been visited yet", bb.Id))
	} else {
		return st
	}
}

func (self *Analyzer) start(st _State) {
	self.alias.tab.StartNewSnapshot(st.alias)
	self.shapes.tab.StartNewSnapshot(st.shapes)
	self.memory.tab.StartNewSnapshot(st.memory)
}

func (self *Analyzer) merge(preds []*ssa.BasicBlock) {
	alias := make([]snapshot.Snapshot, 0, len(preds))
	shapes := make([]snapshot.Snapshot, 0, len(preds))
	memory := make([]snapshot.Snapshot, 0, len(preds))

	/* collect the ending states of the predecessors */
	for _, p := range preds {
		st := self.endOf(p)
		alias = append(alias, st.alias)
		shapes = append(shapes, st.shapes)
		memory = append(memory, st.memory)
	}

	/* join them together */
	self.alias.tab.StartNewMergedSnapshot(alias, mergeAlias)
	self.shapes.tab.StartNewMergedSnapshot(shapes, mergeShapes)
	self.memory.tab.StartNewMergedSnapshot(memory, mergeMemory)
}

func (self *Analyzer) seal() _State {
	return _State{
		alias:  self.alias.tab.Seal(),
		shapes: self.shapes.tab.Seal(),
		memory: self.memory.tab.Seal(),
	}
}

func (self *Analyzer) equal(a _State, b _State) bool {
	return self.alias.tab.Equal(a.alias, b.alias) &&
		self.shapes.tab.Equal(a.shapes, b.shapes) &&
		self.memory.tab.Equal(a.memory, b.memory)
}

// resolveValue follows the replacements decided so far.
func (self *Analyzer) resolveValue(v ssa.OpIndex) ssa.OpIndex {
	for v.Valid() && self.verdict[v].Kind == VerdictReuseValue {
		v = self.verdict[v].Value
	}
	return v
}

// resolveBase returns the object a reference points to, looking through
// replacements and bitcasts.
func (self *Analyzer) resolveBase(v ssa.OpIndex) ssa.OpIndex {
	for {
		if v = self.resolveValue(v); !v.Valid() {
			return v
		} else if bc, ok := self.g.Get(v).(*ssa.Bitcast); ok {
			v = bc.Input
		} else {
			return v
		}
	}
}

// escape records that the reference v may now be reachable from code the
// analysis cannot see.
func (self *Analyzer) escape(v ssa.OpIndex) {
	if !v.Valid() {
		return
	}

	/* both the raw value and what it resolves to, replacements may be stale
	 * for values flowing around a loop */
	self.alias.MarkAliasing(v)
	if r := self.resolveBase(v); r != v {
		self.alias.MarkAliasing(r)
	}
}

func (self *Analyzer) cacheable(mem ssa.Access) bool {
	return !mem.Atomic && !(mem.Raw && self.opts.InteriorPointers)
}

func (self *Analyzer) process(i ssa.OpIndex) {
	switch op := self.g.Get(i).(type) {
	case *ssa.Parameter, *ssa.Constant, *ssa.Bitcast, *ssa.Goto, *ssa.Branch:
		return
	case *ssa.Allocate:
		self.processAllocate(i, op)
	case *ssa.AssumeShape:
		self.shapes.Assume(self.resolveBase(op.Object), op.Shapes)
	case *ssa.Load:
		self.processLoad(i, op)
	case *ssa.Store:
		self.processStore(i, op)
	case *ssa.Call:
		self.processCall(op)
	case *ssa.Binary, *ssa.Phi, *ssa.Truncate, *ssa.Return:
		for _, v := range op.Inputs() {
			self.escape(v)
		}
	default:
		panic(errors.AssertionFailedf("unknown operation %T", op))
	}
}

func (self *Analyzer) processAllocate(i ssa.OpIndex, op *ssa.Allocate) {
	if self.alias.MarkNonAliasing(i); op.Shape != "" {
		self.shapes.Assume(i, []ssa.Shape{op.Shape})
	}
}

func (self *Analyzer) processLoad(i ssa.OpIndex, op *ssa.Load) {
	self.verdict[i] = NoVerdict
	loc := LocationOf(op.Access)

	/* atomic and possibly interior accesses are never cached */
	if !self.cacheable(op.Access) {
		return
	}

	/* the value is already known */
	if v := self.memory.Find(loc, op.Immutable); v.Valid() {
		self.verdict[i] = ReuseValue(v)
		return
	}

	/* the load itself becomes the known value */
	if !self.memory.Insert(loc, i, op.Immutable) && self.memory.Dropped() == 1 {
		self.debug("memory table is full, new locations are no longer tracked", "max", self.opts.MaxEntries)
	}
}

func (self *Analyzer) processStore(i ssa.OpIndex, op *ssa.Store) {
	self.verdict[i] = NoVerdict
	self.escape(op.Value)

	/* a raw store may write anywhere inside any object that may alias, and
	 * still writes its own location when the base does not alias */
	if op.Raw && self.opts.InteriorPointers {
		self.memory.InvalidateStore(op.Base, op.Index, op.Offset)
		self.memory.InvalidateMaybeAliasing()
		return
	}

	/* the memory already holds this value */
	loc := LocationOf(op.Access)
	val := self.resolveValue(op.Value)
	if !op.Atomic && self.memory.Find(loc, op.Immutable) == val {
		self.verdict[i] = ReuseValue(val)
		return
	}

	/* immutable fields are only ever initialized */
	if !op.Immutable {
		self.memory.InvalidateStore(op.Base, op.Index, op.Offset)
	}

	/* atomic stores are not cached */
	if !op.Atomic {
		self.memory.Insert(loc, val, op.Immutable)
	}
}

func (self *Analyzer) processCall(op *ssa.Call) {
	for _, v := range op.Inputs() {
		self.escape(v)
	}

	/* the callee may write anything reachable */
	if !op.NoWrite {
		self.memory.InvalidateMaybeAliasing()
	}
}

// recordTruncation matches a truncation against the rewritten graph, where
// replaced values have already been substituted.
func (self *Analyzer) recordTruncation(i ssa.OpIndex, op *ssa.Truncate) {
	bc := ssa.NoOp
	in := self.resolveValue(op.Input)

	/* look through the bitcast, if any */
	if v, ok := self.g.Get(in).(*ssa.Bitcast); ok {
		bc, in = in, self.resolveValue(v.Input)
	}

	/* the truncated value must be a plain 64-bit load */
	if v, ok := self.g.Get(in).(*ssa.Load); ok && v.Size == 8 && !v.Atomic {
		self.truncs.Record(in, i, bc)
	}
}

func (self *Analyzer) finish() {
	for i := 0; i < self.g.Len(); i++ {
		if op, ok := self.g.Get(ssa.OpIndex(i)).(*ssa.Truncate); ok {
			self.recordTruncation(ssa.OpIndex(i), op)
		}
	}

	/* count the uses of every value after the replacements */
	uses := self.g.CountUses(
		func(i ssa.OpIndex) bool { return self.verdict[i].Kind == VerdictReuseValue },
		self.resolveValue,
	)

	/* commit the fusions */
	self.stats.TruncationsFused = self.truncs.Commit(self.verdict, uses)
	self.stats.EntriesDropped = self.memory.Dropped()

	/* count the eliminated operations */
	for i, v := range self.verdict {
		if v.Kind == VerdictReuseValue {
			if _, ok := self.g.Get(ssa.OpIndex(i)).(*ssa.Store); ok {
				self.stats.StoresEliminated++
			} else {
				self.stats.LoadsEliminated++
			}
		}
	}

	/* every replacement must be available where it is used */
	if self.opts.CheckContracts {
		self.checkVerdicts()
	}

	/* all done */
	self.debug("load elimination done", "stats", self.stats.String())
}

func (self *Analyzer) checkVerdicts() {
	for i, v := range self.verdict {
		if v.Kind != VerdictReuseValue {
			continue
		}

		/* the replacement must dominate the replaced operation */
		op := ssa.OpIndex(i)
		at, def := self.g.BlockOf(op), self.g.BlockOf(v.Value)
		if !self.g.Dominates(def, at) || (def == at && v.Value >= op) {
			panic(errors.AssertionFailedf("%s is replaced with %s, which does not dominate it", op, v.Value))
		}
	}
}
