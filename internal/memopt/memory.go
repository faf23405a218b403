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

	"github.com/cloudwego/loadelim/internal/snapshot"
	"github.com/cloudwego/loadelim/ssa"
	"github.com/cockroachdb/errors"
)

// MemoryLocation is the address of a cached memory value. Locations with a
// valid Index are dynamically addressed, the others statically addressed.
type MemoryLocation struct {
	Base         ssa.OpIndex
	Index        ssa.OpIndex
	Offset       int32
	ElemSizeLog2 uint8
	Size         uint8
}

func LocationOf(mem ssa.Access) MemoryLocation {
	return MemoryLocation{
		Base:         mem.Base,
		Index:        mem.Index,
		Offset:       mem.Offset,
		ElemSizeLog2: mem.ElemSizeLog2,
		Size:         mem.Size,
	}
}

func (self MemoryLocation) Dynamic() bool {
	return self.Index != ssa.NoOp
}

func (self MemoryLocation) String() string {
	if self.Dynamic() {
		return fmt.Sprintf("u%d [%s + %s<<%d + %d]", int(self.Size)*8, self.Base, self.Index, self.ElemSizeLog2, self.Offset)
	} else {
		return fmt.Sprintf("u%d [%s + %d]", int(self.Size)*8, self.Base, self.Offset)
	}
}

type _EntryID int32

const (
	_NoEntry _EntryID = -1
)

// _Entry is bound to one location for the whole pass. Its value lives in the
// snapshot table, and while the value is valid a mutable entry is linked into
// the per-base sublist matching its addressing, and into the per-offset
// bucket (static entries) or the global dynamic list (dynamic entries).
type _Entry struct {
	loc       MemoryLocation
	immutable bool
	prevBase  _EntryID
	nextBase  _EntryID
	prevOff   _EntryID
	nextOff   _EntryID
}

type _BaseIndex struct {
	static  _EntryID
	dynamic _EntryID
}

func (self *_BaseIndex) empty() bool {
	return self.static == _NoEntry && self.dynamic == _NoEntry
}

// MemoryContent caches the last known value of memory locations, and keeps
// enough indices to invalidate them quickly when memory is written.
type MemoryContent struct {
	tab       *snapshot.Table[_EntryID, ssa.OpIndex]
	entries   []_Entry
	mutable   map[MemoryLocation]_EntryID
	immutable map[MemoryLocation]_EntryID
	bases     map[ssa.OpIndex]*_BaseIndex
	offsets   map[int32]_EntryID
	dynamic   _EntryID
	live      int
	max       int
	dropped   int
	alias     *AliasTable
	shapes    *ShapeTable
	resolve   func(ssa.OpIndex) ssa.OpIndex
}

// NewMemoryContent creates an empty table holding at most max live entries.
// resolve maps a base to its canonical identity, it may be nil.
func NewMemoryContent(alias *AliasTable, shapes *ShapeTable, max int, resolve func(ssa.OpIndex) ssa.OpIndex) *MemoryContent {
	ret := &MemoryContent{
		tab:       snapshot.New[_EntryID, ssa.OpIndex](ssa.NoOp),
		mutable:   make(map[MemoryLocation]_EntryID),
		immutable: make(map[MemoryLocation]_EntryID),
		bases:     make(map[ssa.OpIndex]*_BaseIndex),
		offsets:   make(map[int32]_EntryID),
		dynamic:   _NoEntry,
		max:       max,
		alias:     alias,
		shapes:    shapes,
		resolve:   resolve,
	}

	/* keep the indices in sync with the current snapshot */
	ret.tab.Watch(ret.onChange)
	return ret
}

// Len returns the number of live entries.
func (self *MemoryContent) Len() int {
	return self.live
}

// Dropped returns how many insertions were dropped because the table was full.
func (self *MemoryContent) Dropped() int {
	return self.dropped
}

func (self *MemoryContent) ResolveBase(base ssa.OpIndex) ssa.OpIndex {
	if self.resolve == nil {
		return base
	} else {
		return self.resolve(base)
	}
}

func (self *MemoryContent) keys(immutable bool) map[MemoryLocation]_EntryID {
	if immutable {
		return self.immutable
	} else {
		return self.mutable
	}
}

// Find returns the known value at loc, or ssa.NoOp.
func (self *MemoryContent) Find(loc MemoryLocation, immutable bool) ssa.OpIndex {
	loc.Base = self.ResolveBase(loc.Base)
	if id, ok := self.keys(immutable)[loc]; !ok {
		return ssa.NoOp
	} else {
		return self.tab.Get(id)
	}
}

// Insert records val as the value at loc. Once the table is full, locations
// that are not live are silently not recorded, and Insert returns false.
// Immutable values are never invalidated, so they are kept out of the indices.
func (self *MemoryContent) Insert(loc MemoryLocation, val ssa.OpIndex, immutable bool) bool {
	if !val.Valid() {
		panic(errors.AssertionFailedf("inserting an invalid value at %s", loc))
	}

	/* find the entry of this location */
	loc.Base = self.ResolveBase(loc.Base)
	keys := self.keys(immutable)
	id, ok := keys[loc]

	/* new locations are dropped when the table is full */
	if (!ok || !self.tab.Get(id).Valid()) && self.live >= self.max {
		self.dropped++
		return false
	}

	/* allocate a new entry if needed */
	if !ok {
		id = _EntryID(len(self.entries))
		keys[loc] = id
		self.entries = append(self.entries, _Entry{
			loc:       loc,
			immutable: immutable,
			prevBase:  _NoEntry,
			nextBase:  _NoEntry,
			prevOff:   _NoEntry,
			nextOff:   _NoEntry,
		})
	}

	/* update the value */
	self.tab.Set(id, val)
	return true
}

// InvalidateStore invalidates every entry a store to base + index + offset
// may overwrite.
func (self *MemoryContent) InvalidateStore(base ssa.OpIndex, index ssa.OpIndex, offset int32) {
	base = self.ResolveBase(base)

	/* a non-aliasing base can only overwrite its own entries */
	if self.alias.Get(base) {
		self.invalidateBase(base, index, offset)
		return
	}

	/* a dynamic read could have landed anywhere, on any base */
	self.invalidateDynamic()

	/* a dynamic store could write any offset of any object that may alias */
	if index.Valid() {
		self.invalidateStatic(base)
	} else {
		self.invalidateOffset(base, offset)
	}
}

// InvalidateMaybeAliasing invalidates every entry whose base may alias.
func (self *MemoryContent) InvalidateMaybeAliasing() {
	for base, bi := range self.bases {
		if !self.alias.Get(base) {
			self.invalidateList(bi.static, false)
			self.invalidateList(bi.dynamic, false)
		}
	}
}

func (self *MemoryContent) invalidateBase(base ssa.OpIndex, index ssa.OpIndex, offset int32) {
	bi, ok := self.bases[base]
	if !ok {
		return
	}

	/* a dynamic store may overwrite any offset, a static one only its own */
	for id := bi.static; id != _NoEntry; {
		e := &self.entries[id]
		next := e.nextBase

		/* invalidate the entry */
		if index.Valid() || e.loc.Offset == offset {
			self.tab.Set(id, ssa.NoOp)
		}

		/* move to the next entry */
		id = next
	}

	/* index disjointness is not tracked */
	self.invalidateList(bi.dynamic, false)
}

func (self *MemoryContent) invalidateStatic(base ssa.OpIndex) {
	for b, bi := range self.bases {
		if !self.alias.Get(b) && self.shapes.CouldShareShape(base, b) {
			self.invalidateList(bi.static, false)
		}
	}
}

func (self *MemoryContent) invalidateOffset(base ssa.OpIndex, offset int32) {
	id, ok := self.offsets[offset]
	if !ok {
		return
	}

	/* scan the bucket of this offset */
	for id != _NoEntry {
		e := &self.entries[id]
		next := e.nextOff

		/* non-aliasing and shape-disjoint objects are not affected */
		if !self.alias.Get(e.loc.Base) && self.shapes.CouldShareShape(base, e.loc.Base) {
			self.tab.Set(id, ssa.NoOp)
		}

		/* move to the next entry */
		id = next
	}
}

func (self *MemoryContent) invalidateDynamic() {
	self.invalidateList(self.dynamic, true)
}

func (self *MemoryContent) invalidateList(id _EntryID, global bool) {
	for id != _NoEntry {
		next := self.entries[id].nextBase
		if global {
			next = self.entries[id].nextOff
		}
		self.tab.Set(id, ssa.NoOp)
		id = next
	}
}

func (self *MemoryContent) onChange(id _EntryID, old ssa.OpIndex, val ssa.OpIndex) {
	if old.Valid() == val.Valid() {
		return
	}

	/* update the live count */
	if val.Valid() {
		self.live++
	} else {
		self.live--
	}

	/* immutable entries are never indexed */
	if self.entries[id].immutable {
		return
	}

	/* link or unlink the entry */
	if val.Valid() {
		self.link(id)
	} else {
		self.unlink(id)
	}
}

func (self *MemoryContent) link(id _EntryID) {
	e := &self.entries[id]
	bi, ok := self.bases[e.loc.Base]

	/* create the base index lazily */
	if !ok {
		bi = &_BaseIndex{static: _NoEntry, dynamic: _NoEntry}
		self.bases[e.loc.Base] = bi
	}

	/* push to the front of the base sublist */
	if e.loc.Dynamic() {
		e.nextBase, bi.dynamic = bi.dynamic, id
	} else {
		e.nextBase, bi.static = bi.static, id
	}

	/* push to the front of the dynamic list, or the offset bucket */
	if e.loc.Dynamic() {
		e.nextOff, self.dynamic = self.dynamic, id
	} else if head, ok := self.offsets[e.loc.Offset]; ok {
		e.nextOff, self.offsets[e.loc.Offset] = head, id
	} else {
		e.nextOff, self.offsets[e.loc.Offset] = _NoEntry, id
	}

	/* fix the back links */
	e.prevBase, e.prevOff = _NoEntry, _NoEntry
	if e.nextBase != _NoEntry {
		self.entries[e.nextBase].prevBase = id
	}
	if e.nextOff != _NoEntry {
		self.entries[e.nextOff].prevOff = id
	}
}

func (self *MemoryContent) unlink(id _EntryID) {
	e := &self.entries[id]
	bi := self.bases[e.loc.Base]

	/* unlink from the base sublist */
	if e.prevBase != _NoEntry {
		self.entries[e.prevBase].nextBase = e.nextBase
	} else if e.loc.Dynamic() {
		bi.dynamic = e.nextBase
	} else {
		bi.static = e.nextBase
	}
	if e.nextBase != _NoEntry {
		self.entries[e.nextBase].prevBase = e.prevBase
	}

	/* unlink from the offset bucket (or the dynamic list) */
	if e.prevOff != _NoEntry {
		self.entries[e.prevOff].nextOff = e.nextOff
	} else if e.loc.Dynamic() {
		self.dynamic = e.nextOff
	} else if e.nextOff == _NoEntry {
		delete(self.offsets, e.loc.Offset)
	} else {
		self.offsets[e.loc.Offset] = e.nextOff
	}
	if e.nextOff != _NoEntry {
		self.entries[e.nextOff].prevOff = e.prevOff
	}

	/* drop the base index when it becomes empty */
	if e.prevBase, e.nextBase, e.prevOff, e.nextOff = _NoEntry, _NoEntry, _NoEntry, _NoEntry; bi.empty() {
		delete(self.bases, e.loc.Base)
	}
}

func mergeMemory(_ _EntryID, vals []ssa.OpIndex) ssa.OpIndex {
	for _, v := range vals[1:] {
		if v != vals[0] {
			return ssa.NoOp
		}
	}
	return vals[0]
}
