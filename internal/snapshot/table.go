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

// Package snapshot implements a checkpointable key-value table.
//
// The table keeps the current values in a hash map and records every change
// in an append-only log. A sealed snapshot is a range of that log plus the
// snapshot it was started from, so the snapshots form a tree. Switching to
// another snapshot reverts the log back to the common ancestor and replays
// it forward to the target.
package snapshot

import (
	"github.com/cockroachdb/errors"
)

// Snapshot is a sealed state of a Table.
type Snapshot int32

// None is the zero snapshot handle, it never names a sealed state.
const None Snapshot = -1

type _Change[K comparable, V comparable] struct {
	key K
	old V
	new V
}

type _Snapshot struct {
	parent Snapshot
	depth  int
	begin  int
	end    int
}

// Table is a map from K to V where every key is implicitly present with the
// default value. Values can only be changed while a snapshot is open.
type Table[K comparable, V comparable] struct {
	def   V
	vals  map[K]V
	log   []_Change[K, V]
	snaps []_Snapshot
	cur   Snapshot
	mark  int
	open  bool
	watch func(key K, old V, new V)
}

// New creates a table with the default value def. The root snapshot (the
// state where every key maps to def) is sealed and current.
func New[K comparable, V comparable](def V) *Table[K, V] {
	return &Table[K, V]{
		def:   def,
		vals:  make(map[K]V),
		snaps: []_Snapshot{{parent: None}},
		cur:   0,
	}
}

// Root returns the snapshot in which every key maps to the default value.
func (self *Table[K, V]) Root() Snapshot {
	return 0
}

// Watch installs fn to observe every value change, including the changes
// made while switching between snapshots.
func (self *Table[K, V]) Watch(fn func(key K, old V, new V)) {
	self.watch = fn
}

func (self *Table[K, V]) Get(key K) V {
	if v, ok := self.vals[key]; ok {
		return v
	} else {
		return self.def
	}
}

// Set changes the value of key in the open snapshot.
func (self *Table[K, V]) Set(key K, val V) {
	if !self.open {
		panic(errors.AssertionFailedf("snapshot: Set without an open snapshot"))
	}

	/* nothing changed */
	old := self.Get(key)
	if old == val {
		return
	}

	/* record the change */
	self.log = append(self.log, _Change[K, V]{key: key, old: old, new: val})
	self.apply(key, old, val)
}

// ForEach calls fn for every key that does not have the default value. fn
// must not change the table.
func (self *Table[K, V]) ForEach(fn func(key K, val V)) {
	for k, v := range self.vals {
		fn(k, v)
	}
}

// IsOpen tells whether a snapshot is open.
func (self *Table[K, V]) IsOpen() bool {
	return self.open
}

// StartNewSnapshot opens a new snapshot on top of pred, or on top of the root
// snapshot if pred is None.
func (self *Table[K, V]) StartNewSnapshot(pred Snapshot) {
	if pred == None {
		pred = self.Root()
	}

	/* move to the predecessor */
	self.checkSealed(pred)
	self.moveTo(pred)
	self.begin()
}

// StartNewMergedSnapshot opens a new snapshot on top of the common ancestor of
// preds. For every key that differs from the ancestor in at least one of the
// predecessors, merge receives the value of the key in each predecessor (in
// the order of preds) and returns the value of the key in the new snapshot.
func (self *Table[K, V]) StartNewMergedSnapshot(preds []Snapshot, merge func(key K, vals []V) V) {
	if len(preds) == 0 {
		panic(errors.AssertionFailedf("snapshot: merging no predecessors"))
	}

	/* a single predecessor needs no merging */
	if len(preds) == 1 {
		self.StartNewSnapshot(preds[0])
		return
	}

	/* find the common ancestor of all the predecessors */
	anc := preds[0]
	for _, p := range preds {
		self.checkSealed(p)
		anc = self.ancestor(anc, p)
	}

	/* collect the keys changed on any of the paths */
	keys := make([]K, 0)
	seen := make(map[K]struct{})
	for _, p := range preds {
		keys = self.pathKeys(p, anc, seen, keys)
	}

	/* read the values of the changed keys in each predecessor */
	vals := make([][]V, len(keys))
	for i := range vals {
		vals[i] = make([]V, len(preds))
	}
	for j, p := range preds {
		self.moveTo(p)
		for i, k := range keys {
			vals[i][j] = self.Get(k)
		}
	}

	/* open the new snapshot with the merged values */
	self.moveTo(anc)
	self.begin()
	for i, k := range keys {
		self.Set(k, merge(k, vals[i]))
	}
}

// Seal closes the open snapshot and returns its handle.
func (self *Table[K, V]) Seal() Snapshot {
	if !self.open {
		panic(errors.AssertionFailedf("snapshot: Seal without an open snapshot"))
	}

	/* the open snapshot covers the log written since it was opened */
	id := Snapshot(len(self.snaps))
	self.snaps = append(self.snaps, _Snapshot{
		parent: self.cur,
		depth:  self.snaps[self.cur].depth + 1,
		begin:  self.mark,
		end:    len(self.log),
	})

	/* the new snapshot becomes current */
	self.cur = id
	self.open = false
	return id
}

// Equal tells whether every key has the same value in a and b.
func (self *Table[K, V]) Equal(a Snapshot, b Snapshot) bool {
	self.checkSealed(a)
	self.checkSealed(b)

	/* keys untouched on both paths keep the ancestor value */
	anc := self.ancestor(a, b)
	seen := make(map[K]struct{})
	keys := self.pathKeys(b, anc, seen, self.pathKeys(a, anc, seen, nil))
	vals := make([]V, len(keys))

	/* read the values in a */
	self.moveTo(a)
	for i, k := range keys {
		vals[i] = self.Get(k)
	}

	/* compare with the values in b */
	self.moveTo(b)
	for i, k := range keys {
		if vals[i] != self.Get(k) {
			return false
		}
	}
	return true
}

func (self *Table[K, V]) pathKeys(s Snapshot, anc Snapshot, seen map[K]struct{}, keys []K) []K {
	for p := s; p != anc; p = self.snaps[p].parent {
		for _, c := range self.log[self.snaps[p].begin:self.snaps[p].end] {
			if _, ok := seen[c.key]; !ok {
				seen[c.key] = struct{}{}
				keys = append(keys, c.key)
			}
		}
	}
	return keys
}

func (self *Table[K, V]) begin() {
	self.open = true
	self.mark = len(self.log)
}

func (self *Table[K, V]) checkSealed(s Snapshot) {
	if self.open {
		panic(errors.AssertionFailedf("snapshot: the current snapshot is still open"))
	} else if s < 0 || int(s) >= len(self.snaps) {
		panic(errors.AssertionFailedf("snapshot: invalid snapshot %d", s))
	}
}

func (self *Table[K, V]) ancestor(a Snapshot, b Snapshot) Snapshot {
	for self.snaps[a].depth > self.snaps[b].depth {
		a = self.snaps[a].parent
	}
	for self.snaps[b].depth > self.snaps[a].depth {
		b = self.snaps[b].parent
	}
	for a != b {
		a, b = self.snaps[a].parent, self.snaps[b].parent
	}
	return a
}

func (self *Table[K, V]) moveTo(s Snapshot) {
	if s == self.cur {
		return
	}

	/* revert back to the common ancestor */
	anc := self.ancestor(self.cur, s)
	for p := self.cur; p != anc; p = self.snaps[p].parent {
		for i := self.snaps[p].end - 1; i >= self.snaps[p].begin; i-- {
			c := self.log[i]
			self.apply(c.key, c.new, c.old)
		}
	}

	/* the path from the ancestor down to the target */
	path := make([]Snapshot, 0, self.snaps[s].depth-self.snaps[anc].depth)
	for p := s; p != anc; p = self.snaps[p].parent {
		path = append(path, p)
	}

	/* replay forward */
	for i := len(path) - 1; i >= 0; i-- {
		for _, c := range self.log[self.snaps[path[i]].begin:self.snaps[path[i]].end] {
			self.apply(c.key, c.old, c.new)
		}
	}

	/* switch the current snapshot */
	self.cur = s
}

func (self *Table[K, V]) apply(key K, old V, val V) {
	if val == self.def {
		delete(self.vals, key)
	} else {
		self.vals[key] = val
	}
	if self.watch != nil {
		self.watch(key, old, val)
	}
}
