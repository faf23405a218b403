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
	"github.com/cloudwego/loadelim/internal/snapshot"
	"github.com/cloudwego/loadelim/ssa"
)

// AliasTable records which objects provably do not alias any other live
// reference. Unknown objects may alias.
type AliasTable struct {
	tab *snapshot.Table[ssa.OpIndex, bool]
}

func NewAliasTable() *AliasTable {
	return &AliasTable{
		tab: snapshot.New[ssa.OpIndex, bool](false),
	}
}

// Get returns true if obj provably does not alias.
func (self *AliasTable) Get(obj ssa.OpIndex) bool {
	return self.tab.Get(obj)
}

func (self *AliasTable) MarkNonAliasing(obj ssa.OpIndex) {
	self.tab.Set(obj, true)
}

// MarkAliasing records that obj escaped, it returns true if obj was known
// not to alias before.
func (self *AliasTable) MarkAliasing(obj ssa.OpIndex) bool {
	if !self.tab.Get(obj) {
		return false
	} else {
		self.tab.Set(obj, false)
		return true
	}
}

func mergeAlias(_ ssa.OpIndex, vals []bool) bool {
	for _, v := range vals {
		if !v {
			return false
		}
	}
	return true
}
