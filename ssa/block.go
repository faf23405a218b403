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

// BasicBlock owns the contiguous range of operations [begin, end) of a Graph,
// the last of which is the block terminator.
type BasicBlock struct {
	Id    int
	Pred  []*BasicBlock
	begin OpIndex
	end   OpIndex
	term  bool
}

func (self *BasicBlock) FirstOperation() OpIndex {
	return self.begin
}

func (self *BasicBlock) LastOperation() OpIndex {
	return self.end - 1
}

func (self *BasicBlock) Len() int {
	return int(self.end - self.begin)
}

// PredIndex returns the position of p in the predecessor list, or -1.
func (self *BasicBlock) PredIndex(p *BasicBlock) int {
	for i, v := range self.Pred {
		if v == p {
			return i
		}
	}
	return -1
}

func (self *BasicBlock) String() string {
	pred := make([]string, 0, len(self.Pred))
	for _, p := range self.Pred {
		pred = append(pred, fmt.Sprintf("bb_%d", p.Id))
	}
	return fmt.Sprintf("bb_%d (pred = {%s})", self.Id, strings.Join(pred, ", "))
}
