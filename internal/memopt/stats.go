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
)

// Stats summarizes one run of the analyzer.
type Stats struct {
	Blocks           int
	LoadsEliminated  int
	StoresEliminated int
	TruncationsFused int
	LoopRevisits     int
	LoopsCapped      int
	EntriesDropped   int
}

func (self Stats) String() string {
	return fmt.Sprintf(
		"blocks=%d loads=%d stores=%d truncations=%d revisits=%d capped=%d dropped=%d",
		self.Blocks,
		self.LoadsEliminated,
		self.StoresEliminated,
		self.TruncationsFused,
		self.LoopRevisits,
		self.LoopsCapped,
		self.EntriesDropped,
	)
}
