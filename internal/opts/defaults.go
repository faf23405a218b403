/*
 * Copyright 2022 CloudWeGo Authors
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

package opts

import (
	"os"
	"strconv"
)

const (
	_DefaultMaxEntries      = 10000 // cutoff at 10k live memory entries
	_DefaultMaxLoopRevisits = 32    // cutoff at 32 revisits of a single loop
)

var (
	MaxEntries      = parseOrDefault("LOADELIM_MAX_ENTRIES", _DefaultMaxEntries, 0)
	MaxLoopRevisits = parseOrDefault("LOADELIM_MAX_LOOP_REVISITS", _DefaultMaxLoopRevisits, -1)
	CheckContracts  = parseOrDefault("LOADELIM_CHECK_CONTRACTS", 1, -1) != 0
	Debug           = parseOrDefault("LOADELIM_DEBUG", 0, -1) != 0
)

func parseOrDefault(key string, def int, min int) int {
	if env := os.Getenv(key); env == "" {
		return def
	} else if val, err := strconv.ParseUint(env, 0, 31); err != nil {
		panic("loadelim: invalid value for " + key)
	} else if ret := int(val); ret <= min {
		panic("loadelim: value too small for " + key)
	} else {
		return ret
	}
}
