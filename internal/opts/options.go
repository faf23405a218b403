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

	"golang.org/x/exp/slog"
)

type Options struct {
	MaxEntries       int
	MaxLoopRevisits  int
	InteriorPointers bool
	CheckContracts   bool
	Logger           *slog.Logger
}

// CanRevisit tells whether a loop that was already revisited n times may be
// revisited once more.
func (self *Options) CanRevisit(n int) bool {
	return self.MaxLoopRevisits > n || self.MaxLoopRevisits == 0
}

func GetDefaultOptions() Options {
	return Options{
		MaxEntries:       MaxEntries,
		MaxLoopRevisits:  MaxLoopRevisits,
		InteriorPointers: false,
		CheckContracts:   CheckContracts,
		Logger:           defaultLogger(),
	}
}

func defaultLogger() *slog.Logger {
	if !Debug {
		return nil
	} else {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}
