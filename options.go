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

package loadelim

import (
	"fmt"

	"github.com/cloudwego/loadelim/internal/opts"
	"golang.org/x/exp/slog"
)

// Option is the property setter function for opts.Options.
type Option func(*opts.Options)

// WithMaxEntries sets the maximum number of memory locations tracked at the
// same time.
//
// Once the limit is reached, new locations are simply not tracked, which
// only makes the analysis less precise.
//
// The default value of this option is "10000".
func WithMaxEntries(n int) Option {
	if n <= 0 {
		panic(fmt.Sprintf("loadelim: invalid max entries: %d", n))
	} else {
		return func(o *opts.Options) { o.MaxEntries = n }
	}
}

// WithMaxLoopRevisits sets how many times a loop is analyzed again before
// the analysis gives up on it and assumes nothing at its header.
//
// Set this option to "0" disables this limit.
//
// The default value of this option is "32".
func WithMaxLoopRevisits(n int) Option {
	if n < 0 {
		panic(fmt.Sprintf("loadelim: invalid max loop revisits: %d", n))
	} else {
		return func(o *opts.Options) { o.MaxLoopRevisits = n }
	}
}

// WithInteriorPointers tells whether raw pointers may point to the inside of
// an object. When set, raw accesses are never cached and raw stores clobber
// every object that may alias.
//
// The default value of this option is "false".
func WithInteriorPointers(v bool) Option {
	return func(o *opts.Options) { o.InteriorPointers = v }
}

// WithContractChecks enables or disables the verification of the graph and
// of the results.
//
// This value can also be configured with the `LOADELIM_CHECK_CONTRACTS`
// environment variable.
func WithContractChecks(v bool) Option {
	return func(o *opts.Options) { o.CheckContracts = v }
}

// WithLogger sets the logger for debug messages, nil disables logging.
//
// Setting the `LOADELIM_DEBUG` environment variable to "1" logs to stderr by
// default.
func WithLogger(logger *slog.Logger) Option {
	return func(o *opts.Options) { o.Logger = logger }
}
