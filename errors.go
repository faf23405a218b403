/*
 * Copyright 2021 ByteDance Inc.
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
	"github.com/cockroachdb/errors"
)

// IsContractViolation tells whether v, a value recovered from a panic or an
// error, reports a broken internal invariant or a malformed graph.
func IsContractViolation(v interface{}) bool {
	if err, ok := v.(error); !ok {
		return false
	} else {
		return errors.HasAssertionFailure(err)
	}
}
