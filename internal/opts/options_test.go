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

package opts

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOptions_CanRevisit(t *testing.T) {
	o := Options{MaxLoopRevisits: 2}
	require.True(t, o.CanRevisit(0))
	require.True(t, o.CanRevisit(1))
	require.False(t, o.CanRevisit(2))

	/* zero lifts the limit */
	o.MaxLoopRevisits = 0
	require.True(t, o.CanRevisit(1000))
}

func TestOptions_ParseOrDefault(t *testing.T) {
	t.Setenv("LOADELIM_TEST_VALUE", "")
	require.Equal(t, 7, parseOrDefault("LOADELIM_TEST_VALUE", 7, 0))
	t.Setenv("LOADELIM_TEST_VALUE", "0x10")
	require.Equal(t, 16, parseOrDefault("LOADELIM_TEST_VALUE", 7, 0))

	/* invalid and too small values */
	t.Setenv("LOADELIM_TEST_VALUE", "abc")
	require.PanicsWithValue(t, "loadelim: invalid value for LOADELIM_TEST_VALUE", func() { parseOrDefault("LOADELIM_TEST_VALUE", 7, 0) })
	t.Setenv("LOADELIM_TEST_VALUE", "0")
	require.PanicsWithValue(t, "loadelim: value too small for LOADELIM_TEST_VALUE", func() { parseOrDefault("LOADELIM_TEST_VALUE", 7, 0) })
}

func TestOptions_Defaults(t *testing.T) {
	o := GetDefaultOptions()
	require.Equal(t, MaxEntries, o.MaxEntries)
	require.Equal(t, MaxLoopRevisits, o.MaxLoopRevisits)
	require.False(t, o.InteriorPointers)
}
