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
	"testing"

	"github.com/stretchr/testify/require"
)

func blockIds(v []*BasicBlock) []int {
	ret := make([]int, 0, len(v))
	for _, bb := range v {
		ret = append(ret, bb.Id)
	}
	return ret
}

// buildDiamond builds
//
//	bb_0: branch ? bb_1 : bb_2
//	bb_1: goto bb_3
//	bb_2: goto bb_3
//	bb_3: return φ
func buildDiamond(t *testing.T) *Graph {
	b := NewBuilder()
	bb0, bb1, bb2, bb3 := b.NewBlock(), b.NewBlock(), b.NewBlock(), b.NewBlock()
	b.Bind(bb0)
	c := b.Parameter(0)
	b.Branch(c, bb1, bb2)
	b.Bind(bb1)
	x := b.Constant(1)
	b.Goto(bb3)
	b.Bind(bb2)
	y := b.Constant(2)
	b.Goto(bb3)
	b.Bind(bb3)
	b.Return(b.Phi(x, y))
	g, err := b.Build()
	require.NoError(t, err)
	return g
}

// buildLoop builds
//
//	bb_0: goto bb_1
//	bb_1: i = φ(0, i + 1); branch i < 10 ? bb_2 : bb_3
//	bb_2: goto bb_1
//	bb_3: return i
func buildLoop(t *testing.T) *Graph {
	b := NewBuilder()
	bb0, bb1, bb2, bb3 := b.NewBlock(), b.NewBlock(), b.NewBlock(), b.NewBlock()
	b.Bind(bb0)
	i0 := b.Constant(0)
	b.Goto(bb1)
	b.Bind(bb1)
	phi := b.Phi(i0, NoOp)
	cond := b.Binary(BinaryCmpLt, phi, b.Constant(10))
	b.Branch(cond, bb2, bb3)
	b.Bind(bb2)
	next := b.Binary(BinaryAdd, phi, b.Constant(1))
	b.Goto(bb1)
	b.SetPhiInput(phi, 1, next)
	b.Bind(bb3)
	b.Return(phi)
	g, err := b.Build()
	require.NoError(t, err)
	return g
}

func TestCFG_Diamond(t *testing.T) {
	g := buildDiamond(t)
	t.Log("\n" + g.String())
	require.Equal(t, 0, g.Root.Id)
	require.Equal(t, []int{0, 2, 1, 3}, blockIds(g.ReversePostOrder()))
	require.Equal(t, []int{2, 1, 3}, blockIds(g.DominatorOf[0]))
	require.Equal(t, 0, g.DominatedBy[3].Id)
	require.Equal(t, []int{1, 2}, blockIds(g.Blocks[3].Pred))
	require.True(t, g.Dominates(g.Blocks[0], g.Blocks[3]))
	require.False(t, g.Dominates(g.Blocks[1], g.Blocks[3]))
	require.False(t, g.IsLoopHeader(g.Blocks[3]))
	require.Nil(t, g.LoopHeaderOf(g.Blocks[1]))
}

func TestCFG_Loop(t *testing.T) {
	g := buildLoop(t)
	hdr := g.Blocks[1]
	require.Equal(t, []int{0, 1, 3, 2}, blockIds(g.ReversePostOrder()))
	require.True(t, g.IsLoopHeader(hdr))
	require.Equal(t, 2, g.Backedge(hdr).Id)
	require.Equal(t, 0, g.ForwardPredecessor(hdr).Id)
	require.Equal(t, hdr, g.LoopHeaderOf(g.Blocks[2]))
	require.Equal(t, []int{3, 2}, blockIds(g.DominatorOf[1]))
	require.Panics(t, func() { g.ForwardPredecessor(g.Blocks[3]) })
}

func TestCFG_Operations(t *testing.T) {
	g := buildDiamond(t)
	require.Equal(t, 8, g.Len())
	require.IsType(t, (*Parameter)(nil), g.Get(0))
	require.IsType(t, (*Phi)(nil), g.Get(6))
	require.IsType(t, (*Return)(nil), g.Terminator(g.Blocks[3]))
	require.Equal(t, g.Blocks[3], g.BlockOf(6))
	require.Equal(t, OpIndex(6), g.Blocks[3].FirstOperation())
	require.Equal(t, OpIndex(7), g.Blocks[3].LastOperation())
	require.Equal(t, 1, g.Blocks[3].PredIndex(g.Blocks[2]))
	require.Equal(t, -1, g.Blocks[3].PredIndex(g.Blocks[0]))
	require.Panics(t, func() { g.Get(8) })
	require.Panics(t, func() { g.Get(NoOp) })
}

func TestCFG_CountUses(t *testing.T) {
	g := buildLoop(t)
	uses := g.CountUses(nil, nil)
	require.Equal(t, []int{1, 0, 3, 1, 1, 0, 1, 1, 0, 0}, uses)

	/* drop the increment, and redirect its uses */
	uses = g.CountUses(
		func(i OpIndex) bool { return i == 7 },
		func(i OpIndex) OpIndex {
			if i == 7 {
				return 2
			} else {
				return i
			}
		},
	)
	require.Equal(t, []int{1, 0, 3, 1, 1, 0, 0, 0, 0, 0}, uses)
}
