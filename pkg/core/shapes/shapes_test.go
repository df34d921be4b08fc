// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	require.False(t, invalidShape.Ok())
	require.Equal(t, "(invalid)", invalidShape.String())

	shape0 := Make(dtypes.Float64)
	require.True(t, shape0.Ok())
	require.True(t, shape0.IsScalar())
	require.False(t, shape0.IsTuple())
	require.Equal(t, 0, shape0.Rank())
	require.Len(t, shape0.Dimensions, 0)
	require.Equal(t, 1, shape0.Size())
	require.Equal(t, 8, int(shape0.Memory()))

	shape1 := Make(dtypes.Float32, 4, 3, 2)
	require.True(t, shape1.Ok())
	require.False(t, shape1.IsScalar())
	require.False(t, shape1.IsTuple())
	require.Equal(t, 3, shape1.Rank())
	require.Len(t, shape1.Dimensions, 3)
	require.Equal(t, 4*3*2, shape1.Size())
	require.Equal(t, 4*4*3*2, int(shape1.Memory()))
	require.Equal(t, "(Float32)[4 3 2]", shape1.String())

	require.Equal(t, dtypes.Int64, Scalar[int64]().DType)
	require.Panics(t, func() { Make(dtypes.Float32, 3, 0) })
}

func TestTuple(t *testing.T) {
	tuple := MakeTuple([]Shape{Make(dtypes.Float32, 2), Make(dtypes.Int8)})
	require.True(t, tuple.Ok())
	require.True(t, tuple.IsTuple())
	require.False(t, tuple.IsScalar())
	require.Equal(t, 2, tuple.TupleSize())
	require.Equal(t, 0, tuple.Size())
	require.Equal(t, uintptr(0), tuple.Memory())
	require.Equal(t, "Tuple<(Float32)[2], (Int8)>", tuple.String())

	require.True(t, tuple.Equal(MakeTuple([]Shape{Make(dtypes.Float32, 2), Make(dtypes.Int8)})))
	require.False(t, tuple.Equal(MakeTuple([]Shape{Make(dtypes.Float32, 2)})))
	require.False(t, tuple.Equal(Make(dtypes.Float32, 2)))

	clone := tuple.Clone()
	require.True(t, tuple.Equal(clone))
	clone.TupleShapes[0].Dimensions[0] = 7
	require.False(t, tuple.Equal(clone))
}

func TestSubShapes(t *testing.T) {
	inner := MakeTuple([]Shape{Make(dtypes.Int8, 2), Make(dtypes.Float64)})
	outer := MakeTuple([]Shape{Make(dtypes.Float32, 3, 2), inner, Make(dtypes.Uint8, 5)})

	// Non-tuple shapes have exactly one sub-shape: themselves.
	leaf := Make(dtypes.Float32, 3)
	require.Equal(t, 1, leaf.NumSubShapes())
	var visits int
	leaf.ForEachSubShape(func(sub Shape, index []int) {
		visits++
		require.Empty(t, index)
		require.True(t, sub.Equal(leaf))
	})
	require.Equal(t, 1, visits)

	// Pre-order: tuples before their elements.
	require.Equal(t, 6, outer.NumSubShapes())
	var gotIndices [][]int
	var gotShapes []string
	outer.ForEachSubShape(func(sub Shape, index []int) {
		gotIndices = append(gotIndices, append([]int{}, index...))
		gotShapes = append(gotShapes, sub.String())
	})
	require.Equal(t, [][]int{{}, {0}, {1}, {1, 0}, {1, 1}, {2}}, gotIndices)
	require.Equal(t, []string{
		outer.String(), "(Float32)[3 2]", inner.String(), "(Int8)[2]", "(Float64)", "(Uint8)[5]",
	}, gotShapes)

	// SubShape and SubShapePosition agree with the traversal.
	require.True(t, outer.SubShape().Equal(outer))
	require.True(t, outer.SubShape(1, 0).Equal(Make(dtypes.Int8, 2)))
	for pos, index := range gotIndices {
		require.Equal(t, pos, outer.SubShapePosition(index...))
		require.Equal(t, gotShapes[pos], outer.SubShape(index...).String())
	}
	require.Panics(t, func() { outer.SubShape(3) })
	require.Panics(t, func() { outer.SubShapePosition(0, 0) })
}
