// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"github.com/gomlx/exceptions"
)

// This file implements the sub-shape traversal: every shape is a sub-shape of
// itself, and tuples additionally contain the sub-shapes of their elements,
// recursively. The traversal is a pre-order walk (a tuple is visited before
// its elements) and its order defines the buffer slot layout used by the
// devicebuf package: one device memory region per sub-shape, the tuple
// positions holding the backend's index tables.

// ForEachSubShape calls fn for every sub-shape of s, including s itself, in
// pre-order.
//
// The index path identifies the sub-shape's position in the tuple tree: empty
// for s itself, otherwise the sequence of tuple element positions leading to
// it. The slice is reused between calls to fn: copy it if it needs to survive
// the iteration.
func (s Shape) ForEachSubShape(fn func(sub Shape, index []int)) {
	s.forEachSubShape(make([]int, 0, 8), fn)
}

func (s Shape) forEachSubShape(index []int, fn func(sub Shape, index []int)) {
	fn(s, index)
	if !s.IsTuple() {
		return
	}
	for ii, element := range s.TupleShapes {
		element.forEachSubShape(append(index, ii), fn)
	}
}

// NumSubShapes returns the number of sub-shapes visited by ForEachSubShape:
// 1 for non-tuple shapes, 1 plus the recursive count of the elements for
// tuples.
func (s Shape) NumSubShapes() (count int) {
	count = 1
	for _, element := range s.TupleShapes {
		count += element.NumSubShapes()
	}
	return
}

// SubShape returns the sub-shape at the given index path: s itself for an
// empty path, otherwise it recurses into the indexed tuple elements.
//
// It panics if the path doesn't point to a sub-shape of s.
func (s Shape) SubShape(index ...int) Shape {
	sub := s
	for depth, elem := range index {
		if elem < 0 || elem >= sub.TupleSize() {
			exceptions.Panicf("shapes.SubShape(%v): index at depth %d out-of-bounds for %s", index, depth, s)
		}
		sub = sub.TupleShapes[elem]
	}
	return sub
}

// SubShapePosition returns the position of the sub-shape at the given index
// path in the pre-order traversal of ForEachSubShape. The empty path (s
// itself) is position 0.
//
// It panics if the path doesn't point to a sub-shape of s.
func (s Shape) SubShapePosition(index ...int) int {
	pos := 0
	sub := s
	for depth, elem := range index {
		if elem < 0 || elem >= sub.TupleSize() {
			exceptions.Panicf("shapes.SubShapePosition(%v): index at depth %d out-of-bounds for %s", index, depth, s)
		}
		pos++ // The tuple itself.
		for _, sibling := range sub.TupleShapes[:elem] {
			pos += sibling.NumSubShapes()
		}
		sub = sub.TupleShapes[elem]
	}
	return pos
}
