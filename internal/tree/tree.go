// Package tree provides a generic, immutable, ordered tree used to describe
// directory hierarchies before they are scanned.
//
// All traversals use an explicit stack so arbitrarily deep trees never grow
// the goroutine call stack.
package tree

import "iter"

// Tree is a value plus an ordered sequence of child trees.
// A Tree is never modified after construction.
type Tree[T any] struct {
	value    T
	children []*Tree[T]
}

// New creates a tree node with the given value and children.
// The children slice is copied.
func New[T any](value T, children ...*Tree[T]) *Tree[T] {
	return &Tree[T]{
		value:    value,
		children: append([]*Tree[T](nil), children...),
	}
}

// Value returns the node's value.
func (t *Tree[T]) Value() T {
	return t.value
}

// Children returns a copy of the node's children in order.
// Leaves return an empty slice.
func (t *Tree[T]) Children() []*Tree[T] {
	return append([]*Tree[T]{}, t.children...)
}

// All returns a pre-order sequence of every value in the tree: a node is
// yielded before its children, and children in the order returned by
// Children. The sequence can be ranged over any number of times.
func (t *Tree[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		if t == nil {
			return
		}
		stack := []*Tree[T]{t}
		for len(stack) > 0 {
			node := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if !yield(node.value) {
				return
			}
			for i := len(node.children) - 1; i >= 0; i-- {
				stack = append(stack, node.children[i])
			}
		}
	}
}

// Flatten collects All into a slice.
func (t *Tree[T]) Flatten() []T {
	var values []T
	for v := range t.All() {
		values = append(values, v)
	}
	return values
}

// Len returns the number of nodes in the tree.
func (t *Tree[T]) Len() int {
	n := 0
	for range t.All() {
		n++
	}
	return n
}

// Map produces a structurally identical tree with every value replaced by
// f(value). f is called in pre-order, parents before children.
func Map[T, U any](t *Tree[T], f func(T) U) *Tree[U] {
	out, _ := TryMap(t, func(v T) (U, error) { return f(v), nil })
	return out
}

// TryMap is Map for transforms that can fail. The first error stops the
// traversal and is returned unchanged.
func TryMap[T, U any](t *Tree[T], f func(T) (U, error)) (*Tree[U], error) {
	if t == nil {
		return nil, nil
	}

	type frame struct {
		src    *Tree[T]
		parent *Tree[U]
		index  int
	}

	var root *Tree[U]
	stack := []frame{{src: t, index: -1}}
	for len(stack) > 0 {
		fr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		v, err := f(fr.src.value)
		if err != nil {
			return nil, err
		}
		node := &Tree[U]{value: v, children: make([]*Tree[U], len(fr.src.children))}
		if fr.parent == nil {
			root = node
		} else {
			fr.parent.children[fr.index] = node
		}

		for i := len(fr.src.children) - 1; i >= 0; i-- {
			stack = append(stack, frame{src: fr.src.children[i], parent: node, index: i})
		}
	}
	return root, nil
}

// Build grows a tree from seed: the root holds seed and the children are
// Build(child, expand) for each child in expand(seed), in order.
// No cycle detection is performed; expand must guarantee finite depth.
func Build[S any](seed S, expand func(S) []S) *Tree[S] {
	root := &Tree[S]{value: seed}
	stack := []*Tree[S]{root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		next := expand(node.value)
		node.children = make([]*Tree[S], len(next))
		for i, s := range next {
			node.children[i] = &Tree[S]{value: s}
		}
		for i := len(node.children) - 1; i >= 0; i-- {
			stack = append(stack, node.children[i])
		}
	}
	return root
}

// Equal reports whether a and b have the same shape and equal values.
func Equal[T comparable](a, b *Tree[T]) bool {
	if a == nil || b == nil {
		return a == b
	}

	type pair struct{ a, b *Tree[T] }
	stack := []pair{{a, b}}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if p.a.value != p.b.value || len(p.a.children) != len(p.b.children) {
			return false
		}
		for i := range p.a.children {
			stack = append(stack, pair{p.a.children[i], p.b.children[i]})
		}
	}
	return true
}
