package multishapelet

// PackedOffset returns the packed index of the first (x,y) pair with x+y == order.
func PackedOffset(order int) int {
	return order * (order + 1) / 2
}

// PackedSize returns the number of packed coefficients for a basis of the given order.
func PackedSize(order int) int {
	return (order + 1) * (order + 2) / 2
}

// PackedIndex maps a pair of non-negative integers (x,y) to the linear position
// i = (x+y)(x+y+1)/2 + x used to store triangular coefficient arrays. Enumeration
// with Next visits every pair of a given order n = x+y before moving to order n+1.
//
// Typical usage:
//
//	for idx := NewPackedIndex(); idx.Order() <= order; idx.Next() {
//		target[idx.Index()] = ...
//	}
type PackedIndex struct {
	n, i, x, y int
}

// NewPackedIndex returns the index positioned at (0,0).
func NewPackedIndex() PackedIndex {
	return PackedIndex{}
}

// NewPackedIndexAt returns the index positioned at the given (x,y) pair.
func NewPackedIndexAt(x, y int) PackedIndex {
	n := x + y
	return PackedIndex{n: n, i: PackedOffset(n) + x, x: x, y: y}
}

// Next advances to the following pair: x increases within an order, then the
// next order starts at (0, order).
func (p *PackedIndex) Next() {
	p.i++
	p.y--
	if p.y < 0 {
		p.x = 0
		p.n++
		p.y = p.n
	} else {
		p.x++
	}
}

func (p PackedIndex) Order() int { return p.n }
func (p PackedIndex) X() int     { return p.x }
func (p PackedIndex) Y() int     { return p.y }
func (p PackedIndex) Index() int { return p.i }
