package book

// Red-black tree keyed by integer price, used to maintain one side of an
// order book (bids or asks) in sorted order.
//
// Properties:
//  1. Every node is either red or black
//  2. The root is always black
//  3. Red nodes cannot have red children
//  4. Every path from a node to a nil descendant has the same number of
//     black nodes
//
// This gives O(log n) insert/update/delete with O(1) best-price lookup
// via a cached pointer, which is what a depth-tracking book needs: each
// book event touches at most one price level, and the best bid/ask is
// read on every graph walk.

type color bool

const (
	red   color = true
	black color = false
)

type rbNode struct {
	price  int64
	size   float64
	color  color
	left   *rbNode
	right  *rbNode
	parent *rbNode
}

// ladder is a red-black tree of price -> size. descending controls the
// best-price direction: bids are descending (best = highest price), asks
// are ascending (best = lowest price). Traversal order does not depend on
// it: Ascend always walks from lowest to highest price and Descend from
// highest to lowest.
type ladder struct {
	root       *rbNode
	count      int
	bestNode   *rbNode // cached best-price node
	descending bool
}

func newLadder(descending bool) *ladder {
	return &ladder{descending: descending}
}

func (l *ladder) Len() int {
	return l.count
}

// Best returns the best price and its size, or ok=false if the ladder is
// empty.
func (l *ladder) Best() (price int64, size float64, ok bool) {
	if l.bestNode == nil {
		return 0, 0, false
	}
	return l.bestNode.price, l.bestNode.size, true
}

func (l *ladder) less(a, b int64) bool {
	if l.descending {
		return a > b
	}
	return a < b
}

// Get returns the size at price, or ok=false if no level exists there.
func (l *ladder) Get(price int64) (size float64, ok bool) {
	n := l.search(price)
	if n == nil {
		return 0, false
	}
	return n.size, true
}

// Upsert inserts or updates the level at price to size. size must be > 0;
// callers use Delete to remove a level.
func (l *ladder) Upsert(price int64, size float64) {
	if n := l.search(price); n != nil {
		n.size = size
		return
	}
	l.insert(price, size)
}

// Delete removes the level at price. It panics if the level does not
// exist — a size-0 update always refers to a level the book believes is
// currently resting, and silently ignoring a delete for a level that was
// never added hides an upstream sequencing bug.
func (l *ladder) Delete(price int64) {
	n := l.search(price)
	if n == nil {
		panic("book: delete of nonexistent price level")
	}
	l.count--
	if n == l.bestNode {
		l.bestNode = l.adjacent(n)
	}
	l.deleteNode(n)
}

// Clear removes every level.
func (l *ladder) Clear() {
	l.root = nil
	l.count = 0
	l.bestNode = nil
}

// Ascend calls fn for every level in increasing price order, stopping
// early if fn returns false.
func (l *ladder) Ascend(fn func(price int64, size float64) bool) {
	l.inOrder(l.root, fn)
}

// Descend calls fn for every level in decreasing price order, stopping
// early if fn returns false.
func (l *ladder) Descend(fn func(price int64, size float64) bool) {
	l.reverseInOrder(l.root, fn)
}

func (l *ladder) search(price int64) *rbNode {
	cur := l.root
	for cur != nil {
		switch {
		case price == cur.price:
			return cur
		case price < cur.price:
			cur = cur.left
		default:
			cur = cur.right
		}
	}
	return nil
}

func (l *ladder) insert(price int64, size float64) {
	z := &rbNode{price: price, size: size, color: red}

	if l.root == nil {
		z.color = black
		l.root = z
		l.bestNode = z
		l.count = 1
		return
	}

	var parent *rbNode
	cur := l.root
	for cur != nil {
		parent = cur
		if price < cur.price {
			cur = cur.left
		} else {
			cur = cur.right
		}
	}
	z.parent = parent
	if price < parent.price {
		parent.left = z
	} else {
		parent.right = z
	}
	l.count++

	if l.bestNode == nil || l.less(price, l.bestNode.price) {
		l.bestNode = z
	}

	l.insertFixup(z)
}

func (l *ladder) inOrder(n *rbNode, fn func(int64, float64) bool) bool {
	if n == nil {
		return true
	}
	if !l.inOrder(n.left, fn) {
		return false
	}
	if !fn(n.price, n.size) {
		return false
	}
	return l.inOrder(n.right, fn)
}

func (l *ladder) reverseInOrder(n *rbNode, fn func(int64, float64) bool) bool {
	if n == nil {
		return true
	}
	if !l.reverseInOrder(n.right, fn) {
		return false
	}
	if !fn(n.price, n.size) {
		return false
	}
	return l.reverseInOrder(n.left, fn)
}

// adjacent returns the node that becomes the new best after n is removed:
// the in-order successor for ascending ladders, predecessor for
// descending ones (since "best" runs opposite to plain numeric order for
// bids).
func (l *ladder) adjacent(n *rbNode) *rbNode {
	if l.descending {
		return l.predecessor(n)
	}
	return l.successor(n)
}

func (l *ladder) successor(n *rbNode) *rbNode {
	if n.right != nil {
		cur := n.right
		for cur.left != nil {
			cur = cur.left
		}
		return cur
	}
	p := n.parent
	for p != nil && n == p.right {
		n = p
		p = p.parent
	}
	return p
}

func (l *ladder) predecessor(n *rbNode) *rbNode {
	if n.left != nil {
		cur := n.left
		for cur.right != nil {
			cur = cur.right
		}
		return cur
	}
	p := n.parent
	for p != nil && n == p.left {
		n = p
		p = p.parent
	}
	return p
}

func (l *ladder) rotateLeft(x *rbNode) {
	y := x.right
	x.right = y.left
	if y.left != nil {
		y.left.parent = x
	}
	y.parent = x.parent
	if x.parent == nil {
		l.root = y
	} else if x == x.parent.left {
		x.parent.left = y
	} else {
		x.parent.right = y
	}
	y.left = x
	x.parent = y
}

func (l *ladder) rotateRight(x *rbNode) {
	y := x.left
	x.left = y.right
	if y.right != nil {
		y.right.parent = x
	}
	y.parent = x.parent
	if x.parent == nil {
		l.root = y
	} else if x == x.parent.right {
		x.parent.right = y
	} else {
		x.parent.left = y
	}
	y.right = x
	x.parent = y
}

func (l *ladder) insertFixup(z *rbNode) {
	for z.parent != nil && z.parent.color == red {
		gp := z.parent.parent
		if z.parent == gp.left {
			y := gp.right
			if y != nil && y.color == red {
				z.parent.color = black
				y.color = black
				gp.color = red
				z = gp
			} else {
				if z == z.parent.right {
					z = z.parent
					l.rotateLeft(z)
				}
				z.parent.color = black
				z.parent.parent.color = red
				l.rotateRight(z.parent.parent)
			}
		} else {
			y := gp.left
			if y != nil && y.color == red {
				z.parent.color = black
				y.color = black
				gp.color = red
				z = gp
			} else {
				if z == z.parent.left {
					z = z.parent
					l.rotateRight(z)
				}
				z.parent.color = black
				z.parent.parent.color = red
				l.rotateLeft(z.parent.parent)
			}
		}
	}
	l.root.color = black
}

func (l *ladder) transplant(u, v *rbNode) {
	if u.parent == nil {
		l.root = v
	} else if u == u.parent.left {
		u.parent.left = v
	} else {
		u.parent.right = v
	}
	if v != nil {
		v.parent = u.parent
	}
}

func (l *ladder) deleteNode(z *rbNode) {
	var x, xParent *rbNode
	y := z
	yOriginalColor := y.color

	if z.left == nil {
		x = z.right
		xParent = z.parent
		l.transplant(z, z.right)
	} else if z.right == nil {
		x = z.left
		xParent = z.parent
		l.transplant(z, z.left)
	} else {
		y = z.right
		for y.left != nil {
			y = y.left
		}
		yOriginalColor = y.color
		x = y.right
		if y.parent == z {
			xParent = y
		} else {
			xParent = y.parent
			l.transplant(y, y.right)
			y.right = z.right
			y.right.parent = y
		}
		l.transplant(z, y)
		y.left = z.left
		y.left.parent = y
		y.color = z.color
	}

	if yOriginalColor == black {
		l.deleteFixup(x, xParent)
	}
}

func (l *ladder) deleteFixup(x *rbNode, xParent *rbNode) {
	for x != l.root && (x == nil || x.color == black) {
		if x == xParent.left {
			w := xParent.right
			if w != nil && w.color == red {
				w.color = black
				xParent.color = red
				l.rotateLeft(xParent)
				w = xParent.right
			}
			if w == nil || ((w.left == nil || w.left.color == black) && (w.right == nil || w.right.color == black)) {
				if w != nil {
					w.color = red
				}
				x = xParent
				xParent = x.parent
			} else {
				if w.right == nil || w.right.color == black {
					if w.left != nil {
						w.left.color = black
					}
					w.color = red
					l.rotateRight(w)
					w = xParent.right
				}
				w.color = xParent.color
				xParent.color = black
				if w.right != nil {
					w.right.color = black
				}
				l.rotateLeft(xParent)
				x = l.root
			}
		} else {
			w := xParent.left
			if w != nil && w.color == red {
				w.color = black
				xParent.color = red
				l.rotateRight(xParent)
				w = xParent.left
			}
			if w == nil || ((w.right == nil || w.right.color == black) && (w.left == nil || w.left.color == black)) {
				if w != nil {
					w.color = red
				}
				x = xParent
				xParent = x.parent
			} else {
				if w.left == nil || w.left.color == black {
					if w.right != nil {
						w.right.color = black
					}
					w.color = red
					l.rotateLeft(w)
					w = xParent.left
				}
				w.color = xParent.color
				xParent.color = black
				if w.left != nil {
					w.left.color = black
				}
				l.rotateRight(xParent)
				x = l.root
			}
		}
	}
	if x != nil {
		x.color = black
	}
}
