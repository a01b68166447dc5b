package queue

import (
	"container/heap"
	"fmt"

	"github.com/quorumlabs/slotqueue/pkg/types"
)

// proposalHeap implements heap.Interface as a max-heap over priority
// scores, maintaining the id → position index on every exchange.
// Losing that invariant corrupts every later O(1) lookup, so the index
// is updated inside Swap rather than after the fact.
type proposalHeap struct {
	items []*types.QueuedProposal
	pos   map[uint64]int
}

func (h *proposalHeap) Len() int { return len(h.items) }

func (h *proposalHeap) Less(i, j int) bool {
	// Higher score first
	return h.items[i].Score.Cmp(h.items[j].Score) > 0
}

func (h *proposalHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.pos[h.items[i].ID] = i
	h.pos[h.items[j].ID] = j
}

func (h *proposalHeap) Push(x interface{}) {
	p := x.(*types.QueuedProposal)
	h.pos[p.ID] = len(h.items)
	h.items = append(h.items, p)
}

func (h *proposalHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	p := old[n-1]
	old[n-1] = nil // avoid memory leak
	h.items = old[:n-1]
	delete(h.pos, p.ID)
	return p
}

// indexedHeap wraps the raw heap with the queue's contract semantics:
// bound violations are caller misuse and panic rather than returning
// errors.
type indexedHeap struct {
	h proposalHeap
}

func newIndexedHeap(capacity int) *indexedHeap {
	return &indexedHeap{
		h: proposalHeap{
			items: make([]*types.QueuedProposal, 0, capacity),
			pos:   make(map[uint64]int, capacity),
		},
	}
}

func (q *indexedHeap) size() int { return len(q.h.items) }

// insert pushes the entry and returns its resting position.
func (q *indexedHeap) insert(p *types.QueuedProposal) int {
	if _, ok := q.h.pos[p.ID]; ok {
		panic(fmt.Sprintf("queue: duplicate insert of proposal %d", p.ID))
	}
	heap.Push(&q.h, p)
	return q.h.pos[p.ID]
}

// removeAt removes and returns the entry at the given heap position.
// The vacated slot is re-heapified up or down as needed.
func (q *indexedHeap) removeAt(i int) *types.QueuedProposal {
	if len(q.h.items) == 0 {
		panic("queue: remove from empty heap")
	}
	if i < 0 || i >= len(q.h.items) {
		panic(fmt.Sprintf("queue: position %d out of range (size %d)", i, len(q.h.items)))
	}
	return heap.Remove(&q.h, i).(*types.QueuedProposal)
}

// removeID removes the entry with the given id. Unknown ids are a
// contract violation.
func (q *indexedHeap) removeID(id uint64) *types.QueuedProposal {
	i, ok := q.h.pos[id]
	if !ok {
		panic(fmt.Sprintf("queue: remove of unknown proposal %d", id))
	}
	return q.removeAt(i)
}

// extractMax removes and returns the highest-priority entry, nil if the
// heap is empty.
func (q *indexedHeap) extractMax() *types.QueuedProposal {
	if len(q.h.items) == 0 {
		return nil
	}
	return q.removeAt(0)
}

// peekMax returns the highest-priority entry without removing it.
func (q *indexedHeap) peekMax() *types.QueuedProposal {
	if len(q.h.items) == 0 {
		return nil
	}
	return q.h.items[0]
}

// lookup returns the current heap position of an id in O(1).
func (q *indexedHeap) lookup(id uint64) (int, bool) {
	i, ok := q.h.pos[id]
	return i, ok
}

// get returns the entry with the given id, nil if absent.
func (q *indexedHeap) get(id uint64) *types.QueuedProposal {
	if i, ok := q.h.pos[id]; ok {
		return q.h.items[i]
	}
	return nil
}

// fix restores heap order after the entry at position i changed score.
func (q *indexedHeap) fix(i int) {
	heap.Fix(&q.h, i)
}

// findMinEvictable returns the position of the minimum-score entry
// satisfying pred. In a max-heap the minimum lives among the leaves, so
// the leaf half (size/2..size) is scanned first; internal nodes are
// considered only when no eligible leaf exists.
func (q *indexedHeap) findMinEvictable(pred func(*types.QueuedProposal) bool) (int, bool) {
	n := len(q.h.items)
	if n == 0 {
		return 0, false
	}

	scan := func(lo, hi int) int {
		best := -1
		for i := lo; i < hi; i++ {
			if !pred(q.h.items[i]) {
				continue
			}
			if best < 0 || q.h.items[i].Score.Cmp(q.h.items[best].Score) < 0 {
				best = i
			}
		}
		return best
	}

	if best := scan(n/2, n); best >= 0 {
		return best, true
	}
	if best := scan(0, n/2); best >= 0 {
		return best, true
	}
	return 0, false
}

// snapshot returns a copy of the backing array, heap-ordered only at
// the root.
func (q *indexedHeap) snapshot() []*types.QueuedProposal {
	out := make([]*types.QueuedProposal, len(q.h.items))
	copy(out, q.h.items)
	return out
}
