package frequency

import "container/heap"

type hkNode struct {
	event string
	count uint32
	index int
}

// minHeap is a size-bounded min-heap over tracked events with an index map
// for O(1) membership checks and in-place count updates.
type minHeap struct {
	nodes []*hkNode
	byKey map[string]*hkNode
}

func newMinHeap(capacity int) *minHeap {
	// capacity is a sizing hint only; the heap grows on demand.
	if capacity > 1<<16 {
		capacity = 1 << 16
	}
	return &minHeap{
		nodes: make([]*hkNode, 0, capacity),
		byKey: make(map[string]*hkNode, capacity),
	}
}

func (h *minHeap) Len() int            { return len(h.nodes) }
func (h *minHeap) Less(i, j int) bool  { return h.nodes[i].count < h.nodes[j].count }
func (h *minHeap) Swap(i, j int) {
	h.nodes[i], h.nodes[j] = h.nodes[j], h.nodes[i]
	h.nodes[i].index = i
	h.nodes[j].index = j
}

func (h *minHeap) Push(x interface{}) {
	n := x.(*hkNode)
	n.index = len(h.nodes)
	h.nodes = append(h.nodes, n)
	h.byKey[n.event] = n
}

func (h *minHeap) Pop() interface{} {
	old := h.nodes
	n := old[len(old)-1]
	old[len(old)-1] = nil
	h.nodes = old[:len(old)-1]
	delete(h.byKey, n.event)
	return n
}

func (h *minHeap) peek() *hkNode {
	if len(h.nodes) == 0 {
		return nil
	}
	return h.nodes[0]
}

func (h *minHeap) find(event string) (*hkNode, bool) {
	n, ok := h.byKey[event]
	return n, ok
}

func (h *minHeap) update(n *hkNode, count uint32) {
	n.count = count
	heap.Fix(h, n.index)
}
