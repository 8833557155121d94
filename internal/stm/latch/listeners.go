package latch

// Listeners is a node in the singly linked list of latches waiting for a change of
// one reference.
type Listeners struct {
	Latch *Latch
	Era   int64
	Next  *Listeners
}

// NodePool recycles list nodes. A nil NodePool simply drops them.
type NodePool interface {
	PutListeners(node *Listeners)
}

// Reset clears the node so it retains no latch.
func (n *Listeners) Reset() {
	n.Latch = nil
	n.Era = 0
	n.Next = nil
}

// OpenAll opens every latch in the list starting at n, with the era each was
// registered for, and returns the nodes to pool.
func (n *Listeners) OpenAll(pool NodePool) {
	for node := n; node != nil; {
		next := node.Next
		node.Latch.Open(node.Era)
		if pool != nil {
			pool.PutListeners(node)
		}
		node = next
	}
}

// Len returns the number of nodes in the list starting at n.
func (n *Listeners) Len() int {
	count := 0
	for node := n; node != nil; node = node.Next {
		count++
	}
	return count
}
