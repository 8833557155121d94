package engine

import "github.com/kolkov/gostm/internal/stm/latch"

const (
	// poolCapacity bounds every free list of a Pool.
	poolCapacity = 128

	// maxPooledArray is the largest tranlocal array that is recycled.
	maxPooledArray = 64
)

// Pool is a per-worker arena of recyclable transaction objects.
//
// A Pool is owned by one goroutine at a time: the Stm hands out pools from a
// sync.Pool and every executor run borrows one for its whole duration. Nothing in
// a Pool is synchronized.
//
// take* methods return nil when the free list is empty and the caller allocates.
// put* methods clear the object before keeping it, so pooled objects never retain
// application values.
type Pool struct {
	tranlocals []*tranlocal
	callables  []*callable
	listeners  []*latch.Listeners
	arrays     [maxPooledArray + 1][][]*tranlocal
	txns       [FatVariable + 1][]*Txn
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{}
}

func (p *Pool) takeTranlocal() *tranlocal {
	n := len(p.tranlocals)
	if n == 0 {
		return nil
	}
	tl := p.tranlocals[n-1]
	p.tranlocals[n-1] = nil
	p.tranlocals = p.tranlocals[:n-1]
	return tl
}

func (p *Pool) putTranlocal(tl *tranlocal) {
	tl.reset()
	if len(p.tranlocals) < poolCapacity {
		p.tranlocals = append(p.tranlocals, tl)
	}
}

func (p *Pool) takeCallable() *callable {
	n := len(p.callables)
	if n == 0 {
		return nil
	}
	c := p.callables[n-1]
	p.callables[n-1] = nil
	p.callables = p.callables[:n-1]
	return c
}

func (p *Pool) putCallable(c *callable) {
	c.fn = nil
	c.next = nil
	if len(p.callables) < poolCapacity {
		p.callables = append(p.callables, c)
	}
}

func (p *Pool) takeListeners() *latch.Listeners {
	if p == nil {
		return nil
	}
	n := len(p.listeners)
	if n == 0 {
		return nil
	}
	node := p.listeners[n-1]
	p.listeners[n-1] = nil
	p.listeners = p.listeners[:n-1]
	return node
}

// PutListeners recycles a listener node. It implements latch.NodePool.
func (p *Pool) PutListeners(node *latch.Listeners) {
	node.Reset()
	if p == nil {
		return
	}
	if len(p.listeners) < poolCapacity {
		p.listeners = append(p.listeners, node)
	}
}

// takeTranlocalArray returns an empty slice with capacity size, or nil.
func (p *Pool) takeTranlocalArray(size int) []*tranlocal {
	if size > maxPooledArray {
		return nil
	}
	free := p.arrays[size]
	n := len(free)
	if n == 0 {
		return nil
	}
	array := free[n-1]
	free[n-1] = nil
	p.arrays[size] = free[:n-1]
	return array
}

func (p *Pool) putTranlocalArray(array []*tranlocal) {
	size := cap(array)
	if size > maxPooledArray {
		return
	}
	array = array[:size]
	clear(array)
	if len(p.arrays[size]) < poolCapacity {
		p.arrays[size] = append(p.arrays[size], array[:0])
	}
}

func (p *Pool) takeTxn(kind TxnKind) *Txn {
	free := p.txns[kind]
	n := len(free)
	if n == 0 {
		return nil
	}
	tx := free[n-1]
	free[n-1] = nil
	p.txns[kind] = free[:n-1]
	return tx
}

// putTxn recycles tx. A transaction that does not fit any more gives its fixed
// array back instead.
func (p *Pool) putTxn(tx *Txn) {
	kind := tx.kind
	tx.clearForPool()
	if len(p.txns[kind]) < poolCapacity {
		p.txns[kind] = append(p.txns[kind], tx)
		return
	}
	if tx.fixed != nil {
		tx.fixed.release(p)
		tx.fixed = nil
	}
}

