package engine

import "github.com/tidwall/btree"

// storage is the tranlocal container of a transaction. The variants differ in
// capacity and lookup strategy; iteration order is always insertion order.
type storage interface {
	// find returns the tranlocal of r, or nil.
	find(r *baseRef) *tranlocal

	// add appends tl. It returns false when the storage is full.
	add(tl *tranlocal) bool

	// all returns the tranlocals in insertion order. The slice is only valid until
	// the next add or clear.
	all() []*tranlocal

	size() int

	// capacity returns the maximum size, or -1 when unbounded.
	capacity() int

	// clear recycles every tranlocal into pool.
	clear(pool *Pool)
}

// monoStorage holds a single tranlocal.
type monoStorage struct {
	slot [1]*tranlocal
	n    int
}

func (s *monoStorage) find(r *baseRef) *tranlocal {
	if s.n == 1 && s.slot[0].owner == r {
		return s.slot[0]
	}
	return nil
}

func (s *monoStorage) add(tl *tranlocal) bool {
	if s.n == 1 {
		return false
	}
	s.slot[0] = tl
	s.n = 1
	return true
}

func (s *monoStorage) all() []*tranlocal { return s.slot[:s.n] }
func (s *monoStorage) size() int         { return s.n }
func (s *monoStorage) capacity() int     { return 1 }

func (s *monoStorage) clear(pool *Pool) {
	if s.n == 1 {
		pool.putTranlocal(s.slot[0])
		s.slot[0] = nil
		s.n = 0
	}
}

// fixedStorage holds up to a fixed number of tranlocals in a preallocated array
// and finds them with a linear scan.
type fixedStorage struct {
	array []*tranlocal
	limit int
}

func newFixedStorage(pool *Pool, limit int) *fixedStorage {
	array := pool.takeTranlocalArray(limit)
	if array == nil {
		array = make([]*tranlocal, 0, limit)
	}
	return &fixedStorage{array: array, limit: limit}
}

func (s *fixedStorage) find(r *baseRef) *tranlocal {
	for _, tl := range s.array {
		if tl.owner == r {
			return tl
		}
	}
	return nil
}

func (s *fixedStorage) add(tl *tranlocal) bool {
	if len(s.array) == s.limit {
		return false
	}
	s.array = append(s.array, tl)
	return true
}

func (s *fixedStorage) all() []*tranlocal { return s.array }
func (s *fixedStorage) size() int         { return len(s.array) }
func (s *fixedStorage) capacity() int     { return s.limit }

func (s *fixedStorage) clear(pool *Pool) {
	for i, tl := range s.array {
		pool.putTranlocal(tl)
		s.array[i] = nil
	}
	s.array = s.array[:0]
}

// release hands the array back to pool. The storage is unusable afterwards.
func (s *fixedStorage) release(pool *Pool) {
	s.clear(pool)
	pool.putTranlocalArray(s.array)
	s.array = nil
}

// linearWindow is the size up to which variableStorage scans linearly before it
// builds its identity index.
const linearWindow = 8

// variableStorage grows without bound. Small sets are scanned linearly; larger
// ones are indexed by reference identity in a B-tree.
type variableStorage struct {
	array []*tranlocal
	index btree.Map[uint64, *tranlocal]
}

func (s *variableStorage) find(r *baseRef) *tranlocal {
	if len(s.array) <= linearWindow {
		for _, tl := range s.array {
			if tl.owner == r {
				return tl
			}
		}
		return nil
	}
	tl, _ := s.index.Get(r.identity)
	return tl
}

func (s *variableStorage) add(tl *tranlocal) bool {
	s.array = append(s.array, tl)
	switch {
	case len(s.array) == linearWindow+1:
		for _, existing := range s.array {
			s.index.Set(existing.owner.identity, existing)
		}
	case len(s.array) > linearWindow+1:
		s.index.Set(tl.owner.identity, tl)
	}
	return true
}

func (s *variableStorage) all() []*tranlocal { return s.array }
func (s *variableStorage) size() int         { return len(s.array) }
func (s *variableStorage) capacity() int     { return -1 }

func (s *variableStorage) clear(pool *Pool) {
	if len(s.array) > linearWindow {
		s.index = btree.Map[uint64, *tranlocal]{}
	}
	for i, tl := range s.array {
		pool.putTranlocal(tl)
		s.array[i] = nil
	}
	s.array = s.array[:0]
}

// indexed reports whether the identity index is in use.
func (s *variableStorage) indexed() bool {
	return s.index.Len() > 0
}
