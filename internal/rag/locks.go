// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package rag

import "sync"

// documentLocks serializes writers per document ID. Entries are dropped
// once no goroutine holds or waits on them.
type documentLocks struct {
	mu    sync.Mutex
	locks map[int64]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newDocumentLocks() *documentLocks {
	return &documentLocks{locks: make(map[int64]*refMutex)}
}

// lock blocks until id is free and returns its release func.
func (d *documentLocks) lock(id int64) func() {
	d.mu.Lock()
	m, ok := d.locks[id]
	if !ok {
		m = &refMutex{}
		d.locks[id] = m
	}
	m.refs++
	d.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		d.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(d.locks, id)
		}
		d.mu.Unlock()
	}
}

func (d *documentLocks) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.locks)
}
