// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package rag

// DocumentLocks exposes the per-document lock table for tests.
type DocumentLocks = documentLocks

var NewDocumentLocks = newDocumentLocks

func (d *documentLocks) Lock(id int64) func() { return d.lock(id) }

func (d *documentLocks) Size() int { return d.size() }
