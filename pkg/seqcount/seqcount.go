// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OpenVNIC Authors

// Package seqcount provides a sequence counter that lets a single writer
// publish updates to a block of plain counter fields while any number of
// readers take consistent copies without ever blocking the writer.
//
// The protocol mirrors a classic sequence lock: the writer brackets every
// update with BeginWrite/EndWrite, leaving the counter odd for the duration
// of the write; a reader copies the guarded fields between ReadBegin and
// ReadRetry and discards the copy whenever a write overlapped it.
package seqcount

import "sync/atomic"

// SeqCount guards a block of counter fields co-located with it.
//
// Exactly one writer may mutate the guarded fields, and only between
// BeginWrite and EndWrite. Writes must not nest. An even value means the
// block is stable; an odd value means a write is in flight.
type SeqCount struct {
	seq uint64
}

// BeginWrite marks the start of an update, making the sequence odd.
// Any reader copy taken from here until EndWrite will be retried.
func (s *SeqCount) BeginWrite() {
	atomic.AddUint64(&s.seq, 1)
}

// EndWrite marks the end of an update, making the sequence even again
// with a strictly greater value than before the write.
func (s *SeqCount) EndWrite() {
	atomic.AddUint64(&s.seq, 1)
}

// ReadBegin returns the sequence value to pass to ReadRetry after copying
// the guarded fields. It spins while a write is in flight; the writer's
// critical section is a handful of field stores, so the wait is bounded.
func (s *SeqCount) ReadBegin() uint64 {
	for {
		seq := atomic.LoadUint64(&s.seq)
		if seq&1 == 0 {
			return seq
		}
	}
}

// ReadRetry reports whether a write overlapped the reader's copy taken
// since ReadBegin returned start. A true result means the copy may be
// torn and must be discarded.
func (s *SeqCount) ReadRetry(start uint64) bool {
	return atomic.LoadUint64(&s.seq) != start
}

// Sequence returns the current raw sequence value. Intended for
// diagnostics only.
func (s *SeqCount) Sequence() uint64 {
	return atomic.LoadUint64(&s.seq)
}
