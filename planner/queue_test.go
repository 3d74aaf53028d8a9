package planner

import (
	"testing"
)

func TestQueueCheckoutCommit(t *testing.T) {
	var q Queue
	q.Init(8)

	if q.Available() != 8 {
		t.Fatalf("expected 8 available, got %d", q.Available())
	}

	b := q.WriteBuffer()
	if b == nil {
		t.Fatalf("write buffer unavailable on empty queue")
	}
	if b.State != BufferInitializing {
		t.Errorf("checkout should move buffer to INITIALIZING")
	}
	q.CommitWriteBuffer(b, BlockALine)
	if b.State != BufferNotPlanned {
		t.Errorf("commit should move buffer to NOT_PLANNED")
	}
	if !b.Plannable {
		t.Errorf("committed buffer must be plannable")
	}
	if q.Available() != 7 {
		t.Errorf("expected 7 available after commit, got %d", q.Available())
	}

	if err := q.Assert(); err != nil {
		t.Errorf("queue invariants violated: %v", err)
	}
}

func TestQueueUndoWrite(t *testing.T) {
	var q Queue
	q.Init(8)
	b := q.WriteBuffer()
	q.UndoWriteBuffer(b)
	if q.Available() != 8 {
		t.Errorf("undo should restore availability, got %d", q.Available())
	}
	if q.WriteBuffer() == nil {
		t.Errorf("buffer should be reusable after undo")
	}
}

func TestQueueHeadroomBackpressure(t *testing.T) {
	var q Queue
	q.Init(8)
	// Fill until fewer than the headroom buffers remain
	for i := 0; i <= 8-BufferHeadroom; i++ {
		if q.IsFull() {
			t.Fatalf("queue full too early at %d", i)
		}
		b := q.WriteBuffer()
		if b == nil {
			t.Fatalf("write buffer nil at %d", i)
		}
		q.CommitWriteBuffer(b, BlockALine)
	}
	if !q.IsFull() {
		t.Errorf("queue should report full with %d available", q.Available())
	}
}

func TestQueueRunAndFree(t *testing.T) {
	var q Queue
	q.Init(8)

	for i := 0; i < 3; i++ {
		b := q.WriteBuffer()
		b.Length = float64(i + 1)
		q.CommitWriteBuffer(b, BlockALine)
		b.State = BufferFullyPlanned
	}

	// Blocks come back in commit order
	for i := 0; i < 3; i++ {
		b := q.RunBuffer()
		if b == nil {
			t.Fatalf("run buffer nil at %d", i)
		}
		if b.Length != float64(i+1) {
			t.Errorf("expected block %d, got length %g", i+1, b.Length)
		}
		next := q.FreeRunBuffer()
		if i < 2 && !next {
			t.Errorf("next buffer should be ready at %d", i)
		}
	}

	if q.RunBuffer() != nil {
		t.Errorf("drained queue should return nil run buffer")
	}
	if q.Available() != 8 {
		t.Errorf("all buffers should be free, got %d", q.Available())
	}
	if err := q.Assert(); err != nil {
		t.Errorf("queue invariants violated: %v", err)
	}
}

func TestQueueWrapAround(t *testing.T) {
	var q Queue
	q.Init(4)
	// Cycle more blocks than the ring holds
	for i := 0; i < 11; i++ {
		b := q.WriteBuffer()
		if b == nil {
			t.Fatalf("write buffer nil on iteration %d", i)
		}
		q.CommitWriteBuffer(b, BlockALine)
		rb := q.RunBuffer()
		if rb != b {
			t.Fatalf("run buffer mismatch on iteration %d", i)
		}
		q.FreeRunBuffer()
	}
	if err := q.Assert(); err != nil {
		t.Errorf("queue invariants violated after wrap: %v", err)
	}
}

func TestQueueAssertDetectsCorruption(t *testing.T) {
	var q Queue
	q.Init(4)
	b := q.WriteBuffer()
	q.CommitWriteBuffer(b, BlockALine)
	q.available = 7 // corrupt the running count
	if err := q.Assert(); err == nil {
		t.Errorf("assert should detect a bad availability count")
	}
}
