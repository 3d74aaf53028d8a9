package planner

import (
	"gocnc/status"
)

// Queue is the planner buffer ring: an indexed ring inside an array with a
// run index and a write index. Previous/next relationships are index
// arithmetic modulo the queue size, which keeps every access bounds-checked.
//
// One writer (the parser task) owns the write index; one reader (the
// segment executor) owns the run index. Buffer state transitions are the
// only cross-task signal.
type Queue struct {
	buf       []Block
	w         int // write index; points to an EMPTY buffer except during commit
	r         int // run index
	available int // running count of EMPTY buffers
}

// Init sizes the ring and numbers the slots.
func (q *Queue) Init(size int) {
	q.buf = make([]Block, size)
	for i := range q.buf {
		q.buf[i].Num = i
	}
	q.w = 0
	q.r = 0
	q.available = size
}

// Size returns the total number of buffers.
func (q *Queue) Size() int { return len(q.buf) }

// Available returns the count of EMPTY buffers.
func (q *Queue) Available() int { return q.available }

// IsFull reports whether fewer than the headroom buffers remain. This is
// the backpressure signal to the parser.
func (q *Queue) IsFull() bool { return q.available < BufferHeadroom }

// next and prev wrap ring indices.
func (q *Queue) next(i int) int { return (i + 1) % len(q.buf) }
func (q *Queue) prev(i int) int { return (i + len(q.buf) - 1) % len(q.buf) }

// Get returns the block in a given slot.
func (q *Queue) Get(i int) *Block { return &q.buf[i] }

// Next returns the successor of a block in ring order.
func (q *Queue) Next(b *Block) *Block { return &q.buf[q.next(b.Num)] }

// Prev returns the predecessor of a block in ring order.
func (q *Queue) Prev(b *Block) *Block { return &q.buf[q.prev(b.Num)] }

// WriteBuffer returns the next EMPTY buffer, transitioned to INITIALIZING,
// or nil when the queue is out of buffers.
func (q *Queue) WriteBuffer() *Block {
	b := &q.buf[q.w]
	if b.State != BufferEmpty {
		return nil
	}
	b.State = BufferInitializing
	q.available--
	return b
}

// UndoWriteBuffer returns a checked-out buffer without committing it, for
// input-range rejections discovered after checkout.
func (q *Queue) UndoWriteBuffer(b *Block) {
	b.reset()
	q.available++
}

// CommitWriteBuffer finalizes the checked-out buffer with its block type
// and advances the write index. The buffer becomes visible to the
// backward planner as NOT_PLANNED.
func (q *Queue) CommitWriteBuffer(b *Block, blockType BlockType) {
	b.Type = blockType
	b.State = BufferNotPlanned
	b.Plannable = true
	q.w = q.next(q.w)
}

// RunBuffer returns the block at the run index, or nil if the queue is
// drained. It does not change the block's state; the executor marks it
// RUNNING when it loads the block.
func (q *Queue) RunBuffer() *Block {
	b := &q.buf[q.r]
	if b.State == BufferEmpty {
		return nil
	}
	return b
}

// FreeRunBuffer returns the run block to EMPTY and advances the run index.
// Returns true if the next buffer is ready to run.
func (q *Queue) FreeRunBuffer() bool {
	q.buf[q.r].reset()
	q.available++
	q.r = q.next(q.r)
	next := &q.buf[q.r]
	return next.State >= BufferBackPlanned
}

// NewestIndex returns the slot of the most recently committed block, or -1
// if the queue is empty.
func (q *Queue) NewestIndex() int {
	if q.available == len(q.buf) {
		return -1
	}
	return q.prev(q.w)
}

// RunIndex returns the run slot.
func (q *Queue) RunIndex() int { return q.r }

// Reset discards every queued block. Used by queue flush; the caller is
// responsible for having stopped the runtime first.
func (q *Queue) Reset() {
	size := len(q.buf)
	q.Init(size)
}

// Assert validates the structural invariants the ring must keep: the
// available count matches the number of EMPTY buffers and the write index
// points at an EMPTY buffer.
func (q *Queue) Assert() error {
	empties := 0
	for i := range q.buf {
		if q.buf[i].State == BufferEmpty {
			empties++
		}
		if q.buf[i].Num != i {
			return status.PlannerAssertionFailure
		}
	}
	if empties != q.available {
		return status.PlannerAssertionFailure
	}
	if q.available > 0 && q.buf[q.w].State != BufferEmpty {
		return status.PlannerAssertionFailure
	}
	return nil
}
