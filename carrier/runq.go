package carrier

import (
	"sync/atomic"
)

// runqSize is the capacity of each worker's run queue.
const runqSize = 256

// runq is a bounded, lock-free ring of tasks. Only the owning worker may
// put, while any worker may get or steal (grab).
//
// The head is advanced by CAS (commits consumption), the tail is only ever
// stored by the owner (publishes production). A slot in [head, tail) is never
// overwritten, as put refuses when the ring is full.
type runq struct {
	head  atomic.Uint32
	tail  atomic.Uint32
	slots [runqSize]atomic.Pointer[taskBox]
}

type taskBox struct {
	task Task
}

// put appends a task, returning false if the ring is full.
// Owner only.
func (q *runq) put(task Task) bool {
	return q.putBox(&taskBox{task: task})
}

func (q *runq) putBox(b *taskBox) bool {
	h := q.head.Load()
	t := q.tail.Load()
	if t-h >= runqSize {
		return false
	}
	q.slots[t%runqSize].Store(b)
	q.tail.Store(t + 1)
	return true
}

// get removes the task at the head, or returns nil if empty.
func (q *runq) get() Task {
	for {
		h := q.head.Load()
		t := q.tail.Load()
		if t == h {
			return nil
		}
		b := q.slots[h%runqSize].Load()
		if q.head.CompareAndSwap(h, h+1) {
			return b.task
		}
	}
}

// grab removes up to half (rounded up) of the tasks, from the head, into
// batch, returning the number removed.
func (q *runq) grab(batch *[runqSize/2 + 1]*taskBox) uint32 {
	for {
		h := q.head.Load()
		t := q.tail.Load()
		n := t - h
		n = n - n/2
		if n == 0 {
			return 0
		}
		if n > runqSize/2 {
			// inconsistent h and t
			continue
		}
		for i := uint32(0); i < n; i++ {
			batch[i] = q.slots[(h+i)%runqSize].Load()
		}
		if q.head.CompareAndSwap(h, h+n) {
			return n
		}
	}
}

// steal moves half of victim's tasks into q, returning one of them to run
// immediately, or nil if the victim was empty. Owner of q only, and q must
// be empty.
func (q *runq) steal(victim *runq) Task {
	var batch [runqSize/2 + 1]*taskBox
	n := victim.grab(&batch)
	if n == 0 {
		return nil
	}
	n--
	task := batch[n].task
	if n == 0 {
		return task
	}
	h := q.head.Load()
	t := q.tail.Load()
	if t-h+n >= runqSize {
		panic(`carrier: steal: run queue overflow`)
	}
	for i := uint32(0); i < n; i++ {
		q.slots[(t+i)%runqSize].Store(batch[i])
	}
	q.tail.Store(t + n)
	return task
}

// len returns a racy snapshot of the number of queued tasks.
func (q *runq) len() int {
	for {
		h := q.head.Load()
		t := q.tail.Load()
		if n := t - h; n <= runqSize {
			return int(n)
		}
	}
}
