package carrier

// segmentSize is the number of boxes per segment of the external queue.
const segmentSize = 128

// extQueue is the external submission queue, a FIFO of the same boxes the
// worker rings hold, so batches spilled from or polled into a ring move
// without re-boxing. Boxes are stored in linked fixed-size segments.
// Guarded by Pool.extMu.
type extQueue struct {
	head *segment
	tail *segment
	// a drained segment, kept for the next grow
	spare *segment
	n     int
}

type segment struct {
	boxes [segmentSize]*taskBox
	next  *segment
	// boxes[lo:hi] are queued
	lo, hi int
}

func (q *extQueue) len() int { return q.n }

func (q *extQueue) push(box *taskBox) {
	if q.tail == nil || q.tail.hi == segmentSize {
		q.grow()
	}
	q.tail.boxes[q.tail.hi] = box
	q.tail.hi++
	q.n++
}

// pushBatch appends boxes, in order.
func (q *extQueue) pushBatch(boxes []*taskBox) {
	for len(boxes) != 0 {
		if q.tail == nil || q.tail.hi == segmentSize {
			q.grow()
		}
		k := copy(q.tail.boxes[q.tail.hi:], boxes)
		q.tail.hi += k
		q.n += k
		boxes = boxes[k:]
	}
}

// popBatch moves up to len(dst) of the oldest boxes into dst, returning the
// number moved.
func (q *extQueue) popBatch(dst []*taskBox) int {
	var moved int
	for moved < len(dst) && q.head != nil {
		s := q.head
		k := copy(dst[moved:], s.boxes[s.lo:s.hi])
		// release references to the tasks, and their threads
		clear(s.boxes[s.lo : s.lo+k])
		s.lo += k
		moved += k
		if s.lo == s.hi {
			q.release(s)
		}
	}
	q.n -= moved
	return moved
}

func (q *extQueue) grow() {
	s := q.spare
	if s != nil {
		q.spare = nil
	} else {
		s = new(segment)
	}
	if q.tail == nil {
		q.head = s
	} else {
		q.tail.next = s
	}
	q.tail = s
}

// release unlinks the drained head segment, s.
func (q *extQueue) release(s *segment) {
	q.head = s.next
	if q.head == nil {
		q.tail = nil
	}
	s.next = nil
	s.lo, s.hi = 0, 0
	q.spare = s
}
