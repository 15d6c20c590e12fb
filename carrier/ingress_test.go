package carrier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBoxes(from, n int) []*taskBox {
	boxes := make([]*taskBox, n)
	for i := range boxes {
		id := from + i
		boxes[i] = &taskBox{task: func(w *Worker) {
			w.id = id
		}}
	}
	return boxes
}

// boxID runs the box's task against a scratch worker, to recover its id.
func boxID(b *taskBox) int {
	var w Worker
	b.task(&w)
	return w.id
}

func TestExtQueue_FIFOAcrossSegments(t *testing.T) {
	t.Parallel()

	var q extQueue
	const n = segmentSize*3 + 7
	for _, b := range newTestBoxes(0, n) {
		q.push(b)
	}
	assert.Equal(t, n, q.len())

	dst := make([]*taskBox, n+10)
	require.Equal(t, n, q.popBatch(dst))
	for i, b := range dst[:n] {
		if v := boxID(b); v != i {
			t.Fatalf("expected %d at index %d, got %d", i, i, v)
		}
	}
	assert.Equal(t, 0, q.len())
	assert.Nil(t, q.head)
	assert.Nil(t, q.tail)
	assert.NotNil(t, q.spare, "a drained segment is kept for reuse")
}

func TestExtQueue_PushBatchPopBatch(t *testing.T) {
	t.Parallel()

	var q extQueue
	var next, want int
	for round := 0; round < 10; round++ {
		// spans segment boundaries at varying offsets
		batch := newTestBoxes(next, segmentSize/2+round*7)
		next += len(batch)
		q.pushBatch(batch)
		q.push(newTestBoxes(next, 1)[0])
		next++

		dst := make([]*taskBox, segmentSize/3+round)
		n := q.popBatch(dst)
		require.Equal(t, len(dst), n)
		for _, b := range dst {
			require.Equal(t, want, boxID(b))
			want++
		}
	}
	assert.Equal(t, next-want, q.len())

	rest := make([]*taskBox, q.len())
	require.Equal(t, len(rest), q.popBatch(rest))
	for _, b := range rest {
		require.Equal(t, want, boxID(b))
		want++
	}
	assert.Equal(t, next, want)
	assert.Equal(t, 0, q.popBatch(make([]*taskBox, 1)))
}

func TestExtQueue_PopEmpty(t *testing.T) {
	t.Parallel()

	var q extQueue
	dst := make([]*taskBox, 4)
	assert.Equal(t, 0, q.popBatch(dst))

	q.push(newTestBoxes(0, 1)[0])
	assert.Equal(t, 1, q.popBatch(dst))
	assert.Equal(t, 0, q.popBatch(dst))
	assert.Equal(t, 0, q.popBatch(nil))
}

func TestExtQueue_ClearsPoppedSlots(t *testing.T) {
	t.Parallel()

	var q extQueue
	q.pushBatch(newTestBoxes(0, 3))
	s := q.head
	dst := make([]*taskBox, 2)
	require.Equal(t, 2, q.popBatch(dst))
	assert.Nil(t, s.boxes[0])
	assert.Nil(t, s.boxes[1])
	assert.NotNil(t, s.boxes[2])
}
