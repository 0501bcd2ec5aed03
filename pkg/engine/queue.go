package engine

import (
	"container/heap"
	"sync"

	"github.com/google/uuid"

	"github.com/NamanBalaji/webdl/internal/logger"
)

// queueItem is a submitted download waiting for a transfer slot.
type queueItem struct {
	ID       uuid.UUID
	Priority int
	seq      uint64
	index    int
}

// transferHeap is a max-heap by Priority, FIFO among equal priorities.
type transferHeap []*queueItem

func (h transferHeap) Len() int { return len(h) }
func (h transferHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h transferHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *transferHeap) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *transferHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	item.index = -1
	*h = old[:n-1]
	return item
}

// QueueProcessor runs at most maxConcurrent transfers at a time, highest
// priority first. startFn runs the whole transfer; its slot is freed when
// it returns. The dispatch loop exits once stopCh is closed.
type QueueProcessor struct {
	mu            sync.Mutex
	cond          *sync.Cond
	heap          transferHeap
	nextSeq       uint64
	startFn       func(uuid.UUID) error
	maxConcurrent int
	activeCount   int
	stopCh        <-chan struct{}
}

// NewQueueProcessor creates the processor and starts its dispatch loop.
func NewQueueProcessor(maxConcurrent int, startFn func(uuid.UUID) error, stopCh <-chan struct{}) *QueueProcessor {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	qp := &QueueProcessor{
		heap:          make(transferHeap, 0),
		startFn:       startFn,
		maxConcurrent: maxConcurrent,
		stopCh:        stopCh,
	}
	qp.cond = sync.NewCond(&qp.mu)

	go qp.dispatchLoop()

	// Wake a dispatch loop blocked in cond.Wait so it sees stopCh.
	go func() {
		<-stopCh
		qp.cond.L.Lock()
		qp.cond.Broadcast()
		qp.cond.L.Unlock()
	}()

	return qp
}

// Enqueue adds a download with its priority.
func (q *QueueProcessor) Enqueue(id uuid.UUID, priority int) {
	q.mu.Lock()
	heap.Push(&q.heap, &queueItem{ID: id, Priority: priority, seq: q.nextSeq})
	q.nextSeq++
	logger.Debugf("Queued transfer %s (priority %d)", id, priority)
	q.cond.Signal()
	q.mu.Unlock()
}

// Len returns the number of transfers waiting for a slot.
func (q *QueueProcessor) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.heap)
}

func (q *QueueProcessor) stopped() bool {
	select {
	case <-q.stopCh:
		return true
	default:
		return false
	}
}

func (q *QueueProcessor) dispatchLoop() {
	for {
		q.mu.Lock()
		for !q.stopped() && (q.activeCount >= q.maxConcurrent || len(q.heap) == 0) {
			q.cond.Wait()
		}

		if q.stopped() {
			q.mu.Unlock()
			return
		}

		item := heap.Pop(&q.heap).(*queueItem)
		q.activeCount++
		q.mu.Unlock()

		go func(id uuid.UUID) {
			defer func() {
				q.mu.Lock()
				q.activeCount--
				q.cond.Signal()
				q.mu.Unlock()
			}()

			logger.Debugf("Starting transfer %s", id)
			if err := q.startFn(id); err != nil {
				logger.Errorf("Transfer %s failed to run: %v", id, err)
			}
		}(item.ID)
	}
}
