package audio

import (
	"context"
	"sync/atomic"
)

// BlockQueue is a bounded single-producer/single-consumer queue with
// drop-oldest-on-full semantics. Push never blocks: the capture callback runs
// on the audio thread and must only enqueue and return. When the queue is
// full the oldest block is discarded and the overrun counter incremented.
type BlockQueue struct {
	ch       chan Block
	overruns atomic.Uint64
}

func NewBlockQueue(depth int) *BlockQueue {
	if depth <= 0 {
		depth = 1
	}
	return &BlockQueue{ch: make(chan Block, depth)}
}

// Push enqueues b without blocking. It returns false when an older block had
// to be dropped to make room.
func (q *BlockQueue) Push(b Block) bool {
	dropped := false
	for {
		select {
		case q.ch <- b:
			return !dropped
		default:
		}
		select {
		case <-q.ch:
			q.overruns.Add(1)
			dropped = true
		default:
			// Consumer raced us and made room; retry the send.
		}
	}
}

// Pop blocks until a block is available or ctx is cancelled.
func (q *BlockQueue) Pop(ctx context.Context) (Block, bool) {
	select {
	case b := <-q.ch:
		return b, true
	case <-ctx.Done():
		return Block{}, false
	}
}

// TryPop returns immediately with ok=false when the queue is empty.
func (q *BlockQueue) TryPop() (Block, bool) {
	select {
	case b := <-q.ch:
		return b, true
	default:
		return Block{}, false
	}
}

// Drain empties the queue and returns the drained blocks in order.
func (q *BlockQueue) Drain() []Block {
	var blocks []Block
	for {
		select {
		case b := <-q.ch:
			blocks = append(blocks, b)
		default:
			return blocks
		}
	}
}

func (q *BlockQueue) Len() int { return len(q.ch) }

// Overruns reports how many blocks have been dropped since creation.
func (q *BlockQueue) Overruns() uint64 { return q.overruns.Load() }
