// Package dbpool bounds the number of connections a store hands out at once.
// Acquire never queues: when every slot is taken it fails with
// ladder.ErrPoolExhausted.
package dbpool

import (
	"fmt"
	"sync/atomic"

	"github.com/park285/elo-ladder-bot/internal/ladder"
	"golang.org/x/sync/semaphore"
)

const DefaultSize = 10

type Gate struct {
	sem   *semaphore.Weighted
	size  int64
	inUse atomic.Int64
}

func NewGate(size int) *Gate {
	if size <= 0 {
		size = DefaultSize
	}
	return &Gate{sem: semaphore.NewWeighted(int64(size)), size: int64(size)}
}

// Acquire takes one slot. The returned release is idempotent.
func (g *Gate) Acquire() (func(), error) {
	if !g.sem.TryAcquire(1) {
		return nil, fmt.Errorf("%w: %d/%d in use", ladder.ErrPoolExhausted, g.inUse.Load(), g.size)
	}
	g.inUse.Add(1)
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			g.inUse.Add(-1)
			g.sem.Release(1)
		}
	}, nil
}

func (g *Gate) Size() int  { return int(g.size) }
func (g *Gate) InUse() int { return int(g.inUse.Load()) }
