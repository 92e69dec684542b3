package lock

import (
	"context"
	"time"

	"github.com/mnohosten/diskcore/pkg/txn"
)

// StartCycleDetection launches a background goroutine that rebuilds the
// wait-for graph and aborts a victim on every detected cycle, at the given
// interval. Grounded on the teacher's pkg/database.WorkerPool shutdown idiom
// (context.CancelFunc + sync.WaitGroup for a clean Stop), adapted from a
// task-queue pool to a single periodic pass since deadlock detection has no
// work items to submit.
func (lm *Manager) StartCycleDetection(interval time.Duration) {
	lm.detectMu.Lock()
	defer lm.detectMu.Unlock()
	if lm.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	lm.cancel = cancel
	lm.wg.Add(1)

	go func() {
		defer lm.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				lm.runDetectionPass()
			}
		}
	}()
}

// StopCycleDetection signals the background detector goroutine to stop and
// waits for it to exit.
func (lm *Manager) StopCycleDetection() {
	lm.detectMu.Lock()
	cancel := lm.cancel
	lm.cancel = nil
	lm.detectMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	lm.wg.Wait()
}

// runDetectionPass builds a fresh wait-for graph from every queue's pending
// and granted requests, then repeatedly finds and breaks cycles by
// aborting the youngest transaction (highest id) on each cycle.
func (lm *Manager) runDetectionPass() {
	graph := NewWaitForGraph()

	lm.mu.Lock()
	tableQueues := make([]*queue, 0, len(lm.tableQueues))
	for _, q := range lm.tableQueues {
		tableQueues = append(tableQueues, q)
	}
	rowQueues := make([]*queue, 0, len(lm.rowQueues))
	for _, q := range lm.rowQueues {
		rowQueues = append(rowQueues, q)
	}
	lm.mu.Unlock()

	addQueueEdges(graph, tableQueues)
	addQueueEdges(graph, rowQueues)

	for {
		cycle := graph.findCycle()
		if len(cycle) == 0 {
			return
		}
		victim := cycle[0]
		for _, id := range cycle[1:] {
			if id > victim {
				victim = id
			}
		}
		graph.RemoveNode(victim)
		lm.abortVictim(victim)
	}
}

// addQueueEdges adds an edge p -> g for every pending request p and every
// granted request g on the same resource whose mode is incompatible with
// p's, i.e. p is genuinely blocked waiting on g.
func addQueueEdges(graph *WaitForGraph, queues []*queue) {
	for _, q := range queues {
		q.mu.Lock()
		for _, p := range q.requests {
			if p.granted {
				continue
			}
			for _, g := range q.requests {
				if !g.granted || g.txnID == p.txnID {
					continue
				}
				if !compatible(g.mode, p.mode) {
					graph.AddEdge(p.txnID, g.txnID)
				}
			}
		}
		q.mu.Unlock()
	}
}

// abortVictim force-aborts a transaction chosen by the detector and wakes
// every queue it was waiting in, so its own goroutine observes the abort
// and returns a DeadlockVictim error from waitForGrant.
func (lm *Manager) abortVictim(id txn.ID) {
	t, ok := lm.txnMgr.Lookup(id)
	if !ok {
		return
	}
	t.SetAbortReason(string(ReasonDeadlockVictim))
	t.SetState(txn.Aborted)
	lm.counters.Get("aborts").Inc()

	lm.mu.Lock()
	tableQueues := make([]*queue, 0, len(lm.tableQueues))
	for _, q := range lm.tableQueues {
		tableQueues = append(tableQueues, q)
	}
	rowQueues := make([]*queue, 0, len(lm.rowQueues))
	for _, q := range lm.rowQueues {
		rowQueues = append(rowQueues, q)
	}
	lm.mu.Unlock()

	for _, q := range append(tableQueues, rowQueues...) {
		q.mu.Lock()
		if q.removeLocked(id) {
			if q.hasUpgrading && q.upgradingTxn == id {
				q.hasUpgrading = false
			}
			q.tryGrantLocked()
			q.cond.Broadcast()
		}
		q.mu.Unlock()
	}
}
