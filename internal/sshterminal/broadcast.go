package sshterminal

import (
	"context"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultBroadcastConcurrency caps parallel writes during a broadcast.
const DefaultBroadcastConcurrency = 16

// TargetResult is the outcome of a broadcast for one session.
type TargetResult struct {
	SessionID string `json:"sessionId"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// BroadcastResult summarizes a broadcast. Success is always true: partial
// delivery is reported per target, never as an overall failure.
type BroadcastResult struct {
	Success       bool           `json:"success"`
	BroadcastedTo int            `json:"broadcastedTo"`
	TotalSessions int            `json:"totalSessions"`
	Results       []TargetResult `json:"results"`
}

// Broadcaster writes one payload to every shell-active session.
type Broadcaster struct {
	registry    *Registry
	concurrency int
}

// NewBroadcaster creates a broadcaster over registry. A concurrency of zero
// or less uses DefaultBroadcastConcurrency.
func NewBroadcaster(registry *Registry, concurrency int) *Broadcaster {
	if concurrency <= 0 {
		concurrency = DefaultBroadcastConcurrency
	}
	return &Broadcaster{registry: registry, concurrency: concurrency}
}

// Broadcast delivers payload to a snapshot of shell-active sessions. A target
// that fails, or that left the shell-active state after the snapshot, is
// recorded as a failure and does not affect the others. Results are in
// session id order.
func (b *Broadcaster) Broadcast(ctx context.Context, payload []byte) *BroadcastResult {
	targets := b.registry.BroadcastTargets()
	results := make([]TargetResult, len(targets))

	var (
		mu        sync.Mutex
		delivered int
	)
	g := new(errgroup.Group)
	g.SetLimit(b.concurrency)
	for i, s := range targets {
		g.Go(func() error {
			res := TargetResult{SessionID: s.ID()}
			var err error
			if err = ctx.Err(); err == nil {
				err = s.tryWrite(payload)
			}
			if err != nil {
				res.Error = err.Error()
				log.Printf("[broadcast] session %s: %v", s.ID(), err)
			} else {
				res.Success = true
				mu.Lock()
				delivered++
				mu.Unlock()
			}
			results[i] = res
			// Per-target failures are recorded, never propagated.
			return nil
		})
	}
	g.Wait()

	return &BroadcastResult{
		Success:       true,
		BroadcastedTo: delivered,
		TotalSessions: len(targets),
		Results:       results,
	}
}
