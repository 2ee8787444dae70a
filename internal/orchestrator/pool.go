package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/strongdm/promptwheel/internal/model"
)

// Pool is the bounded-concurrency dispatch loop over spec §5's "scheduling
// model": up to Parallel ticket executions in flight at once, each leased
// from the store and handed to the Orchestrator. No third-party worker-pool
// library is used — a buffered semaphore channel plus one goroutine per
// dispatched ticket is the whole contract, matching how the rest of this
// codebase sizes its own concurrency primitives directly off the standard
// library.
type Pool struct {
	Orchestrator *Orchestrator
	ProjectID    string
	AgentID      string
	Parallel     int
	LeaseTTL     time.Duration
	PollInterval time.Duration
	Flags        Flags

	OnRunComplete func(model.Run, error)
}

// Run leases and dispatches tickets until ctx is canceled. It blocks until
// every in-flight ticket has finished (or been canceled) after ctx.Done().
func (p *Pool) Run(ctx context.Context) {
	parallel := p.Parallel
	if parallel <= 0 {
		parallel = 1
	}
	poll := p.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	ttl := p.LeaseTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	sem := make(chan struct{}, parallel)
	var wg sync.WaitGroup

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-ticker.C:
		}

	dispatchLoop:
		for {
			select {
			case sem <- struct{}{}:
			default:
				break dispatchLoop
			}

			ticket, lease, ok, err := p.Orchestrator.deps.Store.LeaseNextReady(ctx, p.ProjectID, p.AgentID, ttl)
			if err != nil || !ok {
				<-sem
				break dispatchLoop
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				run, runErr := p.Orchestrator.RunTicket(ctx, ticket, lease.ID, p.Flags)
				if p.OnRunComplete != nil {
					p.OnRunComplete(run, runErr)
				}
			}()
		}
	}
}
