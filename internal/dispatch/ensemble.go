package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/normanking/verity/internal/backend"
	"github.com/normanking/verity/internal/task"
)

// memberResult is one ensemble member's parsed answer.
type memberResult struct {
	backendID string
	opinions  []opinionSet
	err       error
}

// ensemble fans out to N ensemble members concurrently and joins on quorum:
// once K members have answered, remaining calls are cancelled and any late
// response is discarded, not awaited. Fewer than K answers within the
// timeout fails the dispatch with ErrQuorumNotReached.
func (d *Dispatcher) ensemble(ctx context.Context, t *task.Task) ([]task.CandidateSignal, error) {
	members := d.registry.ForRole(backend.RoleEnsembleMember)

	available := members[:0:0]
	for _, m := range members {
		if m.Available() {
			available = append(available, m)
		}
	}
	if len(available) > d.cfg.EnsembleSize {
		available = available[:d.cfg.EnsembleSize]
	}
	if len(available) < d.cfg.Quorum {
		return nil, fmt.Errorf("%w: only %d of %d required members available",
			ErrQuorumNotReached, len(available), d.cfg.Quorum)
	}

	fanCtx, cancel := context.WithTimeout(ctx, d.cfg.EnsembleTimeout)
	defer cancel()

	results := make(chan memberResult, len(available))
	req := &backend.Request{Prompt: executorPrompt(t), Temperature: 0.2}

	start := time.Now()
	for _, m := range available {
		go func(b backend.Backend) {
			resp, err := b.Invoke(fanCtx, req)
			if err != nil {
				d.notifyBackend(b.ID(), 0, err)
				results <- memberResult{backendID: b.ID(), err: err}
				return
			}
			d.notifyBackend(b.ID(), resp.LatencyMs, nil)
			ops, err := parseOpinions(b.ID(), resp)
			results <- memberResult{backendID: b.ID(), opinions: ops, err: err}
		}(m)
	}

	var (
		responded []memberResult
		failed    int
	)

	// Join on quorum. The loop exits as soon as quorum is reached or enough
	// members have failed that quorum is no longer possible.
	for len(responded) < d.cfg.Quorum && len(responded)+failed < len(available) {
		select {
		case r := <-results:
			if r.err != nil {
				failed++
				d.log.Warn("ensemble member %s discarded: %v", r.backendID, r.err)
				continue
			}
			responded = append(responded, r)

		case <-fanCtx.Done():
			return nil, fmt.Errorf("%w: %d of %d responses after %v",
				ErrQuorumNotReached, len(responded), d.cfg.Quorum, time.Since(start))
		}
	}

	if len(responded) < d.cfg.Quorum {
		return nil, fmt.Errorf("%w: %d of %d members responded",
			ErrQuorumNotReached, len(responded), d.cfg.Quorum)
	}

	// Quorum reached: cancel stragglers and release their resources.
	cancel()

	d.log.WithFields(map[string]interface{}{
		"task_id":   t.ID,
		"responded": len(responded),
		"duration":  time.Since(start),
	}).Info("ensemble quorum reached")

	var all []opinionSet
	for _, r := range responded {
		all = append(all, r.opinions...)
	}
	return d.reconcile(all), nil
}
