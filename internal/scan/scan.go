// Package scan orchestrates a Deep Scan run: credential resolution, the
// sequential batch-classification loop, and per-batch merging into the store.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/chatscrub/chatscrub/internal/classify"
	"github.com/chatscrub/chatscrub/internal/config"
	"github.com/chatscrub/chatscrub/internal/llm"
	"github.com/chatscrub/chatscrub/internal/logger"
	"github.com/chatscrub/chatscrub/internal/store"
)

// FSM states and triggers. The single-active-scan rule falls out of the
// machine: the start trigger is only permitted from idle.
var (
	stateIdle    stateless.State = "Idle"
	stateRunning stateless.State = "Running"

	triggerStart  stateless.Trigger = "Start"
	triggerFinish stateless.Trigger = "Finish"
)

// ErrScanInFlight is returned when a scan is started while one is running.
var ErrScanInFlight = errors.New("a scan is already running")

// Runner owns the scan lifecycle for one store.
type Runner struct {
	store *store.Store
	cfg   *config.Config

	// newClient is swapped out in tests.
	newClient func(key string, cfg config.LLMConfig) llm.Client

	mu  sync.Mutex
	fsm *stateless.StateMachine
}

func NewRunner(st *store.Store, cfg *config.Config) *Runner {
	fsm := stateless.NewStateMachine(stateIdle)
	fsm.Configure(stateIdle).Permit(triggerStart, stateRunning)
	fsm.Configure(stateRunning).Permit(triggerFinish, stateIdle)

	return &Runner{
		store: st,
		cfg:   cfg,
		newClient: func(key string, cfg config.LLMConfig) llm.Client {
			return llm.NewClient(key, cfg)
		},
		fsm: fsm,
	}
}

// Run executes one Deep Scan over the currently loaded conversations.
// callerKey, when non-empty, overrides the configured credential, and a
// positive timeoutSeconds overrides the configured overall scan budget.
// Verdicts are merged batch by batch; on timeout, already-merged batches
// stay applied.
func (r *Runner) Run(ctx context.Context, callerKey string, timeoutSeconds int) (classify.Summary, error) {
	if err := r.fire(triggerStart); err != nil {
		return classify.Summary{}, ErrScanInFlight
	}
	defer func() {
		if err := r.fire(triggerFinish); err != nil {
			logger.L.Warn("scan FSM finish error", "error", err)
		}
	}()

	key, err := llm.ResolveKey(callerKey, r.cfg.LLM)
	if err != nil {
		return classify.Summary{}, err
	}

	items := r.store.ScanItems()
	if len(items) == 0 {
		logger.L.Info("scan requested with no eligible messages")
		return classify.Summary{}, nil
	}

	budget := r.cfg.Scan.TimeoutSeconds
	if timeoutSeconds > 0 {
		budget = timeoutSeconds
	}
	timeout := time.Duration(budget) * time.Second
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	classifier := classify.New(r.newClient(key, r.cfg.LLM), r.cfg.LLM.Model)
	logger.L.Info("deep scan started", "eligible", len(items))

	sum, err := classifier.Scan(ctx, items, func(rs classify.ResultSet) {
		r.store.ApplyRemoteDetection(rs)
	})
	if err != nil {
		logger.L.Warn("deep scan aborted; applied batches are kept", "error", err, "batches", sum.Batches)
		return sum, fmt.Errorf("deep scan aborted: %w", err)
	}

	logger.L.Info("deep scan finished",
		"submitted", sum.Submitted, "batches", sum.Batches, "failed_batches", sum.FailedBatches)
	return sum, nil
}

func (r *Runner) fire(trigger stateless.Trigger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fsm.Fire(trigger)
}
