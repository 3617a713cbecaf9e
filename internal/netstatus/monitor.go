// Package netstatus tracks connectivity and runs the queue drainer once per
// offline to online transition.
package netstatus

import (
	"context"
	stderrors "errors"
	"sync"

	"go.uber.org/zap"

	"github.com/hpungsan/tilth/internal/drain"
)

// Drainer runs one drain pass.
type Drainer interface {
	Drain(ctx context.Context) (*drain.Result, error)
}

// Shell receives connectivity and sync outcomes.
type Shell interface {
	SetOnline(online bool)
	NotifySynced()
}

// PendingCounter recomputes and publishes the pending-action count.
type PendingCounter interface {
	Refresh(ctx context.Context) (int, error)
}

// Target receives connectivity readings from a source.
type Target interface {
	SetOnline(ctx context.Context, online bool) (*drain.Result, error)
}

// Monitor is the connectivity flag plus the transition trigger.
type Monitor struct {
	drainer Drainer
	shell   Shell
	pending PendingCounter
	logger  *zap.Logger

	mu         sync.Mutex
	online     bool
	lastResult *drain.Result
}

// NewMonitor creates a Monitor with the given starting state. Starting
// state is recorded without draining; only a later offline to online
// change drains.
func NewMonitor(d Drainer, shell Shell, pending PendingCounter, online bool, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Monitor{drainer: d, shell: shell, pending: pending, online: online, logger: logger.Named("netstatus")}
	if shell != nil {
		shell.SetOnline(online)
	}
	return m
}

// Online reports the current connectivity flag.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// LastResult returns the result of the most recent drain pass, if any.
func (m *Monitor) LastResult() *drain.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastResult
}

// SetOnline records a connectivity reading. On an offline to online
// transition it runs the drainer and waits for it; a synced pass shows the
// sync notice and bumps the refresh token. Repeated readings of the same
// state do nothing and return a nil result.
func (m *Monitor) SetOnline(ctx context.Context, online bool) (*drain.Result, error) {
	m.mu.Lock()
	transition := online && !m.online
	changed := online != m.online
	m.online = online
	m.mu.Unlock()

	if changed {
		m.logger.Info("connectivity changed", zap.Bool("online", online))
		if m.shell != nil {
			m.shell.SetOnline(online)
		}
	}
	if !transition {
		return nil, nil
	}
	return m.runDrain(ctx)
}

// SyncNow runs a drain pass regardless of transitions, for explicit user
// requests. It refuses while offline.
func (m *Monitor) SyncNow(ctx context.Context) (*drain.Result, error) {
	if !m.Online() {
		return nil, ErrOffline
	}
	return m.runDrain(ctx)
}

// ErrOffline is returned by SyncNow while offline.
var ErrOffline = stderrors.New("cannot sync while offline")

func (m *Monitor) runDrain(ctx context.Context) (*drain.Result, error) {
	res, err := m.drainer.Drain(ctx)
	if stderrors.Is(err, drain.ErrDrainInProgress) {
		m.logger.Debug("drain already running, trigger dropped")
		return nil, err
	}
	if err != nil {
		m.logger.Warn("drain pass aborted", zap.Error(err))
	} else {
		m.mu.Lock()
		m.lastResult = res
		m.mu.Unlock()
		if res.Synced && m.shell != nil {
			m.shell.NotifySynced()
		}
	}

	if m.pending != nil {
		if _, perr := m.pending.Refresh(ctx); perr != nil {
			m.logger.Warn("pending count refresh failed", zap.Error(perr))
		}
	}
	return res, err
}
