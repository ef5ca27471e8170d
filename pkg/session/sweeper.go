package session

import (
	"context"
	"time"

	"github.com/agentdeck/agentdeck/pkg/logger"
	"github.com/agentdeck/agentdeck/pkg/telemetry"
)

// minSweepInterval is the floor applied to the configured sweep cadence.
const minSweepInterval = 10 * time.Second

// Sweeper periodically stops sessions that have been idle past the
// manager's timeout.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
}

// NewSweeper creates a sweeper running every interval, floored at ten
// seconds.
func NewSweeper(manager *Manager, interval time.Duration) *Sweeper {
	if interval < minSweepInterval {
		interval = minSweepInterval
	}
	return &Sweeper{manager: manager, interval: interval}
}

// Run sweeps until the context is cancelled. Each sweep is best-effort; a
// failing session stop never takes the loop down.
func (s *Sweeper) Run(ctx context.Context) {
	if s.manager.idleTimeout <= 0 {
		logger.Infof("Idle sweeper disabled")
		return
	}
	logger.Infof("Idle sweeper running every %s (timeout %s)", s.interval, s.manager.idleTimeout)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Infof("Idle sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Idle sweep panicked: %v", r)
		}
	}()

	for _, sessionID := range s.manager.IdleSessions() {
		if ctx.Err() != nil {
			return
		}
		logger.Infof("Stopping idle session %s", sessionID)
		s.manager.StopSession(ctx, sessionID)
		telemetry.IdleSessionsStopped.Inc()
	}
}
