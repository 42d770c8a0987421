package worker

import (
	"context"
	"time"

	"stock-service/internal/util"

	"go.uber.org/zap"
)

// SessionManager is the flash-sale lifecycle slice the scheduler drives.
type SessionManager interface {
	ExpirePastSessions(ctx context.Context) error
	PreloadUpcomingSessions(ctx context.Context, lookAhead time.Duration) error
}

// SessionScheduler retires sessions whose window has closed and warms up
// sessions about to open, so counters exist in the cache before the first
// buyer arrives.
type SessionScheduler struct {
	sessions  SessionManager
	logger    *zap.Logger
	interval  time.Duration
	lookAhead time.Duration
}

// NewSessionScheduler creates a scheduler ticking at interval with the
// given warm-up look-ahead window.
func NewSessionScheduler(sessions SessionManager, interval, lookAhead time.Duration) *SessionScheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if lookAhead <= 0 {
		lookAhead = 30 * time.Minute
	}
	return &SessionScheduler{
		sessions:  sessions,
		logger:    util.GetLogger(),
		interval:  interval,
		lookAhead: lookAhead,
	}
}

// Start blocks until the context is cancelled.
func (s *SessionScheduler) Start(ctx context.Context) {
	s.logger.Info("Session scheduler started",
		zap.Duration("interval", s.interval), zap.Duration("look_ahead", s.lookAhead))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Session scheduler stopped")
			return
		case <-ticker.C:
			if err := s.sessions.ExpirePastSessions(ctx); err != nil {
				s.logger.Error("Session expiry pass failed", zap.Error(err))
			}
			if err := s.sessions.PreloadUpcomingSessions(ctx, s.lookAhead); err != nil {
				s.logger.Error("Session preload pass failed", zap.Error(err))
			}
		}
	}
}
