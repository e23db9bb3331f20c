package server

import (
	"context"
	"time"
)

// runJanitors starts the background sweeps: flag falls on idle clocks and
// abandoned bot sessions. Both stop when ctx is cancelled.
func (s *Server) runJanitors(ctx context.Context) {
	s.clock.TickerFunc(ctx, time.Second, func() error {
		for _, snap := range s.sessions.SweepTimeouts() {
			s.onGameFinished(snap)
		}
		return nil
	}, "timeout-sweep")

	s.clock.TickerFunc(ctx, 10*time.Minute, func() error {
		s.bgs.CleanupStale(time.Duration(s.cfg.Limits.BgsStaleAgeMs) * time.Millisecond)
		return nil
	}, "bgs-cleanup")
}
