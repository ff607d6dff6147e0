package scanner

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RefreshOptions controls the auto-refresh loop.
type RefreshOptions struct {
	UpdateBuffer bool
	// AfterScan runs after every pass that actually scanned something.
	AfterScan func(ctx context.Context, res Result)
}

// StartAutoRefresh polls every Tick and scans only the sources that are
// due. Calling it while already running does nothing.
func (s *Scanner) StartAutoRefresh(ctx context.Context, opts RefreshOptions) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	if s.stop != nil {
		return
	}
	stop := make(chan struct{})
	s.stop = stop
	go s.refreshLoop(ctx, stop, opts)
	s.log.Info().Dur("tick", s.cfg.Tick).Msg("auto-refresh started")
}

// StopAutoRefresh suppresses future ticks. A scan already running is left
// to finish. Calling it while stopped does nothing.
func (s *Scanner) StopAutoRefresh() {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	if s.stop == nil {
		return
	}
	close(s.stop)
	s.stop = nil
	s.log.Info().Msg("auto-refresh stopped")
}

// Refreshing reports whether the auto-refresh loop is active.
func (s *Scanner) Refreshing() bool {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	return s.stop != nil
}

func (s *Scanner) refreshLoop(ctx context.Context, stop <-chan struct{}, opts RefreshOptions) {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	for {
		s.tick(ctx, stop, opts)
		select {
		case <-ctx.Done():
			s.refreshMu.Lock()
			if s.stop == stop {
				s.stop = nil
			}
			s.refreshMu.Unlock()
			return
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// tick scans the due subset of sources, leaving the configured set intact.
func (s *Scanner) tick(ctx context.Context, stop <-chan struct{}, opts RefreshOptions) {
	select {
	case <-stop:
		return
	default:
	}
	due := s.due(s.now())
	if len(due) == 0 {
		return
	}
	res, err := s.scan(ctx, due, Options{UpdateBuffer: opts.UpdateBuffer})
	if err != nil {
		s.log.Error().Err(err).Msg("auto-refresh scan failed")
		return
	}
	if res.RunID == uuid.Nil || opts.AfterScan == nil {
		return
	}
	opts.AfterScan(ctx, res)
}
