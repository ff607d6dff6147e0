package scanner

import "github.com/google/uuid"

// Scan phases reported through Progress.
const (
	PhaseFetch     = "fetch"
	PhaseNormalize = "normalize"
	PhaseMerge     = "merge"
	PhaseDone      = "done"
)

const progressBuffer = 32

// Progress is one status update of a running scan.
type Progress struct {
	RunID     uuid.UUID
	Phase     string
	Completed int
	Total     int
	Message   string
}

// Percent maps the phase and its completion onto 0..100.
func (p Progress) Percent() int {
	var lo, hi int
	switch p.Phase {
	case PhaseFetch:
		lo, hi = 0, 70
	case PhaseNormalize:
		lo, hi = 70, 85
	case PhaseMerge:
		lo, hi = 85, 99
	default:
		return 100
	}
	if p.Total <= 0 {
		return lo
	}
	return lo + (hi-lo)*min(p.Completed, p.Total)/p.Total
}

// Subscribe returns a channel of progress updates and a cancel function
// that closes it. Updates are dropped for subscribers that fall behind.
func (s *Scanner) Subscribe() (<-chan Progress, func()) {
	ch := make(chan Progress, progressBuffer)
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subsMu.Unlock()

	cancel := func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (s *Scanner) emit(p Progress) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- p:
		default:
		}
	}
}
