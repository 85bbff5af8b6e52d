package scanning

import (
	"slices"
	"time"
)

// outcome is what the scheduler reports for one requested port: either a
// classified result or a cancellation.
type outcome struct {
	port      uint16
	result    PortResult
	cancelled bool
}

// aggregator is the only writer of a session while the scan runs. It
// consumes outcomes in arrival order on its own goroutine; the first
// outcome for a port wins and ordering is imposed at finalize.
type aggregator struct {
	session  *ScanSession
	in       chan outcome
	done     chan struct{}
	seen     map[uint16]struct{}
	progress func(PortResult)
	dropped  int
}

func newAggregator(session *ScanSession, buffer int, progress func(PortResult)) *aggregator {
	return &aggregator{
		session:  session,
		in:       make(chan outcome, buffer),
		done:     make(chan struct{}),
		seen:     make(map[uint16]struct{}, session.PortsRequested),
		progress: progress,
	}
}

func (a *aggregator) start() {
	go func() {
		defer close(a.done)
		for o := range a.in {
			a.accept(o)
		}
	}()
}

func (a *aggregator) accept(o outcome) {
	if _, dup := a.seen[o.port]; dup {
		a.dropped++
		return
	}
	a.seen[o.port] = struct{}{}

	if o.cancelled {
		a.session.Cancelled = append(a.session.Cancelled, o.port)
		return
	}
	a.session.Results = append(a.session.Results, o.result)
	if a.progress != nil {
		a.progress(o.result)
	}
}

// finalize waits for every submitted outcome and freezes the session. The
// session is cancelled exactly when some port was left unclassified. The
// input channel must already be closed.
func (a *aggregator) finalize(finished time.Time) *ScanSession {
	<-a.done

	s := a.session
	slices.SortFunc(s.Results, func(x, y PortResult) int { return int(x.Port) - int(y.Port) })
	slices.Sort(s.Cancelled)
	if s.Results == nil {
		s.Results = []PortResult{}
	}
	if s.Cancelled == nil {
		s.Cancelled = []uint16{}
	}
	s.PortsCompleted = len(s.Results)
	s.Status = StatusCompleted
	if len(s.Cancelled) > 0 {
		s.Status = StatusCancelled
	}
	s.FinishedAt = finished
	return s
}
