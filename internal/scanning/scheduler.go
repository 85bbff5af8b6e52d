package scanning

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/anstrom/portscope/internal/logging"
	"github.com/anstrom/portscope/internal/probe"
)

// scheduler fans probes out under a concurrency ceiling. Cancelling the
// session context stops admission at once. Probes already in flight get
// grace to finish before they are abandoned.
type scheduler struct {
	concurrency int
	grace       time.Duration
	observe     probe.Observer
	logger      *logging.Logger
	metrics     MetricsRecorder
}

// run schedules every request and reports exactly one outcome per request
// to out. It returns once all admitted probes have finished.
func (s *scheduler) run(ctx context.Context, tr probe.Transport, reqs []probe.Request, out chan<- outcome) {
	// Probes run on a context that outlives ctx by the grace period.
	hardCtx, hardCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer hardCancel()

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	stopAfter := context.AfterFunc(ctx, func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		timer = time.AfterFunc(s.grace, hardCancel)
	})
	defer func() {
		stopAfter()
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
	}()

	sem := semaphore.NewWeighted(int64(s.concurrency))
	var wg sync.WaitGroup

	admitted := 0
	for _, req := range reqs {
		if ctx.Err() != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		// Acquire can succeed on a done context when a slot is free.
		if ctx.Err() != nil {
			sem.Release(1)
			break
		}
		admitted++

		wg.Add(1)
		go func(req probe.Request) {
			defer wg.Done()
			defer sem.Release(1)
			out <- s.probe(hardCtx, tr, req)
		}(req)
	}

	if skipped := len(reqs) - admitted; skipped > 0 {
		s.logger.Debug("Scan cancelled before all probes were admitted",
			"admitted", admitted, "skipped", skipped)
	}
	for _, req := range reqs[admitted:] {
		out <- outcome{port: req.Port, cancelled: true}
	}

	wg.Wait()
}

func (s *scheduler) probe(ctx context.Context, tr probe.Transport, req probe.Request) outcome {
	s.metrics.ProbeStarted()
	defer s.metrics.ProbeFinished()

	res := probe.Run(ctx, tr, req, s.observe)
	if res.Abandoned {
		s.logger.DebugProbe("Probe abandoned", req.Port)
		return outcome{port: req.Port, cancelled: true}
	}
	if res.Err != nil {
		s.logger.DebugProbe("Probe send failed", req.Port, "error", res.Err)
	}

	s.metrics.RecordProbe(req.Technique.String(), res.State.String(), res.Duration)
	return outcome{
		port: req.Port,
		result: PortResult{
			Port:          req.Port,
			Protocol:      req.Technique.Protocol(),
			State:         res.State,
			Technique:     req.Technique,
			Reason:        res.Reason,
			ProbeDuration: res.Duration,
		},
	}
}
