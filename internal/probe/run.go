package probe

import (
	"context"
	"errors"
	"time"
)

// Observer is notified of every phase transition of a probe. It is called
// from the probe's goroutine and must not block.
type Observer func(req Request, phase Phase)

// Outcome is the result of driving one probe to completion.
type Outcome struct {
	State    PortState
	Reason   string
	Response Response
	Duration time.Duration
	// Abandoned is set when the probe was cancelled while awaiting a
	// response. State and Reason are meaningless in that case.
	Abandoned bool
	// Err records a send failure. It never aborts the scan.
	Err error
}

// Run sends req through tr and classifies the result. The probe waits at
// most req.Timeout for a response. Cancelling ctx abandons the probe.
func Run(ctx context.Context, tr Transport, req Request, observe Observer) Outcome {
	if observe == nil {
		observe = func(Request, Phase) {}
	}

	start := time.Now()
	if err := ctx.Err(); err != nil {
		observe(req, PhaseAbandoned)
		return Outcome{Abandoned: true, Duration: time.Since(start)}
	}

	probeCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	observe(req, PhaseSent)
	observe(req, PhaseAwaitingResponse)
	resp, err := tr.Exchange(probeCtx, req)
	elapsed := time.Since(start)

	if err != nil {
		switch {
		case ctx.Err() != nil:
			observe(req, PhaseAbandoned)
			return Outcome{Abandoned: true, Duration: elapsed}
		case errors.Is(probeCtx.Err(), context.DeadlineExceeded):
			resp = Response{Kind: NoResponse}
		default:
			observe(req, PhaseClassified)
			return Outcome{
				State:    Filtered,
				Reason:   ReasonSendError,
				Duration: elapsed,
				Err:      err,
			}
		}
	}

	if req.Technique == Syn && resp.Kind == SynAck {
		// Failing to reset leaves a half-open connection on the target; the
		// port is still open.
		_ = tr.Reset(req, resp)
	}

	observe(req, PhaseClassified)
	return Outcome{
		State:    Classify(req.Technique, resp),
		Reason:   Reason(resp),
		Response: resp,
		Duration: elapsed,
	}
}
