package worker

import (
	"context"
	"errors"

	"github.com/gluk-w/pingmatrix/internal/metrics"
	"github.com/gluk-w/pingmatrix/internal/model"
	"github.com/gluk-w/pingmatrix/internal/probe"
	"github.com/gluk-w/pingmatrix/internal/sshproxy"
)

// Outcome is what a worker does after one probe attempt.
type Outcome int

const (
	// OutcomeOK delivers the measurement and moves to the next destination.
	OutcomeOK Outcome = iota
	// OutcomeSkipPair drops this destination; the session is still good.
	OutcomeSkipPair
	// OutcomeAbandonHost drops the remaining destinations for this source
	// and invalidates its session.
	OutcomeAbandonHost
	// OutcomeCancelled stops the worker.
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return metrics.OutcomeOK
	case OutcomeSkipPair:
		return metrics.OutcomeSkipped
	case OutcomeAbandonHost:
		return metrics.OutcomeAbandoned
	case OutcomeCancelled:
		return metrics.OutcomeCancelled
	default:
		return "unknown"
	}
}

// Classify maps an Acquire or Probe error to an Outcome. Command and parse
// failures only affect the pair. Anything else is treated as a broken
// transport to the source.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeOK
	}
	var connErr *sshproxy.ConnectError
	var backoffErr *sshproxy.ErrBackoff
	var cmdErr *probe.CommandFailedError
	var parseErr *probe.ParseError
	switch {
	case errors.As(err, &connErr), errors.As(err, &backoffErr):
		// Checked first: a dial timeout also matches context.DeadlineExceeded.
		return OutcomeAbandonHost
	case errors.As(err, &cmdErr), errors.As(err, &parseErr), errors.Is(err, model.ErrInvalidMeasurement):
		return OutcomeSkipPair
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	default:
		return OutcomeAbandonHost
	}
}
