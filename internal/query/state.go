package query

import (
	"time"

	"go.uber.org/zap"
)

// State is a stage of one query's lifecycle.
type State int

const (
	Idle State = iota
	Validating
	Fetching
	Aggregating
	Composed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Validating:
		return "validating"
	case Fetching:
		return "fetching"
	case Aggregating:
		return "aggregating"
	case Composed:
		return "composed"
	case Failed:
		return "error"
	default:
		return "unknown"
	}
}

// transitions lists the legal next states. A cache hit goes straight from
// Fetching to Composed once the snapshot token is confirmed.
var transitions = map[State][]State{
	Idle:        {Validating},
	Validating:  {Fetching, Failed},
	Fetching:    {Aggregating, Composed, Failed},
	Aggregating: {Composed, Failed},
}

// run tracks the lifecycle of one query.
type run struct {
	op      string
	state   State
	started time.Time
	logger  *zap.Logger
}

func (e *Engine) begin(op string) *run {
	r := &run{op: op, state: Idle, started: time.Now(), logger: e.logger}
	r.enter(Validating)
	return r
}

// enter moves to next; an illegal move is a programming error.
func (r *run) enter(next State) {
	for _, allowed := range transitions[r.state] {
		if allowed == next {
			r.logger.Debug("query state",
				zap.String("operation", r.op),
				zap.Stringer("from", r.state),
				zap.Stringer("to", next),
			)
			r.state = next
			return
		}
	}
	r.logger.DPanic("illegal query state transition",
		zap.String("operation", r.op),
		zap.Stringer("from", r.state),
		zap.Stringer("to", next),
	)
	r.state = next
}
