package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/kataras/figma-slides/pkg/figma"
)

// Operation names used in logs, metrics and state hooks.
const (
	OpFullSync   = "full_sync"
	OpSingleSync = "single_sync"
	OpCheck      = "check"
	OpDetect     = "detect"
)

// run tracks one invocation through the state machine. It is never reused.
type run struct {
	e       *Engine
	op      string
	fileKey string
	state   State
	start   time.Time
}

func (e *Engine) begin(op, fileKey string) *run {
	r := &run{e: e, op: op, fileKey: fileKey, start: time.Now()}
	r.enter(StateIdle)
	return r
}

func (r *run) enter(s State) {
	r.state = s
	r.e.logger.Debug("sync state", "operation", r.op, "file", r.fileKey, "state", string(s))
	if r.e.stateHook != nil {
		r.e.stateHook(r.op, r.fileKey, s)
	}
}

// finish moves the run to its terminal state and records metrics. It returns err unchanged.
func (r *run) finish(err error) error {
	result := "success"
	if err != nil {
		result = "error"
		failedIn := r.state
		r.enter(StateFailed)
		if IsTransient(err) {
			// Offline is a steady-state condition, not an alarm.
			r.e.logger.Debug("sync operation failed", "operation", r.op, "file", r.fileKey, "state", string(failedIn), "error", err)
		} else {
			r.e.logger.Warn("sync operation failed", "operation", r.op, "file", r.fileKey, "state", string(failedIn), "error", err)
		}
	} else {
		r.enter(StateDone)
	}

	operationsTotal.WithLabelValues(r.op, result).Inc()
	syncDuration.WithLabelValues(r.op).Observe(time.Since(r.start).Seconds())
	return err
}

// connect resolves the access token and returns a client bound to it.
// A token source that times out or cannot be reached is an offline
// condition and is returned as is, not as ErrMissingToken.
func (e *Engine) connect(ctx context.Context) (*figma.Client, error) {
	token, err := e.tokens.Token(ctx)
	if err != nil {
		if IsTransient(err) {
			return nil, fmt.Errorf("syncer: resolve access token: %w", err)
		}
		return nil, fmt.Errorf("%w: %w", ErrMissingToken, err)
	}
	if token == "" {
		return nil, ErrMissingToken
	}
	return e.client.WithToken(token), nil
}

func parseLastModified(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
