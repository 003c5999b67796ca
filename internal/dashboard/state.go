package dashboard

import (
	"context"
	"sync"

	"github.com/qmuntal/stateless"

	"github.com/creditdesk/chataudit/internal/logger"
)

const (
	StateNormal  = "normal"
	StateErrored = "errored"
)

const (
	triggerErrorObserved = "error_observed"
	triggerRetry         = "retry"
)

// PageState models the dashboard's visible condition. Errors push it
// to errored; only an explicit retry returns it to normal, and a retry
// does not guarantee the underlying fault is resolved.
type PageState struct {
	mu      sync.Mutex
	machine *stateless.StateMachine
	lastErr error
}

func NewPageState() *PageState {
	machine := stateless.NewStateMachine(StateNormal)
	machine.Configure(StateNormal).
		Permit(triggerErrorObserved, StateErrored)
	machine.Configure(StateErrored).
		Permit(triggerRetry, StateNormal).
		PermitReentry(triggerErrorObserved)
	// Retry while already normal is a no-op, not a fault.
	machine.OnUnhandledTrigger(func(_ context.Context, state stateless.State, trigger stateless.Trigger, _ []string) error {
		logger.L.Debug("page state ignoring trigger", "state", state, "trigger", trigger)
		return nil
	})
	return &PageState{machine: machine}
}

// ObserveError records an error and moves the page to errored.
func (p *PageState) ObserveError(err error) {
	if p == nil || err == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastErr = err
	if fireErr := p.machine.Fire(triggerErrorObserved); fireErr != nil {
		logger.L.Warn("page state transition failed", "trigger", triggerErrorObserved, "error", fireErr)
	}
	logger.L.Warn("dashboard page entered errored state", "error", err)
}

// Retry resets the page to normal. Calling it while already normal is
// harmless.
func (p *PageState) Retry() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastErr = nil
	if fireErr := p.machine.Fire(triggerRetry); fireErr != nil {
		logger.L.Warn("page state transition failed", "trigger", triggerRetry, "error", fireErr)
	}
}

// Current returns the page state name.
func (p *PageState) Current() string {
	if p == nil {
		return StateNormal
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.machine.MustState().(string)
	if !ok {
		return StateNormal
	}
	return state
}

// LastError returns the error that pushed the page to errored, or nil.
func (p *PageState) LastError() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}
