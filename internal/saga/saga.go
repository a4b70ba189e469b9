// Package saga runs short sequences of remote side effects with explicit
// compensation. A Transaction executes its steps in order; when a step after
// the first fails, the reverse actions of the steps that already committed are
// invoked once each, newest first, and the original error is returned.
package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// State is the lifecycle position of a Transaction.
type State string

// Transaction states.
const (
	StateNotStarted     State = "not_started"
	StateStep1Committed State = "step1_committed"
	StateCompleted      State = "completed"
	StateAborted        State = "aborted"
	StateRollingBack    State = "rolling_back"
	StateRolledBack     State = "rolled_back"
	StateRollbackFailed State = "rollback_failed"
)

// ErrAlreadyRun is returned when Run is invoked more than once.
var ErrAlreadyRun = errors.New("saga: transaction already run")

// Step is one forward action plus the optional action that undoes it.
type Step struct {
	Name    string
	Forward func(ctx context.Context) error
	// Reverse undoes Forward. Nil means there is nothing to compensate.
	Reverse func(ctx context.Context) error
	// BestEffort steps log their failure as a warning and never fail the transaction.
	BestEffort bool
}

// RollbackFailureHook observes compensations that could not be applied.
type RollbackFailureHook func(transaction, step string, err error)

// Transaction is a single-use compensating transaction.
type Transaction struct {
	name   string
	steps  []Step
	logger logrus.FieldLogger
	onFail RollbackFailureHook

	mu           sync.Mutex
	started      bool
	state        State
	rollbackErrs []error
}

// Option configures a Transaction.
type Option func(*Transaction)

// WithLogger sets the logger used for step and rollback events.
func WithLogger(l logrus.FieldLogger) Option {
	return func(t *Transaction) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithRollbackFailureHook registers fn to be called for each failed compensation.
func WithRollbackFailureHook(fn RollbackFailureHook) Option {
	return func(t *Transaction) { t.onFail = fn }
}

// New returns an empty transaction named name.
func New(name string, opts ...Option) *Transaction {
	t := &Transaction{
		name:   name,
		logger: logrus.StandardLogger(),
		state:  StateNotStarted,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Then appends a step and returns t for chaining.
func (t *Transaction) Then(step Step) *Transaction {
	t.steps = append(t.steps, step)
	return t
}

// State returns the current state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// RollbackErrors returns the compensation failures of the last run.
func (t *Transaction) RollbackErrors() []error {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]error, len(t.rollbackErrs))
	copy(out, t.rollbackErrs)
	return out
}

func (t *Transaction) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Run executes the steps. The returned error is always the forward failure
// that stopped the transaction, never a compensation error.
func (t *Transaction) Run(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return ErrAlreadyRun
	}
	t.started = true
	t.mu.Unlock()

	log := t.logger.WithField("saga", t.name)
	committed := make([]int, 0, len(t.steps))
	for i, step := range t.steps {
		if step.Forward == nil {
			return fmt.Errorf("saga %s: step %q has no forward action", t.name, step.Name)
		}
		err := step.Forward(ctx)
		if err != nil && step.BestEffort {
			log.WithError(err).WithField("step", step.Name).Warn("best-effort step failed")
			continue
		}
		if err != nil {
			if len(committed) == 0 {
				t.setState(StateAborted)
				log.WithError(err).WithField("step", step.Name).Debug("first step failed, nothing to compensate")
				return err
			}
			t.rollback(ctx, log, committed, step.Name)
			return err
		}
		committed = append(committed, i)
		if len(committed) == 1 {
			t.setState(StateStep1Committed)
		}
	}
	t.setState(StateCompleted)
	return nil
}

// rollback reverses committed steps newest first. Compensations run on a
// context detached from the caller's cancellation.
func (t *Transaction) rollback(ctx context.Context, log logrus.FieldLogger, committed []int, failedStep string) {
	t.setState(StateRollingBack)
	rctx := context.WithoutCancel(ctx)
	var errs []error
	for i := len(committed) - 1; i >= 0; i-- {
		step := t.steps[committed[i]]
		if step.Reverse == nil {
			continue
		}
		if err := step.Reverse(rctx); err != nil {
			errs = append(errs, fmt.Errorf("reverse %s: %w", step.Name, err))
			log.WithError(err).WithFields(logrus.Fields{
				"step":        step.Name,
				"failed_step": failedStep,
				"severity":    "critical",
			}).Error("compensation failed; external state orphaned and needs manual cleanup")
			if t.onFail != nil {
				t.onFail(t.name, step.Name, err)
			}
			continue
		}
		log.WithFields(logrus.Fields{"step": step.Name, "failed_step": failedStep}).Info("step compensated")
	}
	t.mu.Lock()
	t.rollbackErrs = errs
	if len(errs) > 0 {
		t.state = StateRollbackFailed
	} else {
		t.state = StateRolledBack
	}
	t.mu.Unlock()
}
