package models

import (
	"context"
	"errors"
	"fmt"

	"github.com/qmuntal/stateless"
)

// ErrInvalidTransition is returned when a trigger is not permitted from the current state.
var ErrInvalidTransition = errors.New("invalid action state transition")

// ActionTrigger moves a ScheduledAction between states.
type ActionTrigger string

const (
	TriggerClaim    ActionTrigger = "claim"
	TriggerCancel   ActionTrigger = "cancel"
	TriggerComplete ActionTrigger = "complete"
	TriggerFail     ActionTrigger = "fail"
	TriggerRelease  ActionTrigger = "release"
)

var actionTriggers = []ActionTrigger{TriggerClaim, TriggerCancel, TriggerComplete, TriggerFail, TriggerRelease}

// ActionMachine wraps the lifecycle rules of one ScheduledAction state value.
type ActionMachine struct {
	state ActionState
	fsm   *stateless.StateMachine
}

// NewActionMachine builds a machine positioned at the given state.
func NewActionMachine(initial ActionState) *ActionMachine {
	m := &ActionMachine{state: initial}

	m.fsm = stateless.NewStateMachineWithExternalStorage(
		func(_ context.Context) (stateless.State, error) {
			return m.state, nil
		},
		func(_ context.Context, s stateless.State) error {
			m.state = s.(ActionState)

			return nil
		},
		stateless.FiringImmediate,
	)

	m.fsm.Configure(ActionStatePending).
		Permit(TriggerClaim, ActionStateRunning).
		Permit(TriggerCancel, ActionStateCancelled)

	m.fsm.Configure(ActionStateRunning).
		Permit(TriggerComplete, ActionStateDone).
		Permit(TriggerFail, ActionStateCancelled).
		Permit(TriggerRelease, ActionStatePending)

	m.fsm.Configure(ActionStateDone)
	m.fsm.Configure(ActionStateCancelled)

	return m
}

// State returns the current state.
func (m *ActionMachine) State() ActionState {
	return m.state
}

// Fire applies a trigger and returns the resulting state.
func (m *ActionMachine) Fire(trigger ActionTrigger) (ActionState, error) {
	if err := m.fsm.Fire(trigger); err != nil {
		return m.state, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, trigger, m.state)
	}

	return m.state, nil
}

// CanTransition reports whether some trigger moves an action from one state to the other.
func CanTransition(from, to ActionState) bool {
	for _, trigger := range actionTriggers {
		m := NewActionMachine(from)

		ok, err := m.fsm.CanFire(trigger)
		if err != nil || !ok {
			continue
		}

		if next, err := m.Fire(trigger); err == nil && next == to {
			return true
		}
	}

	return false
}
