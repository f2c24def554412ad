// Package fsm validates status transitions against a fixed table of actions.
package fsm

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidTransition = errors.New("invalid state transition")

type TransitionError struct {
	Entity  string
	Action  string
	Current string
	Allowed []string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s in status %q (allowed from: %s)",
		e.Action, e.Entity, e.Current, strings.Join(e.Allowed, ", "))
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Action is a named edge. An empty To marks a guard that permits an
// operation without changing status.
type Action[S ~string] struct {
	Name string
	From []S
	To   S
}

type Machine[S ~string] struct {
	entity  string
	actions map[string]Action[S]
}

func New[S ~string](entity string, actions ...Action[S]) *Machine[S] {
	m := &Machine[S]{entity: entity, actions: make(map[string]Action[S], len(actions))}
	for _, a := range actions {
		m.actions[a.Name] = a
	}
	return m
}

// Transition returns the status reached by applying action from current.
func (m *Machine[S]) Transition(action string, current S) (S, error) {
	a, ok := m.actions[action]
	if !ok {
		return current, fmt.Errorf("unknown %s action %q", m.entity, action)
	}
	for _, from := range a.From {
		if from == current {
			if a.To == "" {
				return current, nil
			}
			return a.To, nil
		}
	}

	allowed := make([]string, 0, len(a.From))
	for _, from := range a.From {
		allowed = append(allowed, string(from))
	}
	return current, &TransitionError{
		Entity:  m.entity,
		Action:  action,
		Current: string(current),
		Allowed: allowed,
	}
}

func (m *Machine[S]) Can(action string, current S) bool {
	_, err := m.Transition(action, current)
	return err == nil
}
