package lifecycle

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/publisherauthority/orderdesk/internal/status"
)

type Actor string

const (
	Publisher Actor = "publisher"
	Admin     Actor = "admin"
)

func ParseActor(raw string) (Actor, bool) {
	switch Actor(strings.ToLower(strings.TrimSpace(raw))) {
	case Publisher:
		return Publisher, true
	case Admin:
		return Admin, true
	default:
		return "", false
	}
}

type Action string

const (
	Submit          Action = "submit"
	RequestRevision Action = "request-revision"
	Cancel          Action = "cancel"
	Complete        Action = "complete"
)

var actionOrder = []Action{Submit, RequestRevision, Cancel, Complete}

func ParseAction(raw string) (Action, bool) {
	a := Action(strings.ToLower(strings.TrimSpace(raw)))
	return a, slices.Contains(actionOrder, a)
}

// Input names the payload field an action cannot proceed without.
type Input string

const (
	InputNone   Input = ""
	InputURL    Input = "submittedUrl"
	InputReason Input = "reason"
)

type Payload struct {
	URL    string
	Notes  string
	Reason string
}

type Transition struct {
	From    status.Status
	To      status.Status
	Actor   Actor
	Action  Action
	Payload Payload
}

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrMissingInput      = errors.New("missing input")
)

// TransitionError explains a rejected Apply call. Field is set for missing input.
type TransitionError struct {
	From   string
	Actor  Actor
	Action Action
	Field  Input
	Err    error
}

func (e *TransitionError) Error() string {
	if e.Field != InputNone {
		return fmt.Sprintf("%s: %s is required to %s", e.Err, e.Field, e.Action)
	}
	return fmt.Sprintf("%s: %s cannot %s an order that is %s", e.Err, e.Actor, e.Action, status.Label(e.From))
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

type rule struct {
	actor Actor
	from  []status.Status
	to    status.Status
	input Input
}

var rules = map[Action]rule{
	Submit: {
		actor: Publisher,
		from:  []status.Status{status.Pending, status.ReadyToPost, status.RevisionRequested},
		to:    status.Verifying,
		input: InputURL,
	},
	RequestRevision: {
		actor: Admin,
		from:  []status.Status{status.Verifying},
		to:    status.RevisionRequested,
		input: InputReason,
	},
	Cancel: {
		actor: Admin,
		from:  []status.Status{status.Pending, status.ReadyToPost, status.Verifying, status.RevisionRequested},
		to:    status.Cancelled,
		input: InputReason,
	},
	Complete: {
		actor: Admin,
		from:  []status.Status{status.Verifying},
		to:    status.Completed,
	},
}

// CanTransition reports whether actor may perform action on an order in the
// given status. Unknown statuses allow nothing.
func CanTransition(current string, actor Actor, action Action) bool {
	r, ok := rules[action]
	if !ok || r.actor != actor {
		return false
	}
	return slices.Contains(r.from, status.Parse(current))
}

// Apply validates a transition and returns the status it leads to. It has no
// side effects; the backend remains the authority on the actual outcome.
func Apply(current string, actor Actor, action Action, p Payload) (Transition, error) {
	if !CanTransition(current, actor, action) {
		return Transition{}, &TransitionError{From: current, Actor: actor, Action: action, Err: ErrInvalidTransition}
	}

	r := rules[action]
	if missing(r.input, p) {
		return Transition{}, &TransitionError{From: current, Actor: actor, Action: action, Field: r.input, Err: ErrMissingInput}
	}

	return Transition{
		From:    status.Parse(current),
		To:      r.to,
		Actor:   actor,
		Action:  action,
		Payload: p,
	}, nil
}

func missing(in Input, p Payload) bool {
	switch in {
	case InputURL:
		return strings.TrimSpace(p.URL) == ""
	case InputReason:
		return strings.TrimSpace(p.Reason) == ""
	default:
		return false
	}
}

// Actions lists what actor may do next, in a stable order.
func Actions(current string, actor Actor) []Action {
	var out []Action
	for _, a := range actionOrder {
		if CanTransition(current, actor, a) {
			out = append(out, a)
		}
	}
	return out
}

func RequiredInput(action Action) Input {
	return rules[action].input
}

// Target is the status an action leads to, if the action exists.
func Target(action Action) (status.Status, bool) {
	r, ok := rules[action]
	return r.to, ok
}
