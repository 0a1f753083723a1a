package engine

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"
	"github.com/sirupsen/logrus"
)

// State is a call engine state.
type State int32

const (
	StateIdle State = iota
	StateCallOut
	StateCallIn
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCallOut:
		return "call-out"
	case StateCallIn:
		return "call-in"
	case StateSpeaking:
		return "speaking"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

func parseState(name string) State {
	for _, s := range []State{StateIdle, StateCallOut, StateCallIn, StateSpeaking} {
		if s.String() == name {
			return s
		}
	}
	return StateIdle
}

// Transition events accepted by the tracker.
const (
	eventDial   = "dial"
	eventRing   = "ring"
	eventAnswer = "answer"
	eventEnd    = "end"
)

// tracker guards state changes with a finite state machine so that a
// second session can never start before the current one has returned to
// Idle.
type tracker struct {
	machine *fsm.FSM
}

func newTracker(onTransition func(from, to State)) *tracker {
	t := &tracker{}
	t.machine = fsm.NewFSM(
		StateIdle.String(),
		fsm.Events{
			{Name: eventDial, Src: []string{StateIdle.String()}, Dst: StateCallOut.String()},
			{Name: eventRing, Src: []string{StateIdle.String()}, Dst: StateCallIn.String()},
			{Name: eventAnswer, Src: []string{StateCallOut.String(), StateCallIn.String()}, Dst: StateSpeaking.String()},
			{Name: eventEnd, Src: []string{StateCallOut.String(), StateCallIn.String(), StateSpeaking.String()}, Dst: StateIdle.String()},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				if onTransition != nil {
					onTransition(parseState(e.Src), parseState(e.Dst))
				}
			},
		},
	)
	return t
}

func (t *tracker) current() State {
	return parseState(t.machine.Current())
}

// transition moves the machine to next. Staying in the same state is not a
// transition and always succeeds.
func (t *tracker) transition(ctx context.Context, next State) error {
	from := t.current()
	if from == next {
		return nil
	}

	var event string
	switch next {
	case StateCallOut:
		event = eventDial
	case StateCallIn:
		event = eventRing
	case StateSpeaking:
		event = eventAnswer
	case StateIdle:
		event = eventEnd
	}

	if event == "" || !t.machine.Can(event) {
		logrus.WithFields(logrus.Fields{
			"function": "tracker.transition",
			"from":     from.String(),
			"to":       next.String(),
		}).Error("Rejected state transition")
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}

	// A cancelled context must not leave the machine behind the engine.
	if err := t.machine.Event(context.WithoutCancel(ctx), event); err != nil {
		return fmt.Errorf("%w: %s -> %s: %v", ErrInvalidTransition, from, next, err)
	}
	return nil
}
