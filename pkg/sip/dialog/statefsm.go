package dialog

import (
	"context"
	"sync"

	"github.com/looplab/fsm"
)

const (
	evProvisional = "provisional"
	evConfirm     = "confirm"
	evTerminate   = "terminate"
)

// dialogFSM drives a dialog's State through the RFC 3261 section 12
// lifecycle using looplab/fsm, translating its string-keyed states back
// to the typed State enum for callers.
type dialogFSM struct {
	mu        sync.Mutex
	machine   *fsm.FSM
	listeners []func(State)
}

func newDialogFSM() *dialogFSM {
	d := &dialogFSM{}
	d.machine = fsm.NewFSM(
		StateInit.String(),
		fsm.Events{
			{Name: evProvisional, Src: []string{StateInit.String(), StateEarly.String()}, Dst: StateEarly.String()},
			{Name: evConfirm, Src: []string{StateInit.String(), StateEarly.String()}, Dst: StateConfirmed.String()},
			{Name: evTerminate, Src: []string{StateInit.String(), StateEarly.String(), StateConfirmed.String()}, Dst: StateTerminated.String()},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				d.mu.Lock()
				listeners := append([]func(State){}, d.listeners...)
				d.mu.Unlock()
				ns := stateFromString(e.Dst)
				for _, fn := range listeners {
					fn(ns)
				}
			},
		},
	)
	return d
}

func stateFromString(s string) State {
	switch s {
	case StateEarly.String():
		return StateEarly
	case StateConfirmed.String():
		return StateConfirmed
	case StateTerminated.String():
		return StateTerminated
	default:
		return StateInit
	}
}

func (d *dialogFSM) Current() State {
	return stateFromString(d.machine.Current())
}

func (d *dialogFSM) OnChange(fn func(State)) {
	d.mu.Lock()
	d.listeners = append(d.listeners, fn)
	d.mu.Unlock()
}

// fire transitions the FSM, ignoring fsm.InvalidEventError/NoTransitionError
// since a dialog frequently receives retransmitted provisional responses
// or requests that don't change its state.
func (d *dialogFSM) fire(event string) error {
	err := d.machine.Event(context.Background(), event)
	if err == nil {
		return nil
	}
	if _, ok := err.(fsm.NoTransitionError); ok {
		return nil
	}
	if _, ok := err.(fsm.InvalidEventError); ok {
		return nil
	}
	return err
}
