// Package hotkey provides global hotkeys using gohook. Each configured key
// combo maps to a named controller action; pressing the combo emits that
// action on the listener's channel.
package hotkey

import (
	"log/slog"
	"slices"
	"strings"
	"sync"

	hook "github.com/robotn/gohook"
)

// Action names a controller intent bound to a hotkey.
type Action string

const (
	ActionRandom  Action = "random"
	ActionSpeech  Action = "speech"
	ActionEmotion Action = "emotion"
	ActionSound   Action = "sound"
	ActionStop    Action = "stop"
	ActionPower   Action = "power"
)

// Event is emitted on the channel returned by Events.
type Event struct {
	Action Action
}

// Binding is one key combo and the action it triggers.
type Binding struct {
	Action Action
	Keys   []string
}

// String renders the combo as "ctrl+alt+r".
func (b Binding) String() string {
	return strings.Join(b.Keys, "+")
}

// Listener manages global hotkeys and emits action events.
type Listener struct {
	bindings []Binding
	ch       chan Event
	done     chan struct{}
	once     sync.Once
}

// NewListener creates a Listener for the given action → keys map.
// Keys should be lowercase key names (e.g., ["ctrl", "alt", "r"]).
// Bindings without keys are ignored.
func NewListener(bindings map[string][]string) *Listener {
	l := &Listener{
		ch:   make(chan Event, 16),
		done: make(chan struct{}),
	}
	for action, keys := range bindings {
		if len(keys) == 0 {
			continue
		}
		l.bindings = append(l.bindings, Binding{Action: Action(action), Keys: slices.Clone(keys)})
	}
	slices.SortFunc(l.bindings, func(a, b Binding) int {
		return strings.Compare(string(a.Action), string(b.Action))
	})
	return l
}

// Bindings returns the registered bindings sorted by action.
func (l *Listener) Bindings() []Binding {
	return slices.Clone(l.bindings)
}

// Events returns the channel that receives hotkey events.
// The channel is closed when the listener stops.
func (l *Listener) Events() <-chan Event {
	return l.ch
}

// Start begins listening for the global hotkeys.
// This function blocks until Stop is called. Run it in a goroutine.
func (l *Listener) Start() {
	for _, b := range l.bindings {
		hook.Register(hook.KeyDown, b.Keys, func(hook.Event) {
			l.emit(b.Action)
		})
		slog.Debug("[HOTKEY] registered", "action", b.Action, "keys", b.String())
	}

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

// emit delivers an action without blocking the hook thread.
func (l *Listener) emit(a Action) {
	select {
	case l.ch <- Event{Action: a}:
	default: // don't block if channel is full
		slog.Debug("[HOTKEY] dropped", "action", a)
	}
}

// Stop terminates the hotkey listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}
