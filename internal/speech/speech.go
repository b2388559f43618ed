// Package speech defines the recognizer contract used for voice color
// selection and a line-driven recognizer for the interactive shell.
package speech

import (
	"context"
	"errors"
	"fmt"
)

// Kind tells which outcome a recognition event carries.
type Kind int

const (
	// Result carries a transcript.
	Result Kind = iota
	// NoMatch means speech was heard but nothing was recognised.
	NoMatch
	// Error means the engine failed.
	Error
	// SpeechEnd means the speaker stopped without a result.
	SpeechEnd
)

func (k Kind) String() string {
	switch k {
	case Result:
		return "result"
	case NoMatch:
		return "no_match"
	case Error:
		return "error"
	case SpeechEnd:
		return "speech_end"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is one recognition outcome.
type Event struct {
	Kind       Kind
	Transcript string
	Confidence float64
	Err        error
}

// ErrBusy is returned by Start while a session is already running.
var ErrBusy = errors.New("speech: recognition session already active")

// Recognizer runs one recognition session per Start. Events are delivered
// asynchronously, never from inside Start; stop ends the session and must
// not wait on a callback in progress.
type Recognizer interface {
	Start(ctx context.Context, handle func(Event)) (stop func(), err error)
}
