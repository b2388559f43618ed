package speech

import (
	"context"
	"strings"
	"sync"
)

// LineRecognizer turns typed utterances into recognition sessions. The
// shell forwards "say ..." lines to Say while a session is listening.
type LineRecognizer struct {
	mu      sync.Mutex
	session *lineSession
}

type lineSession struct {
	ctx    context.Context
	cancel context.CancelFunc
	handle func(Event)
	once   sync.Once
}

// NewLineRecognizer returns an idle recognizer.
func NewLineRecognizer() *LineRecognizer {
	return &LineRecognizer{}
}

// Start opens a session. Only one may be active at a time.
func (r *LineRecognizer) Start(ctx context.Context, handle func(Event)) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil && r.session.ctx.Err() == nil {
		return nil, ErrBusy
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &lineSession{ctx: sctx, cancel: cancel, handle: handle}
	r.session = s
	return func() { r.end(s) }, nil
}

// Listening reports whether a session is waiting for an utterance.
func (r *LineRecognizer) Listening() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session != nil && r.session.ctx.Err() == nil
}

// Say delivers text as the session's utterance. Blank text is reported as
// NoMatch. It returns false when nobody is listening.
func (r *LineRecognizer) Say(text string) bool {
	r.mu.Lock()
	s := r.session
	r.mu.Unlock()
	if s == nil || s.ctx.Err() != nil {
		return false
	}

	ev := Event{Kind: NoMatch}
	if t := strings.TrimSpace(text); t != "" {
		ev = Event{Kind: Result, Transcript: t, Confidence: 1}
	}

	delivered := false
	s.once.Do(func() {
		delivered = true
		go s.handle(ev)
	})
	return delivered
}

// Fail reports an engine error to the listening session.
func (r *LineRecognizer) Fail(err error) bool {
	r.mu.Lock()
	s := r.session
	r.mu.Unlock()
	if s == nil || s.ctx.Err() != nil {
		return false
	}
	delivered := false
	s.once.Do(func() {
		delivered = true
		go s.handle(Event{Kind: Error, Err: err})
	})
	return delivered
}

func (r *LineRecognizer) end(s *lineSession) {
	s.cancel()
	s.once.Do(func() {}) // late Say calls become no-ops
	r.mu.Lock()
	if r.session == s {
		r.session = nil
	}
	r.mu.Unlock()
}

var _ Recognizer = (*LineRecognizer)(nil)
