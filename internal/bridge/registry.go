package bridge

import (
	"sync"

	"code.hybscloud.com/atomix"

	"github.com/remote-agent-terminal/shellbridge/internal/model"
)

// Session is the registered handle of a live session: its write queue, its
// lifecycle token and the goroutines serving it.
type Session struct {
	token uint32
	info  model.SessionInfo
	queue *writeQueue

	loopDone   chan struct{}
	bridgeDone chan struct{}

	// panicked is written before loopDone is closed.
	panicked any
}

// Registry holds at most one active Session. Its lock is never held across I/O.
type Registry struct {
	mu      sync.Mutex
	current *Session

	serial atomix.Uint32
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// NextToken returns a fresh lifecycle token.
func (r *Registry) NextToken() uint32 {
	return r.serial.Add(1)
}

// Put stores s and returns the session it displaced, if any.
func (r *Registry) Put(s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current
	r.current = s
	return prev
}

// Take removes and returns the current session.
func (r *Registry) Take() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.current
	r.current = nil
	return s
}

// TakeIf removes and returns the current session only if it carries token.
func (r *Registry) TakeIf(token uint32) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil || r.current.token != token {
		return nil
	}
	s := r.current
	r.current = nil
	return s
}

// Current returns the registered session, or nil.
func (r *Registry) Current() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}
