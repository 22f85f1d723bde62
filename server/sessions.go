package server

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/chazu/mote/vm"
)

// DefaultSessionName names the session used when a request omits one.
const DefaultSessionName = "default"

// Session is an isolated evaluation context: its own VM, and so its own
// operand stack and globals, behind its own worker.
type Session struct {
	ID        string
	Name      string
	CreatedAt time.Time

	seq      uint64 // creation order
	worker   *VMWorker
	out      bytes.Buffer // print output of the current evaluation
	diag     bytes.Buffer // diagnostics of the current evaluation
	lastUsed atomic.Int64 // unix nanoseconds
}

func (s *Session) touch() {
	s.lastUsed.Store(time.Now().UnixNano())
}

// LastUsed returns when the session last evaluated anything.
func (s *Session) LastUsed() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

// Evaluation is the outcome of interpreting one source unit in a session.
type Evaluation struct {
	Result      vm.InterpretResult
	Output      string
	Diagnostics []string
	Err         *vm.RuntimeError
}

// Evaluate interprets source on the session's VM.
func (s *Session) Evaluate(ctx context.Context, source string) (*Evaluation, error) {
	s.touch()
	result, err := s.worker.DoContext(ctx, func(v *vm.VM) interface{} {
		s.out.Reset()
		s.diag.Reset()
		r := v.Interpret(source)
		return &Evaluation{
			Result:      r,
			Output:      s.out.String(),
			Diagnostics: splitLines(s.diag.String()),
			Err:         v.LastError(),
		}
	})
	if err != nil {
		return nil, err
	}
	return result.(*Evaluation), nil
}

// Globals returns the session's global names and rendered values.
func (s *Session) Globals(ctx context.Context) (map[string]string, error) {
	result, err := s.worker.DoContext(ctx, func(v *vm.VM) interface{} {
		globals := make(map[string]string)
		for _, name := range v.GlobalNames() {
			val, _ := v.Global(name)
			globals[name] = val.GoString()
		}
		return globals
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]string), nil
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// SessionStore manages evaluation sessions.
type SessionStore struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	defaultID string
	compile   vm.CompileFunc
	vmOpts    []vm.Option
	seq       atomic.Uint64
}

// NewSessionStore creates a session store whose VMs compile with compile.
// vmOpts are applied to every session VM before its output streams are
// attached.
func NewSessionStore(compile vm.CompileFunc, vmOpts ...vm.Option) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		compile:  compile,
		vmOpts:   vmOpts,
	}
}

func (s *SessionStore) newSession(name string) *Session {
	session := &Session{
		seq:       s.seq.Add(1),
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now(),
	}
	session.touch()
	opts := append(append([]vm.Option(nil), s.vmOpts...),
		vm.WithOutput(&session.out),
		vm.WithDiagnostics(&session.diag),
	)
	v := vm.NewVM(opts...)
	v.UseCompiler(s.compile)
	session.worker = NewVMWorker(v)
	return session
}

// Create creates a new session with an optional name.
func (s *SessionStore) Create(name string) *Session {
	session := s.newSession(name)

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	log.Infof("session %s created (%q)", session.ID, name)
	return session
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	return session, ok
}

// Default returns the default session, creating it on first use.
func (s *SessionStore) Default() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[s.defaultID]; ok {
		return session
	}
	session := s.newSession(DefaultSessionName)
	s.sessions[session.ID] = session
	s.defaultID = session.ID
	return session
}

// Fork creates a new session whose globals are a copy of id's.
func (s *SessionStore) Fork(ctx context.Context, id, name string) (*Session, error) {
	parent, ok := s.Get(id)
	if !ok {
		return nil, fmt.Errorf("session %q not found", id)
	}

	snap, err := parent.worker.DoContext(ctx, func(v *vm.VM) interface{} {
		data, err := v.MarshalGlobals()
		if err != nil {
			return err
		}
		return data
	})
	if err != nil {
		return nil, err
	}
	if err, ok := snap.(error); ok {
		return nil, fmt.Errorf("snapshotting session %s: %w", id, err)
	}

	if name == "" {
		name = parent.Name + "-fork"
	}
	child := s.newSession(name)
	restored, err := child.worker.DoContext(ctx, func(v *vm.VM) interface{} {
		return v.RestoreGlobals(snap.([]byte))
	})
	if err == nil && restored != nil {
		err = restored.(error)
	}
	if err != nil {
		child.worker.Stop()
		return nil, fmt.Errorf("restoring fork of %s: %w", id, err)
	}

	s.mu.Lock()
	s.sessions[child.ID] = child
	s.mu.Unlock()

	log.Infof("session %s forked from %s", child.ID, id)
	return child, nil
}

// Destroy removes a session and stops its worker. It reports whether the
// session existed.
func (s *SessionStore) Destroy(id string) bool {
	s.mu.Lock()
	session, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return false
	}
	session.worker.Stop()
	log.Infof("session %s destroyed", id)
	return true
}

// List returns all sessions, oldest first.
func (s *SessionStore) List() []*Session {
	s.mu.RLock()
	list := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		list = append(list, session)
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	return list
}

// Close destroys every session.
func (s *SessionStore) Close() {
	for _, session := range s.List() {
		s.Destroy(session.ID)
	}
}

// Sweep destroys sessions idle for longer than ttl. The default session is
// never swept. It returns the number removed.
func (s *SessionStore) Sweep(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	s.mu.RLock()
	defaultID := s.defaultID
	s.mu.RUnlock()

	removed := 0
	for _, session := range s.List() {
		if session.ID == defaultID || !session.LastUsed().Before(cutoff) {
			continue
		}
		if s.Destroy(session.ID) {
			removed++
		}
	}
	return removed
}

// StartSweeper runs periodic idle sweeps in the background.
// Returns a stop function.
func (s *SessionStore) StartSweeper(interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				if n := s.Sweep(ttl); n > 0 {
					log.Infof("swept %d idle session(s)", n)
				}
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}
