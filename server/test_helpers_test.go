package server

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/chazu/mote/compiler"
	"github.com/chazu/mote/history"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for server package tests.
//
// VMs are cheap, so every test builds its own session store and tears it
// down with t.Cleanup. Nothing is shared between tests.
// ---------------------------------------------------------------------------

func bg() context.Context {
	return context.Background()
}

// newTestSessions creates a session store using the real compiler.
func newTestSessions(t *testing.T) *SessionStore {
	t.Helper()
	store := NewSessionStore(compiler.Func())
	t.Cleanup(store.Close)
	return store
}

// newTestHistory opens a history database in a temp directory.
func newTestHistory(t *testing.T) *history.Store {
	t.Helper()
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// newTestEvalService creates an EvalService with history enabled.
func newTestEvalService(t *testing.T) *EvalService {
	t.Helper()
	return NewEvalService(newTestSessions(t), newTestHistory(t))
}

// mustEvaluate evaluates source and fails the test on a transport error.
func mustEvaluate(t *testing.T, svc *EvalService, sessionID, source string) *EvaluateResponse {
	t.Helper()
	resp, err := svc.Evaluate(bg(), &EvaluateRequest{SessionID: sessionID, Source: source})
	if err != nil {
		t.Fatalf("Evaluate(%q): %v", source, err)
	}
	return resp
}
