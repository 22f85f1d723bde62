package history

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.Record(ctx, "repl", fmt.Sprintf("print %d;", i), 0); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}
	if _, err := s.Record(ctx, "other", "print 99;", 2); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	all, err := s.Recent(ctx, "repl", 0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("got %d entries, want 5", len(all))
	}
	for i, e := range all {
		if want := fmt.Sprintf("print %d;", i); e.Source != want {
			t.Errorf("entry[%d] = %q, want %q", i, e.Source, want)
		}
		if e.Session != "repl" {
			t.Errorf("entry[%d] session = %q", i, e.Session)
		}
	}

	last, err := s.Recent(ctx, "repl", 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(last) != 2 || last[0].Source != "print 3;" || last[1].Source != "print 4;" {
		t.Errorf("Recent(2) = %+v", last)
	}
}

func TestRecordKeepsStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e, err := s.Record(ctx, "s", "print -nil;", 2)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if e.ID == "" {
		t.Error("entry has no ID")
	}

	got, _ := s.Recent(ctx, "s", 1)
	if len(got) != 1 || got[0].Status != 2 || got[0].ID != e.ID {
		t.Errorf("Recent = %+v, want status 2 id %s", got, e.ID)
	}
}

func TestClear(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.Record(ctx, "a", "1;", 0)
	s.Record(ctx, "b", "2;", 0)

	if err := s.Clear(ctx, "a"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if got, _ := s.Recent(ctx, "a", 0); len(got) != 0 {
		t.Errorf("session a still has %d entries", len(got))
	}
	if got, _ := s.Recent(ctx, "b", 0); len(got) != 1 {
		t.Errorf("session b has %d entries, want 1", len(got))
	}
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	s.Record(ctx, "repl", "var a = 1;", 0)
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()
	got, _ := s.Recent(ctx, "repl", 0)
	if len(got) != 1 || got[0].Source != "var a = 1;" {
		t.Errorf("after reopen: %+v", got)
	}
}

func TestClosedStore(t *testing.T) {
	s := openTestStore(t)
	s.Close()
	if _, err := s.Record(context.Background(), "x", "1;", 0); !errors.Is(err, ErrClosed) {
		t.Errorf("Record after Close = %v, want ErrClosed", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}
