package session

import (
	"errors"
	"testing"

	"github.com/HyphaGroup/herald/internal/agent"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestResumeRoundTrip(t *testing.T) {
	s := testStore(t)
	token := &agent.ResumeToken{Engine: "claude", Value: "sess-1"}

	if err := s.SaveResume("chat-1", "user-1", token); err != nil {
		t.Fatalf("SaveResume: %v", err)
	}
	got, err := s.Resume("chat-1", "user-1", "claude")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got.Value != "sess-1" || got.Engine != "claude" {
		t.Errorf("got %+v", got)
	}
}

func TestResumeUpsert(t *testing.T) {
	s := testStore(t)
	s.SaveResume("chat-1", "user-1", &agent.ResumeToken{Engine: "claude", Value: "old"})
	s.SaveResume("chat-1", "user-1", &agent.ResumeToken{Engine: "claude", Value: "new"})

	got, err := s.Resume("chat-1", "user-1", "claude")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got.Value != "new" {
		t.Errorf("value = %q, want latest token", got.Value)
	}
}

func TestResumeKeyedPerOwnerAndEngine(t *testing.T) {
	s := testStore(t)
	s.SaveResume("chat-1", "user-1", &agent.ResumeToken{Engine: "claude", Value: "a"})
	s.SaveResume("chat-1", "user-2", &agent.ResumeToken{Engine: "claude", Value: "b"})

	got, _ := s.Resume("chat-1", "user-1", "claude")
	if got.Value != "a" {
		t.Errorf("user-1 token = %q", got.Value)
	}
	if _, err := s.Resume("chat-1", "user-1", "other"); !errors.Is(err, ErrNoSession) {
		t.Errorf("wrong engine should miss, got %v", err)
	}
}

func TestClearResume(t *testing.T) {
	s := testStore(t)
	s.SaveResume("chat-1", "user-1", &agent.ResumeToken{Engine: "claude", Value: "a"})

	if err := s.ClearResume("chat-1", "user-1", "claude"); err != nil {
		t.Fatalf("ClearResume: %v", err)
	}
	if _, err := s.Resume("chat-1", "user-1", "claude"); !errors.Is(err, ErrNoSession) {
		t.Errorf("err = %v, want ErrNoSession", err)
	}
	// Clearing again is fine
	if err := s.ClearResume("chat-1", "user-1", "claude"); err != nil {
		t.Errorf("second ClearResume: %v", err)
	}
}

func TestSyncStartupCwdClearsOnChange(t *testing.T) {
	s := testStore(t)
	s.SaveResume("chat-1", "user-1", &agent.ResumeToken{Engine: "claude", Value: "a"})

	cleared, err := s.SyncStartupCwd("/repo/one")
	if err != nil {
		t.Fatalf("SyncStartupCwd: %v", err)
	}
	if cleared {
		t.Error("first sync must not clear")
	}

	// Same cwd: sessions survive
	cleared, _ = s.SyncStartupCwd("/repo/one")
	if cleared {
		t.Error("unchanged cwd must not clear")
	}
	if _, err := s.Resume("chat-1", "user-1", "claude"); err != nil {
		t.Errorf("session lost on unchanged cwd: %v", err)
	}

	// Different cwd: everything goes
	cleared, _ = s.SyncStartupCwd("/repo/two")
	if !cleared {
		t.Error("cwd change must clear sessions")
	}
	if _, err := s.Resume("chat-1", "user-1", "claude"); !errors.Is(err, ErrNoSession) {
		t.Errorf("err = %v, want ErrNoSession after cwd change", err)
	}
}

func TestPrefs(t *testing.T) {
	s := testStore(t)

	prefs, err := s.GetPrefs("chat-1")
	if err != nil {
		t.Fatalf("GetPrefs: %v", err)
	}
	if prefs.Engine != "" || prefs.PermissionMode != "" {
		t.Errorf("fresh prefs = %+v", prefs)
	}

	if err := s.SetPrefs("chat-1", Prefs{Engine: "claude", PermissionMode: "plan"}); err != nil {
		t.Fatalf("SetPrefs: %v", err)
	}
	prefs, _ = s.GetPrefs("chat-1")
	if prefs.Engine != "claude" || prefs.PermissionMode != "plan" {
		t.Errorf("prefs = %+v", prefs)
	}

	// Upsert replaces
	s.SetPrefs("chat-1", Prefs{Engine: "claude", PermissionMode: "auto"})
	prefs, _ = s.GetPrefs("chat-1")
	if prefs.PermissionMode != "auto" {
		t.Errorf("mode = %q", prefs.PermissionMode)
	}
}
