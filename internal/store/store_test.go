package store

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
)

// exerciseKV runs the shared contract against any KV implementation.
func exerciseKV(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	if _, err := kv.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unset key, got %v", err)
	}

	if err := kv.Set(ctx, "balance", []byte("1000")); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := kv.Get(ctx, "balance")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, []byte("1000")) {
		t.Errorf("expected 1000, got %q", got)
	}

	if err := kv.Set(ctx, "balance", []byte("990.50")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _ = kv.Get(ctx, "balance")
	if !bytes.Equal(got, []byte("990.50")) {
		t.Errorf("expected overwrite to win, got %q", got)
	}
}

func TestMemoryStore_Contract(t *testing.T) {
	exerciseKV(t, NewMemoryStore())
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	value := []byte("abc")
	ms.Set(ctx, "k", value)
	value[0] = 'z'

	got, _ := ms.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("stored value should not alias caller slice, got %q", got)
	}
	got[1] = 'z'
	again, _ := ms.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("returned value should not alias stored slice, got %q", again)
	}
	if ms.Keys() != 1 {
		t.Errorf("expected 1 key, got %d", ms.Keys())
	}
}

func TestSQLiteStore_Contract(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	exerciseKV(t, s)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Set(ctx, "history", []byte(`{"records":[]}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	s.Close()

	reopened, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Get(ctx, "history")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if string(got) != `{"records":[]}` {
		t.Errorf("unexpected value after reopen: %q", got)
	}
}

func TestOpenSQLite_RequiresPath(t *testing.T) {
	if _, err := OpenSQLite("  "); err == nil {
		t.Error("expected error for blank path")
	}
}
