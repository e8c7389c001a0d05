package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestEventsRoundTripOrdered(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.InsertEvent(ctx, "s1", "turn_start", []byte(`{"turn_index":1}`)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := st.InsertEvent(ctx, "s1", "turn_end", []byte(`{"turn_index":1}`)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := st.InsertEvent(ctx, "s2", "turn_start", []byte(`{}`)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rows, err := st.GetEvents(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].EventType != "turn_start" || rows[1].EventType != "turn_end" {
		t.Fatalf("unexpected order: %+v", rows)
	}
}

func TestListSessionsOrdersByRecency(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	_ = st.InsertEvent(ctx, "old", "agent_start", []byte(`{}`))
	_ = st.InsertEvent(ctx, "new", "agent_start", []byte(`{}`))

	ids, err := st.ListSessions(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 || ids[0] != "new" || ids[1] != "old" {
		t.Fatalf("got %v, want [new old]", ids)
	}
}

func TestKVSetGetDelete(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.KVSet(ctx, "k", "v", nil); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := st.KVGet(ctx, "k")
	if err != nil || !ok || v != "v" {
		t.Fatalf("get: v=%q ok=%v err=%v", v, ok, err)
	}

	if err := st.KVSet(ctx, "k", "v2", nil); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, _, _ = st.KVGet(ctx, "k")
	if v != "v2" {
		t.Fatalf("got %q, want v2", v)
	}

	if err := st.KVDelete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, ok, _ = st.KVGet(ctx, "k")
	if ok {
		t.Fatal("expected key to be gone after delete")
	}
}

func TestKVGetIgnoresExpired(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	if err := st.KVSet(ctx, "k", "v", &past); err != nil {
		t.Fatalf("set: %v", err)
	}
	_, ok, err := st.KVGet(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("expected expired key to be absent")
	}
}

func TestKVSetRejectsOversizedValue(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	big := make([]byte, MaxKVValueSize+1)
	err := st.KVSet(ctx, "k", string(big), nil)
	if err == nil {
		t.Fatal("expected error for oversized value")
	}
}

func TestSearchMemoriesRanksBySimilarity(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.InsertMemory(ctx, "s1", "close", []float32{1, 0, 0}, ""); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := st.InsertMemory(ctx, "s1", "orthogonal", []float32{0, 1, 0}, ""); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := st.InsertMemory(ctx, "s1", "opposite", []float32{-1, 0, 0}, ""); err != nil {
		t.Fatalf("insert: %v", err)
	}

	results, err := st.SearchMemories(ctx, "s1", []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Content != "close" {
		t.Fatalf("got top result %q, want %q", results[0].Content, "close")
	}
}

func TestSchemaVersionMismatchIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	st.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen with matching version should succeed: %v", err)
	}
	if _, err := reopened.db.Exec(`UPDATE schema_info SET value = '999' WHERE key = 'version'`); err != nil {
		t.Fatalf("overwrite schema version: %v", err)
	}
	reopened.Close()

	if mismatched, err := Open(path); err == nil {
		mismatched.Close()
		t.Fatal("expected open to fail on schema version mismatch")
	}
}
