package pending

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type fakeNow struct {
	t time.Time
}

func (f *fakeNow) Now() time.Time { return f.t }

func newFileStore(t *testing.T, path string, clock *fakeNow) (*FileStore, *test.Hook) {
	t.Helper()

	logger, hook := test.NewNullLogger()
	store, err := OpenFile(path, logrus.NewEntry(logger), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store, hook
}

func TestFileStoreSetGetClear(t *testing.T) {
	ctx := context.Background()
	clock := &fakeNow{t: time.Unix(1_700_000_000, 0)}
	path := filepath.Join(t.TempDir(), "pending.json")
	store, _ := newFileStore(t, path, clock)

	store.Set(ctx, 42, json.RawMessage(`{"player_id":"123"}`), clock.t.Add(5*time.Minute))

	data, ok := store.Get(ctx, 42)
	if !ok || string(data) != `{"player_id":"123"}` {
		t.Fatalf("unexpected get result %s %v", data, ok)
	}

	store.Set(ctx, 42, json.RawMessage(`{"player_id":"456"}`), clock.t.Add(5*time.Minute))
	data, _ = store.Get(ctx, 42)
	if string(data) != `{"player_id":"456"}` {
		t.Fatalf("expected overwrite, got %s", data)
	}

	store.Clear(ctx, 42)
	if _, ok := store.Get(ctx, 42); ok {
		t.Fatalf("expected record to be cleared")
	}
	store.Clear(ctx, 42)
}

func TestFileStoreWritesDocumentLayout(t *testing.T) {
	ctx := context.Background()
	clock := &fakeNow{t: time.Unix(1_700_000_000, 0)}
	path := filepath.Join(t.TempDir(), "pending.json")
	store, _ := newFileStore(t, path, clock)

	store.Set(ctx, 7, json.RawMessage(`{"amount":"500.37"}`), clock.t.Add(300*time.Second))

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read document: %v", err)
	}

	var doc map[string]struct {
		Data      map[string]string `json:"data"`
		ExpiresAt float64           `json:"expires_at"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode document: %v", err)
	}
	rec, ok := doc["7"]
	if !ok {
		t.Fatalf("expected record keyed by user id string, got %s", raw)
	}
	if rec.Data["amount"] != "500.37" || rec.ExpiresAt != 1_700_000_300 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temporary file should be renamed away, stat err=%v", err)
	}
}

func TestFileStoreLazyExpiry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeNow{t: time.Unix(1_700_000_000, 0)}
	store, _ := newFileStore(t, filepath.Join(t.TempDir(), "pending.json"), clock)

	store.Set(ctx, 1, json.RawMessage(`{}`), clock.t.Add(2*time.Second))
	clock.t = clock.t.Add(2 * time.Second)

	if _, ok := store.Get(ctx, 1); ok {
		t.Fatalf("record at its deadline must be treated as absent")
	}
	if store.Len() != 0 {
		t.Fatalf("expected expired record to be purged, len=%d", store.Len())
	}
}

func TestFileStoreWritePurgesOtherExpiredRecords(t *testing.T) {
	ctx := context.Background()
	clock := &fakeNow{t: time.Unix(1_700_000_000, 0)}
	path := filepath.Join(t.TempDir(), "pending.json")
	store, _ := newFileStore(t, path, clock)

	store.Set(ctx, 1, json.RawMessage(`{"n":1}`), clock.t.Add(2*time.Second))
	store.Set(ctx, 3, json.RawMessage(`{"n":3}`), clock.t.Add(3*time.Second))
	clock.t = clock.t.Add(5 * time.Second)

	store.Set(ctx, 2, json.RawMessage(`{"n":2}`), clock.t.Add(time.Minute))
	if store.Len() != 1 {
		t.Fatalf("expected expired records dropped on write, len=%d", store.Len())
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pending state: %v", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode pending state: %v", err)
	}
	if _, ok := doc["1"]; ok || len(doc) != 1 {
		t.Fatalf("expected only user 2 persisted, got %s", raw)
	}
}

func TestFileStoreSurvivesRestartAndPurgesOnOpen(t *testing.T) {
	ctx := context.Background()
	clock := &fakeNow{t: time.Unix(1_700_000_000, 0)}
	path := filepath.Join(t.TempDir(), "pending.json")
	store, _ := newFileStore(t, path, clock)

	store.Set(ctx, 1, json.RawMessage(`{"n":1}`), clock.t.Add(10*time.Second))
	store.Set(ctx, 2, json.RawMessage(`{"n":2}`), clock.t.Add(10*time.Minute))

	clock.t = clock.t.Add(time.Minute)
	reopened, hook := newFileStore(t, path, clock)

	if reopened.Len() != 1 {
		t.Fatalf("expected expired record purged on open, len=%d", reopened.Len())
	}
	data, ok := reopened.Get(ctx, 2)
	if !ok || string(data) != `{"n":2}` {
		t.Fatalf("expected live record after restart, got %s %v", data, ok)
	}

	last := hook.LastEntry()
	if last == nil || last.Data["event"] != "pending_loaded" || last.Data["purged"] != 1 {
		t.Fatalf("expected pending_loaded log with purge count, got %+v", last)
	}

	raw, _ := os.ReadFile(path)
	var doc map[string]json.RawMessage
	_ = json.Unmarshal(raw, &doc)
	if _, ok := doc["1"]; ok {
		t.Fatalf("purge on open should rewrite the document, got %s", raw)
	}
}

func TestOpenFileRejectsCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	if _, err := OpenFile(path, nil); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, err := OpenFile("", nil); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestFileStoreLogsAndSwallowsWriteErrors(t *testing.T) {
	ctx := context.Background()
	clock := &fakeNow{t: time.Unix(1_700_000_000, 0)}
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("seed blocker: %v", err)
	}

	store, hook := newFileStore(t, filepath.Join(dir, "pending.json"), clock)
	// The parent of the document is now a regular file, so every write fails.
	store.path = filepath.Join(blocker, "pending.json")
	store.Set(ctx, 5, json.RawMessage(`{"ok":true}`), clock.t.Add(time.Minute))

	last := hook.LastEntry()
	if last == nil || last.Data["event"] != "pending_persist_error" || last.Level != logrus.WarnLevel {
		t.Fatalf("expected persist error warning, got %+v", last)
	}

	data, ok := store.Get(ctx, 5)
	if !ok || string(data) != `{"ok":true}` {
		t.Fatalf("in-memory record should survive a failed write, got %s %v", data, ok)
	}
}
