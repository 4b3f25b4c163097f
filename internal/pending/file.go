package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"luxon_pay_bot/internal/logging"
)

// FileStore keeps all records in a single JSON document that is rewritten
// atomically through a temporary file on every change.
type FileStore struct {
	mu      sync.Mutex
	path    string
	records map[string]record
	logger  *logrus.Entry
	now     func() time.Time
}

// FileOption customizes a FileStore.
type FileOption func(*FileStore)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) FileOption {
	return func(s *FileStore) {
		if now != nil {
			s.now = now
		}
	}
}

// OpenFile loads the document at path, purging expired records once. A
// missing file yields an empty store; an unreadable one is an error.
func OpenFile(path string, logger *logrus.Entry, opts ...FileOption) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("pending state path is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	s := &FileStore{
		path:    path,
		records: make(map[string]record),
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read pending state: %w", err)
	}

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s.records); err != nil {
			return nil, fmt.Errorf("decode pending state: %w", err)
		}
	}

	purged := s.purgeLocked()
	if purged > 0 {
		s.persistLocked()
	}

	s.logger.WithFields(logging.Fields{
		"event":   "pending_loaded",
		"records": len(s.records),
		"purged":  purged,
	}).Info("pending state loaded")

	return s, nil
}

// Set upserts the user's record and persists the document. Expired records of
// other users are dropped in the same write.
func (s *FileStore) Set(_ context.Context, userID int64, data json.RawMessage, expiresAt time.Time) {
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked()
	s.records[key(userID)] = newRecord(data, expiresAt)
	s.persistLocked()
}

// Get returns the user's payload when it has not expired. Expired records are
// removed as a side effect.
func (s *FileStore) Get(_ context.Context, userID int64) (json.RawMessage, bool) {
	if s == nil {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key(userID)]
	if !ok {
		return nil, false
	}
	if rec.expired(s.now()) {
		delete(s.records, key(userID))
		s.persistLocked()
		return nil, false
	}

	return append(json.RawMessage(nil), rec.Data...), true
}

// Clear drops the user's record if present.
func (s *FileStore) Clear(_ context.Context, userID int64) {
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[key(userID)]; !ok {
		return
	}
	delete(s.records, key(userID))
	s.purgeLocked()
	s.persistLocked()
}

// Len returns the number of stored records, expired ones included.
func (s *FileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.records)
}

func (s *FileStore) purgeLocked() int {
	now := s.now()
	purged := 0
	for k, rec := range s.records {
		if rec.expired(now) {
			delete(s.records, k)
			purged++
		}
	}
	return purged
}

func (s *FileStore) persistLocked() {
	if err := s.writeLocked(); err != nil {
		s.logger.WithFields(logging.Fields{
			"event": "pending_persist_error",
			"path":  s.path,
		}).WithError(err).Warn("failed to persist pending state")
	}
}

func (s *FileStore) writeLocked() error {
	raw, err := json.Marshal(s.records)
	if err != nil {
		return fmt.Errorf("encode pending state: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create pending state dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write pending state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace pending state: %w", err)
	}

	return nil
}

func key(userID int64) string {
	return strconv.FormatInt(userID, 10)
}
