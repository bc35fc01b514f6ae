// File: internal/ledger/store.go
// Description: Durable stores backing the resource ledger. The file store is
// the default; a postgres store is available for shared deployments.

package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/enroll-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store persists usage records keyed by resource number for one platform.
// Implementations must make Save durable before returning: the ledger's
// allocation atomicity depends on the record being on disk (or committed)
// when Allocate hands out a resource.
type Store interface {
	// Load returns all usage records for the store's platform.
	Load(ctx context.Context) (map[string]schemas.UsageRecord, error)
	// Save upserts a single record.
	Save(ctx context.Context, rec schemas.UsageRecord) error
	// Close releases underlying handles. Safe to call more than once.
	Close()
}

// FileStore keeps the ledger in a JSON file of the shape
// {platform: {number: record}}. A sibling lock file serializes
// read-modify-write cycles across processes; writes go through a temp file
// and rename so a crash never leaves a torn ledger.
type FileStore struct {
	path     string
	platform schemas.Platform
}

// NewFileStore creates a file store rooted at path for one platform.
func NewFileStore(path string, platform schemas.Platform) *FileStore {
	return &FileStore{path: path, platform: platform}
}

const (
	lockRetryInterval = 25 * time.Millisecond
	lockAcquireLimit  = 5 * time.Second
)

// lock acquires the cross-process lock file, polling until ctx or the
// acquire limit expires. The returned func releases the lock.
func (s *FileStore) lock(ctx context.Context) (func(), error) {
	lockPath := s.path + ".lock"
	deadline := time.Now().Add(lockAcquireLimit)

	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			f.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create ledger lock file: %w", err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out acquiring ledger lock %s", lockPath)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

// readAll reads the full on-disk map covering every platform.
func (s *FileStore) readAll() (map[schemas.Platform]map[string]schemas.UsageRecord, error) {
	all := make(map[schemas.Platform]map[string]schemas.UsageRecord)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return all, nil
		}
		return nil, fmt.Errorf("failed to read ledger file: %w", err)
	}
	if len(data) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("ledger file %s is corrupted: %w", s.path, err)
	}
	return all, nil
}

// Load implements Store.
func (s *FileStore) Load(ctx context.Context) (map[string]schemas.UsageRecord, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	all, err := s.readAll()
	if err != nil {
		return nil, err
	}
	recs := all[s.platform]
	if recs == nil {
		recs = make(map[string]schemas.UsageRecord)
	}
	return recs, nil
}

// Save implements Store. The read-modify-write happens under the lock file
// so concurrent processes cannot interleave, and the rename makes the write
// atomic with respect to crashes.
func (s *FileStore) Save(ctx context.Context, rec schemas.UsageRecord) error {
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	all, err := s.readAll()
	if err != nil {
		return err
	}
	if all[s.platform] == nil {
		all[s.platform] = make(map[string]schemas.UsageRecord)
	}
	all[s.platform][rec.Number] = rec

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write ledger temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace ledger file: %w", err)
	}
	return nil
}

// Close implements Store. The file store holds no persistent handles.
func (s *FileStore) Close() {}
