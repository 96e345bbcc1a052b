// ABOUTME: Persistent Cache backed by an embedded LevelDB database
// ABOUTME: Encodes an absolute expiry in front of each value and drops stale entries on read

package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
)

const expiryHeaderLen = 8

// LevelDB is a Cache persisted to disk, shared across restarts of one process.
type LevelDB struct {
	db         *leveldb.DB
	defaultTTL time.Duration
	now        func() time.Time
}

// OpenLevelDB opens (or creates) a LevelDB cache at path.
func OpenLevelDB(path string, defaultTTL time.Duration) (*LevelDB, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("opening leveldb cache: %w", err)
	}
	return &LevelDB{db: db, defaultTTL: defaultTTL, now: time.Now}, nil
}

// Get returns the value stored under key if present and not expired.
func (l *LevelDB) Get(_ context.Context, key string) ([]byte, bool, error) {
	raw, err := l.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cache entry: %w", err)
	}
	if len(raw) < expiryHeaderLen {
		return nil, false, fmt.Errorf("corrupt cache entry %q", key)
	}

	expires := int64(binary.BigEndian.Uint64(raw[:expiryHeaderLen]))
	if expires != 0 && l.now().UnixNano() >= expires {
		if err := l.db.Delete([]byte(key), nil); err != nil {
			return nil, false, fmt.Errorf("deleting expired cache entry: %w", err)
		}
		return nil, false, nil
	}
	return raw[expiryHeaderLen:], true, nil
}

// Set stores value under key with the given ttl, or the default when ttl is zero.
func (l *LevelDB) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = l.defaultTTL
	}
	var expires int64
	if ttl > 0 {
		expires = l.now().Add(ttl).UnixNano()
	}

	buf := make([]byte, expiryHeaderLen+len(value))
	binary.BigEndian.PutUint64(buf[:expiryHeaderLen], uint64(expires))
	copy(buf[expiryHeaderLen:], value)

	if err := l.db.Put([]byte(key), buf, nil); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (l *LevelDB) Delete(_ context.Context, key string) error {
	if err := l.db.Delete([]byte(key), nil); err != nil {
		return fmt.Errorf("deleting cache entry: %w", err)
	}
	return nil
}

// Close releases the database.
func (l *LevelDB) Close() error {
	return l.db.Close()
}
