package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	bolt "go.etcd.io/bbolt"

	"github.com/mcp-directory/mcp-directory/internal/catalog"
	"github.com/mcp-directory/mcp-directory/internal/config"
	"github.com/mcp-directory/mcp-directory/pkg/checksum"
)

// ErrCorruptSnapshot is returned when a persisted snapshot fails its checksum.
var ErrCorruptSnapshot = errors.New("catalog snapshot checksum mismatch")

// SnapshotStore persists the latest catalog record across restarts.
type SnapshotStore interface {
	// Load returns the persisted record, or nil when nothing is stored.
	Load(ctx context.Context) (*Record, error)
	Save(ctx context.Context, rec *Record) error
	Close() error
}

// DefaultRedisKey is the key the Redis store uses when none is configured.
const DefaultRedisKey = "mcp-directory:catalog:snapshot"

// envelope is the persisted form of a Record. ETag is recomputed on load.
type envelope struct {
	FetchedAt time.Time       `json:"fetchedAt"`
	SHA256    string          `json:"sha256"`
	Catalog   json.RawMessage `json:"catalog"`
}

func encodeSnapshot(rec *Record) ([]byte, error) {
	return json.Marshal(envelope{
		FetchedAt: rec.FetchedAt,
		SHA256:    checksum.Sum(rec.Body),
		Catalog:   rec.Body,
	})
}

func decodeSnapshot(data []byte) (*Record, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	ok, err := checksum.VerifySHA256(bytes.NewReader(env.Catalog), env.SHA256)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCorruptSnapshot
	}
	var cat catalog.Catalog
	if err := json.Unmarshal(env.Catalog, &cat); err != nil {
		return nil, fmt.Errorf("decode snapshot catalog: %w", err)
	}
	if cat.Categories == nil {
		cat.Categories = []catalog.Category{}
	}
	return NewRecord(&cat, env.FetchedAt)
}

// OpenSnapshotStore builds the store selected by cfg. It returns nil for the
// "none" backend. rdb is only used by the redis backend.
func OpenSnapshotStore(cfg config.SnapshotConfig, rdb redis.UniversalClient) (SnapshotStore, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "bolt":
		store, err := OpenBoltStore(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis snapshot backend requires a redis client")
		}
		return NewRedisStore(rdb, cfg.RedisKey), nil
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Backend)
	}
}

// ---------------------------------------------------------------------------
// bbolt
// ---------------------------------------------------------------------------

var (
	snapshotBucket = []byte("catalog")
	snapshotKey    = []byte("snapshot")
)

// BoltStore keeps the snapshot in a local bbolt file.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if needed) the bbolt file at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("snapshot path is required")
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, fmt.Errorf("ensure snapshot dir: %w", err)
	}
	db, err := bolt.Open(trimmed, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init snapshot db: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Load implements SnapshotStore.
func (s *BoltStore) Load(ctx context.Context) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	if err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(snapshotBucket).Get(snapshotKey); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	return decodeSnapshot(data)
}

// Save implements SnapshotStore.
func (s *BoltStore) Save(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeSnapshot(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotBucket).Put(snapshotKey, data)
	})
}

// Close implements SnapshotStore.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Redis
// ---------------------------------------------------------------------------

// RedisStore keeps the snapshot under a single Redis key, shared by every
// replica pointing at the same Redis.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStore creates a Redis-backed store. An empty key uses DefaultRedisKey.
func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// Load implements SnapshotStore.
func (s *RedisStore) Load(ctx context.Context) (*Record, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	return decodeSnapshot(data)
}

// Save implements SnapshotStore.
func (s *RedisStore) Save(ctx context.Context, rec *Record) error {
	data, err := encodeSnapshot(rec)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (s *RedisStore) Close() error {
	return nil
}
