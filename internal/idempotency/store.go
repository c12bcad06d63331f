package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrNotFound     = errors.New("idempotency key not found")
	ErrHashMismatch = errors.New("idempotency key body mismatch")
	ErrInProgress   = errors.New("idempotency key in progress")
)

const redisKeyPrefix = "idempotency"

type Record struct {
	Key         string
	RequestHash string
	Status      int
	Body        []byte
	ContentType string
	ServedBy    string
}

type envelope struct {
	Key         string `json:"key"`
	Hash        string `json:"hash"`
	InProgress  bool   `json:"in_progress"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
	ContentType string `json:"content_type"`
	Method      string `json:"method,omitempty"`
	Path        string `json:"path,omitempty"`
}

// backend stores serialized envelopes under a key with a TTL.
type backend interface {
	get(ctx context.Context, key string) ([]byte, error)
	setNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error)
	set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	del(ctx context.Context, key string) error
	name() string
}

// Store records the response of the first request made with an
// Idempotency-Key so retries replay it. Keys expire after ttl.
type Store struct {
	backend backend
	ttl     time.Duration
}

// NewStore uses Redis when client is non-nil and an in-process map otherwise.
func NewStore(client redis.Cmdable, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if client == nil {
		return &Store{backend: newMemoryBackend(time.Now), ttl: ttl}
	}
	return &Store{backend: redisBackend{client: client}, ttl: ttl}
}

func (s *Store) Lookup(ctx context.Context, key, requestHash string) (*Record, error) {
	raw, err := s.backend.get(ctx, redisKey(key))
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	if env.Hash != requestHash {
		return nil, ErrHashMismatch
	}
	if env.InProgress {
		return nil, ErrInProgress
	}
	return &Record{
		Key:         env.Key,
		RequestHash: env.Hash,
		Status:      env.Status,
		Body:        env.Body,
		ContentType: env.ContentType,
		ServedBy:    s.backend.name(),
	}, nil
}

// Reserve claims key for the caller. It returns false when another request
// already holds or finished the key.
func (s *Store) Reserve(ctx context.Context, key, requestHash, method, path string) (bool, error) {
	payload, err := json.Marshal(envelope{Key: key, Hash: requestHash, InProgress: true, Method: method, Path: path})
	if err != nil {
		return false, fmt.Errorf("encode idempotency reservation: %w", err)
	}
	ok, err := s.backend.setNX(ctx, redisKey(key), payload, s.ttl)
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return ok, nil
}

func (s *Store) Finalize(ctx context.Context, key, requestHash string, status int, body []byte, contentType string) (*Record, error) {
	env := envelope{Key: key, Hash: requestHash, Status: status, Body: body, ContentType: contentType}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode idempotency record: %w", err)
	}
	if err := s.backend.set(ctx, redisKey(key), payload, s.ttl); err != nil {
		return nil, fmt.Errorf("finalize idempotency key: %w", err)
	}
	return &Record{
		Key:         key,
		RequestHash: requestHash,
		Status:      status,
		Body:        body,
		ContentType: contentType,
		ServedBy:    s.backend.name(),
	}, nil
}

// Release drops an unfinished reservation so the client may retry.
func (s *Store) Release(ctx context.Context, key string) error {
	return s.backend.del(ctx, redisKey(key))
}

func (s *Store) WaitForCompletion(ctx context.Context, key, requestHash string) (*Record, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		rec, err := s.Lookup(ctx, key, requestHash)
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, ErrInProgress) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ticker.C:
				continue
			}
		}
		return nil, err
	}
}

func redisKey(key string) string {
	return fmt.Sprintf("%s:%s", redisKeyPrefix, key)
}

type redisBackend struct {
	client redis.Cmdable
}

func (b redisBackend) get(ctx context.Context, key string) ([]byte, error) {
	val, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	return val, nil
}

func (b redisBackend) setNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	return b.client.SetNX(ctx, key, val, ttl).Result()
}

func (b redisBackend) set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return b.client.Set(ctx, key, val, ttl).Err()
}

func (b redisBackend) del(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}

func (redisBackend) name() string { return "redis" }

type memoryEntry struct {
	val       []byte
	expiresAt time.Time
}

// memoryBackend serves single-instance deployments without Redis.
type memoryBackend struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func newMemoryBackend(now func() time.Time) *memoryBackend {
	return &memoryBackend{entries: make(map[string]memoryEntry), now: now}
}

func (b *memoryBackend) live(key string) (memoryEntry, bool) {
	e, ok := b.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !b.now().Before(e.expiresAt) {
		delete(b.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (b *memoryBackend) get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.live(key)
	if !ok {
		return nil, ErrNotFound
	}
	return e.val, nil
}

func (b *memoryBackend) setNX(_ context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.live(key); ok {
		return false, nil
	}
	b.entries[key] = memoryEntry{val: val, expiresAt: b.now().Add(ttl)}
	return true, nil
}

func (b *memoryBackend) set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key] = memoryEntry{val: val, expiresAt: b.now().Add(ttl)}
	return nil
}

func (b *memoryBackend) del(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
	return nil
}

func (*memoryBackend) name() string { return "memory" }
