package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// SelectionStore persists the account a user picked by hand. It is a plain
// preference: callers validate it against live memberships before use.
type SelectionStore interface {
	// GetSelection returns the selected account id, or "" when none
	GetSelection(ctx context.Context, userID string) (string, error)
	SetSelection(ctx context.Context, userID, accountID string) error
	ClearSelection(ctx context.Context, userID string) error
}

var (
	_ SelectionStore = (*MemorySelectionStore)(nil)
	_ SelectionStore = (*FileSelectionStore)(nil)
	_ SelectionStore = (*RedisSelectionStore)(nil)
)

// MemorySelectionStore keeps selections in process memory
type MemorySelectionStore struct {
	mu         sync.RWMutex
	selections map[string]string
}

// NewMemorySelectionStore creates an empty in-memory store
func NewMemorySelectionStore() *MemorySelectionStore {
	return &MemorySelectionStore{selections: make(map[string]string)}
}

func (s *MemorySelectionStore) GetSelection(ctx context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selections[userID], nil
}

func (s *MemorySelectionStore) SetSelection(ctx context.Context, userID, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if accountID == "" {
		delete(s.selections, userID)
		return nil
	}
	s.selections[userID] = accountID
	return nil
}

func (s *MemorySelectionStore) ClearSelection(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.selections, userID)
	return nil
}

// FileSelectionStore keeps selections in a JSON file readable only by the
// owner. Suited to the CLI and single-node deployments.
type FileSelectionStore struct {
	path string
	mu   sync.Mutex
}

// NewFileSelectionStore creates a store backed by path, creating its
// directory if needed
func NewFileSelectionStore(path string) (*FileSelectionStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create selection directory: %w", err)
	}
	return &FileSelectionStore{path: path}, nil
}

// Path returns the backing file path
func (s *FileSelectionStore) Path() string {
	return s.path
}

func (s *FileSelectionStore) GetSelection(ctx context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	selections, err := s.load()
	if err != nil {
		return "", err
	}
	return selections[userID], nil
}

func (s *FileSelectionStore) SetSelection(ctx context.Context, userID, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	selections, err := s.load()
	if err != nil {
		return err
	}
	if accountID == "" {
		delete(selections, userID)
	} else {
		selections[userID] = accountID
	}
	return s.save(selections)
}

func (s *FileSelectionStore) ClearSelection(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	selections, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := selections[userID]; !ok {
		return nil
	}
	delete(selections, userID)
	return s.save(selections)
}

func (s *FileSelectionStore) load() (map[string]string, error) {
	selections := make(map[string]string)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return selections, nil
		}
		return nil, fmt.Errorf("failed to read selection file: %w", err)
	}
	if len(data) == 0 {
		return selections, nil
	}
	if err := json.Unmarshal(data, &selections); err != nil {
		return nil, fmt.Errorf("failed to unmarshal selections: %w", err)
	}
	return selections, nil
}

// save writes through a temp file so readers never see a partial file
func (s *FileSelectionStore) save(selections map[string]string) error {
	data, err := json.MarshalIndent(selections, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal selections: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write selection file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace selection file: %w", err)
	}
	return nil
}

// DefaultSelectionKeyPrefix namespaces selection keys in Redis
const DefaultSelectionKeyPrefix = "tenancy:selection:"

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
	KeyPrefix  string
}

// RedisSelectionStore shares selections across server replicas
type RedisSelectionStore struct {
	client *redis.Client
	prefix string
}

// NewRedisSelectionStore connects to Redis and verifies the connection
func NewRedisSelectionStore(config RedisConfig) (*RedisSelectionStore, error) {
	client, err := NewRedisClient(config)
	if err != nil {
		return nil, err
	}
	return NewRedisSelectionStoreFromClient(client, config.KeyPrefix), nil
}

// NewRedisClient opens a Redis client from config and pings it
func NewRedisClient(config RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if config.Password != "" {
		opts.Password = config.Password
	}
	if config.DB > 0 {
		opts.DB = config.DB
	}
	if config.MaxRetries > 0 {
		opts.MaxRetries = config.MaxRetries
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisSelectionStoreFromClient wraps an existing client
func NewRedisSelectionStoreFromClient(client *redis.Client, prefix string) *RedisSelectionStore {
	if prefix == "" {
		prefix = DefaultSelectionKeyPrefix
	}
	return &RedisSelectionStore{client: client, prefix: prefix}
}

func (s *RedisSelectionStore) key(userID string) string {
	return s.prefix + userID
}

func (s *RedisSelectionStore) GetSelection(ctx context.Context, userID string) (string, error) {
	accountID, err := s.client.Get(ctx, s.key(userID)).Result()
	if err == redis.Nil {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("redis get failed: %w", err)
	}
	return accountID, nil
}

func (s *RedisSelectionStore) SetSelection(ctx context.Context, userID, accountID string) error {
	if accountID == "" {
		return s.ClearSelection(ctx, userID)
	}
	if err := s.client.Set(ctx, s.key(userID), accountID, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *RedisSelectionStore) ClearSelection(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// Ping checks Redis connectivity
func (s *RedisSelectionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *RedisSelectionStore) Close() error {
	return s.client.Close()
}
