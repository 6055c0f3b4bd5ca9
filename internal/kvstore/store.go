// Package kvstore provides the key/value persistence used for hub options,
// per-plugin flags and the cached manifest.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a key is missing or expired
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a key/value store with optional per-key expiry. A zero ttl means
// the value never expires.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every key starting with prefix and returns how many
	// were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// GetJSON decodes the value stored under key into v
func GetJSON(ctx context.Context, s Store, key string, v interface{}) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes v and stores it under key
func SetJSON(ctx context.Context, s Store, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.Set(ctx, key, data, ttl)
}

// GetBool returns false for a missing key
func GetBool(ctx context.Context, s Store, key string) (bool, error) {
	var b bool
	err := GetJSON(ctx, s, key, &b)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return b, err
}

// SetBool stores a boolean without expiry
func SetBool(ctx context.Context, s Store, key string, value bool) error {
	return SetJSON(ctx, s, key, value, 0)
}
