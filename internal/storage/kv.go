package storage

import (
	"context"
	"errors"
)

// Native value types reported by KV.Type
const (
	TypeNone   = "none"
	TypeString = "string"
	TypeList   = "list"
	TypeHash   = "hash"
)

// ErrWrongType is returned when a key holds a value of another type
var ErrWrongType = errors.New("operation against a key holding the wrong kind of value")

// KV is the key-value boundary HomeLink needs: strings, lists, hashes and a prefix scan.
// Get and HGet report absence with ok=false, never with an error.
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Del(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	Type(ctx context.Context, key string) (string, error)

	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LPush(ctx context.Context, key string, values ...string) error
	RPush(ctx context.Context, key string, values ...string) error
	// PushIfAbsent prepends value to the list unless it is already present, atomically.
	PushIfAbsent(ctx context.Context, key, value string) (bool, error)

	HGet(ctx context.Context, key, field string) (value string, ok bool, err error)
	HSet(ctx context.Context, key, field, value string) error
	HDel(ctx context.Context, key string, fields ...string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// Keys lists every key starting with prefix
	Keys(ctx context.Context, prefix string) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}
