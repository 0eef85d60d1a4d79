package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type memoryValue struct {
	typ  string
	str  string
	list []string
	hash map[string]string
}

// MemoryKV is an in-memory implementation for development and tests
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string]*memoryValue
}

// NewMemoryKV creates an empty in-memory store
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]*memoryValue)}
}

// lookup returns the value at key if it has type typ. Callers hold the lock.
func (m *MemoryKV) lookup(key, typ string) (*memoryValue, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	if v.typ != typ {
		return nil, fmt.Errorf("%w: %s holds a %s", ErrWrongType, key, v.typ)
	}
	return v, nil
}

func (m *MemoryKV) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, err := m.lookup(key, TypeString)
	if err != nil || v == nil {
		return "", false, err
	}
	return v.str, true, nil
}

func (m *MemoryKV) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = &memoryValue{typ: TypeString, str: value}
	return nil
}

func (m *MemoryKV) Del(ctx context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, key := range keys {
		if _, ok := m.data[key]; ok {
			delete(m.data, key)
			n++
		}
	}
	return n, nil
}

func (m *MemoryKV) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.data[key]
	return ok, nil
}

func (m *MemoryKV) Type(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if v, ok := m.data[key]; ok {
		return v.typ, nil
	}
	return TypeNone, nil
}

// LRange follows Redis index rules, negative indexes count from the tail
func (m *MemoryKV) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, err := m.lookup(key, TypeList)
	if err != nil || v == nil {
		return []string{}, err
	}

	n := int64(len(v.list))
	if start < 0 {
		start = max(n+start, 0)
	}
	if stop < 0 {
		stop = n + stop
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return []string{}, nil
	}
	out := make([]string, stop-start+1)
	copy(out, v.list[start:stop+1])
	return out, nil
}

func (m *MemoryKV) list(key string) (*memoryValue, error) {
	v, err := m.lookup(key, TypeList)
	if err != nil {
		return nil, err
	}
	if v == nil {
		v = &memoryValue{typ: TypeList}
		m.data[key] = v
	}
	return v, nil
}

func (m *MemoryKV) LPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	v, err := m.list(key)
	if err != nil {
		return err
	}
	// LPUSH a b c leaves c at the head
	for _, value := range values {
		v.list = append([]string{value}, v.list...)
	}
	return nil
}

func (m *MemoryKV) RPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	v, err := m.list(key)
	if err != nil {
		return err
	}
	v.list = append(v.list, values...)
	return nil
}

func (m *MemoryKV) PushIfAbsent(ctx context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, err := m.list(key)
	if err != nil {
		return false, err
	}
	for _, item := range v.list {
		if item == value {
			return false, nil
		}
	}
	v.list = append([]string{value}, v.list...)
	return true, nil
}

func (m *MemoryKV) HGet(ctx context.Context, key, field string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, err := m.lookup(key, TypeHash)
	if err != nil || v == nil {
		return "", false, err
	}
	val, ok := v.hash[field]
	return val, ok, nil
}

func (m *MemoryKV) HSet(ctx context.Context, key, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, err := m.lookup(key, TypeHash)
	if err != nil {
		return err
	}
	if v == nil {
		v = &memoryValue{typ: TypeHash, hash: map[string]string{}}
		m.data[key] = v
	}
	v.hash[field] = value
	return nil
}

func (m *MemoryKV) HDel(ctx context.Context, key string, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, err := m.lookup(key, TypeHash)
	if err != nil || v == nil {
		return err
	}
	for _, f := range fields {
		delete(v.hash, f)
	}
	if len(v.hash) == 0 {
		delete(m.data, key)
	}
	return nil
}

func (m *MemoryKV) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := map[string]string{}
	v, err := m.lookup(key, TypeHash)
	if err != nil || v == nil {
		return out, err
	}
	for f, val := range v.hash {
		out[f] = val
	}
	return out, nil
}

func (m *MemoryKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryKV) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryKV) Close() error {
	return nil
}
