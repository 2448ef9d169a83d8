// Package replicatedmap provides the cluster-wide key-value abstraction the
// tenant lifecycle core is built on: Map1, keyed by a single string, and
// Map2, keyed by a (tenant, subkey) pair. Both shapes come in a local,
// in-process implementation (backed by a mutex-guarded map, used for single-
// instance deployments and tests) and a Redis-backed implementation shared
// by every gateway instance in a cluster. Every write happens-before any
// subsequent read of the same key on any instance.
package replicatedmap

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by the NotFound-suffixed accessors when the key is
// absent.
var ErrNotFound = fmt.Errorf("replicatedmap: not found")

// ErrExists is returned by Add when the key is already present.
var ErrExists = fmt.Errorf("replicatedmap: already exists")

// Map1 is a cluster-wide mapping keyed by a single string.
type Map1[V any] interface {
	// Get returns the value and true, or the zero value and false if absent.
	Get(ctx context.Context, key string) (V, bool, error)
	// GetNotFound returns the value, or ErrNotFound if absent.
	GetNotFound(ctx context.Context, key string) (V, error)
	// Add inserts only if key is absent; returns ErrExists otherwise.
	Add(ctx context.Context, key string, value V) error
	// Put overwrites unconditionally, inserting if absent.
	Put(ctx context.Context, key string, value V) error
	// Remove deletes key if present; it is a no-op if absent.
	Remove(ctx context.Context, key string) error
	// RemoveNotFound deletes key, or returns ErrNotFound if it was absent.
	RemoveNotFound(ctx context.Context, key string) error
	// Keys returns a snapshot of every key currently present.
	Keys(ctx context.Context) ([]string, error)
}

// Map2 is a cluster-wide mapping keyed by a (tenant, subkey) pair, the shape
// JobStore uses.
type Map2[V any] interface {
	Get(ctx context.Context, tenant, subkey string) (V, bool, error)
	GetNotFound(ctx context.Context, tenant, subkey string) (V, error)
	Add(ctx context.Context, tenant, subkey string, value V) error
	Put(ctx context.Context, tenant, subkey string, value V) error
	Remove(ctx context.Context, tenant, subkey string) error
	RemoveNotFound(ctx context.Context, tenant, subkey string) error
	// KeysForTenant returns the subkeys present for one tenant.
	KeysForTenant(ctx context.Context, tenant string) ([]string, error)
	// ListByTenant returns the values present for one tenant, in the same
	// order as KeysForTenant. Callers that only need the subkeys should
	// prefer KeysForTenant to avoid decoding every value.
	ListByTenant(ctx context.Context, tenant string) ([]V, error)
	// Keys returns every (tenant, subkey) pair currently present.
	Keys(ctx context.Context) ([][2]string, error)
}

// listByTenant is the shared KeysForTenant-then-Get expansion both the local
// and Redis Map2 implementations use for ListByTenant.
func listByTenant[V any](ctx context.Context, m Map2[V], tenant string) ([]V, error) {
	subkeys, err := m.KeysForTenant(ctx, tenant)
	if err != nil {
		return nil, err
	}
	values := make([]V, 0, len(subkeys))
	for _, subkey := range subkeys {
		v, ok, err := m.Get(ctx, tenant, subkey)
		if err != nil {
			return nil, err
		}
		if !ok {
			// removed concurrently between KeysForTenant and Get.
			continue
		}
		values = append(values, v)
	}
	return values, nil
}

// --- local, in-process implementations -------------------------------------

type localMap1[V any] struct {
	mu   sync.RWMutex
	data map[string]V
}

// NewLocalMap1 returns a Map1 backed by a plain in-process map, guarded by a
// mutex. Suitable for single-instance deployments and tests; writes made
// through this implementation are visible only within this process.
func NewLocalMap1[V any]() Map1[V] {
	return &localMap1[V]{data: make(map[string]V)}
}

func (m *localMap1[V]) Get(_ context.Context, key string) (V, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *localMap1[V]) GetNotFound(ctx context.Context, key string) (V, error) {
	v, ok, err := m.Get(ctx, key)
	if err != nil {
		var zero V
		return zero, err
	}
	if !ok {
		var zero V
		return zero, ErrNotFound
	}
	return v, nil
}

func (m *localMap1[V]) Add(_ context.Context, key string, value V) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return ErrExists
	}
	m.data[key] = value
	return nil
}

func (m *localMap1[V]) Put(_ context.Context, key string, value V) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *localMap1[V]) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *localMap1[V]) RemoveNotFound(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		return ErrNotFound
	}
	delete(m.data, key)
	return nil
}

func (m *localMap1[V]) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func compositeKey(tenant, subkey string) string {
	return tenant + "\x00" + subkey
}

type localMap2[V any] struct {
	inner *localMap1[V]
}

// NewLocalMap2 returns a Map2 backed by a plain in-process map, composing
// the (tenant, subkey) pair into a single internal key.
func NewLocalMap2[V any]() Map2[V] {
	return &localMap2[V]{inner: &localMap1[V]{data: make(map[string]V)}}
}

func (m *localMap2[V]) Get(ctx context.Context, tenant, subkey string) (V, bool, error) {
	return m.inner.Get(ctx, compositeKey(tenant, subkey))
}

func (m *localMap2[V]) GetNotFound(ctx context.Context, tenant, subkey string) (V, error) {
	return m.inner.GetNotFound(ctx, compositeKey(tenant, subkey))
}

func (m *localMap2[V]) Add(ctx context.Context, tenant, subkey string, value V) error {
	return m.inner.Add(ctx, compositeKey(tenant, subkey), value)
}

func (m *localMap2[V]) Put(ctx context.Context, tenant, subkey string, value V) error {
	return m.inner.Put(ctx, compositeKey(tenant, subkey), value)
}

func (m *localMap2[V]) Remove(ctx context.Context, tenant, subkey string) error {
	return m.inner.Remove(ctx, compositeKey(tenant, subkey))
}

func (m *localMap2[V]) RemoveNotFound(ctx context.Context, tenant, subkey string) error {
	return m.inner.RemoveNotFound(ctx, compositeKey(tenant, subkey))
}

func (m *localMap2[V]) KeysForTenant(_ context.Context, tenant string) ([]string, error) {
	m.inner.mu.RLock()
	defer m.inner.mu.RUnlock()
	prefix := tenant + "\x00"
	var subkeys []string
	for k := range m.inner.data {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			subkeys = append(subkeys, k[len(prefix):])
		}
	}
	sort.Strings(subkeys)
	return subkeys, nil
}

func (m *localMap2[V]) ListByTenant(ctx context.Context, tenant string) ([]V, error) {
	return listByTenant[V](ctx, m, tenant)
}

func (m *localMap2[V]) Keys(_ context.Context) ([][2]string, error) {
	m.inner.mu.RLock()
	defer m.inner.mu.RUnlock()
	pairs := make([][2]string, 0, len(m.inner.data))
	for k := range m.inner.data {
		for i := 0; i < len(k); i++ {
			if k[i] == 0 {
				pairs = append(pairs, [2]string{k[:i], k[i+1:]})
				break
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})
	return pairs, nil
}

// --- Redis-backed implementations ------------------------------------------

// redisMap1 stores every entry as a single Redis key under a caller-supplied
// namespace prefix, JSON-encoded. It uses SETNX for Add so two gateway
// instances racing to insert the same key never both succeed.
type redisMap1[V any] struct {
	client    *redis.Client
	namespace string
}

// NewRedisMap1 returns a Map1 backed by Redis, namespacing every key under
// namespace so multiple maps can share one Redis database.
func NewRedisMap1[V any](client *redis.Client, namespace string) Map1[V] {
	return &redisMap1[V]{client: client, namespace: namespace}
}

func (m *redisMap1[V]) redisKey(key string) string {
	return m.namespace + ":" + key
}

func (m *redisMap1[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	raw, err := m.client.Get(ctx, m.redisKey(key)).Bytes()
	if err == redis.Nil {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false, err
	}
	return v, true, nil
}

func (m *redisMap1[V]) GetNotFound(ctx context.Context, key string) (V, error) {
	v, ok, err := m.Get(ctx, key)
	if err != nil {
		var zero V
		return zero, err
	}
	if !ok {
		var zero V
		return zero, ErrNotFound
	}
	return v, nil
}

func (m *redisMap1[V]) Add(ctx context.Context, key string, value V) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	ok, err := m.client.SetNX(ctx, m.redisKey(key), raw, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrExists
	}
	return nil
}

func (m *redisMap1[V]) Put(ctx context.Context, key string, value V) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return m.client.Set(ctx, m.redisKey(key), raw, 0).Err()
}

func (m *redisMap1[V]) Remove(ctx context.Context, key string) error {
	return m.client.Del(ctx, m.redisKey(key)).Err()
}

func (m *redisMap1[V]) RemoveNotFound(ctx context.Context, key string) error {
	n, err := m.client.Del(ctx, m.redisKey(key)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *redisMap1[V]) Keys(ctx context.Context) ([]string, error) {
	prefix := m.namespace + ":"
	var keys []string
	iter := m.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// redisMap2 layers the (tenant, subkey) pair on top of redisMap1 the same
// way localMap2 does, joining with a separator that cannot appear in a
// tenant id or module id (both are validated to be NUL-free upstream).
type redisMap2[V any] struct {
	inner *redisMap1[V]
}

// NewRedisMap2 returns a Map2 backed by Redis.
func NewRedisMap2[V any](client *redis.Client, namespace string) Map2[V] {
	return &redisMap2[V]{inner: &redisMap1[V]{client: client, namespace: namespace}}
}

func (m *redisMap2[V]) Get(ctx context.Context, tenant, subkey string) (V, bool, error) {
	return m.inner.Get(ctx, compositeKey(tenant, subkey))
}

func (m *redisMap2[V]) GetNotFound(ctx context.Context, tenant, subkey string) (V, error) {
	return m.inner.GetNotFound(ctx, compositeKey(tenant, subkey))
}

func (m *redisMap2[V]) Add(ctx context.Context, tenant, subkey string, value V) error {
	return m.inner.Add(ctx, compositeKey(tenant, subkey), value)
}

func (m *redisMap2[V]) Put(ctx context.Context, tenant, subkey string, value V) error {
	return m.inner.Put(ctx, compositeKey(tenant, subkey), value)
}

func (m *redisMap2[V]) Remove(ctx context.Context, tenant, subkey string) error {
	return m.inner.Remove(ctx, compositeKey(tenant, subkey))
}

func (m *redisMap2[V]) RemoveNotFound(ctx context.Context, tenant, subkey string) error {
	return m.inner.RemoveNotFound(ctx, compositeKey(tenant, subkey))
}

func (m *redisMap2[V]) KeysForTenant(ctx context.Context, tenant string) ([]string, error) {
	all, err := m.Keys(ctx)
	if err != nil {
		return nil, err
	}
	var subkeys []string
	for _, pair := range all {
		if pair[0] == tenant {
			subkeys = append(subkeys, pair[1])
		}
	}
	return subkeys, nil
}

func (m *redisMap2[V]) ListByTenant(ctx context.Context, tenant string) ([]V, error) {
	return listByTenant[V](ctx, m, tenant)
}

func (m *redisMap2[V]) Keys(ctx context.Context) ([][2]string, error) {
	flat, err := m.inner.Keys(ctx)
	if err != nil {
		return nil, err
	}
	pairs := make([][2]string, 0, len(flat))
	for _, k := range flat {
		for i := 0; i < len(k); i++ {
			if k[i] == 0 {
				pairs = append(pairs, [2]string{k[:i], k[i+1:]})
				break
			}
		}
	}
	return pairs, nil
}
