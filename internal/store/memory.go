package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/didac-crst/mockexchange-api/pkg/errors"
)

// MemoryStore is an in-process Store used by tests and local runs without
// a Redis server. Safe for concurrent use.
type MemoryStore struct {
	mu     sync.Mutex
	hashes map[string]map[string]string
	strs   map[string]string
	expiry map[string]time.Time
	sets   map[string]map[string]struct{}
	locks  map[string]*sync.Mutex

	// NowFunc is the clock for key expiry; tests may override it.
	NowFunc func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hashes:  make(map[string]map[string]string),
		strs:    make(map[string]string),
		expiry:  make(map[string]time.Time),
		sets:    make(map[string]map[string]struct{}),
		locks:   make(map[string]*sync.Mutex),
		NowFunc: time.Now,
	}
}

// expireLocked drops a plain key whose TTL has passed. Callers hold mu.
func (s *MemoryStore) expireLocked(key string) {
	if exp, ok := s.expiry[key]; ok && s.NowFunc().After(exp) {
		delete(s.strs, key)
		delete(s.expiry, key)
	}
}

func (s *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.hashes[key]))
	for k, v := range s.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) HSet(_ context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.hashes[key]
	if h == nil {
		h = make(map[string]string, len(fields))
		s.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (s *MemoryStore) HIncrByFloat(_ context.Context, key, field string, delta float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.hashes[key]
	if h == nil {
		h = make(map[string]string, 1)
		s.hashes[key] = h
	}
	cur, err := ParseFloat(h[field])
	if err != nil {
		return 0, err
	}
	cur += delta
	h[field] = FormatFloat(cur)
	return cur, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	v, ok := s.strs[key]
	if !ok {
		return "", apperrors.NotFoundf("key %s", key)
	}
	return v, nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	if _, ok := s.strs[key]; ok {
		return true, nil
	}
	if _, ok := s.hashes[key]; ok {
		return true, nil
	}
	if _, ok := s.sets[key]; ok {
		return true, nil
	}
	return false, nil
}

func (s *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	if _, ok := s.strs[key]; ok {
		return false, nil
	}
	s.strs[key] = value
	if ttl > 0 {
		s.expiry[key] = s.NowFunc().Add(ttl)
	}
	return true, nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	if _, ok := s.strs[key]; !ok {
		return false, nil
	}
	s.expiry[key] = s.NowFunc().Add(ttl)
	return true, nil
}

func (s *MemoryStore) KeysWithPrefix(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.hashes {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	for k := range s.strs {
		s.expireLocked(k)
		if _, ok := s.strs[k]; ok && strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	for k := range s.sets {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.hashes, k)
		delete(s.strs, k)
		delete(s.expiry, k)
		delete(s.sets, k)
	}
	return nil
}

func (s *MemoryStore) SAdd(_ context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.sets[key]
	if set == nil {
		set = make(map[string]struct{}, len(members))
		s.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) SRem(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.sets[key]
	for _, m := range members {
		delete(set, m)
	}
	if len(set) == 0 {
		delete(s.sets, key)
	}
	return nil
}

func (s *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) SInter(_ context.Context, keys ...string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for m := range s.sets[keys[0]] {
		in := true
		for _, k := range keys[1:] {
			if _, ok := s.sets[k][m]; !ok {
				in = false
				break
			}
		}
		if in {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}

// WithLock runs fn under a per-key mutex. The ttl is ignored; an in-process
// caller cannot die while holding the lock the way a remote one can.
func (s *MemoryStore) WithLock(ctx context.Context, key string, _ time.Duration, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	lock := s.locks[lockPrefix+key]
	if lock == nil {
		lock = &sync.Mutex{}
		s.locks[lockPrefix+key] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn()
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// Dump renders the full keyspace; handy in failing tests.
func (s *MemoryStore) Dump() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	for k, h := range s.hashes {
		fmt.Fprintf(&b, "%s: %v\n", k, h)
	}
	for k, set := range s.sets {
		members := make([]string, 0, len(set))
		for m := range set {
			members = append(members, m)
		}
		sort.Strings(members)
		fmt.Fprintf(&b, "%s: %v\n", k, members)
	}
	return b.String()
}
