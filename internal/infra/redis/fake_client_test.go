//go:build !integration

package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var errFakeDown = errors.New("connection refused")

// fakeClient is an in-memory RedisClient. Expiry is checked against now.
type fakeClient struct {
	mu      sync.Mutex
	values  map[string]string
	expires map[string]time.Time
	zsets   map[string]map[string]float64
	now     func() time.Time
	down    bool
}

var _ RedisClient = (*fakeClient)(nil)

func newFakeClient() *fakeClient {
	return &fakeClient{
		values:  map[string]string{},
		expires: map[string]time.Time{},
		zsets:   map[string]map[string]float64{},
		now:     time.Now,
	}
}

func (f *fakeClient) alive(key string) bool {
	if _, ok := f.values[key]; !ok {
		return false
	}
	if exp, ok := f.expires[key]; ok && !f.now().Before(exp) {
		delete(f.values, key)
		delete(f.expires, key)
		return false
	}
	return true
}

func (f *fakeClient) setLocked(key string, value interface{}, ttl time.Duration) {
	switch v := value.(type) {
	case []byte:
		f.values[key] = string(v)
	default:
		f.values[key] = fmt.Sprint(v)
	}
	if ttl > 0 {
		f.expires[key] = f.now().Add(ttl)
	} else {
		delete(f.expires, key)
	}
}

func (f *fakeClient) Ping(context.Context) error {
	if f.down {
		return errFakeDown
	}
	return nil
}

func (f *fakeClient) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errFakeDown
	}
	f.setLocked(key, value, ttl)
	return nil
}

func (f *fakeClient) SetNX(_ context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return false, errFakeDown
	}
	if f.alive(key) {
		return false, nil
	}
	f.setLocked(key, value, ttl)
	return true, nil
}

func (f *fakeClient) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return "", errFakeDown
	}
	if !f.alive(key) {
		return "", Nil
	}
	return f.values[key], nil
}

func (f *fakeClient) Incr(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return 0, errFakeDown
	}
	var n int64
	if f.alive(key) {
		fmt.Sscan(f.values[key], &n)
	}
	n++
	f.values[key] = fmt.Sprint(n)
	return n, nil
}

func (f *fakeClient) Expire(_ context.Context, key string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.alive(key) {
		f.expires[key] = f.now().Add(ttl)
	}
	return nil
}

func (f *fakeClient) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errFakeDown
	}
	for _, k := range keys {
		delete(f.values, k)
		delete(f.expires, k)
	}
	return nil
}

func (f *fakeClient) DelIfEquals(_ context.Context, key, value string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.alive(key) && f.values[key] == value {
		delete(f.values, key)
		delete(f.expires, key)
		return true, nil
	}
	return false, nil
}

func (f *fakeClient) ZAdd(_ context.Context, key string, score float64, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errFakeDown
	}
	if f.zsets[key] == nil {
		f.zsets[key] = map[string]float64{}
	}
	f.zsets[key][member] = score
	return nil
}

func (f *fakeClient) ZRangeByScore(_ context.Context, key string, max float64, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errFakeDown
	}
	var out []string
	for m, s := range f.zsets[key] {
		if s <= max {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := f.zsets[key][out[i]], f.zsets[key][out[j]]
		if si != sj {
			return si < sj
		}
		return out[i] < out[j]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeClient) ZRem(_ context.Context, key string, members ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range members {
		delete(f.zsets[key], m)
	}
	return nil
}

func (f *fakeClient) Close() error { return nil }

func (f *fakeClient) zcard(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.zsets[key])
}
