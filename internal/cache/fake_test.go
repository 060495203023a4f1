package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// fakeClient is an in-memory Client for tests. Set fail to make every call
// return that error.
type fakeClient struct {
	mu      sync.Mutex
	fail    error
	strings map[string]string
	hashes  map[string]map[string]string
	sets    map[string]map[string]bool
	zsets   map[string]map[string]float64
	lists   map[string][]string
	ttls    map[string]time.Duration
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		strings: make(map[string]string),
		hashes:  make(map[string]map[string]string),
		sets:    make(map[string]map[string]bool),
		zsets:   make(map[string]map[string]float64),
		lists:   make(map[string][]string),
		ttls:    make(map[string]time.Duration),
	}
}

func (f *fakeClient) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func (f *fakeClient) check() error {
	return f.fail
}

func (f *fakeClient) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.check()
}

func (f *fakeClient) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	f.strings[key] = value
	return nil
}

func (f *fakeClient) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	f.strings[key] = value
	f.ttls[key] = ttl
	return nil
}

func (f *fakeClient) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return "", false, err
	}
	v, ok := f.strings[key]
	return v, ok, nil
}

func (f *fakeClient) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	for _, k := range keys {
		delete(f.strings, k)
		delete(f.hashes, k)
		delete(f.sets, k)
		delete(f.zsets, k)
		delete(f.lists, k)
	}
	return nil
}

func (f *fakeClient) HSet(ctx context.Context, key, field, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	if f.hashes[key] == nil {
		f.hashes[key] = make(map[string]string)
	}
	f.hashes[key][field] = value
	return nil
}

func (f *fakeClient) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(f.hashes[key]))
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeClient) HIncrBy(ctx context.Context, key, field string, delta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	if f.hashes[key] == nil {
		f.hashes[key] = make(map[string]string)
	}
	cur, _ := strconv.ParseInt(f.hashes[key][field], 10, 64)
	f.hashes[key][field] = strconv.FormatInt(cur+delta, 10)
	return nil
}

func (f *fakeClient) HIncrByFloat(ctx context.Context, key, field string, delta float64) error {
	return f.HIncrBy(ctx, key, field, int64(delta))
}

func (f *fakeClient) SAdd(ctx context.Context, key string, members ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	if f.sets[key] == nil {
		f.sets[key] = make(map[string]bool)
	}
	for _, m := range members {
		f.sets[key][m] = true
	}
	return nil
}

func (f *fakeClient) SRem(ctx context.Context, key string, members ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	for _, m := range members {
		delete(f.sets[key], m)
	}
	return nil
}

func (f *fakeClient) SMembers(ctx context.Context, key string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}
	var out []string
	for m := range f.sets[key] {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeClient) ZAdd(ctx context.Context, key string, score float64, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	if f.zsets[key] == nil {
		f.zsets[key] = make(map[string]float64)
	}
	f.zsets[key][member] = score
	return nil
}

func (f *fakeClient) ZIncrBy(ctx context.Context, key string, delta float64, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	if f.zsets[key] == nil {
		f.zsets[key] = make(map[string]float64)
	}
	f.zsets[key][member] += delta
	return nil
}

func (f *fakeClient) LPush(ctx context.Context, key string, values ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	f.lists[key] = append(values, f.lists[key]...)
	return nil
}

func (f *fakeClient) LTrim(ctx context.Context, key string, start, stop int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	l := f.lists[key]
	if start < 0 {
		start = 0
	}
	if stop >= int64(len(l)) {
		stop = int64(len(l)) - 1
	}
	if start > stop {
		f.lists[key] = nil
		return nil
	}
	f.lists[key] = l[start : stop+1]
	return nil
}

func (f *fakeClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	f.ttls[key] = ttl
	return nil
}

func (f *fakeClient) Close() error { return nil }
