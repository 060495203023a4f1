package metrics

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/nextlevelbuilder/agentscope/internal/bus"
)

// fakeCache is an in-memory cache.Client. Set fail to make every call return
// that error; failKey poisons a single key.
type fakeCache struct {
	mu       sync.Mutex
	fail     error
	failKeys map[string]bool
	strings  map[string]string
	hashes   map[string]map[string]string
	sets     map[string]map[string]bool
	zsets    map[string]map[string]float64
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		failKeys: make(map[string]bool),
		strings:  make(map[string]string),
		hashes:   make(map[string]map[string]string),
		sets:     make(map[string]map[string]bool),
		zsets:    make(map[string]map[string]float64),
	}
}

func (f *fakeCache) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func (f *fakeCache) failKey(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failKeys[key] = true
}

func (f *fakeCache) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail
}

func (f *fakeCache) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.strings[key] = value
	return nil
}

func (f *fakeCache) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	return f.Set(ctx, key, value)
}

func (f *fakeCache) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return "", false, f.fail
	}
	v, ok := f.strings[key]
	return v, ok, nil
}

func (f *fakeCache) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	for _, k := range keys {
		delete(f.strings, k)
		delete(f.hashes, k)
		delete(f.sets, k)
		delete(f.zsets, k)
	}
	return nil
}

func (f *fakeCache) HSet(ctx context.Context, key, field, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	if f.hashes[key] == nil {
		f.hashes[key] = make(map[string]string)
	}
	f.hashes[key][field] = value
	return nil
}

func (f *fakeCache) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	out := make(map[string]string, len(f.hashes[key]))
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeCache) HIncrBy(ctx context.Context, key, field string, delta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	if f.failKeys[key] {
		return errors.New("connection refused")
	}
	if f.hashes[key] == nil {
		f.hashes[key] = make(map[string]string)
	}
	cur, _ := strconv.ParseInt(f.hashes[key][field], 10, 64)
	f.hashes[key][field] = strconv.FormatInt(cur+delta, 10)
	return nil
}

func (f *fakeCache) HIncrByFloat(ctx context.Context, key, field string, delta float64) error {
	return f.HIncrBy(ctx, key, field, int64(delta))
}

func (f *fakeCache) SAdd(ctx context.Context, key string, members ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	if f.sets[key] == nil {
		f.sets[key] = make(map[string]bool)
	}
	for _, m := range members {
		f.sets[key][m] = true
	}
	return nil
}

func (f *fakeCache) SRem(ctx context.Context, key string, members ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	for _, m := range members {
		delete(f.sets[key], m)
	}
	return nil
}

func (f *fakeCache) SMembers(ctx context.Context, key string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	var out []string
	for m := range f.sets[key] {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeCache) ZAdd(ctx context.Context, key string, score float64, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	if f.zsets[key] == nil {
		f.zsets[key] = make(map[string]float64)
	}
	f.zsets[key][member] = score
	return nil
}

func (f *fakeCache) ZIncrBy(ctx context.Context, key string, delta float64, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	if f.zsets[key] == nil {
		f.zsets[key] = make(map[string]float64)
	}
	f.zsets[key][member] += delta
	return nil
}

func (f *fakeCache) LPush(ctx context.Context, key string, values ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail
}

func (f *fakeCache) LTrim(ctx context.Context, key string, start, stop int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail
}

func (f *fakeCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail
}

func (f *fakeCache) Close() error { return nil }

// frameRecorder is a bus.Publisher that remembers broadcast frames.
type frameRecorder struct {
	frames []bus.Frame
}

func (r *frameRecorder) Subscribe(id string, send bus.SendFunc) {}
func (r *frameRecorder) Unsubscribe(id string)                  {}
func (r *frameRecorder) Broadcast(f bus.Frame)                  { r.frames = append(r.frames, f) }

func (f *fakeCache) hash(key string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.hashes[key]))
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return out
}

func (f *fakeCache) setHas(key, member string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sets[key][member]
}

func (f *fakeCache) zscore(key, member string) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.zsets[key][member]
}
