package redisstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// fakeRedis is an in-memory stand-in for the commands interface. Commands
// queued in TxPipelined are applied under one lock, like MULTI/EXEC.
type fakeRedis struct {
	mu       sync.Mutex
	values   map[string]string
	lists    map[string][]string
	ttls     map[string]time.Duration
	sets     map[string]map[string]struct{}
	txs      int
	failExec error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		values: make(map[string]string),
		lists:  make(map[string][]string),
		ttls:   make(map[string]time.Duration),
		sets:   make(map[string]map[string]struct{}),
	}
}

func asString(v interface{}) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(v)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = asString(value)
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) LRange(_ context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.lists[key]
	lo, hi := listRange(len(list), start, stop)
	out := make([]string, 0, hi-lo)
	out = append(out, list[lo:hi]...)
	return redis.NewStringSliceResult(out, nil)
}

func (f *fakeRedis) SMembers(_ context.Context, key string) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sets[key]))
	for m := range f.sets[key] {
		out = append(out, m)
	}
	return redis.NewStringSliceResult(out, nil)
}

func (f *fakeRedis) TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	pipe := &fakePipe{f: f}
	if err := fn(pipe); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failExec != nil {
		return nil, f.failExec
	}
	f.txs++
	for _, op := range pipe.ops {
		op()
	}
	return nil, nil
}

// listRange resolves Redis start/stop (inclusive, negative from the end) to
// a half-open slice range.
func listRange(n int, start, stop int64) (int, int) {
	if start < 0 {
		start += int64(n)
	}
	if stop < 0 {
		stop += int64(n)
	}
	if start < 0 {
		start = 0
	}
	if stop >= int64(n) {
		stop = int64(n) - 1
	}
	if start > stop {
		return 0, 0
	}
	return int(start), int(stop) + 1
}

// fakePipe queues the commands the stores issue inside a transaction. Any
// other Pipeliner method panics through the nil embedded interface.
type fakePipe struct {
	redis.Pipeliner
	f   *fakeRedis
	ops []func()
}

func (p *fakePipe) RPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	p.ops = append(p.ops, func() {
		for _, v := range values {
			p.f.lists[key] = append(p.f.lists[key], asString(v))
		}
	})
	return redis.NewIntResult(0, nil)
}

func (p *fakePipe) LTrim(_ context.Context, key string, start, stop int64) *redis.StatusCmd {
	p.ops = append(p.ops, func() {
		list := p.f.lists[key]
		lo, hi := listRange(len(list), start, stop)
		p.f.lists[key] = append([]string(nil), list[lo:hi]...)
	})
	return redis.NewStatusResult("OK", nil)
}

func (p *fakePipe) Expire(_ context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	p.ops = append(p.ops, func() {
		p.f.ttls[key] = expiration
	})
	return redis.NewBoolResult(true, nil)
}

func (p *fakePipe) Del(_ context.Context, keys ...string) *redis.IntCmd {
	p.ops = append(p.ops, func() {
		for _, k := range keys {
			delete(p.f.values, k)
			delete(p.f.lists, k)
			delete(p.f.ttls, k)
		}
	})
	return redis.NewIntResult(0, nil)
}

func (p *fakePipe) SAdd(_ context.Context, key string, members ...interface{}) *redis.IntCmd {
	p.ops = append(p.ops, func() {
		set, ok := p.f.sets[key]
		if !ok {
			set = make(map[string]struct{})
			p.f.sets[key] = set
		}
		for _, m := range members {
			set[asString(m)] = struct{}{}
		}
	})
	return redis.NewIntResult(0, nil)
}

func (p *fakePipe) SRem(_ context.Context, key string, members ...interface{}) *redis.IntCmd {
	p.ops = append(p.ops, func() {
		for _, m := range members {
			delete(p.f.sets[key], asString(m))
		}
	})
	return redis.NewIntResult(0, nil)
}
