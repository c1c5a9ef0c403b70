package rediscache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/covid-state-etl/internal/query"
)

type fakeRedis struct {
	data   map[string]string
	ttls   map[string]time.Duration
	getErr error
	setErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	f.data[key] = string(value.([]byte))
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCache_RoundTrip(t *testing.T) {
	fake := newFakeRedis()
	c := newWithClient(fake, 5*time.Minute, testLogger())
	ctx := context.Background()

	want := &query.Result{
		SnapshotID: "snap-1",
		Mode:       "new",
		Rows: []query.Row{{
			Date: time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC), State: "NY",
			Metric: "Confirmed", Label: "NY - Confirmed", Value: 5,
		}},
		Issues: []query.Issue{{Kind: query.IssueNotFound, State: "ZZ", Message: `state "ZZ": not found`}},
	}
	c.Set(ctx, "snap-1|new|NY,ZZ|Confirmed", want)

	assert.Contains(t, fake.data, keyPrefix+"snap-1|new|NY,ZZ|Confirmed")
	assert.Equal(t, 5*time.Minute, fake.ttls[keyPrefix+"snap-1|new|NY,ZZ|Confirmed"])

	got, ok := c.Get(ctx, "snap-1|new|NY,ZZ|Confirmed")
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestCache_Miss(t *testing.T) {
	c := newWithClient(newFakeRedis(), time.Minute, testLogger())

	_, ok := c.Get(context.Background(), "absent")
	assert.False(t, ok)
}

func TestCache_ErrorsAreMisses(t *testing.T) {
	fake := newFakeRedis()
	fake.getErr = errors.New("connection refused")
	fake.setErr = errors.New("connection refused")
	c := newWithClient(fake, time.Minute, testLogger())
	ctx := context.Background()

	c.Set(ctx, "k", &query.Result{SnapshotID: "s"})
	assert.Empty(t, fake.data)

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestCache_CorruptEntry(t *testing.T) {
	fake := newFakeRedis()
	fake.data[keyPrefix+"k"] = "{not json"
	c := newWithClient(fake, time.Minute, testLogger())

	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(context.Background(), "not-a-redis-url", time.Minute, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse redis url")
}
