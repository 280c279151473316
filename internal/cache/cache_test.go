package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/roundtable/internal/logging"
	"github.com/ShayCichocki/roundtable/internal/state"
)

func setupTestCache(t *testing.T, opts ...Option) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New("redis://"+mr.Addr(), append([]Option{WithLogger(logging.Nop())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func sampleEntry() *Entry {
	return &Entry{
		TaskID: "task-1",
		Messages: []state.MessageRecord{
			{TaskID: "task-1", Agent: "user", Content: "bees", Order: 0, TokenCount: 1,
				Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
			{TaskID: "task-1", Agent: "Writer", Content: "Bees matter.", Order: 1, TokenCount: 3,
				Timestamp: time.Date(2025, 1, 1, 0, 0, 1, 0, time.UTC)},
		},
		Metrics: &state.TaskMetrics{TaskID: "task-1", Duration: 2.5, TotalMessages: 2, TotalTokens: 4},
	}
}

func TestKey(t *testing.T) {
	// sha256("hello")
	assert.Equal(t,
		"research:task:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		Key("hello"))
	assert.NotEqual(t, Key("hello"), Key("hello "))
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
	_, err = New("not-a-url")
	require.Error(t, err)
}

func TestSetGet(t *testing.T) {
	c, mr := setupTestCache(t)
	ctx := context.Background()

	_, ok := c.Get(ctx, "bees")
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "bees", sampleEntry()))

	got, ok := c.Get(ctx, "bees")
	require.True(t, ok)
	assert.Equal(t, "task-1", got.TaskID)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "Writer", got.Messages[1].Agent)
	assert.Equal(t, 1, got.Messages[1].Order)
	assert.Equal(t, 2.5, got.Metrics.Duration)

	assert.Equal(t, DefaultTTL, mr.TTL(Key("bees")))
}

func TestSet_CustomTTLExpires(t *testing.T) {
	c, mr := setupTestCache(t, WithTTL(time.Minute))
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "bees", sampleEntry()))
	assert.Equal(t, time.Minute, mr.TTL(Key("bees")))

	mr.FastForward(2 * time.Minute)
	_, ok := c.Get(ctx, "bees")
	assert.False(t, ok)
}

func TestGet_UndecodableIsMiss(t *testing.T) {
	c, mr := setupTestCache(t)
	require.NoError(t, mr.Set(Key("bees"), "{not json"))

	_, ok := c.Get(context.Background(), "bees")
	assert.False(t, ok)
}

func TestGet_ServerDownIsMiss(t *testing.T) {
	c, mr := setupTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "bees", sampleEntry()))

	mr.Close()
	_, ok := c.Get(ctx, "bees")
	assert.False(t, ok)
	assert.Error(t, c.Ping(ctx))
}

func TestDelete(t *testing.T) {
	c, mr := setupTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "bees", sampleEntry()))

	require.NoError(t, c.Delete(ctx, "bees"))
	assert.False(t, mr.Exists(Key("bees")))
	require.NoError(t, c.Delete(ctx, "bees"))
}

func TestClear(t *testing.T) {
	c, mr := setupTestCache(t)
	ctx := context.Background()

	for _, task := range []string{"a", "b", "c"} {
		require.NoError(t, c.Set(ctx, task, sampleEntry()))
	}
	require.NoError(t, mr.Set("other:key", "keep"))

	n, err := c.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, mr.Exists("other:key"))

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)
}

func TestPing(t *testing.T) {
	c, _ := setupTestCache(t)
	assert.NoError(t, c.Ping(context.Background()))
}

func TestClose_Twice(t *testing.T) {
	c, _ := setupTestCache(t)
	require.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}
