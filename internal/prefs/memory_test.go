package prefs

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserKey(t *testing.T) {
	key, err := UserKey("pub-1", "orders.filter")
	require.NoError(t, err)
	assert.Equal(t, "pub-1:orders.filter", key)

	user, name, ok := SplitUserKey(key)
	assert.True(t, ok)
	assert.Equal(t, "pub-1", user)
	assert.Equal(t, "orders.filter", name)

	for _, bad := range []struct{ user, name string }{
		{"", "orders.filter"},
		{"a:b", "orders.filter"},
		{"pub-1", ""},
		{"pub-1", "Orders Filter"},
		{"pub-1", strings.Repeat("x", 65)},
	} {
		_, err := UserKey(bad.user, bad.name)
		assert.ErrorIs(t, err, ErrInvalidKey, "%q/%q", bad.user, bad.name)
	}

	_, _, ok = SplitUserKey("no-separator")
	assert.False(t, ok)
}

func TestMemoryStoreGetSet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Get(ctx, "pub-1:orders.filter")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, "pub-1:orders.filter", "verifying"))
	value, err := store.Get(ctx, "pub-1:orders.filter")
	require.NoError(t, err)
	assert.Equal(t, "verifying", value)

	assert.ErrorIs(t, store.Set(ctx, "unscoped", "x"), ErrInvalidKey)
	assert.ErrorIs(t, store.Set(ctx, "pub-1:big", strings.Repeat("x", maxValueLen+1)), ErrValueTooLarge)
}

func TestMemoryStoreSubscribe(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var got []Change
	unsubscribe := store.Subscribe(func(c Change) { got = append(got, c) })

	require.NoError(t, store.Set(ctx, "pub-1:orders.filter", "all"))
	require.NoError(t, store.Set(ctx, "pub-1:orders.filter", "all"))
	require.NoError(t, store.Set(ctx, "pub-1:orders.filter", "completed"))

	unsubscribe()
	unsubscribe()
	require.NoError(t, store.Set(ctx, "pub-1:orders.filter", "pending"))

	assert.Equal(t, []Change{
		{Key: "pub-1:orders.filter", Value: "all"},
		{Key: "pub-1:orders.filter", Value: "completed"},
	}, got)
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewMemoryStore().Set(ctx, "pub-1:orders.filter", "all")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNotifyPayloadLimit(t *testing.T) {
	payload, err := notifyPayload(Change{Key: "pub-1:note", Value: strings.Repeat("<", maxValueLen)})
	require.NoError(t, err)
	assert.Less(t, len(payload), maxNotifyPayload)
	assert.Contains(t, string(payload), "<<<", "HTML characters are not escaped")
	assert.False(t, strings.HasSuffix(string(payload), "\n"))

	_, err = notifyPayload(Change{Key: "pub-1:note", Value: strings.Repeat("\x01", maxValueLen)})
	assert.ErrorIs(t, err, ErrValueTooLarge)
}
