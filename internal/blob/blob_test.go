package blob

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("")

	require.NoError(t, s.Put(ctx, "u1/p1.pdf", strings.NewReader("%PDF-1.4"), 8, "application/pdf"))
	data, ct, err := s.Get("u1/p1.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))
	assert.Equal(t, "application/pdf", ct)

	link, err := s.PresignGet(ctx, "u1/p1.pdf", 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link, "memory://pitches/u1/p1.pdf?"), link)

	require.NoError(t, s.Delete(ctx, "u1/p1.pdf"))
	_, _, err = s.Get("u1/p1.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.PresignGet(ctx, "u1/p1.pdf", time.Minute)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreRejectsShortBody(t *testing.T) {
	s := NewMemoryStore("b")
	err := s.Put(context.Background(), "k", strings.NewReader("abc"), 10, "text/plain")
	assert.Error(t, err)
}

func TestNewWithoutEndpointIsMemory(t *testing.T) {
	s, err := New(context.Background(), Options{Bucket: "decks"})
	require.NoError(t, err)
	_, ok := s.(*MemoryStore)
	assert.True(t, ok)
	assert.NoError(t, s.Ping(context.Background()))
}
