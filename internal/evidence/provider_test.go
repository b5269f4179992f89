package evidence

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dealdesk/internal/types"
)

func TestItemID(t *testing.T) {
	a := ItemID("https://example.com/report")
	b := ItemID("https://example.com/report")
	c := ItemID("https://example.com/other")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Regexp(t, "^ev-[0-9a-f]{16}$", a)
}

type erroringProvider struct{}

func (erroringProvider) Search(ctx context.Context, query string, opts types.SearchOptions) (types.SearchResult, error) {
	return types.SearchResult{}, errors.New("provider down")
}

type hangingProvider struct{}

func (hangingProvider) Search(ctx context.Context, query string, opts types.SearchOptions) (types.SearchResult, error) {
	<-ctx.Done()
	return types.SearchResult{}, ctx.Err()
}

func TestResilient(t *testing.T) {
	t.Run("provider error becomes empty result", func(t *testing.T) {
		r := NewResilient(erroringProvider{}, time.Second, zap.NewNop())
		res, err := r.Search(context.Background(), "q", types.SearchOptions{})
		require.NoError(t, err)
		assert.Empty(t, res.Items)
		assert.NotNil(t, res.Items)
	})

	t.Run("timeout becomes empty result", func(t *testing.T) {
		r := NewResilient(hangingProvider{}, 10*time.Millisecond, zap.NewNop())
		start := time.Now()
		res, err := r.Search(context.Background(), "q", types.SearchOptions{})
		require.NoError(t, err)
		assert.Empty(t, res.Items)
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestHTTPProviderSearch(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"answer": "Acme builds robots.",
			"results": [
				{"title": "Acme", "url": "https://acme.example", "content": "robots"},
				{"title": "no url", "url": "", "content": "dropped"}
			]
		}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "key-123")
	res, err := p.Search(context.Background(), "acme robots", types.SearchOptions{MaxResults: 3})
	require.NoError(t, err)

	assert.Equal(t, "Bearer key-123", gotAuth)
	assert.Equal(t, "Acme builds robots.", res.Answer)
	require.Len(t, res.Items, 1)
	assert.Equal(t, ItemID("https://acme.example"), res.Items[0].ID)
	assert.Equal(t, "robots", res.Items[0].Snippet)
}

func TestHTTPProviderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "key")
	_, err := p.Search(context.Background(), "q", types.SearchOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
