package huggingface

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"animerec/internal/embedding"
)

func newTestClient(t *testing.T, url string) (*Client, *[]time.Duration) {
	t.Helper()
	c, err := NewClient(Config{BaseURL: url, Token: "hf_test", Model: "mini"})
	require.NoError(t, err)
	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return c, &slept
}

func TestEmbedBatchNormalizesAndSendsInputs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mini", r.URL.Path)
		assert.Equal(t, "Bearer hf_test", r.Header.Get("Authorization"))
		var body struct {
			Inputs  []string        `json:"inputs"`
			Options map[string]bool `json:"options"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"a", "b"}, body.Inputs)
		assert.True(t, body.Options["wait_for_model"])
		_, _ = w.Write([]byte(`[[3,4],[0,2]]`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.6, 0.8}, vecs[0], 1e-9)
	assert.InDeltaSlice(t, []float64{0, 1}, vecs[1], 1e-9)
	assert.Equal(t, 2, c.Dimension())

	var _ embedding.BatchEmbedder = c
}

func TestEmbedRetriesOnModelLoading(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_, _ = w.Write([]byte(`[[1,0,0]]`))
		}
	}))
	defer srv.Close()

	c, slept := newTestClient(t, srv.URL)
	v, err := c.Embed(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0}, v)
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 2 * time.Second}, *slept)
}

func TestEmbedDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	_, err := c.Embed(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad token")
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewClientRequiresToken(t *testing.T) {
	_, err := NewClient(Config{Model: "m"})
	assert.Error(t, err)
}

func TestRetryDelayCaps(t *testing.T) {
	assert.Equal(t, 200*time.Millisecond, retryDelay(0))
	assert.Equal(t, 800*time.Millisecond, retryDelay(2))
	assert.Equal(t, 5*time.Second, retryDelay(10))
}
