package recommender

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"animerec/internal/apperr"
	"animerec/internal/config"
)

// roundTripFunc lets tests script transport behavior per call.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func chatResponse(t *testing.T, status int, content string) *http.Response {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "llama3-70b-8192",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	})
	require.NoError(t, err)
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(string(body))),
	}
}

func errorResponse(status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(`{"error":{"message":"upstream says no","type":"server_error"}}`)),
	}
}

type harness struct {
	mu       sync.Mutex
	calls    int
	bodies   []map[string]any
	slept    []time.Duration
	respond  func(call int) (*http.Response, error)
	instance *Client
}

func newHarness(t *testing.T, respond func(call int) (*http.Response, error)) *harness {
	t.Helper()
	h := &harness{respond: respond}
	hc := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		h.mu.Lock()
		h.calls++
		call := h.calls
		var body map[string]any
		if r.Body != nil {
			data, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(data, &body)
		}
		h.bodies = append(h.bodies, body)
		h.mu.Unlock()
		assert.Equal(t, "/openai/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer gsk_test", r.Header.Get("Authorization"))
		return h.respond(call)
	})}
	c, err := New(Config{
		APIKey:          "gsk_test",
		Model:           "llama3-70b-8192",
		BaseURL:         "http://groq.test/openai/v1",
		RequestInterval: NoSpacing,
	},
		WithHTTPClient(hc),
		WithJitter(func() time.Duration { return 0 }),
		WithSleep(func(_ context.Context, d time.Duration) error {
			h.slept = append(h.slept, d)
			return nil
		}),
	)
	require.NoError(t, err)
	h.instance = c
	return h
}

const validReply = `{"recommendations":[
 {"title":"Cowboy Bebop","description":"Bounty hunters drift through space.","score":150,"genres":["Action","Sci-Fi"],"year":1998,"why":"Space noir"},
 {"description":"No title here","score":90}
]}`

func TestNormalizeQuery(t *testing.T) {
	tests := map[string]string{
		"apple":                "anime about apple",
		"  Giant Robots ":      "anime that relates to giant robots",
		"Mecha battles":        "mecha battles",
		"cozy slice of life":   "cozy slice of life",
		"best ANIME of 2020":   "best anime of 2020",
		"psychological thing":  "psychological thing",
		"cooking competitions": "anime that relates to cooking competitions",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeQuery(in), in)
	}
}

func TestRequestPayload(t *testing.T) {
	h := newHarness(t, func(int) (*http.Response, error) { return chatResponse(t, 200, validReply), nil })

	_, err := h.instance.GetRecommendations(context.Background(), "Apple")
	require.NoError(t, err)
	require.Len(t, h.bodies, 1)
	body := h.bodies[0]

	assert.Equal(t, "llama3-70b-8192", body["model"])
	assert.InDelta(t, 0.7, body["temperature"], 1e-6)
	assert.InDelta(t, 0.9, body["top_p"], 1e-6)
	assert.EqualValues(t, 1200, body["max_tokens"])
	assert.Equal(t, map[string]any{"type": "json_object"}, body["response_format"])

	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Contains(t, msgs[0].(map[string]any)["content"], "Score 85-100")
	assert.Equal(t, "Recommend 5 anime for: 'anime about apple'", msgs[1].(map[string]any)["content"])
}

func TestScoreClampedAndIncompleteEntryDropped(t *testing.T) {
	h := newHarness(t, func(int) (*http.Response, error) { return chatResponse(t, 200, validReply), nil })

	recs, err := h.instance.GetRecommendations(context.Background(), "space westerns")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Cowboy Bebop", recs[0].Anime)
	assert.Equal(t, 100, recs[0].MatchScore)
	assert.Equal(t, []string{"Action", "Sci-Fi"}, recs[0].Genres)
	assert.Equal(t, "1998", recs[0].Year)
	assert.Equal(t, "Space noir", recs[0].Why)
}

func TestEmptyAfterFilteringIsAnError(t *testing.T) {
	h := newHarness(t, func(int) (*http.Response, error) {
		return chatResponse(t, 200, `{"recommendations":[{"title":"x"}]}`), nil
	})

	recs, err := h.instance.GetRecommendations(context.Background(), "anything")
	require.Error(t, err)
	assert.Nil(t, recs)
	assert.ErrorIs(t, err, ErrNoValidRecommendations)
	assert.Equal(t, apperr.KindRecommendation, apperr.KindOf(err))
	assert.Equal(t, 1, h.calls)
}

func TestMalformedJSONIsNotRetried(t *testing.T) {
	h := newHarness(t, func(int) (*http.Response, error) { return chatResponse(t, 200, "not json"), nil })

	_, err := h.instance.GetRecommendations(context.Background(), "mecha")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid response format")
	assert.Equal(t, 1, h.calls)
	assert.Empty(t, h.slept)
}

func TestNetworkFailuresThenSuccess(t *testing.T) {
	h := newHarness(t, func(call int) (*http.Response, error) {
		if call < 3 {
			return nil, errors.New("connection reset by peer")
		}
		return chatResponse(t, 200, validReply), nil
	})

	recs, err := h.instance.GetRecommendations(context.Background(), "mecha")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.Equal(t, 3, h.calls)
	assert.Equal(t, []time.Duration{1500 * time.Millisecond, 3 * time.Second}, h.slept)
}

func TestRetriesExhausted(t *testing.T) {
	h := newHarness(t, func(int) (*http.Response, error) { return nil, errors.New("dial tcp: i/o timeout") })

	_, err := h.instance.GetRecommendations(context.Background(), "apple")
	require.Error(t, err)
	assert.Equal(t, 3, h.calls)
	assert.Len(t, h.slept, 2, "no sleep after the final attempt")

	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "anime about apple", ae.Context["query"])
	assert.Equal(t, "llama3-70b-8192", ae.Context["model"])
	assert.Contains(t, err.Error(), "service unavailable after retries")
}

func TestServerErrorsAreRetried(t *testing.T) {
	h := newHarness(t, func(call int) (*http.Response, error) {
		switch call {
		case 1:
			return errorResponse(http.StatusServiceUnavailable), nil
		case 2:
			return errorResponse(http.StatusTooManyRequests), nil
		default:
			return chatResponse(t, 200, validReply), nil
		}
	})

	_, err := h.instance.GetRecommendations(context.Background(), "isekai")
	require.NoError(t, err)
	assert.Equal(t, 3, h.calls)
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	h := newHarness(t, func(int) (*http.Response, error) { return errorResponse(http.StatusUnauthorized), nil })

	_, err := h.instance.GetRecommendations(context.Background(), "isekai")
	require.Error(t, err)
	assert.Equal(t, 1, h.calls)
	assert.Empty(t, h.slept)
}

func TestRepliesTruncatedToFive(t *testing.T) {
	var entries []string
	for i := 0; i < 7; i++ {
		entries = append(entries, `{"title":"T","description":"D","score":"88","genres":"Drama, Romance","year":"2001"}`)
	}
	recs, err := ParseRecommendations(`{"recommendations":[` + strings.Join(entries, ",") + `]}`)
	require.NoError(t, err)
	require.Len(t, recs, MaxRecommendations)
	assert.Equal(t, 88, recs[0].MatchScore)
	assert.Equal(t, []string{"Drama", "Romance"}, recs[0].Genres)
	assert.Equal(t, "2001", recs[0].Year)
}

func TestParseRecommendationsEdgeCases(t *testing.T) {
	_, err := ParseRecommendations(`{"items":[]}`)
	assert.ErrorIs(t, err, ErrMissingRecommendations)

	recs, err := ParseRecommendations(`{"recommendations":[{"title":"A","description":"B","score":-5},{"title":"C","description":"D","score":"high"}]}`)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 1, recs[0].MatchScore)
	assert.Equal(t, []string{}, recs[0].Genres)
	assert.Empty(t, recs[0].Year)
}

func TestRetryDelayCapped(t *testing.T) {
	c, err := New(Config{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, c.retryDelay(1))
	assert.Equal(t, 6*time.Second, c.retryDelay(3))
	assert.Equal(t, 10*time.Second, c.retryDelay(4))
	assert.Equal(t, 10*time.Second, c.retryDelay(9))
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestCheckConnection(t *testing.T) {
	h := newHarness(t, func(int) (*http.Response, error) { return chatResponse(t, 200, "ok"), nil })
	require.NoError(t, h.instance.CheckConnection(context.Background()))
	assert.EqualValues(t, 10, h.bodies[0]["max_tokens"])

	h = newHarness(t, func(int) (*http.Response, error) { return errorResponse(http.StatusUnauthorized), nil })
	assert.Error(t, h.instance.CheckConnection(context.Background()))
}

func TestRequestsAreSpacedByInterval(t *testing.T) {
	var slept []time.Duration
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	hc := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return chatResponse(t, 200, validReply), nil
	})}
	c, err := New(Config{APIKey: "gsk_test", BaseURL: "http://groq.test/openai/v1"},
		WithHTTPClient(hc),
		WithClock(func() time.Time { return now }),
		WithSleep(func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		}),
	)
	require.NoError(t, err)
	assert.Equal(t, 1200*time.Millisecond, c.cfg.RequestInterval, "zero interval falls back to 1.2s")

	_, err = c.GetRecommendations(context.Background(), "mecha")
	require.NoError(t, err)
	assert.Empty(t, slept, "first request goes out at once")

	_, err = c.GetRecommendations(context.Background(), "mecha")
	require.NoError(t, err)
	require.Len(t, slept, 1)
	assert.InDelta(t, float64(1200*time.Millisecond), float64(slept[0]), float64(time.Millisecond))

	// once the interval has passed, no wait is needed
	now = now.Add(5 * time.Second)
	_, err = c.GetRecommendations(context.Background(), "mecha")
	require.NoError(t, err)
	assert.Len(t, slept, 1)
}

func TestConfigFromZeroIntervalDisablesSpacing(t *testing.T) {
	cfg := ConfigFrom(config.LLMConfig{RequestIntervalMs: 0}, "k")
	assert.Equal(t, NoSpacing, cfg.RequestInterval)
	cfg = ConfigFrom(config.LLMConfig{RequestIntervalMs: 1200}, "k")
	assert.Equal(t, 1200*time.Millisecond, cfg.RequestInterval)
}
