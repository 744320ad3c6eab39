package xai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"line-agent/internal/domain"
)

type fakeGetter struct {
	val   string
	err   error
	calls int
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.val, f.err
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil, "/line-agent")
	require.Error(t, err)

	_, err = NewClient(&fakeGetter{}, "")
	require.Error(t, err)

	c, err := NewClient(&fakeGetter{}, "/line-agent/")
	require.NoError(t, err)
	require.Equal(t, defaultBaseURL, c.baseURL)
}

func TestSearch_HappyPath(t *testing.T) {
	var gotAuth string
	var gotBody chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "cmpl-9",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]string{
					"role":    "assistant",
					"content": "grounded answer",
				}},
			},
		})
	}))
	defer srv.Close()

	g := &fakeGetter{val: `{"token":"xai-test"}`}
	c, err := NewClient(g, "/line-agent", WithBaseURL(srv.URL))
	require.NoError(t, err)

	out, err := c.Search(context.Background(), "grok-4", "latest weather in osaka")
	require.NoError(t, err)
	require.Equal(t, "grounded answer", out)

	require.Equal(t, "Bearer xai-test", gotAuth)
	require.Equal(t, "grok-4", gotBody.Model)
	require.NotNil(t, gotBody.SearchParameters)
	require.Equal(t, "auto", gotBody.SearchParameters.Mode)
	require.Len(t, gotBody.Messages, 1)
	require.Equal(t, domain.RoleUser, gotBody.Messages[0].Role)
	require.Equal(t, "latest weather in osaka", gotBody.Messages[0].Content)
	require.Equal(t, 1, g.calls)
}

func TestSearch_Validation(t *testing.T) {
	c, err := NewClient(&fakeGetter{val: `{"token":"xai-test"}`}, "/line-agent")
	require.NoError(t, err)

	_, err = c.Search(context.Background(), "", "query")
	require.Error(t, err)

	_, err = c.Search(context.Background(), "grok-4", "   ")
	require.Error(t, err)
}

func TestSearch_UpstreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	c, err := NewClient(&fakeGetter{val: `{"token":"xai-test"}`}, "/line-agent", WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.Search(context.Background(), "grok-4", "query")
	require.Error(t, err)

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusServiceUnavailable, statusErr.HTTPStatusCode())
	require.Contains(t, statusErr.Body, "upstream down")
}

func TestSearch_KeyFetchError(t *testing.T) {
	c, err := NewClient(&fakeGetter{err: io.ErrUnexpectedEOF}, "/line-agent")
	require.NoError(t, err)

	_, err = c.Search(context.Background(), "grok-4", "query")
	require.Error(t, err)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
