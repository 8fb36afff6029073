package liveio

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"gensim/runtime"
)

func TestWebHandlerMockTakesPriorityOverLiveBackend(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	mocks := map[string]WebMockEntry{"^" + regexp.QuoteMeta(srv.URL) + "$": {Status: 200, Body: "mocked"}}
	h := NewWebHandler(mocks, srv.Client(), 0, nil)

	resp := h.Do(runtime.NondetRequest{WebURL: srv.URL})
	require.Equal(t, 200, resp.WebStatus)
	require.Equal(t, "mocked", string(resp.WebBody))
	require.False(t, called, "a matched mock must short-circuit the live request")
}

func TestWebHandlerFallsThroughToLiveBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("live"))
	}))
	defer srv.Close()

	h := NewWebHandler(nil, srv.Client(), 0, nil)
	resp := h.Do(runtime.NondetRequest{WebURL: srv.URL})
	require.Equal(t, 200, resp.WebStatus)
	require.Equal(t, "live", string(resp.WebBody))
}

func TestWebHandlerReportsTransportFailureAsBadGateway(t *testing.T) {
	h := NewWebHandler(nil, http.DefaultClient, 0, nil)
	resp := h.Do(runtime.NondetRequest{WebURL: "http://127.0.0.1:1"})
	require.Equal(t, 502, resp.WebStatus)
	require.NotEmpty(t, resp.WebBody)
}
