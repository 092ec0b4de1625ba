package builtin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Conveyor/internal/action"
	"github.com/shaiso/Conveyor/internal/executor"
)

func newHTTPExecutor(t *testing.T) (*executor.Executor, *entries) {
	t.Helper()
	reg := action.NewRegistry()
	act := NewHTTPRequestAction(3)
	act.Retry.BackoffBase = 1 // 1ns: тесты не ждут backoff
	require.NoError(t, reg.Register(act))
	return newExecutor(t, reg, nil)
}

func TestHTTPRequest_JSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"order_id":42}`, string(body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accepted":true}`))
	}))
	defer srv.Close()

	exec, sink := newHTTPExecutor(t)
	input := json.RawMessage(`{"method":"post","url":"` + srv.URL + `","headers":{"X-Token":"secret"},"body":{"order_id":42}}`)

	res := exec.ExecuteByName(context.Background(), HTTPRequestAction, input, executor.Options{})
	require.True(t, res.Success, res.Error)

	resp, ok := res.Data.(*HTTPResponse)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"accepted": true}, resp.Body)
	assert.Len(t, sink.all, 1)
}

func TestHTTPRequest_ServerErrorIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("done"))
	}))
	defer srv.Close()

	exec, sink := newHTTPExecutor(t)
	res := exec.ExecuteByName(context.Background(), HTTPRequestAction,
		&HTTPRequest{URL: srv.URL}, executor.Options{})

	require.True(t, res.Success, res.Error)
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, "done", res.Data.(*HTTPResponse).Body)
	require.Len(t, sink.all, 3)
	assert.False(t, sink.all[0].Final)
	assert.True(t, sink.all[2].Final)
}

func TestHTTPRequest_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	exec, _ := newHTTPExecutor(t)
	res := exec.ExecuteByName(context.Background(), HTTPRequestAction,
		HTTPRequest{URL: srv.URL}, executor.Options{})

	require.False(t, res.Success)
	assert.EqualValues(t, 1, calls.Load())

	var httpErr *HTTPError
	require.ErrorAs(t, res.Err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
}

func TestHTTPRequest_ValidationError(t *testing.T) {
	exec, _ := newHTTPExecutor(t)

	res := exec.ExecuteByName(context.Background(), HTTPRequestAction,
		map[string]any{"method": "GET"}, executor.Options{})

	require.False(t, res.Success)
	assert.Equal(t, http.StatusBadRequest, action.StatusOf(res.Err))
}

func TestHTTPRequest_NoFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "/end", http.StatusFound)
			return
		}
		_, _ = w.Write([]byte("end"))
	}))
	defer srv.Close()

	follow := false
	resp, err := doHTTP(context.Background(), &HTTPRequest{
		Method:          http.MethodGet,
		URL:             srv.URL + "/start",
		Headers:         map[string]string{},
		FollowRedirects: &follow,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}
