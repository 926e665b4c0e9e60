package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/toolgate/internal/common"
	"github.com/bobmcallan/toolgate/internal/dispatch"
	"github.com/bobmcallan/toolgate/internal/upstream"
)

func TestServeHTTP_ToolsCall(t *testing.T) {
	exec := &fakeExecutor{}
	h := newTestHandler(t, exec, WithOverrideHeaders("X-Upstream-Token", "X-Upstream-Base-URL"))

	req := httptest.NewRequest(http.MethodPost, "/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"list_indents"}}`))
	req.Header.Set(common.CorrelationIDHeader, "corr-http")
	req.Header.Set("X-Upstream-Token", "Bearer caller-token")
	req.Header.Set("X-Upstream-Base-URL", "https://tenant.example.com")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "corr-http", rec.Header().Get(common.CorrelationIDHeader))

	resp := decodeResponse(t, rec.Body.Bytes())
	assert.Nil(t, resp.Error)

	assert.Equal(t, "corr-http", upstream.CorrelationIDFromContext(exec.lastCtx))
	override, ok := upstream.OverrideFromContext(exec.lastCtx)
	require.True(t, ok)
	assert.Equal(t, "Bearer caller-token", override.AuthValue)
	assert.Equal(t, "https://tenant.example.com", override.BaseURL)
}

func TestServeHTTP_NoOverrideWithoutHeaders(t *testing.T) {
	exec := &fakeExecutor{}
	h := newTestHandler(t, exec, WithOverrideHeaders("X-Upstream-Token", ""))

	req := httptest.NewRequest(http.MethodPost, "/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"list_indents"}}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	_, ok := upstream.OverrideFromContext(exec.lastCtx)
	assert.False(t, ok)
	assert.NotEmpty(t, rec.Header().Get(common.CorrelationIDHeader))
}

func TestServeHTTP_MethodNotAllowed(t *testing.T) {
	h := newTestHandler(t, &fakeExecutor{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mcp", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
}

func TestServeHTTP_NotificationAccepted(t *testing.T) {
	h := newTestHandler(t, &fakeExecutor{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestServeHTTP_BodyTooLarge(t *testing.T) {
	h := newTestHandler(t, &fakeExecutor{}, WithMaxBodyBytes(32))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{"padding":"xxxxxxxxxxxxxxxx"}}`)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestServeHTTP_ParseErrorIsJSONRPC(t *testing.T) {
	h := newTestHandler(t, &fakeExecutor{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`not json`)))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec.Body.Bytes())
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeParseError, resp.Error.Code)
}

// readResponses decodes newline-delimited responses keyed by id.
func readResponses(t *testing.T, r io.Reader) map[string]Response {
	t.Helper()
	out := make(map[string]Response)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		var resp Response
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp), scanner.Text())
		out[string(resp.ID)] = resp
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestServe_AnswersEachRequestOnce(t *testing.T) {
	h := newTestHandler(t, &fakeExecutor{})

	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26"}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		``,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"list_indents"}}`,
		`garbage`,
	}, "\n") + "\n"

	var out strings.Builder
	require.NoError(t, h.Serve(context.Background(), strings.NewReader(input), &out))

	responses := readResponses(t, strings.NewReader(out.String()))
	require.Len(t, responses, 4)
	assert.Nil(t, responses["1"].Error)
	assert.Nil(t, responses["2"].Error)
	assert.Nil(t, responses["3"].Error)
	require.NotNil(t, responses["null"].Error)
	assert.Equal(t, CodeParseError, responses["null"].Error.Code)
}

func TestServe_HandlesRequestsConcurrently(t *testing.T) {
	const n = 200
	var inFlight, peak atomic.Int32
	exec := &fakeExecutor{result: func(name string, args map[string]any) dispatch.Result {
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return dispatch.Result{OK: true, Data: args}
	}}
	h := newTestHandler(t, exec)

	var input strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&input, `{"jsonrpc":"2.0","id":%d,"method":"tools/call","params":{"name":"list_indents","arguments":{"n":%d}}}`+"\n", i, i)
	}

	var out strings.Builder
	require.NoError(t, h.Serve(context.Background(), strings.NewReader(input.String()), &out, WithConcurrency(8)))

	responses := readResponses(t, strings.NewReader(out.String()))
	require.Len(t, responses, n)
	for i := 0; i < n; i++ {
		resp, ok := responses[fmt.Sprint(i)]
		require.True(t, ok, "missing response %d", i)
		require.Nil(t, resp.Error)

		var result struct {
			StructuredContent map[string]any `json:"structuredContent"`
		}
		require.NoError(t, json.Unmarshal(resp.Result, &result))
		assert.Equal(t, fmt.Sprint(i), fmt.Sprint(result.StructuredContent["n"]))
	}
	assert.LessOrEqual(t, peak.Load(), int32(8))
}

func TestServe_StopsOnContextCancel(t *testing.T) {
	h := newTestHandler(t, &fakeExecutor{})

	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	var out strings.Builder
	done := make(chan error, 1)
	go func() { done <- h.Serve(ctx, pr, &out) }()

	_, err := pw.Write([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n"))
	require.NoError(t, err)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	// Unblock the reader goroutine.
	require.NoError(t, pw.Close())
}

func TestServe_ReportsWriteFailure(t *testing.T) {
	h := newTestHandler(t, &fakeExecutor{})

	err := h.Serve(context.Background(), strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n"), failingWriter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write response")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }
