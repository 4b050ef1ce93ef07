package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/privateness-network/bot-access/internal/rate"
)

// scriptedNode answers with statuses[i] on call i and 200 plus body once the script runs out.
func scriptedNode(t *testing.T, body string, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := int(calls.Add(1)) - 1
		if n < len(statuses) {
			w.WriteHeader(statuses[n])
			return
		}
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func get(t *testing.T, ctx context.Context, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	return req
}

func TestDoJSON_RetryBudget(t *testing.T) {
	cases := []struct {
		name      string
		retryMax  int
		statuses  []int
		wantCalls int32
		wantErr   error
	}{
		{name: "first attempt", retryMax: 2, wantCalls: 1},
		{name: "one 503 then ok", retryMax: 2, statuses: []int{503}, wantCalls: 2},
		{name: "two 502 then ok", retryMax: 2, statuses: []int{502, 502}, wantCalls: 3},
		{name: "budget exhausted", retryMax: 2, statuses: []int{500, 500, 500}, wantCalls: 3, wantErr: ErrUnavailable},
		{name: "no retries", retryMax: 0, statuses: []int{500}, wantCalls: 1, wantErr: ErrUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, calls := scriptedNode(t, `{"txid":"ab","confirmed":true}`, tc.statuses...)
			exec := New(zap.NewNop(), nil, srv.Client(), tc.retryMax, "node", nil)

			var out struct {
				TxID      string `json:"txid"`
				Confirmed bool   `json:"confirmed"`
			}
			err := exec.DoJSON(context.Background(), get(t, context.Background(), srv.URL+"/api/v1/transaction"), "", &out)

			assert.Equal(t, tc.wantCalls, calls.Load())
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				assert.Contains(t, err.Error(), "node request failed")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "ab", out.TxID)
			assert.True(t, out.Confirmed)
		})
	}
}

func TestDoJSON_4xxIsStatusErrorWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, "transaction not found")
	}))
	defer srv.Close()

	exec := New(zap.NewNop(), nil, srv.Client(), 3, "node", nil)
	err := exec.DoJSON(context.Background(), get(t, context.Background(), srv.URL), "", nil)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Status)
	assert.Equal(t, "transaction not found", string(se.Body))
	assert.True(t, IsStatus(err, http.StatusNotFound))
	assert.NotErrorIs(t, err, ErrUnavailable)
	assert.EqualValues(t, 1, calls.Load())
}

func TestDoJSON_ErrorHandlerSeesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"ok":false,"error_code":403,"description":"bot was blocked by the user"}`)
	}))
	defer srv.Close()

	errBlocked := errors.New("blocked")
	exec := New(zap.NewNop(), nil, srv.Client(), 2, "telegram", func(status int, body []byte) error {
		if status == http.StatusForbidden && strings.Contains(string(body), "blocked") {
			return errBlocked
		}
		return nil
	})

	err := exec.DoJSON(context.Background(), get(t, context.Background(), srv.URL), "", nil)
	assert.ErrorIs(t, err, errBlocked)
}

func TestDoJSON_PostBodyResentOnRetry(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if len(bodies) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	exec := New(zap.NewNop(), nil, srv.Client(), 1, "telegram", nil)
	payload := `{"chat_id":"42","text":"hi"}`
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/sendMessage", strings.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	require.NoError(t, exec.DoJSON(context.Background(), req, "", nil))
	require.Len(t, bodies, 2)
	assert.JSONEq(t, payload, bodies[0])
	assert.JSONEq(t, payload, bodies[1])
}

func TestDoJSON_DecodeError(t *testing.T) {
	srv, _ := scriptedNode(t, "<html>gateway</html>")
	exec := New(zap.NewNop(), nil, srv.Client(), 0, "node", nil)

	var out map[string]any
	err := exec.DoJSON(context.Background(), get(t, context.Background(), srv.URL), "", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode failed")
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestDoJSON_NodeDownIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	exec := New(zap.NewNop(), nil, http.DefaultClient, 1, "node", nil)
	err := exec.DoJSON(context.Background(), get(t, context.Background(), url), "", nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestDoJSON_CancelStopsRetries(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		cancel()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	exec := New(zap.NewNop(), nil, srv.Client(), 5, "node", nil)
	err := exec.DoJSON(ctx, get(t, ctx, srv.URL), "", nil)

	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 1, calls.Load())
}

func TestDoJSON_RateLimitWaitHonoursContext(t *testing.T) {
	srv, calls := scriptedNode(t, `{}`)
	limits := rate.NewManager(rate.Config{Rate: 0.001, Burst: 1})
	exec := New(zap.NewNop(), limits, srv.Client(), 0, "node", nil)

	require.NoError(t, exec.DoJSON(context.Background(), get(t, context.Background(), srv.URL), "node", nil))

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	err := exec.DoJSON(ctx, get(t, ctx, srv.URL), "node", nil)

	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 1, calls.Load(), "throttled request must not reach the node")
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, Backoff(0))
	assert.Equal(t, 250*time.Millisecond, Backoff(1))
	assert.Equal(t, 500*time.Millisecond, Backoff(7))
}

func TestDoJSON_MaskPathInLogs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	core, logs := observer.New(zap.WarnLevel)
	exec := New(zap.New(core), nil, srv.Client(), 0, "telegram", nil).
		MaskPath(func(string) string { return "/bot***/getMe" })

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/bot123:secret/getMe", nil)
	require.Error(t, exec.DoJSON(context.Background(), req, "", nil))

	require.NotZero(t, logs.Len())
	for _, entry := range logs.All() {
		assert.Equal(t, "/bot***/getMe", entry.ContextMap()["path"])
	}
}
