package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ovs-container-lab/ovs-router/pkg/metrics"
	"github.com/ovs-container-lab/ovs-router/pkg/router"
	"github.com/ovs-container-lab/ovs-router/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeRouters struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeRouters) record(op, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op+" "+name)
	return f.err
}

func (f *fakeRouters) Create(ctx context.Context, name string) (string, error) {
	if err := f.record("create", name); err != nil {
		return "", err
	}
	return "create " + name, nil
}

func (f *fakeRouters) Delete(ctx context.Context, name string) (string, error) {
	if err := f.record("delete", name); err != nil {
		return "", err
	}
	return "delete " + name, nil
}

func (f *fakeRouters) Status(ctx context.Context, name string) (*types.RouterStatus, error) {
	if err := f.record("status", name); err != nil {
		return nil, err
	}
	return &types.RouterStatus{
		Name:     name,
		Bridge:   types.BridgeStatus{Name: "kbr-" + name, Present: true},
		Attached: true,
	}, nil
}

func (f *fakeRouters) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type testServer struct {
	routers *fakeRouters
	metrics *metrics.Registry
	http    *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("rocks"), bcrypt.MinCost)
	require.NoError(t, err)
	auth, err := NewBasicAuth("onos", "", string(hash))
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	routers := &fakeRouters{}
	reg := metrics.New()
	srv := httptest.NewServer(NewServer(routers, auth, reg, logger).Handler())
	t.Cleanup(srv.Close)

	return &testServer{routers: routers, metrics: reg, http: srv}
}

func (ts *testServer) do(t *testing.T, method, path string, withAuth bool, user, pass string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, ts.http.URL+path, nil)
	require.NoError(t, err)
	if withAuth {
		req.SetBasicAuth(user, pass)
	}
	resp, err := ts.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestLiveness(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/api/v1/", false, "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "It works!", body)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestCreateAndDelete(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/v1/router/router-200", true, "onos", "rocks")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "create router-200", body)

	resp, body = ts.do(t, http.MethodDelete, "/api/v1/router/router-200", true, "onos", "rocks")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "delete router-200", body)

	assert.Equal(t, []string{"create router-200", "delete router-200"}, ts.routers.Calls())
}

func TestStatusReturnsJSON(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/api/v1/router/router-200", true, "onos", "rocks")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var status types.RouterStatus
	require.NoError(t, json.Unmarshal([]byte(body), &status))
	assert.Equal(t, "router-200", status.Name)
	assert.Equal(t, "kbr-router-200", status.Bridge.Name)
	assert.True(t, status.Attached)
}

func TestAuthRejectedBeforeOrchestration(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		withAuth bool
		user     string
		pass     string
	}{
		{"missing credentials on create", http.MethodPost, false, "", ""},
		{"wrong password on create", http.MethodPost, true, "onos", "wrong"},
		{"wrong user on delete", http.MethodDelete, true, "admin", "rocks"},
		{"missing credentials on status", http.MethodGet, false, "", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)

			resp, _ := ts.do(t, tc.method, "/api/v1/router/router-200", tc.withAuth, tc.user, tc.pass)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic")
			assert.Empty(t, ts.routers.Calls())
			assert.Equal(t, float64(1), testutil.ToFloat64(ts.metrics.AuthFailure))
		})
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"invalid name", fmt.Errorf("%w: %q", router.ErrInvalidName, "bad/name"), http.StatusBadRequest},
		{"step failure", fmt.Errorf("create router-200: attach: exit status 1"), http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.routers.err = tc.err

			resp, body := ts.do(t, http.MethodPost, "/api/v1/router/router-200", true, "onos", "rocks")
			assert.Equal(t, tc.code, resp.StatusCode)
			assert.Equal(t, tc.err.Error(), body)
			assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
		})
	}
}

func TestUnknownMethodNotRouted(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, http.MethodPut, "/api/v1/router/router-200", true, "onos", "rocks")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Empty(t, ts.routers.Calls())
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	ts.do(t, http.MethodGet, "/api/v1/", false, "", "")
	resp, body := ts.do(t, http.MethodGet, "/metrics", false, "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "ovs_router_api_requests_total")
	assert.Equal(t, float64(1),
		testutil.ToFloat64(ts.metrics.APIRequests.WithLabelValues("GET /api/v1/{$}", "200")))
}

func TestNewBasicAuth(t *testing.T) {
	_, err := NewBasicAuth("", "rocks", "")
	assert.Error(t, err)

	_, err = NewBasicAuth("onos", "", "")
	assert.Error(t, err)

	_, err = NewBasicAuth("onos", "", "not-a-hash")
	assert.Error(t, err)

	auth, err := NewBasicAuth("onos", "rocks", "")
	require.NoError(t, err)
	assert.True(t, auth.Verify("onos", "rocks"))
	assert.False(t, auth.Verify("onos", "rock"))
	assert.False(t, auth.Verify("ONOS", "rocks"))
}

func TestServeUnix(t *testing.T) {
	auth, err := NewBasicAuth("onos", "rocks", "")
	require.NoError(t, err)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	server := NewServer(&fakeRouters{}, auth, metrics.New(), logger)

	path := filepath.Join(t.TempDir(), "plugins", "ovs-router.sock")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.ServeUnix(ctx, path, 0) }()

	client := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(ctx, "unix", path)
		},
	}}

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = client.Get("http://plugin/api/v1/")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "It works!", string(body))

	resp, err = client.Post("http://plugin/Plugin.Activate", "application/json", nil)
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "RouterProvisioner")

	client.CloseIdleConnections()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ServeUnix did not return after cancel")
	}
}
