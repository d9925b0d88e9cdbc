package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type fakeLeaderboard struct {
	rows []LeaderboardEntry
	err  error

	lastLimit int
}

func (f *fakeLeaderboard) Leaderboard(_ context.Context, limit int) ([]LeaderboardEntry, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.rows) {
		return f.rows[:limit], nil
	}
	return f.rows, nil
}

func newTestServer(t *testing.T, ctrl Controller, opts Options) *httptest.Server {
	t.Helper()
	srv := NewServer(ctrl, opts)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, &fakeController{}, Options{})
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestAdminConnect(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		connectErr error
		wantStatus int
	}{
		{name: "ok", body: `{"username":"streamer"}`, wantStatus: http.StatusOK},
		{name: "missing username", body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "bad json", body: `{`, wantStatus: http.StatusBadRequest},
		{name: "upstream failure", body: `{"username":"streamer"}`, connectErr: errors.New("gateway down"), wantStatus: http.StatusBadGateway},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := &fakeController{connectErr: tc.connectErr}
			ts := newTestServer(t, ctrl, Options{})

			resp, err := http.Post(ts.URL+"/admin/connect", "application/json", strings.NewReader(tc.body))
			if err != nil {
				t.Fatalf("POST /admin/connect: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}
		})
	}
}

func TestAdminStatusAndDisconnect(t *testing.T) {
	ctrl := &fakeController{connected: true, username: "streamer"}
	ts := newTestServer(t, ctrl, Options{})

	resp, err := http.Get(ts.URL + "/admin/status")
	if err != nil {
		t.Fatalf("GET /admin/status: %v", err)
	}
	var status struct {
		Connected   bool   `json:"connected"`
		Username    string `json:"username"`
		Subscribers int    `json:"subscribers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	resp.Body.Close()
	if !status.Connected || status.Username != "streamer" || status.Subscribers != 0 {
		t.Fatalf("status = %+v", status)
	}

	resp, err = http.Post(ts.URL+"/admin/disconnect", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /admin/disconnect: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("disconnect status = %d", resp.StatusCode)
	}
	if ctrl.disconnectCalls() != 1 {
		t.Fatalf("disconnect calls = %d", ctrl.disconnectCalls())
	}
}

func TestAdminLeaderboard(t *testing.T) {
	board := &fakeLeaderboard{rows: []LeaderboardEntry{
		{UserID: "7000000000000000001", Nickname: "Alice", Diamonds: 500, Gifts: 12},
		{UserID: "7000000000000000002", Nickname: "Bob", Diamonds: 120, Gifts: 3},
	}}
	ts := newTestServer(t, &fakeController{}, Options{Leaderboard: board})

	resp, err := http.Get(ts.URL + "/admin/leaderboard?limit=1")
	if err != nil {
		t.Fatalf("GET /admin/leaderboard: %v", err)
	}
	defer resp.Body.Close()
	var rows []LeaderboardEntry
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		t.Fatalf("decode rows: %v", err)
	}
	if len(rows) != 1 || rows[0].Nickname != "Alice" {
		t.Fatalf("rows = %+v", rows)
	}
	if board.lastLimit != 1 {
		t.Fatalf("limit = %d, want 1", board.lastLimit)
	}

	// an oversized limit is clamped
	resp2, err := http.Get(ts.URL + "/admin/leaderboard?limit=5000")
	if err != nil {
		t.Fatalf("GET /admin/leaderboard: %v", err)
	}
	resp2.Body.Close()
	if board.lastLimit != 100 {
		t.Fatalf("clamped limit = %d, want 100", board.lastLimit)
	}
}

func TestAdminLeaderboardAbsentWithoutStore(t *testing.T) {
	ts := newTestServer(t, &fakeController{}, Options{})
	resp, err := http.Get(ts.URL + "/admin/leaderboard")
	if err != nil {
		t.Fatalf("GET /admin/leaderboard: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAdminRateLimit(t *testing.T) {
	ts := newTestServer(t, &fakeController{connected: true}, Options{
		RateLimitRPS:   1,
		RateLimitBurst: 1,
	})

	get := func() int {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/admin/status", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.9")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET /admin/status: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := get(); code != http.StatusOK {
		t.Fatalf("first request = %d", code)
	}
	if code := get(); code != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", code)
	}
}

func TestMetricsEndpointToggle(t *testing.T) {
	enabled := newTestServer(t, &fakeController{}, Options{EnableMetrics: true})
	resp, err := http.Get(enabled.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics enabled status = %d", resp.StatusCode)
	}

	disabled := newTestServer(t, &fakeController{}, Options{})
	resp, err = http.Get(disabled.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("metrics disabled status = %d, want 404", resp.StatusCode)
	}
}
