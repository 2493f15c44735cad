package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type readiness bool

func (r readiness) Ready() bool { return bool(r) }

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func get(t *testing.T, h http.Handler, path string) (int, result) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("content type = %q", ct)
	}
	var res result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, res
}

func mux(checkers ...Checker) *http.ServeMux {
	m := http.NewServeMux()
	New(checkers...).Register(m)
	return m
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	code, res := get(t, mux(SessionCheck(readiness(false))), "/healthz")
	if code != http.StatusOK || res.Status != "ok" {
		t.Errorf("healthz = %d %+v", code, res)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		checkers []Checker
		wantCode int
		want     map[string]string
	}{
		{
			name:     "no checkers",
			wantCode: http.StatusOK,
			want:     map[string]string{},
		},
		{
			name:     "all pass",
			checkers: []Checker{SessionCheck(readiness(true)), PingCheck("transcript", pinger{})},
			wantCode: http.StatusOK,
			want:     map[string]string{"session": "ok", "transcript": "ok"},
		},
		{
			name:     "session down",
			checkers: []Checker{SessionCheck(readiness(false)), PingCheck("transcript", pinger{})},
			wantCode: http.StatusServiceUnavailable,
			want:     map[string]string{"session": "fail: " + ErrSessionNotReady.Error(), "transcript": "ok"},
		},
		{
			name:     "store down",
			checkers: []Checker{PingCheck("transcript", pinger{err: errors.New("connection refused")})},
			wantCode: http.StatusServiceUnavailable,
			want:     map[string]string{"transcript": "fail: connection refused"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, res := get(t, mux(tt.checkers...), "/readyz")
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if len(res.Checks) != len(tt.want) {
				t.Fatalf("checks = %v, want %v", res.Checks, tt.want)
			}
			for k, v := range tt.want {
				if res.Checks[k] != v {
					t.Errorf("checks[%s] = %q, want %q", k, res.Checks[k], v)
				}
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()
	slow := func(ctx context.Context) error {
		select {
		case <-time.After(200 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := mux(Checker{Name: "a", Check: slow}, Checker{Name: "b", Check: slow}, Checker{Name: "c", Check: slow})

	start := time.Now()
	code, _ := get(t, h, "/readyz")
	if code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	if elapsed := time.Since(start); elapsed >= 550*time.Millisecond {
		t.Errorf("readyz took %v; checks did not overlap", elapsed)
	}
}

func TestReadyz_RespectsRequestCancellation(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "blocking", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", rec.Code)
	}
}
