package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/HerbHall/metricd/internal/archive"
	"github.com/HerbHall/metricd/internal/registry"
	"github.com/HerbHall/metricd/internal/script"
	"github.com/HerbHall/metricd/internal/server"
	"github.com/HerbHall/metricd/internal/testutil"
	"github.com/HerbHall/metricd/pkg/plugin"
)

// newPluginServer mounts the javascript and archive plugins behind the
// real server so problem responses are checked on the routes that emit
// them.
func newPluginServer(t *testing.T) http.Handler {
	t.Helper()
	reg := registry.New(zap.NewNop())
	for _, p := range []plugin.Plugin{script.NewManager(), archive.New()} {
		if err := reg.Register(p); err != nil {
			t.Fatalf("register %s: %v", p.Info().Name, err)
		}
	}
	if err := reg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	st := testutil.NewStore(t)
	sched := testutil.NewMockScheduler()
	pipe := testutil.NewMockPipeline()
	err := reg.InitAll(context.Background(), func(string) plugin.Dependencies {
		return plugin.Dependencies{Logger: zap.NewNop(), Store: st, Scheduler: sched, Pipeline: pipe}
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	for _, name := range []string{script.PluginName, archive.PluginName} {
		if reg.IsDisabled(name) {
			t.Fatalf("plugin %s disabled during init", name)
		}
	}
	return server.New("127.0.0.1:0", reg, zap.NewNop()).Handler()
}

func getProblem(t *testing.T, h http.Handler, path string, wantStatus int) server.Problem {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))

	if rec.Code != wantStatus {
		t.Fatalf("GET %s status = %d, want %d (body %s)", path, rec.Code, wantStatus, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("GET %s content-type = %q, want %q", path, ct, "application/problem+json")
	}
	var p server.Problem
	if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if p.Status != wantStatus {
		t.Errorf("problem status = %d, want %d", p.Status, wantStatus)
	}
	if p.Instance != httptest.NewRequest(http.MethodGet, path, http.NoBody).URL.Path {
		t.Errorf("instance = %q, want the request path", p.Instance)
	}
	return p
}

func TestUnknownScriptInstance(t *testing.T) {
	h := newPluginServer(t)
	p := getProblem(t, h, "/api/v1/javascript/instances/xyz", http.StatusNotFound)

	if p.Type != server.ProblemTypeNotFound {
		t.Errorf("type = %q, want %q", p.Type, server.ProblemTypeNotFound)
	}
	if p.Title != "Not Found" {
		t.Errorf("title = %q, want %q", p.Title, "Not Found")
	}
	if want := `no script instance "xyz"`; p.Detail != want {
		t.Errorf("detail = %q, want %q", p.Detail, want)
	}
}

func TestArchiveQueryProblems(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		status int
		typ    string
		detail string
	}{
		{
			name:   "zero limit",
			path:   "/api/v1/archive/notifications?limit=0",
			status: http.StatusBadRequest,
			typ:    server.ProblemTypeBadRequest,
			detail: "limit must be a positive integer",
		},
		{
			name:   "non-numeric limit on samples",
			path:   "/api/v1/archive/samples/demo?limit=many",
			status: http.StatusBadRequest,
			typ:    server.ProblemTypeBadRequest,
			detail: "limit must be a positive integer",
		},
		{
			name:   "unknown severity",
			path:   "/api/v1/archive/notifications?severity=LOUD",
			status: http.StatusBadRequest,
			typ:    server.ProblemTypeBadRequest,
			detail: `invalid severity "LOUD"`,
		},
		{
			name:   "missing notification",
			path:   "/api/v1/archive/notifications/nope",
			status: http.StatusNotFound,
			typ:    server.ProblemTypeNotFound,
			detail: "no notification nope",
		},
	}

	h := newPluginServer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := getProblem(t, h, tt.path, tt.status)
			if p.Type != tt.typ {
				t.Errorf("type = %q, want %q", p.Type, tt.typ)
			}
			if p.Detail != tt.detail {
				t.Errorf("detail = %q, want %q", p.Detail, tt.detail)
			}
		})
	}
}

func TestProblemBodyHasOnlyProblemFields(t *testing.T) {
	h := newPluginServer(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/javascript/instances/xyz", http.NoBody))

	var raw map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&raw); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	for key := range raw {
		switch key {
		case "type", "title", "status", "detail", "instance":
		default:
			t.Errorf("unexpected problem field %q", key)
		}
	}
	if len(raw) != 5 {
		t.Errorf("problem has %d fields, want 5", len(raw))
	}
}
