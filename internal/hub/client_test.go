package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"pkt.systems/jovian/internal/retryx"
	"pkt.systems/jovian/schema"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(Config{
		BaseURL:     server.URL,
		Token:       "secret",
		IdleTimeout: time.Second,
		Retry: retryx.Policy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
			Multiplier:  2,
		},
	}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client, server
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func TestGetOrCreateUserProvisionsOnce(t *testing.T) {
	var created atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("GET /hub/api/users/alice", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "token secret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if !created.Load() {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, schema.UserRecord{Name: "alice"})
	})
	mux.HandleFunc("POST /hub/api/users/alice", func(w http.ResponseWriter, r *http.Request) {
		if created.Swap(true) {
			w.WriteHeader(http.StatusConflict)
			return
		}
		writeJSON(w, http.StatusCreated, schema.UserRecord{Name: "alice"})
	})
	client, _ := testClient(t, mux)

	user, err := client.GetOrCreateUser(t.Context(), "alice")
	if err != nil {
		t.Fatalf("first get-or-create: %v", err)
	}
	if user.Name != "alice" {
		t.Fatalf("unexpected user %+v", user)
	}

	// Second call must succeed via plain GET without duplicating state.
	if _, err := client.GetOrCreateUser(t.Context(), "alice"); err != nil {
		t.Fatalf("second get-or-create: %v", err)
	}
}

func TestGetOrCreateUserToleratesCreateRace(t *testing.T) {
	gets := 0
	mux := http.NewServeMux()
	mux.HandleFunc("GET /hub/api/users/alice", func(w http.ResponseWriter, r *http.Request) {
		gets++
		if gets == 1 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, schema.UserRecord{Name: "alice"})
	})
	mux.HandleFunc("POST /hub/api/users/alice", func(w http.ResponseWriter, r *http.Request) {
		// Another actor created the user between our GET and POST.
		w.WriteHeader(http.StatusConflict)
	})
	client, _ := testClient(t, mux)

	user, err := client.GetOrCreateUser(t.Context(), "alice")
	if err != nil {
		t.Fatalf("get-or-create under race: %v", err)
	}
	if user.Name != "alice" {
		t.Fatalf("unexpected user %+v", user)
	}
}

func TestGetOrCreateUserRetriesServerErrors(t *testing.T) {
	attempts := 0
	mux := http.NewServeMux()
	mux.HandleFunc("GET /hub/api/users/alice", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, schema.UserRecord{Name: "alice"})
	})
	client, _ := testClient(t, mux)

	if _, err := client.GetOrCreateUser(t.Context(), "alice"); err != nil {
		t.Fatalf("get-or-create with flaky backend: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRequestStartStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   schema.ServerPhase
	}{
		{name: "created", status: http.StatusCreated, want: schema.ServerReady},
		{name: "accepted", status: http.StatusAccepted, want: schema.ServerStarting},
		{name: "rejected", status: http.StatusBadRequest, body: `{"message":"quota exceeded"}`, want: schema.ServerFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("POST /hub/api/users/alice/server", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				if tc.body != "" {
					_, _ = w.Write([]byte(tc.body))
				}
			})
			client, _ := testClient(t, mux)

			state, err := client.RequestStart(t.Context(), schema.UserRecord{Name: "alice"})
			if err != nil {
				t.Fatalf("request start: %v", err)
			}
			if state.Phase != tc.want {
				t.Fatalf("expected phase %s, got %s", tc.want, state.Phase)
			}
			if tc.want == schema.ServerFailed && state.Reason != "quota exceeded" {
				t.Fatalf("expected failure reason, got %q", state.Reason)
			}
		})
	}
}

func TestRequestStartUnexpectedStatusIsFatal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /hub/api/users/alice/server", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	client, _ := testClient(t, mux)

	_, err := client.RequestStart(t.Context(), schema.UserRecord{Name: "alice"})
	if err == nil {
		t.Fatalf("expected protocol error")
	}
	if schema.KindOf(err) != schema.KindProtocol {
		t.Fatalf("expected protocol kind, got %v", schema.KindOf(err))
	}
}

func TestRequestStartSkipsNetworkWhenReady(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	})
	client, _ := testClient(t, mux)

	user := schema.UserRecord{
		Name:    "alice",
		Servers: map[string]schema.Server{"": {Ready: true}},
	}
	state, err := client.RequestStart(t.Context(), user)
	if err != nil {
		t.Fatalf("request start: %v", err)
	}
	if !state.Ready() {
		t.Fatalf("expected ready state, got %+v", state)
	}
}

func TestEnsureReadyDrivesProgressStream(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /hub/api/users/alice", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, schema.UserRecord{Name: "alice"})
	})
	mux.HandleFunc("POST /hub/api/users/alice/server", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("GET /hub/api/users/alice/server/progress", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, event := range []string{
			`{"progress":10,"message":"scheduling"}`,
			`{"progress":70,"message":"pulling image"}`,
			`{"progress":100,"message":"ready","ready":true}`,
		} {
			_, _ = w.Write([]byte("data: " + event + "\n\n"))
			flusher.Flush()
		}
	})
	client, server := testClient(t, mux)

	var seen []schema.ProgressEvent
	state, err := client.EnsureReady(t.Context(), "alice", func(event schema.ProgressEvent) {
		seen = append(seen, event)
	})
	if err != nil {
		t.Fatalf("ensure ready: %v", err)
	}
	if !state.Ready() {
		t.Fatalf("expected ready state, got %+v", state)
	}
	if state.Endpoint != server.URL+"/user/alice" {
		t.Fatalf("unexpected endpoint %q", state.Endpoint)
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 progress events, got %d", len(seen))
	}
}

func TestEnsureReadyFailedAttempt(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /hub/api/users/alice", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, schema.UserRecord{Name: "alice"})
	})
	mux.HandleFunc("POST /hub/api/users/alice/server", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("GET /hub/api/users/alice/server/progress", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(`data: {"progress":40,"message":"no capacity","failed":true}` + "\n\n"))
	})
	client, _ := testClient(t, mux)

	state, err := client.EnsureReady(t.Context(), "alice", nil)
	if err != nil {
		t.Fatalf("ensure ready: %v", err)
	}
	if state.Phase != schema.ServerFailed {
		t.Fatalf("expected failed state, got %+v", state)
	}
	if state.Reason != "no capacity" {
		t.Fatalf("unexpected failure reason %q", state.Reason)
	}
}
