package rekapo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rekapo/internal/auth"
	"rekapo/internal/domain"
)

type recordedRequest struct {
	method string
	path   string
	auth   string
	body   map[string]string
}

type fakeBackend struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		method: r.Method,
		path:   r.URL.Path,
		auth:   r.Header.Get("Authorization"),
		body:   body,
	})
	f.mu.Unlock()
	f.handler(w, r)
}

func (f *fakeBackend) snapshot() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(payload))
}

func TestCreateMeetingSendsTitleAndToken(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{handler: func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"id": 42, "session_title": "Standup", "start_time": "2025-03-01T09:30:00.123456", "status": "created"}`)
	}}
	server := httptest.NewServer(backend)
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, auth.NewStaticTokenSource("tok"))
	session, err := client.CreateMeeting(context.Background(), "Standup")
	require.NoError(t, err)

	assert.Equal(t, "42", session.ID)
	assert.Equal(t, "Standup", session.Title)
	assert.Equal(t, domain.MeetingStatusCreated, session.Status)
	assert.Equal(t, 2025, session.StartTime.Year())

	reqs := backend.snapshot()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].method)
	assert.Equal(t, "/meetings", reqs[0].path)
	assert.Equal(t, "Bearer tok", reqs[0].auth)
	assert.Equal(t, "Standup", reqs[0].body["session_title"])
}

func TestCreateMeetingWithoutTokenIsUnauthenticated(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{handler: func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"id": "abc"}`)
	}}
	server := httptest.NewServer(backend)
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, auth.NewStaticTokenSource(""))
	session, err := client.CreateMeeting(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "abc", session.ID)
	assert.Equal(t, domain.MeetingStatusCreated, session.Status)
	assert.Empty(t, backend.snapshot()[0].auth)
}

func TestCreateMeetingSurfacesBackendDetail(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{handler: func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, `{"detail": "token expired"}`)
	}}
	server := httptest.NewServer(backend)
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, nil)
	_, err := client.CreateMeeting(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Contains(t, err.Error(), "token expired")
}

func TestCreateMeetingRequiresID(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{handler: func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"session_title": "x"}`)
	}}
	server := httptest.NewServer(backend)
	defer server.Close()

	_, err := NewClient(Config{BaseURL: server.URL}, nil).CreateMeeting(context.Background(), "x")
	assert.ErrorContains(t, err, "no session id")
}

func TestCompleteMeetingPatchesStatus(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{handler: func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"id": 7, "status": "completed"}`)
	}}
	server := httptest.NewServer(backend)
	defer server.Close()

	session, err := NewClient(Config{BaseURL: server.URL + "/"}, nil).CompleteMeeting(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, domain.MeetingStatusCompleted, session.Status)

	reqs := backend.snapshot()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPatch, reqs[0].method)
	assert.Equal(t, "/meetings/7", reqs[0].path)
	assert.Equal(t, "completed", reqs[0].body["status"])
}

func TestHealth(t *testing.T) {
	t.Parallel()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer healthy.Close()
	assert.NoError(t, NewClient(Config{BaseURL: healthy.URL}, nil).Health(context.Background()))

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()
	assert.ErrorContains(t, NewClient(Config{BaseURL: failing.URL}, nil).Health(context.Background()), "503")
}

func TestHealthTimesOut(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	defer close(release)

	client := NewClient(Config{BaseURL: slow.URL, HealthTimeout: 50 * time.Millisecond}, nil)
	started := time.Now()
	err := client.Health(context.Background())
	assert.Error(t, err)
	assert.Less(t, time.Since(started), 2*time.Second)
}

func TestFlexibleIDRejectsObjects(t *testing.T) {
	t.Parallel()

	var id flexibleID
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &id))
	require.NoError(t, json.Unmarshal([]byte(`null`), &id))
	assert.Equal(t, flexibleID(""), id)
}

func TestParseStartTime(t *testing.T) {
	t.Parallel()

	assert.False(t, parseStartTime("2025-03-01T09:30:00Z").IsZero())
	assert.False(t, parseStartTime("2025-03-01 09:30:00").IsZero())
	assert.True(t, parseStartTime("yesterday").IsZero())
}
