package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/backupwatch/server/internal/eventbus"
	"github.com/backupwatch/server/internal/store"
)

func newTestStore(t *testing.T) *store.Memory {
	t.Helper()
	st := store.NewMemory()
	_, err := st.CreateJob(context.Background(), store.ExpectedJob{
		Company:      "Acme",
		City:         "Lyon",
		Neighborhood: "Part-Dieu",
		DatabaseName: "orders",
		IsActive:     true,
	})
	require.NoError(t, err)
	return st
}

func TestHandleListJobs(t *testing.T) {
	st := newTestStore(t)
	s := New(st, nil)
	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/jobs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var jobs []store.ExpectedJob
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&jobs))
	require.Len(t, jobs, 1)
	require.Equal(t, "orders", jobs[0].DatabaseName)
}

func TestHandleGetJobNotFound(t *testing.T) {
	st := newTestStore(t)
	s := New(st, nil)
	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/jobs/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocketBroadcastsDecisions(t *testing.T) {
	st := newTestStore(t)
	jobs, err := st.Jobs(context.Background())
	require.NoError(t, err)
	job := jobs[0]

	bus := eventbus.New()
	defer bus.Close()

	s := New(st, bus)
	srv := httptest.NewServer(s)
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):] + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the server a moment to register the client before publishing.
	time.Sleep(20 * time.Millisecond)

	bus.Publish(eventbus.TopicAll, eventbus.Decision{
		Job:       job,
		Entry:     store.BackupEntry{Status: store.EntrySuccess},
		Timestamp: time.Now(),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var view decisionView
	require.NoError(t, json.Unmarshal(msg, &view))
	require.Equal(t, job.ID, view.JobID)
	require.Equal(t, "SUCCESS", view.Status)
}
