package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/models"
	"chatrelay/internal/storage"
	"chatrelay/internal/validate"
)

func writeFrame(t *testing.T, w http.ResponseWriter, event, data string) {
	t.Helper()
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	require.NoError(t, err)
	w.(http.Flusher).Flush()
}

func streamingServer(t *testing.T, fragments []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range fragments {
			writeFrame(t, w, "stream", fmt.Sprintf(`{"content":%q}`, f))
		}
		writeFrame(t, w, "done", `{"message":{"id":"m1","role":"assistant","parts":[{"type":"text","text":"ok"}]}}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSessionStreamsReply(t *testing.T) {
	srv := streamingServer(t, []string{"Hel", "lo ", "there"})

	var mu sync.Mutex
	var fragments []string
	var states []State
	sess := New(srv.URL,
		OnFragment(func(f string) {
			mu.Lock()
			fragments = append(fragments, f)
			mu.Unlock()
		}),
		OnStateChange(func(st State) {
			mu.Lock()
			states = append(states, st)
			mu.Unlock()
		}),
	)

	err := sess.Submit(context.Background(), "  Hello?  ")
	require.NoError(t, err)

	assert.Equal(t, StateReady, sess.State())
	assert.Equal(t, []State{StateSending, StateStreaming, StateReady}, states)
	assert.Equal(t, []string{"Hel", "lo ", "there"}, fragments)

	msgs := sess.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "Hello?", msgs[0].Text(), "input should be trimmed before sending")
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hel" + "lo " + "there", msgs[1].Text())
	assert.NotEmpty(t, msgs[1].ID)
}

func TestSessionRejectsConcurrentSubmit(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeFrame(t, w, "stream", `{"content":"partial"}`)
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		writeFrame(t, w, "done", `{"message":null}`)
	}))
	defer srv.Close()

	var once sync.Once
	firstFrame := make(chan struct{})
	sess := New(srv.URL, OnFragment(func(string) {
		once.Do(func() { close(firstFrame) })
	}))

	done := make(chan error, 1)
	go func() { done <- sess.Submit(context.Background(), "first") }()

	<-firstFrame
	assert.Equal(t, StateStreaming, sess.State())
	assert.ErrorIs(t, sess.Submit(context.Background(), "second"), ErrRequestInFlight)

	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, StateReady, sess.State())
	msgs := sess.Messages()
	require.Len(t, msgs, 2, "rejected submission must not append a message")
	assert.Equal(t, "first", msgs[0].Text())
}

func TestSessionValidationFailureLeavesStateUnchanged(t *testing.T) {
	sess := New("http://unused.invalid")
	sess.noticeTTL = 20 * time.Millisecond

	err := sess.Submit(context.Background(), "   ")
	assert.ErrorIs(t, err, validate.ErrEmptyMessage)
	assert.Equal(t, StateIdle, sess.State())
	assert.Empty(t, sess.Messages())
	assert.NotEmpty(t, sess.Notice())

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, sess.Notice(), "notice should expire")
}

func TestSessionKeepsUserMessageAfterFailure(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("Content-Type", "text/event-stream")
		if requests == 1 {
			// Drop mid-stream without a terminal frame.
			writeFrame(t, w, "stream", `{"content":"par"}`)
			return
		}
		writeFrame(t, w, "stream", `{"content":"recovered"}`)
		writeFrame(t, w, "done", `{"message":null}`)
	}))
	defer srv.Close()

	sess := New(srv.URL)

	err := sess.Submit(context.Background(), "first try")
	require.Error(t, err)
	assert.Equal(t, StateErrored, sess.State())
	assert.NotEmpty(t, sess.Notice())

	msgs := sess.Messages()
	require.Len(t, msgs, 1, "failed exchange keeps the user message without a reply")
	assert.Equal(t, "first try", msgs[0].Text())

	// An errored session accepts the next submission.
	require.NoError(t, sess.Submit(context.Background(), "second try"))
	assert.Equal(t, StateReady, sess.State())
	msgs = sess.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "recovered", msgs[2].Text())
}

func TestSessionErrorFrameFailsExchange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeFrame(t, w, "stream", `{"content":"par"}`)
		writeFrame(t, w, "error", `{"message":"UpstreamUnavailable"}`)
	}))
	defer srv.Close()

	sess := New(srv.URL)
	err := sess.Submit(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UpstreamUnavailable")
	assert.Equal(t, StateErrored, sess.State())
}

func TestSessionSurfacesRejectionCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":"UpstreamUnavailable"}`)
	}))
	defer srv.Close()

	sess := New(srv.URL)
	err := sess.Submit(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UpstreamUnavailable")
	assert.Equal(t, StateErrored, sess.State())
}

func TestSessionCloseDiscardsInFlightExchange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeFrame(t, w, "stream", `{"content":"par"}`)
		<-r.Context().Done()
	}))
	defer srv.Close()

	var once sync.Once
	firstFrame := make(chan struct{})
	sess := New(srv.URL, OnFragment(func(string) {
		once.Do(func() { close(firstFrame) })
	}))

	done := make(chan error, 1)
	go func() { done <- sess.Submit(context.Background(), "hello") }()

	<-firstFrame
	sess.Close()

	assert.ErrorIs(t, <-done, ErrSessionClosed)
	assert.ErrorIs(t, sess.Submit(context.Background(), "again"), ErrSessionClosed)

	msgs := sess.Messages()
	require.Len(t, msgs, 1, "no mutation may land after Close")
	assert.Empty(t, sess.Notice())
}

func TestSessionRestoresAndPersistsConversation(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.Migrate(db))
	cache := storage.NewConversationCache(db)

	saved := models.Conversation{
		models.NewMessage(models.RoleUser, "earlier question"),
		models.NewMessage(models.RoleAssistant, "earlier answer"),
	}
	require.NoError(t, cache.Save(context.Background(), saved))

	srv := streamingServer(t, []string{"fresh answer"})
	sess := New(srv.URL, WithCache(cache))

	msgs := sess.Messages()
	require.Len(t, msgs, 2, "cached conversation should be restored")
	assert.Equal(t, "earlier question", msgs[0].Text())

	require.NoError(t, sess.Submit(context.Background(), "new question"))
	require.Len(t, sess.Messages(), 4)

	persisted, err := cache.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, persisted, 4)
	assert.Equal(t, "fresh answer", persisted[3].Text())
}
