package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatsync/pkg/chat"
	"chatsync/pkg/feed"
	"chatsync/pkg/ingest"
	"chatsync/pkg/models"
	"chatsync/pkg/presence"
	"chatsync/pkg/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *chat.Service) {
	t.Helper()
	require.NoError(t, store.Open(t.TempDir()))
	hub := feed.NewHub()
	q := ingest.NewQueue(256)
	applier := ingest.NewApplier(q, hub)
	applier.Start()
	tracker := presence.NewTracker(q, 2*time.Second, 6*time.Second)
	svc := chat.New(q, hub, tracker, 50, 100)

	srv := httptest.NewServer(New(svc).Router(10_000, 10_000))
	t.Cleanup(func() {
		srv.Close()
		tracker.Close()
		q.CloseAndDrain()
		applier.Stop()
		_ = store.Close()
	})
	return srv, svc
}

func doJSON(t *testing.T, method, url, actor string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set("X-User-ID", actor)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func createChatHTTP(t *testing.T, srv *httptest.Server, members ...string) models.Conversation {
	t.Helper()
	ps := make([]models.Participant, 0, len(members))
	for _, uid := range members {
		ps = append(ps, models.Participant{UID: uid})
	}
	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/chats", members[0], map[string]any{
		"type":         "direct",
		"participants": ps,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[models.Conversation](t, resp)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestChatLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)

	conv := createChatHTTP(t, srv, "u1", "u2")
	require.NotEmpty(t, conv.ID)

	// invalid type is rejected before any write
	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/chats", "u1", map[string]any{
		"type":         "smoke-signal",
		"participants": []models.Participant{{UID: "u1"}, {UID: "u2"}},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/chats/"+conv.ID, "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[models.Conversation](t, resp)
	require.Equal(t, conv.ID, got.ID)

	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/chats/nope", "u1", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/chats?member=u2", "u2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[struct {
		Chats []models.Conversation `json:"chats"`
	}](t, resp)
	require.Len(t, list.Chats, 1)
}

func TestMessagesOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	conv := createChatHTTP(t, srv, "u1", "u2")
	msgURL := fmt.Sprintf("%s/v1/chats/%s/messages", srv.URL, conv.ID)

	resp := doJSON(t, http.MethodPost, msgURL, "u1", map[string]any{"text": "hello"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// empty message rejected
	resp = doJSON(t, http.MethodPost, msgURL, "u1", map[string]any{"text": "   "})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// non-participant rejected
	resp = doJSON(t, http.MethodPost, msgURL, "intruder", map[string]any{"text": "hi"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, msgURL+"?limit=10", "u2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[struct {
		Chat     string           `json:"chat"`
		Messages []models.Message `json:"messages"`
	}](t, resp)
	require.Len(t, page.Messages, 1)
	require.Equal(t, "hello", page.Messages[0].Content.Text)
	require.NotZero(t, page.Messages[0].TS)

	// the recipient's counter moved with the send
	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/chats/"+conv.ID, "u2", nil)
	got := decode[models.Conversation](t, resp)
	require.Equal(t, 1, got.Unread("u2"))
}

func TestDeleteMessageOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	conv := createChatHTTP(t, srv, "u1", "u2")
	msgURL := fmt.Sprintf("%s/v1/chats/%s/messages", srv.URL, conv.ID)

	resp := doJSON(t, http.MethodPost, msgURL, "u1", map[string]any{"text": "oops"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, msgURL, "u1", nil)
	page := decode[struct {
		Messages []models.Message `json:"messages"`
	}](t, resp)
	msgID := page.Messages[0].ID

	// only the sender may delete
	resp = doJSON(t, http.MethodDelete, msgURL+"/"+msgID, "u2", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	// no actor header
	resp = doJSON(t, http.MethodDelete, msgURL+"/"+msgID, "", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodDelete, msgURL+"/"+msgID, "u1", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, msgURL, "u1", nil)
	page = decode[struct {
		Messages []models.Message `json:"messages"`
	}](t, resp)
	require.Len(t, page.Messages, 1)
	require.True(t, page.Messages[0].Deleted)
	require.Nil(t, page.Messages[0].Content)
}

func TestMarkReadOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	conv := createChatHTTP(t, srv, "u1", "u2")
	msgURL := fmt.Sprintf("%s/v1/chats/%s/messages", srv.URL, conv.ID)

	for i := 0; i < 2; i++ {
		resp := doJSON(t, http.MethodPost, msgURL, "u1", map[string]any{"text": "ping"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}

	resp := doJSON(t, http.MethodPost, fmt.Sprintf("%s/v1/chats/%s/read", srv.URL, conv.ID), "u2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/chats/"+conv.ID, "u2", nil)
	got := decode[models.Conversation](t, resp)
	require.Equal(t, 0, got.Unread("u2"))

	resp = doJSON(t, http.MethodGet, msgURL, "u2", nil)
	page := decode[struct {
		Messages []models.Message `json:"messages"`
	}](t, resp)
	for _, m := range page.Messages {
		require.True(t, m.IsReadBy("u2"))
	}
}

func TestPresenceOverHTTP(t *testing.T) {
	srv, svc := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/v1/presence/ghost", "u1", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	svc.Tracker().SetOnline("u1", true)
	require.Eventually(t, func() bool {
		r, err := http.Get(srv.URL + "/v1/presence/u1")
		if err != nil {
			return false
		}
		defer r.Body.Close()
		if r.StatusCode != http.StatusOK {
			return false
		}
		var p models.Presence
		return json.NewDecoder(r.Body).Decode(&p) == nil && p.Online
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRateLimitOverHTTP(t *testing.T) {
	require.NoError(t, store.Open(t.TempDir()))
	hub := feed.NewHub()
	q := ingest.NewQueue(64)
	applier := ingest.NewApplier(q, hub)
	applier.Start()
	tracker := presence.NewTracker(q, 2*time.Second, 6*time.Second)
	svc := chat.New(q, hub, tracker, 50, 100)
	srv := httptest.NewServer(New(svc).Router(1, 1))
	t.Cleanup(func() {
		srv.Close()
		tracker.Close()
		q.CloseAndDrain()
		applier.Stop()
		_ = store.Close()
	})

	codes := make(map[int]int)
	for i := 0; i < 5; i++ {
		resp := doJSON(t, http.MethodGet, srv.URL+"/v1/chats?member=u1", "u1", nil)
		codes[resp.StatusCode]++
		resp.Body.Close()
	}
	require.NotZero(t, codes[http.StatusTooManyRequests])

	// health stays reachable regardless
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
