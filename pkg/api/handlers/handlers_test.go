package handlers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"

	"threadloom/pkg/auth"
	"threadloom/pkg/chat"
	"threadloom/pkg/config"
	"threadloom/pkg/models"
	"threadloom/pkg/store"
	"threadloom/pkg/stream"
)

const testSigningKey = "test-signing-key"

func signAuthor(userID string) string {
	mac := hmac.New(sha256.New, []byte(testSigningKey))
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	if err := store.Open(filepath.Join(t.TempDir(), "db")); err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	config.SetRuntime(&config.RuntimeConfig{
		SigningKeys: map[string]struct{}{testSigningKey: {}},
	})

	reg := stream.NewRegistry()
	t.Cleanup(func() { _ = reg.Close() })

	r := mux.NewRouter()
	r.Use(auth.RequireSignedAuthor)
	v1 := r.PathPrefix("/v1").Subrouter()
	RegisterReconcile(v1)
	RegisterThreads(v1)
	RegisterStreams(v1, reg)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func signedRequest(t *testing.T, method, url, author string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", author)
	req.Header.Set("X-User-Signature", signAuthor(author))
	return req
}

func doJSON(t *testing.T, req *http.Request, out any) *http.Response {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp
}

func reconcileTurn(t *testing.T, srv *httptest.Server, author string, body map[string]any) chat.ReconcileResult {
	t.Helper()
	var res chat.ReconcileResult
	resp := doJSON(t, signedRequest(t, http.MethodPost, srv.URL+"/v1/reconcile", author, body), &res)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reconcile: expected 200, got %d", resp.StatusCode)
	}
	return res
}

func TestReconcileEndpointCreatesThread(t *testing.T) {
	srv := newTestServer(t)

	res := reconcileTurn(t, srv, "alice", map[string]any{
		"user_message": map[string]any{
			"id":    "msg_u1",
			"role":  "user",
			"parts": []map[string]any{{"type": "text", "text": "hello"}},
		},
		"proposed_assistant_id": "msg_a1",
	})
	if res.ThreadID == "" || res.UserMessageID != "msg_u1" || res.AssistantMessageID != "msg_a1" {
		t.Fatalf("unexpected result: %+v", res)
	}

	th, err := store.GetThread(res.ThreadID)
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if th.Author != "alice" {
		t.Fatalf("author not taken from signature: %+v", th)
	}
}

func TestReconcileEndpointWithoutUserMessage(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, signedRequest(t, http.MethodPost, srv.URL+"/v1/reconcile", "alice", map[string]any{}), nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestReconcileEndpointMissingThreadNoEffect(t *testing.T) {
	srv := newTestServer(t)

	var out map[string]string
	resp := doJSON(t, signedRequest(t, http.MethodPost, srv.URL+"/v1/reconcile", "alice", map[string]any{
		"thread_id": "th_gone",
		"user_message": map[string]any{
			"role":  "user",
			"parts": []map[string]any{{"type": "text", "text": "hi"}},
		},
	}), &out)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if out["status"] != "no_effect" {
		t.Fatalf("expected no_effect, got %+v", out)
	}
}

func TestThreadReadsAreAuthorIsolated(t *testing.T) {
	srv := newTestServer(t)
	res := reconcileTurn(t, srv, "alice", map[string]any{
		"user_message": map[string]any{
			"role":  "user",
			"parts": []map[string]any{{"type": "text", "text": "secret"}},
		},
	})

	// Another author probing the thread and a probe for a nonexistent thread
	// get the same opaque response.
	for _, url := range []string{
		srv.URL + "/v1/threads/" + res.ThreadID,
		srv.URL + "/v1/threads/" + res.ThreadID + "/messages",
		srv.URL + "/v1/threads/th_nonexistent",
	} {
		resp := doJSON(t, signedRequest(t, http.MethodGet, url, "mallory", nil), nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", url, resp.StatusCode)
		}
	}

	// The owner still reads normally.
	var th models.Thread
	resp := doJSON(t, signedRequest(t, http.MethodGet, srv.URL+"/v1/threads/"+res.ThreadID, "alice", nil), &th)
	if resp.StatusCode != http.StatusOK || th.ID != res.ThreadID {
		t.Fatalf("owner read failed: %d %+v", resp.StatusCode, th)
	}
}

func TestListThreadsMostRecentFirst(t *testing.T) {
	srv := newTestServer(t)
	a := reconcileTurn(t, srv, "alice", map[string]any{
		"user_message": map[string]any{"role": "user", "parts": []map[string]any{{"type": "text", "text": "first"}}},
	})
	b := reconcileTurn(t, srv, "alice", map[string]any{
		"user_message": map[string]any{"role": "user", "parts": []map[string]any{{"type": "text", "text": "second"}}},
	})
	reconcileTurn(t, srv, "bob", map[string]any{
		"user_message": map[string]any{"role": "user", "parts": []map[string]any{{"type": "text", "text": "other"}}},
	})

	// Touch the first thread so it becomes most recent.
	reconcileTurn(t, srv, "alice", map[string]any{
		"thread_id":    a.ThreadID,
		"user_message": map[string]any{"role": "user", "parts": []map[string]any{{"type": "text", "text": "again"}}},
	})

	var out struct {
		Threads []models.Thread `json:"threads"`
	}
	resp := doJSON(t, signedRequest(t, http.MethodGet, srv.URL+"/v1/threads", "alice", nil), &out)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(out.Threads) != 2 {
		t.Fatalf("expected alice's 2 threads, got %d", len(out.Threads))
	}
	if out.Threads[0].ID != a.ThreadID || out.Threads[1].ID != b.ThreadID {
		t.Fatalf("wrong order: %s, %s", out.Threads[0].ID, out.Threads[1].ID)
	}
}

func TestStreamStateEndpointRejectsSecondLiveStream(t *testing.T) {
	srv := newTestServer(t)
	res := reconcileTurn(t, srv, "alice", map[string]any{
		"user_message": map[string]any{"role": "user", "parts": []map[string]any{{"type": "text", "text": "hi"}}},
	})
	url := srv.URL + "/v1/threads/" + res.ThreadID + "/stream-state"

	var th models.Thread
	resp := doJSON(t, signedRequest(t, http.MethodPost, url, "alice", map[string]any{
		"is_live": true, "current_stream_id": "st_1",
	}), &th)
	if resp.StatusCode != http.StatusOK || !th.IsLive || th.CurrentStreamID != "st_1" {
		t.Fatalf("idle->live failed: %d %+v", resp.StatusCode, th)
	}

	resp = doJSON(t, signedRequest(t, http.MethodPost, url, "alice", map[string]any{
		"is_live": true, "current_stream_id": "st_2",
	}), nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on live->live, got %d", resp.StatusCode)
	}

	resp = doJSON(t, signedRequest(t, http.MethodPost, url, "alice", map[string]any{"is_live": false}), &th)
	if resp.StatusCode != http.StatusOK || th.IsLive || th.CurrentStreamID != "" {
		t.Fatalf("live->idle failed: %d %+v", resp.StatusCode, th)
	}
}

func TestRenameEndpointPatchesTitle(t *testing.T) {
	srv := newTestServer(t)
	res := reconcileTurn(t, srv, "alice", map[string]any{
		"user_message": map[string]any{"role": "user", "parts": []map[string]any{{"type": "text", "text": "hi"}}},
	})

	var th models.Thread
	resp := doJSON(t, signedRequest(t, http.MethodPatch,
		srv.URL+"/v1/threads/"+res.ThreadID+"/title", "alice",
		map[string]any{"title": "Trip planning"}), &th)
	if resp.StatusCode != http.StatusOK || th.Title != "Trip planning" {
		t.Fatalf("rename failed: %d %+v", resp.StatusCode, th)
	}

	resp = doJSON(t, signedRequest(t, http.MethodPatch,
		srv.URL+"/v1/threads/"+res.ThreadID+"/title", "alice", map[string]any{}), nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty title, got %d", resp.StatusCode)
	}
}

func TestPublishChunkPersistsDeltaAndFinishesStream(t *testing.T) {
	srv := newTestServer(t)
	res := reconcileTurn(t, srv, "alice", map[string]any{
		"user_message":          map[string]any{"role": "user", "parts": []map[string]any{{"type": "text", "text": "hi"}}},
		"proposed_assistant_id": "msg_a1",
	})

	stateURL := srv.URL + "/v1/threads/" + res.ThreadID + "/stream-state"
	var th models.Thread
	resp := doJSON(t, signedRequest(t, http.MethodPost, stateURL, "alice", map[string]any{
		"is_live": true, "current_stream_id": "st_1",
	}), &th)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream-state: expected 200, got %d", resp.StatusCode)
	}

	chunksURL := srv.URL + "/v1/streams/st_1/chunks"
	resp = doJSON(t, signedRequest(t, http.MethodPost, chunksURL, "alice", map[string]any{
		"type": "delta", "delta": "Hello", "thread_id": res.ThreadID, "message_id": "msg_a1",
	}), nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("publish delta: expected 202, got %d", resp.StatusCode)
	}
	resp = doJSON(t, signedRequest(t, http.MethodPost, chunksURL, "alice", map[string]any{
		"type": "done", "thread_id": res.ThreadID,
	}), nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("publish done: expected 202, got %d", resp.StatusCode)
	}

	rec, err := store.GetMessage(res.ThreadID, "msg_a1")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if rec.Msg.Plain() != "Hello" {
		t.Fatalf("delta not persisted: %+v", rec.Msg)
	}
	after, _ := store.GetThread(res.ThreadID)
	if after.IsLive || after.CurrentStreamID != "" {
		t.Fatalf("done chunk must return thread to idle: %+v", after)
	}
}

func TestUnsignedRequestRejected(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/v1/threads")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}
