package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"threadloom/pkg/auth"
	"threadloom/pkg/chat"
	"threadloom/pkg/models"
	"threadloom/pkg/store"
)

// RegisterThreads registers thread listing, reads, the streaming-state
// patch and the rename entry point.
func RegisterThreads(r *mux.Router) {
	r.HandleFunc("/threads", listThreads).Methods(http.MethodGet)
	r.HandleFunc("/threads/{id}", getThread).Methods(http.MethodGet)
	r.HandleFunc("/threads/{id}/messages", listThreadMessages).Methods(http.MethodGet)
	r.HandleFunc("/threads/{id}/stream-state", patchStreamState).Methods(http.MethodPost)
	r.HandleFunc("/threads/{id}/title", renameThread).Methods(http.MethodPatch)
}

// authorizedThread resolves {id} and enforces ownership. A missing thread
// and a thread owned by someone else return the same opaque 401 so callers
// cannot probe which ids exist. Backend callers without a signed author
// skip the ownership check.
func authorizedThread(w http.ResponseWriter, r *http.Request) (models.Thread, bool) {
	id := mux.Vars(r)["id"]
	author := auth.AuthorIDFromContext(r.Context())
	th, err := store.GetThread(id)
	if err != nil {
		if errors.Is(err, store.ErrThreadNotFound) {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		} else {
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		}
		return models.Thread{}, false
	}
	if author != "" && th.Author != author {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return models.Thread{}, false
	}
	return th, true
}

// listThreads handles GET /threads: the verified caller's threads, most
// recently updated first.
func listThreads(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	author := auth.AuthorIDFromContext(r.Context())
	if author == "" {
		author = r.URL.Query().Get("author")
	}
	if author == "" {
		http.Error(w, `{"error":"author required"}`, http.StatusBadRequest)
		return
	}

	out, err := store.ListThreadsByAuthor(author)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if out == nil {
		out = []models.Thread{}
	}
	_ = json.NewEncoder(w).Encode(struct {
		Threads []models.Thread `json:"threads"`
	}{Threads: out})
}

func getThread(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	th, ok := authorizedThread(w, r)
	if !ok {
		return
	}
	_ = json.NewEncoder(w).Encode(th)
}

func listThreadMessages(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	th, ok := authorizedThread(w, r)
	if !ok {
		return
	}
	msgs, err := store.ListMessages(th.ID)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	_ = json.NewEncoder(w).Encode(struct {
		Thread   string           `json:"thread"`
		Messages []models.Message `json:"messages"`
	}{Thread: th.ID, Messages: msgs})
}

type streamStateBody struct {
	IsLive          bool   `json:"is_live"`
	StreamStartedTS int64  `json:"stream_started_ts,omitempty"`
	CurrentStreamID string `json:"current_stream_id,omitempty"`
}

// patchStreamState handles POST /threads/{id}/stream-state: the streaming
// state machine transition. A live thread rejects a second generation with
// 409 rather than silently replacing the stream.
func patchStreamState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	th, ok := authorizedThread(w, r)
	if !ok {
		return
	}

	var body streamStateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}

	updated, err := chat.UpdateStreamingState(th.ID, body.IsLive, body.StreamStartedTS, body.CurrentStreamID)
	if err != nil {
		if errors.Is(err, chat.ErrThreadLive) {
			http.Error(w, `{"error":"thread already has a live stream"}`, http.StatusConflict)
			return
		}
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(updated)
}

// renameThread handles PATCH /threads/{id}/title: the title-generation
// collaborator's entry point. Only the title (and its slug) changes.
func renameThread(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	th, ok := authorizedThread(w, r)
	if !ok {
		return
	}

	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Title == "" {
		http.Error(w, `{"error":"title required"}`, http.StatusBadRequest)
		return
	}

	updated, err := chat.RenameThread(th.ID, body.Title)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(updated)
}
