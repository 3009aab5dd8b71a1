package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"threadloom/pkg/auth"
	"threadloom/pkg/chat"
)

// RegisterReconcile registers the per-turn mutation entry point.
func RegisterReconcile(r *mux.Router) {
	r.HandleFunc("/reconcile", reconcile).Methods(http.MethodPost)
}

type reconcileBody struct {
	ThreadID            string                `json:"thread_id,omitempty"`
	Author              string                `json:"author,omitempty"`
	UserMessage         *chat.IncomingMessage `json:"user_message,omitempty"`
	ProposedAssistantID string                `json:"proposed_assistant_id,omitempty"`
	EditMode            bool                  `json:"edit_mode,omitempty"`
	EditFromMessageID   string                `json:"edit_from_message_id,omitempty"`
}

// reconcile handles POST /reconcile: one call per user turn. The author
// comes from the verified signature; backend callers may instead name the
// author in the body.
func reconcile(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var body reconcileBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}

	author := auth.AuthorIDFromContext(r.Context())
	if author == "" {
		role := r.Header.Get("X-Role-Name")
		if role == "backend" || role == "admin" {
			author = body.Author
		}
	}
	if author == "" {
		http.Error(w, `{"error":"author signature required"}`, http.StatusUnauthorized)
		return
	}

	res, err := chat.Reconcile(chat.ReconcileRequest{
		ThreadID:            body.ThreadID,
		AuthorID:            author,
		UserMessage:         body.UserMessage,
		ProposedAssistantID: body.ProposedAssistantID,
		EditMode:            body.EditMode,
		EditFromMessageID:   body.EditFromMessageID,
	})
	if err != nil {
		if errors.Is(err, chat.ErrBadRequest) {
			http.Error(w, `{"error":"user message required"}`, http.StatusBadRequest)
			return
		}
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if res == nil {
		// Thread gone; caller must abandon the turn, not retry.
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "no_effect"})
		return
	}
	_ = json.NewEncoder(w).Encode(res)
}
