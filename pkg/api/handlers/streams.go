package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"threadloom/pkg/chat"
	"threadloom/pkg/logger"
	"threadloom/pkg/models"
	"threadloom/pkg/stream"
	"threadloom/pkg/utils"
)

// RegisterStreams registers the live-stream attach and publish endpoints
// against the given registry.
func RegisterStreams(r *mux.Router, reg *stream.Registry) {
	r.HandleFunc("/streams/{id}", attachStream(reg)).Methods(http.MethodGet)
	r.HandleFunc("/streams/{id}/chunks", publishChunk(reg)).Methods(http.MethodPost)
}

// attachStream handles GET /streams/{id}: an SSE-style loop that flushes
// each chunk as it arrives. Re-attaching to a thread's current stream id
// after a reload is how a client resumes an in-flight generation.
func attachStream(reg *stream.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		streamID := mux.Vars(r)["id"]

		flusher, ok := w.(http.Flusher)
		if !ok {
			utils.JSONError(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}

		ch, err := reg.Attach(r.Context(), streamID)
		if err != nil {
			utils.JSONError(w, http.StatusInternalServerError, err.Error())
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		enc := json.NewEncoder(w)
		for c := range ch {
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if err := enc.Encode(c); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

type chunkBody struct {
	Type      stream.ChunkType `json:"type"`
	Delta     string           `json:"delta,omitempty"`
	Error     string           `json:"error,omitempty"`
	ThreadID  string           `json:"thread_id,omitempty"`
	MessageID string           `json:"message_id,omitempty"`
}

// publishChunk handles POST /streams/{id}/chunks: the generation
// collaborator pushes a chunk to all attached subscribers. When the chunk
// names its thread and assistant message, a delta is also folded into the
// persisted placeholder, and a terminal chunk flips the thread back to
// idle.
func publishChunk(reg *stream.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		streamID := mux.Vars(r)["id"]

		var body chunkBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			utils.JSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if body.Type != stream.ChunkDelta && body.Type != stream.ChunkDone && body.Type != stream.ChunkError {
			utils.JSONError(w, http.StatusBadRequest, "unknown chunk type")
			return
		}

		c := stream.Chunk{
			StreamID: streamID,
			Type:     body.Type,
			Delta:    body.Delta,
			Error:    body.Error,
		}
		if err := reg.Publish(c); err != nil {
			utils.JSONError(w, http.StatusInternalServerError, err.Error())
			return
		}

		if body.ThreadID != "" && body.MessageID != "" && body.Type == stream.ChunkDelta && body.Delta != "" {
			err := chat.AppendAssistantParts(body.ThreadID, body.MessageID, []models.Part{
				{Type: models.PartText, Text: body.Delta},
			})
			if err != nil {
				logger.Warn("persist_delta_failed", "thread", body.ThreadID,
					"message", body.MessageID, "error", err)
			}
		}
		if body.ThreadID != "" && (body.Type == stream.ChunkDone || body.Type == stream.ChunkError) {
			if _, err := chat.UpdateStreamingState(body.ThreadID, false, 0, ""); err != nil {
				logger.Warn("stream_finish_state_failed", "thread", body.ThreadID, "error", err)
			}
		}

		_ = utils.JSONWrite(w, http.StatusAccepted, map[string]string{"status": "published"})
	}
}
